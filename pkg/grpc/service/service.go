// Package service exposes the query service over gRPC as
// prevterm.TermService.
package service

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/registry"
	"github.com/KevoDB/prevterm/pkg/telemetry"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

const (
	ServiceName       = "prevterm.TermService"
	QueryMethod       = "/" + ServiceName + "/Query"
	ListIndexesMethod = "/" + ServiceName + "/ListIndexes"
)

// QueryReply carries a query.Response plus the degraded flag the HTTP
// surface sends as a header
type QueryReply struct {
	Index     string          `json:"index"`
	Init      string          `json:"init"`
	Direction query.Direction `json:"direction"`
	MaxTerms  int             `json:"maxTerms"`
	Fields    []string        `json:"fields"`
	Terms     []string        `json:"terms"`
	Degraded  bool            `json:"degraded,omitempty"`
}

// ListIndexesRequest is empty
type ListIndexesRequest struct{}

// ListIndexesReply lists the served indexes
type ListIndexesReply struct {
	Indexes []registry.IndexInfo `json:"indexes"`
}

// TermServiceServer is the server API of prevterm.TermService
type TermServiceServer interface {
	Query(context.Context, *query.Request) (*QueryReply, error)
	ListIndexes(context.Context, *ListIndexesRequest) (*ListIndexesReply, error)
}

// IndexLister lists the served indexes
type IndexLister interface {
	Indexes() []registry.IndexInfo
}

// TermServer implements TermServiceServer on a query.Service
type TermServer struct {
	service *query.Service
	indexes IndexLister
	logger  log.Logger
}

// NewTermServer creates a TermServer. A nil logger uses the default one.
func NewTermServer(service *query.Service, indexes IndexLister, logger log.Logger) *TermServer {
	return &TermServer{
		service: service,
		indexes: indexes,
		logger:  log.Component(logger, telemetry.ComponentGRPC),
	}
}

// Query runs one range query
func (s *TermServer) Query(ctx context.Context, req *query.Request) (*QueryReply, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "empty request")
	}
	resp, err := s.service.Query(ctx, *req)
	if err != nil {
		st := ToStatus(err)
		if st.Code() == codes.Internal || st.Code() == codes.Unavailable {
			s.logger.Error("query on %s failed: %v", req.Index, err)
		}
		return nil, st.Err()
	}
	return &QueryReply{
		Index:     resp.Index,
		Init:      resp.Init,
		Direction: resp.Direction,
		MaxTerms:  resp.MaxTerms,
		Fields:    resp.Fields,
		Terms:     resp.Terms,
		Degraded:  resp.Degraded,
	}, nil
}

// ListIndexes returns every registered index
func (s *TermServer) ListIndexes(context.Context, *ListIndexesRequest) (*ListIndexesReply, error) {
	return &ListIndexesReply{Indexes: s.indexes.Indexes()}, nil
}

// ToStatus maps a query error to a gRPC status
func ToStatus(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	code := codes.Internal
	switch {
	case errors.Is(err, termdict.ErrIndexNotFound):
		code = codes.NotFound
	case errors.Is(err, termdict.ErrInvalidArgument), errors.Is(err, termdict.ErrInvalidField):
		code = codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, termdict.ErrClosed):
		code = codes.Unavailable
	}
	return status.New(code, err.Error())
}

func queryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(query.Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TermServiceServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: QueryMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TermServiceServer).Query(ctx, req.(*query.Request))
	}
	return interceptor(ctx, in, info, handler)
}

func listIndexesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListIndexesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TermServiceServer).ListIndexes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListIndexesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TermServiceServer).ListIndexes(ctx, req.(*ListIndexesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// TermServiceDesc describes prevterm.TermService
var TermServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TermServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: queryHandler},
		{MethodName: "ListIndexes", Handler: listIndexesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "prevterm/term_service",
}

// RegisterTermServiceServer registers srv on s
func RegisterTermServiceServer(s grpc.ServiceRegistrar, srv TermServiceServer) {
	s.RegisterService(&TermServiceDesc, srv)
}

// TermServiceClient is the client API of prevterm.TermService
type TermServiceClient interface {
	Query(ctx context.Context, in *query.Request, opts ...grpc.CallOption) (*QueryReply, error)
	ListIndexes(ctx context.Context, in *ListIndexesRequest, opts ...grpc.CallOption) (*ListIndexesReply, error)
}

type termServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewTermServiceClient returns a client that sends JSON-encoded messages
// over cc
func NewTermServiceClient(cc grpc.ClientConnInterface) TermServiceClient {
	return &termServiceClient{cc: cc}
}

func (c *termServiceClient) Query(ctx context.Context, in *query.Request, opts ...grpc.CallOption) (*QueryReply, error) {
	out := new(QueryReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, QueryMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *termServiceClient) ListIndexes(ctx context.Context, in *ListIndexesRequest, opts ...grpc.CallOption) (*ListIndexesReply, error) {
	out := new(ListIndexesReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, ListIndexesMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
