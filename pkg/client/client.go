// Package client is a Go client for the prevterm gRPC term service.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/KevoDB/prevterm/pkg/grpc/service"
	"github.com/KevoDB/prevterm/pkg/grpc/transport"
	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/registry"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

// ClientOptions configures a Client
type ClientOptions struct {
	// Connection options
	Endpoint       string        // Server address
	RequestTimeout time.Duration // Default timeout for requests without a deadline

	// Security options
	TLSEnabled bool
	CertFile   string
	KeyFile    string
	CAFile     string
	SkipVerify bool

	// Retry options, applied to calls failing with Unavailable
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	RetryJitter    float64

	MaxMessageSize int

	// Dialer replaces the network dialer, mostly for in-process servers
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// DefaultClientOptions returns sensible default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Endpoint:       "localhost:50051",
		RequestTimeout: 10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BackoffFactor:  1.5,
		RetryJitter:    0.2,
		MaxMessageSize: 16 * 1024 * 1024,
	}
}

// Client queries a prevterm server
type Client struct {
	options ClientOptions
	conn    *grpc.ClientConn
	stub    service.TermServiceClient
}

// NewClient creates a client. The connection is established lazily on
// the first call.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	creds := insecure.NewCredentials()
	if options.TLSEnabled {
		tlsConfig, err := transport.LoadClientTLSConfig(transport.TLSConfig{
			CertFile:   options.CertFile,
			KeyFile:    options.KeyFile,
			CAFile:     options.CAFile,
			SkipVerify: options.SkipVerify,
		})
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if options.MaxMessageSize > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(options.MaxMessageSize)))
	}
	if options.Dialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(options.Dialer))
	}

	conn, err := grpc.NewClient(options.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", options.Endpoint, err)
	}

	return &Client{
		options: options,
		conn:    conn,
		stub:    service.NewTermServiceClient(conn),
	}, nil
}

// Close closes the connection to the server
func (c *Client) Close() error {
	return c.conn.Close()
}

// Query runs a raw request
func (c *Client) Query(ctx context.Context, req query.Request) (*service.QueryReply, error) {
	var reply *service.QueryReply
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		reply, err = c.stub.Query(ctx, &req)
		return err
	})
	return reply, err
}

// Next returns up to n keys at or after from across fields
func (c *Client) Next(ctx context.Context, index, from string, fields []string, n int) ([]string, error) {
	reply, err := c.Query(ctx, query.Request{
		Index:     index,
		Init:      from,
		Fields:    fields,
		Direction: query.Next,
		MaxTerms:  query.Terms(n),
	})
	if err != nil {
		return nil, err
	}
	return reply.Terms, nil
}

// Previous returns up to n keys at or before from, nearest first. The
// flag reports a result that may skip keys.
func (c *Client) Previous(ctx context.Context, index, from string, fields []string, n int) ([]string, bool, error) {
	reply, err := c.Query(ctx, query.Request{
		Index:     index,
		Init:      from,
		Fields:    fields,
		Direction: query.Previous,
		MaxTerms:  query.Terms(n),
	})
	if err != nil {
		return nil, false, err
	}
	return reply.Terms, reply.Degraded, nil
}

// ListIndexes returns the indexes the server has registered
func (c *Client) ListIndexes(ctx context.Context) ([]registry.IndexInfo, error) {
	var reply *service.ListIndexesReply
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		reply, err = c.stub.ListIndexes(ctx, &service.ListIndexesRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return reply.Indexes, nil
}

// call applies the default timeout and retries Unavailable failures with
// jittered exponential backoff
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Deadline(); !ok && c.options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
		defer cancel()
	}

	backoff := c.options.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if status.Code(err) != codes.Unavailable || attempt >= c.options.MaxRetries {
			return fromStatus(err)
		}

		wait := backoff
		if c.options.RetryJitter > 0 {
			wait += time.Duration(rand.Float64() * c.options.RetryJitter * float64(backoff))
		}
		select {
		case <-ctx.Done():
			return fromStatus(err)
		case <-time.After(wait):
		}
		backoff = time.Duration(float64(backoff) * c.options.BackoffFactor)
		if c.options.MaxBackoff > 0 && backoff > c.options.MaxBackoff {
			backoff = c.options.MaxBackoff
		}
	}
}

// fromStatus wraps a status error so errors.Is matches the termdict
// sentinels and context errors
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = termdict.ErrIndexNotFound
	case codes.InvalidArgument:
		sentinel = termdict.ErrInvalidArgument
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.Internal:
		sentinel = termdict.ErrStorage
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
