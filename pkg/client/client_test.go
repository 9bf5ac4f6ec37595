package client

import (
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/config"
	"github.com/KevoDB/prevterm/pkg/grpc/service"
	"github.com/KevoDB/prevterm/pkg/grpc/transport"
	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/registry"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

func startServer(t *testing.T) *Client {
	t.Helper()

	reg := registry.New()
	t.Cleanup(func() { reg.Close() })
	zoo := termdict.NewMemoryFrom("zoo", map[string][]string{
		"ti": {"ant", "bee", "cat", "dog"},
		"au": {"aesop", "zola"},
	})
	if err := reg.Register(zoo); err != nil {
		t.Fatalf("Register: %v", err)
	}

	quiet := log.NewStandardLogger(log.WithOutput(io.Discard))
	svc := query.NewService(reg, query.WithLogger(quiet))

	lis := bufconn.Listen(1 << 20)
	srv := transport.NewServer(config.NewDefaultConfig().GRPC, func(s grpc.ServiceRegistrar) {
		service.RegisterTermServiceServer(s, service.NewTermServer(svc, reg, quiet))
	}, transport.WithLogger(quiet))
	if err := srv.StartListener(lis); err != nil {
		t.Fatalf("StartListener: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	opts := DefaultClientOptions()
	opts.Endpoint = "passthrough:///bufnet"
	opts.Dialer = func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientPreviousAndNext(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	prev, degraded, err := c.Previous(ctx, "zoo", "cat", []string{"ti"}, 2)
	if err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if degraded {
		t.Errorf("unexpected degraded result")
	}
	if !reflect.DeepEqual(prev, []string{"cat", "bee"}) {
		t.Errorf("Previous = %v, want [cat bee]", prev)
	}

	next, err := c.Next(ctx, "zoo", "a", []string{"ti", "au"}, 3)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !reflect.DeepEqual(next, []string{"aesop", "ant", "bee"}) {
		t.Errorf("Next = %v, want [aesop ant bee]", next)
	}
}

func TestClientQueryEcho(t *testing.T) {
	c := startServer(t)

	reply, err := c.Query(context.Background(), query.Request{
		Index:       "zoo",
		Init:        "zebra",
		Fields:      []string{"ti"},
		ExcludeInit: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if reply.Direction != query.Previous || reply.MaxTerms != query.DefaultMaxTerms {
		t.Errorf("defaults not echoed: %+v", reply)
	}
	if !reflect.DeepEqual(reply.Terms, []string{"dog", "cat", "bee", "ant"}) {
		t.Errorf("Terms = %v", reply.Terms)
	}
}

func TestClientErrors(t *testing.T) {
	c := startServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  query.Request
		want error
	}{
		{"unknown index", query.Request{Index: "nope", Init: "a", Fields: []string{"ti"}}, termdict.ErrIndexNotFound},
		{"unknown field", query.Request{Index: "zoo", Init: "a", Fields: []string{"xx"}}, termdict.ErrInvalidArgument},
		{"bad maxTerms", query.Request{Index: "zoo", Init: "a", Fields: []string{"ti"}, MaxTerms: query.Terms(-1)}, termdict.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Query(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClientListIndexes(t *testing.T) {
	c := startServer(t)

	infos, err := c.ListIndexes(context.Background())
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	if len(infos) != 1 || infos[0].Name != "zoo" || !reflect.DeepEqual(infos[0].Fields, []string{"au", "ti"}) {
		t.Errorf("ListIndexes = %+v", infos)
	}
}

func TestClientRetriesUnavailable(t *testing.T) {
	opts := DefaultClientOptions()
	opts.Endpoint = "passthrough:///nowhere"
	opts.MaxRetries = 2
	opts.InitialBackoff = time.Millisecond
	opts.RetryJitter = 0
	var dials atomic.Int32
	opts.Dialer = func(context.Context, string) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	}
	c, err := NewClient(opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.ListIndexes(ctx); err == nil {
		t.Fatal("expected an error from an unreachable server")
	}
	if dials.Load() == 0 {
		t.Errorf("dialer never called")
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(ClientOptions{}); err == nil {
		t.Error("expected error for empty endpoint")
	}
}
