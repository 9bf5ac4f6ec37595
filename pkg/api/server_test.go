package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/predecessor"
	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/registry"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *registry.Registry) {
	t.Helper()
	return newTestServerWith(t, nil, opts...)
}

func newTestServerWith(t *testing.T, qopts []query.Option, opts ...Option) (*Server, *registry.Registry) {
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
	qopts = append([]query.Option{query.WithLogger(quiet)}, qopts...)
	svc := query.NewService(reg, qopts...)

	opts = append([]Option{WithLogger(quiet)}, opts...)
	return NewServer(svc, reg, opts...), reg
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestTermsResponseShape(t *testing.T) {
	s, _ := newTestServer(t)

	w := get(t, s, "/terms?index=zoo&init=cat&fields=ti&maxTerms=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	want := `{"index":"zoo","init":"cat","direction":"previous","maxTerms":2,"fields":["ti"],"terms":["cat","bee"]}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("body =\n%s\nwant\n%s", got, want)
	}
	if w.Header().Get(DegradedHeader) != "" {
		t.Errorf("unexpected degraded header")
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Errorf("missing request ID header")
	}
}

func TestTermsQueries(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name   string
		target string
		want   []string
	}{
		{"previous exclude init", "/terms?index=zoo&init=cat&fields=ti&maxTerms=2&excludeInit", []string{"bee", "ant"}},
		{"previous past end", "/terms?index=zoo&init=zebra&fields=ti&maxTerms=2", []string{"dog", "cat"}},
		{"previous before start", "/terms?index=zoo&init=aa&fields=ti", []string{}},
		{"next", "/terms?index=zoo&init=b&fields=ti&direction=next&maxTerms=2", []string{"bee", "cat"}},
		{"next several fields", "/terms?index=zoo&init=a&fields=ti-au&direction=next&maxTerms=3", []string{"aesop", "ant", "bee"}},
		{"servlet alias", "/PreviousTermServlet?index=zoo&init=dog&fields=ti&maxTerms=1&excludeInit=true", []string{"cat"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, s, tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var resp query.Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(resp.Terms) != len(tt.want) {
				t.Fatalf("terms = %v, want %v", resp.Terms, tt.want)
			}
			for i := range tt.want {
				if resp.Terms[i] != tt.want[i] {
					t.Errorf("terms = %v, want %v", resp.Terms, tt.want)
					break
				}
			}
		})
	}
}

func TestTermsPostForm(t *testing.T) {
	s, _ := newTestServer(t)

	form := url.Values{"index": {"zoo"}, "init": {"bee"}, "fields": {"ti"}, "direction": {"next"}, "maxTerms": {"5"}}
	req := httptest.NewRequest(http.MethodPost, "/terms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp query.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(resp.Terms, ",") != "bee,cat,dog" {
		t.Errorf("terms = %v", resp.Terms)
	}
}

func TestTermsErrors(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		name      string
		target    string
		status    int
		exception string
	}{
		{"unknown index", "/terms?index=nope&init=a&fields=ti", http.StatusNotFound, ""},
		{"unknown field", "/terms?index=zoo&init=a&fields=xx", http.StatusBadRequest, ""},
		{"missing init", "/terms?index=zoo&fields=ti", http.StatusBadRequest, ""},
		{"bad maxTerms", "/terms?index=zoo&init=a&fields=ti&maxTerms=ten", http.StatusBadRequest, ""},
		{"zero maxTerms", "/terms?index=zoo&init=a&fields=ti&maxTerms=0", http.StatusBadRequest, ""},
		{"bad direction", "/terms?index=zoo&init=a&fields=ti&direction=up", http.StatusBadRequest, ""},
		{"verbose", "/terms?index=nope&init=a&fields=ti&verbose", http.StatusNotFound, "index not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, s, tt.target)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if tt.exception == "" {
				if len(body) != 0 {
					t.Errorf("expected empty object, got %v", body)
				}
				return
			}
			if !strings.Contains(body["Exception"], tt.exception) {
				t.Errorf("Exception = %q, want it to contain %q", body["Exception"], tt.exception)
			}
		})
	}
}

func TestTermsDegradedHeader(t *testing.T) {
	resolver := predecessor.NewResolver(predecessor.WithMaxRetries(0), predecessor.WithBatchSize(1))
	s, _ := newTestServerWith(t, []query.Option{query.WithResolver(resolver)})

	w := get(t, s, "/terms?index=zoo&init=zebra&fields=ti&maxTerms=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Header().Get(DegradedHeader) != "true" {
		t.Fatalf("expected degraded header, body %s", w.Body.String())
	}

	m := get(t, s, "/metrics")
	if !strings.Contains(m.Body.String(), "prevterm_degraded_responses_total 1") {
		t.Errorf("degraded counter not exported:\n%s", m.Body.String())
	}
}

func TestInfoPage(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/terms?info", nil)
	req.Host = "terms.example.org:8080"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"Host:terms.example.org", "Port:8080", "<td>zoo</td>", "au, ti"} {
		if !strings.Contains(body, want) {
			t.Errorf("info page missing %q:\n%s", want, body)
		}
	}
}

func TestInfoJSON(t *testing.T) {
	s, _ := newTestServer(t)
	get(t, s, "/terms?index=zoo&init=cat&fields=ti")

	w := get(t, s, "/info")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Indexes []registry.IndexInfo   `json:"indexes"`
		Stats   map[string]interface{} `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Indexes) != 1 || body.Indexes[0].Name != "zoo" {
		t.Errorf("indexes = %+v", body.Indexes)
	}
	if body.Stats["previous_ops"] != float64(1) {
		t.Errorf("previous_ops = %v", body.Stats["previous_ops"])
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := get(t, s, "/health")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("health = %d %s", w.Code, w.Body.String())
	}
}

func TestRequestIDPropagation(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("request ID = %q, want abc-123", got)
	}

	w = get(t, s, "/health")
	if got := w.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("generated request ID %q is not a UUID", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _ := newTestServer(t, WithRateLimit(60, 2))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, get(t, s, "/terms?index=zoo&init=cat&fields=ti").Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
	// health is not limited
	if w := get(t, s, "/health"); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestRateLimiterRefillAndSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60, 1, time.Minute)
	rl.now = func() time.Time { return now }

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request denied")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("second request within burst allowed")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("other client denied")
	}

	now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("request after refill denied")
	}

	now = now.Add(2 * time.Minute)
	rl.Allow("10.0.0.3")
	if rl.Len() != 1 {
		t.Errorf("tracked clients = %d, want 1 after sweep", rl.Len())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	get(t, s, "/health")

	w := get(t, s, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`prevterm_http_requests_total{code="200",method="GET",route="/health"} 1`,
		"prevterm_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{termdict.ErrIndexNotFound, http.StatusNotFound},
		{termdict.ErrInvalidField, http.StatusBadRequest},
		{termdict.ErrInvalidArgument, http.StatusBadRequest},
		{termdict.NewStorageError("seek", "zoo", "ti", bytes.ErrTooLarge), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
