// Package api serves range queries over HTTP. The /terms endpoint keeps
// the query parameters and JSON shape of the historical term servlet.
package api

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/query"
	"github.com/KevoDB/prevterm/pkg/registry"
	"github.com/KevoDB/prevterm/pkg/telemetry"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

// DegradedHeader is set on previous-term responses that may skip terms
const DegradedHeader = "X-Prevterm-Degraded"

// IndexLister lists the served indexes
type IndexLister interface {
	Indexes() []registry.IndexInfo
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(l log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRateLimit limits each client IP; zero disables
func WithRateLimit(perMinute, burst int) Option {
	return func(s *Server) {
		s.ratePerMinute = perMinute
		s.burst = burst
	}
}

// WithMetrics sets the Prometheus collectors
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the HTTP front end
type Server struct {
	service *query.Service
	indexes IndexLister
	router  *gin.Engine
	metrics *Metrics
	logger  log.Logger

	ratePerMinute int
	burst         int
}

var infoTemplate = template.Must(template.New("info").Funcs(template.FuncMap{"join": strings.Join}).Parse(`<html>
<head><title>PreviousTerm Info</title></head>
<body>
<h1>PreviousTerm Info</h1>
<p>Host:{{.Host}}</p>
<p>Port:{{.Port}}</p>
<p>Indexes:</p>
<table><tr><th>name</th><th>path</th><th>fields</th></tr>
{{range .Indexes}}<tr><td>{{.Name}}</td><td>{{.Path}}</td><td>{{join .Fields ", "}}</td></tr>
{{end}}</table>
</body></html>
`))

// NewServer builds the router
func NewServer(service *query.Service, indexes IndexLister, opts ...Option) *Server {
	s := &Server{service: service, indexes: indexes}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = log.Component(s.logger, telemetry.ComponentHTTP)
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(s.metrics.Middleware())
	r.Use(AccessLog(s.logger))
	r.SetHTMLTemplate(infoTemplate)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	limited := r.Group("")
	limited.Use(RateLimit(s.ratePerMinute, s.burst))
	for _, path := range []string{"/terms", "/PreviousTermServlet"} {
		limited.GET(path, s.handleTerms)
		limited.POST(path, s.handleTerms)
	}
	limited.GET("/info", s.handleInfo)

	s.router = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// param reads a query parameter, falling back to the form body
func param(c *gin.Context, name string) (string, bool) {
	if v, ok := c.GetQuery(name); ok {
		return v, true
	}
	return c.GetPostForm(name)
}

// flag treats a present parameter as true unless it says otherwise
func flag(c *gin.Context, name string) bool {
	v, ok := param(c, name)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "false", "0", "no", "off":
		return false
	}
	return true
}

func (s *Server) handleTerms(c *gin.Context) {
	if _, ok := param(c, "info"); ok {
		s.renderInfoPage(c)
		return
	}
	verbose := flag(c, "verbose")

	req, err := parseRequest(c)
	if err != nil {
		s.fail(c, err, verbose)
		return
	}

	resp, err := s.service.Query(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, verbose)
		return
	}
	if resp.Degraded {
		c.Header(DegradedHeader, "true")
		s.metrics.degraded.Inc()
	}
	c.JSON(http.StatusOK, resp)
}

func parseRequest(c *gin.Context) (query.Request, error) {
	index, _ := param(c, "index")
	from, _ := param(c, "init")
	fields, _ := param(c, "fields")
	direction, _ := param(c, "direction")

	req := query.Request{
		Index:       strings.TrimSpace(index),
		Init:        from,
		Fields:      query.ParseFields(fields),
		Direction:   query.Direction(direction),
		ExcludeInit: flag(c, "excludeInit"),
		Clean:       flag(c, "cleanTokens"),
	}
	if v, ok := param(c, "maxTerms"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return req, errors.Join(termdict.ErrInvalidArgument, err)
		}
		req.MaxTerms = query.Terms(n)
	}
	return req, nil
}

// fail answers with an empty object, or the message when verbose
func (s *Server) fail(c *gin.Context, err error, verbose bool) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithField("request_id", GetRequestID(c)).Error("%s failed: %v", c.Request.URL.Path, err)
	}
	if verbose {
		c.JSON(status, gin.H{"Exception": err.Error()})
		return
	}
	c.JSON(status, gin.H{})
}

// StatusFor maps a query error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, termdict.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, termdict.ErrInvalidArgument), errors.Is(err, termdict.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// client went away
		return 499
	default:
		return http.StatusInternalServerError
	}
}

type infoPage struct {
	Host    string
	Port    string
	Indexes []registry.IndexInfo
}

func (s *Server) renderInfoPage(c *gin.Context) {
	host, port, err := net.SplitHostPort(c.Request.Host)
	if err != nil {
		host, port = c.Request.Host, "80"
	}
	c.HTML(http.StatusOK, "info", infoPage{Host: host, Port: port, Indexes: s.indexes.Indexes()})
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"indexes": s.indexes.Indexes(),
		"stats":   s.service.Stats().GetStats(),
	})
}
