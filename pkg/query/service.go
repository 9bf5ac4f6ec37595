// Package query answers range queries over registered term dictionaries:
// the keys following a starting key, or the keys immediately before it.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/predecessor"
	"github.com/KevoDB/prevterm/pkg/stats"
	"github.com/KevoDB/prevterm/pkg/telemetry"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

const (
	DefaultMaxTerms      = 10
	DefaultMaxTermsLimit = 1000
	DefaultTimeout       = 10 * time.Second
)

// Registry resolves an index name and field set to a dictionary
type Registry interface {
	ResolveFields(ctx context.Context, index string, fields []string) (termdict.Dictionary, error)
}

// Option configures a Service
type Option func(*Service)

// WithMaxTerms sets the default result size and the largest accepted one
func WithMaxTerms(def, limit int) Option {
	return func(s *Service) {
		if def > 0 {
			s.maxTerms = def
		}
		if limit > 0 {
			s.maxTermsLimit = limit
		}
	}
}

// WithDefaultDirection sets the direction of requests that name none
func WithDefaultDirection(d Direction) Option {
	return func(s *Service) {
		if d == Previous || d == Next {
			s.direction = d
		}
	}
}

// WithResolver sets the predecessor resolver
func WithResolver(r *predecessor.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// WithTimeout bounds queries whose context has no deadline. Zero disables.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithLogger sets the logger
func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTelemetry sets the telemetry sink
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(s *Service) { s.tel = tel }
}

// WithStats sets the statistics collector
func WithStats(c stats.Collector) Option {
	return func(s *Service) { s.stats = c }
}

// Service is safe for concurrent use. Every call owns its cursors.
type Service struct {
	registry      Registry
	resolver      *predecessor.Resolver
	maxTerms      int
	maxTermsLimit int
	direction     Direction
	timeout       time.Duration

	logger log.Logger
	tel    telemetry.Telemetry
	stats  stats.Collector
}

// NewService creates a query service over registry
func NewService(registry Registry, opts ...Option) *Service {
	s := &Service{
		registry:      registry,
		maxTerms:      DefaultMaxTerms,
		maxTermsLimit: DefaultMaxTermsLimit,
		direction:     DefaultDirection,
		timeout:       DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxTermsLimit < s.maxTerms {
		s.maxTermsLimit = s.maxTerms
	}
	s.logger = log.Component(s.logger, telemetry.ComponentQuery)
	s.tel = telemetry.OrNoop(s.tel)
	if s.resolver == nil {
		s.resolver = predecessor.NewResolver(
			predecessor.WithLogger(s.logger.WithField("component", telemetry.ComponentResolver)),
			predecessor.WithTelemetry(s.tel),
		)
	}
	if s.stats == nil {
		s.stats = stats.NewAtomicCollector()
	}
	return s
}

// Stats returns the collector the service records into
func (s *Service) Stats() stats.Collector {
	return s.stats
}

// KeysOption adjusts a single NextKeys or PreviousKeys call
type KeysOption func(*keysOptions)

type keysOptions struct {
	excludeFrom bool
	clean       bool
}

// ExcludeFrom leaves the starting key out of PreviousKeys results
func ExcludeFrom() KeysOption {
	return func(o *keysOptions) { o.excludeFrom = true }
}

// CleanTokens hides keys rejected by termdict.CleanToken
func CleanTokens() KeysOption {
	return func(o *keysOptions) { o.clean = true }
}

func (o keysOptions) merge() []termdict.MergeOption {
	if o.clean {
		return []termdict.MergeOption{termdict.WithKeyFilter(termdict.CleanToken)}
	}
	return nil
}

func validate(index, from string, fields []string, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: maxTerms must be positive, got %d", termdict.ErrInvalidArgument, limit)
	}
	if index == "" {
		return fmt.Errorf("%w: missing index", termdict.ErrInvalidArgument)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: missing fields", termdict.ErrInvalidArgument)
	}
	if !utf8.ValidString(from) {
		return fmt.Errorf("%w: starting key is not valid UTF-8", termdict.ErrInvalidArgument)
	}
	return nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// NextKeys returns up to limit keys >= from across fields, ascending
func (s *Service) NextKeys(ctx context.Context, index, from string, fields []string, limit int, opts ...KeysOption) ([]string, error) {
	if err := validate(index, from, fields, limit); err != nil {
		return nil, err
	}
	var o keysOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tel.StartSpan(ctx, "query.next",
		attribute.String(telemetry.AttrIndex, index),
		attribute.Int(telemetry.AttrFieldCount, len(fields)))
	defer span.End()

	start := time.Now()
	keys, err := s.nextKeys(ctx, index, from, fields, limit, o)
	s.finish(ctx, stats.OpNext, telemetry.OpTypeNext, index, start, len(keys), false, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return keys, nil
}

func (s *Service) nextKeys(ctx context.Context, index, from string, fields []string, limit int, o keysOptions) ([]string, error) {
	d, err := s.registry.ResolveFields(ctx, index, fields)
	if err != nil {
		return nil, err
	}
	mc, err := termdict.NewMergeCursor(d, fields, from, o.merge()...)
	if err != nil {
		return nil, err
	}
	defer mc.Close()

	keys, err := mc.NextN(limit)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// PreviousKeys returns up to limit keys < from across fields, nearest
// first. When from itself is stored it comes first unless ExcludeFrom is
// given. degraded reports that some step ran out of resolver retries.
func (s *Service) PreviousKeys(ctx context.Context, index, from string, fields []string, limit int, opts ...KeysOption) (keys []string, degraded bool, err error) {
	if err := validate(index, from, fields, limit); err != nil {
		return nil, false, err
	}
	var o keysOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ctx, span := s.tel.StartSpan(ctx, "query.previous",
		attribute.String(telemetry.AttrIndex, index),
		attribute.Int(telemetry.AttrFieldCount, len(fields)))
	defer span.End()

	start := time.Now()
	keys, degraded, err = s.previousKeys(ctx, index, from, fields, limit, o)
	s.finish(ctx, stats.OpPrevious, telemetry.OpTypePrevious, index, start, len(keys), degraded, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool(telemetry.StatusDegraded, degraded))
	return keys, degraded, nil
}

func (s *Service) previousKeys(ctx context.Context, index, from string, fields []string, limit int, o keysOptions) ([]string, bool, error) {
	d, err := s.registry.ResolveFields(ctx, index, fields)
	if err != nil {
		return nil, false, err
	}
	mergeOpts := o.merge()

	src := predecessor.BatchFunc(func(ctx context.Context, start string, n int) ([]string, error) {
		mc, err := termdict.NewMergeCursor(d, fields, start, mergeOpts...)
		if err != nil {
			return nil, err
		}
		defer mc.Close()
		return mc.NextN(n)
	})

	keys := make([]string, 0, min(limit, 64))
	if !o.excludeFrom {
		first, err := src.NextKeys(ctx, from, 1)
		if err != nil {
			return nil, false, err
		}
		if len(first) == 1 && first[0] == from {
			keys = append(keys, from)
		}
	}

	degraded := false
	target := from
	for len(keys) < limit {
		res, err := s.resolver.Previous(ctx, src, target)
		if err != nil {
			return nil, false, err
		}
		s.stats.TrackProbes(uint64(res.Probes))
		if res.Degraded() {
			degraded = true
		}
		if !res.OK {
			break
		}
		keys = append(keys, res.Key)
		target = res.Key
	}

	if degraded {
		s.stats.TrackDegraded()
		s.logger.Warn("previous terms of %q in %s may be incomplete: resolver retry budget exceeded", from, index)
	}
	return keys, degraded, nil
}

// finish records the outcome of one call
func (s *Service) finish(ctx context.Context, op stats.OperationType, opType, index string, start time.Time, terms int, degraded bool, err error) {
	status := telemetry.StatusSuccess
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		status = telemetry.StatusTimeout
	case err != nil:
		status = telemetry.StatusError
	case degraded:
		status = telemetry.StatusDegraded
	}

	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrOperationType, opType),
		attribute.String(telemetry.AttrIndex, index),
		attribute.String(telemetry.AttrStatus, status),
	}
	telemetry.RecordDuration(ctx, s.tel, telemetry.MetricQueryDuration, start, attrs...)
	s.tel.RecordCounter(ctx, telemetry.MetricQueryTotal, 1, attrs...)

	s.stats.TrackOperationWithLatency(op, uint64(time.Since(start).Nanoseconds()))
	if err != nil {
		kind := ErrorKind(err)
		s.stats.TrackError(kind)
		if kind == "storage" || kind == "internal" {
			s.logger.Error("%s query on %s failed: %v", opType, index, err)
		} else {
			s.logger.Debug("%s query on %s rejected: %v", opType, index, err)
		}
		return
	}
	s.stats.TrackTerms(uint64(terms))
	s.tel.RecordHistogram(ctx, telemetry.MetricQueryTerms, float64(terms), attrs...)
}

// Query validates a request, applies defaults and runs it
func (s *Service) Query(ctx context.Context, req Request) (*Response, error) {
	maxTerms := s.maxTerms
	if req.MaxTerms != nil {
		maxTerms = *req.MaxTerms
	}
	if maxTerms <= 0 {
		return nil, fmt.Errorf("%w: maxTerms must be positive, got %d", termdict.ErrInvalidArgument, maxTerms)
	}
	if maxTerms > s.maxTermsLimit {
		return nil, fmt.Errorf("%w: maxTerms %d exceeds limit %d", termdict.ErrInvalidArgument, maxTerms, s.maxTermsLimit)
	}
	if req.Index == "" {
		return nil, fmt.Errorf("%w: missing index", termdict.ErrInvalidArgument)
	}
	if req.Init == "" {
		return nil, fmt.Errorf("%w: missing init", termdict.ErrInvalidArgument)
	}
	if len(req.Fields) == 0 {
		return nil, fmt.Errorf("%w: missing fields", termdict.ErrInvalidArgument)
	}

	direction := s.direction
	if req.Direction != "" {
		d, err := ParseDirection(string(req.Direction))
		if err != nil {
			return nil, err
		}
		direction = d
	}

	var opts []KeysOption
	if req.Clean {
		opts = append(opts, CleanTokens())
	}
	if req.ExcludeInit {
		opts = append(opts, ExcludeFrom())
	}

	resp := &Response{
		Index:     req.Index,
		Init:      req.Init,
		Direction: direction,
		MaxTerms:  maxTerms,
		Fields:    append([]string(nil), req.Fields...),
	}

	var err error
	switch direction {
	case Next:
		resp.Terms, err = s.NextKeys(ctx, req.Index, req.Init, req.Fields, maxTerms, opts...)
	default:
		resp.Terms, resp.Degraded, err = s.PreviousKeys(ctx, req.Index, req.Init, req.Fields, maxTerms, opts...)
	}
	if err != nil {
		return nil, err
	}
	if resp.Terms == nil {
		resp.Terms = []string{}
	}
	return resp, nil
}

// ErrorKind names the class of a query error for statistics and logs
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, termdict.ErrIndexNotFound):
		return "index_not_found"
	case errors.Is(err, termdict.ErrInvalidField):
		return "invalid_field"
	case errors.Is(err, termdict.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, termdict.ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}
