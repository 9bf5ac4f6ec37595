// Package predecessor finds the key immediately before a target in a
// dictionary that can only be read forward.
//
// The resolver bisects the key space: it guesses a key below the target,
// reads a short forward batch from that guess and narrows an upper probe
// and a lower bound until a batch straddles the target. Two retry counters
// bound the number of fruitless probes; exhausting them yields the best
// lower bound seen, flagged as degraded.
package predecessor

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/telemetry"
)

const (
	// DefaultBatchSize is the number of keys read per probe
	DefaultBatchSize = 10
	// DefaultMaxRetries bounds each of the two retry counters
	DefaultMaxRetries = 210
)

// Status describes how a resolution ended
type Status int

const (
	// StatusFound means a batch straddled the target
	StatusFound Status = iota
	// StatusBisectionExhausted means no key fits between the bounds, so the
	// lower bound, if any, is the exact answer
	StatusBisectionExhausted
	// StatusBudgetExceeded means a retry counter ran out; the result is the
	// best lower bound seen and may not be the true predecessor
	StatusBudgetExceeded
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusBisectionExhausted:
		return "exhausted"
	case StatusBudgetExceeded:
		return "budget_exceeded"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome of a resolution
type Result struct {
	// Key is the predecessor when OK is set
	Key string
	OK  bool
	// Status tells whether Key is exact or degraded
	Status Status
	// Probes counts batches read
	Probes int
}

// Degraded reports whether the result came from an exhausted retry budget
func (r Result) Degraded() bool {
	return r.Status == StatusBudgetExceeded
}

// BatchSource reads up to limit keys >= from in ascending order
type BatchSource interface {
	NextKeys(ctx context.Context, from string, limit int) ([]string, error)
}

// BatchFunc adapts a function to BatchSource
type BatchFunc func(ctx context.Context, from string, limit int) ([]string, error)

// NextKeys calls f
func (f BatchFunc) NextKeys(ctx context.Context, from string, limit int) ([]string, error) {
	return f(ctx, from, limit)
}

// Option configures a Resolver
type Option func(*Resolver)

// WithBatchSize sets the number of keys read per probe
func WithBatchSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxRetries sets the budget of each retry counter
func WithMaxRetries(n int) Option {
	return func(r *Resolver) {
		if n >= 0 {
			r.maxRetries = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithTelemetry sets the telemetry sink
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(r *Resolver) {
		r.tel = tel
	}
}

// Resolver finds predecessors. It holds only configuration and is safe
// for concurrent use; each call keeps its own search state.
type Resolver struct {
	batchSize  int
	maxRetries int
	logger     log.Logger
	tel        telemetry.Telemetry
}

// NewResolver creates a resolver with the default batch size and budget
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.Component(r.logger, telemetry.ComponentResolver)
	r.tel = telemetry.OrNoop(r.tel)
	return r
}

// guessState is the search state of one resolution
type guessState struct {
	target   string
	upper    string
	lower    string
	hasLower bool

	emptyRetries    int
	firstPosRetries int
	probes          int
}

func (s *guessState) result(status Status) Result {
	return Result{Key: s.lower, OK: s.hasLower, Status: status, Probes: s.probes}
}

// between reports whether cand lies strictly inside the current bounds
func (s *guessState) between(cand string) bool {
	return cand < s.upper && (!s.hasLower || cand > s.lower)
}

// Previous returns the largest key of src that is < target. It never
// errors for a missing predecessor; OK is false instead. Errors come only
// from src or from ctx.
func (r *Resolver) Previous(ctx context.Context, src BatchSource, target string) (Result, error) {
	st := &guessState{target: target, upper: target}
	res, err := r.resolve(ctx, src, st)
	if err != nil {
		return Result{}, err
	}

	attrs := attribute.String(telemetry.AttrResolveStatus, res.Status.String())
	r.tel.RecordCounter(ctx, telemetry.MetricResolverProbes, int64(res.Probes), attrs)
	if res.Degraded() {
		r.tel.RecordCounter(ctx, telemetry.MetricResolverBudget, 1)
		r.logger.Warn("predecessor search for %q exceeded retry budget after %d probes", target, res.Probes)
	} else {
		r.logger.Debug("predecessor of %q resolved (%s) after %d probes", target, res.Status, res.Probes)
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, src BatchSource, st *guessState) (Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		cand, ok := GuessPrevious(st.upper, st.lower, st.hasLower)
		if !ok || !st.between(cand) {
			return st.result(StatusBisectionExhausted), nil
		}

		batch, err := src.NextKeys(ctx, cand, r.batchSize)
		if err != nil {
			return Result{}, err
		}
		st.probes++

		if len(batch) == 0 {
			st.emptyRetries++
			if st.emptyRetries > r.maxRetries {
				return st.result(StatusBudgetExceeded), nil
			}
			st.upper = cand
			continue
		}

		last := batch[len(batch)-1]
		if last < st.upper {
			st.lower, st.hasLower = last, true
			continue
		}

		// No key lies in [upper, target), so the first batch key >= upper
		// is also the first key >= target.
		idx := sort.SearchStrings(batch, st.target)
		if idx == 0 {
			st.firstPosRetries++
			if st.firstPosRetries > r.maxRetries {
				return st.result(StatusBudgetExceeded), nil
			}
			st.upper = cand
			continue
		}

		return Result{Key: batch[idx-1], OK: true, Status: StatusFound, Probes: st.probes}, nil
	}
}
