// Package registry maps index names to opened term dictionaries and the
// fields each index exposes.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/config"
	"github.com/KevoDB/prevterm/pkg/sstable"
	"github.com/KevoDB/prevterm/pkg/stats"
	"github.com/KevoDB/prevterm/pkg/telemetry"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

// DefaultOpenWorkers bounds concurrent dictionary opens in OpenAll
const DefaultOpenWorkers = 4

var ErrDuplicateIndex = errors.New("index already registered")

// IndexSpec declares an index to open
type IndexSpec struct {
	Name string
	Path string
	// Kind selects the opener; empty means sstable
	Kind string
	// Fields restricts the queryable fields; empty means all
	Fields []string
	// Lazy defers opening to the first lookup
	Lazy bool
}

// SpecFromConfig converts a configured index
func SpecFromConfig(ic config.IndexConfig) IndexSpec {
	return IndexSpec{
		Name:   ic.Name,
		Path:   ic.Path,
		Kind:   ic.Kind,
		Fields: append([]string(nil), ic.Fields...),
		Lazy:   ic.Lazy,
	}
}

// IndexInfo describes a registered index
type IndexInfo struct {
	Name   string   `json:"name"`
	Path   string   `json:"path,omitempty"`
	Kind   string   `json:"kind"`
	Fields []string `json:"fields"`
	Open   bool     `json:"open"`
}

// OpenFunc opens the dictionary described by spec
type OpenFunc func(ctx context.Context, spec IndexSpec, cache *sstable.BlockCache) (termdict.Dictionary, error)

func openSSTable(_ context.Context, spec IndexSpec, cache *sstable.BlockCache) (termdict.Dictionary, error) {
	return termdict.OpenFile(spec.Name, spec.Path, sstable.WithBlockCache(cache))
}

func openSQLite(ctx context.Context, spec IndexSpec, _ *sstable.BlockCache) (termdict.Dictionary, error) {
	return termdict.OpenSQLite(ctx, spec.Name, spec.Path)
}

// entry is one index; dict is set once opening succeeds
type entry struct {
	spec IndexSpec

	mu   sync.Mutex
	dict termdict.Dictionary
}

func (e *entry) opened() termdict.Dictionary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dict
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(l log.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithTelemetry sets the telemetry sink
func WithTelemetry(tel telemetry.Telemetry) Option {
	return func(r *Registry) { r.tel = tel }
}

// WithStats sets the statistics collector
func WithStats(c stats.Collector) Option {
	return func(r *Registry) { r.stats = c }
}

// WithBlockCache shares cache between every term file the registry opens.
// The registry does not close it.
func WithBlockCache(cache *sstable.BlockCache) Option {
	return func(r *Registry) { r.cache = cache }
}

// WithOpenWorkers bounds how many dictionaries OpenAll opens at once
func WithOpenWorkers(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithOpener registers an opener for an index kind
func WithOpener(kind string, fn OpenFunc) Option {
	return func(r *Registry) { r.openers[kind] = fn }
}

// Registry is safe for concurrent use
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	openers map[string]OpenFunc
	cache   *sstable.BlockCache
	workers int

	logger log.Logger
	tel    telemetry.Telemetry
	stats  stats.Collector
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		openers: map[string]OpenFunc{
			config.KindSSTable: openSSTable,
			config.KindSQLite:  openSQLite,
		},
		workers: DefaultOpenWorkers,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.Component(r.logger, telemetry.ComponentRegistry)
	r.tel = telemetry.OrNoop(r.tel)
	return r
}

// Configure declares indexes without opening them
func (r *Registry) Configure(specs ...IndexSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return termdict.ErrClosed
	}
	for _, spec := range specs {
		if spec.Name == "" {
			return fmt.Errorf("%w: index without a name", termdict.ErrInvalidArgument)
		}
		if spec.Kind == "" {
			spec.Kind = config.KindSSTable
		}
		if _, ok := r.openers[spec.Kind]; !ok {
			return fmt.Errorf("%w: index %q has unknown kind %q", termdict.ErrInvalidArgument, spec.Name, spec.Kind)
		}
		if _, ok := r.entries[spec.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateIndex, spec.Name)
		}
		r.entries[spec.Name] = &entry{spec: spec}
	}
	return nil
}

// Register adds an already opened dictionary. fields restricts the
// queryable fields; nil exposes all of them.
func (r *Registry) Register(d termdict.Dictionary, fields ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return termdict.ErrClosed
	}
	name := d.Name()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateIndex, name)
	}
	r.entries[name] = &entry{
		spec: IndexSpec{Name: name, Kind: "memory", Fields: fields},
		dict: d,
	}
	return nil
}

// OpenAll opens every index that is not lazy, several at a time. It
// returns the joined errors of the indexes that failed; the others stay
// open.
func (r *Registry) OpenAll(ctx context.Context) error {
	r.mu.RLock()
	var pending []*entry
	for _, e := range r.entries {
		if !e.spec.Lazy && e.opened() == nil {
			pending = append(pending, e)
		}
	}
	r.mu.RUnlock()

	if len(pending) == 0 {
		return nil
	}

	var (
		wg     sync.WaitGroup
		errsMu sync.Mutex
		errs   []error
	)
	record := func(err error) {
		errsMu.Lock()
		errs = append(errs, err)
		errsMu.Unlock()
	}

	// a panicking task never reaches its wg.Done; the handler settles it
	pool, err := ants.NewPool(r.workers, ants.WithPanicHandler(func(v any) {
		r.logger.Error("panic while opening index: %v", v)
		record(fmt.Errorf("panic while opening index: %v", v))
		wg.Done()
	}))
	if err != nil {
		return fmt.Errorf("failed to create open pool: %w", err)
	}
	defer pool.Release()

	for _, e := range pending {
		wg.Add(1)
		if err := pool.Submit(func() {
			if _, err := r.open(ctx, e); err != nil {
				record(err)
			}
			wg.Done()
		}); err != nil {
			wg.Done()
			record(fmt.Errorf("failed to schedule %s: %w", e.spec.Name, err))
		}
	}
	wg.Wait()

	return errors.Join(errs...)
}

// open opens e once; concurrent callers wait for the first
func (r *Registry) open(ctx context.Context, e *entry) (termdict.Dictionary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dict != nil {
		return e.dict, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	d, err := r.openers[e.spec.Kind](ctx, e.spec, r.cache)
	attrs := []attribute.KeyValue{
		attribute.String(telemetry.AttrIndex, e.spec.Name),
		attribute.String(telemetry.AttrOperationType, telemetry.OpTypeOpen),
	}
	telemetry.RecordDuration(ctx, r.tel, telemetry.MetricRegistryOpenTime, start, attrs...)
	if err != nil {
		r.tel.RecordCounter(ctx, telemetry.MetricRegistryOpenErrors, 1, attrs...)
		if r.stats != nil {
			r.stats.TrackError("open")
		}
		r.logger.Error("failed to open index %s at %s: %v", e.spec.Name, e.spec.Path, err)
		return nil, fmt.Errorf("open index %s: %w", e.spec.Name, err)
	}

	for _, f := range e.spec.Fields {
		if !d.HasField(f) {
			d.Close()
			return nil, fmt.Errorf("open index %s: %w", e.spec.Name, invalidField(e.spec.Name, f))
		}
	}

	e.dict = d
	if r.stats != nil {
		r.stats.TrackIndexOpen()
		r.stats.TrackOperationWithLatency(stats.OpOpen, uint64(time.Since(start).Nanoseconds()))
	}
	r.logger.Info("opened index %s (%s) with %d fields in %s", e.spec.Name, e.spec.Kind, len(d.Fields()), time.Since(start))
	return d, nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, termdict.ErrClosed
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", termdict.ErrIndexNotFound, name)
	}
	return e, nil
}

// Dictionary returns the dictionary of an index, opening it if needed
func (r *Registry) Dictionary(ctx context.Context, name string) (termdict.Dictionary, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return r.open(ctx, e)
}

// Fields returns the queryable fields of an index, sorted
func (r *Registry) Fields(ctx context.Context, name string) ([]string, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	d, err := r.open(ctx, e)
	if err != nil {
		return nil, err
	}
	return queryable(e.spec, d), nil
}

// ResolveFields checks that every requested field is queryable on the
// index and returns its dictionary
func (r *Registry) ResolveFields(ctx context.Context, name string, fields []string) (termdict.Dictionary, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	d, err := r.open(ctx, e)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if !allowed(e.spec, d, f) {
			return nil, invalidField(name, f)
		}
	}
	return d, nil
}

// Indexes lists every registered index sorted by name
func (r *Registry) Indexes() []IndexInfo {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	infos := make([]IndexInfo, 0, len(entries))
	for _, e := range entries {
		info := IndexInfo{Name: e.spec.Name, Path: e.spec.Path, Kind: e.spec.Kind}
		if d := e.opened(); d != nil {
			info.Open = true
			info.Fields = queryable(e.spec, d)
		} else {
			info.Fields = append([]string(nil), e.spec.Fields...)
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close closes every opened dictionary
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for name, e := range r.entries {
		e.mu.Lock()
		if e.dict != nil {
			if err := e.dict.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close index %s: %w", name, err))
			}
			e.dict = nil
		}
		e.mu.Unlock()
	}
	return errors.Join(errs...)
}

func queryable(spec IndexSpec, d termdict.Dictionary) []string {
	if len(spec.Fields) == 0 {
		return d.Fields()
	}
	out := append([]string(nil), spec.Fields...)
	sort.Strings(out)
	return out
}

func allowed(spec IndexSpec, d termdict.Dictionary, field string) bool {
	if !d.HasField(field) {
		return false
	}
	if len(spec.Fields) == 0 {
		return true
	}
	for _, f := range spec.Fields {
		if f == field {
			return true
		}
	}
	return false
}

func invalidField(index, field string) error {
	return fmt.Errorf("%w: %q is not a field of %s", termdict.ErrInvalidField, field, index)
}
