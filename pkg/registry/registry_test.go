package registry

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/KevoDB/prevterm/pkg/config"
	"github.com/KevoDB/prevterm/pkg/sstable"
	"github.com/KevoDB/prevterm/pkg/stats"
	"github.com/KevoDB/prevterm/pkg/termdict"
)

func writeTermFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".terms")
	w, err := sstable.NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, e := range []struct{ field, term string }{
		{"ab", "bee"}, {"ab", "cat"},
		{"ti", "ant"}, {"ti", "cat"},
	} {
		if err := w.Add(e.field, e.term, 1); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return path
}

func writeSQLite(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(termdict.SQLiteSchema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO terms (field, term, freq) VALUES ('mh', 'aorta', 3), ('mh', 'brain', 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return path
}

func TestOpenAll(t *testing.T) {
	dir := t.TempDir()
	cache, err := sstable.NewBlockCache(1 << 20)
	if err != nil {
		t.Fatalf("NewBlockCache: %v", err)
	}
	defer cache.Close()

	collector := stats.NewAtomicCollector()
	r := New(WithBlockCache(cache), WithStats(collector), WithOpenWorkers(2))
	defer r.Close()

	err = r.Configure(
		IndexSpec{Name: "lilacs", Path: writeTermFile(t, dir, "lilacs")},
		IndexSpec{Name: "decs", Path: writeSQLite(t, dir, "decs"), Kind: config.KindSQLite},
		IndexSpec{Name: "later", Path: writeTermFile(t, dir, "later"), Lazy: true},
	)
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := r.OpenAll(context.Background()); err != nil {
		t.Fatalf("OpenAll: %v", err)
	}

	infos := r.Indexes()
	if len(infos) != 3 {
		t.Fatalf("expected 3 indexes, got %d", len(infos))
	}
	open := map[string]bool{}
	for _, info := range infos {
		open[info.Name] = info.Open
	}
	if !open["lilacs"] || !open["decs"] || open["later"] {
		t.Errorf("unexpected open state: %v", open)
	}
	if got := collector.GetStats()["indexes_opened"].(uint64); got != 2 {
		t.Errorf("indexes_opened = %d, want 2", got)
	}

	fields, err := r.Fields(context.Background(), "decs")
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if len(fields) != 1 || fields[0] != "mh" {
		t.Errorf("decs fields = %v", fields)
	}

	// lazy index opens on first lookup
	if _, err := r.Dictionary(context.Background(), "later"); err != nil {
		t.Fatalf("Dictionary(later): %v", err)
	}
	for _, info := range r.Indexes() {
		if info.Name == "later" && !info.Open {
			t.Errorf("lazy index still closed after lookup")
		}
	}
}

func TestOpenAllReportsFailures(t *testing.T) {
	dir := t.TempDir()
	r := New()
	defer r.Close()

	if err := r.Configure(
		IndexSpec{Name: "good", Path: writeTermFile(t, dir, "good")},
		IndexSpec{Name: "missing", Path: filepath.Join(dir, "missing.terms")},
	); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	err := r.OpenAll(context.Background())
	if err == nil {
		t.Fatal("expected an error for the missing index")
	}
	if !errors.Is(err, termdict.ErrStorage) {
		t.Errorf("expected storage error, got %v", err)
	}
	if _, err := r.Dictionary(context.Background(), "good"); err != nil {
		t.Errorf("good index unusable: %v", err)
	}
}

func TestOpenAllRecoversPanics(t *testing.T) {
	r := New(WithOpener("boom", func(context.Context, IndexSpec, *sstable.BlockCache) (termdict.Dictionary, error) {
		panic("corrupt metadata")
	}))
	defer r.Close()

	if err := r.Configure(IndexSpec{Name: "x", Path: "/x", Kind: "boom"}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := r.OpenAll(context.Background()); err == nil {
		t.Fatal("expected the panic to surface as an error")
	}
}

func TestOpensOnce(t *testing.T) {
	var opens atomic.Int32
	r := New(WithOpener("mem", func(_ context.Context, spec IndexSpec, _ *sstable.BlockCache) (termdict.Dictionary, error) {
		opens.Add(1)
		return termdict.NewMemoryFrom(spec.Name, map[string][]string{"ti": {"ant"}}), nil
	}))
	defer r.Close()

	if err := r.Configure(IndexSpec{Name: "m", Kind: "mem", Lazy: true}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if _, err := r.Dictionary(context.Background(), "m"); err != nil {
				t.Errorf("Dictionary: %v", err)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if n := opens.Load(); n != 1 {
		t.Errorf("opened %d times, want 1", n)
	}
}

func TestLookupErrors(t *testing.T) {
	r := New()
	defer r.Close()

	dict := termdict.NewMemoryFrom("lilacs", map[string][]string{
		"ti": {"ant", "cat"},
		"ab": {"bee"},
		"mh": {"aorta"},
	})
	if err := r.Register(dict, "ti", "ab"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(termdict.NewMemory("lilacs")); !errors.Is(err, ErrDuplicateIndex) {
		t.Errorf("expected ErrDuplicateIndex, got %v", err)
	}

	ctx := context.Background()
	if _, err := r.Dictionary(ctx, "nope"); !errors.Is(err, termdict.ErrIndexNotFound) {
		t.Errorf("expected ErrIndexNotFound, got %v", err)
	}
	if _, err := r.ResolveFields(ctx, "lilacs", []string{"ti", "ab"}); err != nil {
		t.Errorf("ResolveFields: %v", err)
	}
	// mh exists in the dictionary but is not exposed
	if _, err := r.ResolveFields(ctx, "lilacs", []string{"ti", "mh"}); !errors.Is(err, termdict.ErrInvalidField) {
		t.Errorf("expected ErrInvalidField for hidden field, got %v", err)
	}
	if _, err := r.ResolveFields(ctx, "lilacs", []string{"zz"}); !errors.Is(err, termdict.ErrInvalidField) {
		t.Errorf("expected ErrInvalidField, got %v", err)
	}

	fields, err := r.Fields(ctx, "lilacs")
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if len(fields) != 2 || fields[0] != "ab" || fields[1] != "ti" {
		t.Errorf("Fields = %v, want [ab ti]", fields)
	}
}

func TestDeclaredFieldMissing(t *testing.T) {
	dir := t.TempDir()
	r := New()
	defer r.Close()

	if err := r.Configure(IndexSpec{Name: "lilacs", Path: writeTermFile(t, dir, "lilacs"), Fields: []string{"ti", "au"}}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := r.OpenAll(context.Background()); !errors.Is(err, termdict.ErrInvalidField) {
		t.Errorf("expected ErrInvalidField for undeclared field, got %v", err)
	}
}

func TestConfigureValidation(t *testing.T) {
	r := New()
	defer r.Close()

	if err := r.Configure(IndexSpec{Path: "/x"}); !errors.Is(err, termdict.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for missing name, got %v", err)
	}
	if err := r.Configure(IndexSpec{Name: "x", Path: "/x", Kind: "lucene"}); !errors.Is(err, termdict.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for unknown kind, got %v", err)
	}
	if err := r.Configure(IndexSpec{Name: "x", Path: "/x"}, IndexSpec{Name: "x", Path: "/y"}); !errors.Is(err, ErrDuplicateIndex) {
		t.Errorf("expected ErrDuplicateIndex, got %v", err)
	}
}

func TestClose(t *testing.T) {
	r := New()
	if err := r.Register(termdict.NewMemoryFrom("m", map[string][]string{"ti": {"ant"}})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Dictionary(context.Background(), "m"); !errors.Is(err, termdict.ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSpecFromConfig(t *testing.T) {
	spec := SpecFromConfig(config.IndexConfig{Name: "a", Path: "/a", Kind: config.KindSQLite, Fields: []string{"ti"}, Lazy: true})
	if spec.Name != "a" || spec.Path != "/a" || spec.Kind != config.KindSQLite || !spec.Lazy || len(spec.Fields) != 1 {
		t.Errorf("unexpected spec: %+v", spec)
	}
}
