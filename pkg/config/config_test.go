package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Query.MaxTerms != 10 {
		t.Errorf("expected max terms 10, got %d", cfg.Query.MaxTerms)
	}
	if cfg.Query.Direction != "previous" {
		t.Errorf("expected direction previous, got %s", cfg.Query.Direction)
	}
	if cfg.Resolver.BatchSize != 10 || cfg.Resolver.MaxRetries != 210 {
		t.Errorf("unexpected resolver defaults: %+v", cfg.Resolver)
	}
	if len(cfg.Indexes) != 0 {
		t.Errorf("expected no indexes, got %d", len(cfg.Indexes))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{
			name: "index without name",
			mutate: func(c *Config) {
				c.Indexes = []IndexConfig{{Path: "/data/x"}}
			},
			expected: "index 0 has no name",
		},
		{
			name: "duplicate index",
			mutate: func(c *Config) {
				c.Indexes = []IndexConfig{{Name: "a", Path: "/x"}, {Name: "a", Path: "/y"}}
			},
			expected: `duplicate index "a"`,
		},
		{
			name: "index without path",
			mutate: func(c *Config) {
				c.Indexes = []IndexConfig{{Name: "a"}}
			},
			expected: `index "a" has no path`,
		},
		{
			name: "unknown kind",
			mutate: func(c *Config) {
				c.Indexes = []IndexConfig{{Name: "a", Path: "/x", Kind: "lucene"}}
			},
			expected: `unknown kind "lucene"`,
		},
		{
			name: "zero max terms",
			mutate: func(c *Config) {
				c.Query.MaxTerms = 0
			},
			expected: "max_terms must be positive",
		},
		{
			name: "limit below default",
			mutate: func(c *Config) {
				c.Query.MaxTermsLimit = 5
			},
			expected: "max_terms_limit must be at least max_terms",
		},
		{
			name: "bad direction",
			mutate: func(c *Config) {
				c.Query.Direction = "sideways"
			},
			expected: `unknown direction "sideways"`,
		},
		{
			name: "zero batch size",
			mutate: func(c *Config) {
				c.Resolver.BatchSize = 0
			},
			expected: "batch_size must be positive",
		},
		{
			name: "tls without cert",
			mutate: func(c *Config) {
				c.GRPC.TLSEnabled = true
			},
			expected: "grpc tls requires cert_file and key_file",
		},
		{
			name: "bad log level",
			mutate: func(c *Config) {
				c.Log.Level = "chatty"
			},
			expected: `unknown log level "chatty"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.expected) {
				t.Errorf("expected error containing %q, got %q", tc.expected, err.Error())
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prevterm.yaml")
	data := `
indexes:
  - name: lilacs
    path: data/lilacs.sst
    fields: [ti, ab]
  - name: decs
    path: /srv/decs.db
    kind: sqlite
    lazy: true
query:
  max_terms: 25
resolver:
  timeout: 3s
http:
  addr: ":9000"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if len(cfg.Indexes) != 2 {
		t.Fatalf("expected 2 indexes, got %d", len(cfg.Indexes))
	}
	if got, want := cfg.Indexes[0].Path, filepath.Join(dir, "data/lilacs.sst"); got != want {
		t.Errorf("relative path not resolved: got %s, want %s", got, want)
	}
	if cfg.Indexes[1].Path != "/srv/decs.db" || cfg.Indexes[1].Kind != KindSQLite || !cfg.Indexes[1].Lazy {
		t.Errorf("unexpected second index: %+v", cfg.Indexes[1])
	}
	if cfg.Query.MaxTerms != 25 {
		t.Errorf("expected max terms 25, got %d", cfg.Query.MaxTerms)
	}
	if cfg.Query.MaxTermsLimit != 1000 {
		t.Errorf("default limit lost: %d", cfg.Query.MaxTermsLimit)
	}
	if cfg.Resolver.Timeout != 3*time.Second {
		t.Errorf("expected timeout 3s, got %v", cfg.Resolver.Timeout)
	}
	if cfg.HTTP.Addr != ":9000" || cfg.GRPC.Addr != ":50051" {
		t.Errorf("unexpected addresses: http %s grpc %s", cfg.HTTP.Addr, cfg.GRPC.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("indexes: {not: [a list"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "prevterm.yaml")

	cfg := NewDefaultConfig()
	cfg.Update(func(c *Config) {
		c.Indexes = []IndexConfig{{Name: "lilacs", Path: "/data/lilacs", Kind: KindSSTable}}
		c.Query.MaxTerms = 7
	})
	if err := cfg.Save(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	idx, ok := loaded.Index("lilacs")
	if !ok || idx.Path != "/data/lilacs" {
		t.Errorf("index lost in round trip: %+v", loaded.Indexes)
	}
	if loaded.Query.MaxTerms != 7 {
		t.Errorf("expected max terms 7, got %d", loaded.Query.MaxTerms)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PREVTERM_INDEXES", `[name="lilacs" path="/data/lilacs"] [name="mdl" path="/data/mdl"]`)
	t.Setenv("PREVTERM_MAX_TERMS", "42")
	t.Setenv("PREVTERM_LOG_LEVEL", "debug")
	t.Setenv("PREVTERM_RESOLVER_TIMEOUT", "250ms")

	cfg := NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if len(cfg.Indexes) != 2 || cfg.Indexes[1].Name != "mdl" {
		t.Errorf("unexpected indexes: %+v", cfg.Indexes)
	}
	if cfg.Query.MaxTerms != 42 || cfg.Log.Level != "debug" {
		t.Errorf("overrides not applied: %+v %+v", cfg.Query, cfg.Log)
	}
	if cfg.Resolver.Timeout != 250*time.Millisecond {
		t.Errorf("expected 250ms timeout, got %v", cfg.Resolver.Timeout)
	}

	t.Setenv("PREVTERM_MAX_TERMS", "lots")
	if err := NewDefaultConfig().LoadFromEnv(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for bad number, got %v", err)
	}
}

func TestParseIndexList(t *testing.T) {
	got, err := ParseIndexList(`[ name = "lilacs"  path="/data/lil acs" ];[name="x" path="y"]`)
	if err != nil {
		t.Fatalf("ParseIndexList: %v", err)
	}
	if len(got) != 2 || got[0].Name != "lilacs" || got[0].Path != "/data/lil acs" || got[1].Path != "y" {
		t.Errorf("unexpected result: %+v", got)
	}

	if _, err := ParseIndexList("lilacs=/data"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParseIndexFlag(t *testing.T) {
	tests := []struct {
		in      string
		want    IndexConfig
		wantErr bool
	}{
		{"lilacs=/data/lilacs.sst", IndexConfig{Name: "lilacs", Path: "/data/lilacs.sst", Kind: KindSSTable}, false},
		{"decs=terms.db", IndexConfig{Name: "decs", Path: "terms.db", Kind: KindSQLite}, false},
		{"novalue=", IndexConfig{}, true},
		{"plain", IndexConfig{}, true},
	}
	for _, tt := range tests {
		got, err := ParseIndexFlag(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseIndexFlag(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (got.Name != tt.want.Name || got.Path != tt.want.Path || got.Kind != tt.want.Kind) {
			t.Errorf("ParseIndexFlag(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
