// Package config holds the service configuration: which term dictionaries
// to serve, query defaults, resolver limits and the listening surfaces.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/KevoDB/prevterm/pkg/common/log"
	"github.com/KevoDB/prevterm/pkg/telemetry"
)

const (
	// DefaultConfigFileName is looked up in the working directory when no
	// path is given
	DefaultConfigFileName = "prevterm.yaml"

	// EnvPrefix prefixes every environment override
	EnvPrefix = "PREVTERM_"
)

// Index kinds
const (
	KindSSTable = "sstable"
	KindSQLite  = "sqlite"
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("configuration file not found")
)

// IndexConfig declares one term dictionary
type IndexConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// Kind is sstable (default) or sqlite
	Kind string `yaml:"kind,omitempty"`
	// Fields restricts the queryable fields; empty means every field of
	// the dictionary
	Fields []string `yaml:"fields,omitempty"`
	// Lazy defers opening until the first query
	Lazy bool `yaml:"lazy,omitempty"`
}

type QueryConfig struct {
	MaxTerms      int    `yaml:"max_terms"`
	MaxTermsLimit int    `yaml:"max_terms_limit"`
	Direction     string `yaml:"direction"`
}

type ResolverConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	BlockCacheBytes int64 `yaml:"block_cache_bytes"`
	OpenWorkers     int   `yaml:"open_workers"`
}

type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type GRPCConfig struct {
	Addr             string        `yaml:"addr"`
	TLSEnabled       bool          `yaml:"tls_enabled"`
	CertFile         string        `yaml:"cert_file,omitempty"`
	KeyFile          string        `yaml:"key_file,omitempty"`
	CAFile           string        `yaml:"ca_file,omitempty"`
	KeepaliveTime    time.Duration `yaml:"keepalive_time"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
	MaxConnIdle      time.Duration `yaml:"max_connection_idle"`
	MaxStreams       uint32        `yaml:"max_concurrent_streams"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Indexes []IndexConfig `yaml:"indexes"`

	Query    QueryConfig    `yaml:"query"`
	Resolver ResolverConfig `yaml:"resolver"`
	Storage  StorageConfig  `yaml:"storage"`

	HTTP HTTPConfig `yaml:"http"`
	GRPC GRPCConfig `yaml:"grpc"`

	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values and
// no indexes
func NewDefaultConfig() *Config {
	return &Config{
		Query: QueryConfig{
			MaxTerms:      10,
			MaxTermsLimit: 1000,
			Direction:     "previous",
		},
		Resolver: ResolverConfig{
			BatchSize:  10,
			MaxRetries: 210,
			Timeout:    10 * time.Second,
		},
		Storage: StorageConfig{
			BlockCacheBytes: 64 << 20, // 64MB
			OpenWorkers:     4,
		},
		HTTP: HTTPConfig{
			Addr:          ":8080",
			RatePerMinute: 600,
			Burst:         50,
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  30 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:             ":50051",
			KeepaliveTime:    15 * time.Second,
			KeepaliveTimeout: 5 * time.Second,
			MaxConnIdle:      60 * time.Second,
			MaxStreams:       100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults. An empty path looks for
// prevterm.yaml in the working directory and falls back to the defaults
// when it does not exist.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if explicit {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg.resolvePaths(filepath.Dir(path))

	return cfg, nil
}

// resolvePaths makes relative index paths relative to the config file
func (c *Config) resolvePaths(dir string) {
	for i := range c.Indexes {
		p := c.Indexes[i].Path
		if p != "" && !filepath.IsAbs(p) {
			c.Indexes[i].Path = filepath.Join(dir, p)
		}
	}
}

// LoadFromEnv applies PREVTERM_* environment overrides
func (c *Config) LoadFromEnv() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv(EnvPrefix + "INDEXES"); v != "" {
		indexes, err := ParseIndexList(v)
		if err != nil {
			return err
		}
		c.Indexes = indexes
	}
	if v := os.Getenv(EnvPrefix + "MAX_TERMS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_TERMS: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Query.MaxTerms = n
	}
	if v := os.Getenv(EnvPrefix + "DIRECTION"); v != "" {
		c.Query.Direction = v
	}
	if v := os.Getenv(EnvPrefix + "RESOLVER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sRESOLVER_TIMEOUT: %v", ErrInvalidConfig, EnvPrefix, err)
		}
		c.Resolver.Timeout = d
	}
	if v := os.Getenv(EnvPrefix + "HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "GRPC_ADDR"); v != "" {
		c.GRPC.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	c.Telemetry.LoadFromEnv()
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool, len(c.Indexes))
	for i, idx := range c.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("%w: index %d has no name", ErrInvalidConfig, i)
		}
		if seen[idx.Name] {
			return fmt.Errorf("%w: duplicate index %q", ErrInvalidConfig, idx.Name)
		}
		seen[idx.Name] = true
		if idx.Path == "" {
			return fmt.Errorf("%w: index %q has no path", ErrInvalidConfig, idx.Name)
		}
		switch idx.Kind {
		case "", KindSSTable, KindSQLite:
		default:
			return fmt.Errorf("%w: index %q has unknown kind %q", ErrInvalidConfig, idx.Name, idx.Kind)
		}
	}

	if c.Query.MaxTerms <= 0 {
		return fmt.Errorf("%w: max_terms must be positive", ErrInvalidConfig)
	}
	if c.Query.MaxTermsLimit < c.Query.MaxTerms {
		return fmt.Errorf("%w: max_terms_limit must be at least max_terms", ErrInvalidConfig)
	}
	switch strings.ToLower(c.Query.Direction) {
	case "previous", "next":
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidConfig, c.Query.Direction)
	}

	if c.Resolver.BatchSize <= 0 {
		return fmt.Errorf("%w: resolver batch_size must be positive", ErrInvalidConfig)
	}
	if c.Resolver.MaxRetries < 0 {
		return fmt.Errorf("%w: resolver max_retries must not be negative", ErrInvalidConfig)
	}
	if c.Storage.BlockCacheBytes < 0 {
		return fmt.Errorf("%w: block_cache_bytes must not be negative", ErrInvalidConfig)
	}
	if c.Storage.OpenWorkers <= 0 {
		return fmt.Errorf("%w: open_workers must be positive", ErrInvalidConfig)
	}
	if c.HTTP.RatePerMinute < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("%w: http rate limits must not be negative", ErrInvalidConfig)
	}
	if c.GRPC.TLSEnabled && (c.GRPC.CertFile == "" || c.GRPC.KeyFile == "") {
		return fmt.Errorf("%w: grpc tls requires cert_file and key_file", ErrInvalidConfig)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// Save writes the configuration as YAML, replacing path atomically
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename config: %w", err)
	}
	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

// Index returns the declared index with the given name
func (c *Config) Index(name string) (IndexConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexConfig{}, false
}

var indexListPattern = regexp.MustCompile(`\[\s*name\s*=\s*"([^"]+)"\s+path\s*=\s*"([^"]+)"\s*\]`)

// ParseIndexList parses the bracketed list form
//
//	[name="lilacs" path="/data/lilacs"] [name="medline" path="/data/mdl"]
//
// It fails when the string holds no entry at all.
func ParseIndexList(s string) ([]IndexConfig, error) {
	matches := indexListPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no [name=\"…\" path=\"…\"] entries in %q", ErrInvalidConfig, s)
	}
	out := make([]IndexConfig, 0, len(matches))
	for _, m := range matches {
		out = append(out, IndexConfig{Name: m[1], Path: m[2], Kind: KindSSTable})
	}
	return out, nil
}

// ParseIndexFlag parses the name=path command-line form. A path ending in
// .db or .sqlite selects the sqlite kind.
func ParseIndexFlag(s string) (IndexConfig, error) {
	name, path, ok := strings.Cut(s, "=")
	name, path = strings.TrimSpace(name), strings.TrimSpace(path)
	if !ok || name == "" || path == "" {
		return IndexConfig{}, fmt.Errorf("%w: index flag %q is not name=path", ErrInvalidConfig, s)
	}
	kind := KindSSTable
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		kind = KindSQLite
	}
	return IndexConfig{Name: name, Path: path, Kind: kind}, nil
}
