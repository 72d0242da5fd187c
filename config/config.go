// Package config loads annotator.yaml service configuration.
// Durations are Go duration strings; every getter falls back to a default
// when its field is unset or unparsable.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/annotator/source"
)

// Environment variables read by FromEnv and ApplyEnv.
const (
	EnvConfigPath        = "ANNOTATOR_CONFIG"
	EnvRedisURL          = "ANNOTATOR_REDIS_URL"
	EnvRegistryEndpoints = "ANNOTATOR_REGISTRY_ENDPOINTS"
	EnvLogLevel          = "ANNOTATOR_LOG_LEVEL"
)

// Config represents an annotator.yaml configuration file.
type Config struct {
	Server   *ServerConfig   `yaml:"server,omitempty"`
	Upstream *UpstreamConfig `yaml:"upstream,omitempty"`
	Annotate *AnnotateConfig `yaml:"annotate,omitempty"`

	// Sources override the built-in sources by type. Types not present in
	// the defaults are added.
	Sources []source.Config `yaml:"sources,omitempty"`

	Cache    *CacheConfig    `yaml:"cache,omitempty"`
	Registry *RegistryConfig `yaml:"registry,omitempty"`
	Log      *LogConfig      `yaml:"log,omitempty"`
}

// ServerConfig controls the HTTP and gRPC listeners.
type ServerConfig struct {
	// HTTPPort defaults to 8080.
	HTTPPort int `yaml:"http_port,omitempty"`

	// GRPCPort defaults to 50051. A negative value disables the gRPC listener.
	GRPCPort int `yaml:"grpc_port,omitempty"`

	// GracefulTimeout is how long in-flight requests get on shutdown.
	// Default: 10s
	GracefulTimeout string `yaml:"graceful_timeout,omitempty"`

	// TLSCertFile and TLSKeyFile serve gRPC over TLS when both are set.
	TLSCertFile string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty"`
}

// UpstreamConfig controls requests to BioThings APIs.
type UpstreamConfig struct {
	// Timeout bounds a single batch request. Default: 30s
	Timeout string `yaml:"timeout,omitempty"`

	// BatchSize is the number of ids per request. Default: 1000
	BatchSize int `yaml:"batch_size,omitempty"`
}

// AnnotateConfig controls graph annotation.
type AnnotateConfig struct {
	// Concurrency is the number of types queried at once. Default: 3
	Concurrency int `yaml:"concurrency,omitempty"`
}

// CacheConfig enables the Redis response cache.
type CacheConfig struct {
	RedisURL string `yaml:"redis_url,omitempty"`

	// TTL defaults to 24h.
	TTL string `yaml:"ttl,omitempty"`

	// Prefix defaults to "annotator".
	Prefix string `yaml:"prefix,omitempty"`
}

// RegistryConfig enables etcd self-registration.
type RegistryConfig struct {
	Endpoints []string `yaml:"endpoints,omitempty"`

	// Namespace defaults to "annotator".
	Namespace string `yaml:"namespace,omitempty"`

	// TTL is the lease TTL in seconds. Default: 30
	TTL int `yaml:"ttl,omitempty"`

	TLS *RegistryTLSConfig `yaml:"tls,omitempty"`
}

// RegistryTLSConfig holds the client certificate paths for etcd.
type RegistryTLSConfig struct {
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is "json" or "text". Default: json
	Format string `yaml:"format,omitempty"`
}

// GetHTTPPort returns the configured HTTP port or 8080.
func (s *ServerConfig) GetHTTPPort() int {
	if s == nil || s.HTTPPort <= 0 {
		return 8080
	}
	return s.HTTPPort
}

// GetGRPCPort returns the configured gRPC port, 50051 when unset, or 0 when
// the listener is disabled.
func (s *ServerConfig) GetGRPCPort() int {
	if s == nil || s.GRPCPort == 0 {
		return 50051
	}
	if s.GRPCPort < 0 {
		return 0
	}
	return s.GRPCPort
}

// GetGracefulTimeout parses the graceful timeout or returns 10s.
func (s *ServerConfig) GetGracefulTimeout() time.Duration {
	if s == nil {
		return 10 * time.Second
	}
	return parseDuration(s.GracefulTimeout, 10*time.Second)
}

// GetTimeout parses the upstream timeout or returns 30s.
func (u *UpstreamConfig) GetTimeout() time.Duration {
	if u == nil {
		return 30 * time.Second
	}
	return parseDuration(u.Timeout, 30*time.Second)
}

// GetBatchSize returns the configured batch size or 1000.
func (u *UpstreamConfig) GetBatchSize() int {
	if u == nil || u.BatchSize <= 0 {
		return 1000
	}
	return u.BatchSize
}

// GetConcurrency returns the configured concurrency or 3.
func (a *AnnotateConfig) GetConcurrency() int {
	if a == nil || a.Concurrency <= 0 {
		return 3
	}
	return a.Concurrency
}

// Enabled reports whether a Redis URL is configured.
func (c *CacheConfig) Enabled() bool {
	return c != nil && c.RedisURL != ""
}

// GetTTL parses the cache TTL or returns 24h.
func (c *CacheConfig) GetTTL() time.Duration {
	if c == nil {
		return 24 * time.Hour
	}
	return parseDuration(c.TTL, 24*time.Hour)
}

// GetPrefix returns the key prefix or "annotator".
func (c *CacheConfig) GetPrefix() string {
	if c == nil || c.Prefix == "" {
		return "annotator"
	}
	return c.Prefix
}

// TLSEnabled reports whether a certificate and key are configured.
func (s *ServerConfig) TLSEnabled() bool {
	return s != nil && s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// Enabled reports whether any etcd endpoint is configured.
func (r *RegistryConfig) Enabled() bool {
	return r != nil && len(r.Endpoints) > 0
}

// GetNamespace returns the namespace or "annotator".
func (r *RegistryConfig) GetNamespace() string {
	if r == nil || r.Namespace == "" {
		return "annotator"
	}
	return r.Namespace
}

// GetTTL returns the lease TTL in seconds or 30.
func (r *RegistryConfig) GetTTL() int {
	if r == nil || r.TTL <= 0 {
		return 30
	}
	return r.TTL
}

// GetTLS returns the TLS section, or nil when the registry or its TLS
// section is unset.
func (r *RegistryConfig) GetTLS() *RegistryTLSConfig {
	if r == nil {
		return nil
	}
	return r.TLS
}

// Enabled reports whether mutual TLS is configured.
func (t *RegistryTLSConfig) Enabled() bool {
	return t != nil && (t.CertFile != "" || t.KeyFile != "" || t.CAFile != "")
}

// GetLevel maps the configured level onto slog, defaulting to info.
func (l *LogConfig) GetLevel() slog.Level {
	if l == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetFormat returns "text" or "json".
func (l *LogConfig) GetFormat() string {
	if l != nil && strings.EqualFold(l.Format, "text") {
		return "text"
	}
	return "json"
}

// SourceConfigs returns the built-in sources with the file's overrides applied.
func (c *Config) SourceConfigs() []source.Config {
	return source.Merge(source.Defaults(), c.Sources...)
}

// Validate checks the parts of the file that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Server != nil && c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Server != nil && c.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort)
	}
	if c.Server != nil && (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("server.tls_cert_file and server.tls_key_file must be set together")
	}
	if t := c.Registry.GetTLS(); t.Enabled() {
		if t.CertFile == "" || t.KeyFile == "" || t.CAFile == "" {
			return fmt.Errorf("registry.tls needs cert_file, key_file and ca_file")
		}
	}
	if _, err := source.NewRegistry(c.SourceConfigs()...); err != nil {
		return err
	}
	if c.Log != nil && c.Log.Format != "" {
		switch strings.ToLower(c.Log.Format) {
		case "json", "text":
		default:
			return fmt.Errorf("log.format %q must be json or text", c.Log.Format)
		}
	}
	return nil
}

// Load reads and parses an annotator.yaml file from the given path.
// If the path is a directory, it looks for annotator.yaml or annotator.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"annotator.yaml", "annotator.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no annotator.yaml or annotator.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration and validates it.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// FromEnv loads the file named by ANNOTATOR_CONFIG, or starts from defaults
// when it is unset, then applies the environment overrides.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv(EnvConfigPath); path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from ANNOTATOR_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvRedisURL); v != "" {
		if c.Cache == nil {
			c.Cache = &CacheConfig{}
		}
		c.Cache.RedisURL = v
	}

	if v := os.Getenv(EnvRegistryEndpoints); v != "" {
		if c.Registry == nil {
			c.Registry = &RegistryConfig{}
		}
		c.Registry.Endpoints = splitList(v)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		if c.Log == nil {
			c.Log = &LogConfig{}
		}
		c.Log.Level = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
