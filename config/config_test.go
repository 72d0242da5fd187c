package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/annotator/source"
)

const sampleYAML = `
server:
  http_port: 9000
  grpc_port: -1
  graceful_timeout: 5s
  tls_cert_file: /etc/annotator/server.crt
  tls_key_file: /etc/annotator/server.key
upstream:
  timeout: 2s
  batch_size: 200
annotate:
  concurrency: 2
sources:
  - type: gene
    endpoint: http://localhost:9999/v3
    filter: 'record["taxid"] == 9606'
  - type: protein
    endpoint: http://localhost:9998/v1
    fields: [name]
    scopes: [uniprot]
cache:
  redis_url: redis://localhost:6379/0
  ttl: 1h
registry:
  endpoints: [localhost:2379]
  namespace: test
  ttl: 10
  tls:
    cert_file: /etc/annotator/etcd.crt
    key_file: /etc/annotator/etcd.key
    ca_file: /etc/annotator/ca.pem
log:
  level: debug
  format: text
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "annotator.yaml", sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.GetHTTPPort())
	assert.Equal(t, 0, cfg.Server.GetGRPCPort())
	assert.Equal(t, 5*time.Second, cfg.Server.GetGracefulTimeout())
	assert.Equal(t, 2*time.Second, cfg.Upstream.GetTimeout())
	assert.Equal(t, 200, cfg.Upstream.GetBatchSize())
	assert.Equal(t, 2, cfg.Annotate.GetConcurrency())
	assert.True(t, cfg.Cache.Enabled())
	assert.Equal(t, time.Hour, cfg.Cache.GetTTL())
	assert.Equal(t, "annotator", cfg.Cache.GetPrefix())
	assert.True(t, cfg.Registry.Enabled())
	assert.Equal(t, "test", cfg.Registry.GetNamespace())
	assert.Equal(t, 10, cfg.Registry.GetTTL())
	assert.True(t, cfg.Server.TLSEnabled())
	assert.Equal(t, "/etc/annotator/server.key", cfg.Server.TLSKeyFile)
	assert.True(t, cfg.Registry.GetTLS().Enabled())
	assert.Equal(t, "/etc/annotator/ca.pem", cfg.Registry.TLS.CAFile)
	assert.Equal(t, slog.LevelDebug, cfg.Log.GetLevel())
	assert.Equal(t, "text", cfg.Log.GetFormat())

	// Directory lookup finds the same file.
	fromDir, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, fromDir)
}

func TestLoad_YMLExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "annotator.yml", "annotate:\n  concurrency: 7\n")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Annotate.GetConcurrency())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{
			name:    "missing path",
			path:    filepath.Join(dir, "nope.yaml"),
			wantErr: "failed to stat path",
		},
		{
			name:    "empty directory",
			path:    dir,
			wantErr: "no annotator.yaml or annotator.yml found",
		},
		{
			name:    "malformed yaml",
			path:    writeFile(t, t.TempDir(), "bad.yaml", "server: [\n"),
			wantErr: "failed to parse config file",
		},
		{
			name:    "bad filter",
			path:    writeFile(t, t.TempDir(), "filter.yaml", "sources:\n  - type: gene\n    filter: 'record['\n"),
			wantErr: "invalid config",
		},
		{
			name:    "incomplete new source",
			path:    writeFile(t, t.TempDir(), "src.yaml", "sources:\n  - type: protein\n"),
			wantErr: "invalid config",
		},
		{
			name:    "bad log format",
			path:    writeFile(t, t.TempDir(), "log.yaml", "log:\n  format: xml\n"),
			wantErr: "log.format",
		},
		{
			name:    "port out of range",
			path:    writeFile(t, t.TempDir(), "port.yaml", "server:\n  http_port: 70000\n"),
			wantErr: "server.http_port",
		},
		{
			name:    "server cert without key",
			path:    writeFile(t, t.TempDir(), "tls.yaml", "server:\n  tls_cert_file: server.crt\n"),
			wantErr: "must be set together",
		},
		{
			name:    "registry tls without ca",
			path:    writeFile(t, t.TempDir(), "etcd.yaml", "registry:\n  tls:\n    cert_file: a.crt\n    key_file: a.key\n"),
			wantErr: "registry.tls",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config

	assert.Equal(t, 8080, cfg.Server.GetHTTPPort())
	assert.Equal(t, 50051, cfg.Server.GetGRPCPort())
	assert.Equal(t, 10*time.Second, cfg.Server.GetGracefulTimeout())
	assert.Equal(t, 30*time.Second, cfg.Upstream.GetTimeout())
	assert.Equal(t, 1000, cfg.Upstream.GetBatchSize())
	assert.Equal(t, 3, cfg.Annotate.GetConcurrency())
	assert.False(t, cfg.Cache.Enabled())
	assert.Equal(t, 24*time.Hour, cfg.Cache.GetTTL())
	assert.False(t, cfg.Registry.Enabled())
	assert.False(t, cfg.Server.TLSEnabled())
	assert.False(t, cfg.Registry.GetTLS().Enabled())
	assert.Equal(t, "annotator", cfg.Registry.GetNamespace())
	assert.Equal(t, 30, cfg.Registry.GetTTL())
	assert.Equal(t, slog.LevelInfo, cfg.Log.GetLevel())
	assert.Equal(t, "json", cfg.Log.GetFormat())
	assert.Equal(t, source.Defaults(), cfg.SourceConfigs())
	assert.NoError(t, cfg.Validate())
}

func TestInvalidDurationsFallBack(t *testing.T) {
	s := &ServerConfig{GracefulTimeout: "soon"}
	assert.Equal(t, 10*time.Second, s.GetGracefulTimeout())

	u := &UpstreamConfig{Timeout: "-1s"}
	assert.Equal(t, 30*time.Second, u.GetTimeout())
}

func TestSourceConfigs(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	reg, err := source.NewRegistry(cfg.SourceConfigs()...)
	require.NoError(t, err)

	gene, ok := reg.Get("gene")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9999/v3", gene.Endpoint)
	assert.NotEmpty(t, gene.Scopes, "unset override fields keep their defaults")
	assert.NotNil(t, reg.Filter("gene"))

	_, ok = reg.Get("protein")
	assert.True(t, ok)
}

func TestFromEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "annotator.yaml", "log:\n  level: error\n")

	t.Setenv(EnvConfigPath, dir)
	t.Setenv(EnvRedisURL, "redis://cache:6379/1")
	t.Setenv(EnvRegistryEndpoints, "etcd-0:2379, etcd-1:2379,")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6379/1", cfg.Cache.RedisURL)
	assert.Equal(t, []string{"etcd-0:2379", "etcd-1:2379"}, cfg.Registry.Endpoints)
	assert.Equal(t, slog.LevelWarn, cfg.Log.GetLevel())
}

func TestFromEnv_NoFile(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvRedisURL, "")
	t.Setenv(EnvRegistryEndpoints, "")
	t.Setenv(EnvLogLevel, "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.False(t, cfg.Cache.Enabled())
	assert.False(t, cfg.Registry.Enabled())
	assert.False(t, cfg.Server.TLSEnabled())
	assert.False(t, cfg.Registry.GetTLS().Enabled())
}

func TestFromEnv_MissingFile(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := FromEnv()
	require.Error(t, err)
}
