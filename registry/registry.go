// Package registry announces running annotator instances in etcd.
//
// Each instance writes a ServiceInfo entry under
// /{namespace}/{name}/{instance-id}, bound to a lease that a background
// goroutine keeps alive. A crashed instance disappears once its lease
// expires; a clean shutdown revokes the lease immediately.
package registry

import (
	"log/slog"
	"time"
)

// ServiceInfo describes a registered annotator instance.
type ServiceInfo struct {
	// Name is the service name (e.g., "annotator").
	Name string `json:"name"`

	// Version is the build version of the instance.
	Version string `json:"version"`

	// InstanceID uniquely identifies the instance (typically a UUID).
	InstanceID string `json:"instance_id"`

	// Endpoint is the HTTP address of the instance, "host:port".
	Endpoint string `json:"endpoint"`

	// Metadata holds additional attributes such as the gRPC address and the
	// semantic types the instance can annotate.
	Metadata map[string]string `json:"metadata,omitempty"`

	// StartedAt is when the instance started.
	StartedAt time.Time `json:"started_at"`
}

// Config configures the etcd connection.
type Config struct {
	// Endpoints is the list of etcd endpoints, "host:port". Required.
	Endpoints []string

	// Namespace is the key prefix for all entries. Default: "annotator"
	Namespace string

	// TTL is the lease time-to-live in seconds. Default: 30
	TTL int

	// DialTimeout bounds the initial connection. Default: 5s
	DialTimeout time.Duration

	// TLS enables mutual TLS when non-nil and Enabled.
	TLS *TLSConfig

	// Logger receives keepalive failures. Default: slog.Default()
	Logger *slog.Logger
}

// TLSConfig holds client certificate paths for etcd.
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}
