package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// ErrClosed is returned by calls on a closed Client.
var ErrClosed = errors.New("registry client is closed")

// etcdClient is the subset of *clientv3.Client the registry uses.
type etcdClient interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
	KeepAliveOnce(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseKeepAliveResponse, error)
	Close() error
}

// Client registers instances with etcd and keeps their leases alive.
//
// Example usage:
//
//	client, err := registry.NewClient(registry.Config{Endpoints: []string{"localhost:2379"}})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
// All methods are safe for concurrent use.
type Client struct {
	client    etcdClient
	namespace string
	ttl       int
	interval  time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	leases     map[string]clientv3.LeaseID // key: instance ID
	cancelFns  map[string]context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	closedChan chan struct{}
}

// NewClient connects to etcd and verifies connectivity.
// The client must be closed to stop keepalive goroutines.
func NewClient(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registry endpoints cannot be empty")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := clientTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		clientCfg.TLS = tlsConfig
	}

	cli, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := cli.Get(ctx, "health-check"); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		cli.Close()
		return nil, fmt.Errorf("etcd health check failed: %w", err)
	}

	return newClient(cli, cfg), nil
}

func newClient(cli etcdClient, cfg Config) *Client {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "annotator"
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:     cli,
		namespace:  namespace,
		ttl:        ttl,
		interval:   time.Duration(ttl) * time.Second / 3,
		logger:     logger,
		leases:     make(map[string]clientv3.LeaseID),
		cancelFns:  make(map[string]context.CancelFunc),
		closedChan: make(chan struct{}),
	}
}

// Register writes info under a fresh lease and starts renewing it every TTL/3.
// Registering the same InstanceID again replaces the previous entry's keepalive.
func (c *Client) Register(ctx context.Context, info ServiceInfo) error {
	if info.InstanceID == "" {
		return fmt.Errorf("instance id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseResp, err := c.client.Grant(ctx, int64(c.ttl))
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal service info: %w", err)
	}

	key := c.Key(info)
	if _, err := c.client.Put(ctx, key, string(data), clientv3.WithLease(leaseResp.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	c.leases[info.InstanceID] = leaseResp.ID

	keepaliveCtx, cancel := context.WithCancel(context.Background())
	c.cancelFns[info.InstanceID] = cancel

	c.wg.Add(1)
	go c.keepalive(keepaliveCtx, leaseResp.ID, info.InstanceID)

	c.logger.Info("registered instance", "key", key, "lease", int64(leaseResp.ID), "ttl", c.ttl)
	return nil
}

// Deregister revokes the instance's lease, which deletes its entry.
// Deregistering an unknown instance is a no-op.
func (c *Client) Deregister(ctx context.Context, info ServiceInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	if cancelFn, exists := c.cancelFns[info.InstanceID]; exists {
		cancelFn()
		delete(c.cancelFns, info.InstanceID)
	}

	leaseID, exists := c.leases[info.InstanceID]
	if !exists {
		return nil
	}

	if _, err := c.client.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	delete(c.leases, info.InstanceID)

	return nil
}

// Close stops all keepalives and closes the etcd connection.
// Leases are left to expire; call Deregister first for immediate removal.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	for _, cancel := range c.cancelFns {
		cancel()
	}
	c.cancelFns = make(map[string]context.CancelFunc)

	close(c.closedChan)
	c.mu.Unlock()

	c.wg.Wait()

	return c.client.Close()
}

// Key returns the etcd key for info: /namespace/name/instance-id.
func (c *Client) Key(info ServiceInfo) string {
	return fmt.Sprintf("/%s/%s/%s", c.namespace, info.Name, info.InstanceID)
}

func (c *Client) registered(instanceID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.leases[instanceID]
	return ok
}

func (c *Client) keepalive(ctx context.Context, leaseID clientv3.LeaseID, instanceID string) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closedChan:
			return
		case <-ticker.C:
			if _, err := c.client.KeepAliveOnce(ctx, leaseID); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("lease keepalive failed", "instance_id", instanceID, "error", err)
				c.mu.Lock()
				if c.leases[instanceID] == leaseID {
					delete(c.leases, instanceID)
					delete(c.cancelFns, instanceID)
				}
				c.mu.Unlock()
				return
			}
		}
	}
}
