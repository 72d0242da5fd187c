// Package health provides health checks for the annotator's dependencies:
// BioThings endpoints, the Redis cache and plain TCP services.
package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// NetworkCheck verifies TCP connectivity to a host and port.
// It uses the provided context for timeout and cancellation control.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	status := health.NetworkCheck(ctx, "mygene.info", 443)
func NetworkCheck(ctx context.Context, host string, port int) Status {
	if host == "" {
		return Unhealthy("host cannot be empty", nil)
	}

	if port <= 0 || port > 65535 {
		return Unhealthy(
			fmt.Sprintf("invalid port number: %d", port),
			map[string]any{"port": port},
		)
	}

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to connect to %s", address),
			map[string]any{
				"host":  host,
				"port":  port,
				"error": err.Error(),
			},
		)
	}
	conn.Close()

	return Healthy(fmt.Sprintf("successfully connected to %s", address))
}

// EndpointCheck verifies that the host serving an http(s) URL accepts TCP
// connections. The port defaults to the scheme's.
func EndpointCheck(ctx context.Context, endpoint string) Status {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return Unhealthy(
			fmt.Sprintf("invalid endpoint %q", endpoint),
			map[string]any{"endpoint": endpoint},
		)
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Unhealthy(
				fmt.Sprintf("invalid port in endpoint %q", endpoint),
				map[string]any{"endpoint": endpoint},
			)
		}
	}

	status := NetworkCheck(ctx, u.Hostname(), port)
	if status.Details == nil {
		status.Details = map[string]any{}
	}
	status.Details["endpoint"] = endpoint
	return status
}

// Pinger is implemented by dependencies with a liveness check, such as the
// Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports whether p answers a ping.
func PingCheck(ctx context.Context, name string, p Pinger) Status {
	if p == nil {
		return Unhealthy(fmt.Sprintf("%s is not configured", name), nil)
	}
	if err := p.Ping(ctx); err != nil {
		return Unhealthy(
			fmt.Sprintf("%s ping failed", name),
			map[string]any{"error": err.Error()},
		)
	}
	return Healthy(fmt.Sprintf("%s is reachable", name))
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StatusDegraded:
			degraded = append(degraded, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthy)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthy),
				"degraded":      len(degraded),
				"healthy":       healthyCount,
				"failed_checks": unhealthy,
			},
		)
	}

	if len(degraded) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degraded)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degraded),
				"healthy":         healthyCount,
				"degraded_checks": degraded,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
