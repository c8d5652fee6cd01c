package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisChecker pings the result cache backend. Non-critical: the cache is
// fail-safe and the router degrades to uncached operation.
type RedisChecker struct {
	cli *redis.Client
}

// NewRedisChecker creates a checker for the given client.
func NewRedisChecker(cli *redis.Client) *RedisChecker {
	return &RedisChecker{cli: cli}
}

func (c *RedisChecker) Name() string           { return "redis" }
func (c *RedisChecker) IsCritical() bool       { return false }
func (c *RedisChecker) Timeout() time.Duration { return 3 * time.Second }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if err := c.cli.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "ping ok"}
}

// ServiceChecker probes an HTTP model service (completion or embedding
// endpoint) with a GET against its health path.
type ServiceChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
}

// NewServiceChecker creates a checker hitting baseURL + "/health".
func NewServiceChecker(name, baseURL string, critical bool) *ServiceChecker {
	return &ServiceChecker{
		name:     name,
		url:      baseURL + "/health",
		critical: critical,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *ServiceChecker) Name() string           { return c.name }
func (c *ServiceChecker) IsCritical() bool       { return c.critical }
func (c *ServiceChecker) Timeout() time.Duration { return 5 * time.Second }

func (c *ServiceChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  fmt.Sprintf("status %d", resp.StatusCode),
		}
	}
	if resp.StatusCode >= 400 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("status %d", resp.StatusCode),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "reachable"}
}
