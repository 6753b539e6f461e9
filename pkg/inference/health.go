package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// unhealthyThreshold is the number of consecutive failures after which the
// backend is reported unhealthy.
const unhealthyThreshold = 3

// StartHealthChecker probes the backend every Config.HealthCheckInterval
// until ctx ends or the client is closed. Probing backs off exponentially
// while the backend is unhealthy. A zero interval disables probing.
func (c *Client) StartHealthChecker(ctx context.Context) {
	if c.config.HealthCheckInterval <= 0 {
		return
	}
	c.healthCheckStarted = true
	go c.runHealthChecker(ctx)
}

func (c *Client) runHealthChecker(ctx context.Context) {
	defer close(c.healthCheckStopped)

	interval := c.config.HealthCheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("health checker started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopHealthCheck:
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.HealthCheck(checkCtx)
			cancel()

			if err != nil {
				c.logger.Error("health check failed", "error", err)
			}

			if h := c.Health(); !h.IsHealthy {
				ticker.Reset(calculateBackoff(h.ConsecutiveFailures, interval))
			} else {
				ticker.Reset(interval)
			}
		}
	}
}

// HealthCheck sends one GET to the backend root and records the outcome.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return ErrNoEndpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	u.Path = "/"
	u.RawQuery = ""

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		err = c.transportError(ctx, err)
		c.updateHealth(false, err)
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		err := fmt.Errorf("health check returned status %d", resp.StatusCode)
		c.updateHealth(false, err)
		return err
	}

	c.updateHealth(true, nil)
	return nil
}

// IsHealthy reports the last observed health.
func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.health.IsHealthy
}

// Health returns a snapshot of the health record.
func (c *Client) Health() Health {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.health
}

func (c *Client) updateHealth(success bool, err error) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.LastCheck = time.Now()
	if success {
		if !c.health.IsHealthy {
			c.logger.Info("inference backend healthy again", "previous_failures", c.health.ConsecutiveFailures)
		}
		c.health.IsHealthy = true
		c.health.ConsecutiveFailures = 0
		c.health.LastError = ""
		c.health.LastSuccessfulRequest = time.Now()
		return
	}

	c.health.ConsecutiveFailures++
	if err != nil {
		c.health.LastError = err.Error()
	}
	if c.health.ConsecutiveFailures >= unhealthyThreshold && c.health.IsHealthy {
		c.health.IsHealthy = false
		c.logger.Warn("inference backend marked unhealthy",
			"consecutive_failures", c.health.ConsecutiveFailures,
			"error", err,
		)
	}
}

func (c *Client) recordRequest(success bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.TotalRequests++
	if !success {
		c.health.FailedRequests++
	}
}

// calculateBackoff doubles the interval per failure, capped at 5 minutes.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	backoff := base
	for i := 0; i < failures && backoff < 5*time.Minute; i++ {
		backoff *= 2
	}
	if backoff > 5*time.Minute {
		backoff = 5 * time.Minute
	}
	return backoff
}
