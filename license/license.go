// Package license validates the subscription against the vendor API
// and keeps the verdict fresh in the background.
package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/evdnx/gofx/logger"
	"github.com/evdnx/gofx/metrics"
)

// Checker polls the license server and caches the last verdict. The
// engine consults Valid before each scan; a server outage keeps the
// previous verdict rather than halting trading.
type Checker struct {
	serverURL string
	email     string
	client    *http.Client
	log       logger.Logger

	mu    sync.RWMutex
	valid bool
}

// New builds a checker for email against serverURL. The verdict starts
// invalid until the first successful check.
func New(serverURL, email string, log logger.Logger) *Checker {
	return &Checker{
		serverURL: serverURL,
		email:     email,
		client:    &http.Client{Timeout: 15 * time.Second},
		log:       log,
	}
}

// Valid returns the most recent verdict.
func (c *Checker) Valid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.valid
}

// Check queries the server once and updates the cached verdict.
func (c *Checker) Check(ctx context.Context) (bool, error) {
	u := fmt.Sprintf("%s/validate?email=%s", c.serverURL, url.QueryEscape(c.email))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return c.Valid(), err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ExternalFailures.WithLabelValues("license").Inc()
		return c.Valid(), fmt.Errorf("license: check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.ExternalFailures.WithLabelValues("license").Inc()
		return c.Valid(), fmt.Errorf("license: check: status %d", resp.StatusCode)
	}

	var body struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.ExternalFailures.WithLabelValues("license").Inc()
		return c.Valid(), fmt.Errorf("license: decode: %w", err)
	}

	c.mu.Lock()
	c.valid = body.Valid
	c.mu.Unlock()
	return body.Valid, nil
}

// Run re-checks every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Check(ctx); err != nil {
				c.log.Warn("license check failed", logger.Err(err))
			}
		}
	}
}
