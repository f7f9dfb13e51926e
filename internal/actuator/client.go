// Package actuator implements the resilient client for the external
// embodiment service: entity discovery with a short-TTL cache,
// exponential backoff with jitter after transport failures, and
// automatic re-discovery when an entity reference has gone stale.
package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"familiar/internal/logging"
)

// Anchor is an entity's position.
type Anchor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Entity is one embodied entity exposed by the actuator service.
type Entity struct {
	ID             string `json:"id"`
	Anchor         Anchor `json:"anchor"`
	ActiveBehavior string `json:"active_behavior"`
}

// ErrStaleEntity is returned when an entity id is unknown to the
// service even after one re-discovery.
var ErrStaleEntity = errors.New("actuator: stale entity reference")

// BackoffError is returned, without touching the network, while the
// client is inside its backoff window.
type BackoffError struct {
	RetryAfter time.Duration
}

func (e *BackoffError) Error() string {
	return fmt.Sprintf("actuator: backing off, retry in %s", e.RetryAfter.Round(time.Millisecond))
}

// Config holds client tuning.
type Config struct {
	BaseURL        string
	Timeout        time.Duration // per-call, default 2.5s
	CacheTTL       time.Duration // entity cache, default 5s
	BackoffInitial time.Duration // default 1s
	BackoffMax     time.Duration // default 60s
	JitterFraction float64       // jitter bound as a fraction of backoff, default 0.25
}

// DefaultConfig returns sensible defaults for the given base URL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Timeout:        2500 * time.Millisecond,
		CacheTTL:       5 * time.Second,
		BackoffInitial: time.Second,
		BackoffMax:     60 * time.Second,
		JitterFraction: 0.25,
	}
}

// Client talks to the actuator service. All operations are idempotent
// and safe to retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        Config

	mu sync.Mutex
	// entity cache
	cached    []Entity
	cachedAt  time.Time
	// circuit state
	consecutiveFailures int
	currentBackoff      time.Duration
	backoffUntil        time.Time

	// now/jitter are swappable for tests.
	now    func() time.Time
	jitter func(max time.Duration) time.Duration
}

// New creates a client with the given config.
func New(cfg Config) *Client {
	def := DefaultConfig(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = def.BackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.JitterFraction <= 0 {
		cfg.JitterFraction = def.JitterFraction
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		cfg:            cfg,
		currentBackoff: cfg.BackoffInitial,
		now:            time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Discover returns the known entities, served from the cache while it
// is fresh.
func (c *Client) Discover(ctx context.Context) ([]Entity, error) {
	c.mu.Lock()
	if c.cached != nil && c.now().Sub(c.cachedAt) < c.cfg.CacheTTL {
		out := make([]Entity, len(c.cached))
		copy(out, c.cached)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	return c.discover(ctx)
}

// discover always hits the network and refreshes the cache.
func (c *Client) discover(ctx context.Context) ([]Entity, error) {
	if err := c.checkBackoff(); err != nil {
		return nil, err
	}

	var entities []Entity
	status, err := c.do(ctx, http.MethodGet, "/entities", nil, &entities)
	if err != nil {
		c.recordFailure(err)
		return nil, err
	}
	if status != http.StatusOK {
		err := fmt.Errorf("actuator: GET /entities returned %d", status)
		c.recordFailure(err)
		return nil, err
	}
	c.recordSuccess()

	c.mu.Lock()
	c.cached = entities
	c.cachedAt = c.now()
	c.mu.Unlock()

	logging.ActuatorDebug("discovered %d entities", len(entities))
	out := make([]Entity, len(entities))
	copy(out, entities)
	return out, nil
}

// SetBehavior asks the service to switch an entity's active behavior.
// A stale entity id triggers one re-discovery and one retry before the
// call is reported as failed.
func (c *Client) SetBehavior(ctx context.Context, entityID, behavior string) error {
	body := map[string]string{"behavior": behavior, "id": entityID}
	return c.mutateEntity(ctx, entityID, "/entities/"+entityID, body)
}

// MoveTo repositions an entity's anchor.
func (c *Client) MoveTo(ctx context.Context, entityID string, anchor Anchor) error {
	body := map[string]any{"id": entityID, "anchor": anchor}
	return c.mutateEntity(ctx, entityID, "/entities/"+entityID+"/anchor", body)
}

// mutateEntity performs a PUT with stale-reference recovery.
func (c *Client) mutateEntity(ctx context.Context, entityID, path string, body any) error {
	if err := c.checkBackoff(); err != nil {
		return err
	}

	status, err := c.do(ctx, http.MethodPut, path, body, nil)
	if err != nil {
		c.recordFailure(err)
		return err
	}

	if status == http.StatusNotFound {
		// Stale reference: the cached id no longer exists. Invalidate,
		// re-discover once, retry once.
		logging.Actuator("entity %s stale, re-discovering", entityID)
		c.invalidateCache()
		if _, derr := c.discover(ctx); derr != nil {
			return fmt.Errorf("%w: re-discovery failed: %v", ErrStaleEntity, derr)
		}
		status, err = c.do(ctx, http.MethodPut, path, body, nil)
		if err != nil {
			c.recordFailure(err)
			return err
		}
		if status == http.StatusNotFound {
			return fmt.Errorf("%w: %s", ErrStaleEntity, entityID)
		}
	}

	if status < 200 || status >= 300 {
		err := fmt.Errorf("actuator: PUT %s returned %d", path, status)
		c.recordFailure(err)
		return err
	}

	c.recordSuccess()
	c.invalidateCache()
	return nil
}

// CreateEntity registers a new entity with the service.
func (c *Client) CreateEntity(ctx context.Context, name string, anchor Anchor) (*Entity, error) {
	if err := c.checkBackoff(); err != nil {
		return nil, err
	}

	var created Entity
	body := map[string]any{"name": name, "anchor": anchor}
	status, err := c.do(ctx, http.MethodPost, "/entities", body, &created)
	if err != nil {
		c.recordFailure(err)
		return nil, err
	}
	if status < 200 || status >= 300 {
		err := fmt.Errorf("actuator: POST /entities returned %d", status)
		c.recordFailure(err)
		return nil, err
	}

	c.recordSuccess()
	c.invalidateCache()
	return &created, nil
}

// do performs one HTTP exchange with the per-call timeout. A non-nil
// error means transport failure; HTTP status handling is the caller's.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("actuator: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("actuator: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("actuator: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("actuator: decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// checkBackoff fails fast while inside the backoff window.
func (c *Client) checkBackoff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if until := c.backoffUntil; !until.IsZero() {
		if remaining := until.Sub(c.now()); remaining > 0 {
			return &BackoffError{RetryAfter: remaining}
		}
	}
	return nil
}

func (c *Client) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFailures++
	c.currentBackoff *= 2
	if c.currentBackoff > c.cfg.BackoffMax {
		c.currentBackoff = c.cfg.BackoffMax
	}
	jitterMax := time.Duration(float64(c.currentBackoff) * c.cfg.JitterFraction)
	c.backoffUntil = c.now().Add(c.currentBackoff + c.jitter(jitterMax))

	logging.Actuator("failure #%d (%v), backoff %s", c.consecutiveFailures, err, c.currentBackoff)
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consecutiveFailures > 0 {
		logging.Actuator("recovered after %d failures", c.consecutiveFailures)
	}
	c.consecutiveFailures = 0
	c.currentBackoff = c.cfg.BackoffInitial
	c.backoffUntil = time.Time{}
}

func (c *Client) invalidateCache() {
	c.mu.Lock()
	c.cached = nil
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

// Backoff returns the current circuit state for observability.
func (c *Client) Backoff() (failures int, current time.Duration, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures, c.currentBackoff, c.backoffUntil
}
