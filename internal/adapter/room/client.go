// Package room provides an HTTP client for the realtime room service's
// server API and mints signed join tokens for its clients.
package room

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	roomport "github.com/voxguard/guardian/internal/port/room"
	"github.com/voxguard/guardian/internal/resilience"
)

// defaultMaxInFlight bounds concurrent HTTP dispatches to the room service.
const defaultMaxInFlight = 8

// Client talks to the room service's server-side REST API.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  []byte
	httpClient *http.Client
	breaker    *resilience.Breaker
	sem        *semaphore.Weighted
}

// NewClient creates a new room service client. apiKey and apiSecret are the
// server credentials used both for API auth and join-token signing.
func NewClient(baseURL, apiKey, apiSecret string) *Client {
	return &Client{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		sem: semaphore.NewWeighted(defaultMaxInFlight),
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetMaxInFlight overrides the concurrent dispatch bound. Call before use.
func (c *Client) SetMaxInFlight(n int64) {
	if n > 0 {
		c.sem = semaphore.NewWeighted(n)
	}
}

// JoinToken issues a signed, time-bounded token granting access to one room.
func (c *Client) JoinToken(_ context.Context, grants roomport.Grants, ttl time.Duration) (string, error) {
	if grants.Room == "" {
		return "", fmt.Errorf("join token: room is required")
	}
	if grants.Identity == "" {
		return "", fmt.Errorf("join token: identity is required")
	}
	return c.signJoinToken(grants, ttl)
}

// SendData broadcasts a reliable data message to all participants of the
// named room. The room may have no participants able to receive it; the
// caller decides whether that failure matters.
func (c *Client) SendData(ctx context.Context, roomName string, payload []byte) error {
	body, err := json.Marshal(map[string]any{
		"room": roomName,
		"data": base64.StdEncoding.EncodeToString(payload),
		"kind": "reliable",
	})
	if err != nil {
		return fmt.Errorf("marshal send data: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/twirp/livekit.RoomService/SendData", body); err != nil {
		return fmt.Errorf("send data to room %s: %w", roomName, err)
	}
	return nil
}

// Health checks if the room service is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire dispatch slot: %w", err)
	}
	defer c.sem.Release(1)

	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		token, err := c.signAPIToken()
		if err != nil {
			return fmt.Errorf("sign api token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("room service error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
