package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"mealflow/config"
	"mealflow/internal/metrics"
	"mealflow/logger"
	"mealflow/models"
)

const refreshPath = "/auth/refresh"

// TokenSource provides the persisted token pair and accepts the rotated
// access token after a successful refresh.
type TokenSource interface {
	Tokens() (models.Tokens, error)
	SaveToken(token string) error
	ClearTokens() error
}

// APIError carries a non-2xx response through to the caller unchanged.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, string(e.Body))
}

// Client wraps outbound REST calls with bearer-token injection, a
// deduplicated token refresh on 401, and retry with backoff for idempotent
// methods. The refresh endpoint itself never recurses into another refresh.
type Client struct {
	baseURL       string
	http          *http.Client
	tokens        TokenSource
	retry         config.RetryConfig
	refresh       singleflight.Group
	onAuthExpired func()
	log           *logger.Log
}

// New creates a Client for the configured API base URL. The onAuthExpired
// callback fires when a token refresh fails terminally; the UI layer uses it
// to route to login. It may be nil.
func New(cfg config.APIConfig, tokens TokenSource, onAuthExpired func()) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.ConnectionPool.IdleConnTimeout,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		tokens:        tokens,
		retry:         cfg.Retry,
		onAuthExpired: onAuthExpired,
		log:           logger.GetLogger(),
	}
}

// Do performs a request against the API. The 401 and retry policies are
// independent: a 401 goes through the refresh-and-replay path exactly once
// and never falls through to generic retry; other failures retry only when
// the method is idempotent and the failure is transient.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	requestID := uuid.NewString()
	start := time.Now()
	log := c.log.WithComponent("httpclient").WithFields(logger.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	})

	retryCount := 0
	refreshed := false

	for {
		metrics.IncrementHTTPRequest()
		status, respBody, err := c.send(ctx, method, path, body, requestID)

		if err == nil && status < http.StatusBadRequest {
			logger.LogDuration(log, "httpclient", "request", time.Since(start), logger.Fields{"status": status})
			return respBody, nil
		}

		if err == nil && status == http.StatusUnauthorized && path != refreshPath {
			if refreshed {
				// Replay with the refreshed token still came back 401.
				return nil, &APIError{Status: status, Body: respBody}
			}
			if _, rerr := c.refreshToken(ctx); rerr != nil {
				return nil, fmt.Errorf("token refresh failed: %w", rerr)
			}
			refreshed = true
			log.Debug("token refreshed, replaying request")
			continue
		}

		if c.shouldRetry(method, status, err, retryCount) {
			retryCount++
			metrics.IncrementHTTPRetry()
			delay := c.retryDelay(retryCount)
			log.WithFields(logger.Fields{
				"attempt": retryCount,
				"status":  status,
				"delay":   delay.String(),
			}).Warn("transient failure, retrying request")

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		return nil, &APIError{Status: status, Body: respBody}
	}
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, requestID string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	// The token is read per attempt so a replay picks up the refreshed one.
	if tokens, err := c.tokens.Tokens(); err == nil && tokens.Token != "" {
		req.Header.Set("Authorization", "Bearer "+tokens.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// idempotentMethods are safe to replay without side-effect duplication.
// POST and PATCH are excluded.
var idempotentMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

func (c *Client) shouldRetry(method string, status int, err error, retryCount int) bool {
	if !idempotentMethods[method] {
		return false
	}
	if retryCount >= c.retry.MaxAttempts {
		return false
	}
	if err != nil {
		// No response received at all.
		return true
	}
	return status >= http.StatusInternalServerError || status == http.StatusTooManyRequests
}

// retryDelay grows exponentially with the attempt count plus random jitter,
// so fleets of clients do not retry in lockstep.
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.retry.BaseDelay * time.Duration(1<<uint(attempt-1))
	if c.retry.MaxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(c.retry.MaxJitter)))
	}
	return delay
}

// refreshToken performs the refresh call, deduplicated across concurrent
// failing requests: however many requests 401 at once, the endpoint is called
// once and every waiter resolves with the same outcome.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	token, err, _ := c.refresh.Do("refresh", func() (interface{}, error) {
		metrics.IncrementTokenRefresh()

		tokens, err := c.tokens.Tokens()
		if err != nil {
			return nil, err
		}
		if tokens.RefreshToken == "" {
			c.expireAuth()
			return nil, fmt.Errorf("no refresh token available")
		}

		payload, err := json.Marshal(models.RefreshRequest{RefreshToken: tokens.RefreshToken})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal refresh request: %w", err)
		}

		requestID := uuid.NewString()
		status, respBody, err := c.send(ctx, http.MethodPost, refreshPath, payload, requestID)
		if err != nil {
			// A refresh that dies on the wire is just as terminal as a
			// rejected one: leaving stale tokens behind would loop the
			// caller through 401s with no login prompt.
			c.expireAuth()
			return nil, err
		}
		if status != http.StatusOK {
			c.expireAuth()
			return nil, &APIError{Status: status, Body: respBody}
		}

		var refreshResp models.RefreshResponse
		if err := json.Unmarshal(respBody, &refreshResp); err != nil {
			return nil, fmt.Errorf("failed to decode refresh response: %w", err)
		}
		if err := c.tokens.SaveToken(refreshResp.Token); err != nil {
			return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
		}

		c.log.WithComponent("httpclient").Info("access token refreshed")
		return refreshResp.Token, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *Client) expireAuth() {
	if err := c.tokens.ClearTokens(); err != nil {
		c.log.WithComponent("httpclient").WithError(err).Warn("failed to clear auth state")
	}
	if c.onAuthExpired != nil {
		c.onAuthExpired()
	}
}

// GetJSON issues a GET and decodes the response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

// PostJSON issues a POST with a JSON body and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPost, path, in, out)
}

// PutJSON issues a PUT with a JSON body and decodes the response into out.
func (c *Client) PutJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPut, path, in, out)
}

// DeleteJSON issues a DELETE and decodes the response into out when non-nil.
func (c *Client) DeleteJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.Do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}
	body, err := c.Do(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(body, out)
}
