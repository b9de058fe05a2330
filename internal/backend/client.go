// Package backend is the REST client for the notification endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"campusdesk.io/notify/internal/config"
	"campusdesk.io/notify/internal/notification"
	apperrors "campusdesk.io/notify/internal/pkg/errors"
	"campusdesk.io/notify/internal/pkg/logger"
)

// maxRetryWait caps a single Retry-After wait.
const maxRetryWait = 30 * time.Second

// Client talks to the notification REST API with bearer authentication.
// It retries on HTTP 429, honouring Retry-After, and maps failures onto
// AppError codes.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	mutationMethod string

	mu    sync.RWMutex
	token string

	// sleep waits between 429 retries; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

var _ notification.API = (*Client)(nil)

// NewClient creates a Client for cfg. The token is set later with SetToken.
func NewClient(cfg config.APIConfig) *Client {
	method := strings.ToUpper(cfg.MutationMethod)
	if method != http.MethodPost {
		method = http.MethodPut
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:        cfg.NotificationsURL(),
		httpClient:     &http.Client{Timeout: timeout},
		maxRetries:     max(cfg.MaxRetries, 0),
		mutationMethod: method,
		sleep:          sleepContext,
	}
}

// SetToken replaces the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Recent returns the server's recent notifications. Both a bare array and a
// paged {"content": [...]} body are accepted.
func (c *Client) Recent(ctx context.Context) ([]notification.Notification, error) {
	body, err := c.do(ctx, http.MethodGet, "/recent", "")
	if err != nil {
		return nil, err
	}

	var items []notification.Notification
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var page struct {
		Content []notification.Notification `json:"content"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, invalidResponse(err, "recent")
	}
	return page.Content, nil
}

// UnreadCount returns the server's unread counter. The body is either a bare
// integer or an object with a count field.
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	body, err := c.do(ctx, http.MethodGet, "/unread-count", "")
	if err != nil {
		return 0, err
	}

	var n int
	if err := json.Unmarshal(body, &n); err == nil {
		return n, nil
	}
	var obj struct {
		Count       *int `json:"count"`
		UnreadCount *int `json:"unreadCount"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return 0, invalidResponse(err, "unread-count")
	}
	switch {
	case obj.Count != nil:
		return *obj.Count, nil
	case obj.UnreadCount != nil:
		return *obj.UnreadCount, nil
	}
	return 0, invalidResponse(fmt.Errorf("no count in %q", body), "unread-count")
}

// MarkRead marks one notification read on the server.
func (c *Client) MarkRead(ctx context.Context, id notification.ID) error {
	_, err := c.do(ctx, c.mutationMethod, "/"+url.PathEscape(string(id))+"/read", id)
	return err
}

// MarkAllRead marks every notification of the user read on the server.
func (c *Client) MarkAllRead(ctx context.Context) error {
	_, err := c.do(ctx, c.mutationMethod, "/read-all", "")
	return err
}

// Delete removes one notification on the server.
func (c *Client) Delete(ctx context.Context, id notification.ID) error {
	_, err := c.do(ctx, http.MethodDelete, "/"+url.PathEscape(string(id)), id)
	return err
}

// do runs a request and returns the response body of a 2xx answer. id, when
// set, is attached to not-found errors.
func (c *Client) do(ctx context.Context, method, path string, id notification.ID) ([]byte, error) {
	op := method + " " + path
	target := c.baseURL + path

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request %s: %w", op, err)
		}
		if token := c.bearer(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, apperrors.ErrBackendUnavailablef(err, op)
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, apperrors.ErrBackendUnavailablef(readErr, op)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt >= c.maxRetries {
				return nil, apperrors.New(apperrors.CodeRateLimited, "notification backend rate limit exceeded", http.StatusTooManyRequests).
					WithParams(map[string]interface{}{"op": op, "attempts": attempt + 1})
			}
			wait := retryAfter(resp, attempt)
			logger.Warn("notification backend rate limited, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if err := statusError(resp.StatusCode, op, id, body); err != nil {
			return nil, err
		}
		return body, nil
	}
}

func statusError(status int, op string, id notification.ID, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.New(apperrors.CodeUnauthorized, "not authorized for notifications", status).
			WithParams(map[string]interface{}{"op": op})
	case status == http.StatusNotFound && id != "":
		return apperrors.ErrNotificationNotFoundf(string(id))
	case status >= 500:
		return apperrors.Wrap(fmt.Errorf("status %d: %s", status, bytes.TrimSpace(body)),
			apperrors.CodeBackendUnavailable, "notification backend unavailable", status).
			WithParams(map[string]interface{}{"op": op})
	default:
		return apperrors.Wrap(fmt.Errorf("status %d: %s", status, bytes.TrimSpace(body)),
			apperrors.CodeInvalidResponse, "unexpected response from notification backend", status).
			WithParams(map[string]interface{}{"op": op})
	}
}

func invalidResponse(err error, op string) error {
	return apperrors.Wrap(err, apperrors.CodeInvalidResponse, "malformed response from notification backend", http.StatusBadGateway).
		WithParams(map[string]interface{}{"op": op})
}

// retryAfter reads Retry-After in seconds, falling back to 1s, 2s, 4s...
func retryAfter(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return min(time.Duration(seconds)*time.Second, maxRetryWait)
		}
	}
	return min(time.Duration(1<<uint(attempt))*time.Second, maxRetryWait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
