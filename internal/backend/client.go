// Package backend is the display's REST client for the household API.
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
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/hearthboard/internal/model"
)

// AuthError is returned for 401 and 403 responses. It matches
// model.ErrUnauthorized with errors.Is.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d: unauthorized", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *AuthError) Is(target error) bool {
	return target == model.ErrUnauthorized
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) ListEvents(ctx context.Context, householdID string) ([]model.CalendarEvent, error) {
	var out []model.CalendarEvent
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/households/%s/events", url.PathEscape(householdID)), nil, &out)
	return out, err
}

func (c *HTTPClient) ListCalendarSources(ctx context.Context, householdID string) ([]model.CalendarSource, error) {
	var out []model.CalendarSource
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/households/%s/calendar-sources", url.PathEscape(householdID)), nil, &out)
	return out, err
}

// ListChoreAssignments returns assignments with their chore and user
// summaries joined in.
func (c *HTTPClient) ListChoreAssignments(ctx context.Context, householdID string) ([]model.ChoreAssignment, error) {
	var out []model.ChoreAssignment
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/households/%s/chore-assignments", url.PathEscape(householdID)), nil, &out)
	return out, err
}

func (c *HTTPClient) GetDisplaySettings(ctx context.Context, displayID string) (model.DisplaySettings, error) {
	out := model.DefaultDisplaySettings()
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/displays/%s/settings", url.PathEscape(displayID)), nil, &out)
	return out, err
}

func (c *HTTPClient) CompleteChore(ctx context.Context, assignmentID string) (model.ChoreAssignment, error) {
	var out model.ChoreAssignment
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/chore-assignments/%s/complete", url.PathEscape(assignmentID)), nil, &out)
	return out, err
}

func (c *HTTPClient) UncompleteChore(ctx context.Context, assignmentID string) (model.ChoreAssignment, error) {
	var out model.ChoreAssignment
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/v1/chore-assignments/%s/uncomplete", url.PathEscape(assignmentID)), nil, &out)
	return out, err
}

func (c *HTTPClient) DeleteEvent(ctx context.Context, eventID string) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/v1/events/%s", url.PathEscape(eventID)), nil, nil)
}

// Heartbeat reports liveness once. It is not retried; the next tick is the
// retry.
func (c *HTTPClient) Heartbeat(ctx context.Context, displayID string) error {
	body := map[string]string{"displayId": displayID}
	return c.do(ctx, http.MethodPost, "/heartbeat", body, nil, 0)
}

// Health checks the API once without retries.
func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, 0)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	return c.do(ctx, method, requestPath, body, out, c.maxRetries)
}

func (c *HTTPClient) do(
	ctx context.Context,
	method, requestPath string,
	body any,
	out any,
	maxRetries int,
) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &AuthError{StatusCode: resp.StatusCode, Message: errPayload.Message}
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func correlationID() string {
	return "display_" + uuid.NewString()
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
