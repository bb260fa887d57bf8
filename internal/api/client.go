package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/riverline/casetrack/internal/chat"
)

// ErrReadOnly is returned by mutating calls on a share-link client.
var ErrReadOnly = errors.New("client is read-only")

// APIError is a non-2xx response from the case API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("case API returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the remote case API. A client constructed without a token
// (share-link viewer) may only call read endpoints.
type Client struct {
	base       string
	token      string
	HTTPClient *http.Client
}

// NewClient creates an authenticated case API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		base:       strings.TrimRight(baseURL, "/"),
		token:      token,
		HTTPClient: http.DefaultClient,
	}
}

// NewShareClient creates an unauthenticated, read-only client for the public
// share-link path. Mark-read and send capabilities are absent by design.
func NewShareClient(baseURL string) *Client {
	return &Client{
		base:       strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

// ReadOnly reports whether this client lacks write capabilities.
func (c *Client) ReadOnly() bool { return c.token == "" }

// CaseMessages fetches the chat history of a case. Used once at view mount.
func (c *Client) CaseMessages(ctx context.Context, caseID string) ([]chat.Message, error) {
	var wire []chat.WireMessage
	if err := c.do(ctx, http.MethodGet, "/cases/"+url.PathEscape(caseID)+"/messages", nil, &wire); err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(wire))
	for _, w := range wire {
		msgs = append(msgs, w.Message())
	}
	return msgs, nil
}

// Cases fetches the cases visible to the caller.
func (c *Client) Cases(ctx context.Context) ([]Case, error) {
	var cases []Case
	if err := c.do(ctx, http.MethodGet, "/cases", nil, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// RecentRemarks fetches the remarks visible to the caller, app-wide.
func (c *Client) RecentRemarks(ctx context.Context) ([]Remark, error) {
	var remarks []Remark
	if err := c.do(ctx, http.MethodGet, "/remarks/recent", nil, &remarks); err != nil {
		return nil, err
	}
	return remarks, nil
}

// CreateRemark posts a new remark on a service.
func (c *Client) CreateRemark(ctx context.Context, caseID, serviceID, body string) (Remark, error) {
	if c.ReadOnly() {
		return Remark{}, ErrReadOnly
	}
	path := "/cases/" + url.PathEscape(caseID) + "/services/" + url.PathEscape(serviceID) + "/remarks"
	var created Remark
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"body": body}, &created); err != nil {
		return Remark{}, err
	}
	return created, nil
}

// MarkRemarkRead marks one remark read for the calling user. Idempotent
// server-side; no body required.
func (c *Client) MarkRemarkRead(ctx context.Context, remarkID string) error {
	if c.ReadOnly() {
		return ErrReadOnly
	}
	return c.do(ctx, http.MethodPatch, "/remarks/"+url.PathEscape(remarkID)+"/read", nil, nil)
}

// MarkChatRead marks all chat messages in a case read for a user.
func (c *Client) MarkChatRead(ctx context.Context, caseID, userID string) error {
	if c.ReadOnly() {
		return ErrReadOnly
	}
	return c.do(ctx, http.MethodPut, "/chats/mark-read/"+url.PathEscape(caseID), map[string]string{"userId": userID}, nil)
}

// SendNotification delivers one push alert. Fire-and-forget at call sites:
// a non-2xx comes back as *APIError and is logged, never retried.
func (c *Client) SendNotification(ctx context.Context, userID, message, icon string) error {
	if c.ReadOnly() {
		return ErrReadOnly
	}
	payload := map[string]string{"userId": userID, "message": message}
	if icon != "" {
		payload["icon"] = icon
	}
	return c.do(ctx, http.MethodPost, "/pushnotifications/send-notification", payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(errBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
