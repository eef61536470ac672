// Package api is the HTTP client for the chat gateway's REST surface. The
// socket carries incremental events only; login, history backfill, durable
// sends, read receipts, and the admin roster all go through these calls.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/paydesk/finchat/internal/domain"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// Client talks to the gateway's REST endpoints. It is safe for concurrent
// use; the bearer token set by Login is shared by all subsequent requests.
type Client struct {
	baseURL string
	client  *http.Client

	mu    sync.RWMutex
	token string
}

// NewClient creates a client for the given gateway base URL, for example
// "http://localhost:8080".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Token returns the current bearer token, or empty before login.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken installs a previously obtained bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// LoginResult is the authenticated identity returned by the gateway.
type LoginResult struct {
	Token       string      `json:"token"`
	ActorID     string      `json:"actorId"`
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"displayName"`
}

// Login exchanges credentials for a bearer token and stores it on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, http.MethodPost, "/api/login", map[string]string{
		"email":    email,
		"password": password,
	}, &result)
	if err != nil {
		return LoginResult{}, err
	}
	c.SetToken(result.Token)
	return result, nil
}

// History returns a conversation's full message list, oldest first.
func (c *Client) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var result struct {
		Messages []domain.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/conversations/%s/messages", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// SendMessage durably persists a message and returns the confirmed record
// with its server id and sequence number. The local id is echoed back for
// optimistic reconciliation.
func (c *Client) SendMessage(ctx context.Context, conversationID, body, localID string) (domain.Message, error) {
	var result struct {
		Message domain.Message `json:"message"`
	}
	path := fmt.Sprintf("/api/conversations/%s/messages", conversationID)
	err := c.do(ctx, http.MethodPost, path, map[string]string{
		"body":    body,
		"localId": localID,
	}, &result)
	if err != nil {
		return domain.Message{}, err
	}
	return result.Message, nil
}

// MarkRead marks the conversation's peer messages read and returns the
// affected server ids.
func (c *Client) MarkRead(ctx context.Context, conversationID string) ([]string, error) {
	var result struct {
		MessageIDs []string `json:"messageIds"`
	}
	path := fmt.Sprintf("/api/conversations/%s/read", conversationID)
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return result.MessageIDs, nil
}

// Conversations returns the admin roster with previews and unread counts,
// most recently active first.
func (c *Client) Conversations(ctx context.Context) ([]domain.RosterEntry, error) {
	var result struct {
		Conversations []domain.RosterEntry `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &result); err != nil {
		return nil, err
	}
	return result.Conversations, nil
}

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error (%d): %s", e.StatusCode, e.Message)
}

// do runs one JSON request/response round trip.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
