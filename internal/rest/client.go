package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"schoolchat/internal/config"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

// Client talks to the backend's chat REST endpoints. Every call carries a
// client-side timeout so a slow backend can never hang the compose UI; the
// caller gets an error and a retry affordance instead.
type Client struct {
	baseURL string
	selfID  string
	http    *http.Client
}

var _ interfaces.API = (*Client)(nil)

// NewClient creates a REST client acting as the given session user. The
// user id is sent as the X-User-ID header on every request; authentication
// proper is owned by the session collaborator and out of scope here.
func NewClient(cfg *config.APIConfig, selfID string) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("api base URL is required")
	}
	if !types.IsValidUserID(selfID) {
		return nil, types.ErrInvalidUserID
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		selfID:  selfID,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ListConversations fetches the session user's conversation list.
func (c *Client) ListConversations(ctx context.Context) ([]*types.Conversation, error) {
	var out struct {
		Conversations []*types.Conversation `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// History fetches the full message history with one counterpart, ordered by
// created_at ascending.
func (c *Client) History(ctx context.Context, partnerID string) ([]*types.Message, error) {
	if !types.IsValidUserID(partnerID) {
		return nil, types.ErrInvalidUserID
	}
	var out struct {
		Messages []*types.Message `json:"messages"`
	}
	path := "/api/messages/" + url.PathEscape(partnerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CreateMessage persists a message and returns the server-assigned copy.
func (c *Client) CreateMessage(ctx context.Context, receiverID, body, clientID string) (*types.Message, error) {
	req := struct {
		ReceiverID string `json:"receiver_id"`
		Message    string `json:"message"`
		ClientID   string `json:"client_id,omitempty"`
	}{ReceiverID: receiverID, Message: body, ClientID: clientID}

	var out struct {
		Message *types.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return nil, err
	}
	if out.Message == nil {
		return nil, fmt.Errorf("backend returned no message")
	}
	return out.Message, nil
}

// DeleteConversation removes the whole thread with one counterpart.
func (c *Client) DeleteConversation(ctx context.Context, partnerID string) error {
	if !types.IsValidUserID(partnerID) {
		return types.ErrInvalidUserID
	}
	path := "/api/conversations/" + url.PathEscape(partnerID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do issues one JSON request. Non-2xx responses decode the backend's
// {"error": "..."} body into an APIError carrying the message verbatim.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-User-ID", c.selfID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
