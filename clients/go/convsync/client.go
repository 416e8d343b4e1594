// Package convsync is a polling client for the messaging service. It keeps a
// local view of one conversation in sync: an outbox for optimistic sends, a
// merge of server history with pending messages, and a poll loop for new
// messages and typing signals.
package convsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is an HTTP client for the messaging service API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client authenticated with the given bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Message mirrors the server's message representation.
type Message struct {
	ID             int       `json:"id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Content        string    `json:"content"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	ReplyToID      *int      `json:"reply_to_id,omitempty"`
	ClientID       *string   `json:"client_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagePage is one page of history, oldest first.
type MessagePage struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// SendParams carries one outgoing message. ClientID makes retries safe: the
// server stores at most one message per (conversation, client id).
type SendParams struct {
	Content       string  `json:"content,omitempty"`
	AttachmentURL string  `json:"attachment_url,omitempty"`
	ReplyToID     *int    `json:"reply_to_id,omitempty"`
	ClientID      *string `json:"client_id,omitempty"`
}

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out != nil && len(respBody) > 0 {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

// ListMessages fetches one page of history. An empty cursor returns the most
// recent page.
func (c *Client) ListMessages(ctx context.Context, conversationID int, cursor string, limit int) (MessagePage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := fmt.Sprintf("/conversations/%d/messages", conversationID)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page MessagePage
	err := c.doRequest(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

// SendMessage posts a message. Sending the same ClientID twice returns the
// originally stored message.
func (c *Client) SendMessage(ctx context.Context, conversationID int, params SendParams) (Message, error) {
	var msg Message
	err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/messages", conversationID), params, &msg)
	return msg, err
}

// SetTyping reports whether the caller is typing.
func (c *Client) SetTyping(ctx context.Context, conversationID int, typing bool) error {
	body := map[string]bool{"is_typing": typing}
	return c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/conversations/%d/typing", conversationID), body, nil)
}

// GetTyping returns who else is typing in the conversation.
func (c *Client) GetTyping(ctx context.Context, conversationID int) ([]int, error) {
	var resp struct {
		Typing []int `json:"typing"`
	}
	err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/conversations/%d/typing", conversationID), nil, &resp)
	return resp.Typing, err
}
