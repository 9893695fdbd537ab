// Package api is the REST client for the chat service's request/response
// surface: user directory, chat-session creation, and message history.
// Everything live goes over the signaling channel instead.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saharix/chatline/internal/chat"
	"github.com/saharix/chatline/internal/util"
)

// User is one directory entry.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
}

// ChatSession is a two-party chat created or fetched by participant.
type ChatSession struct {
	ID           string   `json:"_id"`
	Participants []string `json:"participants"`
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: util.NormalizeURL(baseURL),
		Token:   token,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// doJSON performs a request with the bearer credential attached, drains the
// response body, and decodes JSON into v (ignored when v is nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, v any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s %s: status %s", method, path, resp.Status)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// Users fetches the user directory.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out struct {
		Data []User `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// StartChat creates (or fetches) the chat session with a participant.
func (c *Client) StartChat(ctx context.Context, participantID string) (*ChatSession, error) {
	body := map[string]string{"participantId": participantID}
	var out ChatSession
	if err := c.doJSON(ctx, http.MethodPost, "/api/chats/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches the persisted history for one chat, oldest first.
func (c *Client) Messages(ctx context.Context, chatID string) ([]chat.Message, error) {
	var out []chat.Message
	if err := c.doJSON(ctx, http.MethodGet, "/api/chats/"+chatID+"/messages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
