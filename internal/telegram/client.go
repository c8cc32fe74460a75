package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/nhle/otp-forwarder/internal/deliver"
)

const defaultAPIBase = "https://api.telegram.org"

// Client is a minimal Telegram Bot API client covering exactly what the
// forwarder needs: sending messages and documents, and long-polling for
// command updates.
type Client struct {
	token      string
	apiBase    string
	httpClient *http.Client
}

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string) *Client {
	return &Client{
		token:      token,
		apiBase:    defaultAPIBase,
		httpClient: http.DefaultClient,
	}
}

// NewClientWithBase creates a client against a non-standard API base
// URL. Used by tests to point at a local server.
func NewClientWithBase(token, apiBase string) *Client {
	c := NewClient(token)
	c.apiBase = apiBase
	return c
}

// apiResponse is the Bot API envelope common to all methods.
type apiResponse struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// User is the sender of an incoming update.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username,omitempty"`
}

// Chat is the conversation an incoming message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// IncomingMessage is a message received by the bot.
type IncomingMessage struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text,omitempty"`
}

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

// SendMessage sends a text message to a chat. Failures are returned as
// *deliver.Failure so the delivery queue can decide whether to retry:
// client-side rejections (bad chat, blocked bot) are permanent, rate
// limits and server trouble are not.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &deliver.Failure{Permanent: true, Reason: fmt.Sprintf("marshaling sendMessage payload: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return &deliver.Failure{Permanent: true, Reason: fmt.Sprintf("building sendMessage request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doSend(req)
}

// SendDocument uploads a small in-memory file to a chat. Used for CSV
// history exports.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return fmt.Errorf("writing chat_id field: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("writing caption field: %w", err)
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("creating document part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("writing document content: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendDocument"), &buf)
	if err != nil {
		return fmt.Errorf("building sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.doSend(req)
}

// GetUpdates long-polls for incoming updates after offset. timeoutSec
// is the server-side hold; the HTTP client must allow at least that
// long, so the request is built without a client timeout and relies on
// the passed context.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         timeoutSec,
		"allowed_updates": []string{"message"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling getUpdates payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("getUpdates"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building getUpdates request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates request failed: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding getUpdates response: %w", err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("getUpdates returned %d: %s", envelope.ErrorCode, envelope.Description)
	}

	var updates []Update
	if err := json.Unmarshal(envelope.Result, &updates); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	return updates, nil
}

// doSend executes a send-style request and classifies the outcome.
func (c *Client) doSend(req *http.Request) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &deliver.Failure{Permanent: false, Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		respBody, _ := io.ReadAll(resp.Body)
		return &deliver.Failure{Permanent: false, Reason: fmt.Sprintf("undecodable response (status %d): %.80s", resp.StatusCode, respBody)}
	}
	if envelope.OK {
		return nil
	}

	reason := fmt.Sprintf("api error %d: %s", envelope.ErrorCode, envelope.Description)
	// 429 and 5xx are retry-worthy; 4xx means the destination or the
	// payload is wrong and retrying cannot fix it.
	permanent := envelope.ErrorCode >= 400 && envelope.ErrorCode < 500 && envelope.ErrorCode != 429
	return &deliver.Failure{Permanent: permanent, Reason: reason}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.apiBase, c.token, method)
}
