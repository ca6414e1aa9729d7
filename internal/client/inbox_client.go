package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

// InboxClient talks to a running inbox server.
type InboxClient struct {
	baseURL string
	client  *http.Client
}

func NewInboxClient(baseURL string) *InboxClient {
	return &InboxClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WebhookAck is the server's answer to a posted payload.
type WebhookAck struct {
	Success bool `json:"success"`
	Report  struct {
		Source  string `json:"source"`
		Shape   string `json:"shape"`
		Intents int    `json:"intents"`
		Applied int    `json:"applied"`
		Skipped int    `json:"skipped"`
		Failed  int    `json:"failed"`
	} `json:"report"`
}

// PostPayload replays one raw payload against /webhook.
func (c *InboxClient) PostPayload(ctx context.Context, raw []byte) (WebhookAck, error) {
	var ack WebhookAck
	body, err := c.post(ctx, "/webhook", raw, http.StatusOK)
	if err != nil {
		return ack, err
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return ack, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	return ack, nil
}

type sendRequest struct {
	ConversationID string `json:"conversationId"`
	Body           string `json:"body"`
	ID             string `json:"id,omitempty"`
}

type sendResponse struct {
	Success bool           `json:"success"`
	Message *model.Message `json:"message"`
}

// Send composes an outgoing message through /api/send. id may be empty,
// in which case the server picks one.
func (c *InboxClient) Send(ctx context.Context, conversationID, text, id string) (model.Message, error) {
	reqBody, err := json.Marshal(sendRequest{
		ConversationID: conversationID,
		Body:           text,
		ID:             id,
	})
	if err != nil {
		return model.Message{}, err
	}

	body, err := c.post(ctx, "/api/send", reqBody, http.StatusCreated)
	if err != nil {
		return model.Message{}, err
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return model.Message{}, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if sr.Message == nil {
		return model.Message{}, fmt.Errorf("missing message in response body=%q", string(body))
	}
	return *sr.Message, nil
}

func (c *InboxClient) post(ctx context.Context, path string, payload []byte, want int) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != want {
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}
	return body, nil
}
