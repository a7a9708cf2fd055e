// Package gateway talks to the messaging instance's HTTP API. One client per
// instance; campaigns carry the instance they send through.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	appErrors "github.com/samuelwildary2025/disparo/internal/errors"
	"github.com/samuelwildary2025/disparo/internal/model"
)

// Sender is the send-side contract the dispatch worker depends on.
type Sender interface {
	SendMessage(ctx context.Context, to, message string, simulateTyping time.Duration) error
}

// ConnectionStatus is the result of probing an instance.
type ConnectionStatus struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"` // connected | error
	Message    string `json:"message,omitempty"`
}

// Client sends messages through one instance.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	instanceID string
}

// NewClient builds a client for the given instance.
func NewClient(instance model.Instance, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    instance.BaseURL,
		apiKey:     instance.APIKey,
		instanceID: instance.ID,
	}
}

type sendMessageRequest struct {
	To               string `json:"to"`
	Message          string `json:"message"`
	SimulateTypingMs int64  `json:"simulateTypingMs"`
}

// SendMessage posts one outbound message. Any non-2xx response is an error;
// the worker decides whether to retry.
func (c *Client) SendMessage(ctx context.Context, to, message string, simulateTyping time.Duration) error {
	payload, err := json.Marshal(sendMessageRequest{
		To:               to,
		Message:          message,
		SimulateTypingMs: simulateTyping.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway send: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}

// ValidateConnection probes the instance's status endpoint.
func (c *Client) ValidateConnection(ctx context.Context) ConnectionStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return ConnectionStatus{InstanceID: c.instanceID, Status: "error", Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return ConnectionStatus{InstanceID: c.instanceID, Status: "error", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ConnectionStatus{
			InstanceID: c.instanceID,
			Status:     "error",
			Message:    fmt.Sprintf("status endpoint returned %d", resp.StatusCode),
		}
	}
	return ConnectionStatus{InstanceID: c.instanceID, Status: "connected"}
}

// EnsureConnected turns a failed probe into an error, used as a guard when
// starting a campaign.
func (c *Client) EnsureConnected(ctx context.Context) error {
	status := c.ValidateConnection(ctx)
	if status.Status != "connected" {
		msg := status.Message
		if msg == "" {
			msg = "instance disconnected"
		}
		return appErrors.New(msg, http.StatusServiceUnavailable)
	}
	return nil
}

var _ Sender = (*Client)(nil)
