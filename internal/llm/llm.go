// Package llm is the client for Anna's external on-host inference server
// (spec §1 "the LLM transport (HTTP to an on-host inference server)"):
// a LocalAI-compatible `/v1/chat/completions` endpoint, wrapped in a
// circuit breaker so a wedged or unreachable server degrades callers to
// their deterministic fallbacks instead of hanging the pipeline.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/anna-assistant/annad/internal/config"
)

// Message is one chat turn in the LocalAI request/response contract.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body posted to /v1/chat/completions.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// Choice is one completion choice in a Response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Response is the body returned by /v1/chat/completions.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Client talks to the configured on-host inference server.
type Client struct {
	endpoint string
	model    string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// NewClient builds a Client from cfg. The breaker trips after 5
// consecutive failures and stays open for 30s before probing again,
// matching the cooldown shape the Autonomy Manager also uses (§4.M).
func NewClient(cfg config.LLM) *Client {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		http:     &http.Client{Timeout: cfg.Timeout.Duration},
		breaker:  breaker,
	}
}

// ErrCircuitOpen wraps gobreaker.ErrOpenState so callers can type-check
// without importing gobreaker directly.
var ErrCircuitOpen = gobreaker.ErrOpenState

// Complete sends messages to the inference server and returns the first
// choice's content. Callers (Translator, Specialist Runner) must treat any
// error, including ErrCircuitOpen, as "fall back to deterministic rules"
// rather than propagate it to the user.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, messages)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	reqBody := Request{Model: c.model, Messages: messages, Stream: false}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm: server returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: response had no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// State reports the breaker's current state. Neither the Stats RPC method
// nor the StatusSnapshot reads it.
func (c *Client) State() string {
	return c.breaker.State().String()
}
