package translator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anna-assistant/annad/internal/config"
	"github.com/anna-assistant/annad/internal/llm"
)

func TestTranslateWithNilLLMUsesHouseRules(t *testing.T) {
	tr := New(nil)
	ticket, err := tr.Translate(context.Background(), "my disk is almost full", "")
	require.NoError(t, err)

	assert.True(t, ticket.FallbackUsed)
	assert.Equal(t, "storage", ticket.Domain)
	assert.Equal(t, []string{"df", "lsblk"}, ticket.NeededProbeIDs)
}

func TestTranslateHouseRulesUnmatchedRequestsClarification(t *testing.T) {
	tr := New(nil)
	ticket, err := tr.Translate(context.Background(), "do the thing", "")
	require.NoError(t, err)

	assert.True(t, ticket.FallbackUsed)
	assert.NotEmpty(t, ticket.Clarification)
}

func TestTranslateUsesLLMParseWhenReliable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := llm.Response{
			Choices: []llm.Choice{{Message: llm.Message{Content: `{
				"intent":"question","domain":"network","route_class":"diagnostics",
				"targets":["eth0"],"needed_probe_ids":["ip_addr"],"confidence":0.9
			}`}}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := llm.NewClient(config.LLM{Endpoint: server.URL, Model: "m"})
	tr := New(client)

	ticket, err := tr.Translate(context.Background(), "is my network ok", "")
	require.NoError(t, err)

	assert.False(t, ticket.FallbackUsed)
	assert.Equal(t, "network", ticket.Domain)
	assert.Equal(t, 0.9, ticket.Confidence)
	assert.Equal(t, 1, ticket.ParseAttempts)
}

func TestTranslateFallsBackWhenLLMParseUnreliable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := llm.Response{Choices: []llm.Choice{{Message: llm.Message{Content: `not json`}}}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	client := llm.NewClient(config.LLM{Endpoint: server.URL, Model: "m"})
	tr := New(client)

	ticket, err := tr.Translate(context.Background(), "my disk is full", "")
	require.NoError(t, err)

	assert.True(t, ticket.FallbackUsed)
	assert.Equal(t, "storage", ticket.Domain)
	assert.Equal(t, maxParseAttempts, ticket.ParseAttempts)
}
