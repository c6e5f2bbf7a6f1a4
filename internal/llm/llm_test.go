package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anna-assistant/annad/internal/config"
)

func TestCompletePostsToChalCompletionsAndParsesContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "classify this request", req.Messages[0].Content)

		resp := Response{
			ID:    "1",
			Model: "test-model",
			Choices: []Choice{
				{Index: 0, Message: Message{Role: "assistant", Content: `{"domain":"storage"}`}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	c := NewClient(config.LLM{Endpoint: server.URL, Model: "test-model", Timeout: config.Duration{}})
	content, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "classify this request"}})
	require.NoError(t, err)
	assert.Equal(t, `{"domain":"storage"}`, content)
}

func TestCompleteReturnsErrorOnNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(config.LLM{Endpoint: server.URL, Model: "m"})
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.Error(t, err)
}

func TestCompleteReturnsErrorOnEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(Response{}))
	}))
	defer server.Close()

	c := NewClient(config.LLM{Endpoint: server.URL, Model: "m"})
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}})
	assert.Error(t, err)
}
