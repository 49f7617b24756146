package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/irb-compliance/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-key", server.URL+"/", "", option.WithMaxRetries(0))
	require.NoError(t, err)
	return client
}

func TestComplete_ReturnsFirstChoice(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "cmpl-1", "object": "chat.completion", "created": 1, "model": "llama3-8b-8192",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "The study is compliant."}}]
		}`))
	})

	out, err := client.Complete(context.Background(), Request{
		Messages:    UserPrompt("Evaluate this."),
		Temperature: 0.5,
		MaxTokens:   1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "The study is compliant.", out)

	assert.Equal(t, DefaultModel, body["model"])
	assert.EqualValues(t, 1000, body["max_tokens"])
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
}

func TestComplete_NoChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "cmpl-2", "object": "chat.completion", "created": 1, "model": "m", "choices": []}`))
	})

	_, err := client.Complete(context.Background(), Request{Messages: UserPrompt("x")})
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
}

func TestComplete_RateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached for model", "type": "tokens"}}`))
	})

	_, err := client.Complete(context.Background(), Request{Messages: UserPrompt("x")})
	assert.ErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestComplete_OtherErrorsAreNotRateLimits(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "invalid key", "type": "auth"}}`))
	})

	_, err := client.Complete(context.Background(), Request{Messages: UserPrompt("x")})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ratelimit.ErrRateLimited)
}

func TestNewClient_MissingKey(t *testing.T) {
	_, err := NewClient("", "", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
