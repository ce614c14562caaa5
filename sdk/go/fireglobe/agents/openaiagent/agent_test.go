package openaiagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Marshal-AM/fireglobe/sdk/go/fireglobe"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeOpenAI(t *testing.T, reply func(req chatRequest) string) (*httptest.Server, *[]chatRequest) {
	t.Helper()
	var seen []chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply(req)},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestSendMessageKeepsHistoryUntilReset(t *testing.T) {
	srv, seen := fakeOpenAI(t, func(req chatRequest) string { return "reply" })
	agent, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", SystemPrompt: "You are a DeFi agent."})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = agent.SendMessage(ctx, "hello")
	require.NoError(t, err)
	_, err = agent.SendMessage(ctx, "swap 1 ETH")
	require.NoError(t, err)

	require.Len(t, *seen, 2)
	second := (*seen)[1]
	assert.Equal(t, DefaultModel, second.Model)
	require.Len(t, second.Messages, 4)
	assert.Equal(t, "system", second.Messages[0].Role)
	assert.Equal(t, "assistant", second.Messages[2].Role)
	assert.Equal(t, "swap 1 ETH", second.Messages[3].Content)

	require.NoError(t, agent.Reset(ctx))
	assert.NotEmpty(t, agent.ThreadID())

	_, err = agent.SendMessage(ctx, "fresh")
	require.NoError(t, err)
	assert.Len(t, (*seen)[2].Messages, 2, "history must be empty after Reset")
}

func TestEmptyReplyIsError(t *testing.T) {
	srv, _ := fakeOpenAI(t, func(chatRequest) string { return "  " })
	agent, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)

	_, err = agent.SendMessage(context.Background(), "hi")
	assert.True(t, errors.Is(err, fireglobe.ErrEmptyResponse))
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestMetadataDefaults(t *testing.T) {
	agent, err := New(Config{APIKey: "sk-test", Model: "gpt-4o"})
	require.NoError(t, err)
	meta := agent.Metadata()
	assert.Equal(t, "OpenAI Agent (gpt-4o)", meta.Name)
	assert.Equal(t, "OpenAI Chat Completions", meta.Framework)
	assert.Equal(t, "1.0.0", meta.Version)
}
