package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshbridge/core"
	"github.com/hupe1980/meshbridge/provider"
)

func newTestProvider(handler http.HandlerFunc) (*Provider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := New(func(o *Options) {
		o.BaseURL = srv.URL
		o.Model = "test-model"
	})
	return p, srv
}

func TestGetResponse(t *testing.T) {
	var got chatRequest
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "clear skies"},
		})
	})
	defer srv.Close()

	resp, err := p.GetResponse(context.Background(), provider.Request{
		System: "You are a radio assistant.",
		Messages: []provider.Message{
			{Role: core.RoleUser, Text: ""},
			{Role: core.RoleUser, Text: "weather?"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "clear skies", resp.Text)
	assert.Empty(t, resp.ToolCalls)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "weather?", got.Messages[1].Content)
	assert.Equal(t, "test-model", got.Model)
	assert.False(t, got.Stream)
}

func TestGetResponse_WindowTrimsOldMessages(t *testing.T) {
	var got chatRequest
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(chatResponse{Message: chatMessage{Content: "ok"}})
	})
	defer srv.Close()

	var msgs []provider.Message
	for i := 0; i < 40; i++ {
		msgs = append(msgs, provider.Message{Role: core.RoleUser, Text: "m"})
	}
	_, err := p.GetResponse(context.Background(), provider.Request{Messages: msgs})
	require.NoError(t, err)
	assert.Len(t, got.Messages, 30)
}

func TestGetResponse_ServerError(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})
	defer srv.Close()

	_, err := p.GetResponse(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: core.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
	var perr *core.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, core.ProviderErrorService, perr.Kind)
	assert.Equal(t, http.StatusInternalServerError, perr.Status)
}

func TestGetResponse_RateLimited(t *testing.T) {
	p, srv := newTestProvider(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := p.GetResponse(context.Background(), provider.Request{
		Messages: []provider.Message{{Role: core.RoleUser, Text: "hi"}},
	})
	var perr *core.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, core.ProviderErrorRateLimited, perr.Kind)
	assert.Contains(t, perr.UserMessage(), "Rate limit")
}

func TestSupportsTools(t *testing.T) {
	assert.False(t, New().SupportsTools())
	assert.Equal(t, "ollama", New().Name())
}
