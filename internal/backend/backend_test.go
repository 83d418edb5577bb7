package internal_backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dht-solution/callbridge/config"
	"github.com/dht-solution/callbridge/pkg/commons"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"vietnamese", "xin chào, tôi cần hỗ trợ", "vi"},
		{"japanese", "こんにちは", "ja"},
		{"korean", "안녕하세요", "ko"},
		{"chinese", "你好，我需要帮助", "zh"},
		{"thai", "สวัสดีครับ", "th"},
		{"english", "hello, I need help", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectLanguage(tt.text))
		})
	}
}

func TestStripReasoning(t *testing.T) {
	assert.Equal(t, "answer", stripReasoning("<think>hmm</think>answer"))
	assert.Equal(t, "plain", stripReasoning("plain"))
	assert.Equal(t, "before", stripReasoning("before<think>unterminated"))
	assert.Equal(t, "ab", stripReasoning("<think>1</think>a<think>2</think>b"))
}

func TestLocalGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req localChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 3) // system + user + assistant
		assert.Equal(t, "system", req.Messages[0].Role)

		json.NewEncoder(w).Encode(localChatResponse{
			Message: localChatMessage{Role: "assistant", Content: "<think>x</think> hi there "},
		})
	}))
	defer srv.Close()

	gen, err := NewLocalGenerator(LocalOptions{
		BaseURL:      srv.URL,
		Model:        "test-model",
		SystemPrompt: "be brief",
		Timeout:      2 * time.Second,
	}, commons.NewNopLogger())
	require.NoError(t, err)

	reply, err := gen.Generate(context.Background(), []Turn{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply)
}

func TestLocalGeneratorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	gen, err := NewLocalGenerator(LocalOptions{BaseURL: srv.URL, Model: "m"}, commons.NewNopLogger())
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "hello"}})
	assert.Error(t, err)
}

func TestLocalGeneratorEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(localChatResponse{
			Message: localChatMessage{Role: "assistant", Content: "<think>only thoughts</think>"},
		})
	}))
	defer srv.Close()

	gen, err := NewLocalGenerator(LocalOptions{BaseURL: srv.URL, Model: "m"}, commons.NewNopLogger())
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), []Turn{{Role: RoleUser, Content: "hello"}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestNewServicesRequiresOpenAIKey(t *testing.T) {
	_, err := NewServices(config.BackendConfig{Provider: "openai"}, commons.NewNopLogger())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewServicesProviderWiring(t *testing.T) {
	base := config.BackendConfig{
		OpenAIAPIKey:   "sk-test",
		OpenAIModel:    "gpt-4o-mini",
		AnthropicKey:   "ak-test",
		AnthropicModel: "claude-3-5-haiku-latest",
		LocalBaseURL:   "http://127.0.0.1:11434",
		LocalModel:     "qwen3:1.7b",
	}

	for _, provider := range []string{"openai", "anthropic", "local"} {
		cfg := base
		cfg.Provider = provider

		svc, err := NewServices(cfg, commons.NewNopLogger())
		require.NoError(t, err, provider)
		assert.NotNil(t, svc.Transcriber, provider)
		assert.NotNil(t, svc.Generator, provider)
		assert.NotNil(t, svc.Synthesizer, provider)
	}

	cfg := base
	cfg.Provider = "carrier-pigeon"
	_, err := NewServices(cfg, commons.NewNopLogger())
	assert.Error(t, err)
}
