package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClientSendsImageAsDataURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "the prompt", req.Messages[0].Content)
		parts := req.Messages[1].MultiContent
		require.Len(t, parts, 2)
		require.NotNil(t, parts[1].ImageURL)
		assert.True(t, strings.HasPrefix(parts[1].ImageURL.URL, "data:image/jpeg;base64,"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "object": "chat.completion", "choices": [{"index": 0, "message": {"role": "assistant", "content": "{}"}}]}`))
	}))
	defer srv.Close()

	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = srv.URL + "/v1"
	c := NewOpenAIClientWithConfig(cfg, "gpt-4o")

	text, err := c.Complete(context.Background(), "the prompt", Document{Name: "tle.jpg", MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}})
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
}

func TestOpenAIClientRejectsUnreadablePDF(t *testing.T) {
	c := NewOpenAIClientWithConfig(openai.DefaultConfig("k"), "gpt-4o")

	_, err := c.Complete(context.Background(), "p", Document{Name: "scan.pdf", MIMEType: "application/pdf", Data: []byte("not a pdf")})
	assert.ErrorContains(t, err, "scan.pdf")
}
