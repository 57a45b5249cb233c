package caption

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionResponse = `{
  "id": "chatcmpl-123",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "message": {"role": "assistant", "content": "Golden hour, good company."},
    "finish_reason": "stop"
  }]
}`

func TestOpenAI_Caption(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "path %s", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse))
	}))
	defer srv.Close()

	backend := NewOpenAI("sk-test", "gpt-4o-mini", srv.URL+"/")
	got, err := backend.Caption(context.Background(), Request{
		Context:   "picnic",
		Image:     []byte{0xff, 0xd8},
		ImageMime: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, "Golden hour, good company.", got)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 120, body["max_tokens"])
	assert.EqualValues(t, 0.7, body["temperature"])

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	system := messages[0].(map[string]any)
	assert.Equal(t, "system", system["role"])

	user := messages[1].(map[string]any)
	assert.Equal(t, "user", user["role"])
	parts, ok := user["content"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "Context: picnic\nCreate the best caption for this photo.", parts[0].(map[string]any)["text"])
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"]
	assert.Equal(t, "data:image/jpeg;base64,/9g=", imageURL)
}

func TestOpenAI_CaptionWithoutImage(t *testing.T) {
	t.Parallel()

	var parts []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NoError(t, json.Unmarshal(body.Messages[1].Content, &parts))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse))
	}))
	defer srv.Close()

	_, err := NewOpenAI("sk-test", "gpt-4o-mini", srv.URL+"/").Caption(context.Background(), Request{})
	require.NoError(t, err)
	assert.Len(t, parts, 1)
}

func TestOpenAI_ErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI("sk-test", "gpt-4o-mini", srv.URL+"/").Caption(context.Background(), Request{Context: "x"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestOpenAI_NoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI("sk-test", "m", srv.URL+"/").Caption(context.Background(), Request{})
	assert.Error(t, err)
}

func TestGenerator_OpenAIFailureFallsBack(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	g := New(quietLogger(), NewOpenAI("sk-bad", "gpt-4o-mini", srv.URL+"/"), 5*time.Second)
	got := g.Generate(context.Background(), Request{Context: "Museum visit"})

	assert.Equal(t, "Museum visit. ✨", got.Text)
	assert.Equal(t, SourceFallback, got.Source)
}
