package memo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIEmbedder(t *testing.T) {
	var gotAuth, gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model

		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	}))
	defer server.Close()

	e := NewOpenAIEmbedder("sk-test", "text-embedding-3-small",
		WithBaseURL(server.URL), WithDimension(3))
	assert.Equal(t, 3, e.Dimension())

	embedding, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, embedding)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "text-embedding-3-small", gotModel)
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	e := NewOpenAIEmbedder("sk-test", "text-embedding-3-small", WithBaseURL(server.URL))
	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIEmbedder_DefaultDimensions(t *testing.T) {
	assert.Equal(t, 1536, NewOpenAIEmbedder("k", "text-embedding-3-small").Dimension())
	assert.Equal(t, 3072, NewOpenAIEmbedder("k", "text-embedding-3-large").Dimension())
}

func TestCachedEmbedder(t *testing.T) {
	inner := &staticEmbedder{}
	cached, err := NewCachedEmbedder(inner, 100)
	require.NoError(t, err)
	defer cached.Close()

	first, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	cached.cache.Wait()

	second, err := cached.Embed(context.Background(), "same text")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "second identical embed is served from cache")
	assert.Equal(t, first, second)

	_, err = cached.Embed(context.Background(), "different text")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)

	assert.Equal(t, testDimension, cached.Dimension())
}
