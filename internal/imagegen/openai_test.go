package imagegen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masibasi/visurai/internal/imagegen"
	"github.com/masibasi/visurai/internal/provider"
)

type openAIWireRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

func newOpenAIClient(t *testing.T, baseURL, aspectRatio string) *imagegen.OpenAIClient {
	t.Helper()

	return imagegen.NewOpenAIClient(imagegen.OpenAIConfig{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "gpt-image-1",
		AspectRatio:    aspectRatio,
		TimeoutSeconds: 5,
	}, provider.NewLimiter(2), newTestLogger(t))
}

func TestOpenAIGenerateMapsAspectRatioToNearestSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		aspectRatio string
		wantSize    string
	}{
		{"wide", "16:9", "1792x1024"},
		{"tall", "9:16", "1024x1792"},
		{"square-ish", "5:4", "1024x1024"},
		{"malformed falls back to square", "wide", "1024x1024"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var gotSize string

			server := httptest.NewServer(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					var decoded openAIWireRequest

					err := json.NewDecoder(r.Body).Decode(&decoded)
					require.NoError(t, err)

					gotSize = decoded.Size

					_, _ = w.Write([]byte(`{"data": [{"url": "https://cdn.example.com/i.png"}]}`))
				}),
			)
			defer server.Close()

			client := newOpenAIClient(t, server.URL, testCase.aspectRatio)

			_, err := client.Generate(
				context.Background(),
				imagegen.Request{Prompt: "a tall tower"},
			)
			require.NoError(t, err)
			assert.Equal(t, testCase.wantSize, gotSize)
		})
	}
}

func TestOpenAIGenerateRetriesRemainingSizesInOrder(t *testing.T) {
	t.Parallel()

	var sizes []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)

		var decoded openAIWireRequest

		err := json.NewDecoder(r.Body).Decode(&decoded)
		require.NoError(t, err)

		sizes = append(sizes, decoded.Size)

		if decoded.Size != "1024x1792" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error": {"message": "unsupported size"}}`))

			return
		}

		_, _ = w.Write([]byte(`{"data": [{"url": "https://cdn.example.com/p.png"}]}`))
	}))
	defer server.Close()

	client := newOpenAIClient(t, server.URL, "16:9")

	url, err := client.Generate(context.Background(), imagegen.Request{Prompt: "a harbor"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/p.png", url)
	assert.Equal(t, []string{"1792x1024", "1024x1024", "1024x1792"}, sizes)
}

func TestOpenAIGenerateResolvesRedirects(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": [{"url": "` + server.URL + `/signed"}]}`))
	})
	mux.HandleFunc("/signed", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/assets/final.png", http.StatusFound)
	})
	mux.HandleFunc("/assets/final.png", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server = httptest.NewServer(mux)
	defer server.Close()

	client := imagegen.NewOpenAIClient(imagegen.OpenAIConfig{
		APIKey:           "test-key",
		BaseURL:          server.URL,
		Model:            "gpt-image-1",
		AspectRatio:      "16:9",
		TimeoutSeconds:   5,
		ResolveRedirects: true,
	}, provider.NewLimiter(2), newTestLogger(t))

	url, err := client.Generate(context.Background(), imagegen.Request{Prompt: "a harbor"})
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/assets/final.png", url)
}

func TestOpenAIGenerateUnavailableAbortsImmediately(t *testing.T) {
	t.Parallel()

	requests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++

		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream exploded"}}`))
	}))
	defer server.Close()

	client := newOpenAIClient(t, server.URL, "16:9")

	_, err := client.Generate(context.Background(), imagegen.Request{Prompt: "a harbor"})
	require.Error(t, err)
	assert.Equal(t, provider.FailureUnavailable, provider.KindOf(err))
	assert.Equal(t, 1, requests)
}
