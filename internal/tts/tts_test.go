// Package tts_test contains tests for the speech adapter.
package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masibasi/visurai/internal/provider"
	"github.com/masibasi/visurai/internal/tts"
)

type mockProber struct {
	DurationFunc func(ctx context.Context, path string) (float64, error)
}

func (m *mockProber) Duration(ctx context.Context, path string) (float64, error) {
	return m.DurationFunc(ctx, path)
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	return log
}

func newTestClient(t *testing.T, baseURL, outputDir string) *tts.Client {
	t.Helper()

	prober := &mockProber{
		DurationFunc: func(_ context.Context, _ string) (float64, error) {
			return 3.75, nil
		},
	}

	return tts.New(tts.Config{
		APIKey:         "test-key",
		BaseURL:        baseURL,
		Model:          "gpt-4o-mini-tts",
		Voice:          "alloy",
		OutputDir:      outputDir,
		PublicBasePath: "/static/audio",
		TimeoutSeconds: 5,
	}, provider.NewLimiter(2), prober, newTestLogger(t))
}

func TestSynthesizeWritesClipAndMeasuresDuration(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)

		var payload struct {
			Model string `json:"model"`
			Voice string `json:"voice"`
			Input string `json:"input"`
		}

		err := json.NewDecoder(r.Body).Decode(&payload)
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini-tts", payload.Model)
		assert.Equal(t, "alloy", payload.Voice)
		assert.Equal(t, "A fox crossed the river.", payload.Input)

		_, _ = w.Write([]byte("ID3-fake-mp3-bytes"))
	}))
	defer server.Close()

	outputDir := t.TempDir()
	client := newTestClient(t, server.URL, outputDir)

	result, err := client.Synthesize(context.Background(), 2, "A fox crossed the river.")
	require.NoError(t, err)

	assert.InDelta(t, 3.75, result.DurationSeconds, 0.0001)

	filename := filepath.Base(result.Path)
	assert.Regexp(t, regexp.MustCompile(`^scene_2_alloy_\d+_[0-9a-f]{6}\.mp3$`), filename)
	assert.Equal(t, "/static/audio/"+filename, result.URL)

	written, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-fake-mp3-bytes"), written)
}

func TestSynthesizeUniqueFilenames(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("audio"))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, t.TempDir())

	first, err := client.Synthesize(context.Background(), 1, "Same text.")
	require.NoError(t, err)

	second, err := client.Synthesize(context.Background(), 1, "Same text.")
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
}

func TestSynthesizeEmptyText(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://127.0.0.1:0", t.TempDir())

	_, err := client.Synthesize(context.Background(), 1, "   ")
	require.ErrorIs(t, err, tts.ErrEmptyText)
}

func TestSynthesizeProviderFailureIsTyped(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"error": "insufficient credit"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, t.TempDir())

	_, err := client.Synthesize(context.Background(), 1, "Some text.")
	require.Error(t, err)
	assert.Equal(t, provider.FailureCreditExhausted, provider.KindOf(err))
}

func TestSynthesizeEmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, t.TempDir())

	_, err := client.Synthesize(context.Background(), 1, "Some text.")
	require.ErrorIs(t, err, tts.ErrEmptyAudio)
}
