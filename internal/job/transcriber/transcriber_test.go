package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepgram_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "nova-2", r.URL.Query().Get("model"))
		assert.Equal(t, "ru", r.URL.Query().Get("language"))
		assert.True(t, strings.EqualFold("token secret", r.Header.Get("Authorization")), r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://example.com/a.mp3", body["url"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"привет мир","confidence":0.98}]}]}}`))
	}))
	defer srv.Close()

	d := NewDeepgram(Config{APIKey: "secret", BaseURL: srv.URL + "/"})
	got, err := d.Transcribe(context.Background(), "https://example.com/a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "привет мир", got)
}

func TestDeepgram_CustomModelAndLanguage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "whisper", r.URL.Query().Get("model"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":""}]}]}}`))
	}))
	defer srv.Close()

	got, err := NewDeepgram(Config{APIKey: "k", BaseURL: srv.URL, Model: "whisper", Language: "en"}).
		Transcribe(context.Background(), "https://example.com/silence.wav")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeepgram_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"upstream error", http.StatusBadRequest, `{"err_code":"Bad Request","err_msg":"bad url"}`, "deepgram:"},
		{"no channels", http.StatusOK, `{"results":{"channels":[]}}`, "deepgram: response has no transcript"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewDeepgram(Config{APIKey: "k", BaseURL: srv.URL}).Transcribe(context.Background(), "https://x/a.mp3")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestDeepgram_NotConfigured(t *testing.T) {
	_, err := NewDeepgram(Config{}).Transcribe(context.Background(), "https://x/a.mp3")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestDeepgram_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewDeepgram(Config{APIKey: "k", BaseURL: srv.URL}).Transcribe(ctx, "https://x/a.mp3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFunc_Adapts(t *testing.T) {
	var tr Transcriber = Func(func(ctx context.Context, audioURL string) (string, error) {
		return "text for " + audioURL, nil
	})
	got, err := tr.Transcribe(context.Background(), "a.mp3")
	require.NoError(t, err)
	assert.Equal(t, "text for a.mp3", got)
}
