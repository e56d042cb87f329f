package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:track:4cOdK2wGLETKBW3PvgPWqT",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "Spotify URL with query params",
			input:    "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT?si=abc123",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "Localized URL",
			input:    "https://open.spotify.com/intl-ja/track/4cOdK2wGLETKBW3PvgPWqT/",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "Plain track ID",
			input:    "4cOdK2wGLETKBW3PvgPWqT",
			expected: "4cOdK2wGLETKBW3PvgPWqT",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractTrackID(tt.input)
			assert.Equal(t, tt.expected, result,
				"extractTrackID(%s) should return %s", tt.input, tt.expected)
		})
	}
}

func TestIsTrackLink(t *testing.T) {
	c := &Client{}
	assert.True(t, c.IsTrackLink("spotify:track:abc"))
	assert.True(t, c.IsTrackLink("https://open.spotify.com/track/abc?si=1"))
	assert.False(t, c.IsTrackLink("https://open.spotify.com/playlist/abc"))
	assert.False(t, c.IsTrackLink("https://www.youtube.com/watch?v=abc"))
	assert.False(t, c.IsTrackLink("never gonna give you up"))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "rate limit error with 429",
			err:      errors.New("Error 429: rate limit exceeded"),
			expected: true,
		},
		{
			name:     "server error 503",
			err:      errors.New("503 Service Unavailable"),
			expected: true,
		},
		{
			name:     "client error 400",
			err:      errors.New("400 Bad Request"),
			expected: false,
		},
		{
			name:     "not found error",
			err:      errors.New("404 not found"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryable(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRetry(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: time.Millisecond}

	var calls int
	err := c.retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("503 Service Unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = c.retry(context.Background(), func() error {
		calls++
		return errors.New("404 not found")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors return immediately")
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "id"})
	assert.Error(t, err)
}

func TestLookupTrack(t *testing.T) {
	var tokenRequests atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v1/tracks/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/v1/tracks/")
		if id != "4cOdK2wGLETKBW3PvgPWqT" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"status":404,"message":"non existing id"}}`))
			return
		}
		assert.Equal(t, "JP", r.URL.Query().Get("market"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "4cOdK2wGLETKBW3PvgPWqT",
			"name": "Never Gonna Give You Up",
			"duration_ms": 213573,
			"artists": [{"name": "Rick Astley"}, {"name": "Guest"}]
		}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(context.Background(), Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Market:       "JP",
		TokenURL:     srv.URL + "/api/token",
		APIBaseURL:   srv.URL + "/v1/",
	})
	require.NoError(t, err)
	c.retryDelay = time.Millisecond

	title, artists, err := c.LookupTrack(context.Background(), "https://open.spotify.com/track/4cOdK2wGLETKBW3PvgPWqT?si=x")
	require.NoError(t, err)
	assert.Equal(t, "Never Gonna Give You Up", title)
	assert.Equal(t, []string{"Rick Astley", "Guest"}, artists)
	assert.Equal(t, int32(1), tokenRequests.Load())

	_, _, err = c.LookupTrack(context.Background(), "spotify:track:missing")
	assert.Error(t, err)
}
