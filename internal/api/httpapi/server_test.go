package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/vcjukebox/internal/app/apperr"
	"github.com/osa030/vcjukebox/internal/app/command"
	"github.com/osa030/vcjukebox/internal/app/notification"
	"github.com/osa030/vcjukebox/internal/app/playback"
	"github.com/osa030/vcjukebox/internal/app/session"
	"github.com/osa030/vcjukebox/internal/domain/track"
	"github.com/osa030/vcjukebox/internal/infra/config"
	"github.com/osa030/vcjukebox/internal/infra/loopback"
)

const chatID int64 = -100300

type mapResolver map[string]track.Track

func (m mapResolver) Resolve(_ context.Context, query string) (track.Track, error) {
	t, ok := m[query]
	if !ok {
		return track.Track{}, apperr.Resolution(nil, "no results")
	}
	return t, nil
}

type stack struct {
	server   *Server
	engine   *playback.Engine
	notifier *notification.Manager
	handler  http.Handler
}

func newStack(t *testing.T, opts Options) *stack {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)

	lb := loopback.New(loopback.Config{})
	t.Cleanup(lb.Close)

	notifier := notification.NewManager()
	engine := playback.NewEngine(session.NewStore(), lb, notifier)
	resolver := mapResolver{
		"A": {StreamURL: "https://media.example/a", Title: "A", DurationSec: 180, Source: "A"},
		"B": {StreamURL: "https://media.example/b", Title: "B", DurationSec: 200, Source: "B"},
	}
	router := command.NewRouter(engine, resolver, nil, cfg)

	srv := New(router, engine, lb, notifier, opts)
	return &stack{server: srv, engine: engine, notifier: notifier, handler: srv.Handler()}
}

func (s *stack) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *stack) command(t *testing.T, text string) CommandResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/chats/-100300/commands", `{"text":"`+text+`","group":true,"user":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CommandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func (s *stack) chat(t *testing.T) ChatView {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/v1/chats/-100300", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view ChatView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func TestHealthAndMetrics(t *testing.T) {
	s := newStack(t, Options{})

	rec := s.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "vcjukebox_active_sessions")
}

func TestPostCommand(t *testing.T) {
	s := newStack(t, Options{CommandTimeout: 5 * time.Second})

	resp := s.command(t, "/play A")
	assert.Equal(t, CommandResponse{Reply: "Now playing: A", Kind: "ok"}, resp)

	resp = s.command(t, "/play B")
	assert.Equal(t, CommandResponse{Reply: "Added to queue: B (#1)", Kind: "ok"}, resp)

	resp = s.command(t, "/resume")
	assert.Equal(t, "state", resp.Kind)

	resp = s.command(t, "/play missing")
	assert.Equal(t, "resolution", resp.Kind)
}

func TestPostCommand_BadRequest(t *testing.T) {
	s := newStack(t, Options{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "chat id not a number", path: "/v1/chats/abc/commands", body: `{"text":"/skip"}`},
		{name: "malformed body", path: "/v1/chats/1/commands", body: `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetChat(t *testing.T) {
	s := newStack(t, Options{})

	view := s.chat(t)
	assert.Equal(t, "idle", view.State)
	assert.Nil(t, view.NowPlaying)
	assert.Empty(t, view.Queue)

	s.command(t, "/play A")
	s.command(t, "/play B")
	s.command(t, "/pause")

	view = s.chat(t)
	assert.Equal(t, chatID, view.ChatID)
	assert.Equal(t, "paused", view.State)
	require.NotNil(t, view.NowPlaying)
	assert.Equal(t, "A", view.NowPlaying.Title)
	assert.Equal(t, 180, view.NowPlaying.DurationSec)
	require.Len(t, view.Queue, 1)
	assert.Equal(t, "B", view.Queue[0].Title)
	assert.NotNil(t, view.StartedAt)
}

func TestPostTransportEvent(t *testing.T) {
	s := newStack(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.engine.Run(ctx)

	s.command(t, "/play A")
	s.command(t, "/play B")

	rec := s.do(t, http.MethodPost, "/v1/transport/events", `{"type":"stream_ended","chat_id":-100300}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		view := s.chat(t)
		return view.NowPlaying != nil && view.NowPlaying.Title == "B"
	}, 2*time.Second, 10*time.Millisecond)

	rec = s.do(t, http.MethodPost, "/v1/transport/events", `{"type":"voice_chat_closed","chat_id":-100300}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool {
		return s.chat(t).State == "idle"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPostTransportEvent_Invalid(t *testing.T) {
	s := newStack(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"type":`},
		{name: "unknown type", body: `{"type":"exploded","chat_id":1}`},
		{name: "missing chat id", body: `{"type":"stream_ended"}`},
		{name: "chat id of wrong type", body: `{"type":"stream_ended","chat_id":"one"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/v1/transport/events", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPostTransportEvent_BridgeToken(t *testing.T) {
	s := newStack(t, Options{BridgeToken: "secret"})
	body := `{"type":"stream_ended","chat_id":1}`

	rec := s.do(t, http.MethodPost, "/v1/transport/events", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/transport/events", body, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/transport/events", body, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestDecodeTransportEvent_LargeChatID(t *testing.T) {
	ev, err := decodeTransportEvent(map[string]any{
		"type":    "voice_chat_closed",
		"chat_id": json.Number("-1001234567890123"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-1001234567890123), ev.ChatID)
}

func TestStreamAnnouncements(t *testing.T) {
	s := newStack(t, Options{})
	ts := httptest.NewServer(s.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/announcements?chat_id=-100300", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool {
		return s.notifier.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	s.notifier.Broadcast(&notification.Notification{Type: "track_started", ChatID: 999, Title: "other chat"})
	s.notifier.Broadcast(&notification.Notification{Type: "track_started", ChatID: chatID, Title: "A"})

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var event, data string
	timeout := time.After(2 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed early")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-timeout:
			t.Fatal("no announcement received")
		}
	}

	assert.Equal(t, "track_started", event)
	var n notification.Notification
	require.NoError(t, json.Unmarshal([]byte(data), &n))
	assert.Equal(t, chatID, n.ChatID)
	assert.Equal(t, "A", n.Title)
	assert.Equal(t, uint64(2), n.SequenceNo)

	cancel()
	require.Eventually(t, func() bool {
		return s.notifier.SubscriberCount() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestStreamAnnouncements_EndsOnClose(t *testing.T) {
	s := newStack(t, Options{})
	ts := httptest.NewServer(s.handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/announcements")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return s.notifier.SubscriberCount() == 1
	}, time.Second, 10*time.Millisecond)

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		_, _ = io.Copy(io.Discard, resp.Body)
	}()

	s.notifier.Close()
	select {
	case <-ended:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after close")
	}
}

func TestStreamAnnouncements_InvalidChatID(t *testing.T) {
	s := newStack(t, Options{})
	rec := s.do(t, http.MethodGet, "/v1/announcements?chat_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
