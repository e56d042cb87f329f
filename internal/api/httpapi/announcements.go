package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/notification"
)

const keepAliveInterval = 15 * time.Second

// GET /v1/announcements[?chat_id=N]
// Streams playback announcements as server-sent events.
func (s *Server) streamAnnouncements(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var chatFilter int64
	if v := r.URL.Query().Get("chat_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid chat id")
			return
		}
		chatFilter = id
	}

	stream := notification.NewChannelStream(32)
	id := s.notifier.Subscribe(stream)
	defer s.notifier.Unsubscribe(id)
	zlog.Debug().Msgf("announcement subscriber connected: subscription_id=%s chat_id=%d", id, chatFilter)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			zlog.Debug().Msgf("announcement subscriber disconnected: subscription_id=%s", id)
			return
		case <-s.notifier.Done():
			zlog.Debug().Msgf("announcements closed, ending stream: subscription_id=%s", id)
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n := <-stream.C:
			if chatFilter != 0 && n.ChatID != chatFilter {
				continue
			}
			data, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", n.SequenceNo, n.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
