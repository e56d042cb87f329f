package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/command"
	"github.com/osa030/vcjukebox/internal/app/playback"
	"github.com/osa030/vcjukebox/internal/app/transport"
	"github.com/osa030/vcjukebox/internal/domain/track"
)

// CommandRequest is the body of POST /v1/chats/{chatID}/commands.
type CommandRequest struct {
	Text  string `json:"text"`
	Group bool   `json:"group"`
	User  string `json:"user"`
}

// CommandResponse carries the single reply to a command.
type CommandResponse struct {
	Reply string `json:"reply"`
	Kind  string `json:"kind"`
}

// TrackView is the JSON form of a track.
type TrackView struct {
	Title       string `json:"title"`
	DurationSec int    `json:"duration_sec"`
	Source      string `json:"source,omitempty"`
}

// ChatView is the JSON form of a chat's playback state.
type ChatView struct {
	ChatID     int64       `json:"chat_id"`
	State      string      `json:"state"`
	NowPlaying *TrackView  `json:"now_playing,omitempty"`
	Queue      []TrackView `json:"queue"`
	Volume     int         `json:"volume,omitempty"`
	Pending    int         `json:"pending"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
}

// transportEvent is the webhook payload posted by the call bridge.
type transportEvent struct {
	Type   string `mapstructure:"type"`
	ChatID int64  `mapstructure:"chat_id"`
}

// POST /v1/chats/{chatID}/commands
func (s *Server) postCommand(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	var req CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	if s.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CommandTimeout)
		defer cancel()
	}

	reply := s.commands.Handle(ctx, chatID, command.Request{
		Text:  req.Text,
		Group: req.Group,
		User:  req.User,
	})
	writeJSON(w, http.StatusOK, CommandResponse{Reply: reply.Text, Kind: reply.Kind()})
}

// GET /v1/chats/{chatID}
func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := chatIDParam(w, r)
	if !ok {
		return
	}

	snap, err := s.snapshots.Snapshot(r.Context(), chatID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "chat is busy")
		return
	}

	view := ChatView{
		ChatID:  snap.ChatID,
		State:   playback.StateOf(snap).String(),
		Queue:   make([]TrackView, 0, len(snap.Queue)),
		Volume:  snap.Volume,
		Pending: snap.Pending,
	}
	if snap.NowPlaying != nil {
		np := toTrackView(*snap.NowPlaying)
		view.NowPlaying = &np
		started := snap.StartedAt
		view.StartedAt = &started
	}
	for _, t := range snap.Queue {
		view.Queue = append(view.Queue, toTrackView(t))
	}
	writeJSON(w, http.StatusOK, view)
}

// POST /v1/transport/events
func (s *Server) postTransportEvent(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := decodeTransportEvent(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.sink.Deliver(r.Context(), ev); err != nil {
		zlog.Warn().Msgf("failed to deliver transport event: type=%s chat_id=%d error=%v", ev.Type, ev.ChatID, err)
		writeError(w, http.StatusServiceUnavailable, "event feed unavailable")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func decodeTransportEvent(raw map[string]any) (transport.Event, error) {
	var payload transportEvent
	if err := mapstructure.Decode(raw, &payload); err != nil {
		return transport.Event{}, errors.Wrap(err, "invalid event")
	}
	typ, ok := transport.ParseEventType(payload.Type)
	if !ok {
		return transport.Event{}, errors.Newf("unknown event type %q", payload.Type)
	}
	if payload.ChatID == 0 {
		return transport.Event{}, errors.New("chat_id is required")
	}
	return transport.Event{Type: typ, ChatID: payload.ChatID}, nil
}

func chatIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chatID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return 0, false
	}
	return chatID, true
}

func toTrackView(t track.Track) TrackView {
	return TrackView{Title: t.Title, DurationSec: t.DurationSec, Source: t.Source}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Debug().Msgf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
