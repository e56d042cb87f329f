// Package httpapi provides the HTTP interface used by the messaging front-end
// and the call bridge.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/command"
	"github.com/osa030/vcjukebox/internal/app/notification"
	"github.com/osa030/vcjukebox/internal/app/session"
	"github.com/osa030/vcjukebox/internal/app/transport"
)

// CommandHandler executes chat commands.
type CommandHandler interface {
	Handle(ctx context.Context, chatID int64, req command.Request) command.Reply
}

// SnapshotReader reads a chat's playback state.
type SnapshotReader interface {
	Snapshot(ctx context.Context, chatID int64) (session.Snapshot, error)
}

// EventSink accepts transport events reported by the call bridge.
type EventSink interface {
	Deliver(ctx context.Context, ev transport.Event) error
}

// Options configures the HTTP server.
type Options struct {
	AllowedOrigins []string
	BridgeToken    string        // Required on transport webhooks when set
	CommandTimeout time.Duration // Ceiling for a single command, 0 for none
}

// Server serves the HTTP API.
type Server struct {
	commands  CommandHandler
	snapshots SnapshotReader
	sink      EventSink
	notifier  *notification.Manager
	opts      Options
}

// New creates a new HTTP API server.
func New(commands CommandHandler, snapshots SnapshotReader, sink EventSink, notifier *notification.Manager, opts Options) *Server {
	return &Server{
		commands:  commands,
		snapshots: snapshots,
		sink:      sink,
		notifier:  notifier,
		opts:      opts,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/chats/{chatID}", func(r chi.Router) {
			r.Get("/", s.getChat)
			r.Post("/commands", s.postCommand)
		})
		r.With(s.bridgeAuth).Post("/transport/events", s.postTransportEvent)
		r.Get("/announcements", s.streamAnnouncements)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

// requestLogger logs each request with zerolog once it completes.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zlog.Debug().Msgf("http request: method=%s path=%s status=%d duration=%s request_id=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), chimw.GetReqID(r.Context()))
	})
}

// bridgeAuth validates the call bridge's bearer token.
func (s *Server) bridgeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.BridgeToken != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.BridgeToken {
			writeError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}
