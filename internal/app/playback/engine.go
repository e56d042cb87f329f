package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/apperr"
	"github.com/osa030/vcjukebox/internal/app/session"
	"github.com/osa030/vcjukebox/internal/app/transport"
	"github.com/osa030/vcjukebox/internal/domain/track"
	"github.com/osa030/vcjukebox/internal/infra/metrics"
)

// Volume bounds in percent.
const (
	MinVolume = 1
	MaxVolume = 200
)

// Errors
var (
	ErrNothingPlaying        = apperr.State("nothing is playing")
	ErrAlreadyPaused         = apperr.State("already paused")
	ErrNotPaused             = apperr.State("not paused")
	ErrStoppedWhileResolving = apperr.State("playback was stopped while resolving")
	ErrVolumeOutOfRange      = apperr.Validation("volume must be between %d and %d", MinVolume, MaxVolume)
	errUnknownTransportEvent = errors.New("unknown transport event")
)

// Ticket reserves a play request while its query resolves outside the chat guard.
type Ticket struct {
	ID        string
	ChatID    int64
	sessionID uint64
	epoch     uint64
}

// EnqueueResult describes where an enqueued track ended up.
type EnqueueResult struct {
	Track    track.Track
	Started  bool // Track joined the call and is now playing
	Position int  // 1-based queue position when not started
}

// AdvanceResult describes the outcome of an advance.
type AdvanceResult struct {
	Skipped *track.Track  // Track that was playing before the advance
	Next    *track.Track  // Track now playing, nil when the queue ran out
	Dropped []track.Track // Queued tracks discarded because they failed to start
}

// Stopped reports whether the advance ended the call.
func (r AdvanceResult) Stopped() bool {
	return r.Next == nil
}

// Engine drives per-chat playback through the transport.
// Every operation runs inside the chat's session guard.
type Engine struct {
	store     *session.Store
	transport transport.Transport
	announcer Announcer
	now       func() time.Time
}

// NewEngine creates a new playback engine. A nil announcer discards announcements.
func NewEngine(store *session.Store, tr transport.Transport, announcer Announcer) *Engine {
	if announcer == nil {
		announcer = nopAnnouncer{}
	}
	return &Engine{
		store:     store,
		transport: tr,
		announcer: announcer,
		now:       time.Now,
	}
}

// Begin reserves a play request for the chat before its query is resolved.
// Every ticket must be passed to either Enqueue or Abandon.
func (e *Engine) Begin(ctx context.Context, chatID int64) (Ticket, error) {
	var ticket Ticket
	err := e.withSession(ctx, chatID, func(s *session.Session) ([]Event, error) {
		s.Pending++
		ticket = Ticket{
			ID:        uuid.New().String(),
			ChatID:    chatID,
			sessionID: s.ID,
			epoch:     s.Epoch,
		}
		return nil, nil
	})
	if err != nil {
		return Ticket{}, err
	}
	zlog.Debug().Msgf("play request reserved: chat_id=%d ticket=%s", chatID, ticket.ID)
	return ticket, nil
}

// Abandon releases a ticket whose resolution failed.
func (e *Engine) Abandon(ctx context.Context, ticket Ticket) {
	err := e.withSession(ctx, ticket.ChatID, func(s *session.Session) ([]Event, error) {
		releaseTicket(s, ticket)
		return nil, nil
	})
	if err != nil {
		zlog.Warn().Msgf("failed to abandon play request: chat_id=%d ticket=%s error=%v", ticket.ChatID, ticket.ID, err)
	}
}

// Enqueue adds a resolved track for the ticket's chat. When no call is active
// and the queue is empty the track joins the call immediately.
// The ticket is released even when the guard cannot be acquired.
func (e *Engine) Enqueue(ctx context.Context, ticket Ticket, t track.Track) (EnqueueResult, error) {
	var res EnqueueResult
	released := false
	err := e.withSession(ctx, ticket.ChatID, func(s *session.Session) ([]Event, error) {
		releaseTicket(s, ticket)
		released = true
		if s.Epoch != ticket.epoch {
			return nil, ErrStoppedWhileResolving
		}

		if !s.CallActive && len(s.Queue) == 0 {
			if err := e.call("join", func() error { return e.transport.Join(ctx, s.ChatID, t) }); err != nil {
				return nil, err
			}
			s.Play(t, e.now())
			metrics.TracksStartedTotal.Inc()
			res = EnqueueResult{Track: t, Started: true}
			zlog.Info().Msgf("track started: chat_id=%d title=%q duration=%d", s.ChatID, t.Title, t.DurationSec)
			return []Event{e.event(EventTrackStarted, s, &t)}, nil
		}

		pos := s.Append(t)
		res = EnqueueResult{Track: t, Position: pos}
		zlog.Info().Msgf("track queued: chat_id=%d title=%q position=%d", s.ChatID, t.Title, pos)
		return nil, nil
	})
	if !released {
		e.Abandon(context.WithoutCancel(ctx), ticket)
	}
	return res, err
}

// Play reserves, enqueues and releases in one step for an already resolved track.
func (e *Engine) Play(ctx context.Context, chatID int64, t track.Track) (EnqueueResult, error) {
	ticket, err := e.Begin(ctx, chatID)
	if err != nil {
		return EnqueueResult{}, err
	}
	return e.Enqueue(ctx, ticket, t)
}

// Skip stops the current track and advances to the next queued one.
func (e *Engine) Skip(ctx context.Context, chatID int64) (AdvanceResult, error) {
	var res AdvanceResult
	err := e.withSession(ctx, chatID, func(s *session.Session) ([]Event, error) {
		if !s.CallActive {
			return nil, ErrNothingPlaying
		}
		var skipped *track.Track
		if s.NowPlaying != nil {
			np := *s.NowPlaying
			skipped = &np
		}

		var events []Event
		var err error
		res, events, err = e.advance(ctx, s)
		res.Skipped = skipped
		if skipped != nil && (res.Next != nil || !s.CallActive) {
			events = append([]Event{e.event(EventTrackSkipped, s, skipped)}, events...)
		}
		return events, err
	})
	return res, err
}

// Pause pauses the playing stream.
func (e *Engine) Pause(ctx context.Context, chatID int64) error {
	return e.withSession(ctx, chatID, func(s *session.Session) ([]Event, error) {
		if !s.CallActive {
			return nil, ErrNothingPlaying
		}
		if s.Paused {
			return nil, ErrAlreadyPaused
		}
		if err := e.call("pause", func() error { return e.transport.Pause(ctx, s.ChatID) }); err != nil {
			return nil, err
		}
		s.Paused = true
		zlog.Info().Msgf("playback paused: chat_id=%d", s.ChatID)
		return []Event{e.event(EventStateChanged, s, s.NowPlaying)}, nil
	})
}

// Resume resumes a paused stream.
func (e *Engine) Resume(ctx context.Context, chatID int64) error {
	return e.withSession(ctx, chatID, func(s *session.Session) ([]Event, error) {
		if !s.CallActive {
			return nil, ErrNothingPlaying
		}
		if !s.Paused {
			return nil, ErrNotPaused
		}
		if err := e.call("resume", func() error { return e.transport.Resume(ctx, s.ChatID) }); err != nil {
			return nil, err
		}
		s.Paused = false
		zlog.Info().Msgf("playback resumed: chat_id=%d", s.ChatID)
		return []Event{e.event(EventStateChanged, s, s.NowPlaying)}, nil
	})
}

// Stop leaves the call and discards the queue.
func (e *Engine) Stop(ctx context.Context, chatID int64) error {
	return e.withSession(ctx, chatID, func(s *session.Session) ([]Event, error) {
		if !s.CallActive {
			return nil, ErrNothingPlaying
		}
		if err := e.call("leave", func() error { return e.transport.Leave(ctx, s.ChatID) }); err != nil {
			return nil, err
		}
		discarded := len(s.Queue)
		s.Reset()
		zlog.Info().Msgf("playback stopped: chat_id=%d discarded=%d", s.ChatID, discarded)
		return []Event{e.event(EventPlaybackStopped, s, nil)}, nil
	})
}

// SetVolume forwards a volume change to the live call.
func (e *Engine) SetVolume(ctx context.Context, chatID int64, level int) error {
	if level < MinVolume || level > MaxVolume {
		return ErrVolumeOutOfRange
	}
	return e.withSession(ctx, chatID, func(s *session.Session) ([]Event, error) {
		if !s.CallActive {
			return nil, ErrNothingPlaying
		}
		if err := e.call("volume", func() error { return e.transport.SetVolume(ctx, s.ChatID, level) }); err != nil {
			return nil, err
		}
		s.Volume = level
		zlog.Info().Msgf("volume changed: chat_id=%d level=%d", s.ChatID, level)
		return nil, nil
	})
}

// HandleEvent reacts to an asynchronous transport event.
func (e *Engine) HandleEvent(ctx context.Context, ev transport.Event) error {
	var err error
	switch ev.Type {
	case transport.EventStreamEnded:
		err = e.withSession(ctx, ev.ChatID, func(s *session.Session) ([]Event, error) {
			if !s.CallActive {
				zlog.Debug().Msgf("stream ended without an active call: chat_id=%d", s.ChatID)
				return nil, nil
			}
			_, events, err := e.advance(ctx, s)
			return events, err
		})
	case transport.EventVoiceChatClosed:
		err = e.withSession(ctx, ev.ChatID, func(s *session.Session) ([]Event, error) {
			active := s.CallActive || len(s.Queue) > 0
			discarded := len(s.Queue)
			s.Reset()
			zlog.Info().Msgf("voice chat closed: chat_id=%d discarded=%d", s.ChatID, discarded)
			if !active {
				return nil, nil
			}
			return []Event{e.event(EventSessionClosed, s, nil)}, nil
		})
	default:
		err = errors.Wrapf(errUnknownTransportEvent, "type=%d", int(ev.Type))
	}
	metrics.TransportEventsTotal.WithLabelValues(ev.Type.String(), metrics.Outcome(err)).Inc()
	return err
}

// Snapshot returns a copy of the chat's session.
func (e *Engine) Snapshot(ctx context.Context, chatID int64) (session.Snapshot, error) {
	return e.store.Snapshot(ctx, chatID)
}

// Run consumes the transport event feed until ctx is done or the feed closes.
// Each event is handled on its own goroutine so chats never wait on each other.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for !e.eventLoop(ctx, &wg) {
		zlog.Info().Msg("restarting transport event loop")
	}
}

// eventLoop reports whether it exited normally.
func (e *Engine) eventLoop(ctx context.Context, wg *sync.WaitGroup) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("transport event loop panicked: %v", r)
			clean = false
		}
	}()

	events := e.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return true
		case ev, ok := <-events:
			if !ok {
				zlog.Info().Msg("transport event feed closed")
				return true
			}
			wg.Add(1)
			go e.dispatch(ctx, ev, wg)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, ev transport.Event, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("transport event handler panicked: type=%s chat_id=%d panic=%v", ev.Type, ev.ChatID, r)
		}
	}()

	zlog.Debug().Msgf("transport event: type=%s chat_id=%d", ev.Type, ev.ChatID)
	if err := e.HandleEvent(ctx, ev); err != nil {
		zlog.Error().Msgf("failed to handle transport event: type=%s chat_id=%d error=%v", ev.Type, ev.ChatID, err)
	}
}

// advance moves the session to the next queued track that starts successfully,
// or leaves the call when the queue runs out. Must be called inside the guard.
func (e *Engine) advance(ctx context.Context, s *session.Session) (AdvanceResult, []Event, error) {
	var res AdvanceResult
	var events []Event
	var lastErr error

	for {
		next, ok := s.PopFront()
		if !ok {
			break
		}
		if err := e.call("change_stream", func() error { return e.transport.ChangeStream(ctx, s.ChatID, next) }); err != nil {
			lastErr = err
			res.Dropped = append(res.Dropped, next)
			metrics.TracksDroppedTotal.Inc()
			zlog.Warn().Msgf("dropping track that failed to start: chat_id=%d title=%q error=%v", s.ChatID, next.Title, err)
			events = append(events, e.event(EventTrackDropped, s, &next))
			continue
		}
		s.Play(next, e.now())
		metrics.TracksStartedTotal.Inc()
		res.Next = &next
		zlog.Info().Msgf("track started: chat_id=%d title=%q duration=%d", s.ChatID, next.Title, next.DurationSec)
		return res, append(events, e.event(EventTrackStarted, s, &next)), nil
	}

	if err := e.call("leave", func() error { return e.transport.Leave(ctx, s.ChatID) }); err != nil {
		return res, events, err
	}
	s.EndCall()
	zlog.Info().Msgf("queue empty, left call: chat_id=%d", s.ChatID)
	return res, append(events, e.event(EventQueueEmpty, s, nil)), lastErr
}

// withSession runs fn in the chat guard and publishes its events after the
// guard is released. Events are published even when fn fails part way.
func (e *Engine) withSession(ctx context.Context, chatID int64, fn func(*session.Session) ([]Event, error)) error {
	var events []Event
	err := e.store.WithSession(ctx, chatID, func(s *session.Session) error {
		var err error
		events, err = fn(s)
		return err
	})
	metrics.ActiveSessions.Set(float64(e.store.Len()))
	for _, ev := range events {
		e.announcer.Publish(ev)
	}
	return err
}

// call runs a transport operation and classifies its failure.
func (e *Engine) call(op string, fn func() error) error {
	err := fn()
	metrics.TransportCallsTotal.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil {
		return apperr.Transport(err, op)
	}
	return nil
}

func (e *Engine) event(typ EventType, s *session.Session, t *track.Track) Event {
	ev := Event{Type: typ, ChatID: s.ChatID, State: sessionState(s)}
	if t != nil {
		cp := *t
		ev.Track = &cp
	}
	return ev
}

func releaseTicket(s *session.Session, ticket Ticket) {
	if s.ID == ticket.sessionID && s.Pending > 0 {
		s.Pending--
	}
}
