// Package loopback provides an in-process transport that simulates calls on
// wall-clock timers. Nothing is streamed; a track "ends" when its duration
// has elapsed outside of pauses.
package loopback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/transport"
	"github.com/osa030/vcjukebox/internal/domain/track"
)

// Errors
var (
	ErrCallActive = errors.New("call already active")
	ErrNoCall     = errors.New("no active call")
	ErrClosed     = errors.New("transport closed")
)

// Config holds loopback configuration.
type Config struct {
	TickInterval time.Duration // Timer resolution
	EventBuffer  int
}

// CallStatus is a snapshot of a simulated call.
type CallStatus struct {
	Track   track.Track
	Paused  bool
	Volume  int
	Elapsed time.Duration
}

type call struct {
	track     track.Track
	startedAt time.Time     // Wall time the current run started
	elapsed   time.Duration // Played time before the current run
	paused    bool
	volume    int
	cancel    func()
	gen       uint64 // Bumped on every start and stop; stale timers compare it
}

// Transport is a simulated call transport.
type Transport struct {
	mu     sync.Mutex
	calls  map[int64]*call
	tick   time.Duration
	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

// New creates a new loopback transport.
func New(cfg Config) *Transport {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	return &Transport{
		calls:  make(map[int64]*call),
		tick:   tick,
		events: make(chan transport.Event, buffer),
		done:   make(chan struct{}),
	}
}

// Join starts a simulated call playing t.
func (l *Transport) Join(_ context.Context, chatID int64, t track.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isClosed() {
		return ErrClosed
	}
	if _, ok := l.calls[chatID]; ok {
		return errors.Wrapf(ErrCallActive, "chat_id=%d", chatID)
	}
	c := &call{track: t, volume: 100}
	l.calls[chatID] = c
	l.startLocked(chatID, c)
	zlog.Debug().Msgf("loopback: joined chat_id=%d title=%q", chatID, t.Title)
	return nil
}

// ChangeStream switches the call to t from the beginning.
func (l *Transport) ChangeStream(_ context.Context, chatID int64, t track.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.callLocked(chatID)
	if err != nil {
		return err
	}
	l.stopLocked(c)
	c.track = t
	c.elapsed = 0
	c.paused = false
	l.startLocked(chatID, c)
	zlog.Debug().Msgf("loopback: changed stream chat_id=%d title=%q", chatID, t.Title)
	return nil
}

// Pause freezes the call's timer.
func (l *Transport) Pause(_ context.Context, chatID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.callLocked(chatID)
	if err != nil {
		return err
	}
	if c.paused {
		return nil
	}
	l.stopLocked(c)
	c.elapsed += toWallTime(time.Now()).Sub(c.startedAt)
	c.paused = true
	return nil
}

// Resume restarts the call's timer for the remaining duration.
func (l *Transport) Resume(_ context.Context, chatID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.callLocked(chatID)
	if err != nil {
		return err
	}
	if !c.paused {
		return nil
	}
	c.paused = false
	l.startLocked(chatID, c)
	return nil
}

// Leave ends the call.
func (l *Transport) Leave(_ context.Context, chatID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.callLocked(chatID)
	if err != nil {
		return err
	}
	l.stopLocked(c)
	delete(l.calls, chatID)
	zlog.Debug().Msgf("loopback: left chat_id=%d", chatID)
	return nil
}

// SetVolume records the call volume.
func (l *Transport) SetVolume(_ context.Context, chatID int64, level int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.callLocked(chatID)
	if err != nil {
		return err
	}
	c.volume = level
	return nil
}

// Events returns the simulated event feed.
func (l *Transport) Events() <-chan transport.Event {
	return l.events
}

// Deliver injects an externally reported event. A closed voice chat drops
// the simulated call; an ended stream stops its timer.
func (l *Transport) Deliver(ctx context.Context, ev transport.Event) error {
	l.mu.Lock()
	if c, ok := l.calls[ev.ChatID]; ok {
		l.stopLocked(c)
		if ev.Type == transport.EventVoiceChatClosed {
			delete(l.calls, ev.ChatID)
		}
	}
	l.mu.Unlock()

	select {
	case l.events <- ev:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "event feed full: type=%s chat_id=%d", ev.Type, ev.ChatID)
	}
}

// Status returns the state of the chat's simulated call.
func (l *Transport) Status(chatID int64) (CallStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.calls[chatID]
	if !ok {
		return CallStatus{}, false
	}
	elapsed := c.elapsed
	if !c.paused {
		elapsed += toWallTime(time.Now()).Sub(c.startedAt)
	}
	return CallStatus{Track: c.track, Paused: c.paused, Volume: c.volume, Elapsed: elapsed}, true
}

// Close stops every timer and releases pending event senders.
func (l *Transport) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for id, c := range l.calls {
			l.stopLocked(c)
			delete(l.calls, id)
		}
		close(l.done)
	})
}

func (l *Transport) isClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *Transport) callLocked(chatID int64) (*call, error) {
	c, ok := l.calls[chatID]
	if !ok {
		return nil, errors.Wrapf(ErrNoCall, "chat_id=%d", chatID)
	}
	return c, nil
}

// startLocked runs the call's timer for the unplayed part of its track.
// Live tracks have no duration and never end on their own.
func (l *Transport) startLocked(chatID int64, c *call) {
	c.startedAt = toWallTime(time.Now())
	if c.track.IsLive() {
		return
	}
	remaining := c.track.Duration() - c.elapsed
	if remaining < 0 {
		remaining = 0
	}

	c.gen++
	gen := c.gen
	c.cancel = startWallClockTimer(remaining, l.tick, func() {
		l.mu.Lock()
		current, ok := l.calls[chatID]
		// A stale timer lost a race with stop.
		if !ok || current != c || c.gen != gen {
			l.mu.Unlock()
			return
		}
		c.cancel = nil
		l.mu.Unlock()

		l.emit(transport.Event{Type: transport.EventStreamEnded, ChatID: chatID})
	})
}

func (l *Transport) stopLocked(c *call) {
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (l *Transport) emit(ev transport.Event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

// startWallClockTimer calls callback once duration of wall-clock time has
// passed, unless the returned cancel function is called first.
func startWallClockTimer(duration, tick time.Duration, callback func()) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		endTime := toWallTime(time.Now()).Add(duration)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !toWallTime(time.Now()).Before(endTime) {
					if ctx.Err() == nil {
						callback()
					}
					return
				}
			}
		}
	}()

	return cancel
}

// toWallTime returns the time with monotonic clock stripped.
// Durations computed from it follow wall-clock time across host suspends.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
