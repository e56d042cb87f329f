// Package session provides per-chat playback sessions and the store guarding them.
package session

import (
	"sync/atomic"
	"time"

	"github.com/osa030/vcjukebox/internal/domain/track"
)

// epochSeq hands out session epochs. Epochs are unique for the process
// lifetime, so a recreated session never reuses an older epoch.
var epochSeq atomic.Uint64

func nextEpoch() uint64 {
	return epochSeq.Add(1)
}

// Session is the mutable playback state of one chat.
// It is only ever accessed through Store.WithSession.
type Session struct {
	ChatID     int64
	Queue      []track.Track // Tracks waiting to be played (FIFO)
	NowPlaying *track.Track  // Track the transport is streaming, nil when nothing is active
	CallActive bool          // Transport has a live call for this chat
	Paused     bool          // Transport stream is paused
	Volume     int           // Last volume applied to the transport (0 = transport default)
	StartedAt  time.Time     // When NowPlaying started streaming

	// ID identifies the session object. It survives Reset but not removal.
	ID uint64
	// Epoch identifies this incarnation of the session. It changes whenever
	// playback is torn down so late resolutions can detect the reset.
	Epoch uint64
	// Pending counts play requests resolving outside the guard.
	Pending int
}

func newSession(chatID int64) *Session {
	return &Session{
		ChatID: chatID,
		ID:     nextEpoch(),
		Queue:  make([]track.Track, 0),
		Epoch:  nextEpoch(),
	}
}

// Append adds a track to the tail of the queue and returns its 1-based position.
func (s *Session) Append(t track.Track) int {
	s.Queue = append(s.Queue, t)
	return len(s.Queue)
}

// PopFront removes and returns the head of the queue.
func (s *Session) PopFront() (track.Track, bool) {
	if len(s.Queue) == 0 {
		return track.Track{}, false
	}
	t := s.Queue[0]
	s.Queue[0] = track.Track{}
	s.Queue = s.Queue[1:]
	return t, true
}

// Play marks t as the track being streamed.
func (s *Session) Play(t track.Track, now time.Time) {
	s.NowPlaying = &t
	s.CallActive = true
	s.Paused = false
	s.StartedAt = now
}

// EndCall clears the now-playing pointer and marks the call inactive.
// The queue is left untouched.
func (s *Session) EndCall() {
	s.NowPlaying = nil
	s.CallActive = false
	s.Paused = false
	s.Volume = 0
	s.StartedAt = time.Time{}
}

// Reset discards all playback state and moves the session to a new epoch.
// Pending requests are kept so their tickets can still be released.
func (s *Session) Reset() {
	s.EndCall()
	s.Queue = make([]track.Track, 0)
	s.Epoch = nextEpoch()
}

// IsEmpty reports whether the session holds no state worth keeping.
func (s *Session) IsEmpty() bool {
	return len(s.Queue) == 0 && s.NowPlaying == nil && !s.CallActive && s.Pending == 0
}

// Snapshot is an immutable copy of a session.
type Snapshot struct {
	ChatID     int64
	Queue      []track.Track
	NowPlaying *track.Track
	CallActive bool
	Paused     bool
	Volume     int
	StartedAt  time.Time
	Pending    int
}

// Snapshot returns a deep copy of the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ChatID:     s.ChatID,
		Queue:      make([]track.Track, len(s.Queue)),
		CallActive: s.CallActive,
		Paused:     s.Paused,
		Volume:     s.Volume,
		StartedAt:  s.StartedAt,
		Pending:    s.Pending,
	}
	copy(snap.Queue, s.Queue)
	if s.NowPlaying != nil {
		np := *s.NowPlaying
		snap.NowPlaying = &np
	}
	return snap
}
