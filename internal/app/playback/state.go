// Package playback provides the per-chat playback state machine.
package playback

import "github.com/osa030/vcjukebox/internal/app/session"

// State represents the playback state of a chat.
type State int

const (
	StateIdle    State = iota // No call active
	StatePlaying              // Call active, stream playing
	StatePaused               // Call active, stream paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// StateOf derives the playback state from a session snapshot.
func StateOf(snap session.Snapshot) State {
	return stateOf(snap.CallActive, snap.Paused)
}

func stateOf(callActive, paused bool) State {
	switch {
	case !callActive:
		return StateIdle
	case paused:
		return StatePaused
	default:
		return StatePlaying
	}
}

func sessionState(s *session.Session) State {
	return stateOf(s.CallActive, s.Paused)
}
