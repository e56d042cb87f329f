// Package transport defines the port to the external call/streaming transport.
package transport

import (
	"context"

	"github.com/osa030/vcjukebox/internal/domain/track"
)

// EventType represents an asynchronous transport event type.
type EventType int

const (
	EventStreamEnded     EventType = iota + 1 // The current stream finished playing
	EventVoiceChatClosed                      // The voice chat was closed externally
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStreamEnded:
		return "stream_ended"
	case EventVoiceChatClosed:
		return "voice_chat_closed"
	default:
		return "unknown"
	}
}

// ParseEventType parses the wire name of an event type.
func ParseEventType(s string) (EventType, bool) {
	switch s {
	case "stream_ended":
		return EventStreamEnded, true
	case "voice_chat_closed":
		return EventVoiceChatClosed, true
	default:
		return 0, false
	}
}

// Event is emitted by the transport for a single chat.
type Event struct {
	Type   EventType
	ChatID int64
}

// Transport streams audio into group voice chats.
// At most one live call exists per chat id; the transport enforces it.
type Transport interface {
	// Join starts a call for the chat streaming t.
	Join(ctx context.Context, chatID int64, t track.Track) error
	// ChangeStream switches the live call to t.
	ChangeStream(ctx context.Context, chatID int64, t track.Track) error
	// Pause pauses the live stream.
	Pause(ctx context.Context, chatID int64) error
	// Resume resumes a paused stream.
	Resume(ctx context.Context, chatID int64) error
	// Leave ends the call.
	Leave(ctx context.Context, chatID int64) error
	// SetVolume sets the call volume in percent.
	SetVolume(ctx context.Context, chatID int64, level int) error
	// Events returns the asynchronous event feed. Events are unordered across chats.
	Events() <-chan Event
}
