package playback

import "github.com/osa030/vcjukebox/internal/domain/track"

// EventType represents a playback announcement type.
type EventType int

const (
	EventTrackStarted   EventType = iota // A track started streaming
	EventTrackSkipped                    // A track was skipped by a user
	EventTrackDropped                    // A track failed to start and was discarded
	EventStateChanged                    // Playback paused or resumed
	EventQueueEmpty                      // Queue ran out and the call was left
	EventPlaybackStopped                 // A user stopped playback
	EventSessionClosed                   // The voice chat was closed externally
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackDropped:
		return "track_dropped"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventPlaybackStopped:
		return "playback_stopped"
	case EventSessionClosed:
		return "session_closed"
	default:
		return "unknown"
	}
}

// Event is an announcement about a chat's playback.
type Event struct {
	Type   EventType
	ChatID int64
	Track  *track.Track // Track concerned (nil for some events)
	State  State        // Playback state after the change
}

// Announcer receives playback announcements. Publish must not block.
type Announcer interface {
	Publish(Event)
}

type nopAnnouncer struct{}

func (nopAnnouncer) Publish(Event) {}
