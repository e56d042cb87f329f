// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"strings"
	"time"
)

// Track is a resolved, playable unit of audio.
// Values are produced by the resolver and never mutated afterwards.
type Track struct {
	StreamURL   string // Direct media URL handed to the transport
	Title       string // Display title
	DurationSec int    // Duration in whole seconds (0 when unknown, e.g. live streams)
	Source      string // Page URL or search query the track was resolved from
}

// Duration returns the track duration as a time.Duration.
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationSec) * time.Second
}

// IsLive reports whether the track has no known duration.
func (t Track) IsLive() bool {
	return t.DurationSec == 0
}

// SameAs reports whether both tracks point at the same media.
// Stream URLs are signed and rotate, so the source is compared as well.
func (t Track) SameAs(other Track) bool {
	if t.StreamURL != "" && t.StreamURL == other.StreamURL {
		return true
	}
	return t.Source != "" && strings.EqualFold(t.Source, other.Source)
}

// String returns "title (N seconds)".
func (t Track) String() string {
	return fmt.Sprintf("%s (%d seconds)", t.Title, t.DurationSec)
}
