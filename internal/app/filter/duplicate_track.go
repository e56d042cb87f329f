package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/vcjukebox/internal/app/session"
	"github.com/osa030/vcjukebox/internal/domain/track"
)

// DuplicateTrackFilter rejects tracks already playing or queued in the chat.
// Detects:
// - Same stream or source URL
// - Alternate uploads (normalized title match, e.g. "Official Video" vs "Lyrics")
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects songs already playing or queued in the chat, including alternate uploads of the same song"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(
	ctx context.Context,
	req TrackRequest,
	requested track.Track,
	chat session.Snapshot,
) Result {
	tracks := chat.Queue
	if chat.NowPlaying != nil {
		tracks = append([]track.Track{*chat.NowPlaying}, tracks...)
	}

	name := normalizeTitle(requested.Title)
	for _, t := range tracks {
		if t.SameAs(requested) {
			return Reject("duplicate_track")
		}
		if name != "" && normalizeTitle(t.Title) == name {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

var (
	// Upload decorations: "(Official Video)", "[Lyrics]", "(Remastered 2011)", ...
	decorationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[][^\)\]]*\b(official|lyrics?|audio|video|visualizer|hd|4k|mv|remaster(ed)?)\b[^\)\]]*[\)\]]`),
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?$`),
		regexp.MustCompile(`\s*\(.*?(version|edit)\)`),
	}
	spacePattern = regexp.MustCompile(`\s+`)
)

// normalizeTitle removes upload and remaster decorations from a title.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)

	for _, pattern := range decorationPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = spacePattern.ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	normalized = strings.TrimRight(normalized, " -|")

	return normalized
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
