package resolver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/vcjukebox/internal/app/apperr"
	"github.com/osa030/vcjukebox/internal/domain/track"
)

type fakeExtractor struct {
	mu      sync.Mutex
	targets []string
	fail    map[string]error
	delay   time.Duration
}

func (f *fakeExtractor) Extract(ctx context.Context, target string) (track.Track, error) {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	err := f.fail[target]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return track.Track{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return track.Track{}, err
	}
	return track.Track{StreamURL: "https://media.example/" + target, Title: "title of " + target, DurationSec: 200, Source: target}, nil
}

func (f *fakeExtractor) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...)
}

type fakeSearcher struct {
	url string
	err error
}

func (f *fakeSearcher) Search(ctx context.Context, query string) (string, error) {
	return f.url, f.err
}

type fakeLookup struct {
	title   string
	artists []string
	err     error
}

func (f *fakeLookup) IsTrackLink(s string) bool {
	return len(s) > 14 && s[:14] == "spotify:track:"
}

func (f *fakeLookup) LookupTrack(ctx context.Context, link string) (string, []string, error) {
	return f.title, f.artists, f.err
}

func TestResolve_EmptyQuery(t *testing.T) {
	ex := &fakeExtractor{}
	r := New(Config{}, ex)

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := r.Resolve(context.Background(), q)
		require.Error(t, err)
		assert.Equal(t, apperr.KindResolution, apperr.KindOf(err))
	}
	assert.Empty(t, ex.calls())
}

func TestResolve_Routing(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		searcher    Searcher
		wantTargets []string
	}{
		{
			name:        "url is extracted directly",
			query:       "https://www.youtube.com/watch?v=abc",
			searcher:    &fakeSearcher{url: "unused"},
			wantTargets: []string{"https://www.youtube.com/watch?v=abc"},
		},
		{
			name:        "query uses fast search",
			query:       "lofi beats",
			searcher:    &fakeSearcher{url: "https://www.youtube.com/watch?v=hit"},
			wantTargets: []string{"https://www.youtube.com/watch?v=hit"},
		},
		{
			name:        "query falls back when search fails",
			query:       "lofi beats",
			searcher:    &fakeSearcher{err: errors.New("no results")},
			wantTargets: []string{"ytsearch1:lofi beats"},
		},
		{
			name:        "query without searcher",
			query:       "  lofi beats  ",
			wantTargets: []string{"ytsearch1:lofi beats"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExtractor{}
			var opts []Option
			if tt.searcher != nil {
				opts = append(opts, WithSearcher(tt.searcher))
			}
			r := New(Config{}, ex, opts...)

			got, err := r.Resolve(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTargets, ex.calls())
			assert.NotEmpty(t, got.StreamURL)
		})
	}
}

func TestResolve_FallbackWhenHitFailsToExtract(t *testing.T) {
	hit := "https://www.youtube.com/watch?v=private"
	ex := &fakeExtractor{fail: map[string]error{hit: errors.New("video unavailable")}}
	r := New(Config{}, ex, WithSearcher(&fakeSearcher{url: hit}))

	got, err := r.Resolve(context.Background(), "song")
	require.NoError(t, err)
	assert.Equal(t, []string{hit, "ytsearch1:song"}, ex.calls())
	assert.Equal(t, "title of ytsearch1:song", got.Title)
}

func TestResolve_ExtractionFailureIsResolutionError(t *testing.T) {
	url := "https://example.com/drm"
	ex := &fakeExtractor{fail: map[string]error{url: errors.New("DRM protected")}}
	r := New(Config{}, ex)

	_, err := r.Resolve(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, apperr.KindResolution, apperr.KindOf(err))
}

func TestResolve_Timeout(t *testing.T) {
	ex := &fakeExtractor{delay: time.Second}
	r := New(Config{Timeout: 20 * time.Millisecond}, ex)

	start := time.Now()
	_, err := r.Resolve(context.Background(), "https://slow.example/video")
	require.Error(t, err)
	assert.Equal(t, apperr.KindResolution, apperr.KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolve_CatalogLink(t *testing.T) {
	ex := &fakeExtractor{}
	lookup := &fakeLookup{title: "Never Gonna Give You Up", artists: []string{"Rick Astley"}}
	r := New(Config{}, ex, WithTrackLookup(lookup))

	_, err := r.Resolve(context.Background(), "spotify:track:4cOdK2wGLETKBW3PvgPWqT")
	require.NoError(t, err)
	assert.Equal(t, []string{"ytsearch1:Rick Astley - Never Gonna Give You Up"}, ex.calls())
}

func TestResolve_CatalogLinkLookupFails(t *testing.T) {
	ex := &fakeExtractor{}
	lookup := &fakeLookup{err: errors.New("404 not found")}
	r := New(Config{}, ex, WithTrackLookup(lookup))

	_, err := r.Resolve(context.Background(), "spotify:track:missing")
	assert.Equal(t, apperr.KindResolution, apperr.KindOf(err))
	assert.Empty(t, ex.calls())
}

func TestResolve_CatalogURIWithoutLookup(t *testing.T) {
	ex := &fakeExtractor{}
	r := New(Config{}, ex)

	_, err := r.Resolve(context.Background(), "spotify:track:abc")
	assert.Equal(t, apperr.KindResolution, apperr.KindOf(err))
	assert.Empty(t, ex.calls())
}

func TestResolve_RateLimited(t *testing.T) {
	ex := &fakeExtractor{}
	r := New(Config{RatePerSec: 20, Burst: 1}, ex)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "https://example.com/v")
		require.NoError(t, err)
	}
	// Burst of one, then two waits of 50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestCatalogQuery(t *testing.T) {
	assert.Equal(t, "Title", catalogQuery("Title", nil))
	assert.Equal(t, "A, B - Title", catalogQuery("Title", []string{"A", "B"}))
}

func TestLooksLikeURL(t *testing.T) {
	assert.True(t, looksLikeURL("https://youtu.be/abc"))
	assert.True(t, looksLikeURL("HTTP://example.com"))
	assert.False(t, looksLikeURL("www.youtube.com/watch?v=abc"))
	assert.False(t, looksLikeURL("some song"))
}
