// Package resolver turns user queries into playable tracks.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/osa030/vcjukebox/internal/app/apperr"
	"github.com/osa030/vcjukebox/internal/domain/track"
	"github.com/osa030/vcjukebox/internal/infra/metrics"
)

// Extractor resolves a page URL or a "ytsearchN:" target into a track.
type Extractor interface {
	Extract(ctx context.Context, target string) (track.Track, error)
}

// Searcher finds the page URL of the best match for a text query.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// TrackLookup reads metadata of links to catalogs without playable media.
type TrackLookup interface {
	IsTrackLink(s string) bool
	LookupTrack(ctx context.Context, link string) (title string, artists []string, err error)
}

// Config holds resolver configuration.
type Config struct {
	Timeout    time.Duration // Ceiling for a single resolution
	RatePerSec float64       // Outbound resolutions per second
	Burst      int           // Outbound burst size
}

// Option configures optional backends.
type Option func(*Resolver)

// WithSearcher sets the fast search backend. Without one, searches go
// straight to the extractor.
func WithSearcher(s Searcher) Option {
	return func(r *Resolver) { r.searcher = s }
}

// WithTrackLookup enables catalog link resolution.
func WithTrackLookup(l TrackLookup) Option {
	return func(r *Resolver) { r.lookup = l }
}

// Resolver resolves queries and URLs to tracks.
type Resolver struct {
	extractor Extractor
	searcher  Searcher
	lookup    TrackLookup
	limiter   *rate.Limiter
	timeout   time.Duration
}

// New creates a new resolver.
func New(cfg Config, extractor Extractor, opts ...Option) *Resolver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	r := &Resolver{
		extractor: extractor,
		limiter:   rate.NewLimiter(limit, burst),
		timeout:   timeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve resolves a raw query or URL. Every failure is a ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, raw string) (track.Track, error) {
	query := strings.TrimSpace(raw)
	if query == "" {
		return track.Track{}, apperr.Resolution(nil, "empty query")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	t, err := r.resolve(ctx, query)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
			err = apperr.Resolution(err, "resolution timed out")
		} else if apperr.KindOf(err) != apperr.KindResolution {
			err = apperr.Resolution(err, "failed to resolve")
		}
		metrics.ResolveLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
		zlog.Warn().Msgf("resolution failed: query=%q elapsed=%v error=%v", query, elapsed, err)
		return track.Track{}, err
	}

	metrics.ResolveLatency.WithLabelValues("ok").Observe(elapsed.Seconds())
	zlog.Info().Msgf("resolved: query=%q title=%q duration=%d elapsed=%v", query, t.Title, t.DurationSec, elapsed)
	return t, nil
}

func (r *Resolver) resolve(ctx context.Context, query string) (track.Track, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return track.Track{}, errors.Wrap(err, "rate limiter")
	}

	if r.lookup != nil && r.lookup.IsTrackLink(query) {
		title, artists, err := r.lookup.LookupTrack(ctx, query)
		if err != nil {
			return track.Track{}, err
		}
		search := catalogQuery(title, artists)
		zlog.Debug().Msgf("catalog link resolved: link=%s search=%q", query, search)
		return r.search(ctx, search)
	}

	if strings.HasPrefix(query, "spotify:") {
		return track.Track{}, apperr.Resolution(nil, "spotify links are not supported")
	}

	if looksLikeURL(query) {
		return r.extractor.Extract(ctx, query)
	}
	return r.search(ctx, query)
}

// search resolves a text query. The fast searcher is tried first; yt-dlp's
// own search is the fallback.
func (r *Resolver) search(ctx context.Context, query string) (track.Track, error) {
	if r.searcher != nil {
		pageURL, err := r.searcher.Search(ctx, query)
		if err == nil {
			t, err := r.extractor.Extract(ctx, pageURL)
			if err == nil {
				return t, nil
			}
			if ctx.Err() != nil {
				return track.Track{}, err
			}
			zlog.Debug().Msgf("extraction of search hit failed, falling back: query=%q url=%s error=%v", query, pageURL, err)
		} else {
			if ctx.Err() != nil {
				return track.Track{}, err
			}
			zlog.Debug().Msgf("fast search failed, falling back: query=%q error=%v", query, err)
		}
	}
	return r.extractor.Extract(ctx, "ytsearch1:"+query)
}

// looksLikeURL reports whether query should be extracted directly.
func looksLikeURL(query string) bool {
	return strings.HasPrefix(strings.ToLower(query), "http")
}

func catalogQuery(title string, artists []string) string {
	if len(artists) == 0 {
		return title
	}
	return strings.Join(artists, ", ") + " - " + title
}
