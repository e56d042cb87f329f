// Package ytdlp resolves playable audio streams with yt-dlp and searches
// YouTube with the native search client.
package ytdlp

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/domain/track"
)

const (
	defaultFormat = "bestaudio/best"
	printTemplate = "%(url)s\t%(title)s\t%(duration)s\t%(webpage_url)s"
	watchURL      = "https://www.youtube.com/watch?v="
)

// Errors
var (
	ErrNoResults = errors.New("no results")
	ErrDRM       = errors.New("media is DRM protected")
)

// Config represents yt-dlp configuration.
type Config struct {
	Format string // yt-dlp format selector
	Proxy  string // Optional proxy for YouTube requests
}

// Client extracts stream URLs with yt-dlp.
type Client struct {
	format string
	proxy  string
}

// New creates a new yt-dlp client.
func New(cfg Config) *Client {
	format := cfg.Format
	if format == "" {
		format = defaultFormat
	}
	return &Client{
		format: format,
		proxy:  cfg.Proxy,
	}
}

// Extract resolves target (a page URL or a "ytsearchN:" query) into a track.
func (c *Client) Extract(ctx context.Context, target string) (track.Track, error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		Format(c.format).
		NoPlaylist().
		NoCheckCertificates().
		Print(printTemplate)
	if c.proxy != "" {
		cmd.Proxy(c.proxy)
	}

	res, err := cmd.Run(ctx, target)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = res.Stderr
		}
		if strings.Contains(strings.ToLower(stderr), "drm") {
			return track.Track{}, errors.Wrapf(ErrDRM, "target=%s", target)
		}
		zlog.Debug().Msgf("yt-dlp extraction failed: target=%s stderr=%s", target, strings.TrimSpace(stderr))
		return track.Track{}, errors.Wrapf(err, "yt-dlp failed: target=%s", target)
	}

	return parseOutput(res.Stdout, target)
}

// parseOutput parses the first printed line of an extraction.
func parseOutput(stdout, target string) (track.Track, error) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		return parseLine(line, target)
	}
	return track.Track{}, errors.Wrapf(ErrNoResults, "target=%s", target)
}

func parseLine(line, target string) (track.Track, error) {
	parts := strings.Split(line, "\t")
	if len(parts) < 3 {
		return track.Track{}, errors.Newf("unexpected yt-dlp output: %q", line)
	}
	streamURL := parts[0]
	if streamURL == "" || streamURL == "NA" {
		return track.Track{}, errors.Newf("no stream url: target=%s", target)
	}

	source := target
	if len(parts) >= 4 && parts[3] != "" && parts[3] != "NA" {
		source = parts[3]
	}

	return track.Track{
		StreamURL:   streamURL,
		Title:       parts[1],
		DurationSec: parseSeconds(parts[2]),
		Source:      source,
	}, nil
}

// parseSeconds parses yt-dlp's duration field ("213", "213.5" or "NA").
func parseSeconds(s string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 {
		return 0
	}
	return int(f)
}

// hit is a single search result.
type hit struct {
	VideoID  string
	Title    string
	Duration string // "3:20" or "1:05:20", empty for live streams
}

// Searcher finds YouTube videos with the native search client.
type Searcher struct {
	search func(ctx context.Context, query string) ([]hit, error)
}

// NewSearcher creates a new searcher.
func NewSearcher() *Searcher {
	client := ytsearch.NewClient(nil)
	return &Searcher{
		search: func(ctx context.Context, query string) ([]hit, error) {
			res, err := client.Search(ctx, query)
			if err != nil {
				return nil, err
			}
			hits := make([]hit, 0, len(res.Results))
			for _, v := range res.Results {
				hits = append(hits, hit{VideoID: v.VideoID, Title: v.Title, Duration: v.Duration})
			}
			return hits, nil
		},
	}
}

// Search returns the watch URL of the first video matching query.
func (s *Searcher) Search(ctx context.Context, query string) (string, error) {
	hits, err := s.search(ctx, query)
	if err != nil {
		return "", errors.Wrapf(err, "search failed: query=%s", query)
	}
	for _, h := range hits {
		if h.VideoID == "" {
			continue
		}
		zlog.Debug().Msgf("search hit: query=%q title=%q duration=%s", query, h.Title, parseDurationColon(h.Duration))
		return watchURL + h.VideoID, nil
	}
	return "", errors.Wrapf(ErrNoResults, "query=%s", query)
}

// parseDurationColon parses duration strings like "3:20" or "1:05:20".
func parseDurationColon(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
