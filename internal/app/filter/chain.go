package filter

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/session"
	"github.com/osa030/vcjukebox/internal/domain/track"
	"github.com/osa030/vcjukebox/internal/infra/config"
	"github.com/osa030/vcjukebox/internal/infra/metrics"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// NewChainFromConfig builds a chain of every registered filter enabled in cfg.
// Filters are added in name order.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	c := NewChain()
	for _, name := range names {
		if !cfg.IsFilterEnabled(name) {
			continue
		}
		f := registry[name]()
		if err := f.ValidateConfig(cfg.GetFilterSettings(name)); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for %s", name)
		}
		zlog.Info().Msgf("filter enabled: name=%s", name)
		c.Add(f)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the request.
func (c *Chain) Execute(ctx context.Context, req TrackRequest, t track.Track, chat session.Snapshot) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, req, t, chat)
		if !result.Accepted {
			metrics.FilterRejectionsTotal.WithLabelValues(f.Name()).Inc()
			zlog.Debug().Msgf("request rejected: filter=%s code=%s chat_id=%d title=%q",
				f.Name(), result.Code, req.ChatID, t.Title)
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
