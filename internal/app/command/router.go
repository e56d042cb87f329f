// Package command turns chat commands into playback operations and replies.
package command

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/vcjukebox/internal/app/apperr"
	"github.com/osa030/vcjukebox/internal/app/filter"
	"github.com/osa030/vcjukebox/internal/app/playback"
	"github.com/osa030/vcjukebox/internal/domain/track"
	"github.com/osa030/vcjukebox/internal/infra/config"
	"github.com/osa030/vcjukebox/internal/infra/metrics"
)

// Command names.
const (
	CmdStart      = "start"
	CmdPlay       = "play"
	CmdSkip       = "skip"
	CmdPause      = "pause"
	CmdResume     = "resume"
	CmdStop       = "stop"
	CmdVolume     = "volume"
	CmdQueue      = "queue"
	CmdNowPlaying = "nowplaying"
)

// Errors
var (
	ErrUnknownCommand = apperr.Validation("unknown command")
	ErrGroupOnly      = apperr.Validation("command requires a group chat")
	ErrPlayUsage      = apperr.Validation("play requires a query or url")
	ErrVolumeUsage    = apperr.Validation("volume requires one integer argument")
)

// Resolver resolves a user query into a playable track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (track.Track, error)
}

// Request is one inbound chat message.
type Request struct {
	Text  string
	Group bool   // Message was sent in a group chat
	User  string // Display name of the sender, informational
}

// Reply is the single response to a request.
type Reply struct {
	Text string
	Err  error // Classified failure, nil on success
}

// Kind returns "ok" or the error kind of the reply.
func (r Reply) Kind() string {
	if r.Err == nil {
		return "ok"
	}
	return apperr.KindOf(r.Err).String()
}

// rejectedError carries a filter rejection code.
type rejectedError struct {
	code string
}

func (e *rejectedError) Error() string {
	return "request rejected: " + e.code
}

// Router dispatches commands for all chats.
type Router struct {
	engine   *playback.Engine
	resolver Resolver
	filters  *filter.Chain
	config   *config.Config
}

// NewRouter creates a new command router. A nil chain accepts every track.
func NewRouter(engine *playback.Engine, resolver Resolver, filters *filter.Chain, cfg *config.Config) *Router {
	if filters == nil {
		filters = filter.NewChain()
	}
	return &Router{
		engine:   engine,
		resolver: resolver,
		filters:  filters,
		config:   cfg,
	}
}

// Handle executes one command for the chat and always produces a reply.
func (r *Router) Handle(ctx context.Context, chatID int64, req Request) Reply {
	name, args := Parse(req.Text)

	text, err := r.dispatch(ctx, chatID, name, args, req)
	reply := Reply{Text: text, Err: err}
	if err != nil {
		reply.Text = r.errorMessage(err)
	}

	label := name
	if !known(name) {
		label = "unknown"
	}
	metrics.CommandsTotal.WithLabelValues(label, reply.Kind()).Inc()

	if err != nil {
		zlog.Info().Msgf("command failed: chat_id=%d user=%q command=%s kind=%s error=%v",
			chatID, req.User, label, reply.Kind(), err)
	} else {
		zlog.Debug().Msgf("command handled: chat_id=%d user=%q command=%s", chatID, req.User, label)
	}
	return reply
}

func (r *Router) dispatch(ctx context.Context, chatID int64, name string, args []string, req Request) (string, error) {
	if name == CmdStart {
		return r.msg("start"), nil
	}
	if !known(name) {
		return "", ErrUnknownCommand
	}
	if !req.Group {
		return "", ErrGroupOnly
	}

	switch name {
	case CmdPlay:
		return r.play(ctx, chatID, args, req)
	case CmdSkip:
		return r.skip(ctx, chatID)
	case CmdPause:
		if err := r.engine.Pause(ctx, chatID); err != nil {
			return "", err
		}
		return r.msg("paused"), nil
	case CmdResume:
		if err := r.engine.Resume(ctx, chatID); err != nil {
			return "", err
		}
		return r.msg("resumed"), nil
	case CmdStop:
		if err := r.engine.Stop(ctx, chatID); err != nil {
			return "", err
		}
		return r.msg("stopped"), nil
	case CmdVolume:
		return r.volume(ctx, chatID, args)
	case CmdQueue:
		return r.queue(ctx, chatID)
	default:
		return r.nowPlaying(ctx, chatID)
	}
}

func (r *Router) play(ctx context.Context, chatID int64, args []string, req Request) (string, error) {
	query := strings.Join(args, " ")
	if query == "" {
		return "", ErrPlayUsage
	}

	ticket, err := r.engine.Begin(ctx, chatID)
	if err != nil {
		return "", err
	}

	t, err := r.resolver.Resolve(ctx, query)
	if err != nil {
		r.engine.Abandon(context.WithoutCancel(ctx), ticket)
		return "", err
	}

	chat, err := r.engine.Snapshot(ctx, chatID)
	if err != nil {
		r.engine.Abandon(context.WithoutCancel(ctx), ticket)
		return "", err
	}
	fr := filter.TrackRequest{ChatID: chatID, User: req.User, Query: query}
	if result := r.filters.Execute(ctx, fr, t, chat); !result.Accepted {
		r.engine.Abandon(context.WithoutCancel(ctx), ticket)
		return "", errors.Mark(&rejectedError{code: result.Code}, apperr.ErrValidation)
	}

	res, err := r.engine.Enqueue(ctx, ticket, t)
	if err != nil {
		return "", err
	}
	if res.Started {
		return r.msg("now_playing", "{title}", t.Title), nil
	}
	return r.msg("queued", "{title}", t.Title, "{position}", strconv.Itoa(res.Position)), nil
}

func (r *Router) skip(ctx context.Context, chatID int64) (string, error) {
	res, err := r.engine.Skip(ctx, chatID)
	if err != nil {
		return "", err
	}
	if res.Stopped() {
		return r.msg("queue_ended"), nil
	}
	return r.msg("skipped", "{title}", res.Next.Title), nil
}

func (r *Router) volume(ctx context.Context, chatID int64, args []string) (string, error) {
	if len(args) != 1 {
		return "", ErrVolumeUsage
	}
	level, err := strconv.Atoi(args[0])
	if err != nil {
		return "", ErrVolumeUsage
	}
	if err := r.engine.SetVolume(ctx, chatID, level); err != nil {
		return "", err
	}
	return r.msg("volume_set", "{volume}", strconv.Itoa(level)), nil
}

func (r *Router) queue(ctx context.Context, chatID int64) (string, error) {
	snap, err := r.engine.Snapshot(ctx, chatID)
	if err != nil {
		return "", err
	}
	if len(snap.Queue) == 0 {
		return r.msg("queue_empty"), nil
	}

	var b strings.Builder
	b.WriteString(r.msg("queue_header"))
	for i, t := range snap.Queue {
		b.WriteString("\n")
		b.WriteString(r.msg("queue_item",
			"{index}", strconv.Itoa(i+1),
			"{title}", t.Title,
			"{duration}", strconv.Itoa(t.DurationSec),
		))
	}
	return b.String(), nil
}

func (r *Router) nowPlaying(ctx context.Context, chatID int64) (string, error) {
	snap, err := r.engine.Snapshot(ctx, chatID)
	if err != nil {
		return "", err
	}
	if snap.NowPlaying == nil {
		return r.msg("nothing_playing"), nil
	}
	return r.msg("current",
		"{title}", snap.NowPlaying.Title,
		"{duration}", strconv.Itoa(snap.NowPlaying.DurationSec),
	), nil
}

// errorMessage maps a failure to its configured reply.
func (r *Router) errorMessage(err error) string {
	var rejected *rejectedError
	switch {
	case errors.As(err, &rejected):
		return r.msg(rejected.code)
	case errors.Is(err, ErrUnknownCommand):
		return r.msg("unknown_command")
	case errors.Is(err, ErrGroupOnly):
		return r.msg("group_only")
	case errors.Is(err, ErrPlayUsage):
		return r.msg("play_usage")
	case errors.Is(err, ErrVolumeUsage), errors.Is(err, playback.ErrVolumeOutOfRange):
		return r.msg("volume_usage")
	case errors.Is(err, playback.ErrNothingPlaying):
		return r.msg("nothing_playing")
	case errors.Is(err, playback.ErrAlreadyPaused):
		return r.msg("already_paused")
	case errors.Is(err, playback.ErrNotPaused):
		return r.msg("not_paused")
	case errors.Is(err, playback.ErrStoppedWhileResolving):
		return r.msg("stopped_while_resolving")
	}

	switch apperr.KindOf(err) {
	case apperr.KindResolution:
		return r.msg("resolution_failed")
	case apperr.KindTransport:
		return r.msg("transport_failed")
	default:
		return r.msg("default_error")
	}
}

// msg renders a configured message, replacing placeholder/value pairs.
func (r *Router) msg(code string, replacements ...string) string {
	text := r.config.GetMessage(code)
	if len(replacements) == 0 {
		return text
	}
	return strings.NewReplacer(replacements...).Replace(text)
}

// Parse splits a message into a lower-case command name and its arguments.
// A leading "/" and a "@botname" suffix on the command are stripped.
func Parse(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name), fields[1:]
}

func known(name string) bool {
	switch name {
	case CmdStart, CmdPlay, CmdSkip, CmdPause, CmdResume, CmdStop, CmdVolume, CmdQueue, CmdNowPlaying:
		return true
	}
	return false
}
