// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Transport types.
const (
	TransportLoopback = "loopback"
	TransportCalls    = "calls"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Resolver  ResolverConfig          `yaml:"resolver"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
	Transport TransportConfig         `yaml:"transport"`
	Filters   map[string]FilterConfig `yaml:"filters"`
	Messages  MessagesConfig          `yaml:"messages"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr              string      `yaml:"addr" default:":8080"`
	AllowedOrigins    []string    `yaml:"allowed_origins"`
	CommandTimeoutSec int         `yaml:"command_timeout_sec" default:"60" validate:"gte=1,lte=600"`
	Hooks             HooksConfig `yaml:"hooks"`
}

// HooksConfig represents shell commands run around the server lifecycle.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// ResolverConfig represents query resolution configuration.
type ResolverConfig struct {
	TimeoutSec        int     `yaml:"timeout_sec" default:"20" validate:"gte=1,lte=300"`
	RatePerSec        float64 `yaml:"rate_per_sec" default:"2" validate:"gte=0"`
	Burst             int     `yaml:"burst" default:"4" validate:"gte=1"`
	Format            string  `yaml:"format" default:"bestaudio/best"`
	Proxy             string  `yaml:"proxy"`
	DisableFastSearch bool    `yaml:"disable_fast_search"`
}

// SpotifyConfig represents Spotify API configuration.
// Spotify links are resolved only when both credentials are set.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" validate:"required_with=ClientSecret"`
	ClientSecret string `yaml:"client_secret" validate:"required_with=ClientID"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// TransportConfig represents call transport configuration.
type TransportConfig struct {
	Type       string         `yaml:"type" default:"loopback" validate:"oneof=loopback calls"`
	StreamType string         `yaml:"stream_type" default:"pulse" validate:"required"`
	Calls      CallsConfig    `yaml:"calls"`
	Loopback   LoopbackConfig `yaml:"loopback"`
}

// CallsConfig represents call-bridge configuration.
type CallsConfig struct {
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
	Token      string `yaml:"token"`
	TimeoutSec int    `yaml:"timeout_sec" default:"10" validate:"gte=1,lte=120"`
}

// LoopbackConfig represents simulated transport configuration.
type LoopbackConfig struct {
	TickMs int `yaml:"tick_ms" default:"100" validate:"gte=1,lte=10000"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing replies. Placeholders in braces are
// substituted by the command router.
type MessagesConfig struct {
	Start                 string `yaml:"start" default:"Voice chat jukebox\n\n/play <url or query> - play or queue a song\n/skip - skip the current song\n/pause - pause playback\n/resume - resume playback\n/stop - stop and clear the queue\n/volume <1-200> - set the volume\n/queue - show the queue\n/nowplaying - show the current song"`
	GroupOnly             string `yaml:"group_only" default:"This command only works in group chats."`
	PlayUsage             string `yaml:"play_usage" default:"Please provide a YouTube URL or search query."`
	NowPlaying            string `yaml:"now_playing" default:"Now playing: {title}"`
	Queued                string `yaml:"queued" default:"Added to queue: {title} (#{position})"`
	Skipped               string `yaml:"skipped" default:"Skipped to: {title}"`
	QueueEnded            string `yaml:"queue_ended" default:"Queue empty, stopped."`
	Paused                string `yaml:"paused" default:"Paused."`
	Resumed               string `yaml:"resumed" default:"Resumed."`
	Stopped               string `yaml:"stopped" default:"Stopped and cleared the queue."`
	VolumeUsage           string `yaml:"volume_usage" default:"Usage: /volume <1-200>"`
	VolumeSet             string `yaml:"volume_set" default:"Volume set to {volume}%."`
	QueueHeader           string `yaml:"queue_header" default:"Queue:"`
	QueueItem             string `yaml:"queue_item" default:"{index}. {title} ({duration} seconds)"`
	QueueEmpty            string `yaml:"queue_empty" default:"Queue is empty."`
	Current               string `yaml:"current" default:"Now playing: {title}\nDuration: {duration} seconds"`
	NothingPlaying        string `yaml:"nothing_playing" default:"Nothing is playing."`
	AlreadyPaused         string `yaml:"already_paused" default:"Already paused."`
	NotPaused             string `yaml:"not_paused" default:"Playback is not paused."`
	StoppedWhileResolving string `yaml:"stopped_while_resolving" default:"Playback was stopped while your request was being resolved."`
	UnknownCommand        string `yaml:"unknown_command" default:"Unknown command."`
	ResolutionFailed      string `yaml:"resolution_failed" default:"Could not find anything playable for that request."`
	TransportFailed       string `yaml:"transport_failed" default:"Voice chat error, please try again."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That song is already playing or queued."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That song is too short or too long."`
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML, applying env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) {
	return Parse([]byte("{}"))
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("CALLS_BRIDGE_URL"); v != "" {
		c.Transport.Calls.BaseURL = v
	}
	if v := os.Getenv("CALLS_BRIDGE_TOKEN"); v != "" {
		c.Transport.Calls.Token = v
	}
	if v := os.Getenv("YOUTUBE_PROXY"); v != "" {
		c.Resolver.Proxy = v
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	m := c.Messages
	switch code {
	case "start":
		return m.Start
	case "group_only":
		return m.GroupOnly
	case "play_usage":
		return m.PlayUsage
	case "now_playing":
		return m.NowPlaying
	case "queued":
		return m.Queued
	case "skipped":
		return m.Skipped
	case "queue_ended":
		return m.QueueEnded
	case "paused":
		return m.Paused
	case "resumed":
		return m.Resumed
	case "stopped":
		return m.Stopped
	case "volume_usage":
		return m.VolumeUsage
	case "volume_set":
		return m.VolumeSet
	case "queue_header":
		return m.QueueHeader
	case "queue_item":
		return m.QueueItem
	case "queue_empty":
		return m.QueueEmpty
	case "current":
		return m.Current
	case "nothing_playing":
		return m.NothingPlaying
	case "already_paused":
		return m.AlreadyPaused
	case "not_paused":
		return m.NotPaused
	case "stopped_while_resolving":
		return m.StoppedWhileResolving
	case "unknown_command":
		return m.UnknownCommand
	case "resolution_failed":
		return m.ResolutionFailed
	case "transport_failed":
		return m.TransportFailed
	case "duplicate_track":
		return m.DuplicateTrack
	case "duration_limit_exceeded":
		return m.DurationLimitExceeded
	default:
		return m.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Transport.Type == TransportCalls && c.Transport.Calls.BaseURL == "" {
		return errors.New("transport.calls.base_url is required for the calls transport")
	}

	return nil
}

// SpotifyEnabled reports whether Spotify credentials are configured.
func (c *Config) SpotifyEnabled() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// ResolverTimeout returns the resolution ceiling.
func (c *Config) ResolverTimeout() time.Duration {
	return time.Duration(c.Resolver.TimeoutSec) * time.Second
}

// CommandTimeout returns the ceiling for a single chat command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Server.CommandTimeoutSec) * time.Second
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}
