// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/osa030/vcjukebox/internal/api/httpapi"
	"github.com/osa030/vcjukebox/internal/app/command"
	"github.com/osa030/vcjukebox/internal/app/filter"
	"github.com/osa030/vcjukebox/internal/app/notification"
	"github.com/osa030/vcjukebox/internal/app/playback"
	"github.com/osa030/vcjukebox/internal/app/resolver"
	"github.com/osa030/vcjukebox/internal/app/session"
	"github.com/osa030/vcjukebox/internal/app/transport"
	"github.com/osa030/vcjukebox/internal/infra/calls"
	"github.com/osa030/vcjukebox/internal/infra/config"
	"github.com/osa030/vcjukebox/internal/infra/logger"
	"github.com/osa030/vcjukebox/internal/infra/loopback"
	"github.com/osa030/vcjukebox/internal/infra/spotify"
	"github.com/osa030/vcjukebox/internal/infra/ytdlp"
)

var (
	app        = kingpin.New("vcjukebox-server", "Voice chat jukebox server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()
	logFormat  = app.Flag("log-format", "Log format for stdout: console or json").Default("console").Enum("console", "json")

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available filters and exit")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

// bridge is a transport that also accepts events reported over HTTP.
type bridge interface {
	transport.Transport
	Deliver(ctx context.Context, ev transport.Event) error
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if cmd == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
		Format: *logFormat,
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	closeLog, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closeLog()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	// Run server (defer ensures cleanup is called)
	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		closeLog()
		os.Exit(1)
	}
}

// loadConfig loads the config file, falling back to defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	zlog.Info().Msgf("Loading config from %s", path)
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		zlog.Warn().Msgf("Config file not found, using defaults: path=%s", path)
		return config.Default()
	}
	return cfg, err
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	filters, err := filter.NewChainFromConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "invalid filter config")
	}

	res, err := newResolver(ctx, cfg)
	if err != nil {
		return err
	}

	tr, closeTransport, err := newTransport(cfg)
	if err != nil {
		return err
	}
	defer closeTransport()

	notifier := notification.NewManager()
	engine := playback.NewEngine(session.NewStore(), tr, notifier)
	router := command.NewRouter(engine, res, filters, cfg)

	api := httpapi.New(router, engine, tr, notifier, httpapi.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		BridgeToken:    cfg.Transport.Calls.Token,
		CommandTimeout: cfg.CommandTimeout(),
	})

	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h2c.NewHandler(api.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go notifier.Run(ctx)
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(ctx)
	}()

	// Channel to capture server startup errors
	serverErrCh := make(chan error, 1)
	go func() {
		zlog.Info().Msgf("Starting server: addr=%s transport=%s", cfg.Server.Addr, cfg.Transport.Type)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Execute startup hook if configured
	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	// Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Close the notifier first so announcement streams return before Shutdown waits on them
	notifier.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}
	cancel()
	<-engineDone

	zlog.Info().Msg("Server stopped")

	// Execute shutdown hook if configured
	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// newResolver wires the extraction, search and catalog backends.
func newResolver(ctx context.Context, cfg *config.Config) (*resolver.Resolver, error) {
	extractor := ytdlp.New(ytdlp.Config{
		Format: cfg.Resolver.Format,
		Proxy:  cfg.Resolver.Proxy,
	})

	var opts []resolver.Option
	if !cfg.Resolver.DisableFastSearch {
		opts = append(opts, resolver.WithSearcher(ytdlp.NewSearcher()))
	}

	if cfg.SpotifyEnabled() {
		spotifyClient, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create Spotify client")
		}
		opts = append(opts, resolver.WithTrackLookup(spotifyClient))
		zlog.Info().Msgf("Spotify links enabled: market=%s", cfg.Spotify.Market)
	} else {
		zlog.Info().Msg("Spotify credentials not configured, Spotify links are disabled")
	}

	return resolver.New(resolver.Config{
		Timeout:    cfg.ResolverTimeout(),
		RatePerSec: cfg.Resolver.RatePerSec,
		Burst:      cfg.Resolver.Burst,
	}, extractor, opts...), nil
}

// newTransport creates the configured call transport and its cleanup func.
func newTransport(cfg *config.Config) (bridge, func(), error) {
	switch cfg.Transport.Type {
	case config.TransportCalls:
		client, err := calls.New(calls.Config{
			BaseURL:    cfg.Transport.Calls.BaseURL,
			Token:      cfg.Transport.Calls.Token,
			StreamType: cfg.Transport.StreamType,
			Timeout:    time.Duration(cfg.Transport.Calls.TimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create call bridge client")
		}
		zlog.Info().Msgf("Using call bridge: base_url=%s stream_type=%s", cfg.Transport.Calls.BaseURL, cfg.Transport.StreamType)
		return client, func() {}, nil
	default:
		lb := loopback.New(loopback.Config{
			TickInterval: time.Duration(cfg.Transport.Loopback.TickMs) * time.Millisecond,
		})
		zlog.Info().Msg("Using loopback transport, no audio will be streamed")
		return lb, lb.Close, nil
	}
}

// printFilters prints available filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range filter.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
