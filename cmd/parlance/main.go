// Parlance is the speech playback daemon behind the language-learning app.
// It sequences dialogue turns, prefers a network voice for the secondary
// language and falls back to the local synthesizer.
//
// Usage:
//
//	parlance [flags]
//	parlance --config /path/to/parlance.yaml
//
// @title       parlance API
// @version     1.0
// @description Speech playback daemon for the language-learning app: dialogue sequencing, phrase playback and voice settings.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/nadzzz/parlance/internal/audio"
	"github.com/nadzzz/parlance/internal/config"
	"github.com/nadzzz/parlance/internal/content"
	"github.com/nadzzz/parlance/internal/health"
	"github.com/nadzzz/parlance/internal/observe"
	"github.com/nadzzz/parlance/internal/playback"
	"github.com/nadzzz/parlance/internal/prefs"
	"github.com/nadzzz/parlance/internal/session"
	"github.com/nadzzz/parlance/internal/speech"
	"github.com/nadzzz/parlance/internal/speech/espeak"
	"github.com/nadzzz/parlance/internal/speech/network"
	"github.com/nadzzz/parlance/internal/speech/network/piper"
	"github.com/nadzzz/parlance/internal/speech/network/translate"
	"github.com/nadzzz/parlance/internal/speech/voices"
	"github.com/nadzzz/parlance/internal/transport"
	grpctransport "github.com/nadzzz/parlance/internal/transport/grpc"
	httptransport "github.com/nadzzz/parlance/internal/transport/http"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/parlance.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("parlance %s\n", version)
		os.Exit(0)
	}

	if err := run(*configFile); err != nil {
		slog.Error("parlance failed", "error", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	// A missing .env is fine; the environment may be set by the supervisor.
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	config.SetupLogging(cfg.Logging)
	slog.Info("parlance starting", "version", version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics go to the global provider; without telemetry it stays a no-op.
	var provider *observe.Provider
	if cfg.Telemetry.Enabled {
		provider, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			return fmt.Errorf("initialising telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
	}
	metrics := observe.DefaultMetrics()

	// Speech backends.
	local := espeak.New(ctx, espeak.Options{
		Binary:         cfg.Speech.Local.Binary,
		WordsPerMinute: cfg.Speech.Local.WordsPerMinute,
	})
	defer local.Close()
	voiceCatalog := voices.New(ctx, local)

	netSpeaker, err := newNetworkSpeaker(cfg, metrics)
	if err != nil {
		return err
	}

	langs := speech.Languages{
		Primary:   speech.Language{Code: cfg.Languages.Primary.Code, Tag: cfg.Languages.Primary.Tag},
		Secondary: speech.Language{Code: cfg.Languages.Secondary.Code, Tag: cfg.Languages.Secondary.Tag},
	}
	opts := playback.SelectorOptions{Voices: voiceCatalog, Languages: langs, Metrics: metrics}
	if netSpeaker != nil {
		opts.Network = netSpeaker
	}
	player := playback.NewPlayer(playback.NewSelector(local, opts))

	// Collaborators.
	catalog, err := content.Load(cfg.Content.Path)
	if err != nil {
		return fmt.Errorf("loading content: %w", err)
	}
	slog.Info("content loaded",
		"path", cfg.Content.Path,
		"conversations", len(catalog.Conversations()),
		"phrases", len(catalog.Phrases()))

	store, closeStore, err := newSettingsStore(ctx, cfg.Prefs)
	if err != nil {
		return err
	}
	defer closeStore()

	manager := session.NewManager(ctx, session.Options{
		Catalog:  catalog,
		Player:   player,
		Settings: store,
		Voices:   voiceCatalog,
		Metrics:  metrics,
	})

	// Transports.
	var transports []transport.Transport
	var grpcT *grpctransport.Transport
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(httptransport.Options{
			Port:        cfg.Transports.HTTP.Port,
			CORSOrigins: cfg.Transports.HTTP.CORSOrigins,
			Sessions:    manager,
			Content:     catalog,
			Voices:      voiceCatalog,
			Settings:    store,
		}))
	}
	if cfg.Transports.GRPC.Enabled {
		grpcT = grpctransport.New(cfg.Transports.GRPC.Port)
		transports = append(transports, grpcT)
	}
	if len(transports) == 0 {
		return errors.New("no transports enabled, enable at least one in config")
	}

	var metricsHandler http.Handler
	if provider != nil {
		metricsHandler = provider.Handler()
	}
	healthServer := health.New(cfg.Server.HealthPort, metricsHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthServer.ListenAndServe(gctx)
	})
	for _, t := range transports {
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(gctx); err != nil {
				return fmt.Errorf("%s transport: %w", t.Name(), err)
			}
			return nil
		})
	}

	healthServer.SetReady(true)
	if grpcT != nil {
		grpcT.SetServing(true)
	}
	slog.Info("parlance ready",
		"transports", len(transports),
		"health_port", cfg.Server.HealthPort,
		"network_provider", cfg.Speech.Network.Provider)

	<-gctx.Done()
	slog.Info("shutdown signal received, draining...")
	healthServer.SetReady(false)

	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}
	// No speech may outlive the daemon.
	manager.CloseAll()

	err = g.Wait()
	slog.Info("parlance stopped")
	return err
}

// newNetworkSpeaker builds the network provider selected in config, or nil
// when the provider is "none".
func newNetworkSpeaker(cfg *config.Config, metrics *observe.Metrics) (*network.Speaker, error) {
	var fetcher speech.Fetcher
	switch cfg.Speech.Network.Provider {
	case "translate":
		fetcher = translate.New(cfg.Speech.Network.Translate.Endpoint)
	case "piper":
		fetcher = piper.New(cfg.Speech.Network.Piper)
	case "none":
		slog.Info("network speech disabled, all languages use the local synthesizer")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown network speech provider %q", cfg.Speech.Network.Provider)
	}

	slog.Info("using network speech provider",
		"provider", fetcher.Name(),
		"max_chunk_chars", cfg.Speech.Network.MaxChunkChars,
		"requests_per_second", cfg.Speech.Network.RequestsPerSecond)
	return network.NewSpeaker(fetcher, audio.NewFFPlay(cfg.Speech.Player.Binary), network.Options{
		MaxChunkChars:     cfg.Speech.Network.MaxChunkChars,
		RequestsPerSecond: cfg.Speech.Network.RequestsPerSecond,
		Metrics:           metrics,
	}), nil
}

// newSettingsStore creates the speaker settings store on the configured
// backend and loads what was persisted.
func newSettingsStore(ctx context.Context, cfg config.PrefsConfig) (*prefs.Store, func(), error) {
	if cfg.Backend != "redis" {
		slog.Info("speaker settings kept in memory")
		return prefs.NewStore(nil), func() {}, nil
	}

	rp, err := prefs.NewRedisPersister(cfg.RedisURL, cfg.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting settings store: %w", err)
	}
	store := prefs.NewStore(rp)
	if err := store.Load(ctx); err != nil {
		_ = rp.Close()
		return nil, nil, err
	}
	slog.Info("speaker settings persisted in redis", "key", cfg.Key)
	return store, func() { _ = rp.Close() }, nil
}
