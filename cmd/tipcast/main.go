package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tipcast/internal/config"
	"tipcast/internal/httpapi"
	"tipcast/internal/hub"
	"tipcast/internal/ledger"
	"tipcast/internal/monitor"
	"tipcast/internal/session"
	"tipcast/internal/tips"
	"tipcast/internal/version"
	"tipcast/pkg/bus"
	"tipcast/pkg/storage"
	"tipcast/pkg/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTelemetry, traceMiddleware, err := telemetry.Init(ctx, version.Name, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := storage.New(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}

	sessions, err := session.NewStore(db, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("load sessions")
	}
	tipLedger, err := tips.NewLedger(db, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("load tips")
	}

	events, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect event bus")
	}
	defer events.Close()

	fanout := hub.New(ctx, hub.Options{
		MinTip:         cfg.MinTip,
		MaxTip:         cfg.MaxTip,
		AllowedOrigins: cfg.AllowedOrigins,
	}, sessions, tipLedger, tips.NewGuard(), events, log.Logger)

	lookup := ledger.New(cfg.LedgerAPIURL, cfg.LedgerAPIKey)
	engine := monitor.New(monitor.Config{
		ConfirmDelay: cfg.ConfirmDelay,
		PollInterval: cfg.PollInterval,
		PollMaxTries: cfg.PollMaxTries,
	}, lookup, sessions, fanout, log.Logger)
	fanout.Bind(engine)
	defer engine.CancelAll()

	api := httpapi.New(sessions, tipLedger, cfg.FrontendOrigin, log.Logger)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traceMiddleware(api.Routes(cfg.AllowedOrigins, fanout)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("confirm_strategy", engine.Strategy()).
			Str("version", version.Version).
			Msg("starting tipcast")
		if cfg.LedgerAPIURL != "" {
			log.Info().Str("url", cfg.LedgerAPIURL).Bool("keyed", cfg.LedgerAPIKey != "").Msg("confirming via ledger API")
		} else {
			log.Info().Dur("delay", cfg.ConfirmDelay).Msg("confirming via fixed timer")
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}
