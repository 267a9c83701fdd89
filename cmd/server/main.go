package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voicemesh/internal/adapters/http"
	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can report through it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    core.NewRoomManager(),
		Policy:   app.PolicyByName(cfg.Policy),
		Limiter:  app.NewRoomRateLimiter(cfg.JoinLimit, cfg.JoinInterval),
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, o),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("policy", cfg.Policy).Msg("relay started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("server exited gracefully")
}
