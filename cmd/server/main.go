package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/TumwekwaseAmiim/amiim-world/internal/adapters/http"
	"github.com/TumwekwaseAmiim/amiim-world/internal/adapters/signal"
	"github.com/TumwekwaseAmiim/amiim-world/internal/app"
	"github.com/TumwekwaseAmiim/amiim-world/internal/config"
)

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// The websocket controller is the router's transport and the router is
	// the controller's message sink, so wire the cycle by hand.
	reg := app.NewRegistry()
	ctl := signal.NewController(cfg.ReadLimit, cfg.PingPeriod)
	ctl.Router = app.NewRouter(reg, ctl)

	r := router.SetupRouter(ctx, cfg, ctl, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Amiim World server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
