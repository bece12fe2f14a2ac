package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/stagelink/server/internal/adapters/http"
	"github.com/stagelink/server/internal/adapters/memstore"
	"github.com/stagelink/server/internal/adapters/notify"
	"github.com/stagelink/server/internal/adapters/roomstore"
	"github.com/stagelink/server/internal/adapters/token"
	"github.com/stagelink/server/internal/app"
	"github.com/stagelink/server/internal/config"
	"github.com/stagelink/server/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	tokens := token.NewService(cfg.Secret, cfg.TokenIssuer)

	// Without a remote room service the in-memory store plus the local
	// websocket hub stand in for it.
	var store core.RoomStore
	var sub router.Subscriber
	if cfg.StoreURL != "" {
		store = roomstore.New(cfg.StoreURL, tokens)
		log.Info().Str("store_url", cfg.StoreURL).Msg("using remote room store")
	} else {
		mem := memstore.New()
		hub := notify.NewHub()
		mem.SetSink(hub)
		store = mem
		sub = hub
		log.Info().Msg("using in-memory room store")
	}

	coord := app.NewCoordinator(store, tokens)
	if cfg.AcceptWait > 0 {
		coord.AcceptWait = cfg.AcceptWait
	}
	if cfg.SessionTTL > 0 {
		coord.SessionTTL = cfg.SessionTTL
	}

	r := router.SetupRouter(cfg, coord, tokens, sub)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("stagelink server started")
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
