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

	router "github.com/dkeye/Huddle/internal/adapters/http"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/features/board"
	"github.com/dkeye/Huddle/internal/features/call"
	"github.com/dkeye/Huddle/internal/features/canvas"
	"github.com/dkeye/Huddle/internal/features/chat"
	"github.com/dkeye/Huddle/internal/features/doc"
	"github.com/dkeye/Huddle/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
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

	// Chat is the only feature with a durable side. The store is optional:
	// without a DSN the relay still works, history just dies with the
	// process.
	var chatStore store.ChatStore = store.Disabled{}
	if cfg.PostgresDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Error().Err(err).Msg("chat store unavailable, running without persistence")
		} else {
			chatStore = pg
			defer pg.Close()
		}
	}
	writer := store.NewWriter(chatStore, cfg.PersistQueue)
	writer.Start(ctx)

	deps := router.Deps{
		Chat: chat.New(chat.Options{
			HistoryLimit: cfg.ChatHistory,
			MemberLimit:  cfg.RoomMemberLimit,
		}, writer, chatStore),
		Board:    board.New(cfg.RoomMemberLimit),
		Canvas:   canvas.New(cfg.RoomMemberLimit),
		Call:     call.New(cfg.RoomMemberLimit),
		Doc:      doc.New(cfg.RoomMemberLimit),
		Verifier: auth.StaticVerifier{Token: cfg.AdminToken},
	}

	r := router.SetupRouter(ctx, cfg, deps)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
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
	writer.Wait()
	log.Info().Msg("Server exited gracefully")
}
