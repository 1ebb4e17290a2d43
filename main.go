package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TauNeutrino/kantine-overview/internal/bessa"
	"github.com/TauNeutrino/kantine-overview/internal/config"
	"github.com/TauNeutrino/kantine-overview/internal/flagstore"
	"github.com/TauNeutrino/kantine-overview/internal/logging"
	"github.com/TauNeutrino/kantine-overview/internal/menustore"
	"github.com/TauNeutrino/kantine-overview/internal/poll"
	"github.com/TauNeutrino/kantine-overview/internal/server"
	"github.com/TauNeutrino/kantine-overview/internal/sse"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: could not load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)
	logger.WithField("env", cfg.Environment).Info("Starting kantine-overview")

	flags, err := flagstore.Open(cfg.FlagsPath(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Could not open flag store")
	}

	menus, err := menustore.Open(cfg.MenuDBPath())
	if err != nil {
		logger.WithError(err).Fatal("Could not open menu cache")
	}
	defer menus.Close()

	registry := sse.NewRegistry(logger)
	orch := poll.NewOrchestrator(flags, registry, cfg.PollInterval, logger)
	upstream := bessa.NewClient(bessa.Options{
		BaseURL:       cfg.BessaBaseURL,
		GuestToken:    cfg.BessaGuestToken,
		ClientVersion: cfg.ClientVersion,
		VenueID:       cfg.VenueID,
		MenuID:        cfg.MenuID,
	}, logger)

	srv := server.New(flags, menus, registry, orch, upstream, logger)

	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown was not clean")
	}
	logger.Info("Shut down gracefully")
}
