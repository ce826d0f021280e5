package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/skiff-ssh/skiff/internal/config"
	"github.com/skiff-ssh/skiff/internal/dispatch"
	"github.com/skiff-ssh/skiff/internal/logging"
	"github.com/skiff-ssh/skiff/internal/session"
	"github.com/skiff-ssh/skiff/internal/store"
)

func main() {
	config.Load()
	logging.Init()

	dataPath := config.Cfg.DataPath
	if dataPath == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			log.Fatalf("resolve data directory: %v", err)
		}
		dataPath = filepath.Join(base, "skiff")
	}

	st, err := store.Open(filepath.Join(dataPath, "skiff.db"))
	if err != nil {
		log.Fatalf("Store init: %v", err)
	}
	defer st.Close()

	registry := session.NewRegistry(session.Options{
		KeepaliveInterval:     config.Cfg.KeepaliveInterval,
		KeepaliveMaxMiss:      config.Cfg.KeepaliveMaxMiss,
		ConnectTimeout:        config.Cfg.ConnectTimeout,
		MaxSessions:           config.Cfg.MaxSessions,
		MaxChannelsPerSession: config.Cfg.MaxChannelsPerSession,
	})
	log.Printf("Session registry initialized (keepalive=%s, max_miss=%d, max_sessions=%d)",
		config.Cfg.KeepaliveInterval, config.Cfg.KeepaliveMaxMiss, config.Cfg.MaxSessions)

	handlers := dispatch.NewHandlers(registry, st, config.Cfg.LocalRoots, config.Cfg.TransferChunkSize)

	// Periodic maintenance: sweep idle sessions and prune history of
	// sessions that are gone.
	c := cron.New()
	c.AddFunc("@every 5m", func() {
		if n := registry.SweepIdle(config.Cfg.IdleTimeout); n > 0 {
			log.Printf("[sweep] closed %d idle session(s)", n)
		}
		if n := registry.PruneHistory(); n > 0 {
			log.Printf("[sweep] pruned event history for %d session(s)", n)
		}
	})
	c.Start()
	defer c.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Mount("/", handlers.Routes())

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("Listening on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: server shutdown: %v", err)
	}
	if err := registry.CloseAll(); err != nil {
		log.Printf("WARNING: closing sessions: %v", err)
	}
}
