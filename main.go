package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"

	"github.com/panemux/panemux/internal/audit"
	"github.com/panemux/panemux/internal/config"
	"github.com/panemux/panemux/internal/events"
	"github.com/panemux/panemux/internal/handlers"
	"github.com/panemux/panemux/internal/logging"
	"github.com/panemux/panemux/internal/mux"
	"github.com/panemux/panemux/internal/session"
	"github.com/panemux/panemux/internal/snippets"
	"github.com/panemux/panemux/internal/store"
	"github.com/panemux/panemux/internal/transport"
)

func main() {
	config.Load()
	logging.Init()

	hostStore, err := store.Open(config.Cfg.HostsPath(), config.Cfg.StorePassphrase)
	if err != nil {
		// The store recovers to an empty state; connecting proceeds without
		// the saved hosts rather than refusing to start.
		log.Printf("WARNING: host store: %v", err)
	}
	snipStore, err := store.Open(config.Cfg.SnippetsPath(), config.Cfg.StorePassphrase)
	if err != nil {
		log.Printf("WARNING: snippet store: %v", err)
	}

	db, err := audit.Open(config.Cfg.AuditDBPath())
	if err != nil {
		log.Fatalf("Audit database init: %v", err)
	}
	auditor := audit.NewAuditor(db, config.Cfg.AuditRetentionDays)

	bus := events.NewBus()

	registry := session.NewRegistry(hostStore, bus)
	if err := registry.Load(); err != nil {
		log.Printf("WARNING: loading saved hosts: %v", err)
	}

	var verifier transport.Verifier
	if config.Cfg.StrongVerifyCmd != "" {
		verifier = transport.CommandVerifier{Command: config.Cfg.StrongVerifyCmd}
	}
	hostKeys, err := transport.HostKeyCallback(config.Cfg.KnownHostsFile)
	if err != nil {
		log.Fatalf("Host key setup: %v", err)
	}

	supervisor := transport.NewSupervisor(registry, bus, verifier, hostKeys)
	multiplexer := mux.New(supervisor, bus, config.Cfg.TranscriptLimit)

	snipSvc, err := snippets.NewService(snipStore, bus)
	if err != nil {
		log.Fatalf("Snippet service init: %v", err)
	}

	supervisor.OnDisconnect(multiplexer.CloseAllForSession)
	supervisor.OnConnect(func(id string) { snipSvc.RunOnConnect(id, multiplexer) })
	// Removing a host while connected tears the transport down first; idle
	// hosts have nothing to close, so the error is ignored.
	registry.SetTeardown(func(id string) { _ = supervisor.Disconnect(id) })

	handlers.Registry = registry
	handlers.Supervisor = supervisor
	handlers.Mux = multiplexer
	handlers.Snips = snipSvc
	handlers.Bus = bus
	handlers.Auditor = auditor

	sched := cron.New()
	if config.Cfg.KeepaliveSpec != "" {
		if _, err := sched.AddFunc(config.Cfg.KeepaliveSpec, supervisor.KeepaliveSweep); err != nil {
			log.Fatalf("Keepalive schedule %q: %v", config.Cfg.KeepaliveSpec, err)
		}
	}
	if config.Cfg.AuditPurgeSpec != "" {
		if _, err := sched.AddFunc(config.Cfg.AuditPurgeSpec, func() {
			if n, err := auditor.PurgeOlderThan(0); err != nil {
				log.Printf("Audit purge: %v", err)
			} else if n > 0 {
				log.Printf("Audit purge removed %d records", n)
			}
		}); err != nil {
			log.Fatalf("Audit purge schedule %q: %v", config.Cfg.AuditPurgeSpec, err)
		}
	}
	sched.Start()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Route("/api/v1", handlers.Routes)

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	sched.Stop()
	supervisor.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
