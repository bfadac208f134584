package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warungsync/backend/internal/cache"
	"warungsync/backend/internal/config"
	"warungsync/backend/internal/connectivity"
	"warungsync/backend/internal/domain"
	"warungsync/backend/internal/httpapi"
	"warungsync/backend/internal/ledger"
	"warungsync/backend/internal/localstore"
	localmemory "warungsync/backend/internal/localstore/memory"
	"warungsync/backend/internal/localstore/sqlite"
	"warungsync/backend/internal/remote"
	remotememory "warungsync/backend/internal/remote/memory"
	pgremote "warungsync/backend/internal/remote/postgres"
	"warungsync/backend/internal/service"
	"warungsync/backend/internal/syncer"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)

	var rem remote.Ledger
	var pinger connectivity.Pinger
	if cfg.DatabaseURL != "" {
		pg, err := pgremote.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		rem = pg
		pinger = pg
		closers = append(closers, pg.Close)
		log.Println("remote ledger: postgres")
	} else {
		mem := remotememory.NewSeeded(cfg.TenantID)
		rem = mem
		pinger = mem
		log.Println("remote ledger: in-memory (seeded)")
	}

	var local localstore.Store
	if cfg.SQLitePath != "" {
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("local store unavailable: %v", err)
		}
		local = db
		closers = append(closers, db.Close)
		log.Printf("local store: sqlite (%s)", cfg.SQLitePath)
	} else {
		local = localmemory.New()
		log.Println("local store: in-memory")
	}

	lists := cache.ListCache(cache.NoopListCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisListCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			lists = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("list cache: redis")
		}
	} else {
		log.Println("list cache: noop")
	}

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 3*time.Second)
	startOnline := pinger.Ping(probeCtx) == nil
	probeCancel()
	monitor := connectivity.NewMonitor(startOnline)
	log.Printf("connectivity: online=%v", startOnline)

	engine := ledger.NewEngine(rem)
	callTimeout := time.Duration(cfg.SyncTimeoutSeconds) * time.Second
	sync := syncer.New(cfg.TenantID, local, rem, engine, callTimeout)
	svc := service.New(rem, local, engine, lists, monitor.Online, cfg.TenantID)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, sync, monitor, auth, cfg.AllowedOrigin)

	// Status events land in the server log; the UI polls /api/v1/sync/status.
	sync.Subscribe(func(event domain.SyncEvent) {
		log.Printf("[sync] %s: %s", event.Status, event.Message)
	})

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go monitor.Probe(runCtx, pinger, time.Duration(cfg.ProbeIntervalSeconds)*time.Second)
	go sync.Watch(runCtx, monitor.Subscribe(), startOnline)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("POS sync backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
