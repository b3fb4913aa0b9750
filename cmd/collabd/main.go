// Command collabd is the server binary: it wires the Document Store, Lock
// Service, Document Service, and Transport together and serves WebSocket
// connections for collaborative editing.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/shiv248/collabd/internal/collab"
	"github.com/shiv248/collabd/internal/config"
	"github.com/shiv248/collabd/internal/httpapi"
	"github.com/shiv248/collabd/internal/lock"
	"github.com/shiv248/collabd/internal/store"
	"github.com/shiv248/collabd/pkg/logger"
)

func main() {
	logger.Init()
	cfg := config.Load()

	logger.Info("starting collabd...")
	logger.Info("port: %s", cfg.Port)

	var st store.Store
	if cfg.SQLiteURI != "" {
		logger.Info("store: sqlite at %s", cfg.SQLiteURI)
		sqliteStore, err := store.NewSQLite(cfg.SQLiteURI)
		if err != nil {
			log.Fatalf("failed to initialize store: %v", err)
		}
		defer sqliteStore.Close()
		st = sqliteStore
	} else {
		logger.Info("store: in-memory only (set SQLITE_URI to persist)")
		st = store.NewMem()
	}

	var locks lock.Service
	if cfg.RedisAddr != "" {
		logger.Info("lock: redis at %s", cfg.RedisAddr)
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		locks = lock.NewRedis(rdb)
	} else {
		logger.Info("lock: in-memory only (set REDIS_ADDR for multi-instance deployments)")
		locks = lock.NewMem()
	}

	docs := collab.NewDocumentService(st, cfg.MaxRetries)
	srv := httpapi.NewServer(st, docs, locks, httpapi.DevAuthenticator{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.StartCleaner(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down...")
		cancel()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Fatal(srv.ListenAndServe(addr))
}
