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

	"github.com/hyunsoo-dev/persona-chat/internal/chat"
	"github.com/hyunsoo-dev/persona-chat/internal/config"
	"github.com/hyunsoo-dev/persona-chat/internal/db"
	"github.com/hyunsoo-dev/persona-chat/internal/httpapi"
	"github.com/hyunsoo-dev/persona-chat/internal/store/rabbitmq"
	"github.com/hyunsoo-dev/persona-chat/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("redis unreachable, compaction batch guard disabled: %v", err)
	}
	cancel()

	// With a queue the worker fleet compacts; without one the server does it
	// on background goroutines.
	var trigger chat.CompactionTrigger
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbitmq unavailable, compaction runs in-process: %v", err)
	} else {
		defer pub.Close()
		trigger = rabbitmq.NewCompactionTrigger(pub)
	}

	router := httpapi.NewRouter(gdb, cfg, rds, trigger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
