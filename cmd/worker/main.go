package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/scheduler"
	"rollcall/internal/store"
)

// Worker runs the rollover and retention schedule against a shared store,
// for deployments where the api runs with RUN_SCHEDULER=false.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if (cfg.QueueBackend != "memory" || cfg.StoreBackend == store.BackendRedis) && !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis at %s is not reachable; jobs will fail until it is", cfg.RedisAddr)
	}

	db, err := store.Open(ctx, store.Options{
		Backend:     cfg.StoreBackend,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		Redis:       redisClient,
	})
	if err != nil {
		log.Fatalf("store %s unavailable: %v", cfg.StoreBackend, err)
	}
	if cfg.StoreBackend != store.BackendRedis {
		defer db.Close()
	}
	if cfg.StoreBackend == store.BackendMemory {
		log.Println("WARNING: memory store is private to this process; the api will not see its changes")
	}

	att := attendance.NewService(db, attendance.Options{
		Location:  cfg.Location,
		Retention: cfg.Retention,
	})

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Println("WARNING: memory queue; run the api with RUN_SCHEDULER=false or refreshes fire twice")
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
	}

	sched := scheduler.New(q, att, cfg.RefreshInterval, cfg.SweepInterval)
	go sched.Tick(ctx)

	log.Printf("worker started: refresh every %s, sweep every %s", cfg.RefreshInterval, cfg.SweepInterval)
	if err := sched.Work(ctx); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("worker stopped")
}
