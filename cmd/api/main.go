package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/handler"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/scheduler"
	"rollcall/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *store.Redis
	if cfg.StoreBackend == store.BackendRedis || cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
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
	defer db.Close()
	if redisClient != nil && cfg.StoreBackend != store.BackendRedis {
		defer redisClient.Close()
	}
	log.Printf("store backend: %s", cfg.StoreBackend)

	students := roster.NewService(db)
	if n, err := students.Seed(ctx, cfg.SeedStudents); err != nil {
		log.Printf("warning: roster seed failed: %v", err)
	} else if n > 0 {
		log.Printf("seeded roster with %d students", n)
	}

	att := attendance.NewService(db, attendance.Options{
		Location:  cfg.Location,
		Retention: cfg.Retention,
	})
	if day, err := att.EnsureDay(ctx); err != nil {
		log.Printf("warning: initial rollover failed: %v", err)
	} else {
		log.Printf("attendance day %s: %d students", day.Date, day.Summary.Total)
	}

	admin, err := newAdmin(cfg)
	if err != nil {
		return err
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, "")
	} else {
		q = queue.NewInMemory(64)
	}
	sched := scheduler.New(q, att, cfg.RefreshInterval, cfg.SweepInterval)
	if cfg.RunScheduler {
		go sched.Tick(ctx)
		go func() {
			if err := sched.Work(ctx); err != nil {
				log.Printf("scheduler worker stopped: %v", err)
			}
		}()
		log.Printf("scheduler running: refresh every %s, sweep every %s", cfg.RefreshInterval, cfg.SweepInterval)
		if cfg.QueueBackend == "redis" {
			log.Println("WARNING: RUN_SCHEDULER with a redis queue; a running worker will also tick")
		}
	}

	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Custom logger
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.New(handler.Deps{
		Attendance: att,
		Roster:     students,
		Admin:      admin,
		Jobs:       sched,
		Health:     db,
		RateLimit:  httpmiddleware.NewClientLimiter(cfg.RateLimitPerMin).GinMiddleware(),
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		AccessTTL:  cfg.AccessTTL,
	}).Register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	cancel()

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func newAdmin(cfg config.App) (*auth.Admin, error) {
	password := cfg.AdminPassword
	if password == "" && cfg.AdminPasswordHash == "" {
		log.Printf("warning: ADMIN_PASSWORD not set, using the dev default for %s", cfg.AdminEmail)
		password = "admin"
	}
	return auth.NewAdmin(cfg.AdminEmail, cfg.AdminName, password, cfg.AdminPasswordHash)
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
