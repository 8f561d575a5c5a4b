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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/campus"
	"campusattend/internal/config"
	"campusattend/internal/directory"
	"campusattend/internal/handler"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/notify"
	"campusattend/internal/otp"
	"campusattend/internal/queue"
	"campusattend/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campusattend:receipts")
	}

	var otpStore otp.Store
	switch cfg.OTP.Backend {
	case "redis":
		otpStore = otp.NewRedisStore(redisClient.Client)
	case "memory":
		otpStore = otp.NewMemoryStore()
	default:
		otpStore = otp.NewPostgresStore(db.Client)
	}

	dir := directory.NewPostgres(db.Client)
	zones := campus.NewPostgres(db.Client)
	router := notify.FromConfig(cfg.Notify, cfg.Env == "dev")
	otpSvc := otp.NewService(otpStore, dir, router, otp.Options{
		TTL:      cfg.OTP.TTL,
		Secret:   cfg.OTP.Secret,
		ResetURL: cfg.Notify.ResetURL,
	})

	repo := attendance.NewRepository(db.Client)
	ledger := attendance.NewService(attendance.Deps{
		Repo:      repo,
		Roster:    dir,
		Timetable: dir,
		Zones:     zones,
		OTP:       otpSvc,
		Receipts:  notify.NewPublisher(q),
	}, attendance.Policy{
		WindowBefore:     cfg.Attendance.WindowBefore,
		WindowAfter:      cfg.Attendance.WindowAfter,
		LateAfter:        cfg.Attendance.LateAfter,
		GeofenceSelfMark: cfg.Attendance.GeofenceSelfMark,
		GeofenceAssisted: cfg.Attendance.GeofenceAssisted,
		OTPAssisted:      cfg.Attendance.OTPAssisted,
		OTPCorrection:    cfg.Attendance.OTPCorrection,
		Location:         cfg.Location(),
	})

	if cfg.OTP.Echo {
		log.Println("WARNING: OTP_ECHO is on, codes are returned in API responses")
	}

	// A memory queue is invisible to cmd/worker, so drain it here.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.QueueBackend == "memory" {
		w := queue.NewWorker(q)
		w.Handle(queue.TypeAttendanceMarked, notify.NewReceiptHandler(dir, router).Handle)
		go func() {
			if err := w.Run(workerCtx); err != nil {
				log.Printf("[worker] in-process receipts: %v", err)
			}
		}()
	}

	h := handler.New(handler.Config{
		Directory:  dir,
		OTP:        otpSvc,
		Ledger:     ledger,
		Reports:    attendance.NewProjector(repo),
		Zones:      zones,
		Tokens:     auth.NewSigner(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL, cfg.MFATTL),
		IssueLimit: httpmiddleware.NewFixedWindow(redisClient.Client, "campusattend:otp-issue:", cfg.OTP.IssuePerHour, time.Hour),
		LoginRoles: cfg.OTP.LoginRoles,
		EchoCodes:  cfg.OTP.Echo,
		Checks: map[string]handler.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	h.Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on :%s (env=%s)", cfg.HTTPPort, cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}
	log.Println("Server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Cache-Control", "no-store")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
