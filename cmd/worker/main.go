package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"campusattend/internal/config"
	"campusattend/internal/directory"
	"campusattend/internal/notify"
	"campusattend/internal/otp"
	"campusattend/internal/queue"
	"campusattend/internal/store"
)

// Worker delivers attendance receipts and sweeps spent OTP challenges.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := store.NewDB(connectCtx, cfg.DatabaseURL)
	connectCancel()
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		log.Println("WARNING: QUEUE_BACKEND=memory, the worker will not see messages published by the API")
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
	router := notify.FromConfig(cfg.Notify, cfg.Env == "dev")
	otpSvc := otp.NewService(otpStore, dir, router, otp.Options{TTL: cfg.OTP.TTL, Secret: cfg.OTP.Secret, ResetURL: cfg.Notify.ResetURL})

	go sweep(ctx, otpSvc, cfg.OTP.SweepInterval)

	w := queue.NewWorker(q)
	w.Handle(queue.TypeAttendanceMarked, notify.NewReceiptHandler(dir, router).Handle)

	log.Println("worker started, waiting for messages...")
	if err := w.Run(ctx); err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}
	log.Println("worker stopped")
}

func sweep(ctx context.Context, svc *otp.Service, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.Sweep(ctx)
			if err != nil {
				log.Printf("[worker] otp sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[worker] purged %d otp challenges", n)
			}
		}
	}
}
