package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"rollcall/internal/app"
	"rollcall/internal/config"
	"rollcall/internal/notify"
	"rollcall/internal/ratelimit"
	"rollcall/internal/recorder"
	"rollcall/internal/report"
	"rollcall/internal/schedule"
	"rollcall/internal/server"
	"rollcall/internal/session"
	"rollcall/internal/tenanttoken"
	"rollcall/internal/util"
	"rollcall/pkg/platform"
	"rollcall/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("failed to resolve timezone: %v", err)
	}

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})

	bridge, err := platform.NewAMQPBridge(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("failed to connect amqp: %v", err)
	}
	defer bridge.Close()

	verifier, err := tenanttoken.NewVerifier(tenanttoken.Config{
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var archiver report.Archiver
	if cfg.ArchiveEnabled() {
		minioArchive, err := report.NewMinioArchive(
			cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey,
			cfg.MinioBucket, cfg.MinioUseSSL,
		)
		if err != nil {
			log.Fatalf("failed to init report archive: %v", err)
		}
		archiver = minioArchive
	}

	sessions := session.NewManager(session.Config{
		Factory:  bridge,
		Store:    st,
		Recorder: recorder.New(st, loc),
		Notifier: notify.NewPublisher(redisClient),
	})

	scheduler := schedule.New(loc)
	defer scheduler.Stop()

	generator := report.New(st, sessions, archiver, loc)
	appCore := app.New(st, sessions, scheduler, generator, loc)

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	if err := appCore.Restore(bootCtx); err != nil {
		logger.Error("trigger restore failed", "err", err)
	}
	cancelBoot()

	var limiter server.Limiter
	if cfg.SetupRateLimitPerMinute > 0 {
		fw, err := ratelimit.NewFixedWindowLimiter(redisClient, "", cfg.SetupRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		limiter = fw
	}

	httpServer := server.New(appCore, verifier, limiter, cfg.TrustProxy)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("rollcall server listening", "addr", addr, "timezone", cfg.Timezone)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	slog.Info("rollcall server stopped")
}
