package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/toolhub/hubauth/internal/activity"
	"github.com/toolhub/hubauth/internal/config"
	"github.com/toolhub/hubauth/internal/db"
	"github.com/toolhub/hubauth/internal/fallback"
	"github.com/toolhub/hubauth/internal/handler"
	"github.com/toolhub/hubauth/internal/job"
	"github.com/toolhub/hubauth/internal/mail"
	"github.com/toolhub/hubauth/internal/middleware"
	"github.com/toolhub/hubauth/internal/pkg/jwt"
	"github.com/toolhub/hubauth/internal/ratelimit"
	"github.com/toolhub/hubauth/internal/repo"
	"github.com/toolhub/hubauth/internal/schedule"
	"github.com/toolhub/hubauth/internal/service"
)

func newRateLimitStore(cfg config.RateLimitConfig) ratelimit.Store {
	sweep := time.Duration(cfg.SweepIntervalS) * time.Second
	local := ratelimit.NewMemoryStore(sweep)
	if cfg.Store != "redis" {
		return local
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	primary := ratelimit.NewRedisStore(client, cfg.Redis.Prefix)
	if !cfg.FailOpenToLocal {
		return primary
	}
	return ratelimit.NewFailOpenStore(primary, local, func(err error) {
		logutil.GetLogger(context.Background()).Warn("rate limit redis failed, using local counters", zap.Error(err))
	})
}

func runServer(cfg *config.Config) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("rate_limit_store", cfg.RateLimit.Store),
		zap.String("activity_sink", cfg.Activity.Sink),
	)

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer conn.Close()
	probeTimeout := time.Duration(cfg.Database.ProbeTimeoutMS) * time.Millisecond
	if err := db.Ping(context.Background(), conn, probeTimeout); err != nil {
		logutil.GetLogger(context.Background()).Warn("database unreachable at startup, fallback login active", zap.Error(err))
	} else if err := db.ApplyMigrations(conn); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	userRepo := repo.NewUserRepo(conn)
	sessionRepo := repo.NewSessionRepo(conn)
	codeRepo := repo.NewVerificationCodeRepo(conn)
	activityRepo := repo.NewActivityRepo(conn)

	limiter := ratelimit.New(newRateLimitStore(cfg.RateLimit))

	sink, err := activity.NewSink(activity.SinkDeps{Config: cfg.Activity, Repo: activityRepo})
	if err != nil {
		return fmt.Errorf("init activity sink: %w", err)
	}
	activityLogger := activity.NewLogger(sink, activity.Options{
		BufferSize: cfg.Activity.BufferSize,
		DropIfFull: cfg.Activity.DropIfFull,
	})
	defer activityLogger.Close()

	tokens, err := jwt.NewCodec([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}

	sender := mail.NewSender(cfg.Mail)
	composer := mail.NewComposer(cfg.AppName, cfg.Mail.ReplyTo)
	registry, err := fallback.NewLRURegistry(cfg.Fallback.MaxPendingUsers)
	if err != nil {
		return fmt.Errorf("init fallback registry: %w", err)
	}
	provider := fallback.NewProvider(fallbackConfig(cfg), registry, sender, composer, limiter)

	probe := service.NewStoreProbe(conn, probeTimeout)
	sessions := service.NewSessionService(sessionRepo)
	codes := service.NewVerificationService(codeRepo, limiter)
	authService := service.NewAuthService(service.AuthDeps{
		Users:       userRepo,
		Sessions:    sessions,
		Codes:       codes,
		Probe:       probe,
		Fallback:    provider,
		Tokens:      tokens,
		Limiter:     limiter,
		Sender:      sender,
		Composer:    composer,
		Activity:    activityLogger,
		FallbackTTL: time.Duration(cfg.FallbackTTLHour) * time.Hour,
	})

	deps := handler.RouterDeps{
		Auth:          handler.NewAuthHandler(authService),
		Fallback:      handler.NewFallbackHandler(authService),
		Activity:      handler.NewActivityHandler(activityRepo),
		Status:        handler.NewStatusHandler(cfg.AppName, probe),
		Authenticator: authService,
		Limiter:       limiter,
	}

	clientIP, err := middleware.TrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return fmt.Errorf("init trusted proxies: %w", err)
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			clientIP,
			middleware.RequestID(),
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewVerificationPurgeJob(codes), cfg.Jobs.VerificationPurgeSpec); err != nil {
		return err
	}
	if err := scheduler.AddJob(job.NewSessionPurgeJob(sessions), cfg.Jobs.SessionPurgeSpec); err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
