package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newsrelay/internal/config"
	"github.com/newsrelay/internal/db"
	"github.com/newsrelay/internal/handler"
	"github.com/newsrelay/internal/lock"
	"github.com/newsrelay/internal/logging"
	"github.com/newsrelay/internal/portal"
	"github.com/newsrelay/internal/router"
	"github.com/newsrelay/internal/service"
	"github.com/newsrelay/internal/worker"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logging.Component("server")
	gin.SetMode(cfg.Server.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	if _, err := db.EnsureUser(db.DB, cfg.SuperRoot.UserName, cfg.SuperRoot.Password); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure super root user")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	system := service.NewSystemSettingService(db.DB, service.SystemSettings{
		AIProvider:     cfg.AI.Provider,
		OpenAIAPIKey:   cfg.AI.OpenAIAPIKey,
		DeepSeekAPIKey: cfg.AI.DeepSeekAPIKey,
		AIModel:        cfg.AI.Model,
	})
	rewriter := service.NewAIRewriteService(system, cfg.AI.Timeout)
	rewriter.SetOpenAIBaseURL(cfg.AI.OpenAIBaseURL)
	rewriter.SetDeepSeekBaseURL(cfg.AI.DeepSeekURL)
	rewriter.SetRequestsPerMinute(cfg.AI.RequestsPerMin)

	gateway := portal.NewClient(portal.Options{
		WriteTimeout:      cfg.Gateway.WriteTimeout,
		ReadTimeout:       cfg.Gateway.ReadTimeout,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		BreakerFailures:   cfg.Gateway.BreakerFailures,
		BreakerTimeout:    cfg.Gateway.BreakerTimeout,
	})

	locker, closeLocker := newLocker(ctx, cfg.Lock)
	defer closeLocker()

	pool := worker.New("publish", cfg.Jobs.Workers, cfg.Jobs.QueueSize)
	poolDone := pool.Start(ctx)

	api := handler.NewAPI(handler.Deps{
		DB:            db.DB,
		System:        system,
		Rewriter:      rewriter,
		Gateway:       gateway,
		Locker:        locker,
		Jobs:          pool,
		UploadDir:     cfg.Upload.Dir,
		UploadURL:     cfg.Upload.URLPath,
		UploadMaxSize: cfg.Upload.MaxSize,
	})

	// 设置并运行 Gin 服务器
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router.SetupRouter(api, router.OptionsFromConfig(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Server.Environment).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to run server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}

	select {
	case err := <-poolDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("worker pool stopped with error")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("worker pool did not stop in time")
	}
}

// newLocker 按配置选择进程内锁或 Redis 锁。
func newLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func()) {
	log := logging.Component("server")
	if cfg.Backend != "redis" {
		return lock.NewLocalLocker(), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis locks")
	return lock.NewRedisLocker(client, cfg.TTL), func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis client")
		}
	}
}
