package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"judgeline/internal/common/cache"
	commonmw "judgeline/internal/common/http/middleware"
	"judgeline/internal/common/mq"
	"judgeline/internal/common/storage"
	"judgeline/internal/judge/controller"
	"judgeline/internal/judge/language"
	"judgeline/internal/judge/repository"
	"judgeline/internal/judge/sandbox"
	"judgeline/internal/judge/sandbox/observer"
	"judgeline/internal/judge/service"
	"judgeline/internal/judge/verdict"
	"judgeline/internal/judge/workspace"
	"judgeline/internal/leaderboard"
	appErr "judgeline/pkg/errors"
	"judgeline/pkg/utils/logger"
	"judgeline/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/judge_worker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judge worker stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	bg := context.Background()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis: %w", err)
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		minioStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			return fmt.Errorf("init minio: %w", err)
		}
		objStorage = minioStorage
	} else {
		logger.Warn(bg, "minio is not configured, sourceKey submissions will fail")
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}
	defer func() {
		_ = mqClient.Close()
	}()

	registry, err := loadLanguages(appCfg.Languages)
	if err != nil {
		return fmt.Errorf("init language registry: %w", err)
	}
	workspaces, err := workspace.NewManager(appCfg.Workspace)
	if err != nil {
		return fmt.Errorf("init workspace manager: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, err := sandbox.NewEngineClient(appCfg.Docker.Host)
	if err != nil {
		return fmt.Errorf("init docker: %w", err)
	}
	defer func() {
		_ = engine.Close()
	}()
	runner := sandbox.NewDockerRunner(appCfg.Docker, engine, observer.NewPrometheus(reg))
	statusRepo := repository.NewStatusRepository(redisCache, appCfg.Status.TTL)
	dedupe := repository.NewDedupeStore(redisCache, appCfg.Dedupe.ClaimTTL, appCfg.Dedupe.DoneTTL)
	publisher := repository.NewMQEventPublisher(mqClient, appCfg.Kafka.Topics.Result, appCfg.Kafka.Topics.Leaderboard)

	judgeSvc, err := service.NewService(service.Config{
		Aggregator:      verdict.NewAggregator(runner),
		Languages:       registry,
		Workspaces:      workspaces,
		StatusRepo:      statusRepo,
		Dedupe:          dedupe,
		Publisher:       publisher,
		Queue:           mqClient,
		Storage:         objStorage,
		SourceBucket:    appCfg.Source.Bucket,
		MaxSourceBytes:  appCfg.Source.MaxBytes,
		RetryTopic:      appCfg.Kafka.Topics.Retry,
		DeadLetterTopic: appCfg.Kafka.Topics.DeadLetter,
		Retry:           appCfg.Retry,
		StatusTimeout:   appCfg.Status.Timeout,
		StorageTimeout:  appCfg.Source.Timeout,
		Metrics:         service.NewMetrics(reg),
	})
	if err != nil {
		return fmt.Errorf("init judge service: %w", err)
	}

	ctx, stop := signal.NotifyContext(bg, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Job-level retries are driven by the service. The handler only returns an
	// error when it could not reschedule a job, so in-place retries and the
	// dead-letter topic here are a backstop for a broker outage.
	if err := mqClient.SubscribeWeighted(ctx, appCfg.Kafka.weightedTopics(), judgeSvc.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		Concurrency:     appCfg.Worker.PoolSize,
		MaxRetries:      appCfg.Kafka.MaxRetries,
		RetryDelay:      appCfg.Kafka.RetryDelay,
		DeadLetterTopic: appCfg.Kafka.Topics.DeadLetter,
		MessageTTL:      appCfg.Kafka.MessageTTL,
		ExpiredHandler:  judgeSvc.HandleExpired,
	}, mq.NewTokenLimiter(appCfg.Worker.PoolSize)); err != nil {
		return fmt.Errorf("subscribe submissions: %w", err)
	}

	board := leaderboard.NewEngine(redisCache, leaderboard.NewMetrics(reg))
	if appCfg.Leaderboard.Enabled {
		if err := mqClient.SubscribeWithOptions(ctx, appCfg.Kafka.Topics.Leaderboard, leaderboard.NewConsumer(board).HandleMessage, &mq.SubscribeOptions{
			ConsumerGroup: appCfg.Leaderboard.ConsumerGroup,
		}); err != nil {
			return fmt.Errorf("subscribe leaderboard: %w", err)
		}
	}

	if err := mqClient.Start(); err != nil {
		return fmt.Errorf("start consumers: %w", err)
	}

	httpServer := buildHTTPServer(appCfg.Server, routes{
		status:      controller.NewJudgeController(statusRepo),
		leaderboard: leaderboard.NewController(board),
		metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		health:      healthCheck(map[string]pinger{"redis": redisCache, "kafka": mqClient, "docker": runner}),
	})
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info(bg, "judge worker http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Int("pool_size", appCfg.Worker.PoolSize),
			zap.Strings("languages", languageIDs(registry)),
		)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(bg, "shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(bg, defaultShutdownTimeout)
		defer cancel()
		if err := mqClient.Stop(); err != nil {
			logger.Warn(bg, "stop consumers failed", zap.Error(err))
		}
		if killed := runner.KillAll(shutdownCtx); killed > 0 {
			logger.Warn(bg, "killed in-flight sandboxes", zap.Int("count", killed))
		}
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func loadLanguages(cfg LanguagesConfig) (*language.LocalRegistry, error) {
	if cfg.File == "" {
		return language.NewLocalRegistry(language.Defaults())
	}
	return language.LoadFile(cfg.File)
}

func languageIDs(registry language.Registry) []string {
	langs := registry.List()
	ids := make([]string, 0, len(langs))
	for _, l := range langs {
		ids = append(ids, l.ID)
	}
	return ids
}

type routes struct {
	status      *controller.JudgeController
	leaderboard *leaderboard.Controller
	metrics     http.Handler
	health      gin.HandlerFunc
}

func buildHTTPServer(cfg ServerConfig, r routes) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContext())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", r.health)
	router.GET("/metrics", gin.WrapH(r.metrics))

	api := router.Group("/api/v1")
	api.GET("/judge/submissions/:id", r.status.GetStatus)
	api.GET("/leaderboard/:contestId", r.leaderboard.TopN)
	api.GET("/leaderboard/:contestId/users/:userId", r.leaderboard.Rank)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthCheck(deps map[string]pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		checks := make(map[string]interface{}, len(deps))
		healthy := true
		for name, dep := range deps {
			checks[name] = "ok"
			if err := dep.Ping(ctx); err != nil {
				checks[name] = err.Error()
				healthy = false
			}
		}
		if !healthy {
			response.Error(c, appErr.New(appErr.ServiceUnavailable).WithMessage("unhealthy").WithDetails(checks))
			return
		}
		response.Success(c, checks)
	}
}
