// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"health-coach-go/internal/config"
	"health-coach-go/internal/handler"
	"health-coach-go/internal/middleware"
	"health-coach-go/internal/observability"
	"health-coach-go/internal/repository"
	"health-coach-go/internal/service"
	"health-coach-go/internal/stream"
	"health-coach-go/pkg/database"
	"health-coach-go/pkg/embedding"
	"health-coach-go/pkg/es"
	"health-coach-go/pkg/kafka"
	"health-coach-go/pkg/llm"
	"health-coach-go/pkg/log"
	"health-coach-go/pkg/ratelimit"
	"health-coach-go/pkg/storage"
	"health-coach-go/pkg/tasks"
	"health-coach-go/pkg/token"
)

func main() {
	configPath := os.Getenv("COACH_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	// 3. 初始化数据库、Elasticsearch
	database.InitMySQL(cfg.Database.MySQL)
	if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}

	// 4. 限流存储
	var rateStore ratelimit.Store
	switch cfg.RateLimit.Backend {
	case "redis":
		database.InitRedis(cfg.Database.Redis)
		rateStore = ratelimit.NewRedisStore(database.RDB, cfg.RateLimit.KeyPrefix)
	default:
		mem := ratelimit.NewMemoryStore(
			time.Duration(cfg.RateLimit.SweepSeconds)*time.Second,
			ratelimit.WithMaxKeys(cfg.RateLimit.MaxKeys),
		)
		defer mem.Close()
		rateStore = mem
	}
	limiter := ratelimit.NewLimiter(rateStore, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window())

	// 5. LLM 供应商
	registry, err := llm.BuildRegistry(cfg.LLM.Providers)
	if err != nil {
		log.Fatal("初始化 LLM 供应商失败", err)
	}
	router, err := service.NewModelRouter(registry, cfg.LLM, metrics)
	if err != nil {
		log.Fatal("初始化模型路由失败", err)
	}
	log.Infow("LLM 供应商已注册", "providers", registry.Names(), "primary", cfg.LLM.Primary, "secondary", cfg.LLM.Secondary)

	var classifier service.Classifier = service.NewRuleClassifier()
	if cfg.Classifier.Mode == "model" {
		providerName := cfg.Classifier.Provider
		if providerName == "" {
			providerName = cfg.LLM.Primary
		}
		p, err := registry.Get(providerName)
		if err != nil {
			log.Fatal("分类器供应商不存在", err)
		}
		classifier = service.NewModelClassifier(p, cfg.Classifier.Model, time.Duration(cfg.Classifier.TimeoutMs)*time.Millisecond)
	}

	// 6. 埋点
	var analytics service.AnalyticsLogger = service.NopAnalytics{}
	var asyncAnalytics *service.AsyncAnalytics
	var producer *kafka.Producer
	switch cfg.Analytics.Sink {
	case "kafka":
		producer = kafka.NewProducer(cfg.Kafka)
		asyncAnalytics = service.NewAsyncAnalytics(service.NewKafkaSink(producer), cfg.Analytics.BufferSize, metrics)
		analytics = asyncAnalytics
	case "log":
		asyncAnalytics = service.NewAsyncAnalytics(service.LogSink{}, cfg.Analytics.BufferSize, metrics)
		analytics = asyncAnalytics
	}

	// 7. 后台归档：Kafka 埋点批量写入 MinIO
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	archiveDone := make(chan struct{})
	if cfg.Analytics.ArchiveEnabled {
		storage.InitMinIO(cfg.MinIO)
		reader := kafka.NewReader(cfg.Kafka)
		archiver := storage.NewAnalyticsArchiver(storage.MinioClient, cfg.MinIO.BucketName, cfg.Analytics.ArchivePrefix)
		consumer := kafka.NewBatchConsumer(reader, archiver, cfg.Analytics.ArchiveBatchSize,
			time.Duration(cfg.Analytics.ArchiveFlushSeconds)*time.Second)
		go func() {
			defer close(archiveDone)
			if err := consumer.Run(bgCtx); err != nil {
				log.Error("埋点归档消费者退出", err)
			}
		}()
	} else {
		close(archiveDone)
	}

	// 8. 初始化 Repository 与 Service
	jwtManager := token.NewJWTManager(cfg.JWT.Secret)
	historyRepo := repository.NewChatHistoryRepository(database.DB)
	healthRepo := repository.NewHealthRepository(database.DB)
	subscriptionRepo := repository.NewSubscriptionRepository(database.DB)

	taskQueue := tasks.NewQueue(cfg.History.QueueSize, cfg.History.Workers)
	historyService := service.NewHistoryService(historyRepo, taskQueue, cfg.History.DedupWindow(), metrics)
	entitlementService := service.NewEntitlementService(subscriptionRepo)
	ragService := service.NewRagService(embedding.NewClient(cfg.Embedding), es.ESClient, cfg.Elasticsearch.IndexName, cfg.RAG)
	contextBuilder := service.NewContextBuilder(healthRepo, ragService, cfg.Context, metrics)
	chatService := service.NewChatService(
		service.NewMessageValidator(cfg.Validator.MaxMessages, cfg.Validator.MaxContentLength),
		classifier,
		contextBuilder,
		router,
		stream.NewEngine(16),
		historyService,
		analytics,
		cfg.LLM.Prompt,
		metrics,
	)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequestLogger(), gin.Recovery())

	chatHandler := handler.NewChatHandler(chatService, jwtManager, limiter, entitlementService,
		cfg.Guard.SkipEntitlement, cfg.Guard.MaxBodyBytes, metrics)
	historyHandler := handler.NewHistoryHandler(historyService)
	checks := map[string]handler.HealthCheck{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}
	if database.RDB != nil {
		checks["redis"] = func(ctx context.Context) error { return database.RDB.Ping(ctx).Err() }
	}
	healthHandler := handler.NewHealthHandler(checks)

	// 10. 注册路由
	authMW := middleware.AuthMiddleware(jwtManager)
	apiV1 := r.Group("/api/v1/coach")
	{
		chatChain := middleware.Guard(authMW, cfg.Guard.MaxBodyBytes, limiter, entitlementService, cfg.Guard.SkipEntitlement, metrics)
		apiV1.POST("/chat", append(chatChain, chatHandler.Chat)...)
		apiV1.GET("/threads/:threadId", authMW, middleware.RateLimit(limiter, metrics), historyHandler.GetThread)
	}
	r.GET("/chat/:token", chatHandler.HandleWebSocket)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("HTTP 服务器关闭失败", err)
	}
	// 先排空历史写入与埋点，再关闭下游连接
	if err := taskQueue.Close(ctx); err != nil {
		log.Warnw("后台任务未能全部完成", "error", err)
	}
	if asyncAnalytics != nil {
		if err := asyncAnalytics.Close(ctx); err != nil {
			log.Warnw("埋点缓冲未能全部发送", "error", err)
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warnw("关闭 Kafka 生产者失败", "error", err)
		}
	}
	cancelBg()
	select {
	case <-archiveDone:
	case <-ctx.Done():
	}
	log.Info("服务已优雅关闭")
}
