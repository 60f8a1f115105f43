package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/voxelforge/api"
	"github.com/BaSui01/voxelforge/api/handlers"
	"github.com/BaSui01/voxelforge/artifact"
	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/config"
	"github.com/BaSui01/voxelforge/generator"
	"github.com/BaSui01/voxelforge/internal/cache"
	"github.com/BaSui01/voxelforge/internal/database"
	"github.com/BaSui01/voxelforge/internal/metrics"
	"github.com/BaSui01/voxelforge/internal/pool"
	"github.com/BaSui01/voxelforge/internal/server"
	"github.com/BaSui01/voxelforge/internal/telemetry"
	"github.com/BaSui01/voxelforge/internal/tlsutil"
	"github.com/BaSui01/voxelforge/job"
	"github.com/BaSui01/voxelforge/runner"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 VoxelForge 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 流水线组件
	registry *job.Registry
	workers  *pool.WorkerPool
	store    *artifact.Store
	runner   *runner.Runner
	genCache *cache.Manager

	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 初始化流水线并启动所有监听器
func (s *Server) Start(ctx context.Context) error {
	// 1. 遥测与指标
	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otelProviders = providers
	s.metricsCollector = metrics.NewCollector("voxelforge", s.logger)

	// 2. 作业流水线
	if err := s.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to init pipeline: %w", err)
	}

	// 3. HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. 恢复上次进程遗留的作业
	if s.cfg.Pipeline.RecoverOnStart {
		if _, err := s.runner.Recover(ctx); err != nil {
			s.logger.Error("job recovery failed", zap.Error(err))
		}
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("manifest_backend", s.cfg.Storage.ManifestBackend),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initPipeline(ctx context.Context) error {
	backend, err := job.NewBackend(ctx, s.backendConfig(), s.logger)
	if err != nil {
		return fmt.Errorf("failed to open manifest backend: %w", err)
	}

	s.store, err = artifact.NewStore(s.cfg.Storage.ArtifactsDir, s.logger)
	if err != nil {
		backend.Close()
		return err
	}

	s.registry = job.NewRegistry(backend,
		job.WithMaxConcurrentJobs(s.cfg.Pipeline.MaxConcurrentJobs),
		job.WithLogger(s.logger),
	)

	workers := s.cfg.Pipeline.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s.workers = pool.New(pool.Config{
		Workers:   workers,
		QueueSize: s.cfg.Pipeline.QueueSize,
		PanicHandler: func(v any) {
			s.logger.Error("part task panicked", zap.Any("panic", v))
		},
	})

	synthOpts := []asset.SynthOption{
		asset.WithMaxVoxels(s.cfg.Pipeline.MaxVoxelsPerPart),
		asset.WithGeneratorTimeout(s.cfg.Pipeline.PartTimeout),
		asset.WithSynthLogger(s.logger),
		asset.WithFallbackHook(func(partID string, err error) {
			s.metricsCollector.RecordFallback(partID)
		}),
	}
	gen, err := s.buildGenerator(ctx)
	if err != nil {
		s.workers.Close()
		_ = s.registry.Close(ctx)
		return err
	}
	if gen != nil {
		synthOpts = append(synthOpts, asset.WithGenerator(gen))
		s.logger.Info("content generator enabled", zap.String("generator", gen.Name()))
	} else {
		s.logger.Info("content generator disabled, using procedural synthesis only")
	}

	s.runner = runner.New(s.registry,
		asset.NewPlanner(asset.WithLODCap(s.cfg.Pipeline.LODCap)),
		asset.NewSynthesizer(synthOpts...),
		s.store,
		s.workers,
		runner.WithMetrics(s.metricsCollector),
		runner.WithLogger(s.logger),
	)
	return nil
}

func (s *Server) backendConfig() job.BackendConfig {
	cfg := job.BackendConfig{
		Type: job.BackendType(s.cfg.Storage.ManifestBackend),
		Dir:  filepath.Join(s.cfg.Storage.ArtifactsDir, "manifests"),
		Redis: job.RedisConfig{
			Addr:      s.cfg.Redis.Addr,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Redis.KeyPrefix,
		},
		Database: database.Config{
			Driver: s.cfg.Database.Driver,
			DSN:    s.cfg.Database.DSN(),
		},
		DatabasePool: database.PoolConfig{
			MaxIdleConns:        s.cfg.Database.MaxIdleConns,
			MaxOpenConns:        s.cfg.Database.MaxOpenConns,
			ConnMaxLifetime:     s.cfg.Database.ConnMaxLifetime,
			HealthCheckInterval: 30 * time.Second,
		},
	}
	if s.cfg.Redis.TLS {
		cfg.Redis.TLS = tlsutil.DefaultTLSConfig()
	}
	return cfg
}

// buildGenerator 根据配置创建内容生成器，未启用时返回 nil。
// 启用响应缓存时，生成器外层包装 Redis 缓存。
func (s *Server) buildGenerator(ctx context.Context) (asset.ContentGenerator, error) {
	gen, err := s.newGenerator()
	if err != nil || gen == nil {
		return gen, err
	}
	if !s.cfg.Generator.CacheEnabled {
		return gen, nil
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = s.cfg.Redis.Addr
	cacheCfg.Password = s.cfg.Redis.Password
	cacheCfg.DB = s.cfg.Redis.DB
	cacheCfg.PoolSize = s.cfg.Redis.PoolSize
	cacheCfg.KeyPrefix = s.cfg.Redis.KeyPrefix + "gen:"
	cacheCfg.DefaultTTL = s.cfg.Generator.CacheTTL
	if s.cfg.Redis.TLS {
		cacheCfg.TLS = tlsutil.DefaultTLSConfig()
	}
	s.genCache, err = cache.NewManager(ctx, cacheCfg, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open generator cache: %w", err)
	}
	return generator.NewCached(gen, s.genCache,
		generator.WithCacheTTL(s.cfg.Generator.CacheTTL),
		generator.WithCacheMetrics(s.metricsCollector),
		generator.WithCacheLogger(s.logger),
	), nil
}

func (s *Server) newGenerator() (asset.ContentGenerator, error) {
	gc := s.cfg.Generator
	if !gc.Enabled {
		return nil, nil
	}
	switch gc.Provider {
	case "stub":
		return generator.NewStub(s.cfg.Pipeline.MaxVoxelsPerPart), nil
	case "chat", "":
		g, err := generator.NewChatGenerator(generator.ChatConfig{
			BaseURL:           gc.BaseURL,
			APIKey:            gc.APIKey,
			Model:             gc.Model,
			Temperature:       gc.Temperature,
			Timeout:           gc.Timeout,
			MaxRetries:        gc.MaxRetries,
			RequestsPerSecond: gc.RequestsPerSecond,
			Burst:             gc.Burst,
			MaxVoxels:         s.cfg.Pipeline.MaxVoxelsPerPart,
			CAFile:            gc.CAFile,
		}, s.logger, generator.WithMetrics(s.metricsCollector))
		if err != nil {
			return nil, fmt.Errorf("failed to create chat generator: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", gc.Provider)
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 构建 API 路由与中间件链
func (s *Server) routes(rateLimiterCtx context.Context) http.Handler {
	health := handlers.NewHealthHandler(api.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}, s.logger)
	health.RegisterCheck(handlers.NewPingCheck("manifest_backend", s.registry.Ping))
	if s.genCache != nil {
		health.RegisterOptionalCheck(handlers.NewPingCheck("generator_cache", s.genCache.Ping))
	}
	health.SetPipelineStats(func() api.PipelineStats {
		st := s.workers.Stats()
		return api.PipelineStats{
			Workers:       st.Workers,
			ActiveWorkers: st.Active,
			QueuedTasks:   st.Queued,
			PanickedTasks: st.Panicked,
		}
	})

	assets := handlers.NewAssetHandler(s.runner, s.registry, s.store, s.logger)

	r := chi.NewRouter()
	r.Use(
		Recovery(s.logger),
		chimw.RealIP,
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	)
	if s.cfg.Server.RateLimitRPS > 0 {
		r.Use(RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}

	// 健康检查端点
	r.Get("/health", health.HandleHealth)
	r.Get("/healthz", health.HandleHealthz)
	r.Get("/ready", health.HandleReady)
	r.Get("/readyz", health.HandleReady)
	r.Get("/version", health.HandleVersion)

	// API 路由
	r.Route("/api/v1", assets.Routes)
	r.Get(artifact.URLPrefix+"{file}", assets.HandleArtifact)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteErrorMessage(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	return r
}

// startHTTPServer 启动 API 服务器
func (s *Server) startHTTPServer() error {
	rateLimiterCtx, cancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = cancel

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	if s.cfg.Server.TLSCertFile != "" {
		tlsCfg, err := tlsutil.ServerTLSConfig(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
		if err != nil {
			return err
		}
		serverConfig.TLS = tlsCfg
	}

	s.httpManager = server.NewManager("http", s.routes(rateLimiterCtx), serverConfig, s.logger)
	return s.httpManager.Start()
}

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Wait 阻塞直到 ctx 结束或任一监听器异常退出
func (s *Server) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
		return nil
	case err := <-s.httpManager.Errors():
		return fmt.Errorf("http server: %w", err)
	case err := <-s.metricsManager.Errors():
		return fmt.Errorf("metrics server: %w", err)
	}
}

// Shutdown 优雅关闭：先停止接收请求，再等待作业，最后关闭后端与遥测
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 等待执行中的作业，超时后取消，未完成作业留待下次启动恢复
	if s.registry != nil {
		if err := s.registry.Close(ctx); err != nil {
			s.logger.Warn("job registry shutdown", zap.Error(err))
		}
	}

	// 4. 关闭工作池与生成器缓存
	if s.workers != nil {
		s.workers.Close()
	}
	if s.genCache != nil {
		if err := s.genCache.Close(); err != nil {
			s.logger.Warn("generator cache close error", zap.Error(err))
		}
	}

	// 5. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 6. 刷新遥测数据
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
