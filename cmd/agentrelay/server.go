package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrelay/agent/handoff"
	"github.com/BaSui01/agentrelay/agent/runtime"
	"github.com/BaSui01/agentrelay/agent/supervisor"
	"github.com/BaSui01/agentrelay/api/handlers"
	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/metrics"
	"github.com/BaSui01/agentrelay/internal/server"
	"github.com/BaSui01/agentrelay/registry"
)

// 不需要认证的探针路径
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 agentrelay 的主服务器，负责装配注册表、监管器、路由器与 HTTP 层
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	store      registry.Store
	supervisor *supervisor.Supervisor
	runtime    *runtime.Client
	router     *handoff.Router
	collector  *metrics.Collector

	// Handlers
	agentHandler  *handlers.AgentHandler
	chatHandler   *handlers.ChatHandler
	healthHandler *handlers.HealthHandler

	handler http.Handler

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

type serverOptions struct {
	launcher         supervisor.Launcher
	prober           supervisor.Prober
	store            registry.Store
	metricsNamespace string
}

// serverOption 覆盖默认依赖，主要供测试注入
type serverOption func(*serverOptions)

func withLauncher(l supervisor.Launcher) serverOption {
	return func(o *serverOptions) { o.launcher = l }
}

func withProber(p supervisor.Prober) serverOption {
	return func(o *serverOptions) { o.prober = p }
}

func withStore(s registry.Store) serverOption {
	return func(o *serverOptions) { o.store = s }
}

func withMetricsNamespace(ns string) serverOption {
	return func(o *serverOptions) { o.metricsNamespace = ns }
}

// NewServer 创建服务器并完成全部组件装配，但不监听端口
func NewServer(cfg *config.Config, logger *zap.Logger, opts ...serverOption) (*Server, error) {
	o := serverOptions{metricsNamespace: "agentrelay"}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg, logger: logger}

	// 1. 指标收集器
	s.collector = metrics.NewCollector(o.metricsNamespace, logger)

	// 2. 注册表
	store := o.store
	if store == nil {
		var err error
		store, err = registry.NewStore(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open registry: %w", err)
		}
	}
	s.store = registry.Instrument(store, s.collector)

	// 3. 运行时客户端
	s.runtime = runtime.NewClient(runtime.Options{
		Host:     cfg.Runtime.Host,
		Timeout:  cfg.Runtime.Timeout,
		Observer: s.collector,
	}, logger)

	// 4. 进程监管
	launcher := o.launcher
	if launcher == nil {
		launcher = supervisor.NewExecLauncher(cfg.Supervisor.Training.StderrTailBytes)
	}
	prober := o.prober
	if prober == nil {
		prober = &supervisor.TCPProber{
			Host:     cfg.Runtime.Host,
			Interval: cfg.Supervisor.Readiness.Interval,
			Timeout:  cfg.Supervisor.Readiness.Timeout,
		}
	}
	s.supervisor = supervisor.New(s.store, launcher, prober, supervisor.OptionsFrom(cfg.Supervisor), logger).
		WithObserver(s.collector)

	// 5. 会话路由
	s.router = handoff.NewRouter(s.store, s.runtime, handoff.ForwardPolicy(cfg.Router.ForwardFailure), logger).
		WithObserver(s.collector)

	// 6. Handlers
	s.initHandlers()
	s.handler = s.buildHandler()

	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initHandlers() {
	s.agentHandler = handlers.NewAgentHandler(s.store, s.supervisor, s.logger).
		WithRuntimeProber(s.runtime)
	s.chatHandler = handlers.NewChatHandler(s.router, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("registry", s.store))
}

// buildHandler 注册路由并构建中间件链
func (s *Server) buildHandler() http.Handler {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// Agent API
	// ========================================
	mux.HandleFunc("GET /agents", s.agentHandler.HandleList)
	mux.HandleFunc("POST /agents", s.agentHandler.HandleCreate)
	mux.HandleFunc("GET /agents/{name}", s.agentHandler.HandleGet)
	mux.HandleFunc("POST /agents/{name}/train", s.agentHandler.HandleTrain)
	mux.HandleFunc("POST /agents/{name}/start", s.agentHandler.HandleStart)
	mux.HandleFunc("POST /agents/{name}/stop", s.agentHandler.HandleStop)
	mux.HandleFunc("GET /agents/{name}/health", s.agentHandler.HandleHealth)
	mux.HandleFunc("POST /agents/{name}/chat", s.chatHandler.HandleChat)

	// ========================================
	// 构建中间件链
	// ========================================
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	srv := s.cfg.Server
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		CORS(srv.CORSAllowedOrigins),
	}
	if srv.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(rateLimiterCtx, float64(srv.RateLimitRPS), srv.RateLimitBurst, s.logger))
	}
	if len(srv.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(srv.APIKeys, skipAuthPaths, srv.AllowQueryAPIKey, s.logger))
	}
	if srv.JWTSecret != "" {
		chain = append(chain, JWTAuth(srv.JWTSecret, skipAuthPaths, s.logger))
	}

	return Chain(mux, chain...)
}

// Handler 返回完整的 API handler（含中间件）
func (s *Server) Handler() http.Handler {
	return s.handler
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 清理失效 PID 后启动 API 与 Metrics 服务器（非阻塞）
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.Supervisor.ReconcileOnStart {
		if _, err := s.supervisor.Reconcile(ctx); err != nil {
			s.logger.Warn("registry reconcile failed", zap.Error(err))
		}
	}

	s.httpManager = server.NewManager("api", s.handler, server.ConfigFrom(s.cfg.Server, s.cfg.Server.HTTPPort), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if s.cfg.Server.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		s.metricsManager = server.NewManager("metrics", mux, server.ConfigFrom(s.cfg.Server, s.cfg.Server.MetricsPort), s.logger)
		if err := s.metricsManager.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.String("api_addr", s.httpManager.ListenAddr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	return nil
}

// Wait 阻塞直到 ctx 结束或任一服务器异常退出
func (s *Server) Wait(ctx context.Context) error {
	var metricsErr <-chan error
	if s.metricsManager != nil {
		metricsErr = s.metricsManager.Errors()
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-s.httpManager.Errors():
		return err
	case err := <-metricsErr:
		return err
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 优雅关闭：先停止接收请求，再按配置停止 agent 进程，最后释放注册表
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")
	var errs []error

	// 1. 关闭 API 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server: %w", err))
		}
	}

	// 2. 停止 agent 进程
	if s.cfg.Supervisor.StopOnShutdown {
		if err := s.supervisor.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop agents: %w", err))
		}
	}

	// 3. 等待训练结束，超过关闭期限则中止
	if err := s.supervisor.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("training runs: %w", err))
	}

	// 4. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	// 5. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 6. 关闭注册表
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("registry: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("Graceful shutdown finished with errors", zap.Error(err))
		return err
	}
	s.logger.Info("Graceful shutdown completed")
	return nil
}
