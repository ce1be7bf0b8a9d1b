package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"salescast/auth"
	"salescast/db"
	"salescast/ml"
	"salescast/monitoring"
)

// Predictor 预测服务，*ml.Predictor 实现该接口
type Predictor interface {
	PredictRequest(ctx context.Context, req ml.PredictionRequest) (ml.FeatureVector, ml.PredictionResult, error)
	Encoder() *ml.Encoder
	Ready() (bool, string)
	Metadata() (ml.ModelMetadata, bool)
}

// PredictionLog 预测记录存储，*db.Store 实现该接口
type PredictionLog interface {
	SavePrediction(ctx context.Context, rec *db.PredictionRecord) error
	RecentPredictions(ctx context.Context, userID int64, limit int) ([]db.PredictionRecord, error)
	Ping(ctx context.Context) error
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	AllowedOrigins []string
	MaxBodyBytes   int64
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   30 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   64 << 10,
	}
}

// Dependencies 处理器依赖。Predictions 与 Hub 可为空；AuthEnabled 时 Users 与 Sessions 必填
type Dependencies struct {
	Predictor   Predictor
	Predictions PredictionLog
	Users       *auth.Service
	Sessions    *auth.SessionManager
	AuthEnabled bool
	Hub         *monitoring.Hub
	Metrics     *monitoring.MetricsCollector
	Logger      *zap.Logger
}

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, deps Dependencies) (*Server, error) {
	handler, err := NewRouter(config, deps)
	if err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           handler,
			ReadTimeout:       config.ReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      config.WriteTimeout,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: logger.Named("http"),
	}, nil
}

// NewRouter 注册所有路由并包装中间件
func NewRouter(config ServerConfig, deps Dependencies) (http.Handler, error) {
	if deps.Predictor == nil {
		return nil, errors.New("predictor is required")
	}
	if deps.AuthEnabled && (deps.Users == nil || deps.Sessions == nil) {
		return nil, errors.New("auth enabled without user service or session manager")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetricsCollector()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultServerConfig().MaxBodyBytes
	}

	pages, err := newPageRenderer()
	if err != nil {
		return nil, err
	}
	a := &app{
		deps:    deps,
		pages:   pages,
		logger:  deps.Logger.Named("http"),
		metrics: deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(
		RequestIDMiddleware,
		RecoveryMiddleware(a.logger, a.handleInternalError), // 捕获panic
		LoggerMiddleware(a.logger, a.metrics),
		SecurityHeadersMiddleware,
		CORSMiddleware(config.AllowedOrigins),
	)
	if deps.AuthEnabled {
		r.Use(a.sessionMiddleware)
	}
	r.NotFound(a.handleNotFound)
	r.MethodNotAllowed(a.handleMethodNotAllowed)

	r.Handle("/static/*", staticHandler())
	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	if deps.Hub != nil {
		r.Get("/ws/predictions", deps.Hub.HandleWebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(config.RequestTimeout))

		r.Get("/", a.handleHome)
		r.Get("/about", a.handleStaticPage("about.html", "About"))
		r.Get("/how-it-works", a.handleStaticPage("how_it_works.html", "How it works"))
		r.Get("/contact", a.handleStaticPage("contact.html", "Contact"))

		r.With(RequestSizeMiddleware(config.MaxBodyBytes)).Post("/predict", a.handlePredict)

		r.Get("/api/model", a.handleModelInfo)
		r.Get("/api/metrics", a.handleMetrics)

		if deps.AuthEnabled {
			r.Get("/register", a.handleRegisterForm)
			r.Post("/register", a.handleRegister)
			r.Get("/login", a.handleLoginForm)
			r.Post("/login", a.handleLogin)
			r.Get("/logout", a.handleLogout)
			r.Post("/logout", a.handleLogout)
			r.With(a.requireLogin).Get("/dashboard", a.handleDashboard)
		}
	})

	return r, nil
}

// Start 启动服务器，Stop 调用后返回 nil
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 优雅停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
