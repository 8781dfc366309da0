package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/samber/mo"

	coreask "github.com/jinford/recipe-lab/internal/core/ask"
)

const (
	// DefaultRequestTimeout は1リクエストあたりの処理時間の上限
	DefaultRequestTimeout = 120 * time.Second
	// DefaultShutdownTimeout はグレースフルシャットダウンの待ち時間
	DefaultShutdownTimeout = 10 * time.Second
)

// Server は /health と /chat を提供する HTTP サーバー
type Server struct {
	ask            mo.Result[*coreask.Service]
	model          string
	logger         *slog.Logger
	validate       *validator.Validate
	requestTimeout time.Duration
}

// ServerOption は Server のオプション設定
type ServerOption func(*Server)

// WithServerLogger はロガーを設定する
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRequestTimeout はリクエストタイムアウトを設定する
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		if timeout > 0 {
			s.requestTimeout = timeout
		}
	}
}

// NewServer は新しい Server を作成する
// ask が Err の場合も起動し、/chat は 503 を返す
// model はサービスが未初期化でも /health で報告するモデル名
func NewServer(ask mo.Result[*coreask.Service], model string, opts ...ServerOption) *Server {
	s := &Server{
		ask:            ask,
		model:          model,
		logger:         slog.Default(),
		validate:       validator.New(),
		requestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Routes はミドルウェアとルートを設定したハンドラーを返す
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.requestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/chat", s.handleChat)

	return r
}

// ListenAndServe は ctx がキャンセルされるまでサーバーを起動する
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr, "ready", s.ask.IsOk())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
