package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"SafeSwap-Chain/internal/account"
	"SafeSwap-Chain/internal/auth"
	"SafeSwap-Chain/internal/task"
	"SafeSwap-Chain/internal/workflow"
	"SafeSwap-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Wallet 是钱包卡片依赖的业务流程。
type Wallet interface {
	Login(ctx context.Context, user common.Address) (*account.Account, error)
	Logout(ctx context.Context, user common.Address) error
	Account(ctx context.Context, user common.Address) (*account.Account, error)
	Provision(ctx context.Context, user common.Address) (*workflow.SafeInfo, error)
	Deploy(ctx context.Context, user common.Address) (*workflow.DeployResult, error)
	Status(ctx context.Context, user common.Address) (*workflow.SafeStatus, error)
	InitSwap(ctx context.Context, user common.Address) (*workflow.SwapResult, error)
	Balances(ctx context.Context, user common.Address) (*workflow.Wallet, error)
}

// Tasks 是排队执行的任务服务。
type Tasks interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, opts ...task.ListOption) ([]*task.Task, error)
	Stats(ctx context.Context, opts ...task.ListOption) (task.TaskStats, error)
}

// HTTPObserver 接收每个请求的耗时与状态码。
type HTTPObserver interface {
	ObserveHTTPRequest(handler, method string, status int, duration time.Duration)
}

// Option 调整 Server 的可选依赖。
type Option func(*Server)

// WithTasks 启用任务队列；未配置时创建与兑换请求同步执行。
func WithTasks(tasks Tasks) Option {
	return func(s *Server) { s.tasks = tasks }
}

// WithMetrics 暴露指标端点并记录请求指标。
func WithMetrics(path string, handler http.Handler, observer HTTPObserver) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = handler
		s.observer = observer
	}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithLogger 替换默认日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// Server 负责暴露钱包卡片的 REST 接口。
type Server struct {
	addr            string
	wallet          Wallet
	auth            *auth.Service
	tasks           Tasks
	metricsPath     string
	metricsHandler  http.Handler
	observer        HTTPObserver
	shutdownTimeout time.Duration
	log             *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, wallet Wallet, authSvc *auth.Service, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		wallet:          wallet,
		auth:            authSvc,
		shutdownTimeout: 5 * time.Second,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由树。
func (s *Server) Handler() http.Handler {
	protected := http.NewServeMux()
	protected.Handle("/api/v1/session", s.instrument("/api/v1/session", s.handleSession))
	protected.Handle("/api/v1/safe", s.instrument("/api/v1/safe", s.handleSafe))
	protected.Handle("/api/v1/swaps", s.instrument("/api/v1/swaps", s.handleSwaps))
	protected.Handle("/api/v1/wallet", s.instrument("/api/v1/wallet", s.handleWallet))
	protected.Handle("/api/v1/tasks", s.instrument("/api/v1/tasks", s.handleTasks))
	protected.Handle("/api/v1/tasks/", s.instrument("/api/v1/tasks/{id}", s.handleTaskDetail))

	mux := http.NewServeMux()
	mux.Handle("/api/", s.auth.Middleware(auth.MiddlewareConfig{OnDenied: s.denied})(protected))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metricsHandler != nil {
		path := s.metricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, s.metricsHandler)
	}
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// instrument 记录请求指标。
func (s *Server) instrument(route string, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.observer == nil {
			handler(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		handler(sw, r)
		s.observer.ObserveHTTPRequest(route, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
