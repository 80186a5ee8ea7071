package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	app "github.com/R3E-Network/audit_layer/internal/app"
	"github.com/R3E-Network/audit_layer/internal/app/metrics"
	"github.com/R3E-Network/audit_layer/internal/app/system"
	"github.com/R3E-Network/audit_layer/internal/middleware"
	"github.com/R3E-Network/audit_layer/pkg/logger"
)

// publicPaths are served without a bearer token.
var publicPaths = []string{"/healthz", "/metrics", "/airdrop/eligibility"}

// Config configures the HTTP surface.
type Config struct {
	JWTSecret      []byte
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
	AuditLogPath   string
	AuditLogSize   int
}

// Server is the assembled HTTP handler plus the resources it owns.
type Server struct {
	handler http.Handler
	sink    *fileAuditSink
	limiter *middleware.RateLimiter
	log     *logger.Logger
}

// NewServer wires the router behind CORS, tracing, metrics, auth, rate
// limiting and the request timeout, outermost first.
func NewServer(application *app.Application, cfg Config, log *logger.Logger) (*Server, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 10
	}

	var sink *fileAuditSink
	var auditSinkIface auditSink
	if cfg.AuditLogPath != "" {
		s, err := newFileAuditSink(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("open curator audit log: %w", err)
		}
		sink, auditSinkIface = s, s
	}

	router := newRouter(application, newAuditLog(cfg.AuditLogSize, auditSinkIface), log)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log.Named("ratelimit"))

	var h http.Handler = router
	h = middleware.TimeoutMiddleware(cfg.RequestTimeout)(h)
	h = limiter.Handler(h)
	h = middleware.NewAuthMiddleware(cfg.JWTSecret, log.Named("auth"), publicPaths).Handler(h)
	h = metrics.InstrumentHandler(h)
	h = middleware.LoggingMiddleware(log.Named("http"))(h)
	h = middleware.NewCORSMiddleware(cfg.CORSOrigins).Handler(h)

	return &Server{handler: h, sink: sink, limiter: limiter, log: log}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases the audit log file.
func (s *Server) Close() error {
	if s.sink == nil {
		return nil
	}
	return s.sink.Close()
}

// Janitor returns a lifecycle service that evicts rate limiters idle for
// longer than interval.
func (s *Server) Janitor(interval time.Duration) system.Service {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &limiterJanitor{limiter: s.limiter, interval: interval, log: s.log.Named("ratelimit-janitor")}
}

type limiterJanitor struct {
	limiter  *middleware.RateLimiter
	interval time.Duration
	log      *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (j *limiterJanitor) Name() string { return "ratelimit-janitor" }

func (j *limiterJanitor) Start(context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.cancel = cancel
	j.done = make(chan struct{})
	go j.run(ctx, j.done)
	return nil
}

func (j *limiterJanitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := j.limiter.Cleanup(j.interval); n > 0 {
				j.log.WithField("removed", n).Debug("evicted idle rate limiters")
			}
		}
	}
}

func (j *limiterJanitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
