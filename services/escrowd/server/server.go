package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"escrowledger/core/events"
	"escrowledger/core/state"
	"escrowledger/native/escrow"
	"escrowledger/observability"
	"escrowledger/services/escrowd/audit"
	"escrowledger/services/escrowd/middleware"
)

const (
	maxRequestBody   = 1 << 20 // 1 MiB
	streamBufferSize = 64
	shutdownTimeout  = 10 * time.Second
)

// Bank is the account view escrowd exposes next to the ledger.
type Bank interface {
	Account(addr common.Address) (*state.Account, error)
	Credit(addr common.Address, amount *uint256.Int) error
	SetFrozen(addr common.Address, frozen bool) error
	CustodyBalance() (*uint256.Int, error)
}

// History returns the recorded events of a transaction.
type History interface {
	History(ctx context.Context, txID uint64) ([]audit.EscrowEvent, error)
}

type Config struct {
	ListenAddress string
	AdminScope    string
	Auth          middleware.AuthConfig
	RateLimit     middleware.RateLimit
}

// Deps are the collaborators the server routes calls to. History may be nil
// when the audit store is disabled.
type Deps struct {
	Engine   *escrow.Engine
	Bank     Bank
	Bus      *events.Bus
	History  History
	Metrics  *observability.EscrowMetrics
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type Server struct {
	cfg     Config
	engine  *escrow.Engine
	bank    Bank
	bus     *events.Bus
	history History
	metrics *observability.EscrowMetrics
	logger  *slog.Logger
	tracer  trace.Tracer
	handler http.Handler

	dropMu      sync.Mutex
	lastDropped uint64
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("escrowd: engine required")
	}
	if deps.Bank == nil {
		return nil, errors.New("escrowd: bank required")
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.Escrow()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.AdminScope == "" {
		cfg.AdminScope = "escrow:admin"
	}
	auth, err := middleware.NewAuthenticator(cfg.Auth, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("escrowd: %w", err)
	}
	s := &Server{
		cfg:     cfg,
		engine:  deps.Engine,
		bank:    deps.Bank,
		bus:     deps.Bus,
		history: deps.History,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		tracer:  otel.Tracer("escrowd"),
	}
	s.handler = s.routes(auth, deps.Gatherer)
	s.refreshGauges()
	return s, nil
}

func (s *Server) routes(auth *middleware.Authenticator, gatherer prometheus.Gatherer) http.Handler {
	limiter := middleware.NewRateLimiter(s.cfg.RateLimit, s.metrics.RecordThrottle)
	obs := middleware.NewObservability("escrowd", s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(pub chi.Router) {
			pub.Use(limiter.Middleware("read"), obs.Middleware("read"))
			pub.Get("/transactions/count", s.handleCount)
			pub.Get("/transactions/{id}", s.handleGet)
			pub.Get("/transactions/{id}/history", s.handleHistory)
			pub.Get("/accounts/{address}", s.handleAccount)
			pub.Get("/events/ws", s.handleEvents)
		})
		v1.Group(func(priv chi.Router) {
			priv.Use(auth.Middleware(), limiter.Middleware("write"), obs.Middleware("write"))
			priv.Post("/transactions", s.handleCreate)
			priv.Post("/transactions/{id}/deposit", s.handleDeposit)
			priv.Post("/transactions/{id}/approve", s.handleApprove)
			priv.Post("/transactions/{id}/dispute", s.handleDispute)
			priv.Post("/transactions/{id}/resolve", s.handleResolve)
		})
	})
	r.Route("/admin", func(admin chi.Router) {
		admin.Use(auth.Middleware(s.cfg.AdminScope), limiter.Middleware("admin"), obs.Middleware("admin"))
		admin.Post("/accounts/{address}/credit", s.handleCredit)
		admin.Post("/accounts/{address}/freeze", s.handleFreeze)
	})
	return r
}

// Handler returns the routed handler without transport instrumentation.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.handler, "escrowd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("escrowd: http server listening", "addr", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// observe runs a ledger call inside a span and records its outcome.
func (s *Server) observe(ctx context.Context, operation string, call func() error) error {
	_, span := s.tracer.Start(ctx, "escrow."+operation)
	defer span.End()
	start := time.Now()
	err := call()
	outcome := "ok"
	if err != nil {
		outcome = escrow.KindOf(err).String()
		span.RecordError(err)
	}
	s.metrics.ObserveOperation(operation, outcome, time.Since(start))
	s.refreshGauges()
	return err
}

func (s *Server) refreshGauges() {
	if custody, err := s.bank.CustodyBalance(); err == nil {
		s.metrics.SetCustody(custody.ToBig())
	}
	if count, err := s.engine.TransactionCount(); err == nil {
		s.metrics.SetTransactions(count)
	}
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	if dropped := s.bus.Dropped(); dropped > s.lastDropped {
		s.metrics.AddDroppedEvents(dropped - s.lastDropped)
		s.lastDropped = dropped
	}
}
