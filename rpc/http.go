package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"moneymarket/core"
	"moneymarket/core/pricing"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/observability"
	"moneymarket/observability/logging"
	"moneymarket/settlement"
)

const (
	maxRequestBytes   = 1 << 20 // 1 MiB
	readHeaderTimeout = 5 * time.Second
)

// Ledger is the part of core.Ledger the server drives.
type Ledger interface {
	Execute(ctx context.Context, tx core.Tx) (*core.Receipt, error)
	Instantiate(ctx context.Context, sender crypto.Address, code, label string, msg json.RawMessage) (*core.Receipt, error)
	Query(ctx context.Context, contract crypto.Address, msg json.RawMessage) (json.RawMessage, error)
	Contracts() ([]*core.ContractInfo, error)
	Height() (uint64, error)
}

// PriceBook is the operator price table.
type PriceBook interface {
	SetPrice(assetID string, price types.Decimal) error
	Quotes() []pricing.Quote
}

// Outbox exposes persisted transfer instructions.
type Outbox interface {
	Pending(ctx context.Context, recipient string) ([]settlement.TransferRecord, error)
	MarkSettled(ctx context.Context, id uuid.UUID) error
}

// ServerConfig carries the server's tunables.
type ServerConfig struct {
	JWTSecret          string
	RateLimitPerSecond float64
	RateBurst          int
	MaxBodyBytes       int64
	// TrustForwardedFor takes the caller's source from X-Forwarded-For
	// instead of the connection's remote address.
	TrustForwardedFor bool
	// Admin gates price updates and settlement acknowledgements. A nil Admin
	// permits any authenticated caller.
	Admin  nativecommon.Authorizer
	Logger *slog.Logger
}

type Server struct {
	ledger  Ledger
	prices  PriceBook
	outbox  Outbox
	auth    *Authenticator
	admin   nativecommon.Authorizer
	limiter *sourceLimiter
	trustFF bool
	maxBody int64
	logger  *slog.Logger

	httpServer *http.Server
}

func NewServer(ledger Ledger, prices PriceBook, outbox Outbox, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 || maxBody > maxRequestBytes {
		maxBody = maxRequestBytes
	}
	return &Server{
		ledger:  ledger,
		prices:  prices,
		outbox:  outbox,
		auth:    NewAuthenticator(cfg.JWTSecret),
		admin:   cfg.Admin,
		limiter: newSourceLimiter(cfg.RateLimitPerSecond, cfg.RateBurst),
		trustFF: cfg.TrustForwardedFor,
		maxBody: maxBody,
		logger:  logger,
	}
}

// Handler returns the HTTP surface: JSON-RPC on POST /, Prometheus metrics on
// /metrics and a liveness probe on /healthz.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "mm.rpc")
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.logger.Info("starting JSON-RPC server", slog.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest) int

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	method := "unknown"
	code := 0
	defer func() {
		observability.ModuleMetrics().Observe(method, code, time.Since(start))
	}()

	reader := http.MaxBytesReader(w, r.Body, s.maxBody)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.limiter.allow(clientSource(r, s.trustFF)) {
		observability.ModuleMetrics().RecordThrottle("rate_limit")
		code = codeRateLimited
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.maxBody)
		}
		code = codeInvalidRequest
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		code = codeInvalidRequest
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		code = codeParseError
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		code = codeInvalidRequest
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		code = codeInvalidRequest
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		code = codeMethodNotFound
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method: %s", req.Method), nil)
		return
	}
	method = req.Method
	code = handler(w, r, req)
	if code != 0 {
		s.logger.Debug("rpc request failed", slog.String("method", method), slog.Int("code", code))
	}
}

func (s *Server) methods() map[string]handlerFunc {
	return map[string]handlerFunc{
		"mm_execute":          s.authenticated(s.handleExecute),
		"mm_instantiate":      s.authenticated(s.handleInstantiate),
		"mm_setPrice":         s.authenticated(s.handleSetPrice),
		"mm_markSettled":      s.authenticated(s.handleMarkSettled),
		"mm_query":            s.handleQuery,
		"mm_contracts":        s.handleContracts,
		"mm_prices":           s.handlePrices,
		"mm_pendingTransfers": s.handlePendingTransfers,
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) int

func (s *Server) authenticated(next authedHandler) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
		caller, authErr := s.auth.Caller(r)
		if authErr != nil {
			s.logger.Warn("rpc authentication failed",
				slog.String("method", req.Method),
				slog.String("source", clientSource(r, s.trustFF)),
				logging.MaskField("authorization", r.Header.Get("Authorization")),
				slog.String("reason", authErr.Message))
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return authErr.Code
		}
		return next(w, r, req, caller)
	}
}

func decodeParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected exactly one parameter object", nil)
		return false
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}
