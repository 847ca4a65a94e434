package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"custodia/native/escrow"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020
	codeNotFound       = -32022
	codeForbidden      = -32023
	codeConflict       = -32024
)

// Options tunes the RPC server.
type Options struct {
	Logger *slog.Logger
	// AuthSecret enables bearer JWT verification on mutating methods
	// when non-empty. Tokens are HS256-signed with this secret.
	AuthSecret    string
	RatePerSecond float64
	Burst         int
	// Tracing wraps the router in the OpenTelemetry HTTP handler.
	Tracing bool
}

// Server exposes the escrow engine and factory over JSON-RPC 2.0.
// Callers supply their identity per call; the server never holds keys.
type Server struct {
	engine  *escrow.Engine
	factory *escrow.Factory
	logger  *slog.Logger

	authSecret []byte
	tracing    bool

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*rate.Limiter

	httpSrv *http.Server
}

// NewServer wires a server around the given engine and factory.
func NewServer(engine *escrow.Engine, factory *escrow.Factory, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Limit(opts.RatePerSecond)
	if opts.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		engine:     engine,
		factory:    factory,
		logger:     logger,
		authSecret: []byte(strings.TrimSpace(opts.AuthSecret)),
		tracing:    opts.Tracing,
		limit:      limit,
		burst:      burst,
		visitors:   make(map[string]*rate.Limiter),
	}
}

// Router builds the HTTP handler: the JSON-RPC endpoint plus health and
// metrics.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Post("/", s.handle)

	var handler http.Handler = r
	if s.tracing {
		handler = otelhttp.NewHandler(handler, "custodia.rpc")
	}
	return handler
}

// Start serves until the context is cancelled, then drains connections.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("JSON-RPC server listening", slog.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func (s *Server) allow(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.visitors[host]
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.visitors[host] = limiter
	}
	return limiter.Allow()
}

// requireAuth verifies the bearer token on mutating methods. Auth is a
// no-op when no secret is configured.
func (s *Server) requireAuth(r *http.Request) *RPCError {
	if len(s.authSecret) == 0 {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	tokenString := strings.TrimSpace(header[len(prefix):])
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.authSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r) {
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "rate limit exceeded", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid request", "unsupported jsonrpc version")
		return
	}
	method := strings.TrimSpace(req.Method)
	handler, ok := s.routes()[method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", method)
		return
	}
	if mutatingMethods[method] {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	handler(w, r, &req)
}

var mutatingMethods = map[string]bool{
	"escrow_deposit":           true,
	"escrow_release":           true,
	"escrow_refund":            true,
	"escrow_pause":             true,
	"escrow_unpause":           true,
	"escrow_emergencyWithdraw": true,
	"escrow_transferAdmin":     true,
	"factory_create":           true,
	"factory_createBatch":      true,
	"factory_pause":            true,
	"factory_unpause":          true,
	"factory_transferAdmin":    true,
}

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"escrow_deposit":           s.handleEscrowDeposit,
		"escrow_release":           s.handleEscrowRelease,
		"escrow_refund":            s.handleEscrowRefund,
		"escrow_getStatus":         s.handleEscrowGetStatus,
		"escrow_pause":             s.handleEscrowPause,
		"escrow_unpause":           s.handleEscrowUnpause,
		"escrow_emergencyWithdraw": s.handleEscrowEmergencyWithdraw,
		"escrow_transferAdmin":     s.handleEscrowTransferAdmin,
		"factory_create":           s.handleFactoryCreate,
		"factory_createBatch":      s.handleFactoryCreateBatch,
		"factory_list":             s.handleFactoryList,
		"factory_listByCreator":    s.handleFactoryListByCreator,
		"factory_count":            s.handleFactoryCount,
		"factory_info":             s.handleFactoryInfo,
		"factory_isValid":          s.handleFactoryIsValid,
		"factory_listByStatus":     s.handleFactoryListByStatus,
		"factory_stats":            s.handleFactoryStats,
		"factory_pause":            s.handleFactoryPause,
		"factory_unpause":          s.handleFactoryUnpause,
		"factory_transferAdmin":    s.handleFactoryTransferAdmin,
	}
}
