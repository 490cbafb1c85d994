package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workchain/core"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
	authTokenEnv    = "WORKCHAIN_RPC_TOKEN"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000

	codeEscrowValidation   = -32060
	codeEscrowUnauthorized = -32061
	codeEscrowInvalidState = -32062
	codeEscrowNotFound     = -32063
	codeEscrowInsufficient = -32064
)

var (
	rpcRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "workchain_rpc_requests_total",
		Help: "JSON-RPC requests by method and outcome.",
	}, []string{"method", "outcome"})
	rpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "workchain_rpc_request_seconds",
		Help:    "JSON-RPC request latency by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

// Server exposes the ledger over a single JSON-RPC endpoint. Mutating methods
// require a bearer token when one is configured.
type Server struct {
	ledger    *core.Ledger
	authToken string
}

// NewServer wires a server to the ledger, reading the auth token from the
// environment.
func NewServer(ledger *core.Ledger) *Server {
	return &Server{
		ledger:    ledger,
		authToken: strings.TrimSpace(os.Getenv(authTokenEnv)),
	}
}

// Router returns the HTTP handler tree: the RPC endpoint and /metrics.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves JSON-RPC on addr until the listener fails.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a structured failure back to the caller.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc must be 2.0")
		return
	}

	start := time.Now()
	outcome := s.dispatch(w, r, &req)
	rpcRequests.WithLabelValues(req.Method, outcome).Inc()
	rpcDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	switch req.Method {
	case "escrow_create":
		return s.handleEscrowCreate(w, r, req)
	case "escrow_submitMilestone":
		return s.handleSubmitMilestone(w, r, req)
	case "escrow_approveMilestone":
		return s.handleApproveMilestone(w, r, req)
	case "escrow_rejectMilestone":
		return s.handleRejectMilestone(w, r, req)
	case "escrow_raiseDispute":
		return s.handleRaiseDispute(w, r, req)
	case "escrow_cancel":
		return s.handleCancelEscrow(w, r, req)
	case "escrow_get":
		return s.handleGetEscrow(w, req)
	case "escrow_getMilestone":
		return s.handleGetMilestone(w, req)
	case "escrow_getMilestoneCount":
		return s.handleGetMilestoneCount(w, req)
	case "escrow_listByClient":
		return s.handleListByClient(w, req)
	case "escrow_listByFreelancer":
		return s.handleListByFreelancer(w, req)
	case "events_poll":
		return s.handleEventsPoll(w, req)
	case "balance_get":
		return s.handleBalanceGet(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", fmt.Sprintf("unknown method %s", req.Method))
		return "error"
	}
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}
