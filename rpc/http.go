package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"srpchain/core"
	"srpchain/observability"
)

const maxRequestBytes = 1 << 20 // 1 MiB

type Server struct {
	node      *core.Node
	authToken string
}

func NewServer(node *core.Node) *Server {
	return &Server{
		node:      node,
		authToken: strings.TrimSpace(os.Getenv("SRP_RPC_TOKEN")),
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParse        = -32700
	codeInvalidReq   = -32600
	codeMethod       = -32601
	codeUnauthorized = -32001
	codeServerError  = -32000
)

func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidReq, "unable to read request body")
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, http.StatusRequestEntityTooLarge, nil, codeInvalidReq, "request body too large")
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParse, "invalid JSON payload")
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidReq, "method is required")
		return
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		observability.ModuleMetrics().ObserveRequest(req.Method, outcome, time.Since(start))
	}()

	switch req.Method {
	case "token_transfer":
		if !s.requireAuth(w, r, &req) {
			outcome = "unauthorized"
			return
		}
		s.handleTokenTransfer(w, &req)
	case "sale_confirmShipment":
		if !s.requireAuth(w, r, &req) {
			outcome = "unauthorized"
			return
		}
		s.handleSaleConfirmShipment(w, &req)
	case "sale_confirmReceived":
		if !s.requireAuth(w, r, &req) {
			outcome = "unauthorized"
			return
		}
		s.handleSaleConfirmReceived(w, &req)
	case "sale_delete":
		if !s.requireAuth(w, r, &req) {
			outcome = "unauthorized"
			return
		}
		s.handleSaleDelete(w, &req)
	case "sale_get":
		s.handleSaleGet(w, &req)
	case "sale_listEvents":
		s.handleSaleListEvents(w, &req)
	case "srp_getBalance":
		s.handleGetBalance(w, &req)
	case "srp_vaultAddress":
		s.handleVaultAddress(w, &req)
	case "srp_sendTransaction":
		if !s.requireAuth(w, r, &req) {
			outcome = "unauthorized"
			return
		}
		s.handleSendTransaction(w, &req)
	case "srp_mint":
		if !s.requireAuth(w, r, &req) {
			outcome = "unauthorized"
			return
		}
		s.handleMint(w, &req)
	default:
		outcome = "unknown_method"
		writeError(w, http.StatusNotFound, req.ID, codeMethod, "the method "+req.Method+" does not exist/is not available")
	}
}

// requireAuth enforces the bearer token on mutating methods. The check is
// constant-time over the configured token.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if s.authToken == "" {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "server auth token is not configured")
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "missing bearer token")
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "invalid bearer token")
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: message}})
}
