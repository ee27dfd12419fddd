package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"srpchain/core/types"
	"srpchain/crypto"
	"srpchain/native/sale"
	"srpchain/observability"
)

const (
	codeSaleInvalidParams = -32021
	codeSaleNotFound      = -32022
	codeSaleForbidden     = -32023
	codeSaleConflict      = -32024
	codeSaleInternal      = -32025
)

type tokenTransferParams struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	Amount  string   `json:"amount"`
	Nonce   uint64   `json:"nonce"`
	SubArgs []string `json:"subArgs"`
}

type saleCallParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type saleGetParams struct {
	ID string `json:"id"`
}

type listEventsParams struct {
	Limit int `json:"limit"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type mintParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type saleJSON struct {
	ID          string `json:"id"`
	Seller      string `json:"seller"`
	Buyer       string `json:"buyer,omitempty"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Balance     string `json:"balance,omitempty"`
}

func saleToJSON(s *sale.Sale, balance *big.Int) saleJSON {
	out := saleJSON{
		ID:          "0x" + hex.EncodeToString(s.ID[:]),
		Seller:      crypto.MustNewAddress(s.Seller[:]).String(),
		Price:       s.Price.String(),
		Description: string(s.Description),
		Status:      s.Status.String(),
	}
	if !s.Open() {
		out.Buyer = crypto.MustNewAddress(s.Buyer[:]).String()
	}
	if balance != nil {
		out.Balance = balance.String()
	}
	return out
}

func (s *Server) handleTokenTransfer(w http.ResponseWriter, req *RPCRequest) {
	var params tokenTransferParams
	if !decodeParams(w, req, &params) {
		return
	}
	from, err := parseBech32Address(params.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid from address: "+err.Error())
		return
	}
	var to [20]byte
	if strings.TrimSpace(params.To) == "" {
		to = s.node.SaleVaultAddress()
	} else if to, err = parseBech32Address(params.To); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid to address: "+err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid amount: "+err.Error())
		return
	}
	txID, err := s.node.TokenTransfer(from, to, amount, params.Nonce, params.SubArgs)
	if err != nil {
		writeSaleError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"txId": "0x" + hex.EncodeToString(txID[:])})
}

func (s *Server) handleSaleConfirmShipment(w http.ResponseWriter, req *RPCRequest) {
	s.handleSaleCall(w, req, s.node.SaleConfirmShipment)
}

func (s *Server) handleSaleConfirmReceived(w http.ResponseWriter, req *RPCRequest) {
	s.handleSaleCall(w, req, s.node.SaleConfirmReceived)
}

func (s *Server) handleSaleDelete(w http.ResponseWriter, req *RPCRequest) {
	s.handleSaleCall(w, req, s.node.SaleDelete)
}

func (s *Server) handleSaleCall(w http.ResponseWriter, req *RPCRequest, fn func([32]byte, [20]byte) error) {
	var params saleCallParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parseSaleID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid caller address: "+err.Error())
		return
	}
	if err := fn(id, caller); err != nil {
		writeSaleError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleSaleGet(w http.ResponseWriter, req *RPCRequest) {
	var params saleGetParams
	if !decodeParams(w, req, &params) {
		return
	}
	id, err := parseSaleID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, err.Error())
		return
	}
	record, balance, err := s.node.SaleWithBalance(id)
	if err != nil {
		writeSaleError(w, req, err)
		return
	}
	writeResult(w, req.ID, saleToJSON(record, balance))
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, req *RPCRequest) {
	var tx types.Transaction
	if !decodeParams(w, req, &tx) {
		return
	}
	txID, err := s.node.SubmitTransaction(&tx)
	if err != nil {
		writeSaleError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"txId": "0x" + hex.EncodeToString(txID[:])})
}

func (s *Server) handleSaleListEvents(w http.ResponseWriter, req *RPCRequest) {
	params := listEventsParams{Limit: 50}
	if len(req.Params) > 0 && !decodeParams(w, req, &params) {
		return
	}
	evts := s.node.Events(params.Limit)
	out := make([]*types.Event, 0, len(evts))
	out = append(out, evts...)
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params balanceParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid address: "+err.Error())
		return
	}
	acc, err := s.node.Balance(addr)
	if err != nil {
		writeSaleError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address":    params.Address,
		"balanceMCT": acc.BalanceMCT.String(),
		"stake":      acc.Stake.String(),
	})
}

func (s *Server) handleVaultAddress(w http.ResponseWriter, req *RPCRequest) {
	vault := s.node.SaleVaultAddress()
	writeResult(w, req.ID, map[string]string{
		"address": crypto.MustNewAddress(vault[:]).String(),
	})
}

func (s *Server) handleMint(w http.ResponseWriter, req *RPCRequest) {
	var params mintParams
	if !decodeParams(w, req, &params) {
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid address: "+err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid amount: "+err.Error())
		return
	}
	if err := s.node.Mint(addr, amount); err != nil {
		writeSaleError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "expected a single params object")
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, "invalid params payload: "+err.Error())
		return false
	}
	return true
}

// writeSaleError maps engine sentinels onto JSON-RPC error codes and HTTP
// statuses.
func writeSaleError(w http.ResponseWriter, req *RPCRequest, err error) {
	method := req.Method
	switch {
	case errors.Is(err, sale.ErrValidation):
		observability.ModuleMetrics().ObserveError(method, "validation")
		writeError(w, http.StatusBadRequest, req.ID, codeSaleInvalidParams, err.Error())
	case errors.Is(err, sale.ErrNotFound):
		observability.ModuleMetrics().ObserveError(method, "not_found")
		writeError(w, http.StatusNotFound, req.ID, codeSaleNotFound, err.Error())
	case errors.Is(err, sale.ErrUnauthorized):
		observability.ModuleMetrics().ObserveError(method, "unauthorized")
		writeError(w, http.StatusForbidden, req.ID, codeSaleForbidden, err.Error())
	case errors.Is(err, sale.ErrInvalidState):
		observability.ModuleMetrics().ObserveError(method, "conflict")
		writeError(w, http.StatusConflict, req.ID, codeSaleConflict, err.Error())
	case errors.Is(err, sale.ErrCorrupted), errors.Is(err, sale.ErrPersistence):
		observability.ModuleMetrics().ObserveError(method, "internal")
		writeError(w, http.StatusInternalServerError, req.ID, codeSaleInternal, err.Error())
	default:
		observability.ModuleMetrics().ObserveError(method, "internal")
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, err.Error())
	}
}

func parseBech32Address(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Fixed(), nil
}

func parseSaleID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	if len(trimmed) != 64 {
		return id, errors.New("sale id must be a 32-byte hex string")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, errors.New("sale id must be valid hex")
	}
	copy(id[:], decoded)
	return id, nil
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, errors.New("must be a base-10 integer")
	}
	if amount.Sign() <= 0 {
		return nil, errors.New("must be positive")
	}
	return amount, nil
}
