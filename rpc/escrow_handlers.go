package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"workchain/core"
	"workchain/crypto"
	"workchain/native/escrow"
)

type escrowCreateParams struct {
	Client       string   `json:"client"`
	Freelancer   string   `json:"freelancer"`
	Descriptions []string `json:"descriptions"`
	Amounts      []string `json:"amounts"`
	Value        string   `json:"value"`
}

type escrowCreateResult struct {
	EscrowID uint64        `json:"escrowId"`
	Receipt  ReceiptResult `json:"receipt"`
}

type milestoneActionParams struct {
	Caller   string `json:"caller"`
	EscrowID uint64 `json:"escrowId"`
	Index    int    `json:"index"`
}

type escrowActionParams struct {
	Caller   string `json:"caller"`
	EscrowID uint64 `json:"escrowId"`
}

type escrowIDParams struct {
	EscrowID uint64 `json:"escrowId"`
}

type milestoneQueryParams struct {
	EscrowID uint64 `json:"escrowId"`
	Index    int    `json:"index"`
}

type addressParams struct {
	Address string `json:"address"`
}

type eventsPollParams struct {
	After int64 `json:"after"`
	Limit int   `json:"limit"`
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseAddress(value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address required")
	}
	return crypto.DecodeAddress(trimmed)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// writeEscrowError maps engine failure categories onto stable RPC codes. The
// rejection reason passes through verbatim as the data field.
func writeEscrowError(w http.ResponseWriter, id interface{}, err error) string {
	switch {
	case errors.Is(err, escrow.ErrValidation):
		writeError(w, http.StatusBadRequest, id, codeEscrowValidation, "invalid_input", err.Error())
	case errors.Is(err, escrow.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeEscrowUnauthorized, "unauthorized_caller", err.Error())
	case errors.Is(err, escrow.ErrInvalidState):
		writeError(w, http.StatusConflict, id, codeEscrowInvalidState, "invalid_state", err.Error())
	case errors.Is(err, escrow.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeEscrowNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrInsufficientFunds):
		writeError(w, http.StatusBadRequest, id, codeEscrowInsufficient, "insufficient_funds", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "server_error", err.Error())
	}
	return "error"
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "error"
	}
	var params escrowCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	client, err := parseAddress(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	freelancer, err := parseAddress(params.Freelancer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	amounts := make([]*big.Int, len(params.Amounts))
	for i, raw := range params.Amounts {
		amounts[i], err = parseAmount(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return "error"
		}
	}
	value, err := parseAmount(params.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	id, receipt, err := s.ledger.CreateEscrow(client, freelancer, params.Descriptions, amounts, value)
	if err != nil {
		return writeEscrowError(w, req.ID, err)
	}
	writeResult(w, req.ID, escrowCreateResult{EscrowID: id, Receipt: formatReceipt(receipt)})
	return "ok"
}

func (s *Server) handleSubmitMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.milestoneAction(w, r, req, s.ledger.SubmitMilestone)
}

func (s *Server) handleApproveMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.milestoneAction(w, r, req, s.ledger.ApproveMilestone)
}

func (s *Server) handleRejectMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.milestoneAction(w, r, req, s.ledger.RejectMilestone)
}

func (s *Server) milestoneAction(w http.ResponseWriter, r *http.Request, req *RPCRequest, action func(crypto.Address, uint64, int) (*core.Receipt, error)) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "error"
	}
	var params milestoneActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	result, err := action(caller, params.EscrowID, params.Index)
	if err != nil {
		return writeEscrowError(w, req.ID, err)
	}
	writeResult(w, req.ID, formatReceipt(result))
	return "ok"
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.escrowAction(w, r, req, s.ledger.RaiseDispute)
}

func (s *Server) handleCancelEscrow(w http.ResponseWriter, r *http.Request, req *RPCRequest) string {
	return s.escrowAction(w, r, req, s.ledger.CancelEscrow)
}

func (s *Server) escrowAction(w http.ResponseWriter, r *http.Request, req *RPCRequest, action func(crypto.Address, uint64) (*core.Receipt, error)) string {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return "error"
	}
	var params escrowActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	result, err := action(caller, params.EscrowID)
	if err != nil {
		return writeEscrowError(w, req.ID, err)
	}
	writeResult(w, req.ID, formatReceipt(result))
	return "ok"
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	esc, err := s.ledger.GetEscrow(params.EscrowID)
	if err != nil {
		return writeEscrowError(w, req.ID, err)
	}
	writeResult(w, req.ID, formatEscrow(esc))
	return "ok"
}

func (s *Server) handleGetMilestone(w http.ResponseWriter, req *RPCRequest) string {
	var params milestoneQueryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	milestone, err := s.ledger.GetMilestone(params.EscrowID, params.Index)
	if err != nil {
		return writeEscrowError(w, req.ID, err)
	}
	writeResult(w, req.ID, formatMilestone(milestone))
	return "ok"
}

func (s *Server) handleGetMilestoneCount(w http.ResponseWriter, req *RPCRequest) string {
	var params escrowIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	count, err := s.ledger.MilestoneCount(params.EscrowID)
	if err != nil {
		return writeEscrowError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string]int{"count": count})
	return "ok"
}

func (s *Server) handleListByClient(w http.ResponseWriter, req *RPCRequest) string {
	return s.listEscrows(w, req, s.ledger.EscrowsByClient)
}

func (s *Server) handleListByFreelancer(w http.ResponseWriter, req *RPCRequest) string {
	return s.listEscrows(w, req, s.ledger.EscrowsByFreelancer)
}

func (s *Server) listEscrows(w http.ResponseWriter, req *RPCRequest, list func(crypto.Address) ([]uint64, error)) string {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	ids, err := list(addr)
	if err != nil {
		return writeEscrowError(w, req.ID, err)
	}
	writeResult(w, req.ID, map[string][]uint64{"escrowIds": ids})
	return "ok"
}

func (s *Server) handleEventsPoll(w http.ResponseWriter, req *RPCRequest) string {
	var params eventsPollParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	recorded := s.ledger.Events(params.After, limit)
	out := make([]EventJSON, len(recorded))
	for i, evt := range recorded {
		out[i] = formatEvent(evt)
	}
	writeResult(w, req.ID, map[string][]EventJSON{"events": out})
	return "ok"
}

func (s *Server) handleBalanceGet(w http.ResponseWriter, req *RPCRequest) string {
	var params addressParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return "error"
	}
	balance, err := s.ledger.Balance(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "server_error", err.Error())
		return "error"
	}
	writeResult(w, req.ID, map[string]string{"balance": balance.String()})
	return "ok"
}
