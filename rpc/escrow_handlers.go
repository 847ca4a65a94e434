package rpc

import (
	"net/http"
	"time"

	"custodia/observability"
)

type escrowDepositParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowTransferAdminParams struct {
	ID       string `json:"id"`
	Caller   string `json:"caller"`
	NewAdmin string `json:"newAdmin"`
}

func (s *Server) handleEscrowDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowDepositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseRef(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	start := time.Now()
	err = s.engine.Deposit(id, caller, amount)
	observability.ModuleMetrics().Observe("escrow", "deposit", err, time.Since(start))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

// actorCall factors the release/refund/pause family: one agreement
// reference, one caller, no other inputs.
func (s *Server) actorCall(w http.ResponseWriter, req *RPCRequest, method string, call func(id [32]byte, caller [20]byte) error) {
	var params escrowActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseRef(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	start := time.Now()
	err = call(id, caller)
	observability.ModuleMetrics().Observe("escrow", method, err, time.Since(start))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.actorCall(w, req, "release", s.engine.Release)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.actorCall(w, req, "refund", s.engine.Refund)
}

func (s *Server) handleEscrowPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.actorCall(w, req, "pause", s.engine.Pause)
}

func (s *Server) handleEscrowUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.actorCall(w, req, "unpause", s.engine.Unpause)
}

func (s *Server) handleEscrowEmergencyWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.actorCall(w, req, "emergencyWithdraw", s.engine.EmergencyWithdraw)
}

func (s *Server) handleEscrowGetStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseRef(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	st, err := s.engine.Status(id)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatStatus(st))
}

func (s *Server) handleEscrowTransferAdmin(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params escrowTransferAdminParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseRef(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	newAdmin, err := parseAddress(params.NewAdmin)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	start := time.Now()
	err = s.engine.TransferAdmin(id, caller, newAdmin)
	observability.ModuleMetrics().Observe("escrow", "transferAdmin", err, time.Since(start))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
