package rpc

import (
	"net/http"
	"strings"
	"time"

	"custodia/native/escrow"
	"custodia/observability"
)

type factoryCreateParams struct {
	Caller      string `json:"caller"`
	Beneficiary string `json:"beneficiary"`
	Arbiter     string `json:"arbiter"`
}

type factoryCreateBatchParams struct {
	Caller        string   `json:"caller"`
	Beneficiaries []string `json:"beneficiaries"`
	Arbiters      []string `json:"arbiters"`
}

type factoryCreatorParams struct {
	Creator string `json:"creator"`
}

type factoryRefParams struct {
	ID string `json:"id"`
}

type factoryStatusParams struct {
	Filter string `json:"filter"`
}

type factoryCallerParams struct {
	Caller string `json:"caller"`
}

type factoryTransferAdminParams struct {
	Caller   string `json:"caller"`
	NewAdmin string `json:"newAdmin"`
}

func parseStatusFilter(text string) (escrow.StatusFilter, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "all":
		return escrow.FilterAll, nil
	case "funded":
		return escrow.FilterFunded, nil
	case "released":
		return escrow.FilterReleased, nil
	case "refunded":
		return escrow.FilterRefunded, nil
	default:
		return 0, escrow.ErrInvalidStatusFilter
	}
}

func (s *Server) handleFactoryCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiary, err := parseAddress(params.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	arbiter, err := parseAddress(params.Arbiter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	start := time.Now()
	id, err := s.factory.CreateEscrow(caller, beneficiary, arbiter)
	observability.ModuleMetrics().Observe("factory", "create", err, time.Since(start))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"id": formatRef(id)})
}

func (s *Server) handleFactoryCreateBatch(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryCreateBatchParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiaries := make([][20]byte, 0, len(params.Beneficiaries))
	for _, text := range params.Beneficiaries {
		addr, err := parseAddress(text)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		beneficiaries = append(beneficiaries, addr)
	}
	arbiters := make([][20]byte, 0, len(params.Arbiters))
	for _, text := range params.Arbiters {
		addr, err := parseAddress(text)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		arbiters = append(arbiters, addr)
	}
	start := time.Now()
	refs, err := s.factory.CreateMultipleEscrows(caller, beneficiaries, arbiters)
	observability.ModuleMetrics().Observe("factory", "createBatch", err, time.Since(start))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string][]string{"ids": formatRefs(refs)})
}

func (s *Server) handleFactoryList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	refs, err := s.factory.AllEscrows()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRefs(refs))
}

func (s *Server) handleFactoryListByCreator(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryCreatorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	creator, err := parseAddress(params.Creator)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	refs, err := s.factory.UserEscrows(creator)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRefs(refs))
}

func (s *Server) handleFactoryCount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	count, err := s.factory.EscrowCount()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, count)
}

func (s *Server) handleFactoryInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryRefParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseRef(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	meta, err := s.factory.EscrowInfo(id)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatMetadata(meta))
}

func (s *Server) handleFactoryIsValid(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryRefParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseRef(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, s.factory.IsValidEscrow(id))
}

func (s *Server) handleFactoryListByStatus(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryStatusParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	filter, err := parseStatusFilter(params.Filter)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	refs, err := s.factory.EscrowsByStatus(filter)
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatRefs(refs))
}

func (s *Server) handleFactoryStats(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	stats, err := s.factory.FactoryStats()
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stats)
}

func (s *Server) handleFactoryPause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.factoryGate(w, req, "pause", s.factory.Pause)
}

func (s *Server) handleFactoryUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.factoryGate(w, req, "unpause", s.factory.Unpause)
}

func (s *Server) factoryGate(w http.ResponseWriter, req *RPCRequest, method string, call func(caller [20]byte) error) {
	var params factoryCallerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	start := time.Now()
	err = call(caller)
	observability.ModuleMetrics().Observe("factory", method, err, time.Since(start))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleFactoryTransferAdmin(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params factoryTransferAdminParams
	if err := decodeParams(req, &params); err != nil {
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
	err = s.factory.TransferAdmin(caller, newAdmin)
	observability.ModuleMetrics().Observe("factory", "transferAdmin", err, time.Since(start))
	if err != nil {
		writeModuleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}
