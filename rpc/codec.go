package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"custodia/core/state"
	"custodia/native/escrow"
)

func parseAddress(text string) ([20]byte, error) {
	trimmed := strings.TrimSpace(text)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, fmt.Errorf("invalid address %q", text)
	}
	return common.HexToAddress(trimmed), nil
}

func formatAddress(addr [20]byte) string {
	return common.Address(addr).Hex()
}

func parseRef(text string) ([32]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(text), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("invalid escrow reference %q", text)
	}
	var id [32]byte
	copy(id[:], raw)
	return id, nil
}

func formatRef(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func formatRefs(ids [][32]byte) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, formatRef(id))
	}
	return out
}

func parseAmount(text string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(text), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", text)
	}
	return amount, nil
}

// decodeParams expects exactly one JSON object parameter.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

type statusJSON struct {
	Depositor   string `json:"depositor"`
	Beneficiary string `json:"beneficiary"`
	Arbiter     string `json:"arbiter"`
	Amount      string `json:"amount"`
	Funded      bool   `json:"funded"`
	Released    bool   `json:"released"`
	Refunded    bool   `json:"refunded"`
}

func formatStatus(st *escrow.Status) statusJSON {
	amount := "0"
	if st.Amount != nil {
		amount = st.Amount.String()
	}
	return statusJSON{
		Depositor:   formatAddress(st.Depositor),
		Beneficiary: formatAddress(st.Beneficiary),
		Arbiter:     formatAddress(st.Arbiter),
		Amount:      amount,
		Funded:      st.Funded,
		Released:    st.Released,
		Refunded:    st.Refunded,
	}
}

type metadataJSON struct {
	Depositor   string `json:"depositor"`
	Beneficiary string `json:"beneficiary"`
	Arbiter     string `json:"arbiter"`
	CreatedAt   int64  `json:"createdAt"`
	Exists      bool   `json:"exists"`
}

func formatMetadata(meta *escrow.Metadata) metadataJSON {
	return metadataJSON{
		Depositor:   formatAddress(meta.Depositor),
		Beneficiary: formatAddress(meta.Beneficiary),
		Arbiter:     formatAddress(meta.Arbiter),
		CreatedAt:   meta.CreatedAt,
		Exists:      meta.Exists,
	}
}

// writeModuleError maps the core error vocabulary onto JSON-RPC codes.
func writeModuleError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, escrow.ErrEscrowDoesNotExist):
		writeError(w, http.StatusNotFound, id, codeNotFound, "not_found", err.Error())
	case errors.Is(err, escrow.ErrOnlyDepositor),
		errors.Is(err, escrow.ErrOnlyArbiter),
		errors.Is(err, escrow.ErrNotAdmin):
		writeError(w, http.StatusForbidden, id, codeForbidden, "forbidden", err.Error())
	case errors.Is(err, escrow.ErrInvalidAddress),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrArraysLengthMismatch),
		errors.Is(err, escrow.ErrEmptyArrays),
		errors.Is(err, escrow.ErrTooManyEscrows),
		errors.Is(err, escrow.ErrInvalidStatusFilter):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, escrow.ErrAlreadyFunded),
		errors.Is(err, escrow.ErrNotFunded),
		errors.Is(err, escrow.ErrAlreadyReleased),
		errors.Is(err, escrow.ErrEnforcedPause),
		errors.Is(err, escrow.ErrExpectedPause),
		errors.Is(err, escrow.ErrReentrantCall),
		errors.Is(err, state.ErrInsufficientFunds),
		errors.Is(err, state.ErrUnsolicitedTransfer):
		writeError(w, http.StatusConflict, id, codeConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}
