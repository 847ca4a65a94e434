package escrow

import "math/big"

// Agreement is the per-deal custody record. The three participant
// identities are fixed at creation; the administrator (the creator of
// the agreement instance) may change through an explicit transfer. The
// amount is zero until funded and fixed thereafter.
type Agreement struct {
	ID          [32]byte `json:"id"`
	Depositor   [20]byte `json:"depositor"`
	Beneficiary [20]byte `json:"beneficiary"`
	Arbiter     [20]byte `json:"arbiter"`
	Admin       [20]byte `json:"admin"`
	Amount      *big.Int `json:"amount"`
	Funded      bool     `json:"funded"`
	Released    bool     `json:"released"`
	Refunded    bool     `json:"refunded"`
	Paused      bool     `json:"paused"`
	CreatedAt   int64    `json:"createdAt"`
}

// Clone returns a deep copy so callers can mutate the copy without
// touching the stored record.
func (a *Agreement) Clone() *Agreement {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Terminal reports whether the agreement has been resolved. A terminal
// agreement admits no further funding or resolution.
func (a *Agreement) Terminal() bool {
	return a != nil && (a.Released || a.Refunded)
}

// Status is the read-only snapshot returned to callers. It carries no
// authorization requirement.
type Status struct {
	Depositor   [20]byte `json:"depositor"`
	Beneficiary [20]byte `json:"beneficiary"`
	Arbiter     [20]byte `json:"arbiter"`
	Amount      *big.Int `json:"amount"`
	Funded      bool     `json:"funded"`
	Released    bool     `json:"released"`
	Refunded    bool     `json:"refunded"`
}

// Metadata is the registry's write-once record for a created agreement.
// Exists is false for any reference the factory never issued.
type Metadata struct {
	Depositor   [20]byte `json:"depositor"`
	Beneficiary [20]byte `json:"beneficiary"`
	Arbiter     [20]byte `json:"arbiter"`
	CreatedAt   int64    `json:"createdAt"`
	Exists      bool     `json:"exists"`
}

// StatusFilter selects agreements in registry scans.
type StatusFilter uint8

const (
	FilterAll StatusFilter = iota
	FilterFunded
	FilterReleased
	FilterRefunded
)

// Valid reports whether the filter value is within the supported range.
func (f StatusFilter) Valid() bool {
	switch f {
	case FilterAll, FilterFunded, FilterReleased, FilterRefunded:
		return true
	default:
		return false
	}
}

// matches evaluates the filter against a live agreement. The funded
// bucket covers agreements still awaiting resolution; released and
// refunded agreements report their terminal state only.
func (f StatusFilter) matches(a *Agreement) bool {
	if a == nil {
		return false
	}
	switch f {
	case FilterAll:
		return true
	case FilterFunded:
		return a.Funded && !a.Released && !a.Refunded
	case FilterReleased:
		return a.Released
	case FilterRefunded:
		return a.Refunded
	default:
		return false
	}
}

// Stats aggregates live agreement states across the whole registry.
type Stats struct {
	Total    uint64 `json:"total"`
	Funded   uint64 `json:"funded"`
	Released uint64 `json:"released"`
	Refunded uint64 `json:"refunded"`
}

var zeroAddress [20]byte

// ValidateParticipants enforces the identity invariant: depositor,
// beneficiary and arbiter are pairwise distinct and none is the null
// identity.
func ValidateParticipants(depositor, beneficiary, arbiter [20]byte) error {
	if depositor == zeroAddress || beneficiary == zeroAddress || arbiter == zeroAddress {
		return ErrInvalidAddress
	}
	if depositor == beneficiary || depositor == arbiter || beneficiary == arbiter {
		return ErrInvalidAddress
	}
	return nil
}

// SanitizeAgreement validates a stored agreement record and returns a
// clone with a non-nil amount. The original value is never mutated.
func SanitizeAgreement(a *Agreement) (*Agreement, error) {
	if a == nil {
		return nil, ErrEscrowDoesNotExist
	}
	clone := a.Clone()
	if err := ValidateParticipants(clone.Depositor, clone.Beneficiary, clone.Arbiter); err != nil {
		return nil, err
	}
	if clone.Amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if clone.Released && clone.Refunded {
		return nil, ErrCorruptAgreement
	}
	if !clone.Funded && clone.Amount.Sign() > 0 {
		return nil, ErrCorruptAgreement
	}
	return clone, nil
}
