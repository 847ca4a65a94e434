package events

import "math/big"

const (
	// TypeEscrowCreated is emitted when the factory registers a new
	// escrow agreement.
	TypeEscrowCreated = "escrow.created"
	// TypeEscrowDeposited is emitted when the depositor funds an
	// agreement.
	TypeEscrowDeposited = "escrow.deposited"
	// TypeEscrowReleased is emitted when the arbiter releases custody
	// to the beneficiary.
	TypeEscrowReleased = "escrow.released"
	// TypeEscrowRefunded is emitted when the arbiter returns custody to
	// the depositor.
	TypeEscrowRefunded = "escrow.refunded"
	// TypeAgreementPaused is emitted when an agreement's administrator
	// engages the pause gate.
	TypeAgreementPaused = "escrow.agreement.paused"
	// TypeAgreementUnpaused is emitted when the pause gate is lifted.
	TypeAgreementUnpaused = "escrow.agreement.unpaused"
	// TypeAgreementAdminTransferred is emitted when agreement
	// administration moves to a new identity.
	TypeAgreementAdminTransferred = "escrow.agreement.admin_transferred"
	// TypeEmergencyWithdrawn is emitted when a paused agreement's
	// remaining custody balance is swept to the administrator.
	TypeEmergencyWithdrawn = "escrow.emergency_withdrawn"
	// TypeFactoryPaused is emitted when agreement creation is gated.
	TypeFactoryPaused = "escrow.factory.paused"
	// TypeFactoryUnpaused is emitted when agreement creation resumes.
	TypeFactoryUnpaused = "escrow.factory.unpaused"
)

// EscrowCreated carries the identifying fields of a freshly registered
// agreement.
type EscrowCreated struct {
	ID          [32]byte
	Depositor   [20]byte
	Beneficiary [20]byte
	Arbiter     [20]byte
	CreatedAt   int64
}

// EventType implements the Event interface.
func (EscrowCreated) EventType() string { return TypeEscrowCreated }

// EscrowDeposited records the funding of an agreement.
type EscrowDeposited struct {
	ID        [32]byte
	Depositor [20]byte
	Amount    *big.Int
}

// EventType implements the Event interface.
func (EscrowDeposited) EventType() string { return TypeEscrowDeposited }

// EscrowReleased records a terminal release to the beneficiary.
type EscrowReleased struct {
	ID          [32]byte
	Beneficiary [20]byte
	Amount      *big.Int
}

// EventType implements the Event interface.
func (EscrowReleased) EventType() string { return TypeEscrowReleased }

// EscrowRefunded records a terminal refund to the depositor.
type EscrowRefunded struct {
	ID        [32]byte
	Depositor [20]byte
	Amount    *big.Int
}

// EventType implements the Event interface.
func (EscrowRefunded) EventType() string { return TypeEscrowRefunded }

// AgreementPaused marks the engagement of an agreement's pause gate.
type AgreementPaused struct {
	ID    [32]byte
	Admin [20]byte
}

// EventType implements the Event interface.
func (AgreementPaused) EventType() string { return TypeAgreementPaused }

// AgreementUnpaused marks the release of an agreement's pause gate.
type AgreementUnpaused struct {
	ID    [32]byte
	Admin [20]byte
}

// EventType implements the Event interface.
func (AgreementUnpaused) EventType() string { return TypeAgreementUnpaused }

// AgreementAdminTransferred records an administrator handover.
type AgreementAdminTransferred struct {
	ID            [32]byte
	PreviousAdmin [20]byte
	NewAdmin      [20]byte
}

// EventType implements the Event interface.
func (AgreementAdminTransferred) EventType() string { return TypeAgreementAdminTransferred }

// EmergencyWithdrawn records a last-resort sweep of custody funds.
type EmergencyWithdrawn struct {
	ID     [32]byte
	Admin  [20]byte
	Amount *big.Int
}

// EventType implements the Event interface.
func (EmergencyWithdrawn) EventType() string { return TypeEmergencyWithdrawn }

// FactoryPaused marks the gating of agreement creation.
type FactoryPaused struct {
	Admin [20]byte
}

// EventType implements the Event interface.
func (FactoryPaused) EventType() string { return TypeFactoryPaused }

// FactoryUnpaused marks the resumption of agreement creation.
type FactoryUnpaused struct {
	Admin [20]byte
}

// EventType implements the Event interface.
func (FactoryUnpaused) EventType() string { return TypeFactoryUnpaused }
