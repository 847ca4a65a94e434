package escrow

import "errors"

// The escrow error vocabulary is a closed set of sentinels so callers
// and tests can enumerate failure modes with errors.Is.
var (
	// Authorization.
	ErrOnlyDepositor = errors.New("escrow: only depositor")
	ErrOnlyArbiter   = errors.New("escrow: only arbiter")
	ErrNotAdmin      = errors.New("escrow: caller is not administrator")

	// State preconditions. ErrAlreadyReleased covers both "already
	// released" and "already refunded": once either terminal flag is
	// set the other operation fails identically.
	ErrAlreadyFunded   = errors.New("escrow: already funded")
	ErrNotFunded       = errors.New("escrow: not funded")
	ErrAlreadyReleased = errors.New("escrow: already resolved")

	// Input validation.
	ErrInvalidAddress       = errors.New("escrow: invalid address")
	ErrInvalidAmount        = errors.New("escrow: invalid amount")
	ErrArraysLengthMismatch = errors.New("escrow: arrays length mismatch")
	ErrEmptyArrays          = errors.New("escrow: empty arrays")
	ErrTooManyEscrows       = errors.New("escrow: too many escrows in batch")
	ErrInvalidStatusFilter  = errors.New("escrow: invalid status filter")

	// Lookup.
	ErrEscrowDoesNotExist = errors.New("escrow: escrow does not exist")

	// Lifecycle gates.
	ErrEnforcedPause = errors.New("escrow: paused")
	ErrExpectedPause = errors.New("escrow: not paused")

	// Guard violations.
	ErrReentrantCall    = errors.New("escrow: reentrant call")
	ErrCorruptAgreement = errors.New("escrow: corrupt agreement record")
)
