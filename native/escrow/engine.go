package escrow

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"custodia/core/events"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the slice of the execution environment the agreement
// state machine needs: agreement persistence plus the value-transfer
// primitive in and out of custody. Every method commits atomically.
type engineState interface {
	AgreementGet(id [32]byte) (*Agreement, bool)
	AgreementPut(*Agreement) error
	EscrowDeposit(id [32]byte, from [20]byte, amount *big.Int) error
	EscrowPayout(id [32]byte, to [20]byte, amount *big.Int) error
	EscrowBalance(id [32]byte) (*big.Int, error)
}

// Engine drives the custody lifecycle of individual escrow agreements.
// Each mutating operation holds a per-agreement entry lock for its full
// duration, so a nested call into the same agreement while a transfer
// is in flight fails with ErrReentrantCall instead of observing
// intermediate state.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64

	mu      sync.Mutex
	entered map[[32]byte]bool
}

// NewEngine creates an engine with a no-op emitter. Callers wire state
// and emitter via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		entered: make(map[[32]byte]bool),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// enter acquires the agreement's entry lock.
func (e *Engine) enter(id [32]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.entered[id] {
		return ErrReentrantCall
	}
	e.entered[id] = true
	return nil
}

// exit releases the entry lock. Deferred on every mutating path.
func (e *Engine) exit(id [32]byte) {
	e.mu.Lock()
	delete(e.entered, id)
	e.mu.Unlock()
}

func (e *Engine) load(id [32]byte) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	a, ok := e.state.AgreementGet(id)
	if !ok {
		return nil, ErrEscrowDoesNotExist
	}
	return a, nil
}

// Deposit funds the agreement. Only the depositor may fund, exactly
// once, with a positive amount, while unpaused. The value moves into
// custody before the funded record is stored; a transfer failure leaves
// no state change behind.
func (e *Engine) Deposit(id [32]byte, caller [20]byte, amount *big.Int) error {
	if err := e.enter(id); err != nil {
		return err
	}
	defer e.exit(id)

	a, err := e.load(id)
	if err != nil {
		return err
	}
	if caller != a.Depositor {
		return ErrOnlyDepositor
	}
	if a.Funded {
		return ErrAlreadyFunded
	}
	if a.Paused {
		return ErrEnforcedPause
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := e.state.EscrowDeposit(id, caller, amount); err != nil {
		return err
	}
	funded := a.Clone()
	funded.Amount = new(big.Int).Set(amount)
	funded.Funded = true
	if err := e.state.AgreementPut(funded); err != nil {
		return err
	}
	e.emit(events.EscrowDeposited{ID: id, Depositor: a.Depositor, Amount: new(big.Int).Set(amount)})
	return nil
}

// Release resolves the agreement in favour of the beneficiary. Only the
// arbiter may release a funded, unresolved, unpaused agreement. The
// terminal flag is set on the working copy before the payout; a payout
// failure aborts the call with the stored record untouched.
func (e *Engine) Release(id [32]byte, caller [20]byte) error {
	return e.resolve(id, caller, true)
}

// Refund resolves the agreement back to the depositor under the same
// rules as Release.
func (e *Engine) Refund(id [32]byte, caller [20]byte) error {
	return e.resolve(id, caller, false)
}

func (e *Engine) resolve(id [32]byte, caller [20]byte, release bool) error {
	if err := e.enter(id); err != nil {
		return err
	}
	defer e.exit(id)

	a, err := e.load(id)
	if err != nil {
		return err
	}
	if caller != a.Arbiter {
		return ErrOnlyArbiter
	}
	if !a.Funded {
		return ErrNotFunded
	}
	if a.Terminal() {
		return ErrAlreadyReleased
	}
	if a.Paused {
		return ErrEnforcedPause
	}

	resolved := a.Clone()
	var recipient [20]byte
	if release {
		resolved.Released = true
		recipient = a.Beneficiary
	} else {
		resolved.Refunded = true
		recipient = a.Depositor
	}
	amount := resolved.Amount
	if err := e.state.EscrowPayout(id, recipient, amount); err != nil {
		return err
	}
	if err := e.state.AgreementPut(resolved); err != nil {
		return err
	}
	if release {
		e.emit(events.EscrowReleased{ID: id, Beneficiary: recipient, Amount: new(big.Int).Set(amount)})
	} else {
		e.emit(events.EscrowRefunded{ID: id, Depositor: recipient, Amount: new(big.Int).Set(amount)})
	}
	return nil
}

// Status returns the read-only snapshot of an agreement. Any caller may
// query it; there are no side effects.
func (e *Engine) Status(id [32]byte) (*Status, error) {
	a, err := e.load(id)
	if err != nil {
		return nil, err
	}
	clone := a.Clone()
	return &Status{
		Depositor:   clone.Depositor,
		Beneficiary: clone.Beneficiary,
		Arbiter:     clone.Arbiter,
		Amount:      clone.Amount,
		Funded:      clone.Funded,
		Released:    clone.Released,
		Refunded:    clone.Refunded,
	}, nil
}

// Pause engages the agreement's pause gate. Administrator only; pausing
// an already paused agreement fails with ErrEnforcedPause.
func (e *Engine) Pause(id [32]byte, caller [20]byte) error {
	if err := e.enter(id); err != nil {
		return err
	}
	defer e.exit(id)

	a, err := e.load(id)
	if err != nil {
		return err
	}
	if caller != a.Admin {
		return ErrNotAdmin
	}
	if a.Paused {
		return ErrEnforcedPause
	}
	paused := a.Clone()
	paused.Paused = true
	if err := e.state.AgreementPut(paused); err != nil {
		return err
	}
	e.emit(events.AgreementPaused{ID: id, Admin: a.Admin})
	return nil
}

// Unpause lifts the pause gate, restoring exactly the prior permission
// set. Administrator only; fails with ErrExpectedPause when not paused.
func (e *Engine) Unpause(id [32]byte, caller [20]byte) error {
	if err := e.enter(id); err != nil {
		return err
	}
	defer e.exit(id)

	a, err := e.load(id)
	if err != nil {
		return err
	}
	if caller != a.Admin {
		return ErrNotAdmin
	}
	if !a.Paused {
		return ErrExpectedPause
	}
	unpaused := a.Clone()
	unpaused.Paused = false
	if err := e.state.AgreementPut(unpaused); err != nil {
		return err
	}
	e.emit(events.AgreementUnpaused{ID: id, Admin: a.Admin})
	return nil
}

// EmergencyWithdraw sweeps the agreement's remaining custody balance to
// the administrator. Allowed only while paused; this is a last-resort
// recovery path, not part of the normal resolution flow.
func (e *Engine) EmergencyWithdraw(id [32]byte, caller [20]byte) error {
	if err := e.enter(id); err != nil {
		return err
	}
	defer e.exit(id)

	a, err := e.load(id)
	if err != nil {
		return err
	}
	if caller != a.Admin {
		return ErrNotAdmin
	}
	if !a.Paused {
		return ErrExpectedPause
	}
	balance, err := e.state.EscrowBalance(id)
	if err != nil {
		return err
	}
	if balance.Sign() > 0 {
		if err := e.state.EscrowPayout(id, a.Admin, balance); err != nil {
			return err
		}
	}
	e.emit(events.EmergencyWithdrawn{ID: id, Admin: a.Admin, Amount: new(big.Int).Set(balance)})
	return nil
}

// TransferAdmin hands agreement administration to a new identity.
func (e *Engine) TransferAdmin(id [32]byte, caller, newAdmin [20]byte) error {
	if err := e.enter(id); err != nil {
		return err
	}
	defer e.exit(id)

	a, err := e.load(id)
	if err != nil {
		return err
	}
	if caller != a.Admin {
		return ErrNotAdmin
	}
	if newAdmin == zeroAddress {
		return ErrInvalidAddress
	}
	updated := a.Clone()
	updated.Admin = newAdmin
	if err := e.state.AgreementPut(updated); err != nil {
		return err
	}
	e.emit(events.AgreementAdminTransferred{ID: id, PreviousAdmin: a.Admin, NewAdmin: newAdmin})
	return nil
}
