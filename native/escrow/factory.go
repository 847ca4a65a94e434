package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"custodia/core/events"
)

// maxBatchCreate bounds a single batch call. A resource-exhaustion
// guard, not a business rule.
const maxBatchCreate = 10

const (
	registryAllKey    = "escrow/registry/all"
	registrySeqKey    = "escrow/registry/seq"
	registryAdminKey  = "escrow/registry/admin"
	registryPausedKey = "escrow/registry/paused"
)

func registryUserKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("escrow/registry/user/%x", addr))
}

func registryMetaKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("escrow/registry/meta/%x", id))
}

// registryState is the persistence surface the factory relies on. The
// registry structures are mutated only through the creation path, under
// the storage backend's atomic-commit guarantee.
type registryState interface {
	AgreementGet(id [32]byte) (*Agreement, bool)
	AgreementPut(*Agreement) error
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, item []byte) error
	KVGetList(key []byte, out interface{}) error
}

// Factory creates escrow agreements and maintains the global registry:
// an append-only sequence of references, a per-creator index, and a
// write-once metadata record per agreement.
type Factory struct {
	mu      sync.Mutex
	st      registryState
	emitter events.Emitter
	nowFn   func() int64
}

// NewFactory creates a factory over the given state. The admin identity
// becomes the registry administrator on first boot; on later boots the
// persisted administrator wins.
func NewFactory(st registryState, admin [20]byte) (*Factory, error) {
	f := &Factory{
		st:      st,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	var stored [20]byte
	found, err := st.KVGet([]byte(registryAdminKey), &stored)
	if err != nil {
		return nil, err
	}
	if !found {
		if admin == zeroAddress {
			return nil, ErrInvalidAddress
		}
		if err := st.KVPut([]byte(registryAdminKey), admin); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		f.emitter = events.NoopEmitter{}
		return
	}
	f.emitter = emitter
}

// SetNowFunc overrides the time source. Intended for tests.
func (f *Factory) SetNowFunc(now func() int64) {
	if now == nil {
		f.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	f.nowFn = now
}

func (f *Factory) emit(evt events.Event) {
	if f == nil || f.emitter == nil || evt == nil {
		return
	}
	f.emitter.Emit(evt)
}

// Admin returns the current registry administrator.
func (f *Factory) Admin() ([20]byte, error) {
	var admin [20]byte
	found, err := f.st.KVGet([]byte(registryAdminKey), &admin)
	if err != nil {
		return zeroAddress, err
	}
	if !found {
		return zeroAddress, ErrInvalidAddress
	}
	return admin, nil
}

// Paused reports whether agreement creation is gated.
func (f *Factory) Paused() (bool, error) {
	var paused bool
	if _, err := f.st.KVGet([]byte(registryPausedKey), &paused); err != nil {
		return false, err
	}
	return paused, nil
}

func (f *Factory) nextSequence() (uint64, error) {
	var seq uint64
	if _, err := f.st.KVGet([]byte(registrySeqKey), &seq); err != nil {
		return 0, err
	}
	if err := f.st.KVPut([]byte(registrySeqKey), seq+1); err != nil {
		return 0, err
	}
	return seq, nil
}

// agreementID derives the deterministic reference for a new agreement
// from its participants and the registry sequence number.
func agreementID(creator, beneficiary, arbiter [20]byte, seq uint64) [32]byte {
	var seqBE [8]byte
	binary.BigEndian.PutUint64(seqBE[:], seq)
	return ethcrypto.Keccak256Hash(creator[:], beneficiary[:], arbiter[:], seqBE[:])
}

// CreateEscrow instantiates a new agreement with the caller as
// depositor. The caller, beneficiary and arbiter must be distinct
// non-null identities; violations fail with ErrInvalidAddress. The
// registry administrator becomes the agreement's administrator.
func (f *Factory) CreateEscrow(caller, beneficiary, arbiter [20]byte) ([32]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createOne(caller, beneficiary, arbiter)
}

// createOne is the single-creation path. Callers hold f.mu.
func (f *Factory) createOne(caller, beneficiary, arbiter [20]byte) ([32]byte, error) {
	paused, err := f.Paused()
	if err != nil {
		return [32]byte{}, err
	}
	if paused {
		return [32]byte{}, ErrEnforcedPause
	}
	if err := ValidateParticipants(caller, beneficiary, arbiter); err != nil {
		return [32]byte{}, err
	}
	admin, err := f.Admin()
	if err != nil {
		return [32]byte{}, err
	}
	seq, err := f.nextSequence()
	if err != nil {
		return [32]byte{}, err
	}
	id := agreementID(caller, beneficiary, arbiter, seq)
	now := f.nowFn()
	agreement := &Agreement{
		ID:          id,
		Depositor:   caller,
		Beneficiary: beneficiary,
		Arbiter:     arbiter,
		Admin:       admin,
		Amount:      big.NewInt(0),
		CreatedAt:   now,
	}
	if err := f.st.AgreementPut(agreement); err != nil {
		return [32]byte{}, err
	}
	if err := f.st.KVAppend([]byte(registryAllKey), id[:]); err != nil {
		return [32]byte{}, err
	}
	if err := f.st.KVAppend(registryUserKey(caller), id[:]); err != nil {
		return [32]byte{}, err
	}
	meta := Metadata{
		Depositor:   caller,
		Beneficiary: beneficiary,
		Arbiter:     arbiter,
		CreatedAt:   now,
		Exists:      true,
	}
	if err := f.st.KVPut(registryMetaKey(id), meta); err != nil {
		return [32]byte{}, err
	}
	f.emit(events.EscrowCreated{
		ID:          id,
		Depositor:   caller,
		Beneficiary: beneficiary,
		Arbiter:     arbiter,
		CreatedAt:   now,
	})
	return id, nil
}

// CreateMultipleEscrows is the batch form of CreateEscrow. The two
// arrays must be equal-length, non-empty and hold at most ten pairs.
// Every pair is validated before any agreement is created, so a single
// invalid pair fails the whole batch with no partial commits.
func (f *Factory) CreateMultipleEscrows(caller [20]byte, beneficiaries, arbiters [][20]byte) ([][32]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(beneficiaries) != len(arbiters) {
		return nil, ErrArraysLengthMismatch
	}
	if len(beneficiaries) == 0 {
		return nil, ErrEmptyArrays
	}
	if len(beneficiaries) > maxBatchCreate {
		return nil, ErrTooManyEscrows
	}
	paused, err := f.Paused()
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, ErrEnforcedPause
	}
	for i := range beneficiaries {
		if err := ValidateParticipants(caller, beneficiaries[i], arbiters[i]); err != nil {
			return nil, err
		}
	}
	refs := make([][32]byte, 0, len(beneficiaries))
	for i := range beneficiaries {
		id, err := f.createOne(caller, beneficiaries[i], arbiters[i])
		if err != nil {
			return nil, err
		}
		refs = append(refs, id)
	}
	return refs, nil
}

func decodeRefs(raw [][]byte) [][32]byte {
	refs := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			continue
		}
		var id [32]byte
		copy(id[:], entry)
		refs = append(refs, id)
	}
	return refs
}

// AllEscrows returns every agreement reference ever created, in
// creation order.
func (f *Factory) AllEscrows() ([][32]byte, error) {
	var raw [][]byte
	if err := f.st.KVGetList([]byte(registryAllKey), &raw); err != nil {
		return nil, err
	}
	return decodeRefs(raw), nil
}

// UserEscrows returns the references created by the given identity, in
// creation order.
func (f *Factory) UserEscrows(creator [20]byte) ([][32]byte, error) {
	var raw [][]byte
	if err := f.st.KVGetList(registryUserKey(creator), &raw); err != nil {
		return nil, err
	}
	return decodeRefs(raw), nil
}

// EscrowCount returns the total number of agreements across all
// creators.
func (f *Factory) EscrowCount() (uint64, error) {
	refs, err := f.AllEscrows()
	if err != nil {
		return 0, err
	}
	return uint64(len(refs)), nil
}

// EscrowInfo returns the write-once metadata for a registered
// reference. Unregistered references fail with ErrEscrowDoesNotExist.
func (f *Factory) EscrowInfo(id [32]byte) (*Metadata, error) {
	meta := new(Metadata)
	found, err := f.st.KVGet(registryMetaKey(id), meta)
	if err != nil {
		return nil, err
	}
	if !found || !meta.Exists {
		return nil, ErrEscrowDoesNotExist
	}
	return meta, nil
}

// IsValidEscrow reports whether the reference was issued by this
// registry. It never fails; unknown references simply report false.
func (f *Factory) IsValidEscrow(id [32]byte) bool {
	meta := new(Metadata)
	found, err := f.st.KVGet(registryMetaKey(id), meta)
	if err != nil {
		return false
	}
	return found && meta.Exists
}

// EscrowsByStatus scans the full global sequence, querying each
// agreement's live state, and returns the subset matching the filter.
// This is an O(n) scan over every agreement ever created.
func (f *Factory) EscrowsByStatus(filter StatusFilter) ([][32]byte, error) {
	if !filter.Valid() {
		return nil, ErrInvalidStatusFilter
	}
	refs, err := f.AllEscrows()
	if err != nil {
		return nil, err
	}
	matched := make([][32]byte, 0, len(refs))
	for _, id := range refs {
		a, ok := f.st.AgreementGet(id)
		if !ok {
			continue
		}
		if filter.matches(a) {
			matched = append(matched, id)
		}
	}
	return matched, nil
}

// FactoryStats aggregates live counts over the whole registry with the
// same O(n) scan as EscrowsByStatus.
func (f *Factory) FactoryStats() (*Stats, error) {
	refs, err := f.AllEscrows()
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: uint64(len(refs))}
	for _, id := range refs {
		a, ok := f.st.AgreementGet(id)
		if !ok {
			continue
		}
		switch {
		case a.Released:
			stats.Released++
		case a.Refunded:
			stats.Refunded++
		case a.Funded:
			stats.Funded++
		}
	}
	return stats, nil
}

// Pause gates agreement creation. Administrator only; already-created
// agreements keep their own independent pause flags.
func (f *Factory) Pause(caller [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	admin, err := f.Admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return ErrNotAdmin
	}
	paused, err := f.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrEnforcedPause
	}
	if err := f.st.KVPut([]byte(registryPausedKey), true); err != nil {
		return err
	}
	f.emit(events.FactoryPaused{Admin: admin})
	return nil
}

// Unpause lifts the creation gate. Administrator only.
func (f *Factory) Unpause(caller [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	admin, err := f.Admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return ErrNotAdmin
	}
	paused, err := f.Paused()
	if err != nil {
		return err
	}
	if !paused {
		return ErrExpectedPause
	}
	if err := f.st.KVPut([]byte(registryPausedKey), false); err != nil {
		return err
	}
	f.emit(events.FactoryUnpaused{Admin: admin})
	return nil
}

// TransferAdmin hands registry administration to a new identity.
func (f *Factory) TransferAdmin(caller, newAdmin [20]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	admin, err := f.Admin()
	if err != nil {
		return err
	}
	if caller != admin {
		return ErrNotAdmin
	}
	if newAdmin == zeroAddress {
		return ErrInvalidAddress
	}
	return f.st.KVPut([]byte(registryAdminKey), newAdmin)
}
