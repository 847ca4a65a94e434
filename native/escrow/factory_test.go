package escrow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"
)

// mockRegistry extends the engine mock with the JSON keyspace the
// factory persists its registry into.
type mockRegistry struct {
	*mockState
	kv map[string][]byte
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		mockState: newMockState(),
		kv:        make(map[string][]byte),
	}
}

func (m *mockRegistry) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok := m.kv[string(key)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *mockRegistry) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.kv[string(key)] = raw
	return nil
}

func (m *mockRegistry) KVAppend(key []byte, item []byte) error {
	var list [][]byte
	if raw, ok := m.kv[string(key)]; ok {
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
	}
	list = append(list, append([]byte(nil), item...))
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	m.kv[string(key)] = raw
	return nil
}

func (m *mockRegistry) KVGetList(key []byte, out interface{}) error {
	raw, ok := m.kv[string(key)]
	if !ok {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type factoryFixture struct {
	factory  *Factory
	registry *mockRegistry
	emitter  *recordingEmitter

	admin   [20]byte
	creator [20]byte
	benefit [20]byte
	arbiter [20]byte
}

func newFactoryFixture(t *testing.T) *factoryFixture {
	t.Helper()
	f := &factoryFixture{
		registry: newMockRegistry(),
		emitter:  &recordingEmitter{},
		admin:    newTestAddress(0xAD),
		creator:  newTestAddress(0x11),
		benefit:  newTestAddress(0x22),
		arbiter:  newTestAddress(0x33),
	}
	factory, err := NewFactory(f.registry, f.admin)
	if err != nil {
		t.Fatalf("new factory: %v", err)
	}
	factory.SetEmitter(f.emitter)
	factory.SetNowFunc(func() int64 { return 1_700_000_000 })
	f.factory = factory
	return f
}

func TestNewFactoryRequiresAdmin(t *testing.T) {
	_, err := NewFactory(newMockRegistry(), [20]byte{})
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
}

func TestNewFactoryKeepsPersistedAdmin(t *testing.T) {
	registry := newMockRegistry()
	first := newTestAddress(0x01)
	if _, err := NewFactory(registry, first); err != nil {
		t.Fatalf("first boot: %v", err)
	}
	second, err := NewFactory(registry, newTestAddress(0x02))
	if err != nil {
		t.Fatalf("second boot: %v", err)
	}
	admin, err := second.Admin()
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if admin != first {
		t.Fatalf("admin = %x, want the first-boot identity", admin[:4])
	}
}

func TestCreateEscrowRegistersAgreement(t *testing.T) {
	f := newFactoryFixture(t)
	id, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, ok := f.registry.AgreementGet(id)
	if !ok {
		t.Fatal("agreement not persisted")
	}
	if a.Depositor != f.creator || a.Beneficiary != f.benefit || a.Arbiter != f.arbiter {
		t.Fatalf("participants wrong: %+v", a)
	}
	if a.Admin != f.admin {
		t.Fatalf("agreement admin = %x, want registry admin", a.Admin[:4])
	}
	if a.Funded || a.Released || a.Refunded || a.Paused || a.Amount.Sign() != 0 {
		t.Fatalf("fresh agreement not pristine: %+v", a)
	}
	if !f.factory.IsValidEscrow(id) {
		t.Fatal("reference should validate")
	}
	count, err := f.factory.EscrowCount()
	if err != nil || count != 1 {
		t.Fatalf("count = %d (%v), want 1", count, err)
	}
}

func TestCreateEscrowValidation(t *testing.T) {
	f := newFactoryFixture(t)
	cases := []struct {
		name        string
		beneficiary [20]byte
		arbiter     [20]byte
	}{
		{"null beneficiary", [20]byte{}, f.arbiter},
		{"null arbiter", f.benefit, [20]byte{}},
		{"creator as beneficiary", f.creator, f.arbiter},
		{"creator as arbiter", f.benefit, f.creator},
		{"beneficiary as arbiter", f.benefit, f.benefit},
	}
	for _, tc := range cases {
		if _, err := f.factory.CreateEscrow(f.creator, tc.beneficiary, tc.arbiter); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%s: err = %v, want ErrInvalidAddress", tc.name, err)
		}
	}
	count, _ := f.factory.EscrowCount()
	if count != 0 {
		t.Fatalf("count = %d after rejected creations, want 0", count)
	}
}

func TestCreateEscrowDistinctReferences(t *testing.T) {
	f := newFactoryFixture(t)
	seen := make(map[[32]byte]bool)
	for i := 0; i < 5; i++ {
		id, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[id] {
			t.Fatalf("duplicate reference on identical participants: %x", id[:8])
		}
		seen[id] = true
	}
}

func TestCreateMultipleEscrows(t *testing.T) {
	f := newFactoryFixture(t)
	beneficiaries := make([][20]byte, 10)
	arbiters := make([][20]byte, 10)
	for i := range beneficiaries {
		beneficiaries[i] = newTestAddress(byte(0x40 + i))
		arbiters[i] = newTestAddress(byte(0x60 + i))
	}
	refs, err := f.factory.CreateMultipleEscrows(f.creator, beneficiaries, arbiters)
	if err != nil {
		t.Fatalf("batch create: %v", err)
	}
	if len(refs) != 10 {
		t.Fatalf("refs = %d, want 10", len(refs))
	}
	all, err := f.factory.AllEscrows()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 10 {
		t.Fatalf("registry length = %d, want 10", len(all))
	}
	for i := range refs {
		if all[i] != refs[i] {
			t.Fatalf("registry order diverges at %d", i)
		}
	}
	mine, err := f.factory.UserEscrows(f.creator)
	if err != nil || len(mine) != 10 {
		t.Fatalf("user index = %d (%v), want 10", len(mine), err)
	}
}

func TestCreateMultipleEscrowsBounds(t *testing.T) {
	f := newFactoryFixture(t)
	if _, err := f.factory.CreateMultipleEscrows(f.creator, nil, nil); !errors.Is(err, ErrEmptyArrays) {
		t.Fatalf("empty batch err = %v, want ErrEmptyArrays", err)
	}
	if _, err := f.factory.CreateMultipleEscrows(f.creator, [][20]byte{f.benefit}, nil); !errors.Is(err, ErrArraysLengthMismatch) {
		t.Fatalf("mismatched batch err = %v, want ErrArraysLengthMismatch", err)
	}
	over := make([][20]byte, maxBatchCreate+1)
	overArb := make([][20]byte, maxBatchCreate+1)
	for i := range over {
		over[i] = newTestAddress(byte(0x40 + i))
		overArb[i] = newTestAddress(byte(0x70 + i))
	}
	if _, err := f.factory.CreateMultipleEscrows(f.creator, over, overArb); !errors.Is(err, ErrTooManyEscrows) {
		t.Fatalf("oversize batch err = %v, want ErrTooManyEscrows", err)
	}
}

func TestCreateMultipleEscrowsAtomic(t *testing.T) {
	f := newFactoryFixture(t)
	beneficiaries := [][20]byte{newTestAddress(0x41), newTestAddress(0x42), [20]byte{}}
	arbiters := [][20]byte{newTestAddress(0x61), newTestAddress(0x62), newTestAddress(0x63)}
	if _, err := f.factory.CreateMultipleEscrows(f.creator, beneficiaries, arbiters); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("err = %v, want ErrInvalidAddress", err)
	}
	count, _ := f.factory.EscrowCount()
	if count != 0 {
		t.Fatalf("count = %d after failed batch, want 0", count)
	}
}

func TestEscrowInfo(t *testing.T) {
	f := newFactoryFixture(t)
	id, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	meta, err := f.factory.EscrowInfo(id)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !meta.Exists || meta.Depositor != f.creator || meta.Beneficiary != f.benefit || meta.Arbiter != f.arbiter {
		t.Fatalf("metadata wrong: %+v", meta)
	}
	if meta.CreatedAt != 1_700_000_000 {
		t.Fatalf("createdAt = %d", meta.CreatedAt)
	}
	if _, err := f.factory.EscrowInfo(newTestRef(0xEE)); !errors.Is(err, ErrEscrowDoesNotExist) {
		t.Fatalf("unknown ref err = %v, want ErrEscrowDoesNotExist", err)
	}
	if f.factory.IsValidEscrow(newTestRef(0xEE)) {
		t.Fatal("unknown reference should not validate")
	}
}

func TestMetadataIsWriteOnce(t *testing.T) {
	f := newFactoryFixture(t)
	id, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	engine := NewEngine()
	engine.SetState(f.registry)
	f.registry.balances[f.creator] = big.NewInt(1_000)
	if err := engine.Deposit(id, f.creator, big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := engine.Release(id, f.arbiter); err != nil {
		t.Fatalf("release: %v", err)
	}
	meta, err := f.factory.EscrowInfo(id)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if meta.CreatedAt != 1_700_000_000 || meta.Depositor != f.creator {
		t.Fatalf("metadata changed after lifecycle: %+v", meta)
	}
}

func TestEscrowsByStatus(t *testing.T) {
	f := newFactoryFixture(t)
	engine := NewEngine()
	engine.SetState(f.registry)
	f.registry.balances[f.creator] = big.NewInt(1_000_000)

	var created, funded, released, refunded [32]byte
	var err error
	if created, err = f.factory.CreateEscrow(f.creator, newTestAddress(0x41), newTestAddress(0x61)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if funded, err = f.factory.CreateEscrow(f.creator, newTestAddress(0x42), newTestAddress(0x62)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if released, err = f.factory.CreateEscrow(f.creator, newTestAddress(0x43), newTestAddress(0x63)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if refunded, err = f.factory.CreateEscrow(f.creator, newTestAddress(0x44), newTestAddress(0x64)); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, id := range [][32]byte{funded, released, refunded} {
		if err := engine.Deposit(id, f.creator, big.NewInt(100)); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}
	if err := engine.Release(released, newTestAddress(0x63)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := engine.Refund(refunded, newTestAddress(0x64)); err != nil {
		t.Fatalf("refund: %v", err)
	}

	cases := []struct {
		filter StatusFilter
		want   [][32]byte
	}{
		{FilterAll, [][32]byte{created, funded, released, refunded}},
		{FilterFunded, [][32]byte{funded}},
		{FilterReleased, [][32]byte{released}},
		{FilterRefunded, [][32]byte{refunded}},
	}
	for _, tc := range cases {
		got, err := f.factory.EscrowsByStatus(tc.filter)
		if err != nil {
			t.Fatalf("filter %d: %v", tc.filter, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("filter %d: got %d refs, want %d", tc.filter, len(got), len(tc.want))
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("filter %d: mismatch at %d", tc.filter, i)
			}
		}
	}
	if _, err := f.factory.EscrowsByStatus(StatusFilter(99)); !errors.Is(err, ErrInvalidStatusFilter) {
		t.Fatalf("invalid filter err = %v, want ErrInvalidStatusFilter", err)
	}

	stats, err := f.factory.FactoryStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := Stats{Total: 4, Funded: 1, Released: 1, Refunded: 1}
	if *stats != want {
		t.Fatalf("stats = %+v, want %+v", *stats, want)
	}
}

func TestEscrowsByStatusScansLiveState(t *testing.T) {
	f := newFactoryFixture(t)
	engine := NewEngine()
	engine.SetState(f.registry)
	f.registry.balances[f.creator] = big.NewInt(10_000_000)

	const n = 200
	arbiter := newTestAddress(0x61)
	refs := make([][32]byte, 0, n)
	for i := 0; i < n; i++ {
		var beneficiary [20]byte
		copy(beneficiary[:2], []byte{0x42, 0x42})
		beneficiary[18] = byte(i >> 8)
		beneficiary[19] = byte(i)
		id, err := f.factory.CreateEscrow(f.creator, beneficiary, arbiter)
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		refs = append(refs, id)
	}
	for i, id := range refs {
		if i%2 != 0 {
			continue
		}
		if err := engine.Deposit(id, f.creator, big.NewInt(10)); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}
	fundedRefs, err := f.factory.EscrowsByStatus(FilterFunded)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(fundedRefs) != n/2 {
		t.Fatalf("funded scan = %d, want %d", len(fundedRefs), n/2)
	}
	// Resolving half of the funded set must be visible on the next scan.
	for i := 0; i < n/2; i += 2 {
		if err := engine.Release(refs[i*2], arbiter); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	releasedRefs, err := f.factory.EscrowsByStatus(FilterReleased)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(releasedRefs) != n/4 {
		t.Fatalf("released scan = %d, want %d", len(releasedRefs), n/4)
	}
	stats, err := f.factory.FactoryStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != n || stats.Released != n/4 || stats.Funded != n/2-n/4 {
		t.Fatalf("stats = %+v", *stats)
	}
}

func TestFactoryPauseGatesCreation(t *testing.T) {
	f := newFactoryFixture(t)
	if err := f.factory.Pause(f.creator); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("pause by non-admin err = %v, want ErrNotAdmin", err)
	}
	if err := f.factory.Unpause(f.admin); !errors.Is(err, ErrExpectedPause) {
		t.Fatalf("unpause unpaused err = %v, want ErrExpectedPause", err)
	}
	if err := f.factory.Pause(f.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.factory.Pause(f.admin); !errors.Is(err, ErrEnforcedPause) {
		t.Fatalf("double pause err = %v, want ErrEnforcedPause", err)
	}
	if _, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter); !errors.Is(err, ErrEnforcedPause) {
		t.Fatalf("create while paused err = %v, want ErrEnforcedPause", err)
	}
	if _, err := f.factory.CreateMultipleEscrows(f.creator, [][20]byte{f.benefit}, [][20]byte{f.arbiter}); !errors.Is(err, ErrEnforcedPause) {
		t.Fatalf("batch create while paused err = %v, want ErrEnforcedPause", err)
	}
	// Reads stay open while creation is gated.
	if _, err := f.factory.AllEscrows(); err != nil {
		t.Fatalf("all while paused: %v", err)
	}
	if err := f.factory.Unpause(f.admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter); err != nil {
		t.Fatalf("create after unpause: %v", err)
	}
}

func TestFactoryPauseDoesNotGateExistingAgreements(t *testing.T) {
	f := newFactoryFixture(t)
	id, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.factory.Pause(f.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	engine := NewEngine()
	engine.SetState(f.registry)
	f.registry.balances[f.creator] = big.NewInt(1_000)
	if err := engine.Deposit(id, f.creator, big.NewInt(100)); err != nil {
		t.Fatalf("deposit under factory pause: %v", err)
	}
	if err := engine.Release(id, f.arbiter); err != nil {
		t.Fatalf("release under factory pause: %v", err)
	}
}

func TestFactoryTransferAdmin(t *testing.T) {
	f := newFactoryFixture(t)
	successor := newTestAddress(0x99)
	if err := f.factory.TransferAdmin(f.creator, successor); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("transfer by non-admin err = %v, want ErrNotAdmin", err)
	}
	if err := f.factory.TransferAdmin(f.admin, [20]byte{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("transfer to null err = %v, want ErrInvalidAddress", err)
	}
	if err := f.factory.TransferAdmin(f.admin, successor); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := f.factory.Pause(f.admin); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("old admin should be powerless, err = %v", err)
	}
	if err := f.factory.Pause(successor); err != nil {
		t.Fatalf("new admin pause: %v", err)
	}
	// Agreements created after the handover carry the new administrator.
	if err := f.factory.Unpause(successor); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	id, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, ok := f.registry.AgreementGet(id)
	if !ok {
		t.Fatal("agreement not persisted")
	}
	if a.Admin != successor {
		t.Fatalf("agreement admin = %x, want successor", a.Admin[:4])
	}
}

func TestAgreementIDDeterministic(t *testing.T) {
	a := newTestAddress(0x01)
	b := newTestAddress(0x02)
	c := newTestAddress(0x03)
	if agreementID(a, b, c, 0) != agreementID(a, b, c, 0) {
		t.Fatal("same inputs must produce the same reference")
	}
	if agreementID(a, b, c, 0) == agreementID(a, b, c, 1) {
		t.Fatal("sequence must separate references")
	}
	if agreementID(a, b, c, 0) == agreementID(b, a, c, 0) {
		t.Fatal("participant order must separate references")
	}
}

func TestFactoryEvents(t *testing.T) {
	f := newFactoryFixture(t)
	if _, err := f.factory.CreateEscrow(f.creator, f.benefit, f.arbiter); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.factory.Pause(f.admin); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.factory.Unpause(f.admin); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	want := []string{"escrow.created", "escrow.factory.paused", "escrow.factory.unpaused"}
	got := f.emitter.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}
