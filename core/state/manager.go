package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"custodia/native/escrow"
	"custodia/storage"
)

var (
	// ErrInsufficientFunds is returned when a transfer would overdraw
	// the sender's balance.
	ErrInsufficientFunds = errors.New("state: insufficient funds")
	// ErrUnsolicitedTransfer is returned when value is pushed directly
	// at the custody vault. Funds only enter custody through the escrow
	// deposit path.
	ErrUnsolicitedTransfer = errors.New("state: unsolicited transfer to custody vault")
	// ErrNegativeAmount is returned for transfers of negative value.
	ErrNegativeAmount = errors.New("state: negative transfer amount")
)

const (
	acctPrefix      = "acct:"
	agreementPrefix = "esc:agreement:"
	vaultPrefix     = "esc:vault:"
	kvPrefix        = "kv:"
)

// vaultAddress is the synthetic account holding all escrowed value. It
// has no known private key; the manager only moves funds out of it on
// behalf of the escrow engine.
var vaultAddress = func() [20]byte {
	var addr [20]byte
	sum := ethcrypto.Keccak256([]byte("custodia/escrow-vault"))
	copy(addr[:], sum[12:])
	return addr
}()

// VaultAddress returns the synthetic custody vault account.
func VaultAddress() [20]byte { return vaultAddress }

// Manager persists accounts, custody sub-balances and escrow agreements
// through a storage.Database. Every mutation commits before the method
// returns; the caller sequences operations (the hosting environment
// serialises mutating calls against any single agreement).
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func acctKey(addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", acctPrefix, addr))
}

func agreementKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", agreementPrefix, id))
}

func vaultKey(id [32]byte) []byte {
	return []byte(fmt.Sprintf("%s%x", vaultPrefix, id))
}

func (m *Manager) readBalance(key []byte) (*big.Int, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	bal, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupt balance record %q", raw)
	}
	return bal, nil
}

func (m *Manager) writeBalance(key []byte, bal *big.Int) error {
	return m.db.Put(key, []byte(bal.String()))
}

// Balance returns the spendable balance of an account. Unknown accounts
// report zero.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBalance(acctKey(addr))
}

// Credit adds value to an account. Used by genesis loading and tests.
func (m *Manager) Credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, err := m.readBalance(acctKey(addr))
	if err != nil {
		return err
	}
	return m.writeBalance(acctKey(addr), new(big.Int).Add(bal, amount))
}

// Transfer moves value between ordinary accounts. Transfers aimed at
// the custody vault are rejected unconditionally; custody is only
// entered through EscrowDeposit.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if to == vaultAddress {
		return ErrUnsolicitedTransfer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.move(from, to, amount)
}

// move debits from and credits to without the vault-recipient check.
// Callers hold m.mu.
func (m *Manager) move(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBal, err := m.readBalance(acctKey(from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBal, err := m.readBalance(acctKey(to))
	if err != nil {
		return err
	}
	if err := m.writeBalance(acctKey(from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	return m.writeBalance(acctKey(to), new(big.Int).Add(toBal, amount))
}

// EscrowDeposit moves value from the depositor into the custody vault
// and records it against the agreement's sub-balance.
func (m *Manager) EscrowDeposit(id [32]byte, from [20]byte, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.move(from, vaultAddress, amount); err != nil {
		return err
	}
	sub, err := m.readBalance(vaultKey(id))
	if err != nil {
		return err
	}
	return m.writeBalance(vaultKey(id), new(big.Int).Add(sub, amount))
}

// EscrowPayout moves value out of an agreement's custody sub-balance to
// the recipient.
func (m *Manager) EscrowPayout(id [32]byte, to [20]byte, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	sub, err := m.readBalance(vaultKey(id))
	if err != nil {
		return err
	}
	if sub.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	if err := m.move(vaultAddress, to, amount); err != nil {
		return err
	}
	return m.writeBalance(vaultKey(id), new(big.Int).Sub(sub, amount))
}

// EscrowBalance reports the custody sub-balance held for an agreement.
func (m *Manager) EscrowBalance(id [32]byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readBalance(vaultKey(id))
}

// AgreementPut persists an escrow agreement record.
func (m *Manager) AgreementPut(a *escrow.Agreement) error {
	if a == nil {
		return fmt.Errorf("state: nil agreement")
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(agreementKey(a.ID), raw)
}

// AgreementGet loads an agreement by reference.
func (m *Manager) AgreementGet(id [32]byte) (*escrow.Agreement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(agreementKey(id))
	if err != nil {
		return nil, false
	}
	a := new(escrow.Agreement)
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, false
	}
	return a, true
}

// KVGet decodes the JSON value stored under key into out, reporting
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(append([]byte(kvPrefix), key...))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	return true, json.Unmarshal(raw, out)
}

// KVPut stores value under key as JSON.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(append([]byte(kvPrefix), key...), raw)
}

// KVAppend appends item to the byte-slice list stored under key,
// creating the list when absent.
func (m *Manager) KVAppend(key []byte, item []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	storageKey := append([]byte(kvPrefix), key...)
	var list [][]byte
	raw, err := m.db.Get(storageKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err == nil {
		if err := json.Unmarshal(raw, &list); err != nil {
			return err
		}
	}
	entry := make([]byte, len(item))
	copy(entry, item)
	list = append(list, entry)
	encoded, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return m.db.Put(storageKey, encoded)
}

// KVGetList decodes the list stored under key into out. A missing key
// leaves out untouched.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.db.Get(append([]byte(kvPrefix), key...))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
