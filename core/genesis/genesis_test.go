package genesis

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLedger struct {
	credits map[[20]byte]*big.Int
}

func newRecordingLedger() *recordingLedger {
	return &recordingLedger{credits: make(map[[20]byte]*big.Int)}
}

func (l *recordingLedger) Credit(addr [20]byte, amount *big.Int) error {
	bal, ok := l.credits[addr]
	if !ok {
		bal = big.NewInt(0)
	}
	l.credits[addr] = new(big.Int).Add(bal, amount)
	return nil
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	doc := `allocations:
  - address: "0x1111111111111111111111111111111111111111"
    balance: "1000000"
  - address: "0x2222222222222222222222222222222222222222"
    balance: "42"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	ledger := newRecordingLedger()
	require.NoError(t, Load(path, ledger))
	require.Len(t, ledger.credits, 2)

	var first [20]byte
	for i := range first {
		first[i] = 0x11
	}
	require.Equal(t, "1000000", ledger.credits[first].String())
}

func TestLoadMissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "absent.yaml"), newRecordingLedger())
	require.Error(t, err)
}

func TestApplyRejectsBadAllocations(t *testing.T) {
	cases := []struct {
		name string
		file File
	}{
		{"bad address", File{Allocations: []Allocation{{Address: "not-an-address", Balance: "1"}}}},
		{"bad balance", File{Allocations: []Allocation{{Address: "0x1111111111111111111111111111111111111111", Balance: "many"}}}},
		{"negative balance", File{Allocations: []Allocation{{Address: "0x1111111111111111111111111111111111111111", Balance: "-5"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newRecordingLedger()
			require.Error(t, Apply(&tc.file, ledger))
			require.Empty(t, ledger.credits)
		})
	}
}

func TestApplyNilFile(t *testing.T) {
	require.NoError(t, Apply(nil, newRecordingLedger()))
}
