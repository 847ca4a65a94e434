package genesis

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Allocation is one initial account balance.
type Allocation struct {
	Address string `yaml:"address"`
	Balance string `yaml:"balance"`
}

// File is the YAML document describing the ledger's starting balances.
type File struct {
	Allocations []Allocation `yaml:"allocations"`
}

// Ledger is the slice of the state manager genesis loading needs.
type Ledger interface {
	Credit(addr [20]byte, amount *big.Int) error
}

// Load parses the allocation file at path and credits each account.
// Balances are decimal strings; addresses are 0x-prefixed hex.
func Load(path string, ledger Ledger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var file File
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	return Apply(&file, ledger)
}

// Apply credits every allocation in the document.
func Apply(file *File, ledger Ledger) error {
	if file == nil {
		return nil
	}
	for i, alloc := range file.Allocations {
		addrText := strings.TrimSpace(alloc.Address)
		if !common.IsHexAddress(addrText) {
			return fmt.Errorf("genesis: allocation %d: invalid address %q", i, alloc.Address)
		}
		addr := common.HexToAddress(addrText)
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10)
		if !ok || balance.Sign() < 0 {
			return fmt.Errorf("genesis: allocation %d: invalid balance %q", i, alloc.Balance)
		}
		if err := ledger.Credit(addr, balance); err != nil {
			return fmt.Errorf("genesis: allocation %d: %w", i, err)
		}
	}
	return nil
}
