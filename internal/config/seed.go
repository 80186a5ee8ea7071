package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/audit_layer/internal/app/domain/airdrop"
	"github.com/R3E-Network/audit_layer/internal/wallet"
)

// SeedFile is the YAML registry data loaded at startup.
type SeedFile struct {
	Whitelist   []string             `yaml:"whitelist"`
	Allocations []airdrop.Allocation `yaml:"allocations"`
}

// LoadSeedFile reads and validates a seed file. Wallet addresses are
// normalized to their base58 form.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	seen := make(map[string]struct{}, len(seed.Allocations))
	for i, a := range seed.Allocations {
		addr, err := wallet.NormalizeAddress(a.WalletAddress)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		if a.Amount <= 0 {
			return nil, fmt.Errorf("allocation %s: amount must be positive", addr)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("allocation %s listed twice", addr)
		}
		seen[addr] = struct{}{}
		seed.Allocations[i].WalletAddress = addr
	}
	return &seed, nil
}
