// Package validation checks on-chain addresses for the networks the
// gateway accepts payments and logins on.
package validation

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"github.com/stellar/go-stellar-sdk/keypair"
)

// EVMAddress validates a 0x-prefixed 20-byte hex address.
func EVMAddress(addr string) error {
	if !common.IsHexAddress(addr) || len(addr) != 42 {
		return fmt.Errorf("invalid EVM address %q", addr)
	}
	if common.HexToAddress(addr) == (common.Address{}) {
		return fmt.Errorf("EVM address %q is the zero address", addr)
	}
	return nil
}

// SolanaAddress validates a base58 encoded 32-byte public key.
func SolanaAddress(addr string) error {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("invalid Solana address %q", addr)
	}
	return nil
}

// StellarAddress validates a G... account id.
func StellarAddress(addr string) error {
	if _, err := keypair.ParseAddress(addr); err != nil {
		return fmt.Errorf("invalid Stellar address %q", addr)
	}
	return nil
}

// Address validates addr for a chain family: "evm", "solana" or "stellar".
func Address(family, addr string) error {
	switch family {
	case "evm":
		return EVMAddress(addr)
	case "solana":
		return SolanaAddress(addr)
	case "stellar":
		return StellarAddress(addr)
	default:
		return fmt.Errorf("unknown chain family %q", family)
	}
}
