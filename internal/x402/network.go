package x402

import (
	"fmt"
	"strings"
)

// Family groups networks that share signature and fee semantics.
type Family string

const (
	FamilyEVM    Family = "evm"
	FamilySolana Family = "solana"
)

var networkFamilies = map[string]Family{
	"base":          FamilyEVM,
	"base-sepolia":  FamilyEVM,
	"solana":        FamilySolana,
	"solana-devnet": FamilySolana,
}

// usdcAssets are the canonical USDC contracts and mints per network.
var usdcAssets = map[string]string{
	"base":          "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	"base-sepolia":  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	"solana":        "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"solana-devnet": "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
}

// DefaultUSDC returns the canonical USDC asset for a known network.
func DefaultUSDC(network string) string {
	return usdcAssets[network]
}

// NetworkFamily reports the family of a known network id.
func NetworkFamily(network string) (Family, bool) {
	f, ok := networkFamilies[network]
	return f, ok
}

// Rail is the receiving side of one network: where payments go and in
// which asset. Extra is copied into every requirement for the network.
type Rail struct {
	Network string
	PayTo   string
	Asset   string
	Extra   map[string]any
}

// EVMRail builds a rail for an EIP-3009 USDC contract. name and version
// form the EIP-712 domain the payer signs against.
func EVMRail(network, payTo, asset, name, version string) (Rail, error) {
	if f, ok := NetworkFamily(network); !ok || f != FamilyEVM {
		return Rail{}, fmt.Errorf("%q is not a supported EVM network", network)
	}
	return Rail{
		Network: network,
		PayTo:   payTo,
		Asset:   asset,
		Extra:   map[string]any{"name": name, "version": version},
	}, nil
}

// SolanaRail builds a rail for an SPL USDC mint. feePayer is the
// facilitator account that pays transaction fees and may be filled in
// later from the facilitator's /supported response.
func SolanaRail(network, payTo, mint, feePayer string) (Rail, error) {
	if f, ok := NetworkFamily(network); !ok || f != FamilySolana {
		return Rail{}, fmt.Errorf("%q is not a supported Solana network", network)
	}
	r := Rail{Network: network, PayTo: payTo, Asset: mint, Extra: map[string]any{}}
	if feePayer != "" {
		r.Extra["feePayer"] = feePayer
	}
	return r, nil
}

// ParseNetworks splits a comma separated list, rejecting unknown ids and
// duplicates.
func ParseNetworks(list string) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	for _, n := range strings.Split(list, ",") {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := networkFamilies[n]; !ok {
			return nil, fmt.Errorf("unsupported x402 network %q", n)
		}
		if _, dup := seen[n]; dup {
			return nil, fmt.Errorf("duplicate x402 network %q", n)
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}
