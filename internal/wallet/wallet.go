// Package wallet verifies "sign this message" signatures for the chain
// families a caller may log in with.
package wallet

import (
	"errors"
	"fmt"
	"strings"
)

// Chain identifies a signature scheme family.
type Chain string

const (
	ChainSolana  Chain = "solana"
	ChainStellar Chain = "stellar"
	ChainEVM     Chain = "evm"
)

var (
	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Verifier checks that signature is publicKey's signature over message.
// The message is verified exactly as given.
type Verifier interface {
	Verify(publicKey, message, signature string) error
}

// Verifiers dispatches to a Verifier per chain.
type Verifiers map[Chain]Verifier

// DefaultVerifiers returns verifiers for every supported chain.
func DefaultVerifiers() Verifiers {
	return Verifiers{
		ChainSolana:  SolanaVerifier{},
		ChainStellar: StellarVerifier{},
		ChainEVM:     EVMVerifier{},
	}
}

// Verify checks the signature with the verifier for chain. An empty chain
// is inferred from the shape of publicKey.
func (v Verifiers) Verify(chain Chain, publicKey, message, signature string) (Chain, error) {
	if chain == "" {
		chain = Detect(publicKey)
	}
	verifier, ok := v[chain]
	if !ok {
		return chain, fmt.Errorf("%w: %q", ErrUnsupportedChain, chain)
	}
	return chain, verifier.Verify(publicKey, message, signature)
}

// Detect guesses the chain family of an address: 0x-prefixed hex is EVM,
// a 56-character G... strkey is Stellar, anything else is treated as a
// base58 Solana key.
func Detect(publicKey string) Chain {
	switch {
	case strings.HasPrefix(publicKey, "0x") || strings.HasPrefix(publicKey, "0X"):
		return ChainEVM
	case len(publicKey) == 56 && publicKey[0] == 'G':
		return ChainStellar
	default:
		return ChainSolana
	}
}

// ParseChain validates a caller-supplied chain name.
func ParseChain(s string) (Chain, error) {
	switch c := Chain(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return "", nil
	case ChainSolana, ChainStellar, ChainEVM:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedChain, s)
	}
}
