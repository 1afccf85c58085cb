package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mr-tron/base58"
	"github.com/stellar/go-stellar-sdk/keypair"
)

const testMessage = "Sign this message to authenticate with Chain Data Gateway.\n\nNonce: 0123abcd"

func signSolana(t *testing.T, message string) (string, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base58.Encode(pub), base58.Encode(ed25519.Sign(priv, []byte(message)))
}

func signStellar(t *testing.T, message string) (string, string) {
	t.Helper()
	kp, err := keypair.Random()
	if err != nil {
		t.Fatalf("random keypair: %v", err)
	}
	sig, err := kp.Sign([]byte(message))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return kp.Address(), base64.StdEncoding.EncodeToString(sig)
}

func signEVM(t *testing.T, message string) (string, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash := crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)))
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestVerifiersAcceptValidSignatures(t *testing.T) {
	verifiers := DefaultVerifiers()
	tests := []struct {
		name  string
		chain Chain
		sign  func(*testing.T, string) (string, string)
	}{
		{"solana", ChainSolana, signSolana},
		{"stellar", ChainStellar, signStellar},
		{"evm", ChainEVM, signEVM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, sig := tt.sign(t, testMessage)

			chain, err := verifiers.Verify("", pub, testMessage, sig)
			if err != nil {
				t.Fatalf("verify with detected chain: %v", err)
			}
			if chain != tt.chain {
				t.Fatalf("detected %q, want %q", chain, tt.chain)
			}
			if _, err := verifiers.Verify(tt.chain, pub, testMessage, sig); err != nil {
				t.Fatalf("verify with explicit chain: %v", err)
			}
		})
	}
}

func TestVerifiersRequireExactMessage(t *testing.T) {
	verifiers := DefaultVerifiers()
	altered := testMessage + " "

	for name, sign := range map[string]func(*testing.T, string) (string, string){
		"solana":  signSolana,
		"stellar": signStellar,
		"evm":     signEVM,
	} {
		t.Run(name, func(t *testing.T) {
			pub, sig := sign(t, testMessage)
			if _, err := verifiers.Verify("", pub, altered, sig); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected ErrInvalidSignature for altered message, got %v", err)
			}
		})
	}
}

func TestVerifiersRejectForeignSigner(t *testing.T) {
	pubA, _ := signSolana(t, testMessage)
	_, sigB := signSolana(t, testMessage)
	if err := (SolanaVerifier{}).Verify(pubA, testMessage, sigB); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("solana: expected ErrInvalidSignature, got %v", err)
	}

	addrA, _ := signEVM(t, testMessage)
	_, sigB = signEVM(t, testMessage)
	if err := (EVMVerifier{}).Verify(addrA, testMessage, sigB); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("evm: expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifiersRejectMalformedInput(t *testing.T) {
	tests := []struct {
		name     string
		verifier Verifier
		pub, sig string
		want     error
	}{
		{"solana bad key", SolanaVerifier{}, "not-base58-0OIl", "x", ErrInvalidPublicKey},
		{"stellar bad key", StellarVerifier{}, "GABC", "x", ErrInvalidPublicKey},
		{"evm bad key", EVMVerifier{}, "0x1234", "0x00", ErrInvalidPublicKey},
		{"evm short signature", EVMVerifier{}, "0x00000000000000000000000000000000000000aa", "0x1234", ErrInvalidSignature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.verifier.Verify(tt.pub, testMessage, tt.sig); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUnsupportedChain(t *testing.T) {
	if _, err := DefaultVerifiers().Verify("cosmos", "x", testMessage, "y"); !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
	if _, err := ParseChain("bitcoin"); !errors.Is(err, ErrUnsupportedChain) {
		t.Fatalf("expected ErrUnsupportedChain, got %v", err)
	}
	if c, err := ParseChain(" EVM "); err != nil || c != ChainEVM {
		t.Fatalf("ParseChain(EVM) = %q, %v", c, err)
	}
}
