package wallet

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// SolanaVerifier checks detached Ed25519 signatures. Public key and
// signature are both base58 encoded, as wallets return them.
type SolanaVerifier struct{}

func (SolanaVerifier) Verify(publicKey, message, signature string) error {
	pub, err := base58.Decode(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: expected base58 ed25519 key", ErrInvalidPublicKey)
	}
	sig, err := base58.Decode(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: expected base58 ed25519 signature", ErrInvalidSignature)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig) {
		return ErrInvalidSignature
	}
	return nil
}
