package wallet

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/stellar/go-stellar-sdk/keypair"
)

// StellarVerifier checks Ed25519 signatures from G... account keys. The
// signature may be base64 or hex encoded.
type StellarVerifier struct{}

func (StellarVerifier) Verify(publicKey, message, signature string) error {
	kp, err := keypair.ParseAddress(publicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return err
	}
	if err := kp.Verify([]byte(message), sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func decodeSignature(s string) ([]byte, error) {
	if sig, err := hex.DecodeString(s); err == nil && len(sig) == 64 {
		return sig, nil
	}
	if sig, err := base64.StdEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	return nil, fmt.Errorf("%w: expected base64 or hex", ErrInvalidSignature)
}
