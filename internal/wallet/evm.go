package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVMVerifier checks EIP-191 personal_sign signatures by recovering the
// signer address and comparing it with publicKey.
type EVMVerifier struct{}

func (EVMVerifier) Verify(publicKey, message, signature string) error {
	if !common.IsHexAddress(publicKey) {
		return fmt.Errorf("%w: expected 0x address", ErrInvalidPublicKey)
	}
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if recovered != common.HexToAddress(publicKey) {
		return ErrInvalidSignature
	}
	return nil
}

// RecoverAddress returns the address that produced a 65-byte personal_sign
// signature over message.
func RecoverAddress(message, signature string) (common.Address, error) {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: expected 65-byte hex", ErrInvalidSignature)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accountsTextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func accountsTextHash(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}
