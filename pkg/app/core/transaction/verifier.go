package transaction

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/crypto"
)

// ErrBadSignature is returned when a signature does not recover to the
// claimed signer.
var ErrBadSignature = errors.New("signature invalid")

// Verifier handles instruction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify checks the envelope signature and returns the signer.
func (v *Verifier) Verify(ix *Instruction) (common.Address, error) {
	typed, err := ix.ToEIP712()
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid instruction format: %w", err)
	}
	sigBytes, err := decodeSignature(ix.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	valid, err := v.eip712Signer.VerifyInstructionSignature(typed, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !valid {
		return common.Address{}, ErrBadSignature
	}
	return typed.Signer, nil
}

// Sign fills ix.Signer and ix.Signature using signer's key.
func (v *Verifier) Sign(signer *crypto.Signer, ix *Instruction) error {
	ix.Signer = signer.Address().Hex()
	typed, err := ix.ToEIP712()
	if err != nil {
		return err
	}
	sig, err := v.eip712Signer.SignInstruction(signer, typed)
	if err != nil {
		return err
	}
	ix.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}
	return sigBytes, nil
}
