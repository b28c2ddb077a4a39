package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string         // Protocol name
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // zero for off-chain signing
}

// InstructionEIP712 is what a trader signs for every instruction. Body is
// the compact JSON of the instruction arguments; signing it verbatim keeps
// one typed struct for all instruction kinds.
type InstructionEIP712 struct {
	Kind   string
	Market string
	Body   string
	Nonce  *big.Int
	Signer common.Address
}

// EIP712Signer handles EIP-712 typed data signing for instructions
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// DefaultDomain is the local devnet domain.
func DefaultDomain() EIP712Domain {
	return DomainForChain(1337)
}

func DomainForChain(chainID int64) EIP712Domain {
	return EIP712Domain{
		Name:              "HyperBook",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: common.Address{},
	}
}

var instructionTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Instruction": []apitypes.Type{
		{Name: "kind", Type: "string"},
		{Name: "market", Type: "string"},
		{Name: "body", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "signer", Type: "address"},
	},
}

func (e *EIP712Signer) typedData(ix *InstructionEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       instructionTypes,
		PrimaryType: "Instruction",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"kind":   ix.Kind,
			"market": ix.Market,
			"body":   ix.Body,
			"nonce":  ix.Nonce.String(),
			"signer": ix.Signer.Hex(),
		},
	}
}

// HashInstruction returns the digest that should be signed:
// keccak256("\x19\x01" || domainSeparator || hashStruct(instruction)).
func (e *EIP712Signer) HashInstruction(ix *InstructionEIP712) ([]byte, error) {
	if ix.Nonce == nil {
		return nil, fmt.Errorf("instruction nonce is nil")
	}
	typedData := e.typedData(ix)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := make([]byte, 0, 2+len(domainSeparator)+len(typedDataHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, typedDataHash...)
	return crypto.Keccak256(rawData), nil
}

// SignInstruction signs an instruction and returns the 65-byte signature.
func (e *EIP712Signer) SignInstruction(signer *Signer, ix *InstructionEIP712) ([]byte, error) {
	hash, err := e.HashInstruction(ix)
	if err != nil {
		return nil, fmt.Errorf("failed to hash instruction: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign instruction: %w", err)
	}
	return signature, nil
}

// VerifyInstructionSignature reports whether signature was made by
// ix.Signer over ix.
func (e *EIP712Signer) VerifyInstructionSignature(ix *InstructionEIP712, signature []byte) (bool, error) {
	recovered, err := e.RecoverInstructionSigner(ix, signature)
	if err != nil {
		return false, err
	}
	return recovered == ix.Signer, nil
}

func (e *EIP712Signer) RecoverInstructionSigner(ix *InstructionEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashInstruction(ix)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash instruction: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// InstructionToJSON renders the typed data in the shape wallets expect for
// eth_signTypedData_v4.
func (e *EIP712Signer) InstructionToJSON(ix *InstructionEIP712) (string, error) {
	typedData := e.typedData(ix)
	jsonBytes, err := json.MarshalIndent(typedData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
