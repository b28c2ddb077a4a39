package transaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/crypto"
)

// Kind names an instruction.
type Kind string

const (
	KindCreateIndexer    Kind = "create_open_orders_indexer"
	KindCloseIndexer     Kind = "close_open_orders_indexer"
	KindCreateAccount    Kind = "create_open_orders_account"
	KindCloseAccount     Kind = "close_open_orders_account"
	KindSetDelegate      Kind = "set_delegate"
	KindPlaceOrder       Kind = "place_order"
	KindEditOrder        Kind = "edit_order"
	KindCancelOrder      Kind = "cancel_order"
	KindCancelByClientID Kind = "cancel_order_by_client_order_id"
	KindCancelAllOrders  Kind = "cancel_all_orders"
	KindSetMarketExpired Kind = "set_market_expired"
	KindPruneOrders      Kind = "prune_orders"
	KindCloseMarket      Kind = "close_market"
	KindCancelAndPlace   Kind = "cancel_and_place_orders"
)

// Kinds lists every instruction kind.
var Kinds = []Kind{
	KindCreateIndexer, KindCloseIndexer, KindCreateAccount, KindCloseAccount,
	KindSetDelegate, KindPlaceOrder, KindEditOrder, KindCancelOrder,
	KindCancelByClientID, KindCancelAllOrders, KindSetMarketExpired,
	KindPruneOrders, KindCloseMarket, KindCancelAndPlace,
}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsCancel reports kinds that only take liquidity off the book.
func (k Kind) IsCancel() bool {
	switch k {
	case KindCancelOrder, KindCancelByClientID, KindCancelAllOrders, KindPruneOrders:
		return true
	}
	return false
}

// IsPlacement reports kinds that rest new orders.
func (k Kind) IsPlacement() bool {
	return k == KindPlaceOrder || k == KindEditOrder || k == KindCancelAndPlace
}

// Instruction is the signed envelope submitted by traders.
//
//	{
//	  "kind": "place_order",
//	  "market": "SOL-USDC",
//	  "nonce": "7",
//	  "signer": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//	  "body": {"account": "0x...", "side": "bid", "price": 150000, "quantity": 10},
//	  "signature": "0x..."
//	}
type Instruction struct {
	Kind      Kind            `json:"kind"`
	Market    string          `json:"market"`
	Nonce     string          `json:"nonce"`
	Signer    string          `json:"signer"`
	Body      json.RawMessage `json:"body"`
	Signature string          `json:"signature"`
}

// Instruction bodies. Account is the open orders record address.

type CreateIndexerBody struct{}

type CloseIndexerBody struct{}

type CreateAccountBody struct {
	Name     string `json:"name"`
	Delegate string `json:"delegate,omitempty"`
}

type CloseAccountBody struct {
	Account string `json:"account"`
}

type SetDelegateBody struct {
	Account  string `json:"account"`
	Delegate string `json:"delegate"` // empty removes the delegate
}

type PlaceOrderBody struct {
	Account       string `json:"account"`
	Side          string `json:"side"`
	Price         int64  `json:"price"`    // quote lots per base lot
	Quantity      int64  `json:"quantity"` // base lots
	ClientOrderID uint64 `json:"client_order_id,omitempty"`
}

// EditOrderBody cancels the order carrying ClientOrderID and places
// Place sized down by whatever part of ExpectedCancelSize already filled.
type EditOrderBody struct {
	Account            string         `json:"account"`
	ClientOrderID      uint64         `json:"client_order_id"`
	ExpectedCancelSize int64          `json:"expected_cancel_size"`
	Place              PlaceOrderBody `json:"place"`
}

// CancelAndPlaceBody optionally cancels every order of Account, then the
// listed order ids, then places Orders. Ids no longer resting are skipped.
type CancelAndPlaceBody struct {
	Account   string           `json:"account"`
	CancelAll bool             `json:"cancel_all,omitempty"`
	OrderIDs  []core.OrderID   `json:"order_ids,omitempty"`
	Orders    []PlaceOrderBody `json:"orders"`
}

type CancelOrderBody struct {
	Account string       `json:"account"`
	OrderID core.OrderID `json:"order_id"`
	Side    string       `json:"side,omitempty"`
}

type CancelByClientIDBody struct {
	Account       string `json:"account"`
	ClientOrderID uint64 `json:"client_order_id"`
}

type CancelAllOrdersBody struct {
	Account string `json:"account"`
	Limit   uint8  `json:"limit"`
	Side    string `json:"side,omitempty"`
}

type SetMarketExpiredBody struct{}

type PruneOrdersBody struct {
	Account string `json:"account"`
	Limit   uint8  `json:"limit"`
}

type CloseMarketBody struct{}

// NewInstruction builds an unsigned envelope around body.
func NewInstruction(kind Kind, market string, nonce uint64, signer common.Address, body any) (*Instruction, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s body: %w", kind, err)
	}
	return &Instruction{
		Kind:   kind,
		Market: market,
		Nonce:  strconv.FormatUint(nonce, 10),
		Signer: signer.Hex(),
		Body:   raw,
	}, nil
}

// Serialize converts the instruction to JSON bytes
func (ix *Instruction) Serialize() ([]byte, error) {
	return json.Marshal(ix)
}

// Deserialize parses JSON bytes into an Instruction
func Deserialize(data []byte) (*Instruction, error) {
	var ix Instruction
	if err := json.Unmarshal(data, &ix); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instruction: %w", err)
	}
	return &ix, nil
}

// NonceValue parses the decimal nonce.
func (ix *Instruction) NonceValue() (uint64, error) {
	n, err := strconv.ParseUint(ix.Nonce, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: nonce %q", core.ErrInvalidInput, ix.Nonce)
	}
	return n, nil
}

func (ix *Instruction) SignerAddress() common.Address { return common.HexToAddress(ix.Signer) }

// CompactBody is the exact string covered by the signature.
func (ix *Instruction) CompactBody() (string, error) {
	if len(ix.Body) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, ix.Body); err != nil {
		return "", fmt.Errorf("%w: body is not JSON: %v", core.ErrInvalidInput, err)
	}
	return buf.String(), nil
}

// ToEIP712 converts the envelope to its typed-data form.
func (ix *Instruction) ToEIP712() (*crypto.InstructionEIP712, error) {
	nonce, err := ix.NonceValue()
	if err != nil {
		return nil, err
	}
	body, err := ix.CompactBody()
	if err != nil {
		return nil, err
	}
	return &crypto.InstructionEIP712{
		Kind:   string(ix.Kind),
		Market: ix.Market,
		Body:   body,
		Nonce:  new(big.Int).SetUint64(nonce),
		Signer: ix.SignerAddress(),
	}, nil
}

// Validate performs basic validation on envelope structure
func (ix *Instruction) Validate() error {
	if !ix.Kind.Valid() {
		return fmt.Errorf("%w: unknown instruction kind %q", core.ErrInvalidInput, ix.Kind)
	}
	if ix.Market == "" {
		return fmt.Errorf("%w: missing market", core.ErrInvalidInput)
	}
	if !common.IsHexAddress(ix.Signer) {
		return fmt.Errorf("%w: bad signer %q", core.ErrInvalidInput, ix.Signer)
	}
	if _, err := ix.NonceValue(); err != nil {
		return err
	}
	if ix.Signature == "" {
		return fmt.Errorf("%w: missing signature", core.ErrInvalidInput)
	}
	return nil
}

// DecodeBody unmarshals the body into dst, rejecting unknown fields.
func (ix *Instruction) DecodeBody(dst any) error {
	if len(ix.Body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(ix.Body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %s body: %v", core.ErrInvalidInput, ix.Kind, err)
	}
	return nil
}

// ParseInstruction decodes and validates a raw envelope.
func ParseInstruction(data []byte) (*Instruction, error) {
	ix, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if err := ix.Validate(); err != nil {
		return nil, fmt.Errorf("invalid instruction: %w", err)
	}
	return ix, nil
}

// ParseAddress parses a required hex address field.
func ParseAddress(field, v string) (common.Address, error) {
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", core.ErrInvalidInput, field, v)
	}
	return common.HexToAddress(v), nil
}

// ParseOptionalAddress maps an empty string to the zero address.
func ParseOptionalAddress(field, v string) (common.Address, error) {
	if v == "" {
		return common.Address{}, nil
	}
	return ParseAddress(field, v)
}

// ParseOptionalSide maps an empty string to nil.
func ParseOptionalSide(v string) (*core.Side, error) {
	if v == "" {
		return nil, nil
	}
	s, err := core.ParseSide(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
