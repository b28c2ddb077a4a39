package market

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

const (
	// TimeExpiryNone means the market never expires.
	TimeExpiryNone int64 = 0
	// TimeExpiryExpired is written by SetExpired and bars new orders for good.
	TimeExpiryExpired int64 = -1

	// FeesScale is the fixed-point scale of MakerFee and TakerFee.
	FeesScale = 1_000_000

	MaxNameLen = 16
)

// MarketStatus is derived from expiry and the closed flag.
type MarketStatus int8

const (
	Active MarketStatus = iota // Accepting orders
	Expired                    // Cancel and prune only
	Closed                     // Book drained and market closed by admin
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Expired:
		return "Expired"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Params configures a new spot market.
type Params struct {
	BaseLotSize      int64
	QuoteLotSize     int64
	BaseDecimals     uint8
	QuoteDecimals    uint8
	MakerFee         int64 // 1e-6, negative is a rebate
	TakerFee         int64 // 1e-6
	TimeExpiry       int64
	CloseMarketAdmin common.Address // zero disables SetExpired and pruning
}

// Market is the read-mostly market account consulted by the book.
type Market struct {
	Address common.Address
	Name    string

	// Lot sizes in native units. Prices are quote lots per base lot.
	BaseLotSize   int64
	QuoteLotSize  int64
	BaseDecimals  uint8
	QuoteDecimals uint8

	MakerFee int64
	TakerFee int64

	// 0 never expires, >0 expires at that unix second, -1 expired by admin.
	TimeExpiry       int64
	CloseMarketAdmin common.Address
	Closed           bool

	// SeqNum is the last issued order sequence number.
	SeqNum uint64
}

// DeriveAddress is the market identity for name.
func DeriveAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("Market"), []byte(name))[12:])
}

// NewMarket creates a market with validation.
func NewMarket(name string, params Params) (*Market, error) {
	m := &Market{
		Address:          DeriveAddress(name),
		Name:             name,
		BaseLotSize:      params.BaseLotSize,
		QuoteLotSize:     params.QuoteLotSize,
		BaseDecimals:     params.BaseDecimals,
		QuoteDecimals:    params.QuoteDecimals,
		MakerFee:         params.MakerFee,
		TakerFee:         params.TakerFee,
		TimeExpiry:       params.TimeExpiry,
		CloseMarketAdmin: params.CloseMarketAdmin,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// Validate checks market parameter sanity.
func (m *Market) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: market name cannot be empty", core.ErrInvalidInput)
	}
	if len(m.Name) > MaxNameLen {
		return fmt.Errorf("%w: market name %q", core.ErrInvalidNameLength, m.Name)
	}
	if m.BaseLotSize <= 0 || m.QuoteLotSize <= 0 {
		return fmt.Errorf("%w: lot sizes must be positive", core.ErrInvalidInput)
	}
	if m.TakerFee < 0 {
		return fmt.Errorf("%w: taker fee cannot be negative", core.ErrInvalidInput)
	}
	if m.MakerFee < -m.TakerFee {
		return fmt.Errorf("%w: maker rebate exceeds taker fee", core.ErrInvalidInput)
	}
	if m.TakerFee >= FeesScale || m.MakerFee >= FeesScale {
		return fmt.Errorf("%w: fees must be below 100%%", core.ErrInvalidInput)
	}
	if m.TimeExpiry < TimeExpiryExpired {
		return fmt.Errorf("%w: time expiry %d", core.ErrInvalidInput, m.TimeExpiry)
	}
	return nil
}

// IsExpired treats an elapsed expiry the same as the admin sentinel.
func (m *Market) IsExpired(now int64) bool {
	switch {
	case m.TimeExpiry == TimeExpiryExpired:
		return true
	case m.TimeExpiry == TimeExpiryNone:
		return false
	default:
		return now >= m.TimeExpiry
	}
}

func (m *Market) Status(now int64) MarketStatus {
	switch {
	case m.Closed:
		return Closed
	case m.IsExpired(now):
		return Expired
	default:
		return Active
	}
}

// CheckOpen gates order placement.
func (m *Market) CheckOpen(now int64) error {
	if m.Closed || m.IsExpired(now) {
		return fmt.Errorf("%w: %s", core.ErrMarketExpired, m.Name)
	}
	return nil
}

// CheckExpired gates pruning and closing.
func (m *Market) CheckExpired(now int64) error {
	if !m.IsExpired(now) {
		return fmt.Errorf("%w: %s", core.ErrMarketNotExpired, m.Name)
	}
	return nil
}

func (m *Market) HasCloseAdmin() bool { return m.CloseMarketAdmin != (common.Address{}) }

// IsCloseAdmin is the authorization check for the pruning exception.
func (m *Market) IsCloseAdmin(caller common.Address) bool {
	return m.HasCloseAdmin() && caller == m.CloseMarketAdmin
}

// CheckCloseAdmin returns why caller may not act as close admin.
func (m *Market) CheckCloseAdmin(caller common.Address) error {
	if !m.HasCloseAdmin() {
		return core.ErrNoCloseMarketAdmin
	}
	if caller != m.CloseMarketAdmin {
		return core.ErrInvalidCloseAdmin
	}
	return nil
}

// SetExpired moves the market to the expired sentinel. Only the close admin
// may do this, and only once.
func (m *Market) SetExpired(caller common.Address, now int64) error {
	if err := m.CheckCloseAdmin(caller); err != nil {
		return err
	}
	if m.IsExpired(now) {
		return fmt.Errorf("%w: %s already expired", core.ErrMarketExpired, m.Name)
	}
	m.TimeExpiry = TimeExpiryExpired
	return nil
}

// GenOrderID issues the next order id.
func (m *Market) GenOrderID() core.OrderID {
	m.SeqNum++
	return core.OrderIDFromSeq(m.SeqNum)
}

// PriceLotsToUI converts a price in lots to quote units per base unit.
func (m *Market) PriceLotsToUI(priceLots int64) decimal.Decimal {
	return decimal.NewFromInt(priceLots).
		Mul(decimal.NewFromInt(m.QuoteLotSize)).
		Div(decimal.NewFromInt(m.BaseLotSize)).
		Shift(int32(m.BaseDecimals) - int32(m.QuoteDecimals))
}

// BaseLotsToUI converts a quantity in base lots to base units.
func (m *Market) BaseLotsToUI(baseLots int64) decimal.Decimal {
	return decimal.NewFromInt(baseLots).
		Mul(decimal.NewFromInt(m.BaseLotSize)).
		Shift(-int32(m.BaseDecimals))
}

// Clone returns an independent copy.
func (m *Market) Clone() *Market {
	c := *m
	return &c
}
