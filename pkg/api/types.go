package api

import "github.com/shopspring/decimal"

// API response types for REST endpoints and WebSocket messages.
// Raw integers are in lots; the *UI fields are the same values converted to
// token units with the market's lot sizes and decimals.

// ==============================
// REST Response Types
// ==============================

type MarketInfo struct {
	Symbol           string          `json:"symbol"`
	Address          string          `json:"address"`
	Status           string          `json:"status"` // "Active", "Expired", "Closed"
	BaseLotSize      int64           `json:"baseLotSize"`
	QuoteLotSize     int64           `json:"quoteLotSize"`
	BaseDecimals     uint8           `json:"baseDecimals"`
	QuoteDecimals    uint8           `json:"quoteDecimals"`
	TickSizeUI       decimal.Decimal `json:"tickSizeUi"` // price of one lot
	LotSizeUI        decimal.Decimal `json:"lotSizeUi"`  // size of one lot
	MakerFee         int64           `json:"makerFee"`   // 1e-6, negative is a rebate
	TakerFee         int64           `json:"takerFee"`
	TimeExpiry       int64           `json:"timeExpiry"`
	CloseMarketAdmin string          `json:"closeMarketAdmin,omitempty"`
	SeqNum           uint64          `json:"seqNum"`
}

type OrderbookSnapshot struct {
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"` // best (highest) first
	Asks   []PriceLevel `json:"asks"` // best (lowest) first
	Height uint64       `json:"height"`
	Time   int64        `json:"time"` // block time, unix seconds
}

type PriceLevel struct {
	Price   int64           `json:"price"`
	Size    int64           `json:"size"`
	Orders  int             `json:"orders"`
	PriceUI decimal.Decimal `json:"priceUi"`
	SizeUI  decimal.Decimal `json:"sizeUi"`
}

// OrderInfo is a resting order.
type OrderInfo struct {
	ID            string          `json:"id"`
	ClientOrderID uint64          `json:"clientOrderId"`
	Account       string          `json:"account"`
	Side          string          `json:"side"`
	Price         int64           `json:"price"`
	Size          int64           `json:"size"`
	PriceUI       decimal.Decimal `json:"priceUi"`
	SizeUI        decimal.Decimal `json:"sizeUi"`
	Timestamp     int64           `json:"timestamp"`
}

// AccountInfo is an open orders record.
type AccountInfo struct {
	Address      string     `json:"address"`
	Owner        string     `json:"owner"`
	Market       string     `json:"market"`
	Delegate     string     `json:"delegate,omitempty"`
	Name         string     `json:"name"`
	AccountNum   uint32     `json:"accountNum"`
	BidsBaseLots int64      `json:"bidsBaseLots"`
	AsksBaseLots int64      `json:"asksBaseLots"`
	Slots        []SlotInfo `json:"slots"` // occupied slots only
}

type SlotInfo struct {
	Slot          int    `json:"slot"`
	OrderID       string `json:"orderId"`
	ClientOrderID uint64 `json:"clientOrderId"`
	Side          string `json:"side"`
	LockedPrice   int64  `json:"lockedPrice"`
}

type IndexerInfo struct {
	Address        string   `json:"address"`
	Owner          string   `json:"owner"`
	Market         string   `json:"market"`
	CreatedCounter uint32   `json:"createdCounter"`
	ClosedCounter  uint32   `json:"closedCounter"`
	Accounts       []string `json:"accounts"`
}

type NonceInfo struct {
	Signer string `json:"signer"`
	Nonce  uint64 `json:"nonce"` // last accepted; the next must be larger
}

type ChainStatus struct {
	Height      uint64 `json:"height"`
	AppHash     string `json:"appHash"`
	BlockTime   int64  `json:"blockTime"`
	MempoolSize int    `json:"mempoolSize"`
}

// SubmitResponse acknowledges an instruction queued for the next block.
// Acceptance only means the envelope and signature are valid.
type SubmitResponse struct {
	Status string `json:"status"` // "queued"
	Hash   string `json:"hash"`   // keccak256 of the submitted bytes
	Kind   string `json:"kind"`
	Signer string `json:"signer"`
	Nonce  string `json:"nonce"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g. ["orderbook:SOL-USDC", "blocks"]
}

// OrderbookUpdate is pushed for every market whose book a block changed.
type OrderbookUpdate struct {
	Type   string       `json:"type"` // "orderbook"
	Symbol string       `json:"symbol"`
	Bids   []PriceLevel `json:"bids"`
	Asks   []PriceLevel `json:"asks"`
	Height uint64       `json:"height"`
	Time   int64        `json:"time"`
}

// BlockUpdate is pushed on the "blocks" channel after every block.
type BlockUpdate struct {
	Type     string     `json:"type"` // "block"
	Height   uint64     `json:"height"`
	Time     int64      `json:"time"`
	AppHash  string     `json:"appHash"`
	Results  []TxResult `json:"results"`
	Markets  []string   `json:"markets"`
	Rejected int        `json:"rejected"`
}

type TxResult struct {
	Code uint32 `json:"code"`
	Log  string `json:"log"`
}
