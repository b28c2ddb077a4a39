package orderbook

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
)

// Book is one market's bid and ask trees over a shared slab. The slab and
// both trees only change together through Book methods.
type Book struct {
	Market common.Address

	slab *Slab
	bids *OrderTree
	asks *OrderTree

	log *zap.SugaredLogger
}

func NewBook(marketAddr common.Address, capacity int, log *zap.SugaredLogger) *Book {
	return newBookWithSlab(marketAddr, NewSlab(capacity), Root{}, Root{}, log)
}

// RestoreBook rebuilds a book from persisted parts.
func RestoreBook(marketAddr common.Address, slab *Slab, bids, asks Root, log *zap.SugaredLogger) *Book {
	return newBookWithSlab(marketAddr, slab, bids, asks, log)
}

func newBookWithSlab(marketAddr common.Address, slab *Slab, bids, asks Root, log *zap.SugaredLogger) *Book {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Book{
		Market: marketAddr,
		slab:   slab,
		bids:   newOrderTree(core.Bid, slab),
		asks:   newOrderTree(core.Ask, slab),
		log:    log,
	}
	b.bids.root = bids
	b.asks.root = asks
	return b
}

func (b *Book) Slab() *Slab      { return b.slab }
func (b *Book) Bids() *OrderTree { return b.bids }
func (b *Book) Asks() *OrderTree { return b.asks }

func (b *Book) Tree(side core.Side) *OrderTree {
	if side == core.Bid {
		return b.bids
	}
	return b.asks
}

// IsEmpty is required before a market may be closed.
func (b *Book) IsEmpty() bool { return b.bids.IsEmpty() && b.asks.IsEmpty() }

// BestPrice returns the best resting price on side.
func (b *Book) BestPrice(side core.Side) (int64, bool) {
	t := b.Tree(side)
	h, ok := t.Best()
	if !ok {
		return 0, false
	}
	return t.Leaf(h).Price, true
}

// Clone deep-copies the book so a failed instruction can be discarded.
func (b *Book) Clone() *Book {
	return newBookWithSlab(b.Market, b.slab.Clone(), b.bids.root, b.asks.root, b.log)
}

// NewOrder is a post-only limit order request.
type NewOrder struct {
	Side          core.Side
	Price         int64
	Quantity      int64
	ClientOrderID uint64
}

// PlaceOrder rests a post-only order and records it in oo. Every check runs
// before the first mutation, so a rejected order leaves book, record and
// market untouched.
func (b *Book) PlaceOrder(oo *openorders.Record, m *market.Market, req NewOrder, now int64) (LeafNode, error) {
	if err := m.CheckOpen(now); err != nil {
		return LeafNode{}, err
	}
	if oo.Market != m.Address || b.Market != m.Address {
		return LeafNode{}, core.ErrMarketMismatch
	}
	if !req.Side.Valid() {
		return LeafNode{}, fmt.Errorf("%w: side %d", core.ErrInvalidInput, req.Side)
	}
	if req.Price <= 0 {
		return LeafNode{}, core.ErrInvalidPrice
	}
	if req.Quantity <= 0 {
		return LeafNode{}, core.ErrInvalidQuantity
	}
	if !oo.Position.HasRoomFor(req.Side, req.Quantity) {
		return LeafNode{}, fmt.Errorf("%w: %s total would overflow", core.ErrInvalidQuantity, req.Side)
	}
	if best, ok := b.BestPrice(req.Side.Opposite()); ok {
		if (req.Side == core.Bid && req.Price >= best) || (req.Side == core.Ask && req.Price <= best) {
			return LeafNode{}, fmt.Errorf("%w: %s at %d against best %d", core.ErrWouldCross, req.Side, req.Price, best)
		}
	}
	slot, err := oo.NextOrderSlot()
	if err != nil {
		return LeafNode{}, err
	}
	tree := b.Tree(req.Side)
	if !tree.HasRoom() {
		return LeafNode{}, core.ErrTreeFull
	}

	leaf := LeafNode{
		OrderID:       m.GenOrderID(),
		Owner:         oo.Address,
		OwnerSlot:     uint8(slot),
		ClientOrderID: req.ClientOrderID,
		Side:          req.Side,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Timestamp:     now,
	}
	if _, err := tree.Insert(leaf); err != nil {
		return LeafNode{}, err
	}
	if err := oo.AddOrder(slot, leaf.Side, leaf.OrderID, leaf.ClientOrderID, leaf.Price, leaf.Quantity); err != nil {
		return LeafNode{}, err
	}
	return leaf, nil
}

// CancelOrder removes one of oo's orders from the book and frees its slot.
//
// The order is located through oo's slot when present, otherwise by
// scanning sideHint's tree (both trees when sideHint is nil). When
// expectedOwner is set the order must belong to that record. Every check
// runs before the first mutation.
func (b *Book) CancelOrder(oo *openorders.Record, id core.OrderID, sideHint *core.Side, expectedOwner *common.Address) (LeafNode, error) {
	if id.IsZero() {
		return LeafNode{}, core.ErrInvalidOrderID
	}

	var (
		tree  *OrderTree
		h     NodeHandle
		found bool
	)
	if slot, ok := oo.FindOrderWithOrderID(id); ok {
		s := oo.Order(slot)
		tree = b.Tree(s.Side)
		h, found = tree.Lookup(s.LockedPrice, id)
	} else {
		for _, side := range sidesToSearch(sideHint) {
			tree = b.Tree(side)
			if h, found = tree.Find(id); found {
				break
			}
		}
	}
	if !found {
		return LeafNode{}, fmt.Errorf("%w: %s", core.ErrOrderNotFound, id)
	}

	leaf := tree.Leaf(h)
	if expectedOwner != nil && leaf.Owner != *expectedOwner {
		return LeafNode{}, fmt.Errorf("%w: order %s", core.ErrNotOwner, id)
	}
	if leaf.Owner != oo.Address {
		return LeafNode{}, fmt.Errorf("%w: order %s", core.ErrOrderOwnerMismatch, id)
	}
	slot := int(leaf.OwnerSlot)
	if slot >= openorders.MaxOpenOrders || oo.Order(slot).IsFree || oo.Order(slot).ID != id {
		return LeafNode{}, fmt.Errorf("%w: order %s has no matching slot", core.ErrOrderNotFound, id)
	}

	removed, err := tree.Remove(h)
	if err != nil {
		return LeafNode{}, err
	}
	if err := oo.RemoveOrder(slot, removed.Quantity); err != nil {
		return LeafNode{}, err
	}
	return removed, nil
}

func sidesToSearch(hint *core.Side) []core.Side {
	if hint != nil {
		return []core.Side{*hint}
	}
	return []core.Side{core.Bid, core.Ask}
}

// CancelAllOrders cancels oo's orders in slot order.
//
// Slots are filtered by side and client order id. Each matching slot uses
// up one unit of limit; with a client order id filter at most one order is
// cancelled. A slot whose order is already gone from the book is logged
// and skipped. The result is the remaining quantity of the last cancelled
// order, zero if none was cancelled.
func (b *Book) CancelAllOrders(oo *openorders.Record, limit uint8, sideFilter *core.Side, clientIDFilter *uint64) (int64, error) {
	var remaining int64
	for i := 0; i < openorders.MaxOpenOrders; i++ {
		s := oo.Order(i)
		if s.IsFree {
			continue
		}
		if sideFilter != nil && s.Side != *sideFilter {
			continue
		}
		if clientIDFilter != nil && s.ClientID != *clientIDFilter {
			continue
		}
		if limit == 0 {
			b.log.Debugw("cancel_all_limit_reached", "open_orders", oo.Address.Hex())
			break
		}
		limit--

		side := s.Side
		removed, err := b.CancelOrder(oo, s.ID, &side, nil)
		switch {
		case errors.Is(err, core.ErrOrderNotFound):
			b.log.Warnw("cancel_skipped_missing_order",
				"open_orders", oo.Address.Hex(),
				"order_id", s.ID.String(),
				"slot", i)
		case err != nil:
			return 0, err
		default:
			remaining = removed.Quantity
		}

		if clientIDFilter != nil {
			break
		}
	}
	return remaining, nil
}

// PruneOrders lets the market's close admin cancel up to limit of any
// trader's orders once the market has expired. It returns the number of
// orders removed.
func (b *Book) PruneOrders(oo *openorders.Record, m *market.Market, caller common.Address, limit uint8, now int64) (int, error) {
	if err := m.CheckCloseAdmin(caller); err != nil {
		return 0, err
	}
	if err := m.CheckExpired(now); err != nil {
		return 0, err
	}
	if oo.Market != m.Address || b.Market != m.Address {
		return 0, core.ErrMarketMismatch
	}
	before := oo.OpenOrderCount()
	if _, err := b.CancelAllOrders(oo, limit, nil, nil); err != nil {
		return 0, err
	}
	pruned := before - oo.OpenOrderCount()
	b.log.Infow("orders_pruned",
		"market", m.Name,
		"open_orders", oo.Address.Hex(),
		"pruned", pruned)
	return pruned, nil
}
