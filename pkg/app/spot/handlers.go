package spot

import (
	"fmt"
	"math"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
	"github.com/uhyunpark/hyperbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperbook/pkg/app/core/transaction"
)

// execCtx carries one instruction through its handler. Every write goes
// through t, which is discarded if the handler fails.
type execCtx struct {
	t      *txn
	ix     *transaction.Instruction
	signer common.Address
	now    int64
}

type handler func(c *execCtx) (string, error)

var handlers = map[transaction.Kind]handler{
	transaction.KindCreateIndexer:    createIndexer,
	transaction.KindCloseIndexer:     closeIndexer,
	transaction.KindCreateAccount:    createAccount,
	transaction.KindCloseAccount:     closeAccount,
	transaction.KindSetDelegate:      setDelegate,
	transaction.KindPlaceOrder:       placeOrder,
	transaction.KindEditOrder:        editOrder,
	transaction.KindCancelOrder:      cancelOrder,
	transaction.KindCancelByClientID: cancelByClientID,
	transaction.KindCancelAllOrders:  cancelAllOrders,
	transaction.KindSetMarketExpired: setMarketExpired,
	transaction.KindPruneOrders:      pruneOrders,
	transaction.KindCloseMarket:      closeMarket,
	transaction.KindCancelAndPlace:   cancelAndPlace,
}

func (c *execCtx) market() (*market.Market, error) {
	m, ok := c.t.market(c.ix.Market)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMarketNotFound, c.ix.Market)
	}
	return m, nil
}

func (c *execCtx) marketForWrite() (*market.Market, error) {
	m, err := c.t.marketForWrite(c.ix.Market)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, c.ix.Market)
	}
	return m, nil
}

func (c *execCtx) bookForWrite(m *market.Market) (*orderbook.Book, error) {
	return c.t.bookForWrite(m.Address)
}

type authMode int

const (
	authOwner authMode = iota
	authOwnerOrDelegate
	authNone // caller is checked by the operation itself
)

// record fetches a writable record of the instruction's market and checks
// the signer against mode.
func (c *execCtx) record(account string, m *market.Market, mode authMode) (*openorders.Record, error) {
	addr, err := transaction.ParseAddress("account", account)
	if err != nil {
		return nil, err
	}
	rec, err := c.t.recordForWrite(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, addr.Hex())
	}
	if rec.Market != m.Address {
		return nil, core.ErrMarketMismatch
	}
	switch mode {
	case authOwner:
		if c.signer != rec.Owner {
			return nil, ErrOwnerOnly
		}
	case authOwnerOrDelegate:
		if !rec.IsOwnerOrDelegate(c.signer) {
			return nil, core.ErrNoOwnerOrDelegate
		}
	}
	return rec, nil
}

func createIndexer(c *execCtx) (string, error) {
	var body transaction.CreateIndexerBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	if m.Closed {
		return "", ErrMarketClosed
	}
	ix := openorders.NewIndexer(c.signer, m.Address)
	if _, exists := c.t.indexer(ix.Address); exists {
		return "", fmt.Errorf("%w: %s", ErrIndexerExists, ix.Address.Hex())
	}
	c.t.putIndexer(ix)
	return "indexer=" + ix.Address.Hex(), nil
}

func closeIndexer(c *execCtx) (string, error) {
	var body transaction.CloseIndexerBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	addr := openorders.DeriveIndexerAddress(c.signer, m.Address)
	ix, ok := c.t.indexerForWrite(addr)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIndexerNotFound, addr.Hex())
	}
	if ix.Owner != c.signer {
		return "", core.ErrIndexerOwnerMismatch
	}
	if !ix.IsEmpty() {
		return "", fmt.Errorf("%w: %d records", core.ErrIndexerNotEmpty, ix.Len())
	}
	c.t.deleteIndexer(addr)
	return "indexer=" + addr.Hex(), nil
}

func createAccount(c *execCtx) (string, error) {
	var body transaction.CreateAccountBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	if m.Closed {
		return "", ErrMarketClosed
	}
	delegate, err := transaction.ParseOptionalAddress("delegate", body.Delegate)
	if err != nil {
		return "", err
	}
	ixAddr := openorders.DeriveIndexerAddress(c.signer, m.Address)
	ix, ok := c.t.indexerForWrite(ixAddr)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIndexerNotFound, ixAddr.Hex())
	}
	num, err := ix.NextAccountNum()
	if err != nil {
		return "", err
	}
	rec, err := openorders.NewRecord(c.signer, m.Address, delegate, body.Name, num)
	if err != nil {
		return "", err
	}
	if _, exists := c.t.record(rec.Address); exists {
		return "", fmt.Errorf("%w: %s", core.ErrDuplicateRecord, rec.Address.Hex())
	}
	if err := ix.Register(rec.Address); err != nil {
		return "", err
	}
	c.t.putRecord(rec)
	return fmt.Sprintf("account=%s num=%d", rec.Address.Hex(), num), nil
}

func closeAccount(c *execCtx) (string, error) {
	var body transaction.CloseAccountBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwner)
	if err != nil {
		return "", err
	}
	if !rec.HasNoOrders() || !rec.Position.IsEmpty() {
		return "", fmt.Errorf("%w: %d open orders", core.ErrRecordNotEmpty, rec.OpenOrderCount())
	}
	ixAddr := openorders.DeriveIndexerAddress(rec.Owner, rec.Market)
	ix, ok := c.t.indexerForWrite(ixAddr)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrIndexerNotFound, ixAddr.Hex())
	}
	if err := ix.Deregister(rec.Address); err != nil {
		return "", err
	}
	c.t.deleteRecord(rec.Address)
	return "account=" + rec.Address.Hex(), nil
}

func setDelegate(c *execCtx) (string, error) {
	var body transaction.SetDelegateBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwner)
	if err != nil {
		return "", err
	}
	delegate, err := transaction.ParseOptionalAddress("delegate", body.Delegate)
	if err != nil {
		return "", err
	}
	rec.SetDelegate(delegate)
	return "delegate=" + delegate.Hex(), nil
}

func (c *execCtx) placeLeaf(rec *openorders.Record, m *market.Market, b *orderbook.Book, body transaction.PlaceOrderBody) (orderbook.LeafNode, error) {
	side, err := core.ParseSide(body.Side)
	if err != nil {
		return orderbook.LeafNode{}, err
	}
	return b.PlaceOrder(rec, m, orderbook.NewOrder{
		Side:          side,
		Price:         body.Price,
		Quantity:      body.Quantity,
		ClientOrderID: body.ClientOrderID,
	}, c.now)
}

func (c *execCtx) place(rec *openorders.Record, m *market.Market, b *orderbook.Book, body transaction.PlaceOrderBody) (string, error) {
	leaf, err := c.placeLeaf(rec, m, b, body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("order_id=%s side=%s price=%d qty=%d", leaf.OrderID, leaf.Side, leaf.Price, leaf.Quantity), nil
}

func placeOrder(c *execCtx) (string, error) {
	var body transaction.PlaceOrderBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.marketForWrite()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwnerOrDelegate)
	if err != nil {
		return "", err
	}
	b, err := c.bookForWrite(m)
	if err != nil {
		return "", err
	}
	return c.place(rec, m, b, body)
}

// editOrder cancels the order carrying ClientOrderID and places the new
// order reduced by whatever part of ExpectedCancelSize was no longer
// resting. A missing order counts as fully filled.
func editOrder(c *execCtx) (string, error) {
	var body transaction.EditOrderBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	if body.Place.Account != "" && body.Place.Account != body.Account {
		return "", ErrEditAccountDiffer
	}
	if body.ExpectedCancelSize < 0 {
		return "", fmt.Errorf("%w: expected cancel size %d", core.ErrInvalidQuantity, body.ExpectedCancelSize)
	}
	m, err := c.marketForWrite()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwnerOrDelegate)
	if err != nil {
		return "", err
	}
	b, err := c.bookForWrite(m)
	if err != nil {
		return "", err
	}

	var remaining int64
	if _, ok := rec.FindOrderWithClientOrderID(body.ClientOrderID); ok {
		cid := body.ClientOrderID
		if remaining, err = b.CancelAllOrders(rec, 1, nil, &cid); err != nil {
			return "", err
		}
	}

	place := body.Place
	if filled := body.ExpectedCancelSize - remaining; filled > 0 {
		place.Quantity -= filled
		if place.Quantity <= 0 {
			return fmt.Sprintf("cancelled=%d placed=none", remaining), nil
		}
	}
	res, err := c.place(rec, m, b, place)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("cancelled=%d %s", remaining, res), nil
}

// cancelAndPlace replaces a batch of quotes in one step. The market must
// still be open before anything is cancelled.
func cancelAndPlace(c *execCtx) (string, error) {
	var body transaction.CancelAndPlaceBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	if len(body.Orders) > openorders.MaxOpenOrders {
		return "", fmt.Errorf("%w: %d orders in one batch", core.ErrInvalidInput, len(body.Orders))
	}
	for _, o := range body.Orders {
		if o.Account != "" && o.Account != body.Account {
			return "", ErrEditAccountDiffer
		}
	}
	m, err := c.marketForWrite()
	if err != nil {
		return "", err
	}
	if err := m.CheckOpen(c.now); err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwnerOrDelegate)
	if err != nil {
		return "", err
	}
	b, err := c.bookForWrite(m)
	if err != nil {
		return "", err
	}

	before := rec.OpenOrderCount()
	if body.CancelAll {
		if _, err := b.CancelAllOrders(rec, math.MaxUint8, nil, nil); err != nil {
			return "", err
		}
	}
	owner := rec.Address
	for _, id := range body.OrderIDs {
		if _, ok := rec.FindOrderWithOrderID(id); !ok {
			continue
		}
		if _, err := b.CancelOrder(rec, id, nil, &owner); err != nil {
			return "", err
		}
	}
	cancelled := before - rec.OpenOrderCount()

	ids := make([]string, 0, len(body.Orders))
	for i, o := range body.Orders {
		leaf, err := c.placeLeaf(rec, m, b, o)
		if err != nil {
			return "", fmt.Errorf("order %d: %w", i, err)
		}
		ids = append(ids, leaf.OrderID.String())
	}
	return fmt.Sprintf("cancelled=%d placed=[%s]", cancelled, strings.Join(ids, ",")), nil
}

func cancelOrder(c *execCtx) (string, error) {
	var body transaction.CancelOrderBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	side, err := transaction.ParseOptionalSide(body.Side)
	if err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwnerOrDelegate)
	if err != nil {
		return "", err
	}
	b, err := c.bookForWrite(m)
	if err != nil {
		return "", err
	}
	leaf, err := b.CancelOrder(rec, body.OrderID, side, nil)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("order_id=%s remaining=%d", leaf.OrderID, leaf.Quantity), nil
}

func cancelByClientID(c *execCtx) (string, error) {
	var body transaction.CancelByClientIDBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwnerOrDelegate)
	if err != nil {
		return "", err
	}
	if _, ok := rec.FindOrderWithClientOrderID(body.ClientOrderID); !ok {
		return "", fmt.Errorf("%w: client order id %d", core.ErrOrderNotFound, body.ClientOrderID)
	}
	b, err := c.bookForWrite(m)
	if err != nil {
		return "", err
	}
	cid := body.ClientOrderID
	remaining, err := b.CancelAllOrders(rec, 1, nil, &cid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("client_order_id=%d remaining=%d", cid, remaining), nil
}

func cancelAllOrders(c *execCtx) (string, error) {
	var body transaction.CancelAllOrdersBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	side, err := transaction.ParseOptionalSide(body.Side)
	if err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authOwnerOrDelegate)
	if err != nil {
		return "", err
	}
	b, err := c.bookForWrite(m)
	if err != nil {
		return "", err
	}
	before := rec.OpenOrderCount()
	if _, err := b.CancelAllOrders(rec, body.Limit, side, nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("cancelled=%d left=%d", before-rec.OpenOrderCount(), rec.OpenOrderCount()), nil
}

func setMarketExpired(c *execCtx) (string, error) {
	var body transaction.SetMarketExpiredBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.marketForWrite()
	if err != nil {
		return "", err
	}
	if m.Closed {
		return "", ErrMarketClosed
	}
	if err := m.SetExpired(c.signer, c.now); err != nil {
		return "", err
	}
	return "market=" + m.Name, nil
}

func pruneOrders(c *execCtx) (string, error) {
	var body transaction.PruneOrdersBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.market()
	if err != nil {
		return "", err
	}
	rec, err := c.record(body.Account, m, authNone)
	if err != nil {
		return "", err
	}
	b, err := c.bookForWrite(m)
	if err != nil {
		return "", err
	}
	pruned, err := b.PruneOrders(rec, m, c.signer, body.Limit, c.now)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("pruned=%d left=%d", pruned, rec.OpenOrderCount()), nil
}

func closeMarket(c *execCtx) (string, error) {
	var body transaction.CloseMarketBody
	if err := c.ix.DecodeBody(&body); err != nil {
		return "", err
	}
	m, err := c.marketForWrite()
	if err != nil {
		return "", err
	}
	if m.Closed {
		return "", ErrMarketClosed
	}
	if err := m.CheckCloseAdmin(c.signer); err != nil {
		return "", err
	}
	if err := m.CheckExpired(c.now); err != nil {
		return "", err
	}
	b, ok := c.t.book(m.Address)
	if !ok {
		return "", fmt.Errorf("%w: book of %s", core.ErrMarketNotFound, m.Name)
	}
	if !b.IsEmpty() {
		return "", fmt.Errorf("%w: %d bids, %d asks", core.ErrBookNotEmpty, b.Bids().Len(), b.Asks().Len())
	}
	m.Closed = true
	return "market=" + m.Name, nil
}
