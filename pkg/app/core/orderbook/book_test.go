package orderbook

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
)

const testNow int64 = 1_700_000_000

type bookFixture struct {
	book   *Book
	market *market.Market
	admin  common.Address
}

func newFixture(t *testing.T, capacity int) *bookFixture {
	t.Helper()
	admin := common.HexToAddress("0xAD")
	m, err := market.NewMarket("SOL-USDC", market.Params{
		BaseLotSize:      1,
		QuoteLotSize:     1,
		CloseMarketAdmin: admin,
	})
	require.NoError(t, err)
	return &bookFixture{book: NewBook(m.Address, capacity, nil), market: m, admin: admin}
}

func (f *bookFixture) trader(t *testing.T, seed byte) *openorders.Record {
	t.Helper()
	owner := common.BytesToAddress([]byte{0xEE, seed})
	r, err := openorders.NewRecord(owner, f.market.Address, common.Address{}, "main", 1)
	require.NoError(t, err)
	return r
}

func (f *bookFixture) place(t *testing.T, oo *openorders.Record, side core.Side, price, qty int64, clientID uint64) LeafNode {
	t.Helper()
	leaf, err := f.book.PlaceOrder(oo, f.market, NewOrder{Side: side, Price: price, Quantity: qty, ClientOrderID: clientID}, testNow)
	require.NoError(t, err)
	return leaf
}

// requireConsistent checks that the record's occupied slots and the book's
// leaves owned by the record name the same orders.
func requireConsistent(t *testing.T, b *Book, oo *openorders.Record) {
	t.Helper()
	slots := map[core.OrderID]bool{}
	for i := 0; i < openorders.MaxOpenOrders; i++ {
		if s := oo.Order(i); !s.IsFree {
			slots[s.ID] = true
		}
	}
	leaves := map[core.OrderID]bool{}
	for _, l := range b.OrdersOf(oo.Address) {
		leaves[l.OrderID] = true
		s := oo.Order(int(l.OwnerSlot))
		require.False(t, s.IsFree)
		require.Equal(t, l.OrderID, s.ID)
		require.Equal(t, l.Price, s.LockedPrice)
		require.Equal(t, l.Side, s.Side)
	}
	require.Equal(t, slots, leaves)
}

func TestBook_PlaceAndCancel(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)

	leaf := f.place(t, alice, core.Bid, 100, 5, 11)
	assert.Equal(t, core.OrderIDFromSeq(1), leaf.OrderID)
	assert.Equal(t, alice.Address, leaf.Owner)
	assert.Equal(t, int64(5), alice.Position.BidsBaseLots)
	requireConsistent(t, f.book, alice)

	removed, err := f.book.CancelOrder(alice, leaf.OrderID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, leaf, removed)
	assert.True(t, alice.HasNoOrders())
	assert.True(t, alice.Position.IsEmpty())
	assert.True(t, f.book.IsEmpty())
	assert.Equal(t, 0, f.book.Slab().Live())
}

func TestBook_CancelTwiceIsNotFound(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	leaf := f.place(t, alice, core.Ask, 120, 1, 0)

	_, err := f.book.CancelOrder(alice, leaf.OrderID, nil, nil)
	require.NoError(t, err)

	_, err = f.book.CancelOrder(alice, leaf.OrderID, nil, nil)
	require.ErrorIs(t, err, core.ErrOrderNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestBook_CancelRejectsZeroID(t *testing.T) {
	f := newFixture(t, 64)
	_, err := f.book.CancelOrder(f.trader(t, 1), core.OrderID{}, nil, nil)
	assert.ErrorIs(t, err, core.ErrInvalidOrderID)
}

func TestBook_CancelOwnership(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	bob := f.trader(t, 2)
	leaf := f.place(t, alice, core.Bid, 100, 5, 0)

	_, err := f.book.CancelOrder(bob, leaf.OrderID, nil, nil)
	require.ErrorIs(t, err, core.ErrOrderOwnerMismatch)
	assert.True(t, errors.Is(err, core.ErrNotOwner))

	_, err = f.book.CancelOrder(alice, leaf.OrderID, nil, &bob.Address)
	require.ErrorIs(t, err, core.ErrNotOwner)

	assert.Equal(t, 1, f.book.Bids().Len(), "failed cancels leave the order resting")
	requireConsistent(t, f.book, alice)

	_, err = f.book.CancelOrder(alice, leaf.OrderID, nil, &alice.Address)
	require.NoError(t, err)
}

func TestBook_CapacityBoundaryLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, DefaultSlabCapacity)
	alice := f.trader(t, 1)
	for i := 0; i < openorders.MaxOpenOrders; i++ {
		f.place(t, alice, core.Bid, int64(100-i), 1, uint64(i))
	}

	bookBefore := f.book.Clone()
	recordBefore := alice.Clone()
	seqBefore := f.market.SeqNum

	_, err := f.book.PlaceOrder(alice, f.market, NewOrder{Side: core.Bid, Price: 10, Quantity: 1}, testNow)
	require.ErrorIs(t, err, core.ErrOpenOrdersFull)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)

	assert.Equal(t, *recordBefore, *alice)
	assert.Equal(t, seqBefore, f.market.SeqNum)
	assert.Equal(t, bookBefore.Slab().Header(), f.book.Slab().Header())
	assert.Equal(t, bookBefore.Slab().Nodes(), f.book.Slab().Nodes())
	assert.Equal(t, bookBefore.Bids().Root(), f.book.Bids().Root())
}

func TestBook_SlabFullRejectsPlacement(t *testing.T) {
	f := newFixture(t, 3)
	alice := f.trader(t, 1)
	f.place(t, alice, core.Bid, 100, 1, 0)
	f.place(t, alice, core.Bid, 99, 1, 0)

	recordBefore := alice.Clone()
	_, err := f.book.PlaceOrder(alice, f.market, NewOrder{Side: core.Ask, Price: 200, Quantity: 1}, testNow)
	require.ErrorIs(t, err, core.ErrTreeFull)
	assert.Equal(t, *recordBefore, *alice)
	assert.Equal(t, uint64(2), f.market.SeqNum)
}

func TestBook_PlaceValidation(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	f.place(t, alice, core.Ask, 100, 1, 0)

	other, err := openorders.NewRecord(alice.Owner, common.HexToAddress("0x0BAD"), common.Address{}, "x", 1)
	require.NoError(t, err)

	tests := []struct {
		name string
		oo   *openorders.Record
		req  NewOrder
		want error
	}{
		{"zero price", alice, NewOrder{Side: core.Bid, Price: 0, Quantity: 1}, core.ErrInvalidPrice},
		{"negative quantity", alice, NewOrder{Side: core.Bid, Price: 90, Quantity: -1}, core.ErrInvalidQuantity},
		{"unknown side", alice, NewOrder{Side: core.Side(7), Price: 90, Quantity: 1}, core.ErrInvalidInput},
		{"bid crosses", alice, NewOrder{Side: core.Bid, Price: 100, Quantity: 1}, core.ErrWouldCross},
		{"record of another market", other, NewOrder{Side: core.Bid, Price: 90, Quantity: 1}, core.ErrMarketMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.book.PlaceOrder(tt.oo, f.market, tt.req, testNow)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}

	f.place(t, alice, core.Bid, 99, 1, 0)
	_, err = f.book.PlaceOrder(alice, f.market, NewOrder{Side: core.Ask, Price: 99, Quantity: 1}, testNow)
	assert.ErrorIs(t, err, core.ErrWouldCross)
}

func TestBook_CancelAllRespectsLimit(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	first := f.place(t, alice, core.Bid, 100, 3, 0)
	f.place(t, alice, core.Bid, 99, 4, 0)
	f.place(t, alice, core.Ask, 110, 5, 0)

	remaining, err := f.book.CancelAllOrders(alice, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Quantity, remaining)
	assert.Equal(t, 2, alice.OpenOrderCount())
	_, ok := alice.FindOrderWithOrderID(first.OrderID)
	assert.False(t, ok, "slot order decides which order goes first")
	requireConsistent(t, f.book, alice)

	_, err = f.book.CancelAllOrders(alice, 10, nil, nil)
	require.NoError(t, err)
	assert.True(t, alice.HasNoOrders())
	assert.True(t, f.book.IsEmpty())
}

func TestBook_CancelAllFilters(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	f.place(t, alice, core.Bid, 100, 1, 5)
	f.place(t, alice, core.Bid, 99, 2, 5)
	ask := f.place(t, alice, core.Ask, 110, 3, 6)

	side := core.Ask
	remaining, err := f.book.CancelAllOrders(alice, 10, &side, nil)
	require.NoError(t, err)
	assert.Equal(t, ask.Quantity, remaining)
	assert.Equal(t, 2, alice.OpenOrderCount())
	assert.True(t, f.book.Asks().IsEmpty())

	clientID := uint64(5)
	remaining, err = f.book.CancelAllOrders(alice, 10, nil, &clientID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining, "stops after the first client id match")
	assert.Equal(t, 1, alice.OpenOrderCount())
	requireConsistent(t, f.book, alice)

	remaining, err = f.book.CancelAllOrders(alice, 10, &side, nil)
	require.NoError(t, err)
	assert.Zero(t, remaining, "nothing matched")
}

func TestBook_CancelAllSkipsOrdersMissingFromTree(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	gone := f.place(t, alice, core.Bid, 100, 1, 0)
	kept := f.place(t, alice, core.Bid, 99, 7, 0)

	// Take the first order out of the tree behind the record's back.
	h, ok := f.book.Bids().Lookup(gone.Price, gone.OrderID)
	require.True(t, ok)
	_, err := f.book.Bids().Remove(h)
	require.NoError(t, err)

	remaining, err := f.book.CancelAllOrders(alice, 10, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, kept.Quantity, remaining)
	assert.True(t, f.book.IsEmpty())
	assert.Equal(t, 1, alice.OpenOrderCount(), "stale slot is left for the caller to inspect")
}

func TestBook_ExpiryGating(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	a := f.place(t, alice, core.Bid, 100, 1, 0)
	f.place(t, alice, core.Bid, 99, 1, 0)
	f.place(t, alice, core.Ask, 120, 1, 0)

	_, err := f.book.PruneOrders(alice, f.market, f.admin, 10, testNow)
	require.ErrorIs(t, err, core.ErrMarketNotExpired)

	require.NoError(t, f.market.SetExpired(f.admin, testNow))

	_, err = f.book.PlaceOrder(alice, f.market, NewOrder{Side: core.Bid, Price: 90, Quantity: 1}, testNow)
	require.ErrorIs(t, err, core.ErrMarketExpired)

	_, err = f.book.CancelOrder(alice, a.OrderID, nil, nil)
	require.NoError(t, err, "cancellation survives expiry")

	_, err = f.book.PruneOrders(alice, f.market, alice.Owner, 10, testNow)
	require.ErrorIs(t, err, core.ErrInvalidCloseAdmin)

	pruned, err := f.book.PruneOrders(alice, f.market, f.admin, 1, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	pruned, err = f.book.PruneOrders(alice, f.market, f.admin, 10, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.True(t, f.book.IsEmpty())
	assert.True(t, alice.HasNoOrders())
}

func TestBook_ElapsedExpiryGatesLikeSentinel(t *testing.T) {
	admin := common.HexToAddress("0xAD")
	m, err := market.NewMarket("ETH-USDC", market.Params{
		BaseLotSize:      1,
		QuoteLotSize:     1,
		TimeExpiry:       testNow + 10,
		CloseMarketAdmin: admin,
	})
	require.NoError(t, err)
	b := NewBook(m.Address, 64, nil)
	oo, err := openorders.NewRecord(common.HexToAddress("0x01"), m.Address, common.Address{}, "", 1)
	require.NoError(t, err)

	_, err = b.PlaceOrder(oo, m, NewOrder{Side: core.Bid, Price: 5, Quantity: 1}, testNow+9)
	require.NoError(t, err)

	_, err = b.PlaceOrder(oo, m, NewOrder{Side: core.Bid, Price: 4, Quantity: 1}, testNow+10)
	require.ErrorIs(t, err, core.ErrMarketExpired)

	pruned, err := b.PruneOrders(oo, m, admin, 10, testNow+10)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}

func TestBook_PruneWithoutCloseAdmin(t *testing.T) {
	m, err := market.NewMarket("BTC-USDC", market.Params{BaseLotSize: 1, QuoteLotSize: 1, TimeExpiry: market.TimeExpiryExpired})
	require.NoError(t, err)
	b := NewBook(m.Address, 16, nil)
	oo, err := openorders.NewRecord(common.HexToAddress("0x01"), m.Address, common.Address{}, "", 1)
	require.NoError(t, err)

	_, err = b.PruneOrders(oo, m, common.Address{}, 1, testNow)
	assert.ErrorIs(t, err, core.ErrNoCloseMarketAdmin)
}

func TestBook_SlotTreeConsistencyUnderChurn(t *testing.T) {
	f := newFixture(t, DefaultSlabCapacity)
	traders := []*openorders.Record{f.trader(t, 1), f.trader(t, 2), f.trader(t, 3)}
	rng := rand.New(rand.NewSource(3<<32 | 5))

	for step := 0; step < 600; step++ {
		oo := traders[rng.Intn(len(traders))]
		switch op := rng.Intn(10); {
		case op < 6:
			side := core.Bid
			price := int64(rng.Intn(50) + 1)
			if rng.Intn(2) == 0 {
				side = core.Ask
				price += 50
			}
			_, err := f.book.PlaceOrder(oo, f.market, NewOrder{Side: side, Price: price, Quantity: int64(rng.Intn(9) + 1)}, testNow)
			if err != nil {
				require.ErrorIs(t, err, core.ErrCapacityExceeded, "step %d", step)
			}
		case op < 9:
			if oo.HasNoOrders() {
				continue
			}
			var occupied []int
			for i := 0; i < openorders.MaxOpenOrders; i++ {
				if !oo.Order(i).IsFree {
					occupied = append(occupied, i)
				}
			}
			s := oo.Order(occupied[rng.Intn(len(occupied))])
			_, err := f.book.CancelOrder(oo, s.ID, nil, nil)
			require.NoError(t, err, "step %d", step)
		default:
			_, err := f.book.CancelAllOrders(oo, uint8(rng.Intn(4)), nil, nil)
			require.NoError(t, err)
		}

		for _, tr := range traders {
			requireConsistent(t, f.book, tr)
		}
	}
}

func TestBook_CloneIsIndependent(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	leaf := f.place(t, alice, core.Bid, 100, 1, 0)

	clone := f.book.Clone()
	_, err := clone.CancelOrder(alice.Clone(), leaf.OrderID, nil, nil)
	require.NoError(t, err)

	assert.True(t, clone.IsEmpty())
	assert.False(t, f.book.IsEmpty())
	price, ok := f.book.BestPrice(core.Bid)
	require.True(t, ok)
	assert.Equal(t, int64(100), price)
}

func TestBook_Levels(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	f.place(t, alice, core.Bid, 100, 3, 0)
	f.place(t, alice, core.Bid, 100, 4, 0)
	f.place(t, alice, core.Bid, 99, 1, 0)
	f.place(t, alice, core.Ask, 105, 2, 0)

	assert.Equal(t, []PriceLevel{{Price: 100, Quantity: 7, Orders: 2}, {Price: 99, Quantity: 1, Orders: 1}}, f.book.GetBidLevels())
	assert.Equal(t, []PriceLevel{{Price: 100, Quantity: 7, Orders: 2}}, f.book.Levels(core.Bid, 1))
	assert.Equal(t, []PriceLevel{{Price: 105, Quantity: 2, Orders: 1}}, f.book.GetAskLevels())
	assert.Len(t, f.book.OrdersOf(alice.Address), 4)
}

func TestBook_PositionOverflowRejected(t *testing.T) {
	f := newFixture(t, 64)
	alice := f.trader(t, 1)
	f.place(t, alice, core.Bid, 90, math.MaxInt64, 0)

	_, err := f.book.PlaceOrder(alice, f.market, NewOrder{Side: core.Bid, Price: 89, Quantity: 1}, testNow)
	require.ErrorIs(t, err, core.ErrInvalidQuantity)
	assert.Equal(t, 1, f.book.Bids().Len())
	assert.Equal(t, int64(math.MaxInt64), alice.Position.BidsBaseLots)

	// The other side has its own total.
	f.place(t, alice, core.Ask, 95, 1, 0)
}

func TestBook_LevelsCapAtMaxInt64(t *testing.T) {
	f := newFixture(t, 64)
	alice, bob, carol := f.trader(t, 1), f.trader(t, 2), f.trader(t, 3)
	f.place(t, alice, core.Ask, 100, math.MaxInt64, 0)
	f.place(t, bob, core.Ask, 100, math.MaxInt64, 0)
	f.place(t, carol, core.Ask, 101, 1, 0)

	assert.Equal(t, []PriceLevel{
		{Price: 100, Quantity: math.MaxInt64, Orders: 2},
		{Price: 101, Quantity: 1, Orders: 1},
	}, f.book.GetAskLevels())
}
