package orderbook

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

func leafAt(id uint64, price int64) LeafNode {
	return LeafNode{OrderID: core.OrderIDFromSeq(id), Price: price, Quantity: 10}
}

func bestID(t *testing.T, tree *OrderTree) uint64 {
	t.Helper()
	h, ok := tree.Best()
	require.True(t, ok, "tree is empty")
	return tree.Leaf(h).OrderID.Lo
}

func TestOrderTree_BidPriceThenTime(t *testing.T) {
	b := NewBook(common.Address{}, 64, nil)
	bids := b.Bids()

	for _, l := range []LeafNode{leafAt(1, 100), leafAt(2, 100), leafAt(3, 101)} {
		_, err := bids.Insert(l)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(3), bestID(t, bids), "higher bid wins")

	h, ok := bids.Find(core.OrderIDFromSeq(3))
	require.True(t, ok)
	_, err := bids.Remove(h)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), bestID(t, bids), "same price, lower id wins")
}

func TestOrderTree_AskPriceThenTime(t *testing.T) {
	b := NewBook(common.Address{}, 64, nil)
	asks := b.Asks()

	for _, l := range []LeafNode{leafAt(5, 101), leafAt(6, 100), leafAt(7, 100), leafAt(8, -3)} {
		_, err := asks.Insert(l)
		require.NoError(t, err)
	}

	var got []uint64
	asks.Iter(func(_ NodeHandle, leaf *LeafNode) bool {
		got = append(got, leaf.OrderID.Lo)
		return true
	})
	assert.Equal(t, []uint64{8, 6, 7, 5}, got)
}

func TestOrderTree_InsertFailsWhenFull(t *testing.T) {
	// One leaf, then one leaf plus one inner node: three nodes hold two orders.
	b := NewBook(common.Address{}, 3, nil)
	bids := b.Bids()

	_, err := bids.Insert(leafAt(1, 100))
	require.NoError(t, err)
	_, err = bids.Insert(leafAt(2, 99))
	require.NoError(t, err)

	before := bids.Leaves()
	header := b.Slab().Header()

	_, err = bids.Insert(leafAt(3, 98))
	require.ErrorIs(t, err, core.ErrTreeFull)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
	assert.Equal(t, before, bids.Leaves())
	assert.Equal(t, header, b.Slab().Header())

	// The other side shares the slab and is just as full.
	_, err = b.Asks().Insert(leafAt(4, 200))
	assert.ErrorIs(t, err, core.ErrTreeFull)
}

func TestOrderTree_RejectsDuplicateAndZeroID(t *testing.T) {
	b := NewBook(common.Address{}, 16, nil)
	asks := b.Asks()

	_, err := asks.Insert(leafAt(1, 100))
	require.NoError(t, err)
	_, err = asks.Insert(leafAt(2, 100))
	require.NoError(t, err)

	_, err = asks.Insert(leafAt(1, 100))
	assert.ErrorIs(t, err, core.ErrDuplicateOrder)

	_, err = asks.Insert(LeafNode{Price: 100, Quantity: 1})
	assert.ErrorIs(t, err, core.ErrInvalidOrderID)
	assert.Equal(t, 2, asks.Len())
}

func TestOrderTree_LookupFindAndClientID(t *testing.T) {
	b := NewBook(common.Address{}, 32, nil)
	bids := b.Bids()
	alice := common.HexToAddress("0xA11CE")
	bob := common.HexToAddress("0xB0B")

	orders := []LeafNode{
		{OrderID: core.OrderIDFromSeq(1), Owner: alice, ClientOrderID: 7, Price: 100, Quantity: 1},
		{OrderID: core.OrderIDFromSeq(2), Owner: bob, ClientOrderID: 7, Price: 101, Quantity: 2},
		{OrderID: core.OrderIDFromSeq(3), Owner: alice, ClientOrderID: 9, Price: 99, Quantity: 3},
	}
	for _, o := range orders {
		_, err := bids.Insert(o)
		require.NoError(t, err)
	}

	h, ok := bids.Lookup(99, core.OrderIDFromSeq(3))
	require.True(t, ok)
	assert.Equal(t, int64(3), bids.Leaf(h).Quantity)

	_, ok = bids.Lookup(100, core.OrderIDFromSeq(3))
	assert.False(t, ok, "wrong price misses")

	_, ok = bids.Find(core.OrderIDFromSeq(42))
	assert.False(t, ok)

	h, ok = bids.FindByClientID(alice, 7)
	require.True(t, ok)
	assert.Equal(t, uint64(1), bids.Leaf(h).OrderID.Lo)

	h, ok = bids.FindByClientID(bob, 7)
	require.True(t, ok)
	assert.Equal(t, uint64(2), bids.Leaf(h).OrderID.Lo)

	_, ok = bids.FindByClientID(bob, 9)
	assert.False(t, ok, "client ids are scoped to their owner")
}

func TestOrderTree_RemoveRejectsForeignHandle(t *testing.T) {
	b := NewBook(common.Address{}, 16, nil)
	h, err := b.Asks().Insert(leafAt(1, 100))
	require.NoError(t, err)

	_, err = b.Bids().Remove(h)
	assert.ErrorIs(t, err, core.ErrOrderNotFound)

	_, err = b.Asks().Remove(NodeHandle(15))
	assert.ErrorIs(t, err, core.ErrOrderNotFound)

	_, err = b.Asks().Remove(NodeHandle(1 << 20))
	assert.ErrorIs(t, err, core.ErrOrderNotFound)
}

// expectedPriority sorts live orders the way the tree must iterate them.
func expectedPriority(side core.Side, live map[core.OrderID]LeafNode) []LeafNode {
	out := make([]LeafNode, 0, len(live))
	for _, l := range live {
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b LeafNode) int {
		if a.Price != b.Price {
			if (side == core.Bid) == (a.Price > b.Price) {
				return -1
			}
			return 1
		}
		return a.OrderID.Cmp(b.OrderID)
	})
	return out
}

func TestOrderTree_PriorityInvariantUnderChurn(t *testing.T) {
	for _, side := range []core.Side{core.Bid, core.Ask} {
		t.Run(side.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42<<32 | int64(side) + 1))
			b := NewBook(common.Address{}, 256, nil)
			tree := b.Tree(side)
			live := map[core.OrderID]LeafNode{}
			var nextID uint64

			for step := 0; step < 1500; step++ {
				if len(live) == 0 || (rng.Intn(3) != 0 && tree.HasRoom()) {
					nextID++
					leaf := LeafNode{
						OrderID:  core.OrderIDFromSeq(nextID),
						Price:    int64(rng.Intn(12) + 95),
						Quantity: int64(rng.Intn(50) + 1),
					}
					_, err := tree.Insert(leaf)
					require.NoError(t, err)
					leaf.Side = side
					live[leaf.OrderID] = leaf
				} else {
					ids := make([]core.OrderID, 0, len(live))
					for id := range live {
						ids = append(ids, id)
					}
					slices.SortFunc(ids, core.OrderID.Cmp)
					victim := live[ids[rng.Intn(len(ids))]]

					h, ok := tree.Lookup(victim.Price, victim.OrderID)
					require.True(t, ok)
					removed, err := tree.Remove(h)
					require.NoError(t, err)
					require.Equal(t, victim, removed)
					delete(live, victim.OrderID)
				}

				want := expectedPriority(side, live)
				require.Equal(t, want, tree.Leaves(), "step %d", step)
				require.Equal(t, len(want), tree.Len())
				if len(want) > 0 {
					h, ok := tree.Best()
					require.True(t, ok)
					require.Equal(t, want[0], *tree.Leaf(h))
				}
			}

			for _, l := range expectedPriority(side, live) {
				h, ok := tree.Lookup(l.Price, l.OrderID)
				require.True(t, ok)
				_, err := tree.Remove(h)
				require.NoError(t, err)
			}
			assert.True(t, tree.IsEmpty())
			assert.Equal(t, 0, b.Slab().Live(), "every node went back to the slab")
		})
	}
}
