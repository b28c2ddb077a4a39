package orderbook

import (
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

type PriceLevel struct {
	Price    int64
	Quantity int64 // total remaining base lots at this price, capped at MaxInt64
	Orders   int
}

// Levels aggregates side into price levels, best first. depth <= 0 means
// all levels.
func (b *Book) Levels(side core.Side, depth int) []PriceLevel {
	var out []PriceLevel
	b.Tree(side).Iter(func(_ NodeHandle, leaf *LeafNode) bool {
		if n := len(out); n > 0 && out[n-1].Price == leaf.Price {
			out[n-1].Quantity = addCapped(out[n-1].Quantity, leaf.Quantity)
			out[n-1].Orders++
			return true
		}
		if depth > 0 && len(out) == depth {
			return false
		}
		out = append(out, PriceLevel{Price: leaf.Price, Quantity: leaf.Quantity, Orders: 1})
		return true
	})
	return out
}

func (b *Book) GetBidLevels() []PriceLevel { return b.Levels(core.Bid, 0) }
func (b *Book) GetAskLevels() []PriceLevel { return b.Levels(core.Ask, 0) }

// OrdersOf lists the resting orders owned by one open orders record.
func (b *Book) OrdersOf(owner common.Address) []LeafNode {
	var out []LeafNode
	for _, t := range []*OrderTree{b.bids, b.asks} {
		t.Iter(func(_ NodeHandle, leaf *LeafNode) bool {
			if leaf.Owner == owner {
				out = append(out, *leaf)
			}
			return true
		})
	}
	return out
}

func addCapped(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
