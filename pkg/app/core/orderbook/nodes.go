package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

// NodeHandle indexes a node in the slab.
type NodeHandle uint32

type NodeTag uint8

const (
	TagUninitialized NodeTag = iota
	TagInner
	TagLeaf
	TagFree
)

func (t NodeTag) String() string {
	switch t {
	case TagInner:
		return "inner"
	case TagLeaf:
		return "leaf"
	case TagFree:
		return "free"
	default:
		return "uninitialized"
	}
}

// keyBits is the width of a tree key.
const keyBits = 256

// LeafNode is a resting order.
type LeafNode struct {
	OrderID       core.OrderID
	Owner         common.Address // open orders record holding the order
	OwnerSlot     uint8
	ClientOrderID uint64
	Side          core.Side
	Price         int64 // quote lots per base lot
	Quantity      int64 // remaining base lots
	Timestamp     int64
}

// Node is one slab entry. Which fields are meaningful depends on Tag:
// inner nodes use PrefixLen, Key and Children; leaves use Key and Leaf;
// free nodes use Next.
type Node struct {
	Tag       NodeTag
	PrefixLen uint32
	Key       uint256.Int
	Children  [2]NodeHandle
	Next      NodeHandle
	Leaf      LeafNode
}

// encodePrice maps a signed price onto an unsigned value with the same
// ordering. Bids store the complement so that the best bid has the smallest
// key, just like the best ask.
func encodePrice(side core.Side, price int64) uint64 {
	p := uint64(price) ^ (1 << 63)
	if side == core.Bid {
		return ^p
	}
	return p
}

// orderKey lays out a tree key as price (bits 128..191) then order id
// (bits 0..127). The top limb is always zero.
func orderKey(side core.Side, price int64, id core.OrderID) uint256.Int {
	return uint256.Int{id.Lo, id.Hi, encodePrice(side, price), 0}
}

// sharedPrefixLen counts the leading bits a and b have in common.
func sharedPrefixLen(a, b *uint256.Int) uint32 {
	var x uint256.Int
	x.Xor(a, b)
	return uint32(keyBits - x.BitLen())
}

// critBit returns bit pos of k, counting from the most significant bit.
func critBit(k *uint256.Int, pos uint32) int {
	bit := keyBits - 1 - pos
	return int(k[bit/64] >> (bit % 64) & 1)
}
