package orderbook

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

// Root anchors one side's tree inside the shared slab.
type Root struct {
	Handle    NodeHandle
	LeafCount uint32
}

// OrderTree is a crit-bit tree over slab nodes for one side of the book.
//
// Keys are built so that the best order is always the minimum key: asks
// sort by price ascending, bids by complemented price, and equal prices by
// order id ascending. Walking the tree in key order therefore visits orders
// in matching priority.
//
// Inserting splits an existing node: its contents move to a fresh slot and
// its old slot becomes the new inner node. Removing copies the sibling over
// the parent. Handles of moved nodes change, so callers locate orders by
// (price, id) rather than keeping handles across mutations.
type OrderTree struct {
	side core.Side
	root Root
	slab *Slab
}

func newOrderTree(side core.Side, slab *Slab) *OrderTree {
	return &OrderTree{side: side, slab: slab}
}

func (t *OrderTree) Side() core.Side { return t.side }
func (t *OrderTree) Root() Root      { return t.root }
func (t *OrderTree) Len() int        { return int(t.root.LeafCount) }
func (t *OrderTree) IsEmpty() bool   { return t.root.LeafCount == 0 }

// nodesNeeded is the slab cost of the next insert.
func (t *OrderTree) nodesNeeded() int {
	if t.root.LeafCount == 0 {
		return 1
	}
	return 2
}

// HasRoom reports whether an insert would find enough free slab nodes.
func (t *OrderTree) HasRoom() bool { return t.slab.FreeCount() >= t.nodesNeeded() }

// Insert links a new leaf. It fails with ErrTreeFull before touching the
// slab when there is no room, and with ErrDuplicateOrder when the same
// (price, id) already rests on this side.
func (t *OrderTree) Insert(leaf LeafNode) (NodeHandle, error) {
	if leaf.OrderID.IsZero() {
		return 0, core.ErrInvalidOrderID
	}
	if !t.HasRoom() {
		return 0, core.ErrTreeFull
	}
	leaf.Side = t.side
	key := orderKey(t.side, leaf.Price, leaf.OrderID)

	if t.root.LeafCount == 0 {
		h, err := t.slab.Allocate()
		if err != nil {
			return 0, err
		}
		*t.slab.Get(h) = Node{Tag: TagLeaf, Key: key, Leaf: leaf}
		t.root = Root{Handle: h, LeafCount: 1}
		return h, nil
	}

	parent := t.root.Handle
	for {
		p := t.slab.Get(parent)
		shared := sharedPrefixLen(&p.Key, &key)
		if p.Tag == TagInner && shared >= p.PrefixLen {
			parent = p.Children[critBit(&key, p.PrefixLen)]
			continue
		}
		if p.Tag == TagLeaf && shared == keyBits {
			return 0, core.ErrDuplicateOrder
		}

		moved, err := t.slab.Allocate()
		if err != nil {
			return 0, err
		}
		fresh, err := t.slab.Allocate()
		if err != nil {
			t.slab.Free(moved)
			return 0, err
		}
		*t.slab.Get(moved) = *p
		*t.slab.Get(fresh) = Node{Tag: TagLeaf, Key: key, Leaf: leaf}

		bit := critBit(&key, shared)
		inner := Node{Tag: TagInner, PrefixLen: shared, Key: key}
		inner.Children[bit] = fresh
		inner.Children[1-bit] = moved
		*p = inner

		t.root.LeafCount++
		return fresh, nil
	}
}

// Lookup finds the leaf for an exact (price, id) in O(depth).
func (t *OrderTree) Lookup(price int64, id core.OrderID) (NodeHandle, bool) {
	if t.root.LeafCount == 0 {
		return 0, false
	}
	key := orderKey(t.side, price, id)
	h := t.root.Handle
	for {
		n := t.slab.Get(h)
		if n.Tag == TagLeaf {
			return h, n.Key.Eq(&key)
		}
		if sharedPrefixLen(&n.Key, &key) < n.PrefixLen {
			return 0, false
		}
		h = n.Children[critBit(&key, n.PrefixLen)]
	}
}

// Find scans for an order id. Use Lookup when the price is known.
func (t *OrderTree) Find(id core.OrderID) (NodeHandle, bool) {
	var found NodeHandle
	ok := false
	t.Iter(func(h NodeHandle, leaf *LeafNode) bool {
		if leaf.OrderID == id {
			found, ok = h, true
			return false
		}
		return true
	})
	return found, ok
}

// FindByClientID returns the highest-priority order of owner carrying
// clientID. Client ids are only unique per trader.
func (t *OrderTree) FindByClientID(owner common.Address, clientID uint64) (NodeHandle, bool) {
	var found NodeHandle
	ok := false
	t.Iter(func(h NodeHandle, leaf *LeafNode) bool {
		if leaf.Owner == owner && leaf.ClientOrderID == clientID {
			found, ok = h, true
			return false
		}
		return true
	})
	return found, ok
}

// Leaf returns the order stored at h, or nil if h is not a leaf.
func (t *OrderTree) Leaf(h NodeHandle) *LeafNode {
	if int(h) >= t.slab.Capacity() {
		return nil
	}
	n := t.slab.Get(h)
	if n.Tag != TagLeaf {
		return nil
	}
	return &n.Leaf
}

// Remove unlinks the leaf at h and returns its slab nodes.
func (t *OrderTree) Remove(h NodeHandle) (LeafNode, error) {
	leaf := t.Leaf(h)
	if leaf == nil || leaf.Side != t.side {
		return LeafNode{}, core.ErrOrderNotFound
	}
	key := t.slab.Get(h).Key
	removed, ok := t.removeByKey(&key)
	if !ok {
		return LeafNode{}, core.ErrOrderNotFound
	}
	return removed, nil
}

func (t *OrderTree) removeByKey(key *uint256.Int) (LeafNode, bool) {
	if t.root.LeafCount == 0 {
		return LeafNode{}, false
	}
	parent := t.root.Handle
	if p := t.slab.Get(parent); p.Tag == TagLeaf {
		if !p.Key.Eq(key) {
			return LeafNode{}, false
		}
		leaf := p.Leaf
		t.slab.Free(parent)
		t.root = Root{}
		return leaf, true
	}

	for {
		p := t.slab.Get(parent)
		if sharedPrefixLen(&p.Key, key) < p.PrefixLen {
			return LeafNode{}, false
		}
		bit := critBit(key, p.PrefixLen)
		child := p.Children[bit]
		c := t.slab.Get(child)
		if c.Tag != TagLeaf {
			parent = child
			continue
		}
		if !c.Key.Eq(key) {
			return LeafNode{}, false
		}
		leaf := c.Leaf
		sibling := p.Children[1-bit]
		*p = *t.slab.Get(sibling)
		t.slab.Free(sibling)
		t.slab.Free(child)
		t.root.LeafCount--
		return leaf, true
	}
}

// Best returns the highest-priority order on this side.
func (t *OrderTree) Best() (NodeHandle, bool) {
	if t.root.LeafCount == 0 {
		return 0, false
	}
	h := t.root.Handle
	for {
		n := t.slab.Get(h)
		if n.Tag == TagLeaf {
			return h, true
		}
		h = n.Children[0]
	}
}

// Iter visits leaves in priority order until fn returns false.
func (t *OrderTree) Iter(fn func(h NodeHandle, leaf *LeafNode) bool) {
	if t.root.LeafCount == 0 {
		return
	}
	stack := make([]NodeHandle, 0, 64)
	stack = append(stack, t.root.Handle)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := t.slab.Get(h)
		if n.Tag == TagLeaf {
			if !fn(h, &n.Leaf) {
				return
			}
			continue
		}
		stack = append(stack, n.Children[1], n.Children[0])
	}
}

// Leaves returns a copy of all resting orders in priority order.
func (t *OrderTree) Leaves() []LeafNode {
	out := make([]LeafNode, 0, t.root.LeafCount)
	t.Iter(func(_ NodeHandle, leaf *LeafNode) bool {
		out = append(out, *leaf)
		return true
	})
	return out
}
