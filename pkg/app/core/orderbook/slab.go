package orderbook

import (
	"fmt"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

// DefaultSlabCapacity matches the per-market node budget of the on-chain
// layout. One resting order costs a leaf plus, once the tree is non-empty,
// one inner node.
const DefaultSlabCapacity = 1024

// Slab is a fixed-capacity node arena shared by both sides of a book.
// Nodes never move once allocated; freed nodes are threaded onto an
// intrusive free list through Node.Next. Slots past bumpIndex have never
// been handed out.
type Slab struct {
	nodes        []Node
	bumpIndex    uint32
	freeListLen  uint32
	freeListHead NodeHandle
}

func NewSlab(capacity int) *Slab {
	if capacity <= 0 {
		capacity = DefaultSlabCapacity
	}
	return &Slab{nodes: make([]Node, capacity)}
}

func (s *Slab) Capacity() int { return len(s.nodes) }

// FreeCount is the number of allocations that will succeed from here.
func (s *Slab) FreeCount() int {
	return len(s.nodes) - int(s.bumpIndex) + int(s.freeListLen)
}

// Live is the number of allocated nodes.
func (s *Slab) Live() int { return s.Capacity() - s.FreeCount() }

// Allocate hands out a node in O(1), preferring recycled nodes.
func (s *Slab) Allocate() (NodeHandle, error) {
	if s.freeListLen > 0 {
		h := s.freeListHead
		n := &s.nodes[h]
		s.freeListHead = n.Next
		s.freeListLen--
		*n = Node{}
		return h, nil
	}
	if int(s.bumpIndex) < len(s.nodes) {
		h := NodeHandle(s.bumpIndex)
		s.bumpIndex++
		return h, nil
	}
	return 0, core.ErrSlabFull
}

// Free returns h to the free list. Freeing a node that is not live is a
// programming error.
func (s *Slab) Free(h NodeHandle) {
	if uint32(h) >= s.bumpIndex {
		panic(fmt.Sprintf("slab: free of never allocated node %d", h))
	}
	n := &s.nodes[h]
	if n.Tag == TagFree {
		panic(fmt.Sprintf("slab: double free of node %d", h))
	}
	*n = Node{Tag: TagFree, Next: s.freeListHead}
	s.freeListHead = h
	s.freeListLen++
}

// Get returns the node at h. The pointer stays valid for the slab's
// lifetime but its contents change when the tree relinks.
func (s *Slab) Get(h NodeHandle) *Node {
	return &s.nodes[h]
}

// Clone deep-copies the slab.
func (s *Slab) Clone() *Slab {
	c := *s
	c.nodes = make([]Node, len(s.nodes))
	copy(c.nodes, s.nodes)
	return &c
}

// SlabHeader is the persisted free-list state.
type SlabHeader struct {
	BumpIndex    uint32
	FreeListLen  uint32
	FreeListHead NodeHandle
}

func (s *Slab) Header() SlabHeader {
	return SlabHeader{BumpIndex: s.bumpIndex, FreeListLen: s.freeListLen, FreeListHead: s.freeListHead}
}

// Nodes exposes the backing array for serialization.
func (s *Slab) Nodes() []Node { return s.nodes }

// RestoreSlab rebuilds a slab from a persisted header and node array.
func RestoreSlab(h SlabHeader, nodes []Node) (*Slab, error) {
	if int(h.BumpIndex) > len(nodes) {
		return nil, fmt.Errorf("slab header bump index %d exceeds capacity %d", h.BumpIndex, len(nodes))
	}
	if h.FreeListLen > h.BumpIndex {
		return nil, fmt.Errorf("slab header free list length %d exceeds bump index %d", h.FreeListLen, h.BumpIndex)
	}
	seen := make([]bool, h.BumpIndex)
	n := h.FreeListHead
	for i := uint32(0); i < h.FreeListLen; i++ {
		if uint32(n) >= h.BumpIndex {
			return nil, fmt.Errorf("slab free list entry %d is node %d, past bump index %d", i, n, h.BumpIndex)
		}
		if nodes[n].Tag != TagFree || seen[n] {
			return nil, fmt.Errorf("slab free list entry %d reaches %s node %d", i, nodes[n].Tag, n)
		}
		seen[n] = true
		n = nodes[n].Next
	}
	return &Slab{
		nodes:        nodes,
		bumpIndex:    h.BumpIndex,
		freeListLen:  h.FreeListLen,
		freeListHead: h.FreeListHead,
	}, nil
}

// CheckRoot verifies that a persisted tree root points at a live node.
func (s *Slab) CheckRoot(r Root) error {
	if r.LeafCount == 0 {
		return nil
	}
	if uint32(r.Handle) >= s.bumpIndex {
		return fmt.Errorf("tree root %d past bump index %d", r.Handle, s.bumpIndex)
	}
	if int(r.LeafCount) > s.Live() {
		return fmt.Errorf("tree root claims %d leaves but only %d nodes are live", r.LeafCount, s.Live())
	}
	switch tag := s.nodes[r.Handle].Tag; {
	case r.LeafCount == 1 && tag != TagLeaf:
		return fmt.Errorf("single-leaf tree root %d is a %s node", r.Handle, tag)
	case r.LeafCount > 1 && tag != TagInner:
		return fmt.Errorf("tree root %d is a %s node", r.Handle, tag)
	}
	return nil
}
