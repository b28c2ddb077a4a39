package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
	"github.com/uhyunpark/hyperbook/pkg/app/core/orderbook"
)

// Every entity except the indexer has a fixed encoded size: strings are
// padded to their maximum length and the slab is written at full capacity.
// The indexer grows by exactly one address per registration.
const (
	leafSize    = 16 + 20 + 1 + 8 + 1 + 8 + 8 + 8
	NodeSize    = 1 + 4 + 32 + 4 + 4 + 4 + leafSize
	slotSize    = 16 + 8 + 8 + 1 + 1
	MarketSize  = 20 + 1 + market.MaxNameLen + 8 + 8 + 1 + 1 + 8 + 8 + 8 + 20 + 1 + 8
	RecordSize  = 4*20 + 1 + openorders.MaxNameLen + 4 + 1 + 8 + 8 + openorders.MaxOpenOrders*slotSize
	bookHeader  = 20 + 4 + 4 + 4 + 4 + 2*(4+4)
	indexerHead = 3*20 + 4 + 4 + 4
)

var errShortBuffer = errors.New("storage: short buffer")

// BookSize is the encoded size of a book with the given slab capacity.
func BookSize(capacity int) int { return bookHeader + capacity*NodeSize }

// IndexerSize is the encoded size of an indexer holding n addresses.
func IndexerSize(n int) int { return indexerHead + n*20 }

type encoder struct{ buf []byte }

func (e *encoder) u8(v uint8)    { e.buf = append(e.buf, v) }
func (e *encoder) u32(v uint32)  { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }
func (e *encoder) u64(v uint64)  { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }
func (e *encoder) i64(v int64)   { e.u64(uint64(v)) }
func (e *encoder) raw(b []byte)  { e.buf = append(e.buf, b...) }
func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}
func (e *encoder) addr(a common.Address) { e.raw(a[:]) }
func (e *encoder) orderID(id core.OrderID) {
	b := id.Bytes()
	e.raw(b[:])
}

// str writes a length byte followed by s padded to max bytes.
func (e *encoder) str(s string, max int) {
	if len(s) > max {
		s = s[:max]
	}
	e.u8(uint8(len(s)))
	var pad [64]byte
	e.raw([]byte(s))
	e.raw(pad[:max-len(s)])
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if len(d.buf) < n {
		d.err = errShortBuffer
		return make([]byte, n)
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8   { return d.take(1)[0] }
func (d *decoder) u32() uint32 { return binary.BigEndian.Uint32(d.take(4)) }
func (d *decoder) u64() uint64 { return binary.BigEndian.Uint64(d.take(8)) }
func (d *decoder) i64() int64  { return int64(d.u64()) }
func (d *decoder) bool() bool  { return d.u8() != 0 }
func (d *decoder) addr() common.Address {
	return common.BytesToAddress(d.take(20))
}
func (d *decoder) orderID() core.OrderID { return core.OrderIDFromBytes(d.take(16)) }

func (d *decoder) str(max int) string {
	n := int(d.u8())
	b := d.take(max)
	if n > max {
		if d.err == nil {
			d.err = fmt.Errorf("storage: string length %d exceeds %d", n, max)
		}
		return ""
	}
	return string(b[:n])
}

func (d *decoder) finish(what string) error {
	if d.err != nil {
		return fmt.Errorf("decode %s: %w", what, d.err)
	}
	if len(d.buf) != 0 {
		return fmt.Errorf("decode %s: %d trailing bytes", what, len(d.buf))
	}
	return nil
}

// EncodeMarket writes m in its fixed layout.
func EncodeMarket(m *market.Market) []byte {
	e := encoder{buf: make([]byte, 0, MarketSize)}
	e.addr(m.Address)
	e.str(m.Name, market.MaxNameLen)
	e.i64(m.BaseLotSize)
	e.i64(m.QuoteLotSize)
	e.u8(m.BaseDecimals)
	e.u8(m.QuoteDecimals)
	e.i64(m.MakerFee)
	e.i64(m.TakerFee)
	e.i64(m.TimeExpiry)
	e.addr(m.CloseMarketAdmin)
	e.bool(m.Closed)
	e.u64(m.SeqNum)
	return e.buf
}

func DecodeMarket(b []byte) (*market.Market, error) {
	d := decoder{buf: b}
	m := &market.Market{
		Address:          d.addr(),
		Name:             d.str(market.MaxNameLen),
		BaseLotSize:      d.i64(),
		QuoteLotSize:     d.i64(),
		BaseDecimals:     d.u8(),
		QuoteDecimals:    d.u8(),
		MakerFee:         d.i64(),
		TakerFee:         d.i64(),
		TimeExpiry:       d.i64(),
		CloseMarketAdmin: d.addr(),
		Closed:           d.bool(),
		SeqNum:           d.u64(),
	}
	return m, d.finish("market")
}

func (e *encoder) node(n *orderbook.Node) {
	e.u8(uint8(n.Tag))
	e.u32(n.PrefixLen)
	key := n.Key.Bytes32()
	e.raw(key[:])
	e.u32(uint32(n.Children[0]))
	e.u32(uint32(n.Children[1]))
	e.u32(uint32(n.Next))
	l := &n.Leaf
	e.orderID(l.OrderID)
	e.addr(l.Owner)
	e.u8(l.OwnerSlot)
	e.u64(l.ClientOrderID)
	e.u8(uint8(l.Side))
	e.i64(l.Price)
	e.i64(l.Quantity)
	e.i64(l.Timestamp)
}

func (d *decoder) node() orderbook.Node {
	var n orderbook.Node
	n.Tag = orderbook.NodeTag(d.u8())
	n.PrefixLen = d.u32()
	n.Key.SetBytes(d.take(32))
	n.Children[0] = orderbook.NodeHandle(d.u32())
	n.Children[1] = orderbook.NodeHandle(d.u32())
	n.Next = orderbook.NodeHandle(d.u32())
	n.Leaf = orderbook.LeafNode{
		OrderID:       d.orderID(),
		Owner:         d.addr(),
		OwnerSlot:     d.u8(),
		ClientOrderID: d.u64(),
		Side:          core.Side(d.u8()),
		Price:         d.i64(),
		Quantity:      d.i64(),
		Timestamp:     d.i64(),
	}
	return n
}

// EncodeBook writes the slab header, both roots and every slab node.
func EncodeBook(b *orderbook.Book) []byte {
	slab := b.Slab()
	e := encoder{buf: make([]byte, 0, BookSize(slab.Capacity()))}
	e.addr(b.Market)
	e.u32(uint32(slab.Capacity()))
	h := slab.Header()
	e.u32(h.BumpIndex)
	e.u32(h.FreeListLen)
	e.u32(uint32(h.FreeListHead))
	for _, r := range []orderbook.Root{b.Bids().Root(), b.Asks().Root()} {
		e.u32(uint32(r.Handle))
		e.u32(r.LeafCount)
	}
	nodes := slab.Nodes()
	for i := range nodes {
		e.node(&nodes[i])
	}
	return e.buf
}

func DecodeBook(b []byte) (*orderbook.Book, error) {
	d := decoder{buf: b}
	marketAddr := d.addr()
	capacity := int(d.u32())
	if d.err == nil && len(b) != BookSize(capacity) {
		return nil, fmt.Errorf("decode book: %d bytes for capacity %d", len(b), capacity)
	}
	h := orderbook.SlabHeader{
		BumpIndex:    d.u32(),
		FreeListLen:  d.u32(),
		FreeListHead: orderbook.NodeHandle(d.u32()),
	}
	var roots [2]orderbook.Root
	for i := range roots {
		roots[i] = orderbook.Root{Handle: orderbook.NodeHandle(d.u32()), LeafCount: d.u32()}
	}
	nodes := make([]orderbook.Node, capacity)
	for i := range nodes {
		nodes[i] = d.node()
	}
	if err := d.finish("book"); err != nil {
		return nil, err
	}
	slab, err := orderbook.RestoreSlab(h, nodes)
	if err != nil {
		return nil, fmt.Errorf("decode book: %w", err)
	}
	for _, r := range roots {
		if err := slab.CheckRoot(r); err != nil {
			return nil, fmt.Errorf("decode book: %w", err)
		}
	}
	if roots[0].LeafCount > 0 && roots[1].LeafCount > 0 && roots[0].Handle == roots[1].Handle {
		return nil, fmt.Errorf("decode book: both trees share root %d", roots[0].Handle)
	}
	return orderbook.RestoreBook(marketAddr, slab, roots[0], roots[1], nil), nil
}

// EncodeRecord writes r in its fixed layout.
func EncodeRecord(r *openorders.Record) []byte {
	e := encoder{buf: make([]byte, 0, RecordSize)}
	e.addr(r.Address)
	e.addr(r.Owner)
	e.addr(r.Market)
	e.addr(r.Delegate)
	e.str(r.Name, openorders.MaxNameLen)
	e.u32(r.AccountNum)
	e.u8(r.Version)
	e.i64(r.Position.BidsBaseLots)
	e.i64(r.Position.AsksBaseLots)
	for i := range r.Slots {
		s := &r.Slots[i]
		e.orderID(s.ID)
		e.u64(s.ClientID)
		e.i64(s.LockedPrice)
		e.u8(uint8(s.Side))
		e.bool(s.IsFree)
	}
	return e.buf
}

func DecodeRecord(b []byte) (*openorders.Record, error) {
	d := decoder{buf: b}
	r := &openorders.Record{
		Address:    d.addr(),
		Owner:      d.addr(),
		Market:     d.addr(),
		Delegate:   d.addr(),
		Name:       d.str(openorders.MaxNameLen),
		AccountNum: d.u32(),
		Version:    d.u8(),
	}
	r.Position.BidsBaseLots = d.i64()
	r.Position.AsksBaseLots = d.i64()
	for i := range r.Slots {
		r.Slots[i] = openorders.Slot{
			ID:          d.orderID(),
			ClientID:    d.u64(),
			LockedPrice: d.i64(),
			Side:        core.Side(d.u8()),
			IsFree:      d.bool(),
		}
	}
	return r, d.finish("open orders record")
}

// EncodeIndexer writes the fixed head followed by the address list.
func EncodeIndexer(ix *openorders.Indexer) []byte {
	e := encoder{buf: make([]byte, 0, IndexerSize(len(ix.Addresses)))}
	e.addr(ix.Address)
	e.addr(ix.Owner)
	e.addr(ix.Market)
	e.u32(ix.CreatedCounter)
	e.u32(ix.ClosedCounter)
	e.u32(uint32(len(ix.Addresses)))
	for _, a := range ix.Addresses {
		e.addr(a)
	}
	return e.buf
}

func DecodeIndexer(b []byte) (*openorders.Indexer, error) {
	d := decoder{buf: b}
	ix := &openorders.Indexer{
		Address:        d.addr(),
		Owner:          d.addr(),
		Market:         d.addr(),
		CreatedCounter: d.u32(),
		ClosedCounter:  d.u32(),
	}
	n := int(d.u32())
	if n > openorders.MaxIndexedRecords {
		return nil, fmt.Errorf("decode indexer: %d addresses exceeds %d", n, openorders.MaxIndexedRecords)
	}
	if n > 0 {
		ix.Addresses = make([]common.Address, n)
		for i := range ix.Addresses {
			ix.Addresses[i] = d.addr()
		}
	}
	return ix, d.finish("indexer")
}

func encodeUint64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("decode uint64: %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
