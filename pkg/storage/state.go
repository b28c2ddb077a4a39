package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
	"github.com/uhyunpark/hyperbook/pkg/app/core/orderbook"
)

// Block is a finalized batch of raw instructions. Txs are kept exactly as
// received so their signatures can be re-verified on replay.
type Block struct {
	Height  uint64
	Time    int64
	Txs     [][]byte
	AppHash [32]byte
}

// Changes is the state a block wrote. Deleted entities are listed by
// address; everything else is written whole.
type Changes struct {
	Markets         []*market.Market
	Books           []*orderbook.Book
	Records         []*openorders.Record
	Indexers        []*openorders.Indexer
	Nonces          map[common.Address]uint64
	DeletedRecords  []common.Address
	DeletedIndexers []common.Address
}

func (c *Changes) IsEmpty() bool {
	return len(c.Markets) == 0 && len(c.Books) == 0 && len(c.Records) == 0 &&
		len(c.Indexers) == 0 && len(c.Nonces) == 0 &&
		len(c.DeletedRecords) == 0 && len(c.DeletedIndexers) == 0
}

// Snapshot is the full state read back at boot.
type Snapshot struct {
	Height   uint64
	AppHash  [32]byte
	Markets  []*market.Market
	Books    map[common.Address]*orderbook.Book
	Records  map[common.Address]*openorders.Record
	Indexers map[common.Address]*openorders.Indexer
	Nonces   map[common.Address]uint64
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Books:    make(map[common.Address]*orderbook.Book),
		Records:  make(map[common.Address]*openorders.Record),
		Indexers: make(map[common.Address]*openorders.Indexer),
		Nonces:   make(map[common.Address]uint64),
	}
}

// StateStore persists finalized blocks and the state they produced. Commit
// is atomic: either the block and all of its changes are durable or none
// are.
type StateStore interface {
	Commit(b *Block, c *Changes) error
	Load() (*Snapshot, error)
	GetBlock(height uint64) (*Block, bool, error)
	Close() error
}

func EncodeBlock(b *Block) []byte {
	size := 8 + 8 + 32 + 4
	for _, tx := range b.Txs {
		size += 4 + len(tx)
	}
	e := encoder{buf: make([]byte, 0, size)}
	e.u64(b.Height)
	e.i64(b.Time)
	e.raw(b.AppHash[:])
	e.u32(uint32(len(b.Txs)))
	for _, tx := range b.Txs {
		e.u32(uint32(len(tx)))
		e.raw(tx)
	}
	return e.buf
}

func DecodeBlock(data []byte) (*Block, error) {
	d := decoder{buf: data}
	b := &Block{Height: d.u64(), Time: d.i64()}
	copy(b.AppHash[:], d.take(32))
	n := int(d.u32())
	if d.err == nil && n > len(d.buf)/4 {
		return nil, fmt.Errorf("decode block: %d txs in %d bytes", n, len(d.buf))
	}
	for i := 0; i < n && d.err == nil; i++ {
		size := int(d.u32())
		tx := make([]byte, size)
		copy(tx, d.take(size))
		b.Txs = append(b.Txs, tx)
	}
	return b, d.finish("block")
}

func encodeCommitted(height uint64, appHash [32]byte) []byte {
	e := encoder{buf: make([]byte, 0, 40)}
	e.u64(height)
	e.raw(appHash[:])
	return e.buf
}

func decodeCommitted(data []byte) (uint64, [32]byte, error) {
	d := decoder{buf: data}
	var h [32]byte
	height := d.u64()
	copy(h[:], d.take(32))
	return height, h, d.finish("committed marker")
}
