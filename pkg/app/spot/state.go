package spot

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
	"github.com/uhyunpark/hyperbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperbook/pkg/storage"
)

// view is read access to committed or pending state. Returned objects
// belong to the view; writers clone before mutating.
type view interface {
	market(name string) (*market.Market, bool)
	marketName(addr common.Address) (string, bool)
	book(addr common.Address) (*orderbook.Book, bool)
	record(addr common.Address) (*openorders.Record, bool)
	indexer(addr common.Address) (*openorders.Indexer, bool)
	nonce(signer common.Address) uint64
}

// State is the committed engine state.
type State struct {
	markets  *market.MarketRegistry
	books    map[common.Address]*orderbook.Book
	records  map[common.Address]*openorders.Record
	indexers map[common.Address]*openorders.Indexer
	nonces   map[common.Address]uint64
}

func newState() *State {
	return &State{
		markets:  market.NewMarketRegistry(),
		books:    make(map[common.Address]*orderbook.Book),
		records:  make(map[common.Address]*openorders.Record),
		indexers: make(map[common.Address]*openorders.Indexer),
		nonces:   make(map[common.Address]uint64),
	}
}

func (s *State) market(name string) (*market.Market, bool) {
	m, err := s.markets.GetMarket(name)
	return m, err == nil
}

func (s *State) marketName(addr common.Address) (string, bool) {
	m, err := s.markets.GetByAddress(addr)
	if err != nil {
		return "", false
	}
	return m.Name, true
}

func (s *State) book(addr common.Address) (*orderbook.Book, bool) {
	b, ok := s.books[addr]
	return b, ok
}

func (s *State) record(addr common.Address) (*openorders.Record, bool) {
	r, ok := s.records[addr]
	return r, ok
}

func (s *State) indexer(addr common.Address) (*openorders.Indexer, bool) {
	ix, ok := s.indexers[addr]
	return ix, ok
}

func (s *State) nonce(signer common.Address) uint64 { return s.nonces[signer] }

// apply installs a block's writes.
func (s *State) apply(t *txn) {
	for _, m := range t.markets {
		s.markets.Put(m)
	}
	for addr, b := range t.books {
		s.books[addr] = b
	}
	for addr, r := range t.records {
		if r == nil {
			delete(s.records, addr)
		} else {
			s.records[addr] = r
		}
	}
	for addr, ix := range t.indexers {
		if ix == nil {
			delete(s.indexers, addr)
		} else {
			s.indexers[addr] = ix
		}
	}
	for signer, n := range t.nonces {
		s.nonces[signer] = n
	}
}

// txn is a copy-on-write overlay. Every object is cloned from the parent
// the first time it is fetched for writing, so discarding the txn leaves
// the parent untouched. A nil record or indexer marks a deletion.
type txn struct {
	parent   view
	markets  map[string]*market.Market
	books    map[common.Address]*orderbook.Book
	records  map[common.Address]*openorders.Record
	indexers map[common.Address]*openorders.Indexer
	nonces   map[common.Address]uint64
}

func newTxn(parent view) *txn {
	return &txn{
		parent:   parent,
		markets:  make(map[string]*market.Market),
		books:    make(map[common.Address]*orderbook.Book),
		records:  make(map[common.Address]*openorders.Record),
		indexers: make(map[common.Address]*openorders.Indexer),
		nonces:   make(map[common.Address]uint64),
	}
}

func (t *txn) market(name string) (*market.Market, bool) {
	if m, ok := t.markets[name]; ok {
		return m, true
	}
	return t.parent.market(name)
}

func (t *txn) marketName(addr common.Address) (string, bool) { return t.parent.marketName(addr) }

func (t *txn) book(addr common.Address) (*orderbook.Book, bool) {
	if b, ok := t.books[addr]; ok {
		return b, true
	}
	return t.parent.book(addr)
}

func (t *txn) record(addr common.Address) (*openorders.Record, bool) {
	if r, ok := t.records[addr]; ok {
		return r, r != nil
	}
	return t.parent.record(addr)
}

func (t *txn) indexer(addr common.Address) (*openorders.Indexer, bool) {
	if ix, ok := t.indexers[addr]; ok {
		return ix, ix != nil
	}
	return t.parent.indexer(addr)
}

func (t *txn) nonce(signer common.Address) uint64 {
	if n, ok := t.nonces[signer]; ok {
		return n
	}
	return t.parent.nonce(signer)
}

// Writable accessors.

func (t *txn) marketForWrite(name string) (*market.Market, error) {
	if m, ok := t.markets[name]; ok {
		return m, nil
	}
	m, ok := t.parent.market(name)
	if !ok {
		return nil, core.ErrMarketNotFound
	}
	m = m.Clone()
	t.markets[name] = m
	return m, nil
}

func (t *txn) bookForWrite(addr common.Address) (*orderbook.Book, error) {
	if b, ok := t.books[addr]; ok {
		return b, nil
	}
	b, ok := t.parent.book(addr)
	if !ok {
		return nil, core.ErrMarketNotFound
	}
	b = b.Clone()
	t.books[addr] = b
	return b, nil
}

func (t *txn) recordForWrite(addr common.Address) (*openorders.Record, error) {
	if r, ok := t.records[addr]; ok {
		if r == nil {
			return nil, core.ErrRecordNotFound
		}
		return r, nil
	}
	r, ok := t.parent.record(addr)
	if !ok {
		return nil, core.ErrRecordNotFound
	}
	r = r.Clone()
	t.records[addr] = r
	return r, nil
}

func (t *txn) indexerForWrite(addr common.Address) (*openorders.Indexer, bool) {
	if ix, ok := t.indexers[addr]; ok {
		return ix, ix != nil
	}
	ix, ok := t.parent.indexer(addr)
	if !ok {
		return nil, false
	}
	ix = ix.Clone()
	t.indexers[addr] = ix
	return ix, true
}

func (t *txn) putRecord(r *openorders.Record)           { t.records[r.Address] = r }
func (t *txn) deleteRecord(addr common.Address)         { t.records[addr] = nil }
func (t *txn) putIndexer(ix *openorders.Indexer)        { t.indexers[ix.Address] = ix }
func (t *txn) deleteIndexer(addr common.Address)        { t.indexers[addr] = nil }
func (t *txn) setNonce(signer common.Address, n uint64) { t.nonces[signer] = n }

// commitTo merges t into its parent overlay.
func (t *txn) commitTo(dst *txn) {
	for k, v := range t.markets {
		dst.markets[k] = v
	}
	for k, v := range t.books {
		dst.books[k] = v
	}
	for k, v := range t.records {
		dst.records[k] = v
	}
	for k, v := range t.indexers {
		dst.indexers[k] = v
	}
	for k, v := range t.nonces {
		dst.nonces[k] = v
	}
}

// changes lists t's writes in key order for persistence and hashing.
func (t *txn) changes() *storage.Changes {
	c := &storage.Changes{Nonces: make(map[common.Address]uint64, len(t.nonces))}

	names := make([]string, 0, len(t.markets))
	for name := range t.markets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c.Markets = append(c.Markets, t.markets[name])
	}

	for _, addr := range sortedAddrs(t.books) {
		c.Books = append(c.Books, t.books[addr])
	}
	for _, addr := range sortedAddrs(t.records) {
		if r := t.records[addr]; r != nil {
			c.Records = append(c.Records, r)
		} else {
			c.DeletedRecords = append(c.DeletedRecords, addr)
		}
	}
	for _, addr := range sortedAddrs(t.indexers) {
		if ix := t.indexers[addr]; ix != nil {
			c.Indexers = append(c.Indexers, ix)
		} else {
			c.DeletedIndexers = append(c.DeletedIndexers, addr)
		}
	}
	for signer, n := range t.nonces {
		c.Nonces[signer] = n
	}
	return c
}

func sortedAddrs[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
