package storage

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
	"github.com/uhyunpark/hyperbook/pkg/app/core/orderbook"
)

const now int64 = 1_700_000_000

type fixture struct {
	market  *market.Market
	book    *orderbook.Book
	record  *openorders.Record
	indexer *openorders.Indexer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m, err := market.NewMarket("SOL-USDC", market.Params{
		BaseLotSize:      1_000_000,
		QuoteLotSize:     1,
		BaseDecimals:     9,
		QuoteDecimals:    6,
		MakerFee:         -200,
		TakerFee:         400,
		CloseMarketAdmin: common.HexToAddress("0xAD"),
	})
	require.NoError(t, err)

	owner := common.HexToAddress("0x1111")
	ix := openorders.NewIndexer(owner, m.Address)
	num, err := ix.NextAccountNum()
	require.NoError(t, err)
	r, err := openorders.NewRecord(owner, m.Address, common.HexToAddress("0x2222"), "maker", num)
	require.NoError(t, err)
	require.NoError(t, ix.Register(r.Address))

	b := orderbook.NewBook(m.Address, 16, nil)
	for _, o := range []orderbook.NewOrder{
		{Side: core.Bid, Price: 100, Quantity: 5, ClientOrderID: 1},
		{Side: core.Bid, Price: 99, Quantity: 3, ClientOrderID: 2},
		{Side: core.Ask, Price: 105, Quantity: 7, ClientOrderID: 3},
	} {
		_, err := b.PlaceOrder(r, m, o, now)
		require.NoError(t, err)
	}
	return &fixture{market: m, book: b, record: r, indexer: ix}
}

func TestCodec_FixedSizes(t *testing.T) {
	f := newFixture(t)

	assert.Len(t, EncodeMarket(f.market), MarketSize)
	assert.Len(t, EncodeRecord(f.record), RecordSize)
	assert.Len(t, EncodeBook(f.book), BookSize(16))

	empty := orderbook.NewBook(f.market.Address, 16, nil)
	assert.Len(t, EncodeBook(empty), BookSize(16), "book size must not depend on order count")

	before := len(EncodeIndexer(f.indexer))
	require.NoError(t, f.indexer.Register(common.HexToAddress("0x3333")))
	assert.Equal(t, before+20, len(EncodeIndexer(f.indexer)))
}

func TestCodec_BookKeepsWorking(t *testing.T) {
	f := newFixture(t)

	restored, err := DecodeBook(EncodeBook(f.book))
	require.NoError(t, err)
	assert.Equal(t, f.book.Bids().Leaves(), restored.Bids().Leaves())
	assert.Equal(t, f.book.Asks().Leaves(), restored.Asks().Leaves())
	assert.Equal(t, f.book.Slab().Header(), restored.Slab().Header())

	rec, err := DecodeRecord(EncodeRecord(f.record))
	require.NoError(t, err)
	assert.Equal(t, f.record, rec)

	m, err := DecodeMarket(EncodeMarket(f.market))
	require.NoError(t, err)
	assert.Equal(t, f.market, m)

	// The restored state must accept further mutations.
	best, ok := restored.BestPrice(core.Bid)
	require.True(t, ok)
	assert.Equal(t, int64(100), best)

	slot, ok := rec.FindOrderWithClientOrderID(1)
	require.True(t, ok)
	_, err = restored.CancelOrder(rec, rec.Order(slot).ID, nil, nil)
	require.NoError(t, err)
	best, _ = restored.BestPrice(core.Bid)
	assert.Equal(t, int64(99), best)

	_, err = restored.PlaceOrder(rec, m, orderbook.NewOrder{Side: core.Ask, Price: 104, Quantity: 1}, now)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.OpenOrderCount())
}

func TestCodec_Rejects(t *testing.T) {
	f := newFixture(t)

	enc := EncodeBook(f.book)
	_, err := DecodeBook(enc[:len(enc)-1])
	assert.Error(t, err)

	_, err = DecodeRecord(append(EncodeRecord(f.record), 0))
	assert.Error(t, err)

	_, err = DecodeMarket(EncodeMarket(f.market)[:10])
	assert.Error(t, err)

	ix := EncodeIndexer(f.indexer)
	_, err = DecodeIndexer(ix[:len(ix)-5])
	assert.Error(t, err)

	_, err = DecodeBlock([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCodec_RejectsCorruptBookHeader(t *testing.T) {
	f := newFixture(t)
	enc := EncodeBook(f.book)
	_, err := DecodeBook(enc)
	require.NoError(t, err)

	const (
		freeHeadAt = 20 + 4 + 4 + 4
		bidRootAt  = freeHeadAt + 4
		askRootAt  = bidRootAt + 8
	)
	tests := []struct {
		name string
		at   int
		v    uint32
	}{
		{"bid root past capacity", bidRootAt, 1 << 20},
		{"ask root past capacity", askRootAt, 1 << 20},
		{"asks share the bid root", askRootAt, uint32(f.book.Bids().Root().Handle)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := append([]byte(nil), enc...)
			binary.BigEndian.PutUint32(bad[tt.at:], tt.v)
			_, err := DecodeBook(bad)
			assert.Error(t, err)
		})
	}

	// A free list head is only followed when the list is non-empty.
	_, err = f.book.CancelOrder(f.record, core.OrderIDFromSeq(1), nil, nil)
	require.NoError(t, err)
	enc = EncodeBook(f.book)
	_, err = DecodeBook(enc)
	require.NoError(t, err)
	bad := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(bad[freeHeadAt:], 1<<20)
	_, err = DecodeBook(bad)
	assert.Error(t, err)
}

func TestCodec_Block(t *testing.T) {
	b := &Block{Height: 7, Time: now, Txs: [][]byte{[]byte(`{"kind":"a"}`), {}, []byte("x")}}
	b.AppHash[0] = 0xAB

	got, err := DecodeBlock(EncodeBlock(b))
	require.NoError(t, err)
	assert.Equal(t, b.Height, got.Height)
	assert.Equal(t, b.Time, got.Time)
	assert.Equal(t, b.AppHash, got.AppHash)
	require.Len(t, got.Txs, 3)
	assert.Equal(t, "x", string(got.Txs[2]))
	assert.Empty(t, got.Txs[1])
}

func testStore(t *testing.T, open func() StateStore, reopen func(StateStore) StateStore) {
	f := newFixture(t)
	s := open()

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, snap.Height)
	assert.Empty(t, snap.Markets)

	signer := common.HexToAddress("0x1111")
	b1 := &Block{Height: 1, Time: now, Txs: [][]byte{[]byte("tx1")}}
	b1.AppHash[31] = 1
	require.NoError(t, s.Commit(b1, &Changes{
		Markets:  []*market.Market{f.market},
		Books:    []*orderbook.Book{f.book},
		Records:  []*openorders.Record{f.record},
		Indexers: []*openorders.Indexer{f.indexer},
		Nonces:   map[common.Address]uint64{signer: 4},
	}))

	s = reopen(s)
	snap, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.Height)
	assert.Equal(t, b1.AppHash, snap.AppHash)
	require.Len(t, snap.Markets, 1)
	assert.Equal(t, f.market, snap.Markets[0])
	require.Contains(t, snap.Books, f.market.Address)
	assert.Equal(t, f.book.Bids().Leaves(), snap.Books[f.market.Address].Bids().Leaves())
	assert.Equal(t, f.record, snap.Records[f.record.Address])
	assert.Equal(t, f.indexer, snap.Indexers[f.indexer.Address])
	assert.Equal(t, uint64(4), snap.Nonces[signer])

	b2 := &Block{Height: 2, Time: now + 1}
	require.NoError(t, s.Commit(b2, &Changes{DeletedRecords: []common.Address{f.record.Address}}))
	snap, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Height)
	assert.NotContains(t, snap.Records, f.record.Address)
	assert.Contains(t, snap.Indexers, f.indexer.Address)

	got, ok, err := s.GetBlock(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, [][]byte{[]byte("tx1")}, got.Txs)

	_, ok, err = s.GetBlock(99)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Close())
}

func TestPebbleStore_CommitAndReload(t *testing.T) {
	dir := t.TempDir()
	open := func() StateStore {
		s, err := NewPebbleStore(dir)
		require.NoError(t, err)
		return s
	}
	testStore(t, open, func(s StateStore) StateStore {
		require.NoError(t, s.Close())
		return open()
	})
}

func TestPebbleStore_Nonce(t *testing.T) {
	s, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	signer := common.HexToAddress("0xBEEF")
	n, err := s.Nonce(signer)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Commit(&Block{Height: 1}, &Changes{Nonces: map[common.Address]uint64{signer: 9}}))
	n, err = s.Nonce(signer)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), n)
}

func TestMemStore_CommitAndReload(t *testing.T) {
	testStore(t, func() StateStore { return NewMemStore() }, func(s StateStore) StateStore { return s })
}

func TestMemStore_FailCommits(t *testing.T) {
	s := NewMemStore()
	boom := errors.New("disk full")
	s.FailCommits(boom)
	require.ErrorIs(t, s.Commit(&Block{Height: 1}, nil), boom)

	snap, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, snap.Height)

	s.FailCommits(nil)
	require.NoError(t, s.Commit(&Block{Height: 1}, nil))
}

func TestMemWAL(t *testing.T) {
	var w MemWAL
	w.Append("a")
	w.Append("b")
	assert.Equal(t, []string{"a", "b"}, w.Lines())
}
