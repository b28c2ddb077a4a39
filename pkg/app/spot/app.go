package spot

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbook/params"
	"github.com/uhyunpark/hyperbook/pkg/abci"
	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
	"github.com/uhyunpark/hyperbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperbook/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbook/pkg/crypto"
	"github.com/uhyunpark/hyperbook/pkg/metrics"
	"github.com/uhyunpark/hyperbook/pkg/storage"
)

type Config struct {
	SlabCapacity int
	ChainID      int64
	Genesis      []params.GenesisMarket
}

// BlockEvent describes a finalized block to subscribers.
type BlockEvent struct {
	Height  uint64
	Time    int64
	AppHash [32]byte
	Results []abci.TxResult
	Markets []string // markets whose book changed
}

// App is the spot order-lifecycle application. Instructions are applied
// one block at a time; each instruction either fully applies or leaves no
// trace, and a block is visible to readers only once it is persisted.
type App struct {
	mu sync.RWMutex

	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	store    storage.StateStore
	journal  storage.Journal
	log      *zap.SugaredLogger

	slabCapacity int

	state    *State
	height   uint64
	appHash  [32]byte
	lastTime int64

	// OnBlock is called after every persisted block, outside the app lock.
	OnBlock func(BlockEvent)
}

// New restores the app from store, creating the genesis markets when the
// store is empty.
func New(cfg Config, store storage.StateStore, journal storage.Journal, log *zap.SugaredLogger) (*App, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if journal == nil {
		journal = storage.NewNopWAL()
	}
	if cfg.SlabCapacity <= 0 {
		cfg.SlabCapacity = orderbook.DefaultSlabCapacity
	}
	a := &App{
		mempool:      mempool.NewMempool(),
		verifier:     transaction.NewVerifier(crypto.DomainForChain(cfg.ChainID)),
		store:        store,
		journal:      journal,
		log:          log,
		slabCapacity: cfg.SlabCapacity,
		state:        newState(),
	}

	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if len(snap.Markets) == 0 {
		if err := a.initGenesis(cfg.Genesis); err != nil {
			return nil, err
		}
		return a, nil
	}
	if err := a.restore(snap); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) initGenesis(markets []params.GenesisMarket) error {
	t := newTxn(a.state)
	for _, g := range markets {
		admin, err := transaction.ParseOptionalAddress("close_market_admin", g.CloseMarketAdmin)
		if err != nil {
			return fmt.Errorf("genesis market %s: %w", g.Name, err)
		}
		m, err := market.NewMarket(g.Name, market.Params{
			BaseLotSize:      g.BaseLotSize,
			QuoteLotSize:     g.QuoteLotSize,
			BaseDecimals:     g.BaseDecimals,
			QuoteDecimals:    g.QuoteDecimals,
			MakerFee:         g.MakerFee,
			TakerFee:         g.TakerFee,
			TimeExpiry:       g.TimeExpiry,
			CloseMarketAdmin: admin,
		})
		if err != nil {
			return fmt.Errorf("genesis market %s: %w", g.Name, err)
		}
		if _, dup := t.markets[m.Name]; dup {
			return fmt.Errorf("genesis market %s: %w", g.Name, core.ErrInvalidInput)
		}
		t.markets[m.Name] = m
		t.books[m.Address] = orderbook.NewBook(m.Address, a.slabCapacity, a.log)
	}

	c := t.changes()
	hash := genesisHash(c)
	if err := a.store.Commit(&storage.Block{Height: 0, AppHash: hash}, c); err != nil {
		return fmt.Errorf("failed to persist genesis: %w", err)
	}
	a.state.apply(t)
	a.appHash = hash
	a.log.Infow("genesis_created", "markets", len(markets), "apphash", fmt.Sprintf("0x%x", hash[:8]))
	return nil
}

func (a *App) restore(snap *storage.Snapshot) error {
	for _, m := range snap.Markets {
		b, ok := snap.Books[m.Address]
		if !ok {
			return fmt.Errorf("market %s has no book", m.Name)
		}
		a.state.markets.Put(m)
		a.state.books[m.Address] = orderbook.RestoreBook(m.Address, b.Slab(), b.Bids().Root(), b.Asks().Root(), a.log)
	}
	a.state.records = snap.Records
	a.state.indexers = snap.Indexers
	a.state.nonces = snap.Nonces
	a.height = snap.Height
	a.appHash = snap.AppHash

	if snap.Height > 0 {
		blk, ok, err := a.store.GetBlock(snap.Height)
		if err != nil {
			return fmt.Errorf("failed to read block %d: %w", snap.Height, err)
		}
		if ok {
			a.lastTime = blk.Time
		}
	}
	a.log.Infow("state_restored",
		"height", a.height,
		"markets", len(snap.Markets),
		"records", len(snap.Records),
		"apphash", fmt.Sprintf("0x%x", a.appHash[:8]))
	return nil
}

// SubmitTx runs the stateless checks and queues raw for the next block.
func (a *App) SubmitTx(raw []byte) (*transaction.Instruction, error) {
	ix, err := transaction.ParseInstruction(raw)
	if err != nil {
		return nil, err
	}
	if _, err := a.verifier.Verify(ix); err != nil {
		return nil, err
	}
	a.mempool.PushRaw(raw)
	metrics.MempoolSize.Set(float64(a.mempool.Len()))
	return ix, nil
}

// PushTx queues raw without checks. Used by replay and tests.
func (a *App) PushTx(raw []byte) { a.mempool.PushRaw(raw) }

func (a *App) Info(abci.RequestInfo) abci.ResponseInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return abci.ResponseInfo{LastBlockHeight: a.height, LastBlockAppHash: a.appHash, LastBlockTime: a.lastTime}
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	metrics.MempoolSize.Set(float64(a.mempool.Len()))
	return abci.ResponsePrepareProposal{Txs: txs}
}

func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for _, tx := range req.Txs {
		if len(tx) == 0 {
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies every instruction in order, persists the result and
// only then makes it visible. On a persistence error the block is dropped
// entirely.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	a.mu.Lock()

	if req.Height != a.height+1 {
		a.mu.Unlock()
		return abci.ResponseFinalizeBlock{}, fmt.Errorf("block height %d does not follow %d", req.Height, a.height)
	}

	block := newTxn(a.state)
	results := make([]abci.TxResult, len(req.Txs))
	for i, raw := range req.Txs {
		results[i] = a.deliverTx(block, raw, req.Height, req.Timestamp)
	}

	changes := block.changes()
	hash := computeAppHash(a.appHash, req.Height, req.Timestamp, req.Txs, results, changes)
	err := a.store.Commit(&storage.Block{
		Height:  req.Height,
		Time:    req.Timestamp,
		Txs:     req.Txs,
		AppHash: hash,
	}, changes)
	if err != nil {
		a.mu.Unlock()
		return abci.ResponseFinalizeBlock{}, fmt.Errorf("failed to persist block %d: %w", req.Height, err)
	}

	a.state.apply(block)
	a.height = req.Height
	a.appHash = hash
	a.lastTime = req.Timestamp

	touched := make([]string, 0, len(changes.Books))
	for _, b := range changes.Books {
		name, _ := a.state.marketName(b.Market)
		touched = append(touched, name)
		metrics.BookOrders.WithLabelValues(name, core.Bid.String()).Set(float64(b.Bids().Len()))
		metrics.BookOrders.WithLabelValues(name, core.Ask.String()).Set(float64(b.Asks().Len()))
		metrics.SlabFreeNodes.WithLabelValues(name).Set(float64(b.Slab().FreeCount()))
	}
	sort.Strings(touched)
	metrics.BlocksFinalized.Inc()
	metrics.BlockHeight.Set(float64(req.Height))

	onBlock := a.OnBlock
	a.mu.Unlock()

	if onBlock != nil {
		onBlock(BlockEvent{Height: req.Height, Time: req.Timestamp, AppHash: hash, Results: results, Markets: touched})
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: hash}, nil
}

// deliverTx verifies and applies one instruction against block. The nonce
// is consumed once the signature checks out, even if the instruction is
// then rejected.
func (a *App) deliverTx(block *txn, raw []byte, height uint64, now int64) abci.TxResult {
	ix, err := transaction.ParseInstruction(raw)
	if err != nil {
		return a.reject(height, nil, common.Address{}, err, metrics.ResultInvalid)
	}
	signer, err := a.verifier.Verify(ix)
	if err != nil {
		return a.reject(height, ix, common.Address{}, err, metrics.ResultInvalid)
	}
	nonce, _ := ix.NonceValue()
	if last := block.nonce(signer); nonce <= last {
		return a.reject(height, ix, signer, fmt.Errorf("%w: %d <= %d", ErrStaleNonce, nonce, last), metrics.ResultInvalid)
	}
	block.setNonce(signer, nonce)

	t := newTxn(block)
	detail, err := handlers[ix.Kind](&execCtx{t: t, ix: ix, signer: signer, now: now})
	if err != nil {
		return a.reject(height, ix, signer, err, metrics.ResultRejected)
	}
	t.commitTo(block)

	metrics.InstructionsTotal.WithLabelValues(string(ix.Kind), metrics.ResultOK).Inc()
	a.log.Infow("instruction_applied",
		"height", height,
		"kind", ix.Kind,
		"market", ix.Market,
		"signer", signer.Hex(),
		"nonce", nonce,
		"result", detail)
	a.journal.Append(fmt.Sprintf("h=%d kind=%s market=%s signer=%s nonce=%d code=0 %s",
		height, ix.Kind, ix.Market, signer.Hex(), nonce, detail))
	return abci.TxResult{Code: CodeOK, Log: detail}
}

func (a *App) reject(height uint64, ix *transaction.Instruction, signer common.Address, err error, result string) abci.TxResult {
	code := ResultCode(err)
	kind := "unknown"
	market := ""
	if ix != nil {
		kind = string(ix.Kind)
		market = ix.Market
	}
	metrics.InstructionsTotal.WithLabelValues(kind, result).Inc()
	a.log.Warnw("instruction_rejected",
		"height", height,
		"kind", kind,
		"market", market,
		"signer", signer.Hex(),
		"code", code,
		"err", err)
	a.journal.Append(fmt.Sprintf("h=%d kind=%s market=%s signer=%s code=%d err=%q",
		height, kind, market, signer.Hex(), code, err.Error()))
	return abci.TxResult{Code: code, Log: err.Error()}
}

// Queries. Everything returned is a copy owned by the caller.

// Status is the chain head as seen by readers.
type Status struct {
	Height  uint64
	AppHash [32]byte
	Time    int64
	Pending int
}

func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Status{Height: a.height, AppHash: a.appHash, Time: a.lastTime, Pending: a.mempool.Len()}
}

func (a *App) Markets() []*market.Market {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.state.markets.ListMarkets()
	out := make([]*market.Market, len(list))
	for i, m := range list {
		out[i] = m.Clone()
	}
	return out
}

func (a *App) Market(name string) (*market.Market, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.state.market(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMarketNotFound, name)
	}
	return m.Clone(), nil
}

// Depth returns up to depth aggregated levels per side, best first.
func (a *App) Depth(name string, depth int) (bids, asks []orderbook.PriceLevel, err error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, err := a.bookLocked(name)
	if err != nil {
		return nil, nil, err
	}
	return b.Levels(core.Bid, depth), b.Levels(core.Ask, depth), nil
}

// Orders lists resting orders of side in priority order.
func (a *App) Orders(name string, side core.Side) ([]orderbook.LeafNode, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, err := a.bookLocked(name)
	if err != nil {
		return nil, err
	}
	return b.Tree(side).Leaves(), nil
}

func (a *App) bookLocked(name string) (*orderbook.Book, error) {
	m, ok := a.state.market(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMarketNotFound, name)
	}
	b, ok := a.state.book(m.Address)
	if !ok {
		return nil, fmt.Errorf("%w: book of %s", core.ErrMarketNotFound, name)
	}
	return b, nil
}

func (a *App) Record(addr common.Address) (*openorders.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.state.record(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRecordNotFound, addr.Hex())
	}
	return r.Clone(), nil
}

// RecordOrders returns the book leaves owned by a record.
func (a *App) RecordOrders(addr common.Address) ([]orderbook.LeafNode, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.state.record(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRecordNotFound, addr.Hex())
	}
	b, ok := a.state.book(r.Market)
	if !ok {
		return nil, core.ErrMarketNotFound
	}
	return b.OrdersOf(addr), nil
}

// Indexer returns owner's indexer for the named market.
func (a *App) Indexer(owner common.Address, marketName string) (*openorders.Indexer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, ok := a.state.market(marketName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMarketNotFound, marketName)
	}
	ix, ok := a.state.indexer(openorders.DeriveIndexerAddress(owner, m.Address))
	if !ok {
		return nil, ErrIndexerNotFound
	}
	return ix.Clone(), nil
}

// Nonce is the last accepted nonce of signer.
func (a *App) Nonce(signer common.Address) uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.nonce(signer)
}

// Verifier exposes the instruction signing domain to clients of the app.
func (a *App) Verifier() *transaction.Verifier { return a.verifier }

// IsNotFound reports whether err should surface as a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, core.ErrNotFound) }

var _ abci.Application = (*App)(nil)
