package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbook/params"
	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/market"
	"github.com/uhyunpark/hyperbook/pkg/app/core/openorders"
	"github.com/uhyunpark/hyperbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperbook/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperbook/pkg/app/spot"
)

const (
	defaultDepth   = 20
	maxDepth       = 500
	maxRequestBody = 64 << 10
)

// Server handles REST API and WebSocket connections
type Server struct {
	app    *spot.App
	router *mux.Router
	hub    *Hub
	cfg    params.API
	log    *zap.SugaredLogger
}

func NewServer(app *spot.App, cfg params.API, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		app:    app,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		cfg:    cfg,
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Markets
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orders", s.handleGetMarketOrders).Methods("GET")

	// Open orders records and indexers
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/indexers/{owner}/{symbol}", s.handleGetIndexer).Methods("GET")
	api.HandleFunc("/signers/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Chain
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// Signed instruction submission
	api.HandleFunc("/instructions", s.handleSubmitInstruction).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler is the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Hub exposes the websocket hub so callers can run it alongside a custom
// listener.
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on cfg.Addr until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("api_listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	now := s.app.Status().Time
	markets := s.app.Markets()
	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = marketInfo(m, now)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	m, err := s.app.Market(mux.Vars(r)["symbol"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, marketInfo(m, s.app.Status().Time))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	depth, err := depthParam(r)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	snap, err := s.orderbook(symbol, depth)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetMarketOrders(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	m, err := s.app.Market(symbol)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	sides := []core.Side{core.Bid, core.Ask}
	if v := r.URL.Query().Get("side"); v != "" {
		side, err := core.ParseSide(v)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		sides = []core.Side{side}
	}
	response := []OrderInfo{}
	for _, side := range sides {
		leaves, err := s.app.Orders(symbol, side)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		response = append(response, orderInfos(m, leaves)...)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addressVar(r, "address")
	if err != nil {
		s.respondErr(w, err)
		return
	}
	rec, err := s.app.Record(addr)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, accountInfo(rec))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addr, err := addressVar(r, "address")
	if err != nil {
		s.respondErr(w, err)
		return
	}
	rec, err := s.app.Record(addr)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	leaves, err := s.app.RecordOrders(addr)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	var m *market.Market
	for _, candidate := range s.app.Markets() {
		if candidate.Address == rec.Market {
			m = candidate
			break
		}
	}
	if m == nil {
		s.respondErr(w, core.ErrMarketNotFound)
		return
	}
	respondJSON(w, orderInfos(m, leaves))
}

func (s *Server) handleGetIndexer(w http.ResponseWriter, r *http.Request) {
	owner, err := addressVar(r, "owner")
	if err != nil {
		s.respondErr(w, err)
		return
	}
	ix, err := s.app.Indexer(owner, mux.Vars(r)["symbol"])
	if err != nil {
		s.respondErr(w, err)
		return
	}
	accounts := make([]string, len(ix.Addresses))
	for i, a := range ix.Addresses {
		accounts[i] = a.Hex()
	}
	respondJSON(w, IndexerInfo{
		Address:        ix.Address.Hex(),
		Owner:          ix.Owner.Hex(),
		Market:         ix.Market.Hex(),
		CreatedCounter: ix.CreatedCounter,
		ClosedCounter:  ix.ClosedCounter,
		Accounts:       accounts,
	})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, err := addressVar(r, "address")
	if err != nil {
		s.respondErr(w, err)
		return
	}
	respondJSON(w, NonceInfo{Signer: addr.Hex(), Nonce: s.app.Nonce(addr)})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	st := s.app.Status()
	respondJSON(w, ChainStatus{
		Height:      st.Height,
		AppHash:     common.Hash(st.AppHash).Hex(),
		BlockTime:   st.Time,
		MempoolSize: st.Pending,
	})
}

func (s *Server) handleSubmitInstruction(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(raw) > maxRequestBody {
		respondError(w, http.StatusRequestEntityTooLarge, "body too large", "")
		return
	}

	ix, err := s.app.SubmitTx(raw)
	if err != nil {
		s.log.Debugw("instruction_refused", "remote", r.RemoteAddr, "err", err)
		s.respondErr(w, err)
		return
	}

	hash := ethcrypto.Keccak256Hash(raw).Hex()
	s.log.Infow("instruction_queued",
		"hash", hash,
		"kind", ix.Kind,
		"market", ix.Market,
		"signer", ix.Signer,
		"nonce", ix.Nonce)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{
		Status: "queued",
		Hash:   hash,
		Kind:   string(ix.Kind),
		Signer: ix.Signer,
		Nonce:  ix.Nonce,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called after each block)
// ==============================

// OnBlock pushes the block summary and the books it touched.
func (s *Server) OnBlock(ev spot.BlockEvent) {
	results := make([]TxResult, len(ev.Results))
	rejected := 0
	for i, res := range ev.Results {
		results[i] = TxResult{Code: res.Code, Log: res.Log}
		if res.Code != spot.CodeOK {
			rejected++
		}
	}
	s.hub.BroadcastToChannel("blocks", BlockUpdate{
		Type:     "block",
		Height:   ev.Height,
		Time:     ev.Time,
		AppHash:  common.Hash(ev.AppHash).Hex(),
		Results:  results,
		Markets:  ev.Markets,
		Rejected: rejected,
	})
	for _, symbol := range ev.Markets {
		s.BroadcastOrderbook(symbol)
	}
}

func (s *Server) BroadcastOrderbook(symbol string) {
	snap, err := s.orderbook(symbol, defaultDepth)
	if err != nil {
		s.log.Warnw("orderbook_broadcast_failed", "market", symbol, "err", err)
		return
	}
	s.hub.BroadcastToChannel("orderbook:"+symbol, OrderbookUpdate{
		Type:   "orderbook",
		Symbol: symbol,
		Bids:   snap.Bids,
		Asks:   snap.Asks,
		Height: snap.Height,
		Time:   snap.Time,
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) orderbook(symbol string, depth int) (*OrderbookSnapshot, error) {
	m, err := s.app.Market(symbol)
	if err != nil {
		return nil, err
	}
	bids, asks, err := s.app.Depth(symbol, depth)
	if err != nil {
		return nil, err
	}
	st := s.app.Status()
	return &OrderbookSnapshot{
		Symbol: symbol,
		Bids:   priceLevels(m, bids),
		Asks:   priceLevels(m, asks),
		Height: st.Height,
		Time:   st.Time,
	}, nil
}

func marketInfo(m *market.Market, now int64) MarketInfo {
	info := MarketInfo{
		Symbol:        m.Name,
		Address:       m.Address.Hex(),
		Status:        m.Status(now).String(),
		BaseLotSize:   m.BaseLotSize,
		QuoteLotSize:  m.QuoteLotSize,
		BaseDecimals:  m.BaseDecimals,
		QuoteDecimals: m.QuoteDecimals,
		TickSizeUI:    m.PriceLotsToUI(1),
		LotSizeUI:     m.BaseLotsToUI(1),
		MakerFee:      m.MakerFee,
		TakerFee:      m.TakerFee,
		TimeExpiry:    m.TimeExpiry,
		SeqNum:        m.SeqNum,
	}
	if m.HasCloseAdmin() {
		info.CloseMarketAdmin = m.CloseMarketAdmin.Hex()
	}
	return info
}

func priceLevels(m *market.Market, levels []orderbook.PriceLevel) []PriceLevel {
	out := make([]PriceLevel, len(levels))
	for i, l := range levels {
		out[i] = PriceLevel{
			Price:   l.Price,
			Size:    l.Quantity,
			Orders:  l.Orders,
			PriceUI: m.PriceLotsToUI(l.Price),
			SizeUI:  m.BaseLotsToUI(l.Quantity),
		}
	}
	return out
}

func orderInfos(m *market.Market, leaves []orderbook.LeafNode) []OrderInfo {
	out := make([]OrderInfo, len(leaves))
	for i, l := range leaves {
		out[i] = OrderInfo{
			ID:            l.OrderID.String(),
			ClientOrderID: l.ClientOrderID,
			Account:       l.Owner.Hex(),
			Side:          l.Side.String(),
			Price:         l.Price,
			Size:          l.Quantity,
			PriceUI:       m.PriceLotsToUI(l.Price),
			SizeUI:        m.BaseLotsToUI(l.Quantity),
			Timestamp:     l.Timestamp,
		}
	}
	return out
}

func accountInfo(rec *openorders.Record) AccountInfo {
	info := AccountInfo{
		Address:      rec.Address.Hex(),
		Owner:        rec.Owner.Hex(),
		Market:       rec.Market.Hex(),
		Name:         rec.Name,
		AccountNum:   rec.AccountNum,
		BidsBaseLots: rec.Position.BidsBaseLots,
		AsksBaseLots: rec.Position.AsksBaseLots,
		Slots:        []SlotInfo{},
	}
	if rec.HasDelegate() {
		info.Delegate = rec.Delegate.Hex()
	}
	for i := 0; i < openorders.MaxOpenOrders; i++ {
		slot := rec.Order(i)
		if slot.IsFree {
			continue
		}
		info.Slots = append(info.Slots, SlotInfo{
			Slot:          i,
			OrderID:       slot.ID.String(),
			ClientOrderID: slot.ClientID,
			Side:          slot.Side.String(),
			LockedPrice:   slot.LockedPrice,
		})
	}
	return info
}

func addressVar(r *http.Request, name string) (common.Address, error) {
	return transaction.ParseAddress(name, mux.Vars(r)[name])
}

func depthParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("depth")
	if v == "" {
		return defaultDepth, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxDepth {
		return 0, fmt.Errorf("%w: depth must be 1..%d", core.ErrInvalidInput, maxDepth)
	}
	return n, nil
}

// statusFor maps an engine error kind onto an HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusBadRequest, "bad signature"
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, core.ErrNotOwner):
		return http.StatusForbidden, "not owner"
	case errors.Is(err, core.ErrMarketExpired), errors.Is(err, core.ErrMarketNotExpired):
		return http.StatusConflict, "market state"
	case errors.Is(err, core.ErrCapacityExceeded):
		return http.StatusConflict, "capacity exceeded"
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest, "invalid input"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status, kind := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Errorw("api_internal_error", "err", err)
	}
	respondError(w, status, kind, err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
