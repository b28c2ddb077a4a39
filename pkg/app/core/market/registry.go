package market

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/btree"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

// MarketRegistry indexes markets by name (ordered, for deterministic
// iteration in state hashing and listings) and by address.
type MarketRegistry struct {
	mu        sync.RWMutex
	byName    *btree.Map[string, *Market]
	byAddress map[common.Address]string
}

// NewMarketRegistry creates an empty market registry.
func NewMarketRegistry() *MarketRegistry {
	return &MarketRegistry{
		byName:    btree.NewMap[string, *Market](32),
		byAddress: make(map[common.Address]string),
	}
}

// RegisterMarket adds a new market.
// Returns error if a market with the same name already exists.
func (mr *MarketRegistry) RegisterMarket(m *Market) error {
	if m == nil {
		return fmt.Errorf("%w: cannot register nil market", core.ErrInvalidInput)
	}

	mr.mu.Lock()
	defer mr.mu.Unlock()

	if _, exists := mr.byName.Get(m.Name); exists {
		return fmt.Errorf("%w: market %s already registered", core.ErrInvalidInput, m.Name)
	}
	mr.byName.Set(m.Name, m)
	mr.byAddress[m.Address] = m.Name
	return nil
}

// Put stores m, replacing any market with the same name.
func (mr *MarketRegistry) Put(m *Market) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	mr.byName.Set(m.Name, m)
	mr.byAddress[m.Address] = m.Name
}

// GetMarket retrieves a market by name.
func (mr *MarketRegistry) GetMarket(name string) (*Market, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	m, exists := mr.byName.Get(name)
	if !exists {
		return nil, fmt.Errorf("%w: %s", core.ErrMarketNotFound, name)
	}
	return m, nil
}

// GetByAddress retrieves a market by its derived address.
func (mr *MarketRegistry) GetByAddress(addr common.Address) (*Market, error) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	name, ok := mr.byAddress[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrMarketNotFound, addr.Hex())
	}
	m, _ := mr.byName.Get(name)
	return m, nil
}

// ListMarkets returns all markets ordered by name.
func (mr *MarketRegistry) ListMarkets() []*Market {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	markets := make([]*Market, 0, mr.byName.Len())
	mr.byName.Scan(func(_ string, m *Market) bool {
		markets = append(markets, m)
		return true
	})
	return markets
}

// ListActiveMarkets returns markets still accepting orders at now.
func (mr *MarketRegistry) ListActiveMarkets(now int64) []*Market {
	var out []*Market
	for _, m := range mr.ListMarkets() {
		if m.Status(now) == Active {
			out = append(out, m)
		}
	}
	return out
}

// RemoveMarket drops a closed market.
func (mr *MarketRegistry) RemoveMarket(name string) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	m, exists := mr.byName.Get(name)
	if !exists {
		return fmt.Errorf("%w: %s", core.ErrMarketNotFound, name)
	}
	if !m.Closed {
		return fmt.Errorf("%w: cannot remove open market %s", core.ErrInvalidInput, name)
	}
	mr.byName.Delete(name)
	delete(mr.byAddress, m.Address)
	return nil
}

// Count returns the number of registered markets.
func (mr *MarketRegistry) Count() int {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	return mr.byName.Len()
}

// Exists checks if a market is registered.
func (mr *MarketRegistry) Exists(name string) bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, exists := mr.byName.Get(name)
	return exists
}
