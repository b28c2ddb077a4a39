package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

func mustMarket(t *testing.T, name string) *Market {
	t.Helper()
	m, err := NewMarket(name, validParams())
	require.NoError(t, err)
	return m
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewMarketRegistry()
	sol := mustMarket(t, "SOL-USDC")
	btc := mustMarket(t, "BTC-USDC")

	require.NoError(t, r.RegisterMarket(sol))
	require.NoError(t, r.RegisterMarket(btc))
	assert.ErrorIs(t, r.RegisterMarket(mustMarket(t, "SOL-USDC")), core.ErrInvalidInput)
	assert.ErrorIs(t, r.RegisterMarket(nil), core.ErrInvalidInput)

	got, err := r.GetMarket("SOL-USDC")
	require.NoError(t, err)
	assert.Same(t, sol, got)

	got, err = r.GetByAddress(btc.Address)
	require.NoError(t, err)
	assert.Same(t, btc, got)

	_, err = r.GetMarket("ETH-USDC")
	assert.ErrorIs(t, err, core.ErrMarketNotFound)
	_, err = r.GetByAddress(DeriveAddress("ETH-USDC"))
	assert.ErrorIs(t, err, core.ErrNotFound)

	names := []string{}
	for _, m := range r.ListMarkets() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"BTC-USDC", "SOL-USDC"}, names, "listing is ordered by name")
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_ActiveAndRemove(t *testing.T) {
	r := NewMarketRegistry()
	sol := mustMarket(t, "SOL-USDC")
	btc := mustMarket(t, "BTC-USDC")
	require.NoError(t, r.RegisterMarket(sol))
	require.NoError(t, r.RegisterMarket(btc))

	require.NoError(t, btc.SetExpired(admin, 0))
	active := r.ListActiveMarkets(0)
	require.Len(t, active, 1)
	assert.Equal(t, "SOL-USDC", active[0].Name)

	assert.ErrorIs(t, r.RemoveMarket("BTC-USDC"), core.ErrInvalidInput, "only closed markets are removed")
	btc.Closed = true
	require.NoError(t, r.RemoveMarket("BTC-USDC"))
	assert.False(t, r.Exists("BTC-USDC"))
	_, err := r.GetByAddress(btc.Address)
	assert.ErrorIs(t, err, core.ErrMarketNotFound)
	assert.ErrorIs(t, r.RemoveMarket("BTC-USDC"), core.ErrMarketNotFound)
}

func TestRegistry_PutReplaces(t *testing.T) {
	r := NewMarketRegistry()
	sol := mustMarket(t, "SOL-USDC")
	r.Put(sol)
	next := sol.Clone()
	next.SeqNum = 9
	r.Put(next)

	got, err := r.GetMarket("SOL-USDC")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), got.SeqNum)
	assert.Equal(t, 1, r.Count())
}
