package openorders

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

var (
	owner    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	delegate = common.HexToAddress("0x2222222222222222222222222222222222222222")
	mkt      = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

func TestNewRecord(t *testing.T) {
	r, err := NewRecord(owner, mkt, common.Address{}, "main", 1)
	require.NoError(t, err)

	assert.Equal(t, DeriveRecordAddress(owner, mkt, 1), r.Address)
	assert.Equal(t, uint8(RecordVersion), r.Version)
	assert.True(t, r.HasNoOrders())
	for i := 0; i < MaxOpenOrders; i++ {
		assert.True(t, r.Order(i).IsFree)
	}

	_, err = NewRecord(owner, mkt, common.Address{}, strings.Repeat("x", MaxNameLen+1), 1)
	require.ErrorIs(t, err, core.ErrInvalidNameLength)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestDeriveRecordAddress_DependsOnEveryInput(t *testing.T) {
	base := DeriveRecordAddress(owner, mkt, 1)
	assert.NotEqual(t, base, DeriveRecordAddress(owner, mkt, 2))
	assert.NotEqual(t, base, DeriveRecordAddress(delegate, mkt, 1))
	assert.NotEqual(t, base, DeriveRecordAddress(owner, delegate, 1))
	assert.NotEqual(t, DeriveIndexerAddress(owner, mkt), DeriveIndexerAddress(delegate, mkt))
	assert.Equal(t, base, DeriveRecordAddress(owner, mkt, 1))
}

func TestRecord_Authorization(t *testing.T) {
	r, err := NewRecord(owner, mkt, common.Address{}, "", 1)
	require.NoError(t, err)

	assert.True(t, r.IsOwnerOrDelegate(owner))
	assert.False(t, r.IsOwnerOrDelegate(delegate))
	assert.False(t, r.IsOwnerOrDelegate(common.Address{}), "zero delegate never authorizes")

	r.SetDelegate(delegate)
	assert.True(t, r.IsOwnerOrDelegate(delegate))

	r.SetDelegate(common.Address{})
	assert.False(t, r.HasDelegate())
	assert.False(t, r.IsOwnerOrDelegate(delegate))
}

func TestRecord_SlotsAndPosition(t *testing.T) {
	r, err := NewRecord(owner, mkt, common.Address{}, "", 1)
	require.NoError(t, err)

	slot, err := r.NextOrderSlot()
	require.NoError(t, err)
	require.Equal(t, 0, slot)
	require.NoError(t, r.AddOrder(slot, core.Bid, core.OrderIDFromSeq(1), 9, 100, 5))

	slot, err = r.NextOrderSlot()
	require.NoError(t, err)
	require.Equal(t, 1, slot)
	require.NoError(t, r.AddOrder(slot, core.Ask, core.OrderIDFromSeq(2), 9, 110, 3))

	assert.Equal(t, Position{BidsBaseLots: 5, AsksBaseLots: 3}, r.Position)
	assert.Error(t, r.AddOrder(0, core.Bid, core.OrderIDFromSeq(3), 0, 1, 1), "occupied slot")
	assert.Error(t, r.AddOrder(MaxOpenOrders, core.Bid, core.OrderIDFromSeq(3), 0, 1, 1))

	i, ok := r.FindOrderWithOrderID(core.OrderIDFromSeq(2))
	require.True(t, ok)
	assert.Equal(t, 1, i)
	i, ok = r.FindOrderWithClientOrderID(9)
	require.True(t, ok)
	assert.Equal(t, 0, i, "first slot wins")

	require.NoError(t, r.RemoveOrder(0, 5))
	assert.Equal(t, Position{AsksBaseLots: 3}, r.Position)
	assert.ErrorIs(t, r.RemoveOrder(0, 5), core.ErrOrderNotFound)

	slot, err = r.NextOrderSlot()
	require.NoError(t, err)
	assert.Equal(t, 0, slot, "freed slot is reused")
	assert.Equal(t, 1, r.OpenOrderCount())
}

func TestRecord_FullAfterMaxOpenOrders(t *testing.T) {
	r, err := NewRecord(owner, mkt, common.Address{}, "", 1)
	require.NoError(t, err)
	for i := 0; i < MaxOpenOrders; i++ {
		slot, err := r.NextOrderSlot()
		require.NoError(t, err)
		require.NoError(t, r.AddOrder(slot, core.Bid, core.OrderIDFromSeq(uint64(i+1)), 0, 1, 1))
	}
	_, err = r.NextOrderSlot()
	require.ErrorIs(t, err, core.ErrOpenOrdersFull)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r, err := NewRecord(owner, mkt, common.Address{}, "", 1)
	require.NoError(t, err)
	c := r.Clone()
	require.NoError(t, c.AddOrder(0, core.Ask, core.OrderIDFromSeq(1), 0, 5, 5))
	assert.True(t, r.HasNoOrders())
	assert.Equal(t, 1, c.OpenOrderCount())
}
