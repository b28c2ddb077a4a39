package openorders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

func TestIndexer_RegisterUpToCapacity(t *testing.T) {
	ix := NewIndexer(owner, mkt)
	for i := 0; i < MaxIndexedRecords; i++ {
		num, err := ix.NextAccountNum()
		require.NoError(t, err)
		require.NoError(t, ix.Register(DeriveRecordAddress(owner, mkt, num)))
	}
	assert.Equal(t, MaxIndexedRecords, ix.Len())

	_, err := ix.NextAccountNum()
	require.ErrorIs(t, err, core.ErrIndexerFull)

	err = ix.Register(DeriveRecordAddress(owner, mkt, 9999))
	require.ErrorIs(t, err, core.ErrIndexerFull)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
	assert.Equal(t, uint32(MaxIndexedRecords), ix.CreatedCounter)
}

func TestIndexer_AppendOnlyAndCounters(t *testing.T) {
	ix := NewIndexer(owner, mkt)
	var addrs []string
	for i := 0; i < 3; i++ {
		num, err := ix.NextAccountNum()
		require.NoError(t, err)
		a := DeriveRecordAddress(owner, mkt, num)
		require.NoError(t, ix.Register(a))
		addrs = append(addrs, a.Hex())
	}

	first := ix.Addresses[0]
	require.ErrorIs(t, ix.Register(first), core.ErrDuplicateRecord)

	require.NoError(t, ix.Deregister(ix.Addresses[1]))
	assert.Equal(t, uint32(1), ix.ClosedCounter)
	assert.Equal(t, 2, ix.Len())
	assert.Equal(t, addrs[0], ix.Addresses[0].Hex())
	assert.Equal(t, addrs[2], ix.Addresses[1].Hex())

	num, err := ix.NextAccountNum()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), num, "counter never reuses a closed record's number")

	err = ix.Deregister(DeriveRecordAddress(owner, mkt, 77))
	require.ErrorIs(t, err, core.ErrRecordNotFound)
	assert.Equal(t, uint32(1), ix.ClosedCounter)
}

func TestIndexer_CloneIsIndependent(t *testing.T) {
	ix := NewIndexer(owner, mkt)
	require.NoError(t, ix.Register(DeriveRecordAddress(owner, mkt, 1)))
	c := ix.Clone()
	require.NoError(t, c.Register(DeriveRecordAddress(owner, mkt, 2)))
	assert.Equal(t, 1, ix.Len())
	assert.Equal(t, 2, c.Len())
	assert.False(t, ix.IsEmpty())
	assert.True(t, c.Contains(ix.Addresses[0]))
}
