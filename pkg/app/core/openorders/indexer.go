package openorders

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

// MaxIndexedRecords bounds how many live records one owner may hold per
// market.
const MaxIndexedRecords = 256

// Indexer lists the open orders records an owner created for a market.
//
// CreatedCounter only grows and seeds record address derivation, so a closed
// record's address is never handed out again. Addresses grows by appending
// one entry per registration; existing entries keep their positions.
type Indexer struct {
	Address        common.Address
	Owner          common.Address
	Market         common.Address
	CreatedCounter uint32
	ClosedCounter  uint32
	Addresses      []common.Address
}

func NewIndexer(owner, market common.Address) *Indexer {
	return &Indexer{
		Address: DeriveIndexerAddress(owner, market),
		Owner:   owner,
		Market:  market,
	}
}

func (ix *Indexer) Len() int      { return len(ix.Addresses) }
func (ix *Indexer) IsEmpty() bool { return len(ix.Addresses) == 0 }

// NextAccountNum reserves the sequence number for a new record. It fails
// before touching the counter when the indexer has no room left.
func (ix *Indexer) NextAccountNum() (uint32, error) {
	if len(ix.Addresses) >= MaxIndexedRecords {
		return 0, core.ErrIndexerFull
	}
	ix.CreatedCounter++
	return ix.CreatedCounter, nil
}

// Register appends a record address.
func (ix *Indexer) Register(addr common.Address) error {
	if len(ix.Addresses) >= MaxIndexedRecords {
		return core.ErrIndexerFull
	}
	if ix.Contains(addr) {
		return fmt.Errorf("%w: %s", core.ErrDuplicateRecord, addr.Hex())
	}
	ix.Addresses = append(ix.Addresses, addr)
	return nil
}

// Deregister removes a closed record's address.
func (ix *Indexer) Deregister(addr common.Address) error {
	i := slices.Index(ix.Addresses, addr)
	if i < 0 {
		return fmt.Errorf("%w: %s not in indexer", core.ErrRecordNotFound, addr.Hex())
	}
	ix.Addresses = slices.Delete(ix.Addresses, i, i+1)
	ix.ClosedCounter++
	return nil
}

func (ix *Indexer) Contains(addr common.Address) bool {
	return slices.Contains(ix.Addresses, addr)
}

// Clone returns an independent copy.
func (ix *Indexer) Clone() *Indexer {
	c := *ix
	c.Addresses = slices.Clone(ix.Addresses)
	return &c
}
