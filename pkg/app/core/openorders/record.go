package openorders

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
)

const (
	// MaxOpenOrders is the fixed slot count of every record.
	MaxOpenOrders = 24
	// MaxNameLen bounds Record.Name in bytes.
	MaxNameLen = 32

	RecordVersion = 1
)

// Slot mirrors one resting order of the record's trader. LockedPrice and
// Side are enough to rebuild the order's tree key without scanning.
type Slot struct {
	ID          core.OrderID
	ClientID    uint64
	LockedPrice int64
	Side        core.Side
	IsFree      bool
}

var freeSlot = Slot{IsFree: true}

// Position tracks base lots resting on each side.
type Position struct {
	BidsBaseLots int64
	AsksBaseLots int64
}

func (p Position) IsEmpty() bool { return p.BidsBaseLots == 0 && p.AsksBaseLots == 0 }

// HasRoomFor reports whether quantity more base lots fit the side's total.
func (p Position) HasRoomFor(side core.Side, quantity int64) bool {
	locked := p.AsksBaseLots
	if side == core.Bid {
		locked = p.BidsBaseLots
	}
	return quantity <= math.MaxInt64-locked
}

// Record is a trader's open orders account for one market.
//
// Every occupied slot corresponds to exactly one leaf in the market's book
// owned by this record, and every such leaf points back at its slot.
type Record struct {
	Address    common.Address // derived from (owner, market, account num)
	Owner      common.Address
	Market     common.Address
	Delegate   common.Address // zero means no delegate
	Name       string
	AccountNum uint32
	Version    uint8

	Position Position
	Slots    [MaxOpenOrders]Slot
}

// NewRecord creates an empty record. accountNum must come from the owner's
// indexer so the derived address is never reused.
func NewRecord(owner, market, delegate common.Address, name string, accountNum uint32) (*Record, error) {
	if len(name) > MaxNameLen {
		return nil, fmt.Errorf("%w: %d bytes, max %d", core.ErrInvalidNameLength, len(name), MaxNameLen)
	}
	r := &Record{
		Address:    DeriveRecordAddress(owner, market, accountNum),
		Owner:      owner,
		Market:     market,
		Delegate:   delegate,
		Name:       name,
		AccountNum: accountNum,
		Version:    RecordVersion,
	}
	for i := range r.Slots {
		r.Slots[i] = freeSlot
	}
	return r, nil
}

func (r *Record) HasDelegate() bool { return r.Delegate != (common.Address{}) }

// IsOwnerOrDelegate is the authorization check for every mutating
// instruction on the record.
func (r *Record) IsOwnerOrDelegate(caller common.Address) bool {
	return caller == r.Owner || (r.HasDelegate() && caller == r.Delegate)
}

// SetDelegate replaces the delegate. Pass the zero address to remove it.
func (r *Record) SetDelegate(delegate common.Address) {
	r.Delegate = delegate
}

// NextOrderSlot returns the first free slot.
func (r *Record) NextOrderSlot() (int, error) {
	for i := range r.Slots {
		if r.Slots[i].IsFree {
			return i, nil
		}
	}
	return 0, core.ErrOpenOrdersFull
}

// FindOrderWithOrderID returns the slot holding id.
func (r *Record) FindOrderWithOrderID(id core.OrderID) (int, bool) {
	for i := range r.Slots {
		if !r.Slots[i].IsFree && r.Slots[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

// FindOrderWithClientOrderID returns the first slot carrying clientID.
func (r *Record) FindOrderWithClientOrderID(clientID uint64) (int, bool) {
	for i := range r.Slots {
		if !r.Slots[i].IsFree && r.Slots[i].ClientID == clientID {
			return i, true
		}
	}
	return 0, false
}

// AddOrder fills slot with a newly resting order.
func (r *Record) AddOrder(slot int, side core.Side, id core.OrderID, clientID uint64, price, quantity int64) error {
	if slot < 0 || slot >= MaxOpenOrders {
		return fmt.Errorf("%w: slot %d out of range", core.ErrInvalidInput, slot)
	}
	if !r.Slots[slot].IsFree {
		return fmt.Errorf("%w: slot %d already in use", core.ErrInvalidInput, slot)
	}
	r.Slots[slot] = Slot{ID: id, ClientID: clientID, LockedPrice: price, Side: side}
	if side == core.Bid {
		r.Position.BidsBaseLots += quantity
	} else {
		r.Position.AsksBaseLots += quantity
	}
	return nil
}

// RemoveOrder frees slot after its order left the book with quantity
// base lots still unfilled.
func (r *Record) RemoveOrder(slot int, quantity int64) error {
	if slot < 0 || slot >= MaxOpenOrders {
		return fmt.Errorf("%w: slot %d out of range", core.ErrInvalidInput, slot)
	}
	s := r.Slots[slot]
	if s.IsFree {
		return fmt.Errorf("%w: slot %d is empty", core.ErrOrderNotFound, slot)
	}
	if s.Side == core.Bid {
		r.Position.BidsBaseLots -= quantity
	} else {
		r.Position.AsksBaseLots -= quantity
	}
	r.Slots[slot] = freeSlot
	return nil
}

// Order returns a copy of the slot at i.
func (r *Record) Order(i int) Slot { return r.Slots[i] }

// OpenOrderCount is the number of occupied slots.
func (r *Record) OpenOrderCount() int {
	n := 0
	for i := range r.Slots {
		if !r.Slots[i].IsFree {
			n++
		}
	}
	return n
}

// HasNoOrders gates closing the record.
func (r *Record) HasNoOrders() bool { return r.OpenOrderCount() == 0 }

// Clone returns an independent copy.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}
