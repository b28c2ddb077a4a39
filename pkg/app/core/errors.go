package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure the engine reports wraps exactly one of these,
// so callers branch with errors.Is on the kind and log the specific error.
var (
	ErrNotFound         = errors.New("not found")
	ErrNotOwner         = errors.New("not owner")
	ErrMarketExpired    = errors.New("market expired")
	ErrMarketNotExpired = errors.New("market not expired")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrInvalidInput     = errors.New("invalid input")
)

var (
	ErrOrderNotFound  = fmt.Errorf("order id not found: %w", ErrNotFound)
	ErrRecordNotFound = fmt.Errorf("open orders record not found: %w", ErrNotFound)
	ErrMarketNotFound = fmt.Errorf("market not found: %w", ErrNotFound)

	ErrNoOwnerOrDelegate    = fmt.Errorf("caller is neither owner nor delegate: %w", ErrNotOwner)
	ErrNoCloseMarketAdmin   = fmt.Errorf("market has no close admin: %w", ErrNotOwner)
	ErrInvalidCloseAdmin    = fmt.Errorf("caller is not the close market admin: %w", ErrNotOwner)
	ErrOrderOwnerMismatch   = fmt.Errorf("order owned by another record: %w", ErrNotOwner)
	ErrIndexerOwnerMismatch = fmt.Errorf("indexer owned by another trader: %w", ErrNotOwner)

	ErrSlabFull       = fmt.Errorf("order slab full: %w", ErrCapacityExceeded)
	ErrTreeFull       = fmt.Errorf("order tree full: %w", ErrCapacityExceeded)
	ErrOpenOrdersFull = fmt.Errorf("open orders record full: %w", ErrCapacityExceeded)
	ErrIndexerFull    = fmt.Errorf("open orders indexer full: %w", ErrCapacityExceeded)

	ErrInvalidOrderID    = fmt.Errorf("order id must be non-zero: %w", ErrInvalidInput)
	ErrInvalidNameLength = fmt.Errorf("name too long: %w", ErrInvalidInput)
	ErrInvalidPrice      = fmt.Errorf("price must be positive: %w", ErrInvalidInput)
	ErrInvalidQuantity   = fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	ErrDuplicateOrder    = fmt.Errorf("order key already in tree: %w", ErrInvalidInput)
	ErrDuplicateRecord   = fmt.Errorf("record already registered: %w", ErrInvalidInput)
	ErrMarketMismatch    = fmt.Errorf("record belongs to another market: %w", ErrInvalidInput)
	ErrWouldCross        = fmt.Errorf("post-only order would cross the book: %w", ErrInvalidInput)
	ErrRecordNotEmpty    = fmt.Errorf("open orders record still has orders: %w", ErrInvalidInput)
	ErrIndexerNotEmpty   = fmt.Errorf("indexer still lists open orders records: %w", ErrInvalidInput)
	ErrBookNotEmpty      = fmt.Errorf("book still contains orders: %w", ErrInvalidInput)
)
