package spot

import (
	"errors"
	"fmt"

	"github.com/uhyunpark/hyperbook/pkg/app/core"
	"github.com/uhyunpark/hyperbook/pkg/app/core/transaction"
)

var (
	ErrStaleNonce        = fmt.Errorf("nonce already used: %w", core.ErrInvalidInput)
	ErrIndexerExists     = fmt.Errorf("open orders indexer already exists: %w", core.ErrInvalidInput)
	ErrIndexerNotFound   = fmt.Errorf("open orders indexer not found: %w", core.ErrNotFound)
	ErrOwnerOnly         = fmt.Errorf("only the record owner may do this: %w", core.ErrNotOwner)
	ErrMarketClosed      = fmt.Errorf("market closed: %w", core.ErrMarketExpired)
	ErrEditAccountDiffer = fmt.Errorf("edit targets two different records: %w", core.ErrInvalidInput)
)

// Result codes reported per instruction. CodeOK is success; the rest name
// the error kind that rejected it.
const (
	CodeOK uint32 = iota
	CodeInternal
	CodeNotFound
	CodeNotOwner
	CodeMarketExpired
	CodeMarketNotExpired
	CodeCapacityExceeded
	CodeInvalidInput
	CodeBadSignature
)

// ResultCode maps err to its result code.
func ResultCode(err error) uint32 {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, transaction.ErrBadSignature):
		return CodeBadSignature
	case errors.Is(err, core.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, core.ErrNotOwner):
		return CodeNotOwner
	case errors.Is(err, core.ErrMarketExpired):
		return CodeMarketExpired
	case errors.Is(err, core.ErrMarketNotExpired):
		return CodeMarketNotExpired
	case errors.Is(err, core.ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, core.ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}
