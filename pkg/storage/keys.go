package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Every entity lives under its own prefix so boot can
// load each kind with one prefix scan:
//
//	mkt:<name>          → Market
//	book:<market addr>  → Book (slab + both roots)
//	oo:<record addr>    → Open orders record
//	ix:<indexer addr>   → Open orders indexer
//	nonce:<signer>      → last accepted instruction nonce
//	blk:<height>        → Block (raw instructions as received)
//	cm                  → committed height + app hash
const (
	prefixMarket  = "mkt:"
	prefixBook    = "book:"
	prefixRecord  = "oo:"
	prefixIndexer = "ix:"
	prefixNonce   = "nonce:"
	prefixBlock   = "blk:"
)

func marketKey(name string) []byte {
	return []byte(prefixMarket + name)
}

func bookKey(market common.Address) []byte {
	return []byte(prefixBook + market.Hex())
}

func recordKey(addr common.Address) []byte {
	return []byte(prefixRecord + addr.Hex())
}

func indexerKey(addr common.Address) []byte {
	return []byte(prefixIndexer + addr.Hex())
}

func nonceKey(signer common.Address) []byte {
	return []byte(prefixNonce + signer.Hex())
}

// blockKey zero-pads the height so blocks sort numerically.
func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixBlock, height))
}

func committedKey() []byte { return []byte("cm") }

// addressFromKey strips prefix from a hex-address key.
func addressFromKey(prefix string, key []byte) (common.Address, error) {
	s := string(key[len(prefix):])
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("malformed key %q", key)
	}
	return common.HexToAddress(s), nil
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
