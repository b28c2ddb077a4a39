package spot

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperbook/pkg/abci"
	"github.com/uhyunpark/hyperbook/pkg/storage"
)

// computeAppHash chains the previous app hash with everything the block
// did. Components hashed, in order:
//  1. previous app hash
//  2. height and block time (8 bytes each, big-endian)
//  3. per instruction: its raw bytes and result code
//  4. every written entity in its storage encoding, in key order, followed
//     by deletions and nonces
//
// Two nodes that start from the same hash and apply the same block reach
// the same hash without rehashing untouched state.
func computeAppHash(prev [32]byte, height uint64, ts int64, txs [][]byte, results []abci.TxResult, c *storage.Changes) [32]byte {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putBytes := func(b []byte) {
		putU64(uint64(len(b)))
		h.Write(b)
	}

	h.Write(prev[:])
	putU64(height)
	putU64(uint64(ts))

	putU64(uint64(len(txs)))
	for i, tx := range txs {
		putBytes(tx)
		putU64(uint64(results[i].Code))
	}

	for _, m := range c.Markets {
		putBytes(storage.EncodeMarket(m))
	}
	for _, b := range c.Books {
		putBytes(storage.EncodeBook(b))
	}
	for _, r := range c.Records {
		putBytes(storage.EncodeRecord(r))
	}
	for _, ix := range c.Indexers {
		putBytes(storage.EncodeIndexer(ix))
	}
	for _, addr := range c.DeletedRecords {
		h.Write([]byte("del:oo"))
		h.Write(addr[:])
	}
	for _, addr := range c.DeletedIndexers {
		h.Write([]byte("del:ix"))
		h.Write(addr[:])
	}
	for _, signer := range sortedAddrs(c.Nonces) {
		h.Write(signer[:])
		putU64(c.Nonces[signer])
	}

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// genesisHash seeds the chain from the genesis market set.
func genesisHash(c *storage.Changes) [32]byte {
	return computeAppHash(common.Hash{}, 0, 0, nil, nil, c)
}
