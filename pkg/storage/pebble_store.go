package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(128 << 20), // 128MB cache
		MemTableSize:                64 << 20,                   // 64MB memtable
		MaxConcurrentCompactions:    func() int { return 3 },
		L0CompactionThreshold:       2,
		L0StopWritesThreshold:       12,
		LBaseMaxBytes:               64 << 20, // 64MB
		MaxOpenFiles:                1000,
		BytesPerSync:                512 << 10, // 512KB
		DisableAutomaticCompactions: false,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes the block, its state changes and the committed marker in a
// single synced batch.
func (s *PebbleStore) Commit(b *Block, c *Changes) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	set := func(key, val []byte) error { return batch.Set(key, val, nil) }

	if err := set(blockKey(b.Height), EncodeBlock(b)); err != nil {
		return fmt.Errorf("failed to stage block %d: %w", b.Height, err)
	}
	if c != nil {
		for _, m := range c.Markets {
			if err := set(marketKey(m.Name), EncodeMarket(m)); err != nil {
				return fmt.Errorf("failed to stage market %s: %w", m.Name, err)
			}
		}
		for _, bk := range c.Books {
			if err := set(bookKey(bk.Market), EncodeBook(bk)); err != nil {
				return fmt.Errorf("failed to stage book %s: %w", bk.Market.Hex(), err)
			}
		}
		for _, r := range c.Records {
			if err := set(recordKey(r.Address), EncodeRecord(r)); err != nil {
				return fmt.Errorf("failed to stage record %s: %w", r.Address.Hex(), err)
			}
		}
		for _, ix := range c.Indexers {
			if err := set(indexerKey(ix.Address), EncodeIndexer(ix)); err != nil {
				return fmt.Errorf("failed to stage indexer %s: %w", ix.Address.Hex(), err)
			}
		}
		for signer, n := range c.Nonces {
			if err := set(nonceKey(signer), encodeUint64(n)); err != nil {
				return fmt.Errorf("failed to stage nonce: %w", err)
			}
		}
		for _, addr := range c.DeletedRecords {
			if err := batch.Delete(recordKey(addr), nil); err != nil {
				return fmt.Errorf("failed to stage record delete: %w", err)
			}
		}
		for _, addr := range c.DeletedIndexers {
			if err := batch.Delete(indexerKey(addr), nil); err != nil {
				return fmt.Errorf("failed to stage indexer delete: %w", err)
			}
		}
	}
	if err := set(committedKey(), encodeCommitted(b.Height, b.AppHash)); err != nil {
		return fmt.Errorf("failed to stage committed marker: %w", err)
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", b.Height, err)
	}
	return nil
}

func (s *PebbleStore) GetBlock(height uint64) (*Block, bool, error) {
	val, closer, err := s.db.Get(blockKey(height))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	defer closer.Close()
	b, err := DecodeBlock(val)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Load reads every persisted entity. An empty database yields an empty
// snapshot at height 0.
func (s *PebbleStore) Load() (*Snapshot, error) {
	snap := newSnapshot()

	val, closer, err := s.db.Get(committedKey())
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to get committed marker: %w", err)
	default:
		snap.Height, snap.AppHash, err = decodeCommitted(val)
		closer.Close()
		if err != nil {
			return nil, err
		}
	}

	err = s.scan(prefixMarket, func(_, v []byte) error {
		m, err := DecodeMarket(v)
		if err != nil {
			return err
		}
		snap.Markets = append(snap.Markets, m)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixBook, func(k, v []byte) error {
		addr, err := addressFromKey(prefixBook, k)
		if err != nil {
			return err
		}
		b, err := DecodeBook(v)
		if err != nil {
			return err
		}
		if b.Market != addr {
			return fmt.Errorf("book under %s belongs to market %s", addr.Hex(), b.Market.Hex())
		}
		snap.Books[addr] = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixRecord, func(_, v []byte) error {
		r, err := DecodeRecord(v)
		if err != nil {
			return err
		}
		snap.Records[r.Address] = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixIndexer, func(_, v []byte) error {
		ix, err := DecodeIndexer(v)
		if err != nil {
			return err
		}
		snap.Indexers[ix.Address] = ix
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.scan(prefixNonce, func(k, v []byte) error {
		addr, err := addressFromKey(prefixNonce, k)
		if err != nil {
			return err
		}
		n, err := decodeUint64(v)
		if err != nil {
			return err
		}
		snap.Nonces[addr] = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// scan calls fn for every key under prefix in key order.
func (s *PebbleStore) scan(prefix string, fn func(k, v []byte) error) error {
	lower := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: keyUpperBound(lower),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator on %q: %w", prefix, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return fmt.Errorf("load %q: %w", prefix, err)
		}
	}
	return iter.Error()
}

// Nonce returns the last accepted nonce for signer, or 0.
func (s *PebbleStore) Nonce(signer common.Address) (uint64, error) {
	val, closer, err := s.db.Get(nonceKey(signer))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	defer closer.Close()
	return decodeUint64(val)
}

var _ StateStore = (*PebbleStore)(nil)
