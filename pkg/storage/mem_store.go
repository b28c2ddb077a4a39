package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemStore is a StateStore over an in-process map. Values go through the
// same codec as PebbleStore so callers never share memory with it.
type MemStore struct {
	mu   sync.Mutex
	kv   map[string][]byte
	fail error
}

func NewMemStore() *MemStore {
	return &MemStore{kv: make(map[string][]byte)}
}

// FailCommits makes every later Commit return err. Nil restores normal
// operation.
func (s *MemStore) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemStore) Commit(b *Block, c *Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.kv[string(blockKey(b.Height))] = EncodeBlock(b)
	if c != nil {
		for _, m := range c.Markets {
			s.kv[string(marketKey(m.Name))] = EncodeMarket(m)
		}
		for _, bk := range c.Books {
			s.kv[string(bookKey(bk.Market))] = EncodeBook(bk)
		}
		for _, r := range c.Records {
			s.kv[string(recordKey(r.Address))] = EncodeRecord(r)
		}
		for _, ix := range c.Indexers {
			s.kv[string(indexerKey(ix.Address))] = EncodeIndexer(ix)
		}
		for signer, n := range c.Nonces {
			s.kv[string(nonceKey(signer))] = encodeUint64(n)
		}
		for _, addr := range c.DeletedRecords {
			delete(s.kv, string(recordKey(addr)))
		}
		for _, addr := range c.DeletedIndexers {
			delete(s.kv, string(indexerKey(addr)))
		}
	}
	s.kv[string(committedKey())] = encodeCommitted(b.Height, b.AppHash)
	return nil
}

func (s *MemStore) GetBlock(height uint64) (*Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[string(blockKey(height))]
	if !ok {
		return nil, false, nil
	}
	b, err := DecodeBlock(v)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *MemStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := newSnapshot()
	if v, ok := s.kv[string(committedKey())]; ok {
		var err error
		if snap.Height, snap.AppHash, err = decodeCommitted(v); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(s.kv))
	for k := range s.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := s.kv[k]
		switch {
		case strings.HasPrefix(k, prefixMarket):
			m, err := DecodeMarket(v)
			if err != nil {
				return nil, err
			}
			snap.Markets = append(snap.Markets, m)
		case strings.HasPrefix(k, prefixBook):
			b, err := DecodeBook(v)
			if err != nil {
				return nil, err
			}
			snap.Books[b.Market] = b
		case strings.HasPrefix(k, prefixRecord):
			r, err := DecodeRecord(v)
			if err != nil {
				return nil, err
			}
			snap.Records[r.Address] = r
		case strings.HasPrefix(k, prefixIndexer):
			ix, err := DecodeIndexer(v)
			if err != nil {
				return nil, err
			}
			snap.Indexers[ix.Address] = ix
		case strings.HasPrefix(k, prefixNonce):
			n, err := decodeUint64(v)
			if err != nil {
				return nil, err
			}
			snap.Nonces[common.HexToAddress(k[len(prefixNonce):])] = n
		}
	}
	return snap, nil
}

func (s *MemStore) Close() error { return nil }

var _ StateStore = (*MemStore)(nil)
