package mempool

import (
	"encoding/json"
	"sync"

	"github.com/uhyunpark/hyperbook/pkg/app/core/transaction"
)

// Class buckets instructions for block ordering.
type Class int

const (
	ClassNonOrder Class = iota // account, delegate and market admin instructions
	ClassCancel
	ClassPlace
)

// ClassifyRaw reads the envelope kind. Anything unreadable is classed as a
// placement so it sorts last; the app rejects it when applied.
func ClassifyRaw(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return ClassPlace
	}
	var envelope struct {
		Kind transaction.Kind `json:"kind"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return ClassPlace
	}
	switch {
	case envelope.Kind.IsCancel():
		return ClassCancel
	case envelope.Kind.IsPlacement(), !envelope.Kind.Valid():
		return ClassPlace
	default:
		return ClassNonOrder
	}
}

// Mempool keeps three FIFO queues so that a block applies account setup
// first, then cancels, then placements.
type Mempool struct {
	mu       sync.Mutex
	nonOrder [][]byte
	cancel   [][]byte
	place    [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a copy of b.
func (m *Mempool) PushRaw(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ClassifyRaw(b) {
	case ClassNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case ClassCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.place = append(m.place, cp)
	}
}

// SelectForProposal removes and returns up to maxBytes of instructions in
// block order. maxBytes <= 0 means no limit. A bucket that hits the limit
// stops the whole selection so later buckets never overtake it.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for !full && len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.place)

	return out
}

// Len returns total pending instructions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonOrder) + len(m.cancel) + len(m.place)
}
