package abci

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperbook/pkg/util"
)

// Sequencer is the single-node block producer. Every MinBlockTime it asks
// the application for a proposal, checks it and finalizes it. Empty
// proposals do not produce a block.
type Sequencer struct {
	App          Application
	Clock        util.Clock
	MinBlockTime time.Duration
	MaxTxBytes   int64

	Logger         *zap.SugaredLogger
	VerboseLogging bool // if false, only log non-empty blocks and errors

	// OnBlockCommit runs after every finalized block.
	OnBlockCommit func(height uint64, results []TxResult)

	height   uint64
	lastTime int64
}

func NewSequencer(app Application, clock util.Clock, minBlockTime time.Duration, logger *zap.SugaredLogger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	info := app.Info(RequestInfo{})
	return &Sequencer{
		App:          app,
		Clock:        clock,
		MinBlockTime: minBlockTime,
		Logger:       logger,
		height:       info.LastBlockHeight,
		lastTime:     info.LastBlockTime,
	}
}

// Height is the last finalized height.
func (s *Sequencer) Height() uint64 { return s.height }

// Run produces blocks until ctx is cancelled. A finalize error stops the
// loop since the application can no longer make progress safely.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.MinBlockTime):
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
}

// RunN produces up to n blocks without waiting. Used by tests.
func (s *Sequencer) RunN(n int) error {
	for i := 0; i < n; i++ {
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	return nil
}

// Step runs one proposal round and reports whether a block was finalized.
func (s *Sequencer) Step() (bool, error) {
	next := s.height + 1
	prep := s.App.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: s.MaxTxBytes})
	if len(prep.Txs) == 0 {
		if s.VerboseLogging {
			s.Logger.Debugw("proposal_empty", "height", next)
		}
		return false, nil
	}

	if !s.App.ProcessProposal(RequestProcessProposal{Height: next, Txs: prep.Txs}).Accept {
		s.Logger.Warnw("proposal_rejected", "height", next, "txs", len(prep.Txs))
		return false, nil
	}

	// Block time never goes backwards, so expiry decisions stay monotonic.
	ts := s.Clock.Now().Unix()
	if ts < s.lastTime {
		ts = s.lastTime
	}

	resp, err := s.App.FinalizeBlock(RequestFinalizeBlock{Height: next, Timestamp: ts, Txs: prep.Txs})
	if err != nil {
		s.Logger.Errorw("finalize_failed", "height", next, "err", err)
		return false, fmt.Errorf("finalize block %d: %w", next, err)
	}
	s.height = next
	s.lastTime = ts

	failed := 0
	for _, r := range resp.TxResults {
		if r.Code != 0 {
			failed++
		}
	}
	s.Logger.Infow("block_finalized",
		"height", next,
		"txs", len(prep.Txs),
		"failed", failed,
		"apphash", fmt.Sprintf("0x%x", resp.AppHash[:8]))

	if s.OnBlockCommit != nil {
		s.OnBlockCommit(next, resp.TxResults)
	}
	return true, nil
}
