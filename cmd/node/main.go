package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/uhyunpark/hyperbook/params"
	"github.com/uhyunpark/hyperbook/pkg/abci"
	"github.com/uhyunpark/hyperbook/pkg/api"
	"github.com/uhyunpark/hyperbook/pkg/app/spot"
	"github.com/uhyunpark/hyperbook/pkg/storage"
	"github.com/uhyunpark/hyperbook/pkg/util"
)

func main() {
	// Priority: ENV > .env file > defaults
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerFor(cfg.Log.File)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		sugar.Fatalw("data_dir_failed", "dir", cfg.Node.DataDir, "err", err)
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "err", err)
	}
	defer store.Close()

	journal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "instructions.log"))
	if err != nil {
		sugar.Fatalw("journal_open_failed", "err", err)
	}
	defer journal.Close()

	// ---- App ----
	app, err := spot.New(spot.Config{
		SlabCapacity: cfg.Node.SlabCapacity,
		ChainID:      cfg.Node.ChainID,
		Genesis:      cfg.Genesis.Markets,
	}, store, journal, sugar)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, cfg.API, sugar)
	app.OnBlock = apiServer.OnBlock
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	// ---- Sequencer ----
	seq := abci.NewSequencer(app, util.RealClock{}, cfg.Node.MinBlockTime, sugar)
	seq.MaxTxBytes = int64(cfg.Node.MaxBlockBytes)
	if os.Getenv("VERBOSE") == "true" {
		seq.VerboseLogging = true
		sugar.Info("verbose logging enabled")
	}

	sugar.Infow("node_starting",
		"height", seq.Height(),
		"data_dir", cfg.Node.DataDir,
		"chain_id", cfg.Node.ChainID,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(),
		"markets", len(app.Markets()))

	if err := seq.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("sequencer_stopped", "height", seq.Height(), "err", err)
		return
	}
	sugar.Infow("node_stopped", "height", seq.Height())
}
