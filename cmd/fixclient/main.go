package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/fixsession/params"
	"github.com/uhyunpark/fixsession/pkg/api"
	"github.com/uhyunpark/fixsession/pkg/auth"
	"github.com/uhyunpark/fixsession/pkg/clientid"
	"github.com/uhyunpark/fixsession/pkg/session"
	"github.com/uhyunpark/fixsession/pkg/storage"
	"github.com/uhyunpark/fixsession/pkg/trader"
	"github.com/uhyunpark/fixsession/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Debug)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "debug", cfg.Node.Debug)

	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("invalid_config", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := auth.Credentials{APIKeyID: cfg.Credentials.APIKeyID, APIKeySecret: cfg.Credentials.APIKeySecret}
	signer := auth.NewSigner(creds, sugar)
	signer.Debug = cfg.Node.Debug

	// ---- Storage ----
	var (
		seqStore session.SeqStore = storage.NewInMemorySeqStore()
		pebble   *storage.PebbleStore
		reports  api.ReportReader
	)
	if cfg.Storage.SeqStorePath != "" {
		pebble, err = storage.NewPebbleStore(cfg.Storage.SeqStorePath)
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "path", cfg.Storage.SeqStorePath, "err", err)
		}
		defer pebble.Close()
		seqStore = pebble
		reports = pebble
		sugar.Infow("seq_store_opened", "path", cfg.Storage.SeqStorePath)
	}

	// ---- Client-ID lookup ----
	var provider clientid.Provider = clientid.Static{}
	if cfg.Credentials.APIAddress != "" {
		provider = clientid.NewHTTPProvider(cfg.Credentials.APIAddress, creds, sugar)
	} else {
		sugar.Warnw("client_id_lookup_disabled", "reason", "TRUEX_API_ADDRESS is not set")
	}

	// ---- Traders: one FIX session per mnemonic ----
	var traders []*trader.Trader
	for _, mnemonic := range cfg.Credentials.Mnemonics {
		t := trader.New(trader.Config{
			Mnemonic: mnemonic,
			Address:  cfg.FIX.Address(),
			Symbol:   cfg.FIX.Symbol,
			Session: session.Config{
				ID: session.ID{
					BeginString:  cfg.FIX.BeginString,
					SenderCompID: trader.SenderCompID(mnemonic),
					TargetCompID: cfg.FIX.TargetCompID,
				},
				HeartBtInt:       cfg.FIX.HeartBtInt,
				DefaultApplVerID: cfg.FIX.DefaultApplVerID,
				ResetSeqNumFlag:  cfg.FIX.ResetSeqNum,
				LogonTimeout:     cfg.FIX.LogonTimeout,
				LogoutTimeout:    cfg.FIX.LogoutTimeout,
				VerboseLogging:   cfg.Node.Debug,
			},
		}, sugar)
		t.Signer = signer
		t.SeqStore = seqStore
		t.ClientIDs = provider
		if pebble != nil {
			t.OrderStore = pebble
			t.ReportStore = pebble
		}
		if cfg.Storage.JournalDir != "" {
			j, err := storage.NewFileJournal(filepath.Join(cfg.Storage.JournalDir, trader.SenderCompID(mnemonic)+".log"))
			if err != nil {
				sugar.Fatalw("journal_open_failed", "mnemonic", mnemonic, "err", err)
			}
			defer j.Close()
			t.Journal = j
		}
		traders = append(traders, t)
	}

	// ---- API Server ----
	apiTraders := make([]api.Trader, len(traders))
	for i, t := range traders {
		apiTraders[i] = t
	}
	apiServer := api.NewServer(apiTraders, reports, sugar)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Run(gctx, cfg.Node.APIAddr) })

	for _, t := range traders {
		if err := t.Start(context.Background()); err != nil {
			sugar.Fatalw("trader_start_failed", "mnemonic", t.Mnemonic(), "err", err)
		}
	}
	sugar.Infow("fixclient_started",
		"sessions", len(traders),
		"acceptor", cfg.FIX.Address(),
		"api_addr", cfg.Node.APIAddr)

	<-gctx.Done()
	sugar.Infow("shutdown_started")

	// Log every session out concurrently, each bounded by its logout timeout.
	var sg errgroup.Group
	for _, t := range traders {
		t := t
		sg.Go(func() error {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.FIX.LogoutTimeout+time.Second)
			defer cancel()
			if err := t.Stop(sctx); err != nil {
				sugar.Warnw("trader_stop_failed", "mnemonic", t.Mnemonic(), "err", err)
				return err
			}
			return nil
		})
	}
	stopErr := sg.Wait()

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		sugar.Errorw("api_server_failed", "err", err)
	}
	sugar.Infow("shutdown_complete", "clean", stopErr == nil)
}
