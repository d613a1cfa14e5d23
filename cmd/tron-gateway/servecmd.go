package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/luxfi/log"

	"github.com/shkeeper-io/tron-gateway/internal/aml"
	"github.com/shkeeper-io/tron-gateway/internal/config"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/gwctx"
	"github.com/shkeeper-io/tron-gateway/internal/httpapi"
	"github.com/shkeeper-io/tron-gateway/internal/keeper"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/payout"
	"github.com/shkeeper-io/tron-gateway/internal/scanner"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/sweep"
	"github.com/shkeeper-io/tron-gateway/internal/taskqueue"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
	"github.com/shkeeper-io/tron-gateway/internal/watchset"
)

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the gateway daemon: scanner, sweep, AML, payouts and the HTTP surface",
	Action: runServe,
}

func runServe(cctx *cli.Context) error {
	cfg, err := loadConfig(cctx)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	logger := log.New("component", "main")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	reg := metrics.New()

	clients, err := buildChainClients(cfg)
	if err != nil {
		return err
	}
	conn := connpool.New(clients, st.Settings, reg, time.Duration(cfg.MultiserverRefreshPeriod)*time.Second)

	enc := walletstore.NewEncryptor()
	keys := walletstore.NewKeyStore(st.Keys, enc)
	kc := keeper.New(cfg.ShkeeperHost, cfg.ShkeeperBackendKey)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = walletstore.Bootstrap(bootCtx, kc, nativeSymbol, enc, st.Keys, cfg.ForceWalletEncryption)
	bootCancel()
	if err != nil {
		return fmt.Errorf("bootstrap wallet encryption: %w", err)
	}

	treasury, err := resolveTreasury(context.Background(), st.Keys, keys)
	if err != nil {
		return fmt.Errorf("resolve treasury: %w", err)
	}
	logger.Info("fee deposit account resolved", "address", treasury)

	watch := watchset.New()
	seeded, err := keys.ListAddresses(context.Background(), store.KeyTypeOnetime, store.KeyTypeOnlyRead, store.KeyTypeFeeDeposit)
	if err != nil {
		return fmt.Errorf("seed watched set: %w", err)
	}
	watch.AddAll(seeded)

	tasks := taskqueue.New(cfg.ConcurrentMaxWorkers)

	sweepCfg := sweep.Config{
		InternalTxFeeSun:           mustSun(cfg.InternalTxFee, 6),
		BandwidthPerTrxTransfer:    cfg.BandwidthPerTrxTransfer,
		BandwidthPerTrc20Transfer:  cfg.BandwidthPerTrc20Transfer,
		TrxMinTransferThresholdSun: mustSun(cfg.TrxMinTransferThreshold, 6),
		TokenMinTransferThreshold:  amlMinBalance(cfg),
		EnergyDelegationMode:       cfg.EnergyDelegationMode,
		EnergyDelegationFactor:     cfg.EnergyDelegationFactor,
		EnergyDelegatorAddress:     cfg.EnergyDelegatorAddress,
		EnergyAllowBurnFallback:    cfg.EnergyAllowBurnFallback,
		TxExpiry:                   time.Minute,
	}
	orc := sweep.New(sweepCfg, conn, keys, sweepTokens(cfg), treasury, reg)

	executor := payout.NewExecutor(conn, keys, kc, payoutTokens(cfg), reg, cfg.ConcurrentMaxWorkers, time.Minute)

	var scoring *aml.ScoringClient
	var workflow *aml.Workflow
	if cfg.ExternalDrain.Enabled {
		scoring = aml.NewScoringClient(cfg.AMLScoreAPIURL)
		amlCfg := aml.Config{
			Treasury:    treasury,
			Drain:       cfg.ExternalDrain,
			MinBalance:  amlMinBalance(cfg),
			RecheckWait: time.Duration(cfg.AMLResultUpdatePeriod) * time.Second,
		}
		workflow = aml.New(amlCfg, st, scoring, executor, conn, amlTokens(cfg), tasks, reg)
	}

	registerTasks(tasks, orc, executor, workflow, treasury)

	sc, err := scanner.New(scanner.Config{
		MaxChunkSize: cfg.ScannerMaxChunkSize,
		Interval:     time.Duration(cfg.ScannerInterval) * time.Second,
		BlockHint:    cfg.ScannerBlockHint,
		AMLEnabled:   cfg.ExternalDrain.Enabled,
		AMLWait:      time.Duration(cfg.AMLWaitBeforeAPICall) * time.Second,
		AMLMinCheck:  cfg.AMLMinCheckAmount,
		Tokens:       scannerTokens(cfg),
	}, conn, st, watch, kc, tasks, reg, treasury)
	if err != nil {
		return fmt.Errorf("build scanner: %w", err)
	}
	stats := scanner.NewStatsRunner(st, conn, reg, time.Duration(cfg.ScannerStatsPeriod)*time.Second)

	srv := httpapi.New(cfg, st, conn, keys, watch, tasks, reg, orc)

	app := gwctx.New(cfg, st, conn, keys, enc, watch, kc, tasks, reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go conn.Run(ctx)
	go stats.Run(ctx)
	if workflow != nil {
		go runAMLMaintenance(ctx, st, tasks, cfg)
		go runSweepAccounts(ctx, keys, tasks, cfg)
	}
	go func() {
		if err := sc.Run(ctx); err != nil && ctx.Err() == nil {
			app.Log.Error("scanner stopped", "err", err)
			stop()
		}
	}()

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	app.Log.Info("listening", "addr", cfg.HTTPAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	conn.Stop()
	return nil
}

// registerTasks binds every taskqueue handler name the scanner, AML
// workflow, and HTTP surface dispatch against.
func registerTasks(tasks *taskqueue.Queue, orc *sweep.Orchestrator, executor *payout.Executor, workflow *aml.Workflow, treasury string) {
	tasks.Register("sweep_trx", func(ctx context.Context, args []any, _ map[string]any) (any, error) {
		account := args[0].(string)
		return nil, orc.SweepTRX(ctx, account)
	})
	tasks.Register("sweep_trc20", func(ctx context.Context, args []any, _ map[string]any) (any, error) {
		account, symbol := args[0].(string), args[1].(string)
		return nil, orc.SweepTRC20(ctx, account, symbol)
	})
	tasks.Register("multipayout", func(ctx context.Context, args []any, _ map[string]any) (any, error) {
		symbol := args[0].(string)
		items := args[1].([]payout.PayoutItem)
		steps := payout.PlanSimple(treasury, items)
		return executor.Execute(ctx, symbol, steps)
	})
	if workflow != nil {
		tasks.Register("aml_recheck", func(ctx context.Context, args []any, _ map[string]any) (any, error) {
			txID, symbol := args[0].(string), args[1].(string)
			return nil, workflow.Recheck(ctx, txID, symbol)
		})
		tasks.Register("run_payout_for_tx", func(ctx context.Context, args []any, _ map[string]any) (any, error) {
			txID := args[0].(string)
			return nil, workflow.RunPayoutForTx(ctx, txID)
		})
		tasks.Register("sweep_accounts", func(ctx context.Context, args []any, _ map[string]any) (any, error) {
			addresses, _ := args[0].([]string)
			return nil, workflow.SweepAccounts(ctx, addresses)
		})
	}
}

// runAMLMaintenance is the periodic sweep over transactions stuck in
// "pending" that spec.md §4.6 implies, run every AMLResultUpdatePeriod
// seconds (one minute when unset): a watchdog
// that re-dispatches recheck tasks independently of the one-shot timer
// internal/scanner already schedules per transaction.
func runAMLMaintenance(ctx context.Context, st *store.Store, tasks *taskqueue.Queue, cfg *config.Config) {
	period := time.Duration(cfg.AMLResultUpdatePeriod) * time.Second
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := st.AMLTx.ListByStatus(ctx, store.AMLStatusPending)
			if err != nil {
				continue
			}
			for _, tx := range pending {
				_, _, _ = tasks.Submit(ctx, "aml_recheck", []any{tx.TxID, tx.Crypto}, nil)
			}
		}
	}
}

// runSweepAccounts drives the "sweep_accounts" maintenance job on
// AML_SWEEP_ACCOUNTS_PERIOD, the recovery path spec §4.6 describes for
// missed or interrupted AML payouts: it re-lists every onetime account
// and lets the workflow's own balance/threshold check decide which ones
// need a re-dispatch.
func runSweepAccounts(ctx context.Context, keys *walletstore.KeyStore, tasks *taskqueue.Queue, cfg *config.Config) {
	period := time.Duration(cfg.AMLSweepAccountsPeriod) * time.Second
	if period <= 0 {
		period = time.Hour
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			addrs, err := keys.ListAddresses(ctx, store.KeyTypeOnetime)
			if err != nil {
				continue
			}
			_, _, _ = tasks.Submit(ctx, "sweep_accounts", []any{addrs}, nil)
		}
	}
}

func mustSun(raw string, decimals int) int64 {
	v, err := parseSunAmount(raw, decimals)
	if err != nil {
		return 0
	}
	return v.Int64()
}
