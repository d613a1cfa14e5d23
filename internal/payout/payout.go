// Package payout is the Payout Planner & Executor: turning a requested
// list of {destination, amount} pairs into signed, broadcast transfers
// and reporting the aggregated result back to Keeper, per spec.md §4.5.
//
// Grounded on internal/taskqueue for the bounded-worker-pool shape
// (golang.org/x/sync's semaphore/errgroup, a direct teacher dependency)
// and on internal/sweep for the build→sign→broadcast pattern against
// chainclient.ChainClient; the inflight-dedup rule spec §4.5 calls out
// is already provided by taskqueue.Queue.Submit, so this package does
// not reimplement it.
package payout

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/luxfi/log"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/keeper"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/txsign"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
)

// ErrInsufficientFunds covers both the fee-seeding precondition and the
// multi-account planner's "accounts exhausted before amount met" case.
var ErrInsufficientFunds = errors.New("payout: insufficient funds")

// PayoutItem is one requested destination/amount pair, the planner's input.
type PayoutItem struct {
	Dest   string
	Amount *uint256.Int // smallest unit for the symbol being paid out
}

// Step is one planned transfer, the planner's output and the
// executor's unit of work.
type Step struct {
	Src    string
	Dst    string
	Amount *uint256.Int
}

// PlanSimple maps items 1:1 to steps from a single funding account —
// spec §4.5's "current simplified planner," used when only one signing
// account holds the symbol's balance.
func PlanSimple(src string, items []PayoutItem) []Step {
	steps := make([]Step, len(items))
	for i, it := range items {
		steps[i] = Step{Src: src, Dst: it.Dest, Amount: new(uint256.Int).Set(it.Amount)}
	}
	return steps
}

// AccountBalance is one funding account's available balance, the
// richer planner's view of the wallet.
type AccountBalance struct {
	Address string
	Balance *uint256.Int
}

// PlanMultiAccount assigns each item to one or more funding accounts:
// prefer a single exact-balance match, else drain everything if the
// total exactly covers the list, else take greedily from the largest
// balances down. Kept for multi-account wallets, spec §4.5.
func PlanMultiAccount(accounts []AccountBalance, items []PayoutItem) ([]Step, error) {
	bal := make(map[string]*uint256.Int, len(accounts))
	order := make([]string, 0, len(accounts))
	for _, a := range accounts {
		bal[a.Address] = new(uint256.Int).Set(a.Balance)
		order = append(order, a.Address)
	}

	var steps []Step
	for _, item := range items {
		itemSteps, err := planOne(bal, order, item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, itemSteps...)
	}
	return steps, nil
}

func planOne(bal map[string]*uint256.Int, order []string, item PayoutItem) ([]Step, error) {
	for _, addr := range order {
		if bal[addr].Cmp(item.Amount) == 0 {
			taken := bal[addr]
			bal[addr] = uint256.NewInt(0)
			return []Step{{Src: addr, Dst: item.Dest, Amount: taken}}, nil
		}
	}

	total := uint256.NewInt(0)
	for _, addr := range order {
		total.Add(total, bal[addr])
	}
	if !total.IsZero() && total.Cmp(item.Amount) == 0 {
		var steps []Step
		for _, addr := range order {
			if bal[addr].IsZero() {
				continue
			}
			steps = append(steps, Step{Src: addr, Dst: item.Dest, Amount: bal[addr]})
			bal[addr] = uint256.NewInt(0)
		}
		return steps, nil
	}

	sorted := append([]string(nil), order...)
	sort.Slice(sorted, func(i, j int) bool { return bal[sorted[i]].Cmp(bal[sorted[j]]) > 0 })

	remaining := new(uint256.Int).Set(item.Amount)
	var steps []Step
	for _, addr := range sorted {
		if remaining.IsZero() {
			break
		}
		if bal[addr].IsZero() {
			continue
		}
		take := new(uint256.Int).Set(bal[addr])
		if take.Cmp(remaining) > 0 {
			take = new(uint256.Int).Set(remaining)
		}
		steps = append(steps, Step{Src: addr, Dst: item.Dest, Amount: take})
		bal[addr].Sub(bal[addr], take)
		remaining.Sub(remaining, take)
	}
	if !remaining.IsZero() {
		return nil, fmt.Errorf("%w: short by %s", ErrInsufficientFunds, remaining.Dec())
	}
	return steps, nil
}

// SeedFees funds every distinct signing account in steps with txFeeSun
// sun of TRX in parallel, refusing up front unless the treasury can
// cover count×TX_FEE, per spec §4.5's fee-seeding precondition.
func SeedFees(ctx context.Context, client chainclient.ChainClient, keys *walletstore.KeyStore, treasury string, steps []Step, txFeeSun int64) error {
	seen := make(map[string]bool)
	var accounts []string
	for _, s := range steps {
		if !seen[s.Src] {
			seen[s.Src] = true
			accounts = append(accounts, s.Src)
		}
	}
	if len(accounts) == 0 {
		return nil
	}

	treasuryAcc, err := client.Account(ctx, treasury)
	if err != nil {
		return err
	}
	need := txFeeSun * int64(len(accounts))
	if treasuryAcc.Balance == nil || treasuryAcc.Balance.Cmp(uint256.NewInt(uint64(need))) < 0 {
		return fmt.Errorf("%w: need %d sun to seed %d accounts", ErrInsufficientFunds, need, len(accounts))
	}
	treasuryPriv, ok, err := keys.GetKeyByPublic(ctx, treasury)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("payout: treasury key is externally managed")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range accounts {
		addr := addr
		g.Go(func() error {
			return signAndBroadcastTRX(gctx, client, treasuryPriv, treasury, addr, txFeeSun)
		})
	}
	return g.Wait()
}

// TokenInfo is the subset of a configured TRC-20 token the executor
// needs to build transfer() calldata.
type TokenInfo struct {
	Symbol   string
	Contract string
	Decimals int
}

// StepResult is one executed step's outcome.
type StepResult struct {
	Step   Step
	Status string // "success" | "error"
	TxID   string
	Err    string
}

// Executor runs planned steps against a bounded worker pool and reports
// the aggregated result to Keeper.
type Executor struct {
	conn       *connpool.Manager
	keys       *walletstore.KeyStore
	kpr        *keeper.Client
	tokens     map[string]TokenInfo
	reg        *metrics.Registry
	log        log.Logger
	maxWorkers int
	txExpiry   time.Duration
}

// NewExecutor builds an Executor. maxWorkers is CONCURRENT_MAX_WORKERS.
func NewExecutor(conn *connpool.Manager, keys *walletstore.KeyStore, kpr *keeper.Client, tokens map[string]TokenInfo, reg *metrics.Registry, maxWorkers int, txExpiry time.Duration) *Executor {
	return &Executor{
		conn:       conn,
		keys:       keys,
		kpr:        kpr,
		tokens:     tokens,
		reg:        reg,
		log:        log.New("component", "payout"),
		maxWorkers: maxWorkers,
		txExpiry:   txExpiry,
	}
}

// Execute runs every step for symbol, bounded to e.maxWorkers concurrent
// workers, then fires the aggregated Keeper notification asynchronously
// with infinite retry (spec §4.5) and returns immediately with results.
func (e *Executor) Execute(ctx context.Context, symbol string, steps []Step) ([]StepResult, error) {
	results := make([]StepResult, len(steps))
	sem := semaphore.NewWeighted(int64(maxInt(1, e.maxWorkers)))
	var g errgroup.Group
	for i, step := range steps {
		i, step := i, step
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = e.executeStep(ctx, symbol, step)
			return nil
		})
	}
	_ = g.Wait()

	e.notifyKeeperAsync(symbol, results)
	return results, nil
}

func (e *Executor) executeStep(ctx context.Context, symbol string, step Step) StepResult {
	client, err := e.conn.Client(ctx)
	if err != nil {
		e.attempt("error")
		return StepResult{Step: step, Status: "error", Err: err.Error()}
	}

	privHex, ok, err := e.keys.GetKeyByPublic(ctx, step.Src)
	if err != nil {
		e.attempt("error")
		return StepResult{Step: step, Status: "error", Err: err.Error()}
	}
	if !ok {
		e.attempt("error")
		return StepResult{Step: step, Status: "error", Err: fmt.Sprintf("no signing key for %s", step.Src)}
	}

	var txID string
	if symbol == "TRX" {
		txID, err = e.sendTRX(ctx, client, privHex, step)
	} else {
		txID, err = e.sendTRC20(ctx, client, privHex, symbol, step)
	}
	if err != nil {
		e.attempt("error")
		return StepResult{Step: step, Status: "error", Err: err.Error()}
	}

	if err := e.waitForReceipt(ctx, client, txID); err != nil {
		e.attempt("error")
		return StepResult{Step: step, Status: "error", TxID: txID, Err: err.Error()}
	}
	e.attempt("success")
	return StepResult{Step: step, Status: "success", TxID: txID}
}

func (e *Executor) sendTRX(ctx context.Context, client chainclient.ChainClient, privHex string, step Step) (string, error) {
	return signAndBroadcastTRX(ctx, client, privHex, step.Src, step.Dst, int64(step.Amount.Uint64()))
}

func (e *Executor) sendTRC20(ctx context.Context, client chainclient.ChainClient, privHex, symbol string, step Step) (string, error) {
	token, ok := e.tokens[symbol]
	if !ok {
		return "", fmt.Errorf("payout: unknown token %s", symbol)
	}
	param, err := txsign.EncodeTransferParams(step.Dst, step.Amount)
	if err != nil {
		return "", err
	}
	return signAndBroadcast(ctx, client, privHex, func(refBlock uint64) txsign.UnsignedTx {
		tx := txsign.New(txsign.ContractTRC20Transfer, step.Src, refBlock, e.expiry())
		tx.Contract = token.Contract
		tx.Selector = "transfer(address,uint256)"
		tx.Parameter = param
		return tx
	})
}

func (e *Executor) expiry() time.Duration {
	if e.txExpiry <= 0 {
		return time.Minute
	}
	return e.txExpiry
}

func (e *Executor) waitForReceipt(ctx context.Context, client chainclient.ChainClient, txID string) error {
	for i := 0; i < 10; i++ {
		info, err := client.TxInfo(ctx, txID)
		if err == nil && info != nil && info.TxID == txID {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("payout: %s never confirmed", txID)
}

// notifyKeeperAsync fires the aggregated result at Keeper in the
// background: PayoutNotify itself retries forever (spec §4.5), so
// Execute must not block on it.
func (e *Executor) notifyKeeperAsync(symbol string, results []StepResult) {
	payload := aggregate(results)
	if e.reg != nil {
		e.reg.PayoutNotifyRetries.Inc()
	}
	go func() {
		if err := e.kpr.PayoutNotify(context.Background(), symbol, payload); err != nil {
			e.log.Warn("payout notify ultimately failed", "symbol", symbol, "err", err)
		}
	}()
}

func aggregate(results []StepResult) []keeper.PayoutResult {
	status := "success"
	var txids []string
	var details []string
	for _, r := range results {
		if r.TxID != "" {
			txids = append(txids, r.TxID)
		}
		if r.Status != "success" {
			status = "error"
			details = append(details, fmt.Sprintf("%s->%s: %s", r.Step.Src, r.Step.Dst, r.Err))
		}
	}
	return []keeper.PayoutResult{{
		Status:  status,
		TxIDs:   txids,
		Details: strings.Join(details, "; "),
	}}
}

func (e *Executor) attempt(status string) {
	if e.reg != nil {
		e.reg.PayoutStepsExecuted.WithLabelValues(status).Inc()
	}
}

func signAndBroadcastTRX(ctx context.Context, client chainclient.ChainClient, privHex, owner, to string, amountSun int64) (string, error) {
	return signAndBroadcast(ctx, client, privHex, func(refBlock uint64) txsign.UnsignedTx {
		tx := txsign.New(txsign.ContractTransfer, owner, refBlock, time.Minute)
		tx.To = to
		tx.Amount = amountSun
		return tx
	})
}

func signAndBroadcast(ctx context.Context, client chainclient.ChainClient, privHex string, build func(refBlock uint64) txsign.UnsignedTx) (string, error) {
	info, err := client.NodeInfo(ctx)
	if err != nil {
		return "", err
	}
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return "", fmt.Errorf("payout: decode private key: %w", err)
	}
	signed, err := txsign.Sign(build(info.HeadBlock), priv)
	if err != nil {
		return "", err
	}
	raw, err := txsign.Marshal(signed)
	if err != nil {
		return "", err
	}
	res, err := client.BroadcastTransaction(ctx, raw)
	if err != nil {
		return "", err
	}
	if !res.Result {
		return "", fmt.Errorf("payout: broadcast rejected: %s", res.Message)
	}
	return res.TxID, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
