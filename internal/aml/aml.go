// Package aml is the AML Workflow: the risk-scoring state machine and
// scored payout splitting of spec.md §4.6. It picks up where
// internal/scanner's recordAML leaves off — a transaction already
// recorded as pending/ready — and carries it through rechecking to a
// final scored distribution.
//
// Grounded on internal/scanner/route.go's goroutine-based reschedule
// pattern and on internal/sweep for the chain-read helpers (token
// balance, address encoding) the sweep_accounts maintenance job needs.
package aml

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/config"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/payout"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/taskqueue"
	"github.com/shkeeper-io/tron-gateway/internal/tronaddr"
)

// TokenInfo is the subset of a configured TRC-20 token the
// sweep_accounts job needs to read a balance.
type TokenInfo struct {
	Symbol   string
	Contract string
	Decimals int
}

// Config bundles the workflow's tunables.
type Config struct {
	Treasury    string
	Drain       config.DrainMode
	MinBalance  map[string]*uint256.Int // symbol -> sweep_accounts re-dispatch threshold
	RecheckWait time.Duration
}

// Workflow runs the AML state machine against the store, re-scoring
// pending transactions and building scored payout splits for cleared
// ones.
type Workflow struct {
	cfg      Config
	store    *store.Store
	scoring  *ScoringClient
	executor *payout.Executor
	conn     *connpool.Manager
	tokens   map[string]TokenInfo
	tasks    *taskqueue.Queue
	reg      *metrics.Registry
	log      log.Logger
}

// New builds a Workflow.
func New(cfg Config, st *store.Store, scoring *ScoringClient, executor *payout.Executor, conn *connpool.Manager, tokens map[string]TokenInfo, tasks *taskqueue.Queue, reg *metrics.Registry) *Workflow {
	return &Workflow{
		cfg:      cfg,
		store:    st,
		scoring:  scoring,
		executor: executor,
		conn:     conn,
		tokens:   tokens,
		tasks:    tasks,
		reg:      reg,
		log:      log.New("component", "aml"),
	}
}

// Recheck implements the "aml_recheck" task: it calls the scoring
// service for txID and either clears it to ready/score and queues its
// payout, or leaves it pending and reschedules another recheck. If the
// score request itself fails, the row stays "rechecking" and another
// recheck is rescheduled. Spec §4.6's state diagram.
func (w *Workflow) Recheck(ctx context.Context, txID, symbol string) error {
	tx, err := w.store.AMLTx.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("aml: unknown tx %s", txID)
	}
	if tx.Status != store.AMLStatusPending && tx.Status != store.AMLStatusRechecking {
		return nil // already resolved by a racing recheck
	}

	rechecking := *tx
	rechecking.Status = store.AMLStatusRechecking
	if err := w.store.AMLTx.Upsert(ctx, rechecking); err != nil {
		return err
	}
	w.transition(string(tx.Status), string(store.AMLStatusRechecking))

	result, err := w.scoring.Score(ctx, symbol, txID, tx.Address)
	if err != nil {
		w.log.Warn("aml score request failed, retrying later", "txid", txID, "err", err)
		return w.reschedule(txID, symbol)
	}

	if result.Result != "success" {
		pending := *tx
		pending.Status = store.AMLStatusPending
		if err := w.store.AMLTx.Upsert(ctx, pending); err != nil {
			return err
		}
		w.transition(string(store.AMLStatusRechecking), string(store.AMLStatusPending))
		return w.reschedule(txID, symbol)
	}

	ready := *tx
	ready.Status = store.AMLStatusReady
	ready.Score = result.Score
	if err := w.store.AMLTx.Upsert(ctx, ready); err != nil {
		return err
	}
	w.transition(string(store.AMLStatusRechecking), string(store.AMLStatusReady))

	_, _, err = w.tasks.Submit(ctx, "run_payout_for_tx", []any{txID}, nil)
	return err
}

func (w *Workflow) reschedule(txID, symbol string) error {
	wait := w.cfg.RecheckWait
	go func() {
		if wait > 0 {
			time.Sleep(wait)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, _, err := w.tasks.Submit(ctx, "aml_recheck", []any{txID, symbol}, nil); err != nil {
			w.log.Warn("failed to reschedule AML recheck", "txid", txID, "err", err)
		}
	}()
	return nil
}

// BuildPayoutList computes the scored split for a ready transaction,
// then filters out any destination already covered by a previously
// committed tron_aml_payouts row — the idempotency rule of spec §4.6.
// A rerun of an already fully-split transaction returns an empty list.
func (w *Workflow) BuildPayoutList(ctx context.Context, tx store.AMLTransaction) ([]payout.PayoutItem, error) {
	amount, err := uint256.FromDecimal(tx.Amount)
	if err != nil {
		return nil, fmt.Errorf("aml: malformed amount %q for tx %s: %w", tx.Amount, tx.TxID, err)
	}

	split, err := w.resolveSplit(tx)
	if err != nil {
		return nil, err
	}
	items := splitAmount(amount, split)

	existing, err := w.store.AMLPayout.ListByTx(ctx, tx.TxID)
	if err != nil {
		return nil, err
	}
	covered := make(map[string]bool, len(existing))
	for _, p := range existing {
		covered[p.Address] = true
	}

	out := items[:0]
	for _, it := range items {
		if !covered[it.Dest] {
			out = append(out, it)
		}
	}
	return out, nil
}

// resolveSplit picks the destination/ratio map for tx: the fixed
// single-destination split for a regular (non-AML) deposit, or the
// drain config's matching score interval for an AML-cleared one.
func (w *Workflow) resolveSplit(tx store.AMLTransaction) (map[string]float64, error) {
	if tx.Type != "aml" {
		return map[string]float64{w.cfg.Treasury: 1}, nil
	}
	cryptos, ok := w.cfg.Drain.Cryptos[tx.Crypto]
	if !ok {
		return nil, fmt.Errorf("aml: no drain configuration for %s", tx.Crypto)
	}
	for _, iv := range cryptos.Intervals {
		if tx.Score >= iv.Low && tx.Score <= iv.High {
			return iv.Split, nil
		}
	}
	return nil, fmt.Errorf("aml: score %.4f on tx %s matches no configured interval", tx.Score, tx.TxID)
}

// splitAmount divides amount by split's ratios, addresses taken in
// sorted order so "the last address" (which absorbs the rounding
// residual, guaranteeing exact conservation) is deterministic across
// runs — the drain config's map has no ordering of its own.
//
// The ratio math runs on math/big's arbitrary-precision rationals
// rather than uint256: a float64 split ratio has no exact uint256
// representation, and big.Rat is what guarantees the exact-conservation
// property (amounts split across destinations sum back to amount with
// no residual). amount and each portion cross the uint256/big.Int
// boundary via ToBig/MustFromBig; the values themselves never exceed
// 256 bits since they originate from on-chain amounts.
func splitAmount(amount *uint256.Int, split map[string]float64) []payout.PayoutItem {
	addrs := make([]string, 0, len(split))
	for a := range split {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	amountBig := amount.ToBig()
	items := make([]payout.PayoutItem, 0, len(addrs))
	remaining := new(big.Int).Set(amountBig)
	for i, addr := range addrs {
		if i == len(addrs)-1 {
			items = append(items, payout.PayoutItem{Dest: addr, Amount: uint256.MustFromBig(remaining)})
			break
		}
		ratio := new(big.Rat).SetFloat64(split[addr])
		portion := new(big.Rat).Mul(new(big.Rat).SetInt(amountBig), ratio)
		portionInt := new(big.Int).Quo(portion.Num(), portion.Denom())
		items = append(items, payout.PayoutItem{Dest: addr, Amount: uint256.MustFromBig(portionInt)})
		remaining = new(big.Int).Sub(remaining, portionInt)
	}
	return items
}

// RunPayoutForTx implements the "run_payout_for_tx" task: build the
// (idempotent) payout list for a ready transaction, record each split
// as planned, execute them, and mark each sent or failed.
func (w *Workflow) RunPayoutForTx(ctx context.Context, txID string) error {
	tx, err := w.store.AMLTx.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx == nil {
		return fmt.Errorf("aml: unknown tx %s", txID)
	}
	if tx.Status != store.AMLStatusReady {
		return nil
	}

	items, err := w.BuildPayoutList(ctx, *tx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil // every destination already covered by a prior run
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		id, err := w.store.AMLPayout.Add(ctx, store.AMLPayout{
			TxID:       tx.TxID,
			Address:    it.Dest,
			Crypto:     tx.Crypto,
			AmountCalc: it.Amount.Dec(),
			AmountSend: it.Amount.Dec(),
			Status:     store.AMLPayoutStatusPlanned,
		})
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	steps := payout.PlanSimple(tx.Address, items)
	results, err := w.executor.Execute(ctx, tx.Crypto, steps)
	if err != nil {
		return err
	}
	for i, res := range results {
		if i >= len(ids) {
			break
		}
		if res.Status == "success" {
			if err := w.store.AMLPayout.MarkSent(ctx, ids[i], res.TxID); err != nil {
				return err
			}
		} else if err := w.store.AMLPayout.MarkFailed(ctx, ids[i]); err != nil {
			return err
		}
	}
	return nil
}

// SweepAccounts implements the "sweep_accounts" maintenance job: for
// every onetime address, if its balance in a configured symbol clears
// MinBalance, re-dispatch run_payout_for_tx for every AML transaction
// already recorded against it — the recovery path for missed or
// interrupted payouts, spec §4.6.
func (w *Workflow) SweepAccounts(ctx context.Context, addresses []string) error {
	for _, addr := range addresses {
		for symbol, min := range w.cfg.MinBalance {
			bal, err := w.balance(ctx, addr, symbol)
			if err != nil {
				w.log.Warn("sweep_accounts: balance read failed", "address", addr, "symbol", symbol, "err", err)
				continue
			}
			if bal == nil || bal.Cmp(min) < 0 {
				continue
			}
			if err := w.redispatch(ctx, addr, symbol); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Workflow) balance(ctx context.Context, address, symbol string) (*uint256.Int, error) {
	client, err := w.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	if symbol == "TRX" {
		acc, err := client.Account(ctx, address)
		if err != nil {
			return nil, err
		}
		return acc.Balance, nil
	}
	token, ok := w.tokens[symbol]
	if !ok {
		return nil, fmt.Errorf("aml: unknown token %s", symbol)
	}
	return tokenBalance(ctx, client, token, address)
}

func tokenBalance(ctx context.Context, client chainclient.ChainClient, token TokenInfo, account string) (*uint256.Int, error) {
	raw, err := tronaddr.Decode(account)
	if err != nil {
		return nil, err
	}
	param := make([]byte, 32)
	copy(param[32-20:], raw[1:])
	result, _, err := client.TriggerConstantContract(ctx, account, token.Contract, "balanceOf(address)", param)
	if err != nil {
		return nil, fmt.Errorf("aml: balanceOf %s: %w", account, err)
	}
	return new(uint256.Int).SetBytes(result), nil
}

func (w *Workflow) redispatch(ctx context.Context, address, symbol string) error {
	txs, err := w.store.AMLTx.ListByAddress(ctx, address)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.Crypto != symbol {
			continue
		}
		if _, _, err := w.tasks.Submit(ctx, "run_payout_for_tx", []any{tx.TxID}, nil); err != nil {
			w.log.Warn("sweep_accounts: resubmit failed", "txid", tx.TxID, "err", err)
		}
	}
	return nil
}

func (w *Workflow) transition(from, to string) {
	if w.reg != nil {
		w.reg.AMLTransitions.WithLabelValues(from, to).Inc()
	}
}
