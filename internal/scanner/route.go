package scanner

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shkeeper-io/tron-gateway/internal/store"
)

// route applies spec §4.3.2's routing rules to one derived transfer
// against the treasury address and the Watched-Set.
func (s *Scanner) route(ctx context.Context, t ParsedTransfer) error {
	dstWatched := s.watch.Contains(t.Dst)
	srcWatched := s.watch.Contains(t.Src)
	isTreasury := strings.EqualFold(t.Src, s.treasury)

	if !t.IsTRC20 && isTreasury && dstWatched {
		// The system's own outbound fee top-up. Not a deposit.
		return nil
	}

	if !dstWatched || !strings.EqualFold(t.Status, "SUCCESS") {
		return nil
	}

	if err := s.kpr.Notify(ctx, t.Symbol, t.TxID); err != nil {
		return fmt.Errorf("%w: %v", ErrNotificationFailed, err)
	}
	if s.reg != nil {
		s.reg.ScannerTxsSeen.WithLabelValues(t.Symbol).Inc()
	}

	if !s.cfg.AMLEnabled {
		return s.enqueueSweep(ctx, t)
	}
	return s.recordAML(ctx, t, srcWatched, isTreasury)
}

func (s *Scanner) enqueueSweep(ctx context.Context, t ParsedTransfer) error {
	name := "sweep_trx"
	if t.IsTRC20 {
		name = "sweep_trc20"
	}
	_, _, err := s.tasks.Submit(ctx, name, []any{t.Dst, t.Symbol}, nil)
	return err
}

// recordAML implements the AML branch of spec §4.3.2 and the "amount ≥
// min_check_amount?" decision at the head of spec §4.6's state diagram:
// a deposit whose source is outside the watched+treasury set becomes a
// pending AML transaction awaiting a score, unless it is below the
// configured per-symbol check threshold, in which case it clears
// immediately at score=1; treasury-originated fee top-ups into a
// watched address are logged as skipped/from_fee.
func (s *Scanner) recordAML(ctx context.Context, t ParsedTransfer, srcWatched, srcIsTreasury bool) error {
	if srcIsTreasury {
		return s.store.AMLTx.Upsert(ctx, store.AMLTransaction{
			TxID:    t.TxID,
			Status:  store.AMLStatusSkipped,
			Type:    "from_fee",
			Crypto:  t.Symbol,
			Amount:  t.Amount.Dec(),
			Address: t.Dst,
		})
	}

	// src ∉ W ∪ {M}, and src ∈ W (a watched address paying another
	// watched address) are both treated as a pending deposit awaiting
	// review; spec §4.3.2 only calls out the former explicitly.
	_ = srcWatched

	if belowMinCheckAmount(t, s.cfg.AMLMinCheck) {
		if err := s.store.AMLTx.Upsert(ctx, store.AMLTransaction{
			TxID:    t.TxID,
			Status:  store.AMLStatusReady,
			Type:    "regular",
			Score:   1,
			Crypto:  t.Symbol,
			Amount:  t.Amount.Dec(),
			Address: t.Dst,
		}); err != nil {
			return err
		}
		_, _, err := s.tasks.Submit(ctx, "run_payout_for_tx", []any{t.TxID}, nil)
		return err
	}

	if err := s.store.AMLTx.Upsert(ctx, store.AMLTransaction{
		TxID:    t.TxID,
		Status:  store.AMLStatusPending,
		Type:    "aml",
		Score:   -1,
		Crypto:  t.Symbol,
		Amount:  t.Amount.Dec(),
		Address: t.Dst,
	}); err != nil {
		return err
	}

	wait := s.cfg.AMLWait
	if wait <= 0 {
		wait = 0
	}
	txID, symbol := t.TxID, t.Symbol
	go func() {
		if wait > 0 {
			time.Sleep(wait)
		}
		submitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, _, err := s.tasks.Submit(submitCtx, "aml_recheck", []any{txID, symbol}, nil); err != nil {
			s.log.Warn("failed to schedule AML recheck", "txid", txID, "err", err)
		}
	}()
	return nil
}

// belowMinCheckAmount reports whether t's amount is strictly under the
// configured minimum-check threshold for its symbol. A symbol with no
// configured threshold always requires a check (the safer default).
func belowMinCheckAmount(t ParsedTransfer, minCheck map[string]string) bool {
	raw, ok := minCheck[t.Symbol]
	if !ok || raw == "" {
		return false
	}
	threshold, ok := new(big.Rat).SetString(raw)
	if !ok {
		return false
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil)
	threshold.Mul(threshold, new(big.Rat).SetInt(scale))

	amount := new(big.Rat).SetInt(t.Amount.ToBig())
	return amount.Cmp(threshold) < 0
}
