package store

import (
	"context"
	"database/sql"
	"errors"
)

// AMLStatus is the AML workflow state machine's state, spec §4.6.
type AMLStatus string

const (
	AMLStatusPending     AMLStatus = "pending"
	AMLStatusRechecking  AMLStatus = "rechecking"
	AMLStatusReady       AMLStatus = "ready"
	AMLStatusSkipped     AMLStatus = "skipped"
)

// AMLTransaction is one row of tron_aml_transactions: an inbound deposit
// awaiting a risk score before it is cleared for payout.
type AMLTransaction struct {
	TxID      string
	Status    AMLStatus
	Type      string // "aml" | "regular" | "from_fee", mirrors spec §3
	Score     float64
	Crypto    string
	Amount    string
	Address   string
	UID       string
}

// AMLTransactionRepo persists AMLTransaction rows.
type AMLTransactionRepo struct{ db *sql.DB }

// Upsert inserts a new transaction or updates an existing one's mutable
// fields (status, score) by tx_id.
func (r *AMLTransactionRepo) Upsert(ctx context.Context, t AMLTransaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tron_aml_transactions (tx_id, status, ttype, score, crypto, amount, address, uid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tx_id) DO UPDATE SET
		   status = excluded.status,
		   score = excluded.score,
		   updated_at = CURRENT_TIMESTAMP`,
		t.TxID, string(t.Status), t.Type, t.Score, t.Crypto, t.Amount, t.Address, t.UID)
	return err
}

// Get returns the transaction for txID, or nil if none exists.
func (r *AMLTransactionRepo) Get(ctx context.Context, txID string) (*AMLTransaction, error) {
	var t AMLTransaction
	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT tx_id, status, ttype, score, crypto, amount, address, uid
		 FROM tron_aml_transactions WHERE tx_id = ?`, txID).
		Scan(&t.TxID, &status, &t.Type, &t.Score, &t.Crypto, &t.Amount, &t.Address, &t.UID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Status = AMLStatus(status)
	return &t, nil
}

// ListByStatus returns every transaction currently in the given state,
// oldest first — the AML worker's queue of work.
func (r *AMLTransactionRepo) ListByStatus(ctx context.Context, status AMLStatus) ([]AMLTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tx_id, status, ttype, score, crypto, amount, address, uid
		 FROM tron_aml_transactions WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AMLTransaction
	for rows.Next() {
		var t AMLTransaction
		var st string
		if err := rows.Scan(&t.TxID, &st, &t.Type, &t.Score, &t.Crypto, &t.Amount, &t.Address, &t.UID); err != nil {
			return nil, err
		}
		t.Status = AMLStatus(st)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListByAddress returns every transaction recorded against a deposit
// address, oldest first — the sweep_accounts maintenance job's lookup
// from a non-zero onetime-account balance back to the AML transactions
// that funded it.
func (r *AMLTransactionRepo) ListByAddress(ctx context.Context, address string) ([]AMLTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT tx_id, status, ttype, score, crypto, amount, address, uid
		 FROM tron_aml_transactions WHERE address = ? ORDER BY created_at`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AMLTransaction
	for rows.Next() {
		var t AMLTransaction
		var st string
		if err := rows.Scan(&t.TxID, &st, &t.Type, &t.Score, &t.Crypto, &t.Amount, &t.Address, &t.UID); err != nil {
			return nil, err
		}
		t.Status = AMLStatus(st)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AMLPayoutStatus tracks one split of a ready AML transaction through
// the payout executor.
type AMLPayoutStatus string

const (
	AMLPayoutStatusPlanned AMLPayoutStatus = "planned"
	AMLPayoutStatusSent    AMLPayoutStatus = "sent"
	AMLPayoutStatusFailed  AMLPayoutStatus = "failed"
)

// AMLPayout is one row of tron_aml_payouts: a single scored split of an
// AML-cleared deposit, built by BuildPayoutList (spec §4.6).
type AMLPayout struct {
	ID           int64
	TxID         string
	ExternalTxID string
	Address      string
	Crypto       string
	AmountCalc   string
	AmountSend   string
	Status       AMLPayoutStatus
}

// AMLPayoutRepo persists AMLPayout rows. BuildPayoutList (in internal/aml)
// must be idempotent per spec §4.6, which this repo supports through
// ListByTx: BuildPayoutList reads a transaction's existing splits and
// skips their destinations before inserting new ones.
type AMLPayoutRepo struct{ db *sql.DB }

// ExistsForTx reports whether any payout rows already exist for txID.
func (r *AMLPayoutRepo) ExistsForTx(ctx context.Context, txID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tron_aml_payouts WHERE tx_id = ?`, txID).Scan(&count)
	return count > 0, err
}

// Add inserts one planned payout split.
func (r *AMLPayoutRepo) Add(ctx context.Context, p AMLPayout) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO tron_aml_payouts (tx_id, external_tx_id, address, crypto, amount_calc, amount_send, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.TxID, p.ExternalTxID, p.Address, p.Crypto, p.AmountCalc, p.AmountSend, string(p.Status))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListByTx returns every payout split for a transaction, insertion order.
func (r *AMLPayoutRepo) ListByTx(ctx context.Context, txID string) ([]AMLPayout, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tx_id, external_tx_id, address, crypto, amount_calc, amount_send, status
		 FROM tron_aml_payouts WHERE tx_id = ? ORDER BY id`, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AMLPayout
	for rows.Next() {
		var p AMLPayout
		var st string
		if err := rows.Scan(&p.ID, &p.TxID, &p.ExternalTxID, &p.Address, &p.Crypto, &p.AmountCalc, &p.AmountSend, &st); err != nil {
			return nil, err
		}
		p.Status = AMLPayoutStatus(st)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListByStatus returns every payout row currently in the given state,
// across all transactions, in insertion order.
func (r *AMLPayoutRepo) ListByStatus(ctx context.Context, status AMLPayoutStatus) ([]AMLPayout, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, tx_id, external_tx_id, address, crypto, amount_calc, amount_send, status
		 FROM tron_aml_payouts WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AMLPayout
	for rows.Next() {
		var p AMLPayout
		var st string
		if err := rows.Scan(&p.ID, &p.TxID, &p.ExternalTxID, &p.Address, &p.Crypto, &p.AmountCalc, &p.AmountSend, &st); err != nil {
			return nil, err
		}
		p.Status = AMLPayoutStatus(st)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkSent records a successful broadcast for a planned payout split.
func (r *AMLPayoutRepo) MarkSent(ctx context.Context, id int64, externalTxID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tron_aml_payouts SET status = ?, external_tx_id = ? WHERE id = ?`,
		string(AMLPayoutStatusSent), externalTxID, id)
	return err
}

// MarkFailed records that a planned payout split could not be sent.
func (r *AMLPayoutRepo) MarkFailed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tron_aml_payouts SET status = ? WHERE id = ?`, string(AMLPayoutStatusFailed), id)
	return err
}
