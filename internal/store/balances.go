package store

import (
	"context"
	"database/sql"
	"errors"
)

// Balance is one cached (account, symbol) balance, amount held as a
// decimal string so full sun-precision integers round-trip exactly.
type Balance struct {
	Account string
	Symbol  string
	Amount  string
}

// BalanceRepo caches per-account balances. spec §5 requires the
// full-table rewrite to run inside a single exclusive transaction, so
// ReplaceAllTx takes the *sql.Tx handed out by Store.WithImmediate
// rather than opening its own.
type BalanceRepo struct{ db *sql.DB }

// Get returns the cached balance for (account, symbol), or ("", false)
// if nothing has been cached yet.
func (r *BalanceRepo) Get(ctx context.Context, account, symbol string) (string, bool, error) {
	var amount string
	err := r.db.QueryRowContext(ctx,
		`SELECT amount FROM balances WHERE account = ? AND symbol = ?`, account, symbol).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return amount, true, nil
}

// ListBySymbol returns every cached balance for a symbol.
func (r *BalanceRepo) ListBySymbol(ctx context.Context, symbol string) ([]Balance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT account, symbol, amount FROM balances WHERE symbol = ?`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.Account, &b.Symbol, &b.Amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Upsert writes a single balance outside of a bulk rewrite, e.g. after
// observing one account change on-chain.
func (r *BalanceRepo) Upsert(ctx context.Context, b Balance) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO balances (account, symbol, amount) VALUES (?, ?, ?)
		 ON CONFLICT(account, symbol) DO UPDATE SET amount = excluded.amount, updated_at = CURRENT_TIMESTAMP`,
		b.Account, b.Symbol, b.Amount)
	return err
}

// ReplaceAllTx drops and repopulates every balance row for symbol within
// tx, the caller's BEGIN IMMEDIATE transaction. Used for the periodic
// full balance resync described in spec §5.
func (r *BalanceRepo) ReplaceAllTx(ctx context.Context, tx *sql.Tx, symbol string, balances []Balance) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM balances WHERE symbol = ?`, symbol); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO balances (account, symbol, amount) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, b := range balances {
		if _, err := stmt.ExecContext(ctx, b.Account, symbol, b.Amount); err != nil {
			return err
		}
	}
	return nil
}
