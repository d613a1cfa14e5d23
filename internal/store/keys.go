package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// KeyType is the small taxonomy of address purposes spec.md §3 defines.
type KeyType string

const (
	KeyTypeFeeDeposit KeyType = "fee_deposit"
	KeyTypeOnetime    KeyType = "onetime"
	KeyTypeEnergy     KeyType = "energy"
	KeyTypeOnlyRead   KeyType = "only_read"
)

// singleton reports whether a key type is restricted to at most one row.
func (t KeyType) singleton() bool {
	return t == KeyTypeFeeDeposit || t == KeyTypeEnergy
}

// ErrDuplicateSingleton is returned when AddKey would create a second
// fee_deposit or energy record.
var ErrDuplicateSingleton = errors.New("store: a record of this type already exists")

// KeyRecord is one row of the keys table. Private is the ciphertext (or
// nil for an externally-managed key); decryption happens one layer up,
// in internal/walletstore, which is the only caller allowed to see
// plaintext key material.
type KeyRecord struct {
	ID                 int64
	Symbol             string
	Type               KeyType
	Public             string
	Private            []byte
	ExternallyManaged  bool
}

// KeyRepo persists KeyRecords. It enforces the at-most-one-fee_deposit /
// at-most-one-energy invariant itself (spec §3), rather than leaving it
// to callers, since it is otherwise untestable — see SPEC_FULL.md §4.
type KeyRepo struct{ db *sql.DB }

// Add inserts a new key record. For singleton types (fee_deposit,
// energy) it checks-then-inserts inside one transaction.
func (r *KeyRepo) Add(ctx context.Context, rec KeyRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if rec.Type.singleton() {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM keys WHERE type = ?`, string(rec.Type)).Scan(&count); err != nil {
			return 0, err
		}
		if count > 0 {
			return 0, ErrDuplicateSingleton
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO keys (symbol, type, public, private, externally_managed) VALUES (?, ?, ?, ?, ?)`,
		rec.Symbol, string(rec.Type), rec.Public, rec.Private, boolToInt(rec.ExternallyManaged),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert key: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get returns the single record of a singleton type, or the record for
// the given public address if one is supplied.
func (r *KeyRepo) Get(ctx context.Context, t KeyType, public string) (*KeyRecord, error) {
	var row *sql.Row
	if public != "" {
		row = r.db.QueryRowContext(ctx,
			`SELECT id, symbol, type, public, private, externally_managed FROM keys WHERE type = ? AND public = ?`,
			string(t), public)
	} else {
		row = r.db.QueryRowContext(ctx,
			`SELECT id, symbol, type, public, private, externally_managed FROM keys WHERE type = ? ORDER BY id LIMIT 1`,
			string(t))
	}
	return scanKeyRecord(row)
}

// ByPublic looks a key record up by its public address, regardless of type.
func (r *KeyRepo) ByPublic(ctx context.Context, public string) (*KeyRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, symbol, type, public, private, externally_managed FROM keys WHERE public = ?`, public)
	return scanKeyRecord(row)
}

// ListByType returns every record of the given type, oldest first.
func (r *KeyRepo) ListByType(ctx context.Context, t KeyType) ([]KeyRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, symbol, type, public, private, externally_managed FROM keys WHERE type = ? ORDER BY id`, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KeyRecord
	for rows.Next() {
		var rec KeyRecord
		var typ string
		var em int
		if err := rows.Scan(&rec.ID, &rec.Symbol, &typ, &rec.Public, &rec.Private, &em); err != nil {
			return nil, err
		}
		rec.Type = KeyType(typ)
		rec.ExternallyManaged = em != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdatePrivate overwrites the ciphertext column for an existing record,
// used when re-encrypting in place under a newly established key.
func (r *KeyRepo) UpdatePrivate(ctx context.Context, id int64, private []byte) error {
	_, err := r.db.ExecContext(ctx, `UPDATE keys SET private = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, private, id)
	return err
}

// All returns every key record, used by walletstore's encryption-mode
// check and by the key dump paths.
func (r *KeyRepo) All(ctx context.Context) ([]KeyRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, symbol, type, public, private, externally_managed FROM keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KeyRecord
	for rows.Next() {
		var rec KeyRecord
		var typ string
		var em int
		if err := rows.Scan(&rec.ID, &rec.Symbol, &typ, &rec.Public, &rec.Private, &em); err != nil {
			return nil, err
		}
		rec.Type = KeyType(typ)
		rec.ExternallyManaged = em != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanKeyRecord(row *sql.Row) (*KeyRecord, error) {
	var rec KeyRecord
	var typ string
	var em int
	if err := row.Scan(&rec.ID, &rec.Symbol, &typ, &rec.Public, &rec.Private, &em); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.Type = KeyType(typ)
	rec.ExternallyManaged = em != 0
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
