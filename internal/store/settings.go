package store

import (
	"context"
	"database/sql"
	"errors"
)

// Well-known setting names. Keeping them as constants here (rather than
// scattering string literals across packages) matches the narrow key
// space spec.md §3 allows for this table.
const (
	SettingLastSeenBlockNum = "last_seen_block_num"
	SettingCurrentServerID  = "current_server_id"
	SettingEncryptionSalt   = "encryption_salt"
	SettingEncryptionCheck  = "encryption_check" // ciphertext of a known plaintext, proves a password
)

// SettingRepo is a flat string key/value store for the handful of
// pieces of mutable process state that must survive a restart.
type SettingRepo struct{ db *sql.DB }

// Get returns the value for name, or ("", false) if unset.
func (r *SettingRepo) Get(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set creates or overwrites name's value.
func (r *SettingRepo) Set(ctx context.Context, name, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, value)
	return err
}

// Delete removes name, if present.
func (r *SettingRepo) Delete(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM settings WHERE name = ?`, name)
	return err
}
