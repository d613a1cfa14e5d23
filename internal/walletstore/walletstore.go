// Package walletstore is the Key Store and Wallet Encryption component:
// persistence of address key records gated by a three-state encryption
// mode, matching spec.md §4.2.
//
// Grounded on internal/tronaddr for the address codec and on the
// teacher's direct golang.org/x/crypto dependency for PBKDF2. The
// EXTERNALLY_MANAGED sentinel the source used (a magic string in the
// private column) is replaced per Design Notes §9 with the nullable
// ciphertext + boolean externally_managed column already defined in
// internal/store's schema — see DESIGN.md's Open Question decision.
package walletstore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/shkeeper-io/tron-gateway/internal/store"
)

// bootstrapPollInterval is how often Bootstrap re-polls Keeper's
// decrypt endpoint while it reports an unsettled persistent_status
// (e.g. "pending").
const bootstrapPollInterval = time.Second

// pbkdfSalt and pbkdfIterations are fixed by spec §4.2.
const (
	pbkdfSalt       = "Shkeeper4TheWin!"
	pbkdfIterations = 500_000
	pbkdfKeyLen     = 32
)

// Mode is the Wallet Encryption component's three-state lifecycle.
type Mode int

const (
	// ModeUnset means no decision has been observed from Keeper yet;
	// every Encrypt/Decrypt call fails until SetDisabled or SetEnabled
	// is called.
	ModeUnset Mode = iota
	ModeDisabled
	ModeEnabled
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeEnabled:
		return "enabled"
	default:
		return "unset"
	}
}

// ErrModeUnset is returned by Encrypt/Decrypt before the component has
// observed a settled mode from Keeper.
var ErrModeUnset = errors.New("walletstore: encryption mode not yet established")

// ErrModeMismatch is the fatal EncryptionModeMismatch condition of
// spec §7: the stored key column format does not match the requested
// runtime mode, and re-encryption was not authorized.
var ErrModeMismatch = errors.New("walletstore: stored key format does not match requested encryption mode")

// Encryptor implements the three-state Wallet Encryption gate.
// Safe for concurrent use.
type Encryptor struct {
	mu   sync.RWMutex
	mode Mode
	key  [32]byte
}

// NewEncryptor returns an Encryptor in ModeUnset.
func NewEncryptor() *Encryptor {
	return &Encryptor{mode: ModeUnset}
}

// SetDisabled puts the component into identity-encryption mode.
func (e *Encryptor) SetDisabled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = ModeDisabled
}

// SetEnabled derives the encryption key from passphrase and switches to
// authenticated-encryption mode.
func (e *Encryptor) SetEnabled(passphrase string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	derived := pbkdf2.Key([]byte(passphrase), []byte(pbkdfSalt), pbkdfIterations, pbkdfKeyLen, sha256.New)
	copy(e.key[:], derived)
	e.mode = ModeEnabled
}

// Mode returns the component's current state.
func (e *Encryptor) Mode() Mode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Encrypt transforms plaintext according to the current mode: identity
// under ModeDisabled, a Fernet token under ModeEnabled, an error under
// ModeUnset.
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.mode {
	case ModeDisabled:
		out := make([]byte, len(plaintext))
		copy(out, plaintext)
		return out, nil
	case ModeEnabled:
		token, err := fernetEncrypt(e.key, plaintext)
		if err != nil {
			return nil, err
		}
		return []byte(token), nil
	default:
		return nil, ErrModeUnset
	}
}

// Decrypt reverses Encrypt.
func (e *Encryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.mode {
	case ModeDisabled:
		out := make([]byte, len(ciphertext))
		copy(out, ciphertext)
		return out, nil
	case ModeEnabled:
		return fernetDecrypt(e.key, string(ciphertext))
	default:
		return nil, ErrModeUnset
	}
}

// DecryptStatusFetcher is the subset of the Keeper client the Wallet
// Encryption bootstrap needs — defined here rather than imported from
// internal/keeper to avoid a dependency cycle (keeper in turn depends on
// nothing in this package).
type DecryptStatusFetcher interface {
	DecryptStatus(ctx context.Context, symbol string) (persistentStatus, key string, err error)
}

// Bootstrap polls fetcher until it reports a settled persistent_status
// ("disabled" or "enabled"), then applies it to enc. Any other value
// (notably Keeper's initial "pending") is not an error: Bootstrap sleeps
// bootstrapPollInterval and retries until ctx expires, per spec §4.2
// ("polls Keeper's /api/v1/<symbol>/decrypt until it returns a settled
// persistent_status"). It validates the chosen mode against the shape
// of the first stored key row: Enabled mode requires ciphertext that is
// not valid raw hex, Disabled mode requires it to already be raw hex.
// On mismatch it returns ErrModeMismatch unless forceReencrypt is set
// and the store is currently unencrypted, in which case every row is
// re-encrypted in place under the newly enabled key.
func Bootstrap(ctx context.Context, fetcher DecryptStatusFetcher, symbol string, enc *Encryptor, repo *store.KeyRepo, forceReencrypt bool) error {
	for {
		status, key, err := fetcher.DecryptStatus(ctx, symbol)
		if err != nil {
			return fmt.Errorf("walletstore: bootstrap: %w", err)
		}

		switch status {
		case "disabled":
			if err := validateMode(ctx, repo, ModeDisabled, enc, "", forceReencrypt); err != nil {
				return err
			}
			enc.SetDisabled()
			return nil
		case "enabled":
			if err := validateMode(ctx, repo, ModeEnabled, enc, key, forceReencrypt); err != nil {
				return err
			}
			enc.SetEnabled(key)
			return nil
		default:
			select {
			case <-ctx.Done():
				return fmt.Errorf("walletstore: bootstrap: timed out waiting for settled persistent_status (last=%q): %w", status, ctx.Err())
			case <-time.After(bootstrapPollInterval):
			}
		}
	}
}

func validateMode(ctx context.Context, repo *store.KeyRepo, want Mode, enc *Encryptor, passphrase string, forceReencrypt bool) error {
	records, err := repo.All(ctx)
	if err != nil {
		return err
	}
	// Nothing stored yet: no format to validate against.
	if len(records) == 0 {
		return nil
	}

	sample := records[0]
	if sample.ExternallyManaged {
		return nil
	}

	storedLooksEncrypted := !isRawHexKey(sample.Private)
	wantEncrypted := want == ModeEnabled

	if storedLooksEncrypted == wantEncrypted {
		return nil
	}

	if !forceReencrypt || storedLooksEncrypted {
		// Either re-encryption wasn't authorized, or the stored format
		// is already encrypted and we can't safely guess the old key
		// to re-derive from — both are a hard mismatch.
		return ErrModeMismatch
	}

	// Store is currently unencrypted (raw hex) and the caller authorized
	// re-encryption into the newly Enabled mode.
	enc.SetEnabled(passphrase)
	for _, rec := range records {
		if rec.ExternallyManaged {
			continue
		}
		ciphertext, err := enc.Encrypt(rec.Private)
		if err != nil {
			return err
		}
		if err := repo.UpdatePrivate(ctx, rec.ID, ciphertext); err != nil {
			return err
		}
	}
	return nil
}

// isRawHexKey reports whether b looks like a raw hex-encoded private
// scalar (64 hex chars for a 32-byte Tron/secp256k1 key) rather than an
// encrypted blob.
func isRawHexKey(b []byte) bool {
	if len(b) != 64 {
		return false
	}
	for _, c := range b {
		isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !isHex {
			return false
		}
	}
	return true
}

// KeyStore is the encrypted view over store.KeyRepo: every write path
// encrypts, every read path decrypts, per the current Encryptor mode.
type KeyStore struct {
	repo *store.KeyRepo
	enc  *Encryptor
}

// NewKeyStore wraps repo with enc.
func NewKeyStore(repo *store.KeyRepo, enc *Encryptor) *KeyStore {
	return &KeyStore{repo: repo, enc: enc}
}

// AddKey stores a new key record. privateHex is the raw hex-encoded
// private scalar; pass externallyManaged=true and an empty privateHex
// for a key whose signing is delegated to a cooperating account via
// Tron account permissions (spec §4.2's EXTERNALLY_MANAGED case).
func (k *KeyStore) AddKey(ctx context.Context, symbol string, t store.KeyType, public, privateHex string, externallyManaged bool) (int64, error) {
	var ciphertext []byte
	if !externallyManaged {
		ct, err := k.enc.Encrypt([]byte(privateHex))
		if err != nil {
			return 0, fmt.Errorf("walletstore: encrypt: %w", err)
		}
		ciphertext = ct
	}
	return k.repo.Add(ctx, store.KeyRecord{
		Symbol:            symbol,
		Type:              t,
		Public:            public,
		Private:           ciphertext,
		ExternallyManaged: externallyManaged,
	})
}

// GetKey returns the decrypted private key hex and the public address
// for the given type (and, if non-empty, specific public address). ok
// is false for an externally-managed key: the caller must route signing
// through the cooperating account instead.
func (k *KeyStore) GetKey(ctx context.Context, t store.KeyType, public string) (privateHex string, publicAddress string, ok bool, err error) {
	rec, err := k.repo.Get(ctx, t, public)
	if err != nil {
		return "", "", false, err
	}
	if rec == nil {
		return "", "", false, nil
	}
	if rec.ExternallyManaged {
		return "", rec.Public, false, nil
	}
	plain, err := k.enc.Decrypt(rec.Private)
	if err != nil {
		return "", "", false, fmt.Errorf("walletstore: decrypt: %w", err)
	}
	return string(plain), rec.Public, true, nil
}

// GetKeyByPublic returns the decrypted private key hex for a stored
// address regardless of its key type — used by the Sweep Orchestrator
// and AML Workflow, which only ever have the public address on hand
// (e.g. the deposit address a transfer landed on).
func (k *KeyStore) GetKeyByPublic(ctx context.Context, public string) (privateHex string, ok bool, err error) {
	rec, err := k.repo.ByPublic(ctx, public)
	if err != nil {
		return "", false, err
	}
	if rec == nil {
		return "", false, fmt.Errorf("walletstore: no key record for address %s", public)
	}
	if rec.ExternallyManaged {
		return "", false, nil
	}
	plain, err := k.enc.Decrypt(rec.Private)
	if err != nil {
		return "", false, fmt.Errorf("walletstore: decrypt: %w", err)
	}
	return string(plain), true, nil
}

// ListAddresses returns every stored public address of the given types,
// used to seed the Watched-Set at startup.
func (k *KeyStore) ListAddresses(ctx context.Context, types ...store.KeyType) ([]string, error) {
	var out []string
	for _, t := range types {
		recs, err := k.repo.ListByType(ctx, t)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out = append(out, r.Public)
		}
	}
	return out, nil
}
