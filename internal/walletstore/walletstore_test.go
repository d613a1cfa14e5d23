package walletstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shkeeper-io/tron-gateway/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEncryptDecryptRoundTripEnabled(t *testing.T) {
	enc := NewEncryptor()
	enc.SetEnabled("correct horse battery staple")

	ct, err := enc.Encrypt([]byte("hello world"))
	require.NoError(t, err)
	require.NotEqual(t, "hello world", string(ct))

	pt, err := enc.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(pt))
}

func TestEncryptIdentityWhenDisabled(t *testing.T) {
	enc := NewEncryptor()
	enc.SetDisabled()

	ct, err := enc.Encrypt([]byte("plaintext"))
	require.NoError(t, err)
	require.Equal(t, "plaintext", string(ct))
}

func TestEncryptFailsWhenUnset(t *testing.T) {
	enc := NewEncryptor()
	_, err := enc.Encrypt([]byte("x"))
	require.ErrorIs(t, err, ErrModeUnset)
}

func TestKeyStoreRoundTrip(t *testing.T) {
	st := newTestStore(t)
	enc := NewEncryptor()
	enc.SetEnabled("passphrase")
	ks := NewKeyStore(st.Keys, enc)

	id, err := ks.AddKey(context.Background(), "_", store.KeyTypeOnetime, "TAddr1", "deadbeef", false)
	require.NoError(t, err)
	require.NotZero(t, id)

	priv, pub, ok, err := ks.GetKey(context.Background(), store.KeyTypeOnetime, "TAddr1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "deadbeef", priv)
	require.Equal(t, "TAddr1", pub)
}

func TestKeyStoreExternallyManagedHasNoPrivate(t *testing.T) {
	st := newTestStore(t)
	enc := NewEncryptor()
	enc.SetDisabled()
	ks := NewKeyStore(st.Keys, enc)

	_, err := ks.AddKey(context.Background(), "_", store.KeyTypeEnergy, "TAddr2", "", true)
	require.NoError(t, err)

	_, _, ok, err := ks.GetKey(context.Background(), store.KeyTypeEnergy, "TAddr2")
	require.NoError(t, err)
	require.False(t, ok)
}

type fakeFetcher struct {
	status string
	key    string
}

func (f fakeFetcher) DecryptStatus(ctx context.Context, symbol string) (string, string, error) {
	return f.status, f.key, nil
}

func TestBootstrapDisabledWithEmptyStore(t *testing.T) {
	st := newTestStore(t)
	enc := NewEncryptor()
	err := Bootstrap(context.Background(), fakeFetcher{status: "disabled"}, "TRX", enc, st.Keys, false)
	require.NoError(t, err)
	require.Equal(t, ModeDisabled, enc.Mode())
}

func TestBootstrapEnabledWithEmptyStore(t *testing.T) {
	st := newTestStore(t)
	enc := NewEncryptor()
	err := Bootstrap(context.Background(), fakeFetcher{status: "enabled", key: "secret"}, "TRX", enc, st.Keys, false)
	require.NoError(t, err)
	require.Equal(t, ModeEnabled, enc.Mode())
}

// pendingThenFetcher reports "pending" for the first settleAfter calls,
// then settles to status/key — simulating Keeper's unsettled
// persistent_status before the operator finishes onboarding.
type pendingThenFetcher struct {
	calls       atomic.Int32
	settleAfter int32
	status      string
	key         string
}

func (f *pendingThenFetcher) DecryptStatus(ctx context.Context, symbol string) (string, string, error) {
	if f.calls.Add(1) <= f.settleAfter {
		return "pending", "", nil
	}
	return f.status, f.key, nil
}

func TestBootstrapPollsUntilSettled(t *testing.T) {
	st := newTestStore(t)
	enc := NewEncryptor()
	fetcher := &pendingThenFetcher{settleAfter: 2, status: "enabled", key: "secret"}

	err := Bootstrap(context.Background(), fetcher, "TRX", enc, st.Keys, false)
	require.NoError(t, err)
	require.Equal(t, ModeEnabled, enc.Mode())
	require.GreaterOrEqual(t, fetcher.calls.Load(), int32(3))
}

func TestBootstrapTimesOutWhileUnsettled(t *testing.T) {
	st := newTestStore(t)
	enc := NewEncryptor()
	fetcher := &pendingThenFetcher{settleAfter: 1 << 20, status: "enabled"}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Bootstrap(ctx, fetcher, "TRX", enc, st.Keys, false)
	require.Error(t, err)
	require.Equal(t, ModeUnset, enc.Mode())
}
