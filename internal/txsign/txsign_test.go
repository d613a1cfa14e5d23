package txsign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignAndMarshalRoundTrip(t *testing.T) {
	priv := make([]byte, 32)
	priv[31] = 0x01

	tx := New(ContractTransfer, "owner-addr", 12345, 2*time.Minute)
	tx.To = "dest-addr"
	tx.Amount = 1_000_000

	signed, err := Sign(tx, priv)
	require.NoError(t, err)
	require.Len(t, signed.Signature, 65)

	raw, err := Marshal(signed)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestSignRejectsShortKey(t *testing.T) {
	tx := New(ContractTransfer, "owner-addr", 1, time.Minute)
	_, err := Sign(tx, []byte{0x01, 0x02})
	require.Error(t, err)
}

func TestHashIsDeterministic(t *testing.T) {
	tx := New(ContractTRC20Transfer, "owner-addr", 99, time.Minute)
	tx.Contract = "contract-addr"
	tx.Selector = "transfer(address,uint256)"

	h1, err := tx.Hash()
	require.NoError(t, err)
	h2, err := tx.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}
