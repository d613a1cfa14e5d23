package scanner

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/tronaddr"
)

// padTopic builds a valid 32-byte, zero-padded log topic whose 20-byte
// address tail is 19 zero bytes followed by tailByte.
func padTopic(tailByte byte) string {
	raw := make([]byte, 32)
	raw[31] = tailByte
	return hex.EncodeToString(raw)
}

func TestParseTxTransferContractScaling(t *testing.T) {
	tx := chainclient.Tx{
		TxID:        "tx1",
		ContractRet: "SUCCESS",
		Type:        "TransferContract",
		From:        "from-addr",
		To:          "to-addr",
		Amount:      uint256.NewInt(5_000_000),
	}
	out, err := parseTx(tx, nil, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "TRX", out[0].Symbol)

	// Property #4: native amount(human) * 10^decimals == raw sun.
	amount := out[0].Amount.ToBig()
	human := new(big.Int).Div(amount, pow10(out[0].Decimals))
	require.Equal(t, amount, new(big.Int).Mul(human, pow10(out[0].Decimals)))
	require.Equal(t, uint256.NewInt(5_000_000), out[0].Amount)
}

func TestParseTxTRC20SingleTransfer(t *testing.T) {
	tokens := map[string]TokenConfig{
		"usdtcontract": {Symbol: "USDT", Address: "usdtcontract", Decimals: 6},
	}
	amountBytes := make([]byte, 32)
	big.NewInt(1_234_000_000).FillBytes(amountBytes)

	tx := chainclient.Tx{
		TxID:        "tx2",
		ContractRet: "SUCCESS",
		Type:        "TriggerSmartContract",
	}
	info := &chainclient.TxInfo{
		TxID: "tx2",
		Logs: []chainclient.Log{{
			Address: "usdtcontract",
			Topics:  []string{transferEventTopic, padTopic(0x0a), padTopic(0xab)},
			Data:    amountBytes,
		}},
	}

	out, err := parseTx(tx, info, tokens)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "USDT", out[0].Symbol)
	require.Equal(t, uint256.NewInt(1_234_000_000), out[0].Amount)
	require.True(t, out[0].IsTRC20)

	// Src/Dst must be base58check addresses (what the Watched-Set and
	// treasury address are made of), not raw hex topic tails.
	require.True(t, tronaddr.Valid(out[0].Src))
	require.True(t, tronaddr.Valid(out[0].Dst))
	var wantTail [20]byte
	wantTail[19] = 0xab
	require.Equal(t, tronaddr.EncodeTail(wantTail), out[0].Dst)
}

func TestParseTxMultipleLogsPerTx(t *testing.T) {
	tokens := map[string]TokenConfig{
		"token": {Symbol: "TKN", Address: "token", Decimals: 2},
	}
	amt1 := make([]byte, 32)
	big.NewInt(100).FillBytes(amt1)
	amt2 := make([]byte, 32)
	big.NewInt(200).FillBytes(amt2)

	tx := chainclient.Tx{TxID: "tx3", ContractRet: "SUCCESS", Type: "TriggerSmartContract"}
	info := &chainclient.TxInfo{
		TxID: "tx3",
		Logs: []chainclient.Log{
			{Address: "token", Topics: []string{transferEventTopic, padTopic(0x01), padTopic(0x02)}, Data: amt1},
			{Address: "token", Topics: []string{transferEventTopic, padTopic(0x03), padTopic(0x04)}, Data: amt2},
		},
	}

	out, err := parseTx(tx, info, tokens)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, uint256.NewInt(100), out[0].Amount)
	require.Equal(t, uint256.NewInt(200), out[1].Amount)
}

func TestParseTxBadContractResultIsSkippable(t *testing.T) {
	tx := chainclient.Tx{TxID: "tx4", ContractRet: "REVERT", Type: "TransferContract"}
	_, err := parseTx(tx, nil, nil)
	require.ErrorIs(t, err, ErrBadContractResult)
	require.True(t, isSkippable(err))
}

func TestParseTxUnknownTypeIsSkippable(t *testing.T) {
	tx := chainclient.Tx{TxID: "tx5", ContractRet: "SUCCESS", Type: "WeirdContract"}
	_, err := parseTx(tx, nil, nil)
	require.ErrorIs(t, err, ErrUnknownTransactionType)
	require.True(t, isSkippable(err))
}

func TestTopicToAddressRejectsNonZeroPadding(t *testing.T) {
	bad := "01" + hex.EncodeToString(make([]byte, 11)) + hex.EncodeToString(make([]byte, 20))
	_, err := topicToAddress(bad)
	require.ErrorIs(t, err, ErrNonEmptyPaddingBytes)
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
