package sweep

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
)

const (
	treasuryAddr = "T9yD14Nj9j7xAB4dbGeiX9h8unkKHxuWwb"
	onetimeAddr  = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

// fakeClient is a scripted chainclient.ChainClient, distinct from the
// scanner package's fakeClient, letting each sweep test set up exactly
// the account/resource state it needs.
type fakeClient struct {
	accounts  map[string]*chainclient.Account
	balanceOf *uint256.Int
	energyEst int64
	delegated int64
	broadcast []string
}

func (f *fakeClient) Name() string { return "fake" }
func (f *fakeClient) NodeInfo(ctx context.Context) (chainclient.NodeInfo, error) {
	return chainclient.NodeInfo{HeadBlock: 100}, nil
}
func (f *fakeClient) BlockTimestamp(ctx context.Context, num uint64) (int64, error) { return 0, nil }
func (f *fakeClient) Block(ctx context.Context, num uint64) (*chainclient.Block, error) {
	return &chainclient.Block{Number: num}, nil
}
func (f *fakeClient) TxInfo(ctx context.Context, txID string) (*chainclient.TxInfo, error) {
	return &chainclient.TxInfo{TxID: txID}, nil
}
func (f *fakeClient) Account(ctx context.Context, address string) (*chainclient.Account, error) {
	if acc, ok := f.accounts[address]; ok {
		return acc, nil
	}
	return &chainclient.Account{Address: address, Balance: uint256.NewInt(0), CreatedOnChain: true}, nil
}
func (f *fakeClient) ResourceInfo(ctx context.Context) (*chainclient.ResourceInfo, error) {
	return &chainclient.ResourceInfo{TotalEnergyWeight: 1_000_000_000, TotalEnergyLimit: 100_000}, nil
}
func (f *fakeClient) TriggerConstantContract(ctx context.Context, owner, contract, selector string, parameter []byte) ([]byte, int64, error) {
	if selector == "balanceOf(address)" {
		if f.balanceOf == nil {
			return make([]byte, 32), 0, nil
		}
		b32 := f.balanceOf.Bytes32()
		out := make([]byte, 32)
		copy(out, b32[:])
		return out, 0, nil
	}
	return nil, f.energyEst, nil
}
func (f *fakeClient) BroadcastTransaction(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	f.broadcast = append(f.broadcast, string(raw))
	return &chainclient.BroadcastResult{Result: true, TxID: "txabc"}, nil
}
func (f *fakeClient) DelegateResource(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return f.BroadcastTransaction(ctx, raw)
}
func (f *fakeClient) UndelegateResource(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return f.BroadcastTransaction(ctx, raw)
}
func (f *fakeClient) DelegatedEnergy(ctx context.Context, from, to string) (int64, error) {
	return f.delegated, nil
}

func newTestOrchestrator(t *testing.T, fc *fakeClient, cfg Config) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/sweep.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enc := walletstore.NewEncryptor()
	enc.SetDisabled()
	keys := walletstore.NewKeyStore(st.Keys, enc)

	_, err = keys.AddKey(context.Background(), "TRX", store.KeyTypeFeeDeposit, treasuryAddr, "11"+hex64(), false)
	require.NoError(t, err)
	_, err = keys.AddKey(context.Background(), "TRX", store.KeyTypeOnetime, onetimeAddr, "22"+hex64(), false)
	require.NoError(t, err)

	conn := connpool.New([]chainclient.ChainClient{fc}, st.Settings, nil, 0)
	_, err = conn.RefreshBestServer(context.Background())
	require.NoError(t, err)

	tokens := map[string]TokenInfo{"USDT": {Symbol: "USDT", Contract: "41abc", Decimals: 6}}
	return New(cfg, conn, keys, tokens, treasuryAddr, nil), st
}

// hex64 pads out a fake 32-byte private key to the 64-hex-char length
// isRawHexKey requires.
func hex64() string {
	out := make([]byte, 62)
	for i := range out {
		out[i] = '0'
	}
	return string(out)
}

func TestSweepTRXRefusesSelfSweep(t *testing.T) {
	fc := &fakeClient{}
	o, _ := newTestOrchestrator(t, fc, Config{})
	err := o.SweepTRX(context.Background(), treasuryAddr)
	require.ErrorIs(t, err, ErrSelfSweep)
}

func TestSweepTRXSkipsOnInsufficientBandwidth(t *testing.T) {
	fc := &fakeClient{accounts: map[string]*chainclient.Account{
		onetimeAddr: {Balance: uint256.NewInt(5_000_000), FreeNetLimit: 100, FreeNetUsed: 0},
	}}
	o, _ := newTestOrchestrator(t, fc, Config{BandwidthPerTrxTransfer: 268})
	err := o.SweepTRX(context.Background(), onetimeAddr)
	require.NoError(t, err)
	require.Empty(t, fc.broadcast, "must never burn bandwidth on a sweep")
}

func TestSweepTRXBroadcastsFullBalance(t *testing.T) {
	fc := &fakeClient{accounts: map[string]*chainclient.Account{
		onetimeAddr: {Balance: uint256.NewInt(5_000_000), FreeNetLimit: 1000, FreeNetUsed: 0},
	}}
	o, _ := newTestOrchestrator(t, fc, Config{BandwidthPerTrxTransfer: 268})
	err := o.SweepTRX(context.Background(), onetimeAddr)
	require.NoError(t, err)
	require.Len(t, fc.broadcast, 1)
}

func TestSweepTRC20SkipsBelowThreshold(t *testing.T) {
	fc := &fakeClient{balanceOf: uint256.NewInt(100)}
	o, _ := newTestOrchestrator(t, fc, Config{
		TokenMinTransferThreshold: map[string]*uint256.Int{"USDT": uint256.NewInt(1000)},
	})
	err := o.SweepTRC20(context.Background(), onetimeAddr, "USDT")
	require.NoError(t, err)
	require.Empty(t, fc.broadcast)
}

func TestSweepTRC20UnknownToken(t *testing.T) {
	fc := &fakeClient{}
	o, _ := newTestOrchestrator(t, fc, Config{})
	err := o.SweepTRC20(context.Background(), onetimeAddr, "NOPE")
	require.ErrorIs(t, err, ErrUnknownToken)
}

func TestSweepTRC20BurnModeFundsFeeThenTransfers(t *testing.T) {
	fc := &fakeClient{
		balanceOf: uint256.NewInt(2_000_000),
		accounts: map[string]*chainclient.Account{
			treasuryAddr: {Balance: uint256.NewInt(100_000_000)},
			onetimeAddr:  {Balance: uint256.NewInt(40_000_000), CreatedOnChain: true},
		},
	}
	o, _ := newTestOrchestrator(t, fc, Config{InternalTxFeeSun: 40_000_000})
	err := o.SweepTRC20(context.Background(), onetimeAddr, "USDT")
	require.NoError(t, err)
	require.Len(t, fc.broadcast, 2, "expect one fee top-up and one trc20 transfer")
}
