package payout

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/keeper"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
)

func TestPlanSimpleMapsOneToOne(t *testing.T) {
	items := []PayoutItem{
		{Dest: "addrA", Amount: uint256.NewInt(100)},
		{Dest: "addrB", Amount: uint256.NewInt(200)},
	}
	steps := PlanSimple("treasury", items)
	require.Len(t, steps, 2)
	require.Equal(t, "treasury", steps[0].Src)
	require.Equal(t, "addrA", steps[0].Dst)
	require.Equal(t, uint256.NewInt(100), steps[0].Amount)
}

func TestPlanMultiAccountExactSingleMatch(t *testing.T) {
	accounts := []AccountBalance{
		{Address: "a1", Balance: uint256.NewInt(500)},
		{Address: "a2", Balance: uint256.NewInt(100)},
	}
	steps, err := PlanMultiAccount(accounts, []PayoutItem{{Dest: "dst", Amount: uint256.NewInt(100)}})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	require.Equal(t, "a2", steps[0].Src)
}

func TestPlanMultiAccountDrainsAllOnExactSum(t *testing.T) {
	accounts := []AccountBalance{
		{Address: "a1", Balance: uint256.NewInt(60)},
		{Address: "a2", Balance: uint256.NewInt(40)},
	}
	steps, err := PlanMultiAccount(accounts, []PayoutItem{{Dest: "dst", Amount: uint256.NewInt(100)}})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	var total int64
	for _, s := range steps {
		total += int64(s.Amount.Uint64())
	}
	require.Equal(t, int64(100), total)
}

func TestPlanMultiAccountGreedyDescending(t *testing.T) {
	accounts := []AccountBalance{
		{Address: "small", Balance: uint256.NewInt(30)},
		{Address: "big", Balance: uint256.NewInt(80)},
	}
	steps, err := PlanMultiAccount(accounts, []PayoutItem{{Dest: "dst", Amount: uint256.NewInt(90)}})
	require.NoError(t, err)
	require.Equal(t, "big", steps[0].Src)
	require.Equal(t, int64(80), int64(steps[0].Amount.Uint64()))
	require.Equal(t, "small", steps[1].Src)
	require.Equal(t, int64(10), int64(steps[1].Amount.Uint64()))
}

func TestPlanMultiAccountInsufficientFunds(t *testing.T) {
	accounts := []AccountBalance{{Address: "a1", Balance: uint256.NewInt(10)}}
	_, err := PlanMultiAccount(accounts, []PayoutItem{{Dest: "dst", Amount: uint256.NewInt(100)}})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

// fakeClient is a minimal chainclient.ChainClient double for the executor tests.
type fakeClient struct {
	accounts map[string]*chainclient.Account
}

func (f *fakeClient) Name() string { return "fake" }
func (f *fakeClient) NodeInfo(ctx context.Context) (chainclient.NodeInfo, error) {
	return chainclient.NodeInfo{HeadBlock: 1}, nil
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
	return &chainclient.Account{Address: address, Balance: uint256.NewInt(0)}, nil
}
func (f *fakeClient) ResourceInfo(ctx context.Context) (*chainclient.ResourceInfo, error) {
	return &chainclient.ResourceInfo{}, nil
}
func (f *fakeClient) TriggerConstantContract(ctx context.Context, owner, contract, selector string, parameter []byte) ([]byte, int64, error) {
	return nil, 0, nil
}
func (f *fakeClient) BroadcastTransaction(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return &chainclient.BroadcastResult{Result: true, TxID: "tx1"}, nil
}
func (f *fakeClient) DelegateResource(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return f.BroadcastTransaction(ctx, raw)
}
func (f *fakeClient) UndelegateResource(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return f.BroadcastTransaction(ctx, raw)
}
func (f *fakeClient) DelegatedEnergy(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

func newTestExecutor(t *testing.T, fc *fakeClient) (*Executor, *keeper.Client) {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/payout.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enc := walletstore.NewEncryptor()
	enc.SetDisabled()
	keys := walletstore.NewKeyStore(st.Keys, enc)
	zero := make([]byte, 64)
	for i := range zero {
		zero[i] = '0'
	}
	_, err = keys.AddKey(context.Background(), "TRX", store.KeyTypeOnetime, "src1", string(zero), false)
	require.NoError(t, err)

	conn := connpool.New([]chainclient.ChainClient{fc}, st.Settings, nil, 0)
	_, err = conn.RefreshBestServer(context.Background())
	require.NoError(t, err)

	kc := keeper.New("http://127.0.0.1:0", "key")
	return NewExecutor(conn, keys, kc, map[string]TokenInfo{"USDT": {Symbol: "USDT", Contract: "41abc", Decimals: 6}}, nil, 2, 0), kc
}

func TestExecutorExecutesTRXStep(t *testing.T) {
	fc := &fakeClient{}
	ex, _ := newTestExecutor(t, fc)
	results, err := ex.Execute(context.Background(), "TRX", []Step{{Src: "src1", Dst: "dst1", Amount: uint256.NewInt(50)}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "success", results[0].Status)
	require.Equal(t, "tx1", results[0].TxID)
}

func TestExecutorReportsMissingSigningKey(t *testing.T) {
	fc := &fakeClient{}
	ex, _ := newTestExecutor(t, fc)
	results, err := ex.Execute(context.Background(), "TRX", []Step{{Src: "unknown", Dst: "dst1", Amount: uint256.NewInt(50)}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "error", results[0].Status)
}
