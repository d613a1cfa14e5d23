package scanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/keeper"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/taskqueue"
	"github.com/shkeeper-io/tron-gateway/internal/watchset"
)

const (
	treasuryAddr = "treasury000000000000000000"
	onetimeAddr  = "onetime0000000000000000000"
	outsideAddr  = "outside0000000000000000000"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestScanner(t *testing.T, keeperURL string, aml bool) (*Scanner, *taskqueue.Queue) {
	t.Helper()
	st := newTestStore(t)
	watch := watchset.New()
	watch.Add(onetimeAddr)
	tasks := taskqueue.New(4)
	kc := keeper.New(keeperURL, "backend-key")

	sc, err := New(Config{MaxChunkSize: 4, Interval: time.Millisecond, AMLEnabled: aml, AMLWait: 0},
		nil, st, watch, kc, tasks, nil, treasuryAddr)
	require.NoError(t, err)
	return sc, tasks
}

func TestRouteIgnoresSelfFeeTopUp(t *testing.T) {
	var notified bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notified = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL, false)
	err := sc.route(context.Background(), ParsedTransfer{
		TxID: "tx1", Symbol: "TRX", Src: treasuryAddr, Dst: onetimeAddr,
		Amount: uint256.NewInt(1), Decimals: 6, Status: "SUCCESS",
	})
	require.NoError(t, err)
	require.False(t, notified, "self fee top-up must not notify Keeper")
}

func TestRouteNotifiesAndEnqueuesSweep(t *testing.T) {
	var notifiedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notifiedPath = r.URL.Path
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	sc, tasks := newTestScanner(t, srv.URL, false)

	submitted := make(chan []any, 1)
	tasks.Register("sweep_trx", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		submitted <- args
		return nil, nil
	})

	err := sc.route(context.Background(), ParsedTransfer{
		TxID: "tx2", Symbol: "TRX", Src: outsideAddr, Dst: onetimeAddr,
		Amount: uint256.NewInt(500), Decimals: 6, Status: "SUCCESS",
	})
	require.NoError(t, err)
	require.Contains(t, notifiedPath, "tx2")

	select {
	case args := <-submitted:
		require.Equal(t, onetimeAddr, args[0])
		require.Equal(t, "TRX", args[1])
	case <-time.After(time.Second):
		t.Fatal("sweep task never ran")
	}
}

func TestRouteNotificationFailureFailsBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL, false)
	err := sc.route(context.Background(), ParsedTransfer{
		TxID: "tx3", Symbol: "TRX", Src: outsideAddr, Dst: onetimeAddr,
		Amount: uint256.NewInt(1), Decimals: 6, Status: "SUCCESS",
	})
	require.ErrorIs(t, err, ErrNotificationFailed)
}

func TestRouteAMLRecordsPendingAndSchedulesRecheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	sc, tasks := newTestScanner(t, srv.URL, true)

	rechecked := make(chan []any, 1)
	tasks.Register("aml_recheck", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		rechecked <- args
		return nil, nil
	})

	err := sc.route(context.Background(), ParsedTransfer{
		TxID: "tx4", Symbol: "USDT", Src: outsideAddr, Dst: onetimeAddr,
		Amount: uint256.NewInt(1_000_000), Decimals: 6, Status: "SUCCESS", IsTRC20: true,
	})
	require.NoError(t, err)

	tx, err := sc.store.AMLTx.Get(context.Background(), "tx4")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, store.AMLStatusPending, tx.Status)

	select {
	case args := <-rechecked:
		require.Equal(t, "tx4", args[0])
	case <-time.After(time.Second):
		t.Fatal("aml recheck task never ran")
	}
}

func TestRouteAMLFromFeeRecordsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	sc, _ := newTestScanner(t, srv.URL, true)
	watch := watchset.New()
	watch.Add(onetimeAddr)
	sc.watch = watch

	err := sc.route(context.Background(), ParsedTransfer{
		TxID: "tx5", Symbol: "USDT", Src: treasuryAddr, Dst: onetimeAddr,
		Amount: uint256.NewInt(1), Decimals: 6, Status: "SUCCESS", IsTRC20: true,
	})
	require.NoError(t, err)

	tx, err := sc.store.AMLTx.Get(context.Background(), "tx5")
	require.NoError(t, err)
	require.NotNil(t, tx)
	require.Equal(t, store.AMLStatusSkipped, tx.Status)
	require.Equal(t, "from_fee", tx.Type)
}

// fakeClient is a minimal chainclient.ChainClient used to drive the
// scanner's tick loop without a real node.
type fakeClient struct {
	head   uint64
	blocks map[uint64]*chainclient.Block
}

func (f *fakeClient) Name() string { return "fake" }
func (f *fakeClient) NodeInfo(ctx context.Context) (chainclient.NodeInfo, error) {
	return chainclient.NodeInfo{HeadBlock: f.head}, nil
}
func (f *fakeClient) BlockTimestamp(ctx context.Context, num uint64) (int64, error) { return 0, nil }
func (f *fakeClient) Block(ctx context.Context, num uint64) (*chainclient.Block, error) {
	if b, ok := f.blocks[num]; ok {
		return b, nil
	}
	return &chainclient.Block{Number: num}, nil
}
func (f *fakeClient) TxInfo(ctx context.Context, txID string) (*chainclient.TxInfo, error) {
	return &chainclient.TxInfo{TxID: txID}, nil
}
func (f *fakeClient) Account(ctx context.Context, address string) (*chainclient.Account, error) {
	return &chainclient.Account{Address: address, Balance: uint256.NewInt(0)}, nil
}
func (f *fakeClient) ResourceInfo(ctx context.Context) (*chainclient.ResourceInfo, error) {
	return &chainclient.ResourceInfo{}, nil
}
func (f *fakeClient) TriggerConstantContract(ctx context.Context, owner, contract, selector string, parameter []byte) ([]byte, int64, error) {
	return nil, 0, nil
}
func (f *fakeClient) BroadcastTransaction(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return nil, nil
}
func (f *fakeClient) DelegateResource(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return nil, nil
}
func (f *fakeClient) UndelegateResource(ctx context.Context, raw []byte) (*chainclient.BroadcastResult, error) {
	return nil, nil
}
func (f *fakeClient) DelegatedEnergy(ctx context.Context, from, to string) (int64, error) {
	return 0, nil
}

func newTestConnManager(t *testing.T, st *store.Store, fc *fakeClient) *connpool.Manager {
	t.Helper()
	m := connpool.New([]chainclient.ChainClient{fc}, st.Settings, nil, 0)
	_, err := m.RefreshBestServer(context.Background())
	require.NoError(t, err)
	return m
}

func TestTickAdvancesCursorAndRespectsChunkSize(t *testing.T) {
	st := newTestStore(t)
	fc := &fakeClient{head: 10}
	conn := newTestConnManager(t, st, fc)
	watch := watchset.New()
	tasks := taskqueue.New(2)
	kc := keeper.New("http://127.0.0.1:0", "key")

	sc, err := New(Config{MaxChunkSize: 3, Interval: time.Millisecond, BlockHint: 0}, conn, st, watch, kc, tasks, nil, treasuryAddr)
	require.NoError(t, err)

	require.NoError(t, sc.seedCursorIfUnset(context.Background()))
	_, ok, err := st.Settings.Get(context.Background(), store.SettingLastSeenBlockNum)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, st.Settings.Set(context.Background(), store.SettingLastSeenBlockNum, "0"))
	require.NoError(t, sc.tick(context.Background()))

	v, ok, err := st.Settings.Get(context.Background(), store.SettingLastSeenBlockNum)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", v, "tick must not scan past MaxChunkSize blocks at once")
}

func TestTickRefusesToRewind(t *testing.T) {
	st := newTestStore(t)
	fc := &fakeClient{head: 5}
	conn := newTestConnManager(t, st, fc)
	watch := watchset.New()
	tasks := taskqueue.New(2)
	kc := keeper.New("http://127.0.0.1:0", "key")

	sc, err := New(Config{MaxChunkSize: 3, Interval: time.Millisecond}, conn, st, watch, kc, tasks, nil, treasuryAddr)
	require.NoError(t, err)

	require.NoError(t, st.Settings.Set(context.Background(), store.SettingLastSeenBlockNum, "100"))
	err = sc.tick(context.Background())
	require.Error(t, err)
}
