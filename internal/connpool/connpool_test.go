package connpool

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/store"
)

type fakeClient struct {
	name      string
	head      uint64
	reachable bool
}

func (f *fakeClient) Name() string { return f.name }
func (f *fakeClient) NodeInfo(ctx context.Context) (chainclient.NodeInfo, error) {
	if !f.reachable {
		return chainclient.NodeInfo{}, errOffline
	}
	return chainclient.NodeInfo{HeadBlock: f.head}, nil
}
func (f *fakeClient) BlockTimestamp(ctx context.Context, num uint64) (int64, error) { return 0, nil }
func (f *fakeClient) Block(ctx context.Context, num uint64) (*chainclient.Block, error) {
	return nil, nil
}
func (f *fakeClient) TxInfo(ctx context.Context, txID string) (*chainclient.TxInfo, error) {
	return nil, nil
}
func (f *fakeClient) Account(ctx context.Context, address string) (*chainclient.Account, error) {
	return &chainclient.Account{Address: address, Balance: uint256.NewInt(0)}, nil
}
func (f *fakeClient) ResourceInfo(ctx context.Context) (*chainclient.ResourceInfo, error) {
	return nil, nil
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

var errOffline = &offlineErr{}

type offlineErr struct{}

func (*offlineErr) Error() string { return "offline" }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRefreshBestServerElectsHighestHead(t *testing.T) {
	st := newTestStore(t)
	clients := []chainclient.ChainClient{
		&fakeClient{name: "a", head: 100, reachable: true},
		&fakeClient{name: "b", head: 120, reachable: true},
		&fakeClient{name: "c", head: 115, reachable: false},
	}
	m := New(clients, st.Settings, nil, 0)

	changed, err := m.RefreshBestServer(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	client, err := m.Client(context.Background())
	require.NoError(t, err)
	require.Equal(t, "b", client.Name())
}

func TestRefreshBestServerAllOffline(t *testing.T) {
	st := newTestStore(t)
	clients := []chainclient.ChainClient{
		&fakeClient{name: "a", reachable: false},
		&fakeClient{name: "b", reachable: false},
	}
	m := New(clients, st.Settings, nil, 0)

	_, err := m.RefreshBestServer(context.Background())
	require.ErrorIs(t, err, ErrAllServersOffline)
}

func TestClientBeforeElectionFails(t *testing.T) {
	st := newTestStore(t)
	m := New(nil, st.Settings, nil, 0)
	_, err := m.Client(context.Background())
	require.ErrorIs(t, err, ErrNoServerSet)
}
