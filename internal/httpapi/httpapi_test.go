package httpapi

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shkeeper-io/tron-gateway/internal/config"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/sweep"
	"github.com/shkeeper-io/tron-gateway/internal/taskqueue"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
	"github.com/shkeeper-io/tron-gateway/internal/watchset"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.Open(t.TempDir() + "/httpapi.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	enc := walletstore.NewEncryptor()
	enc.SetDisabled()
	keys := walletstore.NewKeyStore(st.Keys, enc)

	conn := connpool.New(nil, st.Settings, nil, time.Minute)
	orc := sweep.New(sweep.Config{}, conn, keys, nil, "", nil)

	cfg := &config.Config{TxFee: "30"}
	return New(cfg, st, conn, keys, watchset.New(), taskqueue.New(2), metrics.New(), orc)
}

func TestGenerateAddressAllocatesAndWatches(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("POST", "/generate-address", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `"status":"success"`)
	require.Contains(t, w.Body.String(), `"base58check_address"`)
}

func TestCalcTxFeeReturnsConfiguredFee(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("POST", "/calc-tx-fee/100", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.JSONEq(t, `{"fee":"30"}`, w.Body.String())
}

func TestTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("POST", "/task/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 404, w.Code)
	require.Contains(t, w.Body.String(), `"status":"error"`)
}

func TestDumpDecryptsPrivateKeysByDefault(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	genReq := httptest.NewRequest("POST", "/generate-address", nil)
	genW := httptest.NewRecorder()
	router.ServeHTTP(genW, genReq)
	require.Equal(t, 200, genW.Code)

	req := httptest.NewRequest("POST", "/dump", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), `"type":"onetime"`)
	require.Contains(t, w.Body.String(), `"symbol":"_"`)
	require.Contains(t, w.Body.String(), `"private":"`)
}

func TestMultiserverSwitchToBestFailsWithNoEndpoints(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	req := httptest.NewRequest("POST", "/multiserver/switch-to-best", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, 503, w.Code)
}
