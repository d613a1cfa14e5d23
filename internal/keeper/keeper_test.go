package keeper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotifySuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("X-Shkeeper-Backend-Key"))
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.Notify(context.Background(), "TRX", "abc123")
	require.NoError(t, err)
}

func TestNotifyFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"error"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	err := c.Notify(context.Background(), "TRX", "abc123")
	require.Error(t, err)
}

func TestDecryptStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"persistent_status":"enabled","key":"secretpass"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	status, key, err := c.DecryptStatus(context.Background(), "TRX")
	require.NoError(t, err)
	require.Equal(t, "enabled", status)
	require.Equal(t, "secretpass", key)
}
