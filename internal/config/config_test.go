package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildConfigDefaults(t *testing.T) {
	fs := BuildFlagSet()
	v, err := BuildViper(fs, []string{"--fullnode-url", "https://node.example"})
	require.NoError(t, err)

	cfg, err := BuildConfig(v)
	require.NoError(t, err)
	require.Equal(t, "main", cfg.TronNetwork)
	require.Equal(t, 20, cfg.ScannerMaxChunkSize)
	require.Len(t, cfg.Multiserver, 1)
	require.Equal(t, "https://node.example", cfg.Multiserver[0].URL)
}

func TestBuildConfigMultiserverJSON(t *testing.T) {
	fs := BuildFlagSet()
	v, err := BuildViper(fs, []string{
		"--multiserver-config-json", `[{"name":"a","url":"https://a"},{"name":"b","url":"https://b"}]`,
	})
	require.NoError(t, err)

	cfg, err := BuildConfig(v)
	require.NoError(t, err)
	require.Len(t, cfg.Multiserver, 2)
	require.Equal(t, "b", cfg.Multiserver[1].Name)
}

func TestBuildConfigRequiresAnEndpoint(t *testing.T) {
	fs := BuildFlagSet()
	v, err := BuildViper(fs, nil)
	require.NoError(t, err)

	_, err = BuildConfig(v)
	require.Error(t, err)
}
