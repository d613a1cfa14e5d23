// Package config loads the gateway's configuration, following the
// BuildFlagSet/BuildViper/BuildConfig three-step the teacher's
// cmd/simulator/main/main.go drives (the config subpackage itself
// wasn't part of the retrieved pack, so the shape here is inferred from
// that call site): pflag defines the flags, viper binds them to
// environment variables and an optional config file, and BuildConfig
// converts the viper snapshot into a typed, validated Config.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag/env keys. Env vars are the upper-snake form of the flag name
// (viper's EnvKeyReplacer below turns "fullnode-url" into
// "FULLNODE_URL"), matching spec §6's naming exactly for the
// pre-existing names and kebab-casing the rest.
const (
	KeyTronNetwork     = "tron-network"
	KeyFullnodeURL     = "fullnode-url"
	KeyMultiserverJSON = "multiserver-config-json"

	KeyScannerMaxChunkSize = "block-scanner-max-block-chunk-size"
	KeyScannerInterval     = "block-scanner-interval-time"
	KeyScannerBlockHint    = "block-scanner-last-block-num-hint"
	KeyScannerStatsPeriod  = "block-scanner-stats-log-period"

	KeyMultiserverRefreshPeriod = "multiserver-refresh-best-server-period"

	KeyShkeeperHost       = "shkeeper-host"
	KeyShkeeperBackendKey = "shkeeper-backend-key"

	KeyTxFee                     = "tx-fee"
	KeyTxFeeLimit                = "tx-fee-limit"
	KeyInternalTxFee             = "internal-tx-fee"
	KeyBandwidthPerTrxTransfer   = "bandwidth-per-trx-transfer"
	KeyBandwidthPerTrc20Transfer = "bandwidth-per-trc20-transfer"
	KeyTrxPerBandwidthUnit       = "trx-per-bandwidth-unit"
	KeyTrxMinTransferThreshold   = "trx-min-transfer-threshold"
	KeyTokenMinTransferJSON      = "token-min-transfer-threshold-json"

	KeyEnergyDelegationMode   = "energy-delegation-mode"
	KeyEnergyDelegationFactor = "energy-delegation-factor"
	KeyEnergyDelegatorAddress = "energy-delegator-address"
	KeyEnergyAllowBurnFallback = "energy-allow-burn-fallback"

	KeyExternalDrainConfigJSON = "external-drain-config-json"
	KeyAMLWaitBeforeAPICall    = "aml-wait-before-api-call"
	KeyAMLResultUpdatePeriod   = "aml-result-update-period"
	KeyAMLSweepAccountsPeriod  = "aml-sweep-accounts-period"
	KeyAMLMinCheckAmountJSON   = "aml-min-check-amount-json"
	KeyAMLScoreAPIURL          = "aml-score-api-url"

	KeyTokensJSON = "tokens-json"

	KeyForceWalletEncryption = "force-wallet-encryption"

	KeyConcurrentMaxWorkers = "concurrent-max-workers"
	KeyConcurrentMaxRetries = "concurrent-max-retries"

	KeyDBPath   = "db-path"
	KeyHTTPAddr = "http-addr"

	KeyLogLevel = "log-level"
	KeyLogFile  = "log-file"
)

// Endpoint is one entry of MULTISERVER_CONFIG_JSON.
type Endpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// DrainMode is the tagged-union shape Design Notes §9 prescribes for
// EXTERNAL_DRAIN_CONFIG instead of a flattened optional-every-field
// struct: a single discriminator plus the fields that variant needs.
type DrainMode struct {
	Enabled bool               `json:"enabled"`
	Cryptos map[string]Cryptos `json:"cryptos,omitempty"`
}

// Cryptos is one symbol's scored-split table: named score intervals to
// a destination-address → ratio map, per spec §4.6.
type Cryptos struct {
	Intervals []ScoreInterval `json:"intervals"`
}

// ScoreInterval is one named [low, high] risk-score band and its payout
// split.
type ScoreInterval struct {
	Name  string             `json:"name"`
	Low   float64            `json:"low"`
	High  float64            `json:"high"`
	Split map[string]float64 `json:"split"` // address -> ratio, sums to 1
}

// TokenSpec is one recognized TRC-20 contract: the scanner watches its
// Transfer logs, and the Sweep Orchestrator signs transfer() calls
// against it, both keyed by Symbol.
type TokenSpec struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract"` // hex, no 0x/41 prefix, matching log.Address
	Decimals int    `json:"decimals"`
}

// Config is the fully-resolved, typed configuration for one gateway
// process.
type Config struct {
	TronNetwork string
	FullnodeURL string
	Multiserver []Endpoint

	ScannerMaxChunkSize int
	ScannerInterval     int
	ScannerBlockHint    uint64
	ScannerStatsPeriod  int

	MultiserverRefreshPeriod int

	ShkeeperHost       string
	ShkeeperBackendKey string

	TxFee                     string
	TxFeeLimit                int64
	InternalTxFee             string
	BandwidthPerTrxTransfer   int64
	BandwidthPerTrc20Transfer int64
	TrxPerBandwidthUnit       string
	TrxMinTransferThreshold   string
	TokenMinTransferThreshold map[string]string

	EnergyDelegationMode    bool
	EnergyDelegationFactor  float64
	EnergyDelegatorAddress  string
	EnergyAllowBurnFallback bool

	ExternalDrain         DrainMode
	AMLWaitBeforeAPICall  int
	AMLResultUpdatePeriod int
	AMLSweepAccountsPeriod int
	AMLMinCheckAmount     map[string]string
	AMLScoreAPIURL        string

	Tokens []TokenSpec

	ForceWalletEncryption bool

	ConcurrentMaxWorkers int
	ConcurrentMaxRetries int

	DBPath   string
	HTTPAddr string

	LogLevel string
	LogFile  string
}

// BuildFlagSet defines every recognized flag with its default, mirroring
// the env-var categories of spec §6.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("tron-gateway", pflag.ContinueOnError)

	fs.String(KeyTronNetwork, "main", "Tron network: main or nile")
	fs.String(KeyFullnodeURL, "", "Default full node URL if no multiserver config is given")
	fs.String(KeyMultiserverJSON, "", "JSON array of {name,url} full node endpoints")

	fs.Int(KeyScannerMaxChunkSize, 20, "Max blocks scanned per chunk")
	fs.Int(KeyScannerInterval, 3, "Seconds to sleep when caught up to chain head")
	fs.Uint64(KeyScannerBlockHint, 0, "Block number to start scanning from on first run")
	fs.Int(KeyScannerStatsPeriod, 60, "Seconds between scanner stats log lines")

	fs.Int(KeyMultiserverRefreshPeriod, 30, "Seconds between best-server elections")

	fs.String(KeyShkeeperHost, "", "Base URL of the Keeper backend")
	fs.String(KeyShkeeperBackendKey, "", "X-Shkeeper-Backend-Key header value")

	fs.String(KeyTxFee, "30", "TRX fee reserved for a signing account before a payout step")
	fs.Int64(KeyTxFeeLimit, 100_000_000, "Max fee-limit sun per broadcast transaction")
	fs.String(KeyInternalTxFee, "40", "TRX sent treasury->onetime to fund a burn-mode sweep")
	fs.Int64(KeyBandwidthPerTrxTransfer, 268, "Bandwidth units consumed by a TRX transfer")
	fs.Int64(KeyBandwidthPerTrc20Transfer, 345, "Bandwidth units consumed by a TRC-20 transfer")
	fs.String(KeyTrxPerBandwidthUnit, "0.001", "TRX cost per bandwidth unit when bandwidth must be burned")
	fs.String(KeyTrxMinTransferThreshold, "1", "Minimum TRX balance worth sweeping")
	fs.String(KeyTokenMinTransferJSON, "{}", "JSON map of symbol to minimum sweepable token balance")

	fs.Bool(KeyEnergyDelegationMode, false, "Use energy delegation instead of burn-mode sweeps")
	fs.Float64(KeyEnergyDelegationFactor, 1.2, "Safety multiplier applied to estimated energy delegation")
	fs.String(KeyEnergyDelegatorAddress, "", "Address of the dedicated energy delegator, if not the treasury")
	fs.Bool(KeyEnergyAllowBurnFallback, false, "Allow burning TRX for energy if delegation preconditions fail")

	fs.String(KeyExternalDrainConfigJSON, "", "JSON-encoded AML drain configuration")
	fs.Int(KeyAMLWaitBeforeAPICall, 60, "Seconds to wait before the first AML score check")
	fs.Int(KeyAMLResultUpdatePeriod, 300, "Seconds between AML recheck passes")
	fs.Int(KeyAMLSweepAccountsPeriod, 3600, "Seconds between sweep_accounts maintenance runs")
	fs.String(KeyAMLMinCheckAmountJSON, "{}", "JSON map of symbol to minimum amount requiring an AML check")
	fs.String(KeyAMLScoreAPIURL, "", "Base URL of the external AML risk-scoring service")

	fs.String(KeyTokensJSON, "[]", "JSON array of {symbol,contract,decimals} recognized TRC-20 tokens")

	fs.Bool(KeyForceWalletEncryption, false, "Allow re-encrypting an unencrypted store into the requested mode")

	fs.Int(KeyConcurrentMaxWorkers, 4, "Worker pool size for sweeps and payout steps")
	fs.Int(KeyConcurrentMaxRetries, 3, "Bounded RPC retry count for transport errors")

	fs.String(KeyDBPath, "tron-gateway.db", "SQLite database path")
	fs.String(KeyHTTPAddr, ":8000", "HTTP listen address")

	fs.String(KeyLogLevel, "info", "Log level: trace, debug, info, warn, error")
	fs.String(KeyLogFile, "", "Log file path; empty logs to the terminal")

	return fs
}

// BuildViper parses args against fs and binds every flag to an
// environment variable, following the teacher's AutomaticEnv +
// SetEnvKeyReplacer convention (kebab-case flag name -> SCREAMING_SNAKE
// env var).
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

// BuildConfig converts a bound viper snapshot into a validated Config.
func BuildConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		TronNetwork: v.GetString(KeyTronNetwork),
		FullnodeURL: v.GetString(KeyFullnodeURL),

		ScannerMaxChunkSize: v.GetInt(KeyScannerMaxChunkSize),
		ScannerInterval:     v.GetInt(KeyScannerInterval),
		ScannerBlockHint:    v.GetUint64(KeyScannerBlockHint),
		ScannerStatsPeriod:  v.GetInt(KeyScannerStatsPeriod),

		MultiserverRefreshPeriod: v.GetInt(KeyMultiserverRefreshPeriod),

		ShkeeperHost:       v.GetString(KeyShkeeperHost),
		ShkeeperBackendKey: v.GetString(KeyShkeeperBackendKey),

		TxFee:                     v.GetString(KeyTxFee),
		TxFeeLimit:                cast.ToInt64(v.Get(KeyTxFeeLimit)),
		InternalTxFee:             v.GetString(KeyInternalTxFee),
		BandwidthPerTrxTransfer:   cast.ToInt64(v.Get(KeyBandwidthPerTrxTransfer)),
		BandwidthPerTrc20Transfer: cast.ToInt64(v.Get(KeyBandwidthPerTrc20Transfer)),
		TrxPerBandwidthUnit:       v.GetString(KeyTrxPerBandwidthUnit),
		TrxMinTransferThreshold:   v.GetString(KeyTrxMinTransferThreshold),

		EnergyDelegationMode:    v.GetBool(KeyEnergyDelegationMode),
		EnergyDelegationFactor:  v.GetFloat64(KeyEnergyDelegationFactor),
		EnergyDelegatorAddress:  v.GetString(KeyEnergyDelegatorAddress),
		EnergyAllowBurnFallback: v.GetBool(KeyEnergyAllowBurnFallback),

		AMLWaitBeforeAPICall:   v.GetInt(KeyAMLWaitBeforeAPICall),
		AMLResultUpdatePeriod:  v.GetInt(KeyAMLResultUpdatePeriod),
		AMLSweepAccountsPeriod: v.GetInt(KeyAMLSweepAccountsPeriod),
		AMLScoreAPIURL:         v.GetString(KeyAMLScoreAPIURL),

		ForceWalletEncryption: v.GetBool(KeyForceWalletEncryption),

		ConcurrentMaxWorkers: v.GetInt(KeyConcurrentMaxWorkers),
		ConcurrentMaxRetries: v.GetInt(KeyConcurrentMaxRetries),

		DBPath:   v.GetString(KeyDBPath),
		HTTPAddr: v.GetString(KeyHTTPAddr),

		LogLevel: v.GetString(KeyLogLevel),
		LogFile:  v.GetString(KeyLogFile),
	}

	if raw := v.GetString(KeyMultiserverJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Multiserver); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", KeyMultiserverJSON, err)
		}
	} else if cfg.FullnodeURL != "" {
		cfg.Multiserver = []Endpoint{{Name: "default", URL: cfg.FullnodeURL}}
	}

	cfg.TokenMinTransferThreshold = map[string]string{}
	if raw := v.GetString(KeyTokenMinTransferJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.TokenMinTransferThreshold); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", KeyTokenMinTransferJSON, err)
		}
	}

	cfg.AMLMinCheckAmount = map[string]string{}
	if raw := v.GetString(KeyAMLMinCheckAmountJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.AMLMinCheckAmount); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", KeyAMLMinCheckAmountJSON, err)
		}
	}

	if raw := v.GetString(KeyExternalDrainConfigJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.ExternalDrain); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", KeyExternalDrainConfigJSON, err)
		}
	}

	if raw := v.GetString(KeyTokensJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.Tokens); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", KeyTokensJSON, err)
		}
	}

	if len(cfg.Multiserver) == 0 {
		return nil, fmt.Errorf("config: no full node endpoints configured (set --%s or --%s)", KeyFullnodeURL, KeyMultiserverJSON)
	}

	return cfg, nil
}
