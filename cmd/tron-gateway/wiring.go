package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/shkeeper-io/tron-gateway/internal/aml"
	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/config"
	"github.com/shkeeper-io/tron-gateway/internal/logging"
	"github.com/shkeeper-io/tron-gateway/internal/payout"
	"github.com/shkeeper-io/tron-gateway/internal/scanner"
	"github.com/shkeeper-io/tron-gateway/internal/store"
	"github.com/shkeeper-io/tron-gateway/internal/sweep"
	"github.com/shkeeper-io/tron-gateway/internal/txsign"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
)

// nativeSymbol is this gateway's one native currency, used wherever a
// component needs a symbol and the chain itself (rather than a
// configured TRC-20 token) is meant.
const nativeSymbol = "TRX"

// loadConfig runs the BuildFlagSet/BuildViper/BuildConfig three-step
// against a subcommand's residual arguments, the way
// cmd/simulator/main/main.go drives the same three calls against
// os.Args directly.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	fs := config.BuildFlagSet()
	v, err := config.BuildViper(fs, cctx.Args().Slice())
	if err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	return config.BuildConfig(v)
}

func initLogging(cfg *config.Config) error {
	opts := logging.DefaultOptions()
	if cfg.LogLevel != "" {
		opts.Level = cfg.LogLevel
	}
	opts.FilePath = cfg.LogFile
	return logging.Init(opts)
}

// buildChainClients turns cfg.Multiserver into one chainclient.ChainClient
// per configured endpoint, unrate-limited; no setting supplies a
// per-endpoint request rate.
func buildChainClients(cfg *config.Config) ([]chainclient.ChainClient, error) {
	clients := make([]chainclient.ChainClient, 0, len(cfg.Multiserver))
	for _, ep := range cfg.Multiserver {
		c, err := chainclient.NewRPCClient(ep.Name, ep.URL, 0)
		if err != nil {
			return nil, fmt.Errorf("build chain client %s: %w", ep.Name, err)
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func scannerTokens(cfg *config.Config) map[string]scanner.TokenConfig {
	out := make(map[string]scanner.TokenConfig, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out[strings.ToLower(t.Contract)] = scanner.TokenConfig{Symbol: t.Symbol, Decimals: t.Decimals}
	}
	return out
}

func sweepTokens(cfg *config.Config) map[string]sweep.TokenInfo {
	out := make(map[string]sweep.TokenInfo, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out[t.Symbol] = sweep.TokenInfo{Symbol: t.Symbol, Contract: t.Contract, Decimals: t.Decimals}
	}
	return out
}

func payoutTokens(cfg *config.Config) map[string]payout.TokenInfo {
	out := make(map[string]payout.TokenInfo, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out[t.Symbol] = payout.TokenInfo{Symbol: t.Symbol, Contract: t.Contract, Decimals: t.Decimals}
	}
	return out
}

func amlTokens(cfg *config.Config) map[string]aml.TokenInfo {
	out := make(map[string]aml.TokenInfo, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		out[t.Symbol] = aml.TokenInfo{Symbol: t.Symbol, Contract: t.Contract, Decimals: t.Decimals}
	}
	return out
}

// parseSunAmount parses a plain decimal TRX/token amount string into a
// smallest-unit integer using the given decimal scale, the same
// scale/round convention internal/scanner's belowMinCheckAmount uses.
func parseSunAmount(raw string, decimals int) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(raw)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount %q", raw)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))
	if !r.IsInt() {
		return nil, fmt.Errorf("amount %q does not divide evenly at %d decimals", raw, decimals)
	}
	return r.Num(), nil
}

func amlMinBalance(cfg *config.Config) map[string]*uint256.Int {
	out := make(map[string]*uint256.Int, len(cfg.TokenMinTransferThreshold)+1)
	if cfg.TrxMinTransferThreshold != "" {
		if v, err := parseSunAmount(cfg.TrxMinTransferThreshold, 6); err == nil {
			out[nativeSymbol] = uint256.MustFromBig(v)
		}
	}
	tokenDecimals := map[string]int{}
	for _, t := range cfg.Tokens {
		tokenDecimals[t.Symbol] = t.Decimals
	}
	for symbol, raw := range cfg.TokenMinTransferThreshold {
		dec, ok := tokenDecimals[symbol]
		if !ok {
			continue
		}
		if v, err := parseSunAmount(raw, dec); err == nil {
			out[symbol] = uint256.MustFromBig(v)
		}
	}
	return out
}

// resolveTreasury returns the single fee_deposit address, allocating one
// on first run the way spec.md §3 describes ("a dedicated fee_deposit
// account... provisioned the same way as any other key record").
func resolveTreasury(ctx context.Context, repo *store.KeyRepo, keys *walletstore.KeyStore) (string, error) {
	rec, err := repo.Get(ctx, store.KeyTypeFeeDeposit, "")
	if err != nil {
		return "", err
	}
	if rec != nil {
		return rec.Public, nil
	}
	privHex, address, err := txsign.GenerateAddress()
	if err != nil {
		return "", err
	}
	if _, err := keys.AddKey(ctx, nativeSymbol, store.KeyTypeFeeDeposit, address, privHex, false); err != nil {
		return "", err
	}
	return address, nil
}
