// Package sweep is the Sweep Orchestrator: the outbound side of the
// scanner, draining one-time deposit accounts into the treasury in
// either burn-TRX mode or energy-delegation mode, per spec.md §4.4.
//
// Grounded on plugin/evm/atomic/export_tx.go's shape (a type that builds
// and signs an outbound transfer with pre-flight balance/resource
// checks before touching the chain), adapted from atomic-tx export
// semantics to TRX/TRC-20 sweep semantics; beyond chainclient and
// txsign this package needs no dependency the teacher doesn't already
// carry.
package sweep

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/connpool"
	"github.com/shkeeper-io/tron-gateway/internal/metrics"
	"github.com/shkeeper-io/tron-gateway/internal/tronaddr"
	"github.com/shkeeper-io/tron-gateway/internal/txsign"
	"github.com/shkeeper-io/tron-gateway/internal/walletstore"
)

// Sentinel errors, matching spec §4.4's safety invariants and pre-flight
// checks.
var (
	ErrSelfSweep                   = errors.New("sweep: refusing to sweep the treasury into itself")
	ErrUnknownToken                = errors.New("sweep: unknown token symbol")
	ErrExternallyManaged           = errors.New("sweep: address is externally managed and cannot sign directly")
	ErrInsufficientTreasuryBalance = errors.New("sweep: treasury balance insufficient")
	ErrEnergyPreconditionsFailed   = errors.New("sweep: energy delegation preconditions not met")
)

const (
	activationSun     = 100_000   // 0.1 TRX, spec §4.4 step 2
	minTreasurySun    = 1_100_000 // 1.1 TRX, required to fund an activation
	probeTransferAmt  = 42        // spec §4.4 step 3's probe transfer(treasury, 42)
)

// TokenInfo is the subset of a configured TRC-20 token the orchestrator
// needs: its contract address and decimal scale.
type TokenInfo struct {
	Symbol   string
	Contract string
	Decimals int
}

// Config bundles the orchestrator's tunables, sourced from internal/config.
type Config struct {
	InternalTxFeeSun           int64
	BandwidthPerTrxTransfer    int64
	BandwidthPerTrc20Transfer  int64
	TrxMinTransferThresholdSun int64
	TokenMinTransferThreshold  map[string]*uint256.Int // symbol -> raw smallest-unit minimum

	EnergyDelegationMode    bool
	EnergyDelegationFactor  float64
	EnergyDelegatorAddress  string // "" means the treasury doubles as delegator
	EnergyAllowBurnFallback bool

	TxExpiry time.Duration
}

// Orchestrator is one process's Sweep Orchestrator instance.
type Orchestrator struct {
	cfg      Config
	conn     *connpool.Manager
	keys     *walletstore.KeyStore
	tokens   map[string]TokenInfo // keyed by symbol
	treasury string
	reg      *metrics.Registry
	log      log.Logger
}

// New builds an Orchestrator. treasury is the fee_deposit address.
func New(cfg Config, conn *connpool.Manager, keys *walletstore.KeyStore, tokens map[string]TokenInfo, treasury string, reg *metrics.Registry) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		conn:     conn,
		keys:     keys,
		tokens:   tokens,
		treasury: treasury,
		reg:      reg,
		log:      log.New("component", "sweep"),
	}
}

// SweepTRX drains account's entire native-currency balance to the
// treasury, spec §4.4's "TRX sweeps are simpler" path: it never burns
// TRX for bandwidth, skipping instead if free bandwidth is short.
func (o *Orchestrator) SweepTRX(ctx context.Context, account string) error {
	if strings.EqualFold(account, o.treasury) {
		return ErrSelfSweep
	}
	client, err := o.conn.Client(ctx)
	if err != nil {
		return err
	}

	acc, err := client.Account(ctx, account)
	if err != nil {
		return fmt.Errorf("sweep: account %s: %w", account, err)
	}

	if acc.FreeNetLimit-acc.FreeNetUsed < o.cfg.BandwidthPerTrxTransfer {
		o.skip("TRX", "insufficient_bandwidth")
		return nil
	}
	if acc.Balance == nil || acc.Balance.IsZero() {
		o.skip("TRX", "zero_balance")
		return nil
	}
	if o.cfg.TrxMinTransferThresholdSun > 0 && acc.Balance.Cmp(uint256.NewInt(uint64(o.cfg.TrxMinTransferThresholdSun))) < 0 {
		o.skip("TRX", "below_threshold")
		return nil
	}

	privHex, ok, err := o.keys.GetKeyByPublic(ctx, account)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExternallyManaged, account)
	}

	balance := new(uint256.Int).Set(acc.Balance)
	_, err = o.signAndBroadcast(ctx, client, privHex, func(refBlock uint64) txsign.UnsignedTx {
		tx := txsign.New(txsign.ContractTransfer, account, refBlock, o.expiry())
		tx.To = o.treasury
		tx.Amount = int64(balance.Uint64())
		return tx
	})
	if err != nil {
		o.attempt("TRX", "error")
		return fmt.Errorf("sweep: broadcast TRX sweep: %w", err)
	}
	o.attempt("TRX", "success")
	return nil
}

// SweepTRC20 drains account's entire balance of symbol to the treasury,
// fronting the fee either by burning TRX (default) or, in
// energy-delegation mode, by staking energy onto the account first so
// the transfer itself costs it nothing. spec §4.4.
func (o *Orchestrator) SweepTRC20(ctx context.Context, account, symbol string) error {
	if strings.EqualFold(account, o.treasury) {
		return ErrSelfSweep
	}
	token, ok := o.tokens[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}

	client, err := o.conn.Client(ctx)
	if err != nil {
		return err
	}

	balance, err := o.tokenBalance(ctx, client, token, account)
	if err != nil {
		return err
	}
	if balance.IsZero() {
		o.skip(symbol, "zero_balance")
		return nil
	}
	if min, ok := o.cfg.TokenMinTransferThreshold[symbol]; ok && balance.Cmp(min) < 0 {
		o.skip(symbol, "below_threshold")
		return nil
	}

	privHex, ok, err := o.keys.GetKeyByPublic(ctx, account)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrExternallyManaged, account)
	}

	if o.cfg.EnergyDelegationMode {
		if err := o.ensureEnergy(ctx, client, account, token); err != nil {
			return err
		}
	} else if err := o.fundBurnFee(ctx, client, account); err != nil {
		return err
	}

	param, err := txsign.EncodeTransferParams(o.treasury, balance)
	if err != nil {
		return err
	}
	_, err = o.signAndBroadcast(ctx, client, privHex, func(refBlock uint64) txsign.UnsignedTx {
		tx := txsign.New(txsign.ContractTRC20Transfer, account, refBlock, o.expiry())
		tx.Contract = token.Contract
		tx.Selector = "transfer(address,uint256)"
		tx.Parameter = param
		return tx
	})
	if err != nil {
		o.attempt(symbol, "error")
		return fmt.Errorf("sweep: broadcast trc20 transfer: %w", err)
	}
	o.attempt(symbol, "success")
	return nil
}

// fundBurnFee implements spec §4.4(a): the treasury sends a fixed TRX
// fee to account so its own subsequent TRC-20 transfer can burn TRX for
// energy rather than needing a prior delegation.
func (o *Orchestrator) fundBurnFee(ctx context.Context, client chainclient.ChainClient, account string) error {
	treasuryAcc, err := client.Account(ctx, o.treasury)
	if err != nil {
		return err
	}
	if treasuryAcc.Balance == nil || treasuryAcc.Balance.Cmp(uint256.NewInt(uint64(o.cfg.InternalTxFeeSun))) < 0 {
		return fmt.Errorf("%w: need %d sun for internal fee top-up", ErrInsufficientTreasuryBalance, o.cfg.InternalTxFeeSun)
	}
	treasuryPriv, ok, err := o.keys.GetKeyByPublic(ctx, o.treasury)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: treasury", ErrExternallyManaged)
	}

	if _, err := o.signAndBroadcast(ctx, client, treasuryPriv, func(refBlock uint64) txsign.UnsignedTx {
		tx := txsign.New(txsign.ContractTransfer, o.treasury, refBlock, o.expiry())
		tx.To = account
		tx.Amount = o.cfg.InternalTxFeeSun
		return tx
	}); err != nil {
		return fmt.Errorf("sweep: internal fee top-up: %w", err)
	}
	return o.waitForBalance(ctx, client, account, o.cfg.InternalTxFeeSun)
}

// ensureEnergy implements spec §4.4(b) steps 1-4: it activates account
// on chain if needed, estimates the energy a transfer call will cost,
// and delegates just enough sun to cover it if account doesn't already
// have it from a prior delegation.
func (o *Orchestrator) ensureEnergy(ctx context.Context, client chainclient.ChainClient, account string, token TokenInfo) error {
	delegator := o.cfg.EnergyDelegatorAddress
	if delegator == "" {
		delegator = o.treasury
	}

	delegatorAcc, err := client.Account(ctx, delegator)
	if err != nil {
		return err
	}
	needBandwidth := 2 * o.cfg.BandwidthPerTrxTransfer // delegate + undelegate
	if delegatorAcc.FreeNetLimit-delegatorAcc.FreeNetUsed < needBandwidth && !o.cfg.EnergyAllowBurnFallback {
		return fmt.Errorf("%w: delegator %s lacks bandwidth for delegate+undelegate", ErrEnergyPreconditionsFailed, delegator)
	}

	onetimeAcc, err := client.Account(ctx, account)
	if err != nil {
		return err
	}
	if !onetimeAcc.CreatedOnChain {
		if err := o.activateAccount(ctx, client, account); err != nil {
			return err
		}
		if onetimeAcc, err = client.Account(ctx, account); err != nil {
			return err
		}
	}

	probeParam, err := txsign.EncodeTransferParams(o.treasury, uint256.NewInt(probeTransferAmt))
	if err != nil {
		return err
	}
	_, needed, err := client.TriggerConstantContract(ctx, account, token.Contract, "transfer(address,uint256)", probeParam)
	if err != nil {
		return fmt.Errorf("sweep: estimate energy: %w", err)
	}

	if onetimeAcc.EnergyLimit-onetimeAcc.EnergyUsed >= needed {
		return nil // already has enough energy from a prior delegation
	}

	resource, err := client.ResourceInfo(ctx)
	if err != nil {
		return err
	}
	if resource.TotalEnergyLimit == 0 {
		return fmt.Errorf("%w: chain reports zero total energy limit", ErrEnergyPreconditionsFailed)
	}
	sunToDelegate := int64(math.Ceil(
		float64(resource.TotalEnergyWeight) * float64(needed) / float64(resource.TotalEnergyLimit) * o.cfg.EnergyDelegationFactor,
	))

	if err := o.delegateEnergy(ctx, client, delegator, account, sunToDelegate); err != nil {
		return err
	}

	onetimeAcc, err = client.Account(ctx, account)
	if err != nil {
		return err
	}
	if onetimeAcc.EnergyLimit-onetimeAcc.EnergyUsed < needed {
		return fmt.Errorf("%w: delegation did not raise %s's energy enough", ErrEnergyPreconditionsFailed, account)
	}

	o.scheduleUndelegate(delegator, account)
	return nil
}

// activateAccount puts account on chain by sending it 0.1 TRX from the
// treasury, spec §4.4(b) step 2.
func (o *Orchestrator) activateAccount(ctx context.Context, client chainclient.ChainClient, account string) error {
	treasuryAcc, err := client.Account(ctx, o.treasury)
	if err != nil {
		return err
	}
	if treasuryAcc.Balance == nil || treasuryAcc.Balance.Cmp(uint256.NewInt(minTreasurySun)) < 0 {
		return fmt.Errorf("%w: treasury below 1.1 TRX, cannot activate %s", ErrInsufficientTreasuryBalance, account)
	}
	treasuryPriv, ok, err := o.keys.GetKeyByPublic(ctx, o.treasury)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: treasury", ErrExternallyManaged)
	}
	if _, err := o.signAndBroadcast(ctx, client, treasuryPriv, func(refBlock uint64) txsign.UnsignedTx {
		tx := txsign.New(txsign.ContractTransfer, o.treasury, refBlock, o.expiry())
		tx.To = account
		tx.Amount = activationSun
		return tx
	}); err != nil {
		return fmt.Errorf("sweep: activate %s: %w", account, err)
	}
	return o.waitForBalance(ctx, client, account, activationSun)
}

// delegateEnergy stakes sun sun from delegator in favor of receiver. If
// delegator's key is externally managed, the treasury signs on its
// behalf via Tron's account-permission mechanism (spec §4.2, §4.4).
func (o *Orchestrator) delegateEnergy(ctx context.Context, client chainclient.ChainClient, delegator, receiver string, sun int64) error {
	privHex, err := o.cosignerKey(ctx, delegator)
	if err != nil {
		return err
	}
	raw, err := o.signRaw(ctx, client, privHex, func(refBlock uint64) txsign.UnsignedTx {
		tx := txsign.New(txsign.ContractDelegate, delegator, refBlock, o.expiry())
		tx.Resource = "ENERGY"
		tx.BalanceSun = sun
		tx.Receiver = receiver
		return tx
	})
	if err != nil {
		return err
	}
	res, err := client.DelegateResource(ctx, raw)
	if err != nil {
		return fmt.Errorf("sweep: delegate %d sun to %s: %w", sun, receiver, err)
	}
	if !res.Result {
		return fmt.Errorf("sweep: delegate rejected: %s", res.Message)
	}
	return nil
}

// scheduleUndelegate releases a delegation asynchronously, reading the
// actual delegated balance from chain rather than trusting the locally
// computed estimate, per spec §4.4(b) step 6.
func (o *Orchestrator) scheduleUndelegate(delegator, receiver string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client, err := o.conn.Client(ctx)
		if err != nil {
			o.log.Warn("undelegate: no active server", "err", err)
			return
		}
		actual, err := client.DelegatedEnergy(ctx, delegator, receiver)
		if err != nil || actual <= 0 {
			o.log.Warn("undelegate: could not read delegated balance", "delegator", delegator, "receiver", receiver, "err", err)
			return
		}

		privHex, err := o.cosignerKey(ctx, delegator)
		if err != nil {
			o.log.Warn("undelegate: no signing key", "delegator", delegator, "err", err)
			return
		}
		raw, err := o.signRaw(ctx, client, privHex, func(refBlock uint64) txsign.UnsignedTx {
			tx := txsign.New(txsign.ContractUndelegate, delegator, refBlock, o.expiry())
			tx.Resource = "ENERGY"
			tx.BalanceSun = actual
			tx.Receiver = receiver
			return tx
		})
		if err != nil {
			o.log.Warn("undelegate: sign failed", "err", err)
			return
		}
		res, err := client.UndelegateResource(ctx, raw)
		if err != nil || !res.Result {
			o.log.Warn("undelegate failed", "delegator", delegator, "receiver", receiver, "err", err)
		}
	}()
}

// delegatorAddress returns the configured energy delegator, defaulting
// to the treasury when no dedicated delegator account is configured.
func (o *Orchestrator) delegatorAddress() string {
	if o.cfg.EnergyDelegatorAddress != "" {
		return o.cfg.EnergyDelegatorAddress
	}
	return o.treasury
}

// Delegate stakes sun sun of energy from the configured delegator in
// favor of receiver. Exported for SPEC_FULL.md's /staking/delegate
// route, which operates the same primitive SweepTRC20's
// energy-delegation mode uses internally.
func (o *Orchestrator) Delegate(ctx context.Context, receiver string, sun int64) error {
	client, err := o.conn.Client(ctx)
	if err != nil {
		return err
	}
	return o.delegateEnergy(ctx, client, o.delegatorAddress(), receiver, sun)
}

// Undelegate releases a prior delegation to receiver, reading the
// actual delegated amount from chain. Runs asynchronously, matching
// spec §4.4(b) step 6; /staking/undelegate returns before it completes.
func (o *Orchestrator) Undelegate(receiver string) {
	o.scheduleUndelegate(o.delegatorAddress(), receiver)
}

// DelegationStatus reports the energy delegator's current free bandwidth
// and the amount of energy it has delegated to receiver, for
// /staking/status.
func (o *Orchestrator) DelegationStatus(ctx context.Context, receiver string) (delegatedSun int64, freeBandwidth int64, err error) {
	client, err := o.conn.Client(ctx)
	if err != nil {
		return 0, 0, err
	}
	delegator := o.delegatorAddress()
	acc, err := client.Account(ctx, delegator)
	if err != nil {
		return 0, 0, err
	}
	delegated, err := client.DelegatedEnergy(ctx, delegator, receiver)
	if err != nil {
		return 0, 0, err
	}
	return delegated, acc.FreeNetLimit - acc.FreeNetUsed, nil
}

// cosignerKey returns the private key that should sign on behalf of
// address: its own key if one is held, otherwise the treasury's, per
// the EXTERNALLY_MANAGED account-permission rule (spec §4.2, §4.4).
func (o *Orchestrator) cosignerKey(ctx context.Context, address string) (string, error) {
	privHex, ok, err := o.keys.GetKeyByPublic(ctx, address)
	if err != nil {
		return "", err
	}
	if ok {
		return privHex, nil
	}
	treasuryPriv, ok, err := o.keys.GetKeyByPublic(ctx, o.treasury)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: treasury cannot cosign for %s", ErrExternallyManaged, address)
	}
	return treasuryPriv, nil
}

func (o *Orchestrator) tokenBalance(ctx context.Context, client chainclient.ChainClient, token TokenInfo, account string) (*uint256.Int, error) {
	raw, err := tronaddr.Decode(account)
	if err != nil {
		return nil, err
	}
	param := make([]byte, 32)
	copy(param[32-20:], raw[1:])
	result, _, err := client.TriggerConstantContract(ctx, account, token.Contract, "balanceOf(address)", param)
	if err != nil {
		return nil, fmt.Errorf("sweep: balanceOf %s: %w", account, err)
	}
	return new(uint256.Int).SetBytes(result), nil
}

// waitForBalance polls account's TRX balance until it reflects a
// transfer this orchestrator just broadcast, bounded to avoid blocking
// forever on a stalled node.
func (o *Orchestrator) waitForBalance(ctx context.Context, client chainclient.ChainClient, account string, want int64) error {
	for i := 0; i < 10; i++ {
		acc, err := client.Account(ctx, account)
		if err == nil && acc.Balance != nil && acc.Balance.Cmp(uint256.NewInt(uint64(want))) >= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("sweep: %s never observed the expected balance", account)
}

func (o *Orchestrator) sign(ctx context.Context, client chainclient.ChainClient, privHex string, build func(refBlock uint64) txsign.UnsignedTx) (*txsign.SignedTx, []byte, error) {
	info, err := client.NodeInfo(ctx)
	if err != nil {
		return nil, nil, err
	}
	priv, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, nil, fmt.Errorf("sweep: decode private key: %w", err)
	}
	signed, err := txsign.Sign(build(info.HeadBlock), priv)
	if err != nil {
		return nil, nil, err
	}
	raw, err := txsign.Marshal(signed)
	if err != nil {
		return nil, nil, err
	}
	return signed, raw, nil
}

func (o *Orchestrator) signRaw(ctx context.Context, client chainclient.ChainClient, privHex string, build func(refBlock uint64) txsign.UnsignedTx) ([]byte, error) {
	_, raw, err := o.sign(ctx, client, privHex, build)
	return raw, err
}

func (o *Orchestrator) signAndBroadcast(ctx context.Context, client chainclient.ChainClient, privHex string, build func(refBlock uint64) txsign.UnsignedTx) (string, error) {
	raw, err := o.signRaw(ctx, client, privHex, build)
	if err != nil {
		return "", err
	}
	res, err := client.BroadcastTransaction(ctx, raw)
	if err != nil {
		return "", err
	}
	if !res.Result {
		return "", fmt.Errorf("sweep: broadcast rejected: %s", res.Message)
	}
	return res.TxID, nil
}

func (o *Orchestrator) expiry() time.Duration {
	if o.cfg.TxExpiry <= 0 {
		return time.Minute
	}
	return o.cfg.TxExpiry
}

func (o *Orchestrator) attempt(symbol, outcome string) {
	if o.reg != nil {
		o.reg.SweepAttempts.WithLabelValues(symbol, outcome).Inc()
	}
}

func (o *Orchestrator) skip(symbol, reason string) {
	if o.reg != nil {
		o.reg.SweepSkipped.WithLabelValues(symbol, reason).Inc()
	}
	o.log.Info("sweep skipped", "symbol", symbol, "reason", reason)
}
