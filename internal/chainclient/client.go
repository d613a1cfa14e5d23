package chainclient

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ChainClient is the opaque on-chain RPC surface the rest of this
// repository depends on. Every method is a single stateless RPC; none
// retries or fails over — callers that need that sit on top (the
// Connection Manager and the Sweep/Payout orchestrators).
type ChainClient interface {
	// Name identifies the endpoint in logs and in the persisted
	// current-server setting.
	Name() string
	NodeInfo(ctx context.Context) (NodeInfo, error)
	BlockTimestamp(ctx context.Context, num uint64) (int64, error)
	Block(ctx context.Context, num uint64) (*Block, error)
	TxInfo(ctx context.Context, txID string) (*TxInfo, error)
	Account(ctx context.Context, address string) (*Account, error)
	ResourceInfo(ctx context.Context) (*ResourceInfo, error)

	// TriggerConstantContract performs a read-only (no state change, no
	// fee) contract call, used for energy estimation probes and
	// balanceOf reads.
	TriggerConstantContract(ctx context.Context, owner, contract, selector string, parameter []byte) ([]byte, int64, error)

	// BroadcastTransaction submits an already-signed transaction.
	BroadcastTransaction(ctx context.Context, signedTxRaw []byte) (*BroadcastResult, error)

	// DelegateResource stakes sun from owner in favor of receiver as
	// ENERGY and returns the broadcast result.
	DelegateResource(ctx context.Context, ownerSignedTxRaw []byte) (*BroadcastResult, error)
	UndelegateResource(ctx context.Context, ownerSignedTxRaw []byte) (*BroadcastResult, error)

	// DelegatedEnergy reports how much sun `from` currently has staked
	// as ENERGY in favor of `to`. The Sweep Orchestrator's undelegate
	// step reads this instead of trusting its own earlier estimate
	// (spec §4.4 step 6).
	DelegatedEnergy(ctx context.Context, from, to string) (int64, error)
}

// RPCClient is the JSON-RPC implementation of ChainClient against one
// Tron full node endpoint.
type RPCClient struct {
	name       string
	uri        *url.URL
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRPCClient builds a client bound to a single endpoint. rps bounds
// the outbound request rate against that endpoint; 0 disables limiting.
func NewRPCClient(name, rawURL string, rps float64) (*RPCClient, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &RPCClient{
		name: name,
		uri:  u,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: limiter,
	}, nil
}

// Name returns the configured endpoint name (not the URL; URLs may
// carry embedded credentials).
func (c *RPCClient) Name() string { return c.name }

func (c *RPCClient) call(ctx context.Context, method string, params, reply interface{}, opts ...Option) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return sendJSONRequest(ctx, c.httpClient, c.uri, method, params, reply, opts...)
}

func (c *RPCClient) NodeInfo(ctx context.Context) (NodeInfo, error) {
	var reply NodeInfo
	err := c.call(ctx, "wallet_getnodeinfo", nil, &reply)
	return reply, err
}

func (c *RPCClient) BlockTimestamp(ctx context.Context, num uint64) (int64, error) {
	var reply struct{ Timestamp int64 }
	err := c.call(ctx, "wallet_getblockbynum", map[string]any{"num": num}, &reply)
	return reply.Timestamp, err
}

func (c *RPCClient) Block(ctx context.Context, num uint64) (*Block, error) {
	var reply Block
	if err := c.call(ctx, "wallet_getblockbynum", map[string]any{"num": num}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *RPCClient) TxInfo(ctx context.Context, txID string) (*TxInfo, error) {
	var reply TxInfo
	if err := c.call(ctx, "wallet_gettransactioninfobyid", map[string]any{"value": txID}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *RPCClient) Account(ctx context.Context, address string) (*Account, error) {
	var reply Account
	if err := c.call(ctx, "wallet_getaccount", map[string]any{"address": address}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *RPCClient) ResourceInfo(ctx context.Context) (*ResourceInfo, error) {
	var reply ResourceInfo
	if err := c.call(ctx, "wallet_getchainparameters", nil, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *RPCClient) TriggerConstantContract(ctx context.Context, owner, contract, selector string, parameter []byte) ([]byte, int64, error) {
	var reply struct {
		ConstantResult [][]byte
		EnergyUsed     int64
	}
	params := map[string]any{
		"owner_address":    owner,
		"contract_address": contract,
		"function_selector": selector,
		"parameter":         parameter,
	}
	if err := c.call(ctx, "wallet_triggerconstantcontract", params, &reply); err != nil {
		return nil, 0, err
	}
	var result []byte
	if len(reply.ConstantResult) > 0 {
		result = reply.ConstantResult[0]
	}
	return result, reply.EnergyUsed, nil
}

func (c *RPCClient) BroadcastTransaction(ctx context.Context, signedTxRaw []byte) (*BroadcastResult, error) {
	var reply BroadcastResult
	if err := c.call(ctx, "wallet_broadcasttransaction", map[string]any{"transaction": signedTxRaw}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *RPCClient) DelegateResource(ctx context.Context, ownerSignedTxRaw []byte) (*BroadcastResult, error) {
	return c.BroadcastTransaction(ctx, ownerSignedTxRaw)
}

func (c *RPCClient) UndelegateResource(ctx context.Context, ownerSignedTxRaw []byte) (*BroadcastResult, error) {
	return c.BroadcastTransaction(ctx, ownerSignedTxRaw)
}

func (c *RPCClient) DelegatedEnergy(ctx context.Context, from, to string) (int64, error) {
	var reply struct {
		DelegatedResource []struct {
			FrozenBalanceForEnergy int64 `json:"frozen_balance_for_energy"`
		} `json:"delegatedResource"`
	}
	params := map[string]any{"fromAddress": from, "toAddress": to}
	if err := c.call(ctx, "wallet_getdelegatedresourcev2", params, &reply); err != nil {
		return 0, err
	}
	var total int64
	for _, r := range reply.DelegatedResource {
		total += r.FrozenBalanceForEnergy
	}
	return total, nil
}
