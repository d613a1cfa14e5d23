package chainclient

import "github.com/holiman/uint256"

// NodeInfo is the subset of node-status data the Connection Manager
// needs to score an endpoint.
type NodeInfo struct {
	Version   string
	HeadBlock uint64
}

// Block is the parsed form of one on-chain block: enough for the
// scanner to enumerate transactions and their logs.
type Block struct {
	Number    uint64
	Hash      string
	Timestamp int64 // unix millis, as Tron reports it
	Txs       []Tx
}

// Tx is one transaction inside a Block.
type Tx struct {
	TxID       string
	ContractRet string // "SUCCESS" or a failure code
	Type        string // "TransferContract" | "TriggerSmartContract"
	// Native transfer fields (TransferContract only).
	From   string
	To     string
	Amount *uint256.Int // sun
	// Smart contract call fields (TriggerSmartContract only).
	ContractAddress string
	Data            []byte
}

// TxInfo is the receipt-like side-channel information the chain keeps
// separate from the block body: logs (for TRC-20 Transfer decoding) and
// whatever status fields Tron reports for the executed contract call.
type TxInfo struct {
	TxID string
	Logs []Log
}

// Log is one EVM-style log entry emitted by a TriggerSmartContract call.
type Log struct {
	Address string
	Topics  []string // hex, no 0x prefix, first is the event signature hash
	Data    []byte
}

// Account is the subset of on-chain account state callers need:
// balance, bandwidth and energy usage/limits.
type Account struct {
	Address          string
	Balance          *uint256.Int // sun
	FreeNetUsed      int64
	FreeNetLimit     int64
	EnergyUsed       int64
	EnergyLimit      int64
	CreatedOnChain   bool
}

// ResourceInfo is the chain-wide bandwidth/energy weight/limit totals
// used to convert a delegation amount into staked sun.
type ResourceInfo struct {
	TotalEnergyWeight int64
	TotalEnergyLimit  int64
}

// BroadcastResult is what the node returns after accepting (or
// rejecting) a signed transaction.
type BroadcastResult struct {
	Result  bool
	TxID    string
	Message string
}
