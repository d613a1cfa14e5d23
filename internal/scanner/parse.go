package scanner

import (
	"encoding/hex"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/shkeeper-io/tron-gateway/internal/chainclient"
	"github.com/shkeeper-io/tron-gateway/internal/tronaddr"
)

// transferEventTopic is keccak256("Transfer(address,address,uint256)"),
// computed once at init instead of hardcoded so the derivation is
// visible in the source rather than a magic string.
var transferEventTopic = hex.EncodeToString(keccak256([]byte("Transfer(address,address,uint256)")))

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// TokenConfig describes one TRC-20 contract the scanner recognizes.
type TokenConfig struct {
	Symbol   string
	Address  string // hex, no 0x/41 prefix, lowercase — matches log.Address
	Decimals int
}

// ParsedTransfer is spec.md's transient TronTransaction value: the
// normalized form of one on-chain transfer, native or TRC-20. Amount is
// kept in the symbol's smallest unit (sun for TRX, the raw token
// integer for TRC-20) to avoid floating-point loss; Decimals records how
// many places to shift to reach the human-readable amount (6 for TRX,
// per-token otherwise), matching the amount×10^decimals=raw relationship
// spec §8 property 4 tests.
type ParsedTransfer struct {
	TxID     string
	Symbol   string
	Src      string
	Dst      string
	Amount   *uint256.Int
	Decimals int
	Status   string
	IsTRC20  bool
}

// parseTx derives zero or more ParsedTransfers from one transaction, per
// spec §4.3.1. info is nil unless tx.Type == "TriggerSmartContract".
func parseTx(tx chainclient.Tx, info *chainclient.TxInfo, tokens map[string]TokenConfig) ([]ParsedTransfer, error) {
	if tx.ContractRet != "SUCCESS" {
		return nil, ErrBadContractResult
	}

	switch tx.Type {
	case "TransferContract":
		amount := tx.Amount
		if amount == nil {
			amount = uint256.NewInt(0)
		}
		return []ParsedTransfer{{
			TxID:     tx.TxID,
			Symbol:   "TRX",
			Src:      tx.From,
			Dst:      tx.To,
			Amount:   new(uint256.Int).Set(amount),
			Decimals: 6,
			Status:   tx.ContractRet,
		}}, nil

	case "TriggerSmartContract":
		if info == nil {
			return nil, ErrUnknownTransactionType
		}
		var out []ParsedTransfer
		for _, lg := range info.Logs {
			token, ok := tokens[strings.ToLower(lg.Address)]
			if !ok {
				continue
			}
			if len(lg.Topics) == 0 || !strings.EqualFold(lg.Topics[0], transferEventTopic) {
				continue
			}
			if len(lg.Topics) < 3 {
				return nil, ErrInsufficientDataBytes
			}
			from, err := topicToAddress(lg.Topics[1])
			if err != nil {
				return nil, err
			}
			to, err := topicToAddress(lg.Topics[2])
			if err != nil {
				return nil, err
			}
			if len(lg.Data) == 0 {
				return nil, ErrInsufficientDataBytes
			}
			amount := new(uint256.Int).SetBytes(lg.Data)
			out = append(out, ParsedTransfer{
				TxID:     tx.TxID,
				Symbol:   token.Symbol,
				Src:      from,
				Dst:      to,
				Amount:   amount,
				Decimals: token.Decimals,
				Status:   tx.ContractRet,
				IsTRC20:  true,
			})
		}
		if len(out) == 0 {
			return nil, ErrUnknownTransactionType
		}
		return out, nil

	default:
		return nil, ErrUnknownTransactionType
	}
}

// topicToAddress recovers a Tron base58check address from a 32-byte
// left-padded log topic, verifying the padding bytes are zero. The
// Watched-Set and treasury address are both base58check (seeded from
// key records' public column and txsign.GenerateAddress), so the
// 20-byte tail must be re-wrapped with the Tron prefix rather than
// returned as raw hex.
func topicToAddress(topicHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(topicHex, "0x"))
	if err != nil || len(raw) != 32 {
		return "", ErrInsufficientDataBytes
	}
	for _, b := range raw[:12] {
		if b != 0 {
			return "", ErrNonEmptyPaddingBytes
		}
	}
	var tail [20]byte
	copy(tail[:], raw[12:])
	return tronaddr.EncodeTail(tail), nil
}
