package scanner

import "errors"

// Per-transaction parse errors: spec §4.3/§7 classifies these as
// "logged and skipped", never failing the enclosing block.
var (
	ErrUnknownTransactionType = errors.New("scanner: unknown transaction type")
	ErrBadContractResult      = errors.New("scanner: non-SUCCESS contractRet")
	ErrInsufficientDataBytes  = errors.New("scanner: insufficient log data bytes")
	ErrNonEmptyPaddingBytes   = errors.New("scanner: non-empty address padding bytes")
)

// ErrNotificationFailed is spec §7's NotificationFailed: it fails the
// whole block (and so the chunk), unlike the per-tx errors above.
var ErrNotificationFailed = errors.New("scanner: keeper notification failed")

func isSkippable(err error) bool {
	return errors.Is(err, ErrUnknownTransactionType) ||
		errors.Is(err, ErrBadContractResult) ||
		errors.Is(err, ErrInsufficientDataBytes) ||
		errors.Is(err, ErrNonEmptyPaddingBytes)
}
