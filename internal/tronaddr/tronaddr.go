// Package tronaddr encodes and validates Tron base58check addresses.
//
// A Tron address is a 21-byte payload (0x41 prefix + 20-byte keccak
// address tail) followed by the first 4 bytes of double-SHA256 of that
// payload, base58-encoded. This package never derives keys; it only
// validates and formats addresses the chain client hands back.
package tronaddr

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressPrefix is the version byte Tron uses for mainnet account addresses.
const AddressPrefix byte = 0x41

const payloadLen = 21 // prefix + 20 byte address
const checksumLen = 4

var (
	// ErrBadChecksum is returned when the trailing 4 bytes of a decoded
	// address do not match its double-SHA256 checksum.
	ErrBadChecksum = errors.New("tronaddr: bad checksum")
	// ErrBadPrefix is returned when a decoded address does not start
	// with AddressPrefix.
	ErrBadPrefix = errors.New("tronaddr: bad address prefix")
	// ErrBadLength is returned when a decoded address is not 21 bytes.
	ErrBadLength = errors.New("tronaddr: bad address length")
)

// Encode converts a raw 21-byte Tron address (prefix + 20-byte tail) to
// its base58check string form.
func Encode(raw [21]byte) string {
	sum := checksum(raw[:])
	full := make([]byte, 0, payloadLen+checksumLen)
	full = append(full, raw[:]...)
	full = append(full, sum...)
	return base58.Encode(full)
}

// EncodeTail wraps a 20-byte address tail with the standard Tron prefix
// and returns the base58check string.
func EncodeTail(tail [20]byte) string {
	var raw [21]byte
	raw[0] = AddressPrefix
	copy(raw[1:], tail[:])
	return Encode(raw)
}

// Decode validates a base58check Tron address and returns its raw 21 bytes.
func Decode(addr string) ([21]byte, error) {
	var out [21]byte
	full, err := base58.Decode(addr)
	if err != nil {
		return out, fmt.Errorf("tronaddr: decode %q: %w", addr, err)
	}
	if len(full) != payloadLen+checksumLen {
		return out, ErrBadLength
	}
	payload, sum := full[:payloadLen], full[payloadLen:]
	if payload[0] != AddressPrefix {
		return out, ErrBadPrefix
	}
	want := checksum(payload)
	for i := range want {
		if want[i] != sum[i] {
			return out, ErrBadChecksum
		}
	}
	copy(out[:], payload)
	return out, nil
}

// Valid reports whether addr is a well-formed Tron base58check address.
func Valid(addr string) bool {
	_, err := Decode(addr)
	return err == nil
}

func checksum(payload []byte) []byte {
	h1 := sha256.Sum256(payload)
	h2 := sha256.Sum256(h1[:])
	return h2[:checksumLen]
}
