package tronaddr

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var tail [20]byte
	for i := range tail {
		tail[i] = byte(i + 1)
	}
	addr := EncodeTail(tail)
	if !Valid(addr) {
		t.Fatalf("expected %q to be valid", addr)
	}
	raw, err := Decode(addr)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw[0] != AddressPrefix {
		t.Fatalf("bad prefix byte: %x", raw[0])
	}
	for i, b := range tail {
		if raw[i+1] != b {
			t.Fatalf("tail mismatch at %d: got %x want %x", i, raw[i+1], b)
		}
	}
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	var tail [20]byte
	addr := EncodeTail(tail)
	// Flip the last character to corrupt the checksum.
	mutated := []byte(addr)
	if mutated[len(mutated)-1] == 'a' {
		mutated[len(mutated)-1] = 'b'
	} else {
		mutated[len(mutated)-1] = 'a'
	}
	if _, err := Decode(string(mutated)); err == nil {
		t.Fatalf("expected corrupted address to fail to decode")
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not-a-base58-address!!"); err == nil {
		t.Fatalf("expected error")
	}
}
