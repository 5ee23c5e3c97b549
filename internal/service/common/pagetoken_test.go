package common

import (
	"bytes"
	"testing"
)

func TestPageTokenRoundTrip(t *testing.T) {
	state := []byte{0x01, 0xff, 0x10, 0x00, 0x7b}

	decoded, err := DecodePageToken(EncodePageToken(state))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, state) {
		t.Errorf("decoded state = %x, want %x", decoded, state)
	}
}

func TestDecodePageTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodePageToken("not%valid!"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}
