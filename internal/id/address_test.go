package id

import "testing"

func TestParseAddress(t *testing.T) {
	got, err := ParseAddress("reserveAddress", "0xABCDEFabcdef0123456789abcdef0123456789AB")
	if err != nil {
		t.Fatalf("ParseAddress failed: %v", err)
	}
	if got != "abcdefabcdef0123456789abcdef0123456789ab" {
		t.Fatalf("unexpected normalized address: %s", got)
	}

	got, err = ParseAddress("escrowAddress", "abcdefabcdef0123456789abcdef0123456789ab")
	if err != nil || got != "abcdefabcdef0123456789abcdef0123456789ab" {
		t.Fatalf("expected unprefixed address to pass through, got %q err=%v", got, err)
	}

	if _, err := ParseAddress("reserveAddress", "not-an-address"); err == nil {
		t.Fatal("expected invalid address to fail")
	}
}

func TestZeroAddress(t *testing.T) {
	if ZeroAddress != "0000000000000000000000000000000000000000" {
		t.Fatalf("unexpected zero address: %s", ZeroAddress)
	}
	if !IsAddress(ZeroAddress) {
		t.Fatal("zero address must be a valid address")
	}
}
