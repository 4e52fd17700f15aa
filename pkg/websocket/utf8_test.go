package websocket

import "testing"

func TestUTF8ValidatorAcrossFragments(t *testing.T) {
	// "こんにちは" split so that a 3-byte rune straddles the fragment boundary.
	full := []byte("こんにちは") //nolint:gosmopolitan // Test string.
	split := 7               // Mid-way through the second rune's 3 bytes.

	var v utf8Validator
	if !v.step(full[:split]) {
		t.Fatal("step() on first fragment returned false, want true (partial rune is not yet invalid)")
	}
	if v.complete() {
		t.Fatal("complete() after a fragment ending mid-rune: want false")
	}
	if !v.step(full[split:]) {
		t.Fatal("step() on remaining bytes returned false, want true")
	}
	if !v.complete() {
		t.Fatal("complete() after all fragments fed: want true")
	}
}

func TestUTF8ValidatorRejectsInvalidByte(t *testing.T) {
	var v utf8Validator
	if v.step([]byte{0xff, 0xfe}) {
		t.Fatal("step() with invalid lead byte: want false")
	}
}

func TestUTF8ValidatorEmptyIsComplete(t *testing.T) {
	var v utf8Validator
	if !v.complete() {
		t.Error("complete() on a fresh validator: want true (nothing pending)")
	}
}
