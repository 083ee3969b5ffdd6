package security

import "testing"

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	plaintext := []byte("reliable ordered payload")
	sealed, err := c.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if len(sealed) != len(plaintext)+Overhead {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(plaintext)+Overhead)
	}

	opened, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(opened) != string(plaintext) {
		t.Fatalf("opened = %q, want %q", opened, plaintext)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, KeySize)
	c, _ := New(key)
	sealed, _ := c.Seal([]byte("hello"))
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := c.Open(sealed); err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
}

func TestOpenRejectsShortInput(t *testing.T) {
	key := make([]byte, KeySize)
	c, _ := New(key)
	if _, err := c.Open([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected a too-short datagram to be rejected")
	}
}

func TestTwoCiphersWithDifferentKeysCannotInterop(t *testing.T) {
	keyA := make([]byte, KeySize)
	keyB := make([]byte, KeySize)
	keyB[0] = 1
	a, _ := New(keyA)
	b, _ := New(keyB)

	sealed, _ := a.Seal([]byte("hello"))
	if _, err := b.Open(sealed); err == nil {
		t.Fatal("expected a different key to fail to open")
	}
}
