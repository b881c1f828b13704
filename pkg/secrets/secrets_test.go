package secrets

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	token, err := c.Encrypt("sk-abc123")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(token, Prefix) {
		t.Fatalf("token missing prefix: %q", token)
	}
	got, err := c.Decrypt(token)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if got != "sk-abc123" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestRevealLegacyPlaintext(t *testing.T) {
	c, err := NewCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	if got := c.Reveal("sk-plaintext-from-old-record"); got != "sk-plaintext-from-old-record" {
		t.Fatalf("plaintext passthrough broken: %q", got)
	}
}

func TestRevealCorruptTokenFallsBackToStoredValue(t *testing.T) {
	c, err := NewCipher("unit-test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	corrupt := Prefix + "not-valid-base64!!!"
	if got := c.Reveal(corrupt); got != corrupt {
		t.Fatalf("corrupt token should pass through: %q", got)
	}
}

func TestDecryptWithWrongSecretFails(t *testing.T) {
	a, _ := NewCipher("secret-a")
	b, _ := NewCipher("secret-b")
	token, err := a.Encrypt("value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b.Decrypt(token); err == nil {
		t.Fatal("decrypt with wrong secret should fail")
	}
}

func TestNewCipherRejectsEmptySecret(t *testing.T) {
	if _, err := NewCipher("   "); err == nil {
		t.Fatal("empty secret should be rejected")
	}
}

func TestIsEncrypted(t *testing.T) {
	if IsEncrypted("sk-plain") {
		t.Fatal("plaintext flagged as encrypted")
	}
	if !IsEncrypted(Prefix + "abc") {
		t.Fatal("prefixed token not flagged")
	}
}
