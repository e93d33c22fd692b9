package security

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewEncryptedCache("sdk_test_credential")
	plaintexts := []string{"a", `{"flag":"value"}`, "unicode✓value"}
	for _, p := range plaintexts {
		blob, err := c.Encrypt(p)
		if err != nil {
			t.Fatalf("encrypt(%q): %v", p, err)
		}
		if blob == p {
			t.Fatalf("encrypted blob must not equal plaintext for %q", p)
		}
		got, err := c.Decrypt(blob)
		if err != nil {
			t.Fatalf("decrypt(%q): %v", p, err)
		}
		if got != p {
			t.Fatalf("round trip mismatch: got %q, want %q", got, p)
		}
	}
}

func TestDecryptFailsOnTamperedBlob(t *testing.T) {
	c := NewEncryptedCache("sdk_test_credential")
	blob, err := c.Encrypt("secret-value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := blob[:len(blob)-2] + "AA"
	if _, err := c.Decrypt(tampered); err == nil {
		t.Fatal("expected decryption of tampered blob to fail")
	}
}

func TestDecryptFailsOnWrongKey(t *testing.T) {
	a := NewEncryptedCache("sdk_credential_a")
	b := NewEncryptedCache("sdk_credential_b")
	blob, err := a.Encrypt("secret-value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := b.Decrypt(blob); err == nil {
		t.Fatal("expected decryption under a different key to fail")
	}
}
