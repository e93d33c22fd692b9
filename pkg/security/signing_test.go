package security

import "testing"

func TestSignIsDeterministic(t *testing.T) {
	a := Sign("message", "key")
	b := Sign("message", "key")
	if a != b {
		t.Fatalf("expected deterministic signature, got %q and %q", a, b)
	}
	if a == Sign("different", "key") {
		t.Fatal("different messages should not collide")
	}
}

func TestVerifyRequestSignatureRoundTrip(t *testing.T) {
	NowMillis = func() int64 { return 1_700_000_000_000 }
	defer func() { NowMillis = defaultNowMillis }()

	body := `{"a":1,"b":2}`
	key := "sdk_key_12345678"
	sig := CreateRequestSignature(body, key)

	if !VerifyRequestSignature(body, sig.Signature, sig.Timestamp, key, 0) {
		t.Fatal("expected freshly created signature to verify")
	}

	// Append a byte to the body.
	if VerifyRequestSignature(body+"x", sig.Signature, sig.Timestamp, key, 0) {
		t.Fatal("expected verification to fail when body is altered")
	}
	// Flip a byte of the signature.
	flipped := "0" + sig.Signature[1:]
	if VerifyRequestSignature(body, flipped, sig.Timestamp, key, 0) {
		t.Fatal("expected verification to fail when signature is altered")
	}
}

func TestVerifyRequestSignatureExpiry(t *testing.T) {
	base := int64(1_700_000_000_000)
	NowMillis = func() int64 { return base }
	defer func() { NowMillis = defaultNowMillis }()

	body := "payload"
	key := "sdk_key_12345678"
	sig := CreateRequestSignature(body, key)

	NowMillis = func() int64 { return base + DefaultMaxSignatureAgeMs }
	if !VerifyRequestSignature(body, sig.Signature, sig.Timestamp, key, 0) {
		t.Fatal("signature should still verify exactly at the max age boundary")
	}

	NowMillis = func() int64 { return base + DefaultMaxSignatureAgeMs + 1 }
	if VerifyRequestSignature(body, sig.Signature, sig.Timestamp, key, 0) {
		t.Fatal("signature should be rejected one ms past the max age")
	}
}

func TestKeyID(t *testing.T) {
	if got := KeyID("sdk_aaaaaaaa"); got != "sdk_aaaa" {
		t.Fatalf("got %q", got)
	}
	if got := KeyID("short"); got != "short" {
		t.Fatalf("got %q", got)
	}
}
