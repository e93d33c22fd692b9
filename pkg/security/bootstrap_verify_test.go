package security

import (
	"testing"

	"github.com/flagkit/flagkit-go/pkg/model"
)

func TestVerifyLegacyUnsignedBootstrapPasses(t *testing.T) {
	v := NewBootstrapVerifier(nil)
	bootstrap := model.BootstrapConfig{Flags: map[string]model.FlagState{"f": {Key: "f", Value: true}}}
	ok, err := v.Verify(bootstrap, "sdk_key_12345678", model.BootstrapVerificationConfig{Enabled: true})
	if err != nil || !ok {
		t.Fatalf("expected legacy unsigned bootstrap to pass, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyDisabledSkipsAllChecks(t *testing.T) {
	v := NewBootstrapVerifier(nil)
	bootstrap := model.BootstrapConfig{Signature: "garbage"}
	ok, err := v.Verify(bootstrap, "key", model.BootstrapVerificationConfig{Enabled: false})
	if err != nil || !ok {
		t.Fatalf("expected disabled verification to pass trivially, got ok=%v err=%v", ok, err)
	}
}

func TestVerifySignedBootstrapRoundTrip(t *testing.T) {
	NowMillis = func() int64 { return 1_700_000_000_000 }
	defer func() { NowMillis = defaultNowMillis }()

	flags := map[string]model.FlagState{"f": {Key: "f", Value: true, Version: 1}}
	key := "sdk_key_12345678"
	sig, err := SignBootstrap(flags, key, NowMillis())
	if err != nil {
		t.Fatalf("sign bootstrap: %v", err)
	}
	bootstrap := model.BootstrapConfig{Flags: flags, Signature: sig, Timestamp: NowMillis()}

	v := NewBootstrapVerifier(nil)
	ok, err := v.Verify(bootstrap, key, model.BootstrapVerificationConfig{Enabled: true, OnFailure: model.OnFailureError})
	if err != nil || !ok {
		t.Fatalf("expected valid signed bootstrap to verify, got ok=%v err=%v", ok, err)
	}

	bootstrap.Signature = "tampered"
	ok, err = v.Verify(bootstrap, key, model.BootstrapVerificationConfig{Enabled: true, OnFailure: model.OnFailureError})
	if err == nil || ok {
		t.Fatalf("expected tampered signature to fail with OnFailureError, got ok=%v err=%v", ok, err)
	}
}

func TestVerifyExpiredBootstrapWarnsWithoutError(t *testing.T) {
	NowMillis = func() int64 { return 1_700_000_000_000 }
	defer func() { NowMillis = defaultNowMillis }()

	flags := map[string]model.FlagState{"f": {Key: "f", Value: true}}
	key := "sdk_key_12345678"
	oldTimestamp := NowMillis() - 1000
	sig, err := SignBootstrap(flags, key, oldTimestamp)
	if err != nil {
		t.Fatalf("sign bootstrap: %v", err)
	}
	bootstrap := model.BootstrapConfig{Flags: flags, Signature: sig, Timestamp: oldTimestamp}

	v := NewBootstrapVerifier(nil)
	ok, err := v.Verify(bootstrap, key, model.BootstrapVerificationConfig{
		Enabled: true, MaxAge: 10, OnFailure: model.OnFailureWarn,
	})
	if err != nil {
		t.Fatalf("expected no error with OnFailureWarn, got %v", err)
	}
	if ok {
		t.Fatal("expected verification to report false for expired bootstrap")
	}
}
