// Package security implements the Request Signer, Credential Manager,
// Bootstrap Verifier, encrypted cache wrapper, and error sanitizer.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/flagkit/flagkit-go/pkg/errors"
)

// DefaultMaxSignatureAgeMs is the default freshness window for a
// request signature.
const DefaultMaxSignatureAgeMs int64 = 300_000

// futureSkewMs is the tolerance for a timestamp that appears to be in
// the future, e.g. due to clock drift between client and server.
const futureSkewMs int64 = -300_000

// RequestSignature is the result of signing a request body.
type RequestSignature struct {
	Signature string
	Timestamp int64
	KeyID     string
}

// Sign produces the lowercase-hex HMAC-SHA256 of message under key.
func Sign(message, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// KeyID returns the first 8 characters of key, or the whole key if
// shorter.
func KeyID(key string) string {
	if len(key) >= 8 {
		return key[:8]
	}
	return key
}

func defaultNowMillis() int64 { return time.Now().UnixMilli() }

// NowMillis is the clock used for signing; overridable in tests.
var NowMillis = defaultNowMillis

// CreateRequestSignature signs body with key at the current time.
func CreateRequestSignature(body, key string) RequestSignature {
	ts := NowMillis()
	message := fmt.Sprintf("%d.%s", ts, body)
	return RequestSignature{
		Signature: Sign(message, key),
		Timestamp: ts,
		KeyID:     KeyID(key),
	}
}

// VerifyRequestSignature reports whether signature is a valid,
// non-expired signature of body under key, computed at timestamp. It
// never returns true on a signature mismatch.
func VerifyRequestSignature(body, signature string, timestamp int64, key string, maxAgeMs int64) bool {
	if maxAgeMs <= 0 {
		maxAgeMs = DefaultMaxSignatureAgeMs
	}
	age := NowMillis() - timestamp
	if age > maxAgeMs {
		return false
	}
	if age < futureSkewMs {
		return false
	}
	message := fmt.Sprintf("%d.%s", timestamp, body)
	expected := Sign(message, key)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ErrInvalidSignature is returned by higher-level callers that need a
// typed error rather than a boolean, e.g. the bootstrap verifier.
func ErrInvalidSignature(detail string) *errors.Error {
	return errors.New(errors.SecuritySignatureInvalid, detail)
}
