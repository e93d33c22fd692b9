package model

// BootstrapConfig is a signed seed set of flag values supplied by the
// consumer to provide useful results before the first network fetch.
// Signature is empty for the legacy, unsigned path.
type BootstrapConfig struct {
	Flags     map[string]FlagState
	Signature string
	Timestamp int64 // epoch millis
}

// BootstrapVerificationOnFailure controls what happens when a signed
// bootstrap fails verification.
type BootstrapVerificationOnFailure string

const (
	OnFailureWarn  BootstrapVerificationOnFailure = "warn"
	OnFailureError BootstrapVerificationOnFailure = "error"
	OnFailureIgnore BootstrapVerificationOnFailure = "ignore"
)

// BootstrapVerificationConfig configures the Bootstrap Verifier.
type BootstrapVerificationConfig struct {
	Enabled   bool
	MaxAge    int64 // millis, 0 means unset
	OnFailure BootstrapVerificationOnFailure
}
