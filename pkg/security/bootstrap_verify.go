package security

import (
	"crypto/hmac"
	"fmt"

	"github.com/flagkit/flagkit-go/pkg/errors"
	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/sirupsen/logrus"
)

const clockSkewToleranceMs int64 = 300_000

// BootstrapVerifier checks a bootstrap's signature and freshness before
// it is trusted as a seed for the Flag Store.
type BootstrapVerifier struct {
	log *logrus.Entry
}

// NewBootstrapVerifier constructs a verifier. A nil logger falls back to
// the standard logrus logger.
func NewBootstrapVerifier(log *logrus.Entry) *BootstrapVerifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BootstrapVerifier{log: log}
}

// SignBootstrap computes the HMAC-SHA256 signature for flags signed
// under key at timestamp, over the canonicalized flag mapping.
func SignBootstrap(flags map[string]model.FlagState, key string, timestampMs int64) (string, error) {
	canonical, err := model.Canonicalize(flags)
	if err != nil {
		return "", fmt.Errorf("canonicalizing bootstrap flags: %w", err)
	}
	message := fmt.Sprintf("%d.%s", timestampMs, canonical)
	return Sign(message, key), nil
}

// Verify checks bootstrap against key per config. It returns (true, nil)
// when verification passes or is skipped (disabled, or legacy unsigned
// bootstrap). On failure, the returned error is non-nil only when
// config.OnFailure is OnFailureError; otherwise verification failure is
// reported by a false return with a nil error, after the appropriate
// onFailure side effect (a warning log for OnFailureWarn).
func (v *BootstrapVerifier) Verify(bootstrap model.BootstrapConfig, key string, config model.BootstrapVerificationConfig) (bool, error) {
	if !config.Enabled {
		return true, nil
	}
	if bootstrap.Signature == "" {
		v.log.Debug("bootstrap data is unsigned, skipping verification")
		return true, nil
	}

	if fault := v.checkFreshness(bootstrap, config); fault != nil {
		return v.handleFailure(fault, config)
	}

	canonical, err := model.Canonicalize(bootstrap.Flags)
	if err != nil {
		return v.handleFailure(errors.Wrap(errors.SecurityBootstrapInvalid, "failed to canonicalize bootstrap flags", err), config)
	}
	message := fmt.Sprintf("%d.%s", bootstrap.Timestamp, canonical)
	expected := Sign(message, key)
	if !hmac.Equal([]byte(bootstrap.Signature), []byte(expected)) {
		return v.handleFailure(errors.New(errors.SecuritySignatureInvalid, "bootstrap signature verification failed: signature mismatch"), config)
	}

	v.log.Debug("bootstrap signature verified successfully")
	return true, nil
}

func (v *BootstrapVerifier) checkFreshness(bootstrap model.BootstrapConfig, config model.BootstrapVerificationConfig) error {
	if config.MaxAge == 0 || bootstrap.Timestamp <= 0 {
		return nil
	}
	age := NowMillis() - bootstrap.Timestamp
	if age > config.MaxAge {
		return errors.New(errors.SecurityBootstrapExpired, fmt.Sprintf("bootstrap data is expired: age %dms exceeds max age %dms", age, config.MaxAge))
	}
	if age < -clockSkewToleranceMs {
		return errors.New(errors.SecurityBootstrapInvalid, "bootstrap timestamp is in the future")
	}
	return nil
}

func (v *BootstrapVerifier) handleFailure(fault error, config model.BootstrapVerificationConfig) (bool, error) {
	switch config.OnFailure {
	case model.OnFailureError:
		return false, fault
	case model.OnFailureWarn:
		v.log.Warnf("bootstrap verification failed: %v", fault)
		return false, nil
	default: // OnFailureIgnore, or unset
		return false, nil
	}
}
