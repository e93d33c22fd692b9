package security

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// CredentialManager holds a primary credential and optional secondary,
// failing over to the secondary on authentication rejection. current is
// an atomic.Value so readers never observe a torn value.
type CredentialManager struct {
	primary   string
	secondary string

	current       atomic.Value // string
	usingSecondary atomic.Bool

	log *logrus.Entry
}

// NewCredentialManager constructs a manager with the given primary and
// optional secondary credential (empty string means none configured).
func NewCredentialManager(primary, secondary string, log *logrus.Entry) *CredentialManager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &CredentialManager{primary: primary, secondary: secondary, log: log}
	m.current.Store(primary)
	return m
}

// Current returns the currently active credential.
func (m *CredentialManager) Current() string {
	return m.current.Load().(string)
}

// HasSecondary reports whether a secondary credential is configured.
func (m *CredentialManager) HasSecondary() bool {
	return m.secondary != ""
}

// IsUsingSecondary reports whether the secondary credential is active.
func (m *CredentialManager) IsUsingSecondary() bool {
	return m.usingSecondary.Load()
}

// OnAuthRejection handles an authentication rejection (HTTP 401). If a
// secondary credential exists and is not yet active, it switches to it
// and returns true. Otherwise it returns false and the caller must
// surface the auth failure.
func (m *CredentialManager) OnAuthRejection() bool {
	if !m.HasSecondary() {
		m.log.Warn("auth rejection received but no secondary credential configured")
		return false
	}
	if m.usingSecondary.Load() {
		m.log.Error("auth rejection on secondary credential - both credentials are invalid")
		return false
	}
	m.current.Store(m.secondary)
	m.usingSecondary.Store(true)
	m.log.Info("switched to secondary credential after auth rejection")
	return true
}

// ResetToPrimary switches back to the primary credential if currently
// on the secondary.
func (m *CredentialManager) ResetToPrimary() {
	if m.usingSecondary.Load() {
		m.current.Store(m.primary)
		m.usingSecondary.Store(false)
		m.log.Info("reset to primary credential")
	}
}
