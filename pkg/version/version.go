// Package version implements semantic-version comparison used to
// evaluate the SDK-version metadata an init response may carry
// (sdkVersionMin, sdkVersionRecommended, sdkVersionLatest).
package version

import (
	"regexp"
	"strconv"
	"strings"
)

var semverPattern = regexp.MustCompile(`^[vV]?(\d+)\.(\d+)\.(\d+)`)

// maxComponent bounds a parsed version component defensively.
const maxComponent = 999_999_999

// Parsed is a semantic version's numeric components.
type Parsed struct {
	Major, Minor, Patch int
}

// Parse parses a semver-shaped string such as "1.2.3" or "v1.2.3-beta".
// It returns ok=false for anything that doesn't match the leading
// major.minor.patch form, or whose components overflow maxComponent.
func Parse(v string) (Parsed, bool) {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return Parsed{}, false
	}
	m := semverPattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Parsed{}, false
	}
	major, err1 := strconv.Atoi(m[1])
	minor, err2 := strconv.Atoi(m[2])
	patch, err3 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return Parsed{}, false
	}
	if major < 0 || major > maxComponent || minor < 0 || minor > maxComponent || patch < 0 || patch > maxComponent {
		return Parsed{}, false
	}
	return Parsed{Major: major, Minor: minor, Patch: patch}, true
}

// Compare returns a negative number if a < b, zero if equal, positive
// if a > b. Either side failing to parse yields 0 (no ordering claim).
func Compare(a, b string) int {
	pa, okA := Parse(a)
	pb, okB := Parse(b)
	if !okA || !okB {
		return 0
	}
	if pa.Major != pb.Major {
		return pa.Major - pb.Major
	}
	if pa.Minor != pb.Minor {
		return pa.Minor - pb.Minor
	}
	return pa.Patch - pb.Patch
}

// LessThan reports whether a < b.
func LessThan(a, b string) bool { return Compare(a, b) < 0 }

// AtLeast reports whether a >= b.
func AtLeast(a, b string) bool { return Compare(a, b) >= 0 }
