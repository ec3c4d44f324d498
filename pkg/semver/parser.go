// Package semver parses Debian package versions and checks them against SemVer constraints.
package semver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "semver:parser"

// DebianVersion is a package version of the form [epoch:]upstream[-revision].
type DebianVersion struct {
	Epoch    int
	Upstream string
	Revision string
	Raw      string
}

var (
	upstreamRegex  = regexp.MustCompile(`^[0-9][A-Za-z0-9.+~-]*$`)
	numericPrefix  = regexp.MustCompile(`^(\d+)(?:\.(\d+))?(?:\.(\d+))?`)
	majorOnlyRegex = regexp.MustCompile(`^\d+$`)
)

// ParseDebianVersion splits a dpkg version string into its parts.
//
// Supported formats:
//   - 14.10                       (upstream only)
//   - 14.10-0ubuntu0.22.04.1      (upstream and revision)
//   - 1:2.3.4-1                   (epoch, upstream and revision)
func ParseDebianVersion(input string) (*DebianVersion, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return nil, fmt.Errorf("%s - empty version", logPrefix)
	}

	v := &DebianVersion{Raw: raw}
	rest := raw
	if i := strings.Index(rest, ":"); i >= 0 {
		epoch, err := strconv.Atoi(rest[:i])
		if err != nil || epoch < 0 {
			return nil, fmt.Errorf("%s - invalid epoch in %q", logPrefix, raw)
		}
		v.Epoch = epoch
		rest = rest[i+1:]
	}
	if i := strings.LastIndex(rest, "-"); i >= 0 {
		v.Revision = rest[i+1:]
		rest = rest[:i]
		if v.Revision == "" {
			return nil, fmt.Errorf("%s - empty revision in %q", logPrefix, raw)
		}
	}
	if !upstreamRegex.MatchString(rest) {
		return nil, fmt.Errorf("%s - invalid upstream version in %q", logPrefix, raw)
	}
	v.Upstream = rest
	return v, nil
}

// SemVer maps the upstream version onto SemVer: up to three leading numeric components are
// kept, and a "~" suffix (which sorts before the release in dpkg) becomes a prerelease.
// The epoch and revision are dropped.
func (v *DebianVersion) SemVer() (*masterminds.Version, error) {
	m := numericPrefix.FindStringSubmatch(v.Upstream)
	if m == nil {
		return nil, fmt.Errorf("%s - no numeric version in %q", logPrefix, v.Raw)
	}
	parts := []string{m[1], "0", "0"}
	if m[2] != "" {
		parts[1] = m[2]
	}
	if m[3] != "" {
		parts[2] = m[3]
	}
	s := strings.Join(parts, ".")
	if i := strings.Index(v.Upstream, "~"); i >= 0 {
		if pre := sanitizePrerelease(v.Upstream[i+1:]); pre != "" {
			s += "-" + pre
		}
	}
	sv, err := masterminds.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("%s - %q is not representable as semver: %w", logPrefix, v.Raw, err)
	}
	return sv, nil
}

func sanitizePrerelease(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '.':
			b.WriteRune(r)
		case r == '~' || r == '+' || r == '-':
			b.WriteRune('.')
		}
	}
	return strings.Trim(b.String(), ".")
}

// IsMajorOnly checks if a constraint is a bare major number (e.g., "14").
func IsMajorOnly(constraint string) bool {
	return majorOnlyRegex.MatchString(constraint)
}
