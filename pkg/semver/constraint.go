package semver

import (
	"fmt"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const constraintLogPrefix = "semver:constraint"

// Satisfies reports whether the Debian version satisfies constraint. A bare major number
// matches every version with that major; anything else is a Masterminds constraint such as
// "^14", "~14.2" or ">=13, <16".
func Satisfies(version, constraint string) (bool, error) {
	dv, err := ParseDebianVersion(version)
	if err != nil {
		return false, err
	}
	sv, err := dv.SemVer()
	if err != nil {
		return false, err
	}

	constraint = strings.TrimSpace(constraint)
	if IsMajorOnly(constraint) {
		major, _ := strconv.ParseUint(constraint, 10, 64)
		return sv.Major() == major, nil
	}

	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("%s - invalid constraint %q: %w", constraintLogPrefix, constraint, err)
	}
	return c.Check(sv), nil
}

// Compare orders two Debian versions by epoch, then by their SemVer mapping. Versions whose
// SemVer forms are equal are ordered the way dpkg does, by full upstream version and then by
// revision, so "1.0-1" < "1.0-2" and "1.2.3.4" < "1.2.3.5". It returns -1, 0 or 1.
func Compare(a, b string) (int, error) {
	da, err := ParseDebianVersion(a)
	if err != nil {
		return 0, err
	}
	db, err := ParseDebianVersion(b)
	if err != nil {
		return 0, err
	}
	if da.Epoch != db.Epoch {
		if da.Epoch < db.Epoch {
			return -1, nil
		}
		return 1, nil
	}
	sa, err := da.SemVer()
	if err != nil {
		return 0, err
	}
	sb, err := db.SemVer()
	if err != nil {
		return 0, err
	}
	if c := sa.Compare(sb); c != 0 {
		return c, nil
	}
	if c := compareDpkg(da.Upstream, db.Upstream); c != 0 {
		return c, nil
	}
	return compareDpkg(da.Revision, db.Revision), nil
}

// dpkgOrder weighs one character: '~' sorts before everything including the end of the
// string, letters before other symbols.
func dpkgOrder(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	c := s[i]
	switch {
	case isDigit(c):
		return 0
	case c == '~':
		return -1
	case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		return int(c)
	default:
		return int(c) + 256
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// compareDpkg compares alternating non-digit and digit runs as dpkg's verrevcmp does.
func compareDpkg(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			if ac, bc := dpkgOrder(a, i), dpkgOrder(b, j); ac != bc {
				return sign(ac - bc)
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		firstDiff := 0
		for i < len(a) && isDigit(a[i]) && j < len(b) && isDigit(b[j]) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if firstDiff != 0 {
			return sign(firstDiff)
		}
	}
	return 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
