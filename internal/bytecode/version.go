package bytecode

import (
	"fmt"
	"strings"
)

// SemVersion is the three-part format version stored in every file header.
type SemVersion struct {
	Major uint16
	Minor uint16
	Patch uint16
}

func (v SemVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compat selects how strictly a reader's version must match a file's.
type Compat int

const (
	// CompatExact accepts only the identical version.
	CompatExact Compat = iota
	// CompatPatch accepts the same major and minor with a reader patch >= the file's.
	CompatPatch
	// CompatMinor accepts the same major with reader (minor, patch) >= the file's.
	CompatMinor
)

func (c Compat) String() string {
	switch c {
	case CompatExact:
		return "exact"
	case CompatPatch:
		return "patch"
	case CompatMinor:
		return "minor"
	default:
		return fmt.Sprintf("Compat(%d)", int(c))
	}
}

func ParseCompat(s string) (Compat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact":
		return CompatExact, nil
	case "patch", "":
		return CompatPatch, nil
	case "minor":
		return CompatMinor, nil
	default:
		return 0, fmt.Errorf("unknown compatibility level %q (want exact, patch or minor)", s)
	}
}

// Satisfies reports whether a consumer at version v can read data produced
// at version required under the given level.
func (v SemVersion) Satisfies(required SemVersion, level Compat) bool {
	switch level {
	case CompatExact:
		return v == required
	case CompatPatch:
		return v.Major == required.Major && v.Minor == required.Minor && v.Patch >= required.Patch
	case CompatMinor:
		if v.Major != required.Major {
			return false
		}
		if v.Minor != required.Minor {
			return v.Minor > required.Minor
		}
		return v.Patch >= required.Patch
	default:
		return false
	}
}
