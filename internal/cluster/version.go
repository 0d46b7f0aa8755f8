package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// Version identifies one server release for the duration of a run.
type Version struct {
	Major int
	Minor int
	// Full is the complete version string as reported by buildInfo.
	Full string
}

// Baseline is the oldest server release mongomaint supports. Version probes
// that cannot parse the reported string fall back to it so no feature is
// ever assumed that may not exist.
var Baseline = Version{Major: 4, Minor: 0, Full: "4.0"}

// ParseVersion parses "major.minor[.patch][-suffix]" into a Version.
func ParseVersion(s string) (Version, error) {
	core := s
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}

	parts := strings.Split(core, ".")
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("unparseable server version %q", s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return Version{}, fmt.Errorf("unparseable server version %q: %w", s, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return Version{}, fmt.Errorf("unparseable server version %q: %w", s, err)
	}

	return Version{Major: major, Minor: minor, Full: s}, nil
}

// AtLeast reports whether v is the given release or newer.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// String returns the full reported version string.
func (v Version) String() string {
	if v.Full != "" {
		return v.Full
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
