// Package update checks a remote manifest for newer releases and downloads
// the published package.
package update

import (
	"fmt"
	"strconv"
	"strings"
)

// CompareVersions compares two dotted numeric versions component by component.
// Missing trailing components count as zero and a leading "v" is ignored.
// It returns -1, 0 or 1, or an error if either version is malformed.
func CompareVersions(a, b string) (int, error) {
	pa, err := parseVersion(a)
	if err != nil {
		return 0, err
	}
	pb, err := parseVersion(b)
	if err != nil {
		return 0, err
	}

	n := max(len(pa), len(pb))
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		switch {
		case x < y:
			return -1, nil
		case x > y:
			return 1, nil
		}
	}
	return 0, nil
}

// IsNewer reports whether remote is strictly greater than running.
// Malformed versions never count as newer.
func IsNewer(remote, running string) bool {
	c, err := CompareVersions(remote, running)
	return err == nil && c > 0
}

func parseVersion(v string) ([]int, error) {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "v"), "V")
	if s == "" {
		return nil, fmt.Errorf("parsing version %q: empty", v)
	}

	parts := strings.Split(s, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("parsing version %q: invalid component %q", v, p)
		}
		out[i] = n
	}
	return out, nil
}
