// Package mcp implements the Message Control Protocol out-of-band framing
// layer (spec.md §4.12, §6): a line-oriented protocol multiplexed over the
// same text stream as in-band output, with its own package/version
// negotiation. Grounded on the original server's mcp.c.
package mcp

import "fmt"

// Ver is a two-component MCP package version (spec.md §4.12's
// "min_version, max_version"; §6 "M.m integer-pair strings").
type Ver struct {
	Major int
	Minor int
}

// Compare reports whether v differs from other; against the {0,0} "null"
// version that is whether v is non-zero (the original's
// mcp_version_compare).
func (v Ver) Compare(other Ver) bool {
	return v != other
}

func (v Ver) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// IsZero reports whether v is the null version {0, 0}.
func (v Ver) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// SelectVersion picks the highest version in the intersection of
// [myMin, myMax] and [theirMin, theirMax] (spec.md §4.12 "the selected
// version for each package is the highest value in the intersection of
// the two ranges; if the intersection is empty the package is unsupported
// on that connection"). Returns the zero version if the ranges don't
// intersect.
func SelectVersion(myMin, myMax, theirMin, theirMax Ver) Ver {
	lo := myMin
	if verLess(lo, theirMin) {
		lo = theirMin
	}
	hi := myMax
	if verLess(theirMax, hi) {
		hi = theirMax
	}
	if verLess(hi, lo) {
		return Ver{}
	}
	return hi
}

func verLess(a, b Ver) bool {
	if a.Major != b.Major {
		return a.Major < b.Major
	}
	return a.Minor < b.Minor
}

// ParseVer parses a "M.m" version string, stopping at the first
// non-digit/non-dot character (mirrors the original's digit-scanning loop
// in mcp_basic_handler / mcp_negotiate_handler rather than using strconv's
// stricter grammar).
func ParseVer(s string) (Ver, bool) {
	var v Ver
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		v.Major = v.Major*10 + int(s[i]-'0')
		i++
	}
	if i >= len(s) || s[i] != '.' {
		return Ver{}, false
	}
	i++
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		v.Minor = v.Minor*10 + int(s[i]-'0')
		i++
	}
	return v, true
}
