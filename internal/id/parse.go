package id

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/stoneforge/stoneforge/internal/errs"
)

// MaxDepth is the maximum hierarchy depth of a hierarchical id.
const MaxDepth = 3

var (
	rootPattern         = regexp.MustCompile(`^[a-z]{2}-[0-9a-z]{3,8}$`)
	hierarchicalPattern = regexp.MustCompile(`^[a-z]{2}-[0-9a-z]{3,8}(\.[0-9]+){1,3}$`)
)

// Parsed is the decomposed form of an identifier.
type Parsed struct {
	// Prefix is the two-letter tag.
	Prefix string
	// Hash is the base-36 hash portion.
	Hash string
	// Segments holds the child indices, outermost first.
	Segments []int
	// Depth is the number of child segments.
	Depth int
	// IsRoot is true when the id has no child segments.
	IsRoot bool
}

// String reassembles the id.
func (p Parsed) String() string {
	var b strings.Builder
	b.WriteString(p.Prefix)
	b.WriteByte('-')
	b.WriteString(p.Hash)
	for _, seg := range p.Segments {
		b.WriteByte('.')
		b.WriteString(strconv.Itoa(seg))
	}
	return b.String()
}

// IsValid reports whether s is a well-formed root or hierarchical id.
func IsValid(s string) bool {
	return rootPattern.MatchString(s) || hierarchicalPattern.MatchString(s)
}

// Parse decomposes an identifier. Root ids and hierarchical ids are
// recognized by distinct patterns; anything else is a Validation
// error.
func Parse(s string) (Parsed, error) {
	switch {
	case rootPattern.MatchString(s):
		return Parsed{
			Prefix: s[:2],
			Hash:   s[3:],
			IsRoot: true,
		}, nil

	case hierarchicalPattern.MatchString(s):
		head, rest, _ := strings.Cut(s, ".")
		parts := strings.Split(rest, ".")
		segments := make([]int, len(parts))
		for i, part := range parts {
			n, err := strconv.Atoi(part)
			if err != nil || n <= 0 {
				return Parsed{}, errs.New(errs.KindValidation, "invalid child index %q in id %q", part, s)
			}
			segments[i] = n
		}
		return Parsed{
			Prefix:   head[:2],
			Hash:     head[3:],
			Segments: segments,
			Depth:    len(segments),
		}, nil

	default:
		return Parsed{}, errs.New(errs.KindValidation, "malformed id %q", s)
	}
}
