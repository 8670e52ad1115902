// Package refspec implements the refspec grammar used to map references
// between a local repository and a remote peer: parsing, pattern matching,
// transformation in both directions, and DWIM resolution of shorthand names
// against a peer's advertised reference list.
package refspec

import (
	"fmt"
	"strings"
)

// TagsRefspec matches all tags on the peer and maps them onto the local tag
// namespace. It drives tag auto-following during fetches.
const TagsRefspec = "refs/tags/*:refs/tags/*"

// ParseError is returned when a refspec string does not follow the grammar.
type ParseError struct {
	Refspec string
}

// Error returns the error message.
func (e ParseError) Error() string {
	return fmt.Sprintf("invalid refspec: %q", e.Refspec)
}

// Refspec is a parsed refspec: a pair of reference name patterns with a
// direction and a force flag.
type Refspec struct {
	src   string
	dst   string
	force bool
	push  bool
	raw   string
}

// Parse parses the given refspec string. isFetch determines the direction the
// refspec applies to; the grammar differs slightly between the two, e.g. only
// fetch refspecs may omit the destination.
func Parse(spec string, isFetch bool) (Refspec, error) {
	s := spec
	parsed := Refspec{push: !isFetch, raw: spec}

	if strings.HasPrefix(s, "+") {
		parsed.force = true
		s = s[1:]
	}

	src, dst, hasColon := strings.Cut(s, ":")
	if strings.Contains(dst, ":") {
		return Refspec{}, ParseError{Refspec: spec}
	}

	if !hasColon {
		if isFetch {
			// A fetch refspec without a colon names the source only; nothing
			// gets stored locally except the FETCH_HEAD entry.
			dst = ""
		} else {
			// A push refspec without a colon pushes the source to a reference
			// of the same name.
			dst = src
		}
	}

	if !isFetch && src == "" && dst == "" {
		return Refspec{}, ParseError{Refspec: spec}
	}

	if err := validateSide(src); err != nil {
		return Refspec{}, ParseError{Refspec: spec}
	}
	if err := validateSide(dst); err != nil {
		return Refspec{}, ParseError{Refspec: spec}
	}

	srcWild := strings.Contains(src, "*")
	dstWild := strings.Contains(dst, "*")

	switch {
	case srcWild && dstWild:
	case !srcWild && !dstWild:
	case srcWild && dst == "":
	default:
		return Refspec{}, ParseError{Refspec: spec}
	}

	parsed.src = src
	parsed.dst = dst

	return parsed, nil
}

// validateSide checks one side of a refspec. Empty sides are allowed; the
// caller decides whether that is meaningful for the direction.
func validateSide(side string) error {
	if side == "" {
		return nil
	}

	if strings.Count(side, "*") > 1 {
		return fmt.Errorf("multiple wildcards")
	}

	if strings.Contains(side, "..") ||
		strings.Contains(side, "@{") ||
		strings.Contains(side, "//") ||
		strings.HasPrefix(side, "/") ||
		strings.HasSuffix(side, "/") ||
		strings.HasSuffix(side, ".") ||
		strings.HasSuffix(side, ".lock") {
		return fmt.Errorf("malformed pattern")
	}

	for _, component := range strings.Split(side, "/") {
		if strings.HasPrefix(component, ".") || strings.HasSuffix(component, ".lock") {
			return fmt.Errorf("malformed component")
		}
	}

	for _, c := range side {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("control character")
		}

		switch c {
		case ' ', '~', '^', ':', '?', '[', '\\':
			return fmt.Errorf("forbidden character")
		}
	}

	return nil
}

// Source returns the source pattern of the refspec.
func (r Refspec) Source() string { return r.src }

// Destination returns the destination pattern of the refspec.
func (r Refspec) Destination() string { return r.dst }

// IsForce tells whether the refspec allows non-fast-forward updates.
func (r Refspec) IsForce() bool { return r.force }

// IsPush tells whether the refspec applies to pushes rather than fetches.
func (r Refspec) IsPush() bool { return r.push }

// String returns the refspec as it was given at parse time.
func (r Refspec) String() string { return r.raw }

// IsWildcard tells whether the refspec contains a wildcard pattern.
func (r Refspec) IsWildcard() bool {
	return strings.Contains(r.src, "*") || strings.Contains(r.dst, "*")
}

// SrcMatches checks whether the given reference name matches the source
// pattern.
func (r Refspec) SrcMatches(name string) bool {
	return patternMatches(r.src, name)
}

// DstMatches checks whether the given reference name matches the destination
// pattern.
func (r Refspec) DstMatches(name string) bool {
	return patternMatches(r.dst, name)
}

// Transform maps a reference name matching the source pattern into the
// destination namespace.
func (r Refspec) Transform(name string) (string, error) {
	return substitute(r.src, r.dst, name)
}

// Rtransform maps a reference name matching the destination pattern back into
// the source namespace.
func (r Refspec) Rtransform(name string) (string, error) {
	return substitute(r.dst, r.src, name)
}

// DWIM resolves shorthand names in the refspec against the peer's advertised
// reference names. A source like "main" becomes "refs/heads/main" if the peer
// advertises it; a destination outside the refs namespace is qualified as a
// branch, or with a bare "refs/" prefix if it already starts with "remotes/".
// Wildcard patterns and fully-qualified names are carried through unchanged.
func (r Refspec) DWIM(peerRefs []string) Refspec {
	resolved := r

	if r.src != "" && !strings.HasPrefix(r.src, "refs/") && !strings.Contains(r.src, "*") {
		for _, format := range []string{"refs/%s", "refs/tags/%s", "refs/heads/%s"} {
			candidate := fmt.Sprintf(format, r.src)
			for _, name := range peerRefs {
				if name == candidate {
					resolved.src = candidate
				}
			}
		}
	}

	if r.dst != "" && !strings.HasPrefix(r.dst, "refs/") && !strings.Contains(r.dst, "*") {
		if strings.HasPrefix(r.dst, "remotes/") {
			resolved.dst = "refs/" + r.dst
		} else {
			resolved.dst = "refs/heads/" + r.dst
		}
	}

	return resolved
}

func patternMatches(pattern, name string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == name
	}

	prefix, suffix := pattern[:star], pattern[star+1:]

	return len(name) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(name, prefix) &&
		strings.HasSuffix(name, suffix)
}

// substitute rewrites name from one pattern into the other, carrying over the
// part matched by the wildcard.
func substitute(from, to, name string) (string, error) {
	star := strings.IndexByte(from, '*')
	if star < 0 {
		if from != name {
			return "", fmt.Errorf("refspec source %q does not match %q", from, name)
		}

		return to, nil
	}

	if !patternMatches(from, name) {
		return "", fmt.Errorf("refspec source %q does not match %q", from, name)
	}

	matched := name[star : len(name)-(len(from)-star-1)]

	toStar := strings.IndexByte(to, '*')
	if toStar < 0 {
		return to, nil
	}

	return to[:toStar] + matched + to[toStar+1:], nil
}
