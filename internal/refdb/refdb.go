// Package refdb defines the reference database contract consumed by the
// remote subsystem, together with a persistent Badger-backed implementation
// and an in-memory implementation for tests.
package refdb

import (
	"regexp"
	"strings"

	"gitlab.com/grit-scm/grit/internal/git"
)

// symbolicPrefix marks a stored value as a symbolic reference, the same way
// the loose-ref file format does.
const symbolicPrefix = "ref: "

// maxSymbolicDepth bounds symbolic reference chains during resolution.
const maxSymbolicDepth = 5

// Database is the reference storage contract.
type Database interface {
	// Lookup returns the reference with the given name without following
	// symbolic references. Returns git.ErrReferenceNotFound if it does not
	// exist.
	Lookup(name git.ReferenceName) (git.Reference, error)
	// Resolve follows symbolic references starting at name until it reaches a
	// direct reference.
	Resolve(name git.ReferenceName) (git.Reference, error)
	// NameToID resolves the reference and returns the object ID it points to.
	NameToID(name git.ReferenceName) (git.ObjectID, error)
	// Create writes a direct reference. Without force, any existing reference
	// causes git.ErrAlreadyExists, whatever its target.
	Create(name git.ReferenceName, target git.ObjectID, force bool, logMessage string) error
	// CreateMatching writes a direct reference only if the current value
	// matches expected. A zero expected object ID means the reference must
	// not exist. On mismatch it returns git.ErrAlreadyExists.
	CreateMatching(name git.ReferenceName, target, expected git.ObjectID, logMessage string) error
	// CreateSymbolic writes a symbolic reference.
	CreateSymbolic(name, target git.ReferenceName, force bool, logMessage string) error
	// SetSymbolicTarget retargets an existing symbolic reference.
	SetSymbolicTarget(name, target git.ReferenceName, logMessage string) error
	// Rename moves a reference to a new name.
	Rename(oldName, newName git.ReferenceName, force bool, logMessage string) error
	// Delete removes the reference. Deleting a missing reference returns
	// git.ErrReferenceNotFound.
	Delete(name git.ReferenceName) error
	// List returns all references sorted by name.
	List() ([]git.Reference, error)
	// ForEachGlob invokes fn for every reference whose name matches the
	// fnmatch-style pattern, in name order. A "*" matches across slashes.
	ForEachGlob(pattern string, fn func(git.Reference) error) error
}

// globToRegexp compiles an fnmatch-style glob into an anchored regular
// expression. Unlike path matching, "*" crosses directory separators, which
// is what reference globs like "refs/remotes/origin/*" expect.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`\A`)

	for _, c := range pattern {
		switch c {
		case '*':
			sb.WriteString(`.*`)
		case '?':
			sb.WriteString(`.`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString(`\z`)

	return regexp.Compile(sb.String())
}

func encodeReference(ref git.Reference) string {
	if ref.IsSymbolic {
		return symbolicPrefix + ref.Target
	}

	return ref.Target
}

func decodeReference(name git.ReferenceName, value string) git.Reference {
	if target, ok := strings.CutPrefix(value, symbolicPrefix); ok {
		return git.NewSymbolicReference(name, git.ReferenceName(target))
	}

	return git.NewReference(name, git.ObjectID(value))
}
