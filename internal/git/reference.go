package git

import (
	"errors"
	"fmt"
	"strings"
)

// HeadRef is the name of the symbolic reference pointing at the currently
// checked out branch.
const HeadRef = ReferenceName("HEAD")

var (
	// ErrReferenceNotFound represents an error when a reference was not
	// found.
	ErrReferenceNotFound = errors.New("reference not found")
	// ErrReferenceAmbiguous represents an error when a reference couldn't
	// unambiguously be resolved.
	ErrReferenceAmbiguous = errors.New("reference is ambiguous")

	// ErrAlreadyExists represents an error when the resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound represents an error when the resource can't be found.
	ErrNotFound = errors.New("not found")
)

// ReferenceName represents the name of a git reference, e.g.
// "refs/heads/master".
type ReferenceName string

// NewBranchReferenceName returns the fully qualified name of the branch.
func NewBranchReferenceName(branch string) ReferenceName {
	return ReferenceName("refs/heads/" + branch)
}

// NewTagReferenceName returns the fully qualified name of the tag.
func NewTagReferenceName(tag string) ReferenceName {
	return ReferenceName("refs/tags/" + tag)
}

// String returns the string representation of the ReferenceName.
func (r ReferenceName) String() string {
	return string(r)
}

// Branch returns the unqualified branch name and a boolean indicating whether
// the reference is indeed a branch.
func (r ReferenceName) Branch() (string, bool) {
	return strings.CutPrefix(string(r), "refs/heads/")
}

// Reference represents a git reference.
type Reference struct {
	// Name is the name of the reference.
	Name ReferenceName
	// Target is the target of the reference. For direct references it
	// contains the object ID, for symbolic references it contains the name of
	// the reference it points to.
	Target string
	// IsSymbolic tells whether the reference is direct or symbolic.
	IsSymbolic bool
}

// NewReference creates a direct reference to an object.
func NewReference(name ReferenceName, target ObjectID) Reference {
	return Reference{
		Name:       name,
		Target:     target.String(),
		IsSymbolic: false,
	}
}

// NewSymbolicReference creates a symbolic reference to another reference.
func NewSymbolicReference(name ReferenceName, target ReferenceName) Reference {
	return Reference{
		Name:       name,
		Target:     target.String(),
		IsSymbolic: true,
	}
}

// InvalidReferenceNameError is returned when a reference name is invalid.
type InvalidReferenceNameError string

// Error returns the error message.
func (e InvalidReferenceNameError) Error() string {
	return fmt.Sprintf("invalid reference name: %q", string(e))
}

// ValidateReferenceName checks whether the given name is a well-formed
// fully-qualified reference name following the rules of
// git-check-ref-format(1). "HEAD" is accepted as well.
func ValidateReferenceName(name string) error {
	if name == HeadRef.String() {
		return nil
	}

	if !strings.HasPrefix(name, "refs/") || strings.Contains(name, "..") {
		return InvalidReferenceNameError(name)
	}

	for _, component := range strings.Split(name, "/") {
		if component == "" ||
			strings.HasPrefix(component, ".") ||
			strings.HasSuffix(component, ".") ||
			strings.HasSuffix(component, ".lock") {
			return InvalidReferenceNameError(name)
		}
	}

	if strings.HasSuffix(name, "/") || strings.Contains(name, "@{") || name == "@" {
		return InvalidReferenceNameError(name)
	}

	for _, c := range name {
		if c < 0x20 || c == 0x7f {
			return InvalidReferenceNameError(name)
		}

		switch c {
		case ' ', '~', '^', ':', '?', '*', '[', '\\':
			return InvalidReferenceNameError(name)
		}
	}

	return nil
}
