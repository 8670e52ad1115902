package refdb

import (
	"fmt"
	"sort"
	"sync"

	"gitlab.com/grit-scm/grit/internal/git"
)

// MemoryDatabase is an in-memory reference database.
type MemoryDatabase struct {
	m    sync.Mutex
	refs map[git.ReferenceName]string
}

// NewMemoryDatabase creates an empty in-memory reference database.
func NewMemoryDatabase() *MemoryDatabase {
	return &MemoryDatabase{refs: map[git.ReferenceName]string{}}
}

// Lookup returns the reference with the given name.
func (db *MemoryDatabase) Lookup(name git.ReferenceName) (git.Reference, error) {
	db.m.Lock()
	defer db.m.Unlock()

	return db.lookup(name)
}

func (db *MemoryDatabase) lookup(name git.ReferenceName) (git.Reference, error) {
	value, ok := db.refs[name]
	if !ok {
		return git.Reference{}, git.ErrReferenceNotFound
	}

	return decodeReference(name, value), nil
}

// Resolve follows symbolic references until it reaches a direct reference.
func (db *MemoryDatabase) Resolve(name git.ReferenceName) (git.Reference, error) {
	db.m.Lock()
	defer db.m.Unlock()

	return db.resolve(name)
}

func (db *MemoryDatabase) resolve(name git.ReferenceName) (git.Reference, error) {
	for i := 0; i < maxSymbolicDepth; i++ {
		ref, err := db.lookup(name)
		if err != nil {
			return git.Reference{}, err
		}

		if !ref.IsSymbolic {
			return ref, nil
		}

		name = git.ReferenceName(ref.Target)
	}

	return git.Reference{}, fmt.Errorf("symbolic reference chain too deep: %q", name)
}

// NameToID resolves the reference and returns its object ID.
func (db *MemoryDatabase) NameToID(name git.ReferenceName) (git.ObjectID, error) {
	ref, err := db.Resolve(name)
	if err != nil {
		return "", err
	}

	return git.ObjectID(ref.Target), nil
}

// Create writes a direct reference.
func (db *MemoryDatabase) Create(name git.ReferenceName, target git.ObjectID, force bool, logMessage string) error {
	db.m.Lock()
	defer db.m.Unlock()

	if _, ok := db.refs[name]; ok && !force {
		return git.ErrAlreadyExists
	}

	db.refs[name] = encodeReference(git.NewReference(name, target))

	return nil
}

// CreateMatching writes a direct reference if its current value matches
// expected.
func (db *MemoryDatabase) CreateMatching(name git.ReferenceName, target, expected git.ObjectID, logMessage string) error {
	db.m.Lock()
	defer db.m.Unlock()

	value, ok := db.refs[name]
	switch {
	case !ok:
		if !expected.IsZero() && expected != "" {
			return git.ErrAlreadyExists
		}
	case value != expected.String():
		return git.ErrAlreadyExists
	}

	db.refs[name] = encodeReference(git.NewReference(name, target))

	return nil
}

// CreateSymbolic writes a symbolic reference.
func (db *MemoryDatabase) CreateSymbolic(name, target git.ReferenceName, force bool, logMessage string) error {
	db.m.Lock()
	defer db.m.Unlock()

	if _, ok := db.refs[name]; ok && !force {
		return git.ErrAlreadyExists
	}

	db.refs[name] = encodeReference(git.NewSymbolicReference(name, target))

	return nil
}

// SetSymbolicTarget retargets an existing symbolic reference.
func (db *MemoryDatabase) SetSymbolicTarget(name, target git.ReferenceName, logMessage string) error {
	db.m.Lock()
	defer db.m.Unlock()

	ref, err := db.lookup(name)
	if err != nil {
		return err
	}
	if !ref.IsSymbolic {
		return fmt.Errorf("reference %q is not symbolic", name)
	}

	db.refs[name] = encodeReference(git.NewSymbolicReference(name, target))

	return nil
}

// Rename moves a reference to a new name.
func (db *MemoryDatabase) Rename(oldName, newName git.ReferenceName, force bool, logMessage string) error {
	db.m.Lock()
	defer db.m.Unlock()

	value, ok := db.refs[oldName]
	if !ok {
		return git.ErrReferenceNotFound
	}

	if _, ok := db.refs[newName]; ok && !force {
		return git.ErrAlreadyExists
	}

	delete(db.refs, oldName)
	db.refs[newName] = value

	return nil
}

// Delete removes the reference.
func (db *MemoryDatabase) Delete(name git.ReferenceName) error {
	db.m.Lock()
	defer db.m.Unlock()

	if _, ok := db.refs[name]; !ok {
		return git.ErrReferenceNotFound
	}

	delete(db.refs, name)

	return nil
}

// List returns all references sorted by name.
func (db *MemoryDatabase) List() ([]git.Reference, error) {
	db.m.Lock()
	defer db.m.Unlock()

	refs := make([]git.Reference, 0, len(db.refs))
	for name, value := range db.refs {
		refs = append(refs, decodeReference(name, value))
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	return refs, nil
}

// ForEachGlob invokes fn for every reference matching the pattern.
func (db *MemoryDatabase) ForEachGlob(pattern string, fn func(git.Reference) error) error {
	re, err := globToRegexp(pattern)
	if err != nil {
		return err
	}

	refs, err := db.List()
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if !re.MatchString(ref.Name.String()) {
			continue
		}

		if err := fn(ref); err != nil {
			return err
		}
	}

	return nil
}
