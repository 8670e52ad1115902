package refdb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"gitlab.com/grit-scm/grit/internal/git"
)

// BadgerDatabase is a reference database persisted in a Badger key-value
// store. Reference names are the keys; symbolic references are stored with
// the same "ref: " encoding the loose-ref file format uses.
type BadgerDatabase struct {
	db *badger.DB
}

// OpenBadgerDatabase opens (or creates) a Badger-backed reference database in
// the given directory.
func OpenBadgerDatabase(dir string) (*BadgerDatabase, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open reference database: %w", err)
	}

	return &BadgerDatabase{db: db}, nil
}

// Close releases the underlying key-value store.
func (db *BadgerDatabase) Close() error {
	return db.db.Close()
}

func (db *BadgerDatabase) get(txn *badger.Txn, name git.ReferenceName) (git.Reference, error) {
	item, err := txn.Get([]byte(name))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return git.Reference{}, git.ErrReferenceNotFound
		}

		return git.Reference{}, fmt.Errorf("get reference: %w", err)
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		return git.Reference{}, fmt.Errorf("read reference: %w", err)
	}

	return decodeReference(name, string(value)), nil
}

func (db *BadgerDatabase) set(txn *badger.Txn, ref git.Reference) error {
	return txn.Set([]byte(ref.Name), []byte(encodeReference(ref)))
}

// Lookup returns the reference with the given name.
func (db *BadgerDatabase) Lookup(name git.ReferenceName) (git.Reference, error) {
	var ref git.Reference
	if err := db.db.View(func(txn *badger.Txn) error {
		var err error
		ref, err = db.get(txn, name)
		return err
	}); err != nil {
		return git.Reference{}, err
	}

	return ref, nil
}

// Resolve follows symbolic references until it reaches a direct reference.
func (db *BadgerDatabase) Resolve(name git.ReferenceName) (git.Reference, error) {
	var ref git.Reference
	if err := db.db.View(func(txn *badger.Txn) error {
		current := name
		for i := 0; i < maxSymbolicDepth; i++ {
			resolved, err := db.get(txn, current)
			if err != nil {
				return err
			}

			if !resolved.IsSymbolic {
				ref = resolved
				return nil
			}

			current = git.ReferenceName(resolved.Target)
		}

		return fmt.Errorf("symbolic reference chain too deep: %q", name)
	}); err != nil {
		return git.Reference{}, err
	}

	return ref, nil
}

// NameToID resolves the reference and returns its object ID.
func (db *BadgerDatabase) NameToID(name git.ReferenceName) (git.ObjectID, error) {
	ref, err := db.Resolve(name)
	if err != nil {
		return "", err
	}

	return git.ObjectID(ref.Target), nil
}

// Create writes a direct reference.
func (db *BadgerDatabase) Create(name git.ReferenceName, target git.ObjectID, force bool, logMessage string) error {
	return db.db.Update(func(txn *badger.Txn) error {
		if _, err := db.get(txn, name); err == nil && !force {
			return git.ErrAlreadyExists
		} else if err != nil && !errors.Is(err, git.ErrReferenceNotFound) {
			return err
		}

		return db.set(txn, git.NewReference(name, target))
	})
}

// CreateMatching writes a direct reference if its current value matches
// expected.
func (db *BadgerDatabase) CreateMatching(name git.ReferenceName, target, expected git.ObjectID, logMessage string) error {
	return db.db.Update(func(txn *badger.Txn) error {
		current, err := db.get(txn, name)
		switch {
		case errors.Is(err, git.ErrReferenceNotFound):
			if !expected.IsZero() && expected != "" {
				return git.ErrAlreadyExists
			}
		case err != nil:
			return err
		case current.Target != expected.String():
			return git.ErrAlreadyExists
		}

		return db.set(txn, git.NewReference(name, target))
	})
}

// CreateSymbolic writes a symbolic reference.
func (db *BadgerDatabase) CreateSymbolic(name, target git.ReferenceName, force bool, logMessage string) error {
	return db.db.Update(func(txn *badger.Txn) error {
		if _, err := db.get(txn, name); err == nil && !force {
			return git.ErrAlreadyExists
		} else if err != nil && !errors.Is(err, git.ErrReferenceNotFound) {
			return err
		}

		return db.set(txn, git.NewSymbolicReference(name, target))
	})
}

// SetSymbolicTarget retargets an existing symbolic reference.
func (db *BadgerDatabase) SetSymbolicTarget(name, target git.ReferenceName, logMessage string) error {
	return db.db.Update(func(txn *badger.Txn) error {
		current, err := db.get(txn, name)
		if err != nil {
			return err
		}
		if !current.IsSymbolic {
			return fmt.Errorf("reference %q is not symbolic", name)
		}

		return db.set(txn, git.NewSymbolicReference(name, target))
	})
}

// Rename moves a reference to a new name.
func (db *BadgerDatabase) Rename(oldName, newName git.ReferenceName, force bool, logMessage string) error {
	return db.db.Update(func(txn *badger.Txn) error {
		ref, err := db.get(txn, oldName)
		if err != nil {
			return err
		}

		if _, err := db.get(txn, newName); err == nil && !force {
			return git.ErrAlreadyExists
		} else if err != nil && !errors.Is(err, git.ErrReferenceNotFound) {
			return err
		}

		if err := txn.Delete([]byte(oldName)); err != nil {
			return fmt.Errorf("delete old name: %w", err)
		}

		ref.Name = newName

		return db.set(txn, ref)
	})
}

// Delete removes the reference.
func (db *BadgerDatabase) Delete(name git.ReferenceName) error {
	return db.db.Update(func(txn *badger.Txn) error {
		if _, err := db.get(txn, name); err != nil {
			return err
		}

		return txn.Delete([]byte(name))
	})
}

// List returns all references sorted by name.
func (db *BadgerDatabase) List() ([]git.Reference, error) {
	var refs []git.Reference

	if err := db.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read reference: %w", err)
			}

			refs = append(refs, decodeReference(git.ReferenceName(item.Key()), string(value)))
		}

		return nil
	}); err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	return refs, nil
}

// ForEachGlob invokes fn for every reference matching the pattern.
func (db *BadgerDatabase) ForEachGlob(pattern string, fn func(git.Reference) error) error {
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
