package gitconfig

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// FileStore is a Store persisted as a TOML document. Sections map onto TOML
// tables, subsections onto nested tables and multi-valued keys onto arrays.
// Every mutation is written back to disk before it returns.
type FileStore struct {
	m    sync.Mutex
	path string
	mem  *MemoryStore
}

// NewFileStore opens the configuration file at the given path. A missing file
// is treated as an empty configuration.
func NewFileStore(path string) (*FileStore, error) {
	store := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store, nil
		}

		return nil, fmt.Errorf("read config: %w", err)
	}

	var document map[string]any
	if err := toml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for _, entry := range flatten(document) {
		if err := store.mem.SetMultivar(entry.Key, UnmatchableRegex, entry.Value); err != nil {
			return nil, fmt.Errorf("load config entry %q: %w", entry.Key, err)
		}
	}

	return store, nil
}

// GetString returns the last value of the given key.
func (s *FileStore) GetString(key string) (string, error) {
	return s.mem.GetString(key)
}

// GetBool returns the value of the given key interpreted as a boolean.
func (s *FileStore) GetBool(key string) (bool, error) {
	return s.mem.GetBool(key)
}

// SetString sets the key to a single value and persists the store.
func (s *FileStore) SetString(key, value string) error {
	s.m.Lock()
	defer s.m.Unlock()

	if err := s.mem.SetString(key, value); err != nil {
		return err
	}

	return s.save()
}

// SetMultivar replaces matching values of the key and persists the store.
func (s *FileStore) SetMultivar(key, valueRegex, value string) error {
	s.m.Lock()
	defer s.m.Unlock()

	if err := s.mem.SetMultivar(key, valueRegex, value); err != nil {
		return err
	}

	return s.save()
}

// DeleteEntry removes all values of the key and persists the store.
func (s *FileStore) DeleteEntry(key string) error {
	s.m.Lock()
	defer s.m.Unlock()

	if err := s.mem.DeleteEntry(key); err != nil {
		return err
	}

	return s.save()
}

// RenameSection renames or deletes a section and persists the store.
func (s *FileStore) RenameSection(oldName, newName string) error {
	s.m.Lock()
	defer s.m.Unlock()

	if err := s.mem.RenameSection(oldName, newName); err != nil {
		return err
	}

	return s.save()
}

// ForEachMatch invokes fn for every entry whose key matches keyRegex.
func (s *FileStore) ForEachMatch(keyRegex string, fn func(Entry) error) error {
	return s.mem.ForEachMatch(keyRegex, fn)
}

// MultivarForEach invokes fn for every value of the given key in order.
func (s *FileStore) MultivarForEach(key string, fn func(Entry) error) error {
	return s.mem.MultivarForEach(key, fn)
}

// Snapshot returns a read-only copy of the store's current state.
func (s *FileStore) Snapshot() (Store, error) {
	return s.mem.Snapshot()
}

func (s *FileStore) save() error {
	data, err := toml.Marshal(nest(s.mem.snapshotEntries()))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// flatten converts the nested TOML document into dotted-key entries. The
// document is at most three levels deep: section, optional subsection, name.
func flatten(document map[string]any) []Entry {
	var entries []Entry

	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		keys := make([]string, 0, len(node))
		for key := range node {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}

			switch value := node[key].(type) {
			case map[string]any:
				walk(full, value)
			case []any:
				for _, item := range value {
					entries = append(entries, Entry{Key: full, Value: fmt.Sprint(item)})
				}
			default:
				entries = append(entries, Entry{Key: full, Value: fmt.Sprint(value)})
			}
		}
	}
	walk("", document)

	return entries
}

// nest converts dotted-key entries back into the nested document form.
func nest(entries []Entry) map[string]any {
	document := map[string]any{}

	for _, entry := range entries {
		section, subsection, name := splitKey(entry.Key)

		table := document
		for _, level := range []string{section, subsection} {
			if level == "" {
				continue
			}

			child, ok := table[level].(map[string]any)
			if !ok {
				child = map[string]any{}
				table[level] = child
			}
			table = child
		}

		switch existing := table[name].(type) {
		case nil:
			table[name] = entry.Value
		case []any:
			table[name] = append(existing, entry.Value)
		default:
			table[name] = []any{existing, entry.Value}
		}
	}

	return document
}

// splitKey splits a dotted key into section, optional subsection and name.
// The subsection may itself contain dots, e.g. "url.git@host:.insteadof".
func splitKey(key string) (string, string, string) {
	first := strings.IndexByte(key, '.')
	last := strings.LastIndexByte(key, '.')

	if first < 0 {
		return "", "", key
	}

	if first == last {
		return key[:first], "", key[first+1:]
	}

	return key[:first], key[first+1 : last], key[last+1:]
}
