// Package fetchhead writes the FETCH_HEAD file enumerating the references
// produced by the last fetch, marking the ones intended for a subsequent
// merge.
package fetchhead

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/grit-scm/grit/internal/git"
)

// FileName is the name of the file inside the repository's git directory.
const FileName = "FETCH_HEAD"

// Entry is one line of FETCH_HEAD.
type Entry struct {
	// ObjectID is the object the fetched reference pointed at.
	ObjectID git.ObjectID
	// IsMerge marks the entry as intended for merging.
	IsMerge bool
	// RefName is the name of the reference on the peer.
	RefName string
	// RemoteURL is the URL the reference was fetched from.
	RemoteURL string
}

// Writer writes FETCH_HEAD entries to the file in the given git directory,
// replacing its previous content.
type Writer struct {
	path string
}

// NewWriter creates a writer for the FETCH_HEAD file in gitDir.
func NewWriter(gitDir string) *Writer {
	return &Writer{path: filepath.Join(gitDir, FileName)}
}

// Truncate empties the FETCH_HEAD file, creating it if necessary.
func (w *Writer) Truncate() error {
	if err := os.WriteFile(w.path, nil, 0o644); err != nil {
		return fmt.Errorf("truncate %s: %w", FileName, err)
	}

	return nil
}

// Write replaces the FETCH_HEAD content with the given entries.
func (w *Writer) Write(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(entry.ObjectID.String())
		sb.WriteByte('\t')
		if !entry.IsMerge {
			sb.WriteString("not-for-merge")
		}
		sb.WriteByte('\t')
		sb.WriteString(describe(entry.RefName))
		sb.WriteString(" of ")
		sb.WriteString(entry.RemoteURL)
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(w.path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", FileName, err)
	}

	return nil
}

// describe renders the peer reference name the way git-fetch(1) does.
func describe(refName string) string {
	if branch, ok := strings.CutPrefix(refName, "refs/heads/"); ok {
		return fmt.Sprintf("branch '%s'", branch)
	}

	if tag, ok := strings.CutPrefix(refName, "refs/tags/"); ok {
		return fmt.Sprintf("tag '%s'", tag)
	}

	return fmt.Sprintf("'%s'", refName)
}
