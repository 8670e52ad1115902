package fetchhead_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/grit-scm/grit/internal/fetchhead"
	"gitlab.com/grit-scm/grit/internal/git"
)

func TestWriter(t *testing.T) {
	t.Parallel()

	gitDir := t.TempDir()
	writer := fetchhead.NewWriter(gitDir)
	path := filepath.Join(gitDir, fetchhead.FileName)

	require.NoError(t, writer.Truncate())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, content)

	oid := git.ObjectID(strings.Repeat("a", 40))

	require.NoError(t, writer.Write([]fetchhead.Entry{
		{ObjectID: oid, IsMerge: true, RefName: "refs/heads/main", RemoteURL: "https://example.org/r.git"},
		{ObjectID: oid, IsMerge: false, RefName: "refs/heads/topic", RemoteURL: "https://example.org/r.git"},
		{ObjectID: oid, IsMerge: false, RefName: "refs/tags/v1", RemoteURL: "https://example.org/r.git"},
	}))

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strings.Join([]string{
		oid.String() + "\t\tbranch 'main' of https://example.org/r.git",
		oid.String() + "\tnot-for-merge\tbranch 'topic' of https://example.org/r.git",
		oid.String() + "\tnot-for-merge\ttag 'v1' of https://example.org/r.git",
	}, "\n")+"\n", string(content))

	// A subsequent write replaces the previous content.
	require.NoError(t, writer.Write([]fetchhead.Entry{
		{ObjectID: oid, IsMerge: true, RefName: "refs/misc/x", RemoteURL: "https://example.org/r.git"},
	}))

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, oid.String()+"\t\t'refs/misc/x' of https://example.org/r.git\n", string(content))

	// Writing no entries leaves the file alone.
	require.NoError(t, writer.Write(nil))

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, content)

	require.NoError(t, writer.Truncate())

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, content)
}
