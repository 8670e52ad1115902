package refdb_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/grit-scm/grit/internal/git"
	"gitlab.com/grit-scm/grit/internal/refdb"
)

func oidA() git.ObjectID { return git.ObjectID(strings.Repeat("a", 40)) }
func oidB() git.ObjectID { return git.ObjectID(strings.Repeat("b", 40)) }

// databaseFactories builds each Database implementation under test.
var databaseFactories = []struct {
	desc  string
	build func(t *testing.T) refdb.Database
}{
	{
		desc: "memory",
		build: func(t *testing.T) refdb.Database {
			return refdb.NewMemoryDatabase()
		},
	},
	{
		desc: "badger",
		build: func(t *testing.T) refdb.Database {
			db, err := refdb.OpenBadgerDatabase(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, db.Close()) })
			return db
		},
	},
}

func TestDatabase_createAndLookup(t *testing.T) {
	t.Parallel()

	for _, factory := range databaseFactories {
		factory := factory
		t.Run(factory.desc, func(t *testing.T) {
			t.Parallel()

			db := factory.build(t)

			_, err := db.Lookup("refs/heads/main")
			require.ErrorIs(t, err, git.ErrReferenceNotFound)

			require.NoError(t, db.Create("refs/heads/main", oidA(), false, "created"))

			ref, err := db.Lookup("refs/heads/main")
			require.NoError(t, err)
			require.Equal(t, git.NewReference("refs/heads/main", oidA()), ref)

			// Without force an existing reference must not be overwritten.
			require.ErrorIs(t, db.Create("refs/heads/main", oidB(), false, "clobber"), git.ErrAlreadyExists)

			require.NoError(t, db.Create("refs/heads/main", oidB(), true, "forced"))

			oid, err := db.NameToID("refs/heads/main")
			require.NoError(t, err)
			require.Equal(t, oidB(), oid)
		})
	}
}

func TestDatabase_createMatching(t *testing.T) {
	t.Parallel()

	for _, factory := range databaseFactories {
		factory := factory
		t.Run(factory.desc, func(t *testing.T) {
			t.Parallel()

			db := factory.build(t)

			// A zero expected value requires the reference to be absent.
			require.NoError(t, db.CreateMatching("refs/heads/main", oidA(), git.ObjectHashSHA1.ZeroOID, "created"))

			// The previous observation guards the update.
			require.NoError(t, db.CreateMatching("refs/heads/main", oidB(), oidA(), "updated"))
			require.ErrorIs(t, db.CreateMatching("refs/heads/main", oidA(), oidA(), "stale"), git.ErrAlreadyExists)

			oid, err := db.NameToID("refs/heads/main")
			require.NoError(t, err)
			require.Equal(t, oidB(), oid)
		})
	}
}

func TestDatabase_symbolic(t *testing.T) {
	t.Parallel()

	for _, factory := range databaseFactories {
		factory := factory
		t.Run(factory.desc, func(t *testing.T) {
			t.Parallel()

			db := factory.build(t)

			require.NoError(t, db.Create("refs/heads/main", oidA(), false, ""))
			require.NoError(t, db.CreateSymbolic("HEAD", "refs/heads/main", false, ""))

			ref, err := db.Lookup("HEAD")
			require.NoError(t, err)
			require.True(t, ref.IsSymbolic)
			require.Equal(t, "refs/heads/main", ref.Target)

			resolved, err := db.Resolve("HEAD")
			require.NoError(t, err)
			require.Equal(t, git.NewReference("refs/heads/main", oidA()), resolved)

			// An unborn branch resolves to nothing.
			require.NoError(t, db.SetSymbolicTarget("HEAD", "refs/heads/unborn", ""))
			_, err = db.Resolve("HEAD")
			require.ErrorIs(t, err, git.ErrReferenceNotFound)

			require.Error(t, db.SetSymbolicTarget("refs/heads/main", "refs/heads/other", ""))
		})
	}
}

func TestDatabase_renameAndDelete(t *testing.T) {
	t.Parallel()

	for _, factory := range databaseFactories {
		factory := factory
		t.Run(factory.desc, func(t *testing.T) {
			t.Parallel()

			db := factory.build(t)

			require.NoError(t, db.Create("refs/remotes/old/main", oidA(), false, ""))

			require.NoError(t, db.Rename("refs/remotes/old/main", "refs/remotes/new/main", true, "renamed"))

			_, err := db.Lookup("refs/remotes/old/main")
			require.ErrorIs(t, err, git.ErrReferenceNotFound)

			ref, err := db.Lookup("refs/remotes/new/main")
			require.NoError(t, err)
			require.Equal(t, oidA().String(), ref.Target)

			require.ErrorIs(t, db.Rename("refs/remotes/old/main", "refs/remotes/x/main", true, ""), git.ErrReferenceNotFound)

			require.NoError(t, db.Delete("refs/remotes/new/main"))
			require.ErrorIs(t, db.Delete("refs/remotes/new/main"), git.ErrReferenceNotFound)
		})
	}
}

func TestDatabase_listAndGlob(t *testing.T) {
	t.Parallel()

	for _, factory := range databaseFactories {
		factory := factory
		t.Run(factory.desc, func(t *testing.T) {
			t.Parallel()

			db := factory.build(t)

			require.NoError(t, db.Create("refs/heads/main", oidA(), false, ""))
			require.NoError(t, db.Create("refs/remotes/origin/main", oidA(), false, ""))
			require.NoError(t, db.Create("refs/remotes/origin/feature/x", oidB(), false, ""))
			require.NoError(t, db.Create("refs/remotes/upstream/main", oidB(), false, ""))

			refs, err := db.List()
			require.NoError(t, err)

			var names []string
			for _, ref := range refs {
				names = append(names, ref.Name.String())
			}
			require.Equal(t, []string{
				"refs/heads/main",
				"refs/remotes/origin/feature/x",
				"refs/remotes/origin/main",
				"refs/remotes/upstream/main",
			}, names)

			// The wildcard crosses directory separators.
			var matched []string
			require.NoError(t, db.ForEachGlob("refs/remotes/origin/*", func(ref git.Reference) error {
				matched = append(matched, ref.Name.String())
				return nil
			}))
			require.Equal(t, []string{
				"refs/remotes/origin/feature/x",
				"refs/remotes/origin/main",
			}, matched)
		})
	}
}
