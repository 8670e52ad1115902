package remote_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/grit-scm/grit/internal/git"
	"gitlab.com/grit-scm/grit/internal/git/remote"
	"gitlab.com/grit-scm/grit/internal/gitconfig"
)

func TestRename(t *testing.T) {
	t.Parallel()

	t.Run("migrates config, references and the default refspec", func(t *testing.T) {
		t.Parallel()

		env := setupEnv(t, nil)
		env.configureOrigin(t, "https://example.org/r.git")
		require.NoError(t, env.cfg.SetString("branch.main.remote", "origin"))
		require.NoError(t, env.cfg.SetString("branch.main.merge", "refs/heads/main"))
		require.NoError(t, env.cfg.SetString("branch.other.remote", "elsewhere"))

		require.NoError(t, env.refs.Create("refs/remotes/origin/main", oid('a'), false, ""))
		require.NoError(t, env.refs.CreateSymbolic("refs/remotes/origin/HEAD", "refs/remotes/origin/main", false, ""))

		problems, err := remote.Rename(env.repo, "origin", "upstream")
		require.NoError(t, err)
		require.Empty(t, problems)

		// Configuration moved wholesale.
		url, err := env.cfg.GetString("remote.upstream.url")
		require.NoError(t, err)
		require.Equal(t, "https://example.org/r.git", url)

		_, err = env.cfg.GetString("remote.origin.url")
		require.ErrorIs(t, err, gitconfig.ErrNotFound)

		// The default refspec was rewritten for the new name.
		fetch, err := env.cfg.GetString("remote.upstream.fetch")
		require.NoError(t, err)
		require.Equal(t, remote.DefaultFetchSpec("upstream"), fetch)

		// Branch upstream configuration follows the rename; unrelated
		// branches are untouched.
		branchRemote, err := env.cfg.GetString("branch.main.remote")
		require.NoError(t, err)
		require.Equal(t, "upstream", branchRemote)

		other, err := env.cfg.GetString("branch.other.remote")
		require.NoError(t, err)
		require.Equal(t, "elsewhere", other)

		// References moved, preserving their targets; the symbolic reference
		// got retargeted into the new namespace.
		requireReference(t, env.refs, "refs/remotes/upstream/main", oid('a'))
		requireNoReference(t, env.refs, "refs/remotes/origin/main")

		symref, err := env.refs.Lookup("refs/remotes/upstream/HEAD")
		require.NoError(t, err)
		require.True(t, symref.IsSymbolic)
		require.Equal(t, "refs/remotes/upstream/main", symref.Target)
	})

	t.Run("non-default refspecs become problems", func(t *testing.T) {
		t.Parallel()

		env := setupEnv(t, nil)
		require.NoError(t, env.cfg.SetString("remote.upstream.url", "https://example.org/r.git"))
		require.NoError(t, env.cfg.SetMultivar("remote.upstream.fetch", gitconfig.UnmatchableRegex, "+refs/heads/release/*:refs/remotes/upstream/release/*"))

		require.NoError(t, env.refs.Create("refs/remotes/upstream/release/x", oid('a'), false, ""))

		problems, err := remote.Rename(env.repo, "upstream", "up")
		require.NoError(t, err)
		require.Equal(t, []string{"+refs/heads/release/*:refs/remotes/upstream/release/*"}, problems)

		// The section moved, but the refspec value stays as it was; it is the
		// caller's job to reconcile it.
		fetch, err := env.cfg.GetString("remote.up.fetch")
		require.NoError(t, err)
		require.Equal(t, "+refs/heads/release/*:refs/remotes/upstream/release/*", fetch)

		// No references remain under the old namespace.
		var stale []string
		require.NoError(t, env.refs.ForEachGlob("refs/remotes/upstream/*", func(ref git.Reference) error {
			stale = append(stale, ref.Name.String())
			return nil
		}))
		require.Empty(t, stale)

		requireReference(t, env.refs, "refs/remotes/up/release/x", oid('a'))
	})

	t.Run("validates the new name", func(t *testing.T) {
		t.Parallel()

		env := setupEnv(t, nil)
		env.configureOrigin(t, "https://example.org/r.git")

		_, err := remote.Rename(env.repo, "origin", "in valid")
		require.ErrorAs(t, err, &remote.InvalidRemoteNameError{})

		require.NoError(t, env.cfg.SetString("remote.taken.url", "https://example.org/other.git"))
		_, err = remote.Rename(env.repo, "origin", "taken")
		require.ErrorIs(t, err, remote.ErrExists)

		_, err = remote.Rename(env.repo, "missing", "new")
		require.ErrorIs(t, err, remote.ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, nil)
	env.configureOrigin(t, "https://example.org/r.git")
	require.NoError(t, env.cfg.SetString("branch.main.remote", "origin"))
	require.NoError(t, env.cfg.SetString("branch.main.merge", "refs/heads/main"))
	require.NoError(t, env.cfg.SetString("branch.other.remote", "elsewhere"))
	require.NoError(t, env.cfg.SetString("branch.other.merge", "refs/heads/other"))

	require.NoError(t, env.refs.Create("refs/remotes/origin/main", oid('a'), false, ""))
	require.NoError(t, env.refs.Create("refs/heads/main", oid('b'), false, ""))

	require.NoError(t, remote.Delete(env.repo, "origin"))

	// The section is gone and so is the branch configuration pointing at it.
	_, err := env.cfg.GetString("remote.origin.url")
	require.ErrorIs(t, err, gitconfig.ErrNotFound)

	_, err = env.cfg.GetString("branch.main.remote")
	require.ErrorIs(t, err, gitconfig.ErrNotFound)

	_, err = env.cfg.GetString("branch.main.merge")
	require.ErrorIs(t, err, gitconfig.ErrNotFound)

	// Branches tracking other remotes keep their configuration.
	other, err := env.cfg.GetString("branch.other.remote")
	require.NoError(t, err)
	require.Equal(t, "elsewhere", other)

	// Remote-tracking references are removed, local branches stay.
	requireNoReference(t, env.refs, "refs/remotes/origin/main")
	requireReference(t, env.refs, "refs/heads/main", oid('b'))

	_, err = remote.Lookup(env.repo, "origin")
	require.ErrorIs(t, err, remote.ErrNotFound)
}
