package remote_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gitlab.com/grit-scm/grit/internal/fetchhead"
	"gitlab.com/grit-scm/grit/internal/git"
	"gitlab.com/grit-scm/grit/internal/git/remote"
)

func TestFetch_updatesRemoteTrackingBranches(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{
		{Name: "HEAD", ObjectID: oid('a'), SymrefTarget: "refs/heads/main"},
		{Name: "refs/heads/main", ObjectID: oid('a')},
		{Name: "refs/heads/topic", ObjectID: oid('b')},
	})
	env.configureOrigin(t, "https://example.org/r.git")

	// The local main branch tracks origin/main, so a wildcard fetch marks it
	// for merging.
	require.NoError(t, env.refs.CreateSymbolic("HEAD", "refs/heads/main", false, ""))
	require.NoError(t, env.refs.Create("refs/heads/main", oid('1'), false, ""))
	require.NoError(t, env.cfg.SetString("branch.main.remote", "origin"))
	require.NoError(t, env.cfg.SetString("branch.main.merge", "refs/heads/main"))

	r := env.lookupOrigin(t)

	recorder := &tipRecorder{}
	require.NoError(t, r.Fetch(nil, &remote.FetchOptions{
		Callbacks:       remote.Callbacks{UpdateTips: recorder.callback()},
		UpdateFetchHead: true,
	}, ""))

	requireReference(t, env.refs, "refs/remotes/origin/main", oid('a'))
	requireReference(t, env.refs, "refs/remotes/origin/topic", oid('b'))

	// The peer's HEAD never materializes as a local reference.
	requireNoReference(t, env.refs, "refs/remotes/origin/HEAD")

	require.ElementsMatch(t, []tipUpdate{
		{refname: "refs/remotes/origin/main", old: zero40(), new: oid('a')},
		{refname: "refs/remotes/origin/topic", old: zero40(), new: oid('b')},
	}, recorder.updates)

	require.Equal(t, 1, env.fetchHead.truncations)
	require.Equal(t, []fetchhead.Entry{
		{ObjectID: oid('a'), IsMerge: true, RefName: "refs/heads/main", RemoteURL: "https://example.org/r.git"},
		{ObjectID: oid('b'), IsMerge: false, RefName: "refs/heads/topic", RemoteURL: "https://example.org/r.git"},
	}, env.fetchHead.entries)

	// The remote is idle and disconnected once the fetch completed.
	require.ErrorIs(t, r.Perform(remote.EventRead), remote.ErrIdle)
	require.False(t, r.Connected())

	require.Equal(t, 1, env.fetcher.negotiations)
	require.Equal(t, 1, env.fetcher.downloads)
	require.NotZero(t, r.Stats().ReceivedObjects)
}

func zero40() git.ObjectID {
	return oid('0')
}

func TestFetch_secondFetchIsANoop(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{
		{Name: "refs/heads/main", ObjectID: oid('a')},
		{Name: "refs/heads/topic", ObjectID: oid('b')},
	})
	env.configureOrigin(t, "https://example.org/r.git")

	r := env.lookupOrigin(t)

	require.NoError(t, r.Fetch(nil, nil, ""))

	firstEntries := append([]fetchhead.Entry(nil), env.fetchHead.entries...)

	recorder := &tipRecorder{}
	require.NoError(t, r.Fetch(nil, &remote.FetchOptions{
		Callbacks:       remote.Callbacks{UpdateTips: recorder.callback()},
		UpdateFetchHead: true,
	}, ""))

	// Nothing moved, so no notification fires; FETCH_HEAD is rewritten with
	// equivalent entries.
	require.Empty(t, recorder.updates)
	require.Equal(t, 2, env.fetchHead.truncations)
	require.Equal(t, firstEntries, env.fetchHead.entries)
}

func TestFetch_prune(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{
		{Name: "refs/heads/a", ObjectID: oid('1')},
		{Name: "refs/heads/b", ObjectID: oid('2')},
	})
	env.configureOrigin(t, "https://example.org/r.git")

	require.NoError(t, env.refs.Create("refs/remotes/origin/a", oid('1'), false, ""))
	require.NoError(t, env.refs.Create("refs/remotes/origin/b", oid('2'), false, ""))
	require.NoError(t, env.refs.Create("refs/remotes/origin/c", oid('3'), false, ""))

	r := env.lookupOrigin(t)

	recorder := &tipRecorder{}
	require.NoError(t, r.Fetch(nil, &remote.FetchOptions{
		Callbacks:       remote.Callbacks{UpdateTips: recorder.callback()},
		UpdateFetchHead: true,
		Prune:           remote.Prune,
	}, ""))

	requireReference(t, env.refs, "refs/remotes/origin/a", oid('1'))
	requireReference(t, env.refs, "refs/remotes/origin/b", oid('2'))
	requireNoReference(t, env.refs, "refs/remotes/origin/c")

	require.Equal(t, []tipUpdate{
		{refname: "refs/remotes/origin/c", old: oid('3'), new: zero40()},
	}, recorder.updates)
}

func TestFetch_pruneConfiguredOnRemote(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{
		{Name: "refs/heads/a", ObjectID: oid('1')},
	})
	env.configureOrigin(t, "https://example.org/r.git")
	require.NoError(t, env.cfg.SetString("remote.origin.prune", "true"))

	require.NoError(t, env.refs.Create("refs/remotes/origin/gone", oid('9'), false, ""))

	r := env.lookupOrigin(t)

	// The unspecified prune mode defers to the configuration.
	require.NoError(t, r.Fetch(nil, nil, ""))
	requireNoReference(t, env.refs, "refs/remotes/origin/gone")

	// An explicit no-prune overrides it.
	require.NoError(t, env.refs.Create("refs/remotes/origin/gone", oid('9'), false, ""))
	require.NoError(t, r.Fetch(nil, &remote.FetchOptions{UpdateFetchHead: true, Prune: remote.NoPrune}, ""))
	requireReference(t, env.refs, "refs/remotes/origin/gone", oid('9'))
}

func TestFetch_opportunisticUpdates(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{
		{Name: "refs/heads/main", ObjectID: oid('e')},
		{Name: "refs/heads/topic", ObjectID: oid('f')},
	})
	env.configureOrigin(t, "https://example.org/r.git")

	r := env.lookupOrigin(t)

	recorder := &tipRecorder{}
	require.NoError(t, r.Fetch([]string{"refs/heads/topic"}, &remote.FetchOptions{
		Callbacks:       remote.Callbacks{UpdateTips: recorder.callback()},
		UpdateFetchHead: true,
	}, ""))

	// FETCH_HEAD only contains the requested reference, marked for merge.
	require.Equal(t, []fetchhead.Entry{
		{ObjectID: oid('f'), IsMerge: true, RefName: "refs/heads/topic", RemoteURL: "https://example.org/r.git"},
	}, env.fetchHead.entries)

	// Both remote-tracking branches moved: topic because it was asked for,
	// main opportunistically via the configured refspec.
	requireReference(t, env.refs, "refs/remotes/origin/topic", oid('f'))
	requireReference(t, env.refs, "refs/remotes/origin/main", oid('e'))

	require.ElementsMatch(t, []tipUpdate{
		{refname: "refs/remotes/origin/main", old: zero40(), new: oid('e')},
		{refname: "refs/remotes/origin/topic", old: zero40(), new: oid('f')},
	}, recorder.updates)
}

func TestFetch_noOpportunisticUpdatesWithConfiguredRefspecs(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{
		{Name: "refs/heads/main", ObjectID: oid('e')},
	})
	env.configureOrigin(t, "https://example.org/r.git")

	r := env.lookupOrigin(t)

	recorder := &tipRecorder{}
	require.NoError(t, r.Fetch(nil, &remote.FetchOptions{
		Callbacks:       remote.Callbacks{UpdateTips: recorder.callback()},
		UpdateFetchHead: true,
	}, ""))

	// Exactly one notification: the regular update. The passive pass does
	// not run for a fetch over the configured refspecs.
	require.Equal(t, []tipUpdate{
		{refname: "refs/remotes/origin/main", old: zero40(), new: oid('e')},
	}, recorder.updates)
}

func TestFetch_tagPolicies(t *testing.T) {
	t.Parallel()

	newTagEnv := func(t *testing.T) *testEnv {
		env := setupEnv(t, []remote.Head{
			{Name: "refs/heads/main", ObjectID: oid('a')},
			{Name: "refs/tags/v1", ObjectID: oid('b')},
			{Name: "refs/tags/v2", ObjectID: oid('c')},
			{Name: "refs/tags/v2^{}", ObjectID: oid('d')},
		})
		env.configureOrigin(t, "https://example.org/r.git")
		// v1's object never arrives in the local object database.
		env.fetcher.withhold[oid('b')] = true
		return env
	}

	t.Run("auto follows tags whose objects arrived", func(t *testing.T) {
		t.Parallel()

		env := newTagEnv(t)
		r := env.lookupOrigin(t)

		require.NoError(t, r.Fetch(nil, &remote.FetchOptions{UpdateFetchHead: true}, ""))

		requireReference(t, env.refs, "refs/tags/v2", oid('c'))
		requireNoReference(t, env.refs, "refs/tags/v1")

		// The missing tag still shows up in FETCH_HEAD; the peeled entry
		// never does.
		require.ElementsMatch(t, []string{
			"refs/heads/main",
			"refs/tags/v1",
			"refs/tags/v2",
		}, env.fetchHead.names())
	})

	t.Run("auto never overwrites an existing local tag", func(t *testing.T) {
		t.Parallel()

		env := newTagEnv(t)
		require.NoError(t, env.refs.Create("refs/tags/v2", oid('9'), false, ""))

		r := env.lookupOrigin(t)

		recorder := &tipRecorder{}
		require.NoError(t, r.Fetch(nil, &remote.FetchOptions{
			Callbacks:       remote.Callbacks{UpdateTips: recorder.callback()},
			UpdateFetchHead: true,
		}, ""))

		requireReference(t, env.refs, "refs/tags/v2", oid('9'))

		for _, update := range recorder.updates {
			require.NotEqual(t, "refs/tags/v2", update.refname)
		}
	})

	t.Run("none ignores tags", func(t *testing.T) {
		t.Parallel()

		env := newTagEnv(t)
		r := env.lookupOrigin(t)

		require.NoError(t, r.Fetch(nil, &remote.FetchOptions{
			UpdateFetchHead: true,
			DownloadTags:    remote.TagFetchNone,
		}, ""))

		requireNoReference(t, env.refs, "refs/tags/v1")
		requireNoReference(t, env.refs, "refs/tags/v2")
		require.Equal(t, []string{"refs/heads/main"}, env.fetchHead.names())
	})

	t.Run("all follows every tag unconditionally", func(t *testing.T) {
		t.Parallel()

		env := newTagEnv(t)
		r := env.lookupOrigin(t)

		require.NoError(t, r.Fetch(nil, &remote.FetchOptions{
			UpdateFetchHead: true,
			DownloadTags:    remote.TagFetchAll,
		}, ""))

		requireReference(t, env.refs, "refs/tags/v1", oid('b'))
		requireReference(t, env.refs, "refs/tags/v2", oid('c'))
	})

	t.Run("configured tagopt applies when unspecified", func(t *testing.T) {
		t.Parallel()

		env := newTagEnv(t)
		require.NoError(t, env.cfg.SetString("remote.origin.tagopt", "--no-tags"))

		r := env.lookupOrigin(t)

		require.NoError(t, r.Fetch(nil, &remote.FetchOptions{UpdateFetchHead: true}, ""))

		requireNoReference(t, env.refs, "refs/tags/v2")
	})
}

func TestFetch_detachedRemote(t *testing.T) {
	t.Parallel()

	r, err := remote.CreateDetached("https://example.org/r.git")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	require.ErrorAs(t, r.Fetch(nil, nil, ""), &remote.DetachedOperationError{})
	require.ErrorAs(t, r.Download(nil, nil), &remote.DetachedOperationError{})
}

func TestFetch_transportFailure(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, nil)
	env.configureOrigin(t, "https://example.org/r.git")

	failing := &failingTransport{err: assertedErr{}}
	env.repo.Transports = remote.NewRegistry()
	env.repo.Transports.Register("https", func(*remote.Remote) (remote.Transport, error) {
		return failing, nil
	})

	r := env.lookupOrigin(t)

	require.ErrorIs(t, r.Fetch(nil, nil, ""), assertedErr{})

	// A terminal failure leaves the remote idle and usable for a fresh
	// attempt.
	require.ErrorIs(t, r.Perform(remote.EventRead), remote.ErrIdle)
	require.False(t, r.Connected())
	require.Equal(t, 1, failing.closes)
}

type assertedErr struct{}

func (assertedErr) Error() string { return "scripted failure" }

func TestStop_cancelsTransport(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{{Name: "refs/heads/main", ObjectID: oid('a')}})
	env.configureOrigin(t, "https://example.org/r.git")

	r := env.lookupOrigin(t)

	require.NoError(t, r.Connect(remote.DirectionFetch, nil, nil, nil))
	require.NoError(t, r.Stop())
	require.True(t, env.transport.cancelled)
}

func TestConnect_reconnectCycle(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, []remote.Head{{Name: "refs/heads/main", ObjectID: oid('a')}})
	env.configureOrigin(t, "https://example.org/r.git")

	r := env.lookupOrigin(t)

	require.NoError(t, r.Connect(remote.DirectionFetch, nil, nil, nil))
	require.True(t, r.Connected())

	require.NoError(t, r.Disconnect())
	require.False(t, r.Connected())

	// The advertisement survives the disconnect.
	heads, err := r.Ls()
	require.NoError(t, err)
	require.Len(t, heads, 1)

	require.NoError(t, r.Connect(remote.DirectionFetch, nil, nil, nil))
	require.True(t, r.Connected())
	require.Equal(t, 2, env.transport.connects)
}

func TestLs_requiresConnection(t *testing.T) {
	t.Parallel()

	env := setupEnv(t, nil)
	env.configureOrigin(t, "https://example.org/r.git")

	r := env.lookupOrigin(t)

	_, err := r.Ls()
	require.ErrorIs(t, err, remote.ErrNotConnected)
}

func TestDefaultBranch(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		desc        string
		heads       []remote.Head
		expected    string
		expectedErr bool
	}{
		{
			desc: "symref target wins",
			heads: []remote.Head{
				{Name: "HEAD", ObjectID: oid('a'), SymrefTarget: "refs/heads/trunk"},
				{Name: "refs/heads/main", ObjectID: oid('a')},
				{Name: "refs/heads/trunk", ObjectID: oid('a')},
			},
			expected: "refs/heads/trunk",
		},
		{
			desc: "first matching branch is guessed",
			heads: []remote.Head{
				{Name: "HEAD", ObjectID: oid('a')},
				{Name: "refs/heads/devel", ObjectID: oid('a')},
				{Name: "refs/heads/other", ObjectID: oid('b')},
			},
			expected: "refs/heads/devel",
		},
		{
			desc: "master is preferred among candidates",
			heads: []remote.Head{
				{Name: "HEAD", ObjectID: oid('a')},
				{Name: "refs/heads/devel", ObjectID: oid('a')},
				{Name: "refs/heads/master", ObjectID: oid('a')},
			},
			expected: "refs/heads/master",
		},
		{
			desc: "no candidate",
			heads: []remote.Head{
				{Name: "HEAD", ObjectID: oid('a')},
				{Name: "refs/heads/other", ObjectID: oid('b')},
			},
			expectedErr: true,
		},
		{
			desc:        "empty advertisement",
			heads:       []remote.Head{},
			expectedErr: true,
		},
		{
			desc: "advertisement without HEAD",
			heads: []remote.Head{
				{Name: "refs/heads/main", ObjectID: oid('a')},
			},
			expectedErr: true,
		},
	} {
		tc := tc
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()

			env := setupEnv(t, tc.heads)
			env.configureOrigin(t, "https://example.org/r.git")

			r := env.lookupOrigin(t)
			require.NoError(t, r.Connect(remote.DirectionFetch, nil, nil, nil))

			branch, err := r.DefaultBranch()
			if tc.expectedErr {
				require.ErrorIs(t, err, git.ErrNotFound)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expected, branch)
		})
	}
}
