// Package remote implements the remote coordination core of the version
// control client: it resolves and rewrites peer URLs, drives the multi-stage
// fetch and push pipelines over an abstract transport, and reconciles local
// reference storage with the peer's advertisement. Operations can run
// synchronously or cooperatively; in cooperative mode they suspend with
// ErrAgain whenever the network is not ready and are re-entered via Perform.
package remote

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gitlab.com/grit-scm/grit/internal/git/refspec"
	"gitlab.com/grit-scm/grit/internal/gitconfig"
	"gitlab.com/grit-scm/grit/internal/log"
)

// refsRemotesPrefix is the namespace remote-tracking references live under.
const refsRemotesPrefix = "refs/remotes/"

// Remote represents the connection to a peer repository: its URLs, its
// configured refspecs, and, while an operation is in flight, the transport
// and the continuation stack that drives the operation forward.
type Remote struct {
	name    string
	repo    *Repository
	url     string
	pushURL string

	refspecs        []refspec.Refspec
	activeRefspecs  []refspec.Refspec
	passiveRefspecs []refspec.Refspec
	refs            []Head

	downloadTags TagFetchMode
	pruneRefs    bool

	transport        Transport
	connectTransport Transport
	resolvedURL      string
	direction        Direction

	callbacks     Callbacks
	proxy         ProxyOptions
	customHeaders []string

	continuations []continuation
	syncMode      bool
	evdata        *fdEvents

	stats TransferProgress
	push  PushService

	// Per-call scratch, released when the operation finishes.
	passedRefspecs    bool
	requestedRefspecs []string
	reflogMessage     string
	fetchOpts         FetchOptions
	pushOpts          PushOptions

	logger log.Logger
}

func newRemote(repo *Repository) *Remote {
	return &Remote{
		repo:   repo,
		logger: repo.logger(),
	}
}

// DefaultFetchSpec returns the fetch refspec installed for a newly created
// named remote: "+refs/heads/*:refs/remotes/<name>/*".
func DefaultFetchSpec(name string) string {
	return fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", name)
}

// IsValidName tells whether the given string can be used as a remote name. A
// name is valid when it forms a well-formed refspec between the branch and
// remote-tracking namespaces.
func IsValidName(name string) bool {
	if name == "" {
		return false
	}

	_, err := refspec.Parse(fmt.Sprintf("refs/heads/test:refs/remotes/%s/test", name), true)

	return err == nil
}

func ensureNameIsValid(name string) error {
	if !IsValidName(name) {
		return InvalidRemoteNameError{Name: name}
	}

	return nil
}

func ensureDoesNotExist(repo *Repository, name string) error {
	r, err := Lookup(repo, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}

		return err
	}

	_ = r.Close()

	return fmt.Errorf("%w: %q", ErrExists, name)
}

func configKey(name, field string) string {
	return fmt.Sprintf("remote.%s.%s", name, field)
}

// Lookup loads the remote with the given name from the repository's
// configuration. It returns ErrNotFound if no URL is configured under the
// name.
func Lookup(repo *Repository, name string) (*Remote, error) {
	if err := ensureNameIsValid(name); err != nil {
		return nil, err
	}

	cfg, err := repo.Config.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot config: %w", err)
	}

	r := newRemote(repo)
	r.name = name
	r.downloadTags = TagFetchAuto

	found := false

	if url, err := cfg.GetString(configKey(name, "url")); err == nil {
		found = true
		if url != "" {
			if r.url, err = applyInsteadOf(cfg, url, DirectionFetch); err != nil {
				return nil, err
			}
		}
	} else if !errors.Is(err, gitconfig.ErrNotFound) {
		return nil, fmt.Errorf("read remote URL: %w", err)
	}

	if url, err := cfg.GetString(configKey(name, "pushurl")); err == nil {
		found = true
		if url != "" {
			if r.pushURL, err = applyInsteadOf(cfg, url, DirectionPush); err != nil {
				return nil, err
			}
		}
	} else if !errors.Is(err, gitconfig.ErrNotFound) {
		return nil, fmt.Errorf("read remote push URL: %w", err)
	}

	if !found {
		return nil, fmt.Errorf("%w: remote %q does not exist", ErrNotFound, name)
	}

	for _, direction := range []struct {
		field   string
		isFetch bool
	}{
		{field: "fetch", isFetch: true},
		{field: "push", isFetch: false},
	} {
		if err := cfg.MultivarForEach(configKey(name, direction.field), func(entry gitconfig.Entry) error {
			return r.addRefspec(entry.Value, direction.isFetch)
		}); err != nil {
			return nil, err
		}
	}

	if err := r.loadTagOptConfig(cfg); err != nil {
		return nil, err
	}

	if err := r.loadPruneConfig(cfg); err != nil {
		return nil, err
	}

	r.activeRefspecs = dwimRefspecs(r.refspecs, r.refs)

	return r, nil
}

// Create creates a remote with the default fetch refspec and persists it in
// the repository's configuration.
func Create(repo *Repository, name, url string) (*Remote, error) {
	if err := ensureNameIsValid(name); err != nil {
		return nil, err
	}

	// The URL is validated up front so that an empty URL is reported before
	// any existence checks, but it is canonicalized only once, inside
	// CreateWithOptions.
	if _, err := canonicalizeURL(url); err != nil {
		return nil, err
	}

	return CreateWithOptions(url, CreateOptions{Repository: repo, Name: name})
}

// CreateWithFetchSpec creates a remote with a custom fetch refspec instead of
// the default one.
func CreateWithFetchSpec(repo *Repository, name, url, fetch string) (*Remote, error) {
	if err := ensureNameIsValid(name); err != nil {
		return nil, err
	}

	return CreateWithOptions(url, CreateOptions{
		Repository:           repo,
		Name:                 name,
		FetchSpec:            fetch,
		SkipDefaultFetchSpec: true,
	})
}

// CreateAnonymous creates a remote bound to a repository but without a name.
// Anonymous remotes are not persisted and do not download tags.
func CreateAnonymous(repo *Repository, url string) (*Remote, error) {
	return CreateWithOptions(url, CreateOptions{Repository: repo})
}

// CreateDetached creates a remote from a raw URL without any repository
// binding. Detached remotes cannot run operations that persist state.
func CreateDetached(url string) (*Remote, error) {
	return CreateWithOptions(url, CreateOptions{})
}

// CreateWithOptions creates a remote from a URL. Depending on the options the
// remote is bound to a repository, named and persisted.
func CreateWithOptions(url string, opts CreateOptions) (*Remote, error) {
	if opts.Name != "" {
		if err := ensureNameIsValid(opts.Name); err != nil {
			return nil, err
		}

		if opts.Repository != nil {
			if err := ensureDoesNotExist(opts.Repository, opts.Name); err != nil {
				return nil, err
			}
		}
	}

	var cfg gitconfig.Store
	if opts.Repository != nil {
		snapshot, err := opts.Repository.Config.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot config: %w", err)
		}
		cfg = snapshot
	}

	r := newRemote(opts.Repository)
	r.name = opts.Name

	canonical, err := canonicalizeURL(url)
	if err != nil {
		return nil, err
	}

	if cfg != nil && !opts.SkipInsteadOf {
		if r.url, err = applyInsteadOf(cfg, canonical, DirectionFetch); err != nil {
			return nil, err
		}
	} else {
		r.url = canonical
	}

	if opts.Name != "" && opts.Repository != nil {
		if err := opts.Repository.Config.SetString(configKey(opts.Name, "url"), canonical); err != nil {
			return nil, fmt.Errorf("write remote URL: %w", err)
		}
	}

	if opts.FetchSpec != "" || (opts.Name != "" && !opts.SkipDefaultFetchSpec) {
		fetch := opts.FetchSpec
		if fetch == "" {
			fetch = DefaultFetchSpec(opts.Name)
		}

		if err := r.addRefspec(fetch, true); err != nil {
			return nil, err
		}

		// Only persist for named remotes with a repository.
		if opts.Repository != nil && opts.Name != "" {
			if err := writeAddRefspec(opts.Repository, opts.Name, fetch, true); err != nil {
				return nil, err
			}

			if err := r.loadPruneConfig(cfg); err != nil {
				return nil, err
			}
		}

		r.activeRefspecs = dwimRefspecs(r.refspecs, r.refs)
	}

	// A remote without a name doesn't download tags.
	if opts.Name == "" {
		r.downloadTags = TagFetchNone
	} else {
		r.downloadTags = TagFetchAuto
	}

	return r, nil
}

// Dup duplicates the remote's configuration-derived state. Transport state,
// the peer advertisement and any in-flight operation are not copied.
func Dup(source *Remote) (*Remote, error) {
	r := newRemote(source.repo)
	r.name = source.name
	r.url = source.url
	r.pushURL = source.pushURL
	r.downloadTags = source.downloadTags
	r.pruneRefs = source.pruneRefs

	for _, spec := range source.refspecs {
		if err := r.addRefspec(spec.String(), !spec.IsPush()); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (r *Remote) addRefspec(spec string, isFetch bool) error {
	parsed, err := refspec.Parse(spec, isFetch)
	if err != nil {
		return err
	}

	r.refspecs = append(r.refspecs, parsed)

	return nil
}

func (r *Remote) loadTagOptConfig(cfg gitconfig.Store) error {
	value, err := cfg.GetString(configKey(r.name, "tagopt"))
	if err != nil {
		if errors.Is(err, gitconfig.ErrNotFound) {
			return nil
		}

		return fmt.Errorf("read tagopt: %w", err)
	}

	switch value {
	case "--no-tags":
		r.downloadTags = TagFetchNone
	case "--tags":
		r.downloadTags = TagFetchAll
	}

	return nil
}

func (r *Remote) loadPruneConfig(cfg gitconfig.Store) error {
	for _, key := range []string{configKey(r.name, "prune"), "fetch.prune"} {
		value, err := cfg.GetBool(key)
		if err != nil {
			if errors.Is(err, gitconfig.ErrNotFound) {
				continue
			}

			return fmt.Errorf("read prune config: %w", err)
		}

		r.pruneRefs = value

		return nil
	}

	return nil
}

// dwimRefspecs resolves shorthand names in every refspec against the peer's
// advertised references.
func dwimRefspecs(specs []refspec.Refspec, heads []Head) []refspec.Refspec {
	names := make([]string, 0, len(heads))
	for _, head := range heads {
		names = append(names, head.Name)
	}

	out := make([]refspec.Refspec, 0, len(specs))
	for _, spec := range specs {
		out = append(out, spec.DWIM(names))
	}

	return out
}

// Name returns the remote's name, or the empty string for anonymous and
// detached remotes.
func (r *Remote) Name() string {
	return r.name
}

// Owner returns the repository the remote belongs to, or nil for detached
// remotes.
func (r *Remote) Owner() *Repository {
	return r.repo
}

// URL returns the remote's fetch URL.
func (r *Remote) URL() string {
	return r.url
}

// PushURL returns the remote's push URL, or the empty string if pushes use
// the fetch URL.
func (r *Remote) PushURL() string {
	return r.pushURL
}

// RefspecCount returns the number of configured refspecs.
func (r *Remote) RefspecCount() int {
	return len(r.refspecs)
}

// GetRefspec returns the n'th configured refspec.
func (r *Remote) GetRefspec(n int) (refspec.Refspec, bool) {
	if n < 0 || n >= len(r.refspecs) {
		return refspec.Refspec{}, false
	}

	return r.refspecs[n], true
}

// FetchRefspecs returns the configured fetch refspec strings.
func (r *Remote) FetchRefspecs() []string {
	return r.refspecStrings(false)
}

// PushRefspecs returns the configured push refspec strings.
func (r *Remote) PushRefspecs() []string {
	return r.refspecStrings(true)
}

func (r *Remote) refspecStrings(push bool) []string {
	var specs []string
	for _, spec := range r.refspecs {
		if spec.IsPush() != push {
			continue
		}

		specs = append(specs, spec.String())
	}

	return specs
}

// Autotag returns the remote's effective tag download policy.
func (r *Remote) Autotag() TagFetchMode {
	return r.downloadTags
}

// PruneRefsEnabled tells whether pruning is configured for this remote.
func (r *Remote) PruneRefsEnabled() bool {
	return r.pruneRefs
}

// Stats returns a snapshot of the cumulative transfer progress.
func (r *Remote) Stats() TransferProgress {
	return r.stats
}

// RecordTransferProgress lets the fetch engine publish its progress. Each call
// replaces the previously recorded snapshot, which Stats then returns.
func (r *Remote) RecordTransferProgress(progress TransferProgress) {
	r.stats = progress

	if r.repo != nil && r.repo.Metrics != nil {
		r.repo.Metrics.observeTransfer(progress)
	}
}

// MatchingRefspec returns the active fetch refspec whose source pattern
// matches the given reference name.
func (r *Remote) MatchingRefspec(refname string) (refspec.Refspec, bool) {
	for _, spec := range r.activeRefspecs {
		if spec.IsPush() {
			continue
		}

		if spec.SrcMatches(refname) {
			return spec, true
		}
	}

	return refspec.Refspec{}, false
}

// MatchingDstRefspec returns the active fetch refspec whose destination
// pattern matches the given reference name.
func (r *Remote) MatchingDstRefspec(refname string) (refspec.Refspec, bool) {
	for _, spec := range r.activeRefspecs {
		if spec.IsPush() {
			continue
		}

		if spec.DstMatches(refname) {
			return spec, true
		}
	}

	return refspec.Refspec{}, false
}

// Close tears the remote down: it disconnects any active transport and
// releases all per-operation state. The remote must not be used afterwards.
func (r *Remote) Close() error {
	if r.connectTransport != nil {
		_ = r.connectTransport.Close()
		r.connectTransport = nil
	}

	var err error
	if r.transport != nil {
		err = r.transport.Close()
		r.transport = nil
	}

	r.continuations = nil
	r.refs = nil
	r.refspecs = nil
	r.activeRefspecs = nil
	r.passiveRefspecs = nil
	r.push = nil
	r.releaseFetchScratch()

	return err
}

// releaseFetchScratch drops the per-call state a fetch or push accumulates.
func (r *Remote) releaseFetchScratch() {
	r.requestedRefspecs = nil
	r.reflogMessage = ""
}

// SetURL persists a new fetch URL for the named remote. An empty URL deletes
// the configuration entry.
func SetURL(repo *Repository, name, url string) error {
	return setURLConfig(repo, name, "url", url)
}

// SetPushURL persists a new push URL for the named remote. An empty URL
// deletes the configuration entry.
func SetPushURL(repo *Repository, name, url string) error {
	return setURLConfig(repo, name, "pushurl", url)
}

func setURLConfig(repo *Repository, name, field, url string) error {
	if err := ensureNameIsValid(name); err != nil {
		return err
	}

	key := configKey(name, field)

	if url == "" {
		if err := repo.Config.DeleteEntry(key); err != nil && !errors.Is(err, gitconfig.ErrNotFound) {
			return fmt.Errorf("delete %s: %w", key, err)
		}

		return nil
	}

	// Canonicalization validates the URL; the raw value is what gets stored.
	if _, err := canonicalizeURL(url); err != nil {
		return err
	}

	if err := repo.Config.SetString(key, url); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}

	return nil
}

// AddFetch appends a fetch refspec to the named remote's configuration.
func AddFetch(repo *Repository, name, spec string) error {
	return writeAddRefspec(repo, name, spec, true)
}

// AddPush appends a push refspec to the named remote's configuration.
func AddPush(repo *Repository, name, spec string) error {
	return writeAddRefspec(repo, name, spec, false)
}

func writeAddRefspec(repo *Repository, name, spec string, isFetch bool) error {
	if err := ensureNameIsValid(name); err != nil {
		return err
	}

	if _, err := refspec.Parse(spec, isFetch); err != nil {
		return err
	}

	field := "push"
	if isFetch {
		field = "fetch"
	}

	// The unmatchable regex guarantees the refspec is appended as a new
	// value rather than replacing an existing one.
	if err := repo.Config.SetMultivar(configKey(name, field), gitconfig.UnmatchableRegex, spec); err != nil {
		return fmt.Errorf("append refspec: %w", err)
	}

	return nil
}

// SetAutotag persists the tag download policy for the named remote. The
// automatic policy is represented by the absence of the configuration entry.
func SetAutotag(repo *Repository, name string, mode TagFetchMode) error {
	if err := ensureNameIsValid(name); err != nil {
		return err
	}

	key := configKey(name, "tagopt")

	switch mode {
	case TagFetchNone:
		return repo.Config.SetString(key, "--no-tags")
	case TagFetchAll:
		return repo.Config.SetString(key, "--tags")
	case TagFetchAuto, TagFetchUnspecified:
		if err := repo.Config.DeleteEntry(key); err != nil && !errors.Is(err, gitconfig.ErrNotFound) {
			return err
		}

		return nil
	default:
		return fmt.Errorf("invalid value for the tagopt setting: %d", mode)
	}
}

// List returns the names of all remotes configured in the repository, sorted
// and without duplicates.
func List(repo *Repository) ([]string, error) {
	seen := map[string]bool{}
	var names []string

	if err := repo.Config.ForEachMatch(`^remote\..*\.(push)?url$`, func(entry gitconfig.Entry) error {
		name := strings.TrimPrefix(entry.Key, "remote.")
		if trimmed, ok := strings.CutSuffix(name, ".pushurl"); ok {
			name = trimmed
		} else {
			name = strings.TrimSuffix(name, ".url")
		}

		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	sort.Strings(names)

	return names, nil
}
