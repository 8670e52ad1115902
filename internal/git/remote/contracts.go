package remote

import (
	"strings"
	"sync"

	"gitlab.com/grit-scm/grit/internal/fetchhead"
	"gitlab.com/grit-scm/grit/internal/git"
	"gitlab.com/grit-scm/grit/internal/gitconfig"
	"gitlab.com/grit-scm/grit/internal/log"
	"gitlab.com/grit-scm/grit/internal/refdb"
)

// Repository bundles the repository-local services the remote subsystem
// consumes. A Remote constructed without a Repository is detached and cannot
// persist any state.
type Repository struct {
	// Config is the repository's configuration store.
	Config gitconfig.Store
	// Refs is the repository's reference database.
	Refs refdb.Database
	// Objects is the repository's object database.
	Objects ObjectDatabase
	// FetchHead writes the FETCH_HEAD file.
	FetchHead FetchHeadWriter
	// Fetcher performs pack negotiation and download.
	Fetcher FetchService
	// NewPush creates the push engine for an upload.
	NewPush func(*Remote) (PushService, error)
	// Transports resolves URL schemes to transport factories. When nil the
	// process-wide registry applies.
	Transports *Registry
	// Logger receives diagnostics. When nil logging is disabled.
	Logger log.Logger
	// Metrics receives transfer statistics. Optional.
	Metrics *Metrics
}

func (repo *Repository) logger() log.Logger {
	if repo == nil || repo.Logger == nil {
		return log.Discard()
	}

	return repo.Logger
}

// ObjectDatabase is the object storage contract the remote subsystem needs:
// it only ever asks whether an object is present locally.
type ObjectDatabase interface {
	Exists(oid git.ObjectID) bool
}

// FetchHeadWriter persists the FETCH_HEAD entries produced by a fetch.
type FetchHeadWriter interface {
	// Truncate empties FETCH_HEAD before a new fetch writes its entries.
	Truncate() error
	// Write replaces the FETCH_HEAD content with the entries of the refspec
	// that drove the fetch.
	Write(entries []fetchhead.Entry) error
}

// ReadinessSink receives I/O readiness requests from transports and engines.
// Requesting readiness for a file descriptor and then returning ErrAgain is
// how an operation suspends itself.
type ReadinessSink interface {
	SetFDEvents(fd int, events EventSet, timeoutSecs uint) error
}

// ContinuationPusher lets transports and engines install their own resumption
// functions on the remote's continuation stack when they suspend.
type ContinuationPusher interface {
	PushContinuation(fn func(events EventSet) error) error
}

// ConnectRequest carries everything a transport needs to establish a
// connection.
type ConnectRequest struct {
	// URL is the fully resolved URL to connect to.
	URL string
	// Direction tells whether the connection will fetch or push.
	Direction Direction
	// Proxy configures the proxy for the connection.
	Proxy ProxyOptions
	// CustomHeaders are extra protocol headers.
	CustomHeaders []string
	// Callbacks are the caller's hooks; transports use the credential,
	// certificate and sideband hooks.
	Callbacks *Callbacks
	// Readiness is where the transport requests I/O readiness before
	// suspending.
	Readiness ReadinessSink
	// Continuations is where the transport installs its resumption function
	// when Connect returns ErrAgain.
	Continuations ContinuationPusher
}

// Transport moves bytes to and from the peer. Implementations live outside
// this package; they are selected by URL scheme via a Registry or injected
// through the transport hook.
//
// Connect may return ErrAgain to suspend; in that case the transport must
// have installed a continuation that finishes the connection attempt. The
// reference advertisement obtained during the handshake stays available via
// Ls until the transport is closed for good, including after Close.
type Transport interface {
	Connect(req ConnectRequest) error
	Ls() ([]Head, error)
	IsConnected() bool
	// Cancel asks the transport to abort the in-flight operation. It must be
	// callable from a signal handler: implementations typically just set a
	// flag that is observed on the next I/O call.
	Cancel()
	Close() error
}

// TransportFactory creates a transport for the given remote.
type TransportFactory func(r *Remote) (Transport, error)

// FetchService negotiates with the peer and downloads the pack. Both calls
// may suspend with ErrAgain after installing a continuation on the remote.
type FetchService interface {
	// Negotiate determines which objects need to be transferred by telling
	// the peer what the local repository already has.
	Negotiate(r *Remote, opts FetchOptions) error
	// DownloadPack transfers and indexes the negotiated pack. On return the
	// object database contains every object the advertised references need.
	DownloadPack(r *Remote, callbacks *Callbacks) error
}

// PushService computes and uploads the pack for a push and reports the
// per-reference results.
type PushService interface {
	// SetOptions configures the push.
	SetOptions(opts PushOptions) error
	// AddRefspec adds one push refspec.
	AddRefspec(spec string) error
	// Finish negotiates, uploads the pack and waits for the peer's report.
	// May suspend with ErrAgain.
	Finish(callbacks *Callbacks) error
	// UpdateTips reconciles local references with the peer's report.
	UpdateTips(callbacks *Callbacks) error
	// StatusForEach invokes fn with the peer-reported status for every pushed
	// reference. An empty status means success.
	StatusForEach(fn func(refname, status string) error) error
}

// Registry maps URL schemes to transport factories.
type Registry struct {
	m         sync.RWMutex
	factories map[string]TransportFactory
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]TransportFactory{}}
}

// Register installs a factory for the given URL scheme, replacing any
// previous registration.
func (reg *Registry) Register(scheme string, factory TransportFactory) {
	reg.m.Lock()
	defer reg.m.Unlock()

	reg.factories[scheme] = factory
}

// Lookup finds the factory responsible for the given URL.
func (reg *Registry) Lookup(url string) (TransportFactory, error) {
	reg.m.RLock()
	defer reg.m.RUnlock()

	factory, ok := reg.factories[schemeOf(url)]
	if !ok {
		return nil, UnsupportedSchemeError{URL: url}
	}

	return factory, nil
}

// schemeOf determines the transport scheme of a URL. Besides proper
// scheme://… URLs it recognizes scp-like SSH paths ("user@host:path") and
// plain filesystem paths.
func schemeOf(url string) string {
	if scheme, _, ok := strings.Cut(url, "://"); ok && !strings.ContainsAny(scheme, "/@") {
		return strings.ToLower(scheme)
	}

	if at := strings.IndexByte(url, '@'); at >= 0 && strings.IndexByte(url[at:], ':') > 0 && !strings.Contains(url[:at], "/") {
		return "ssh"
	}

	return "file"
}

var defaultRegistry = NewRegistry()

// RegisterTransport installs a transport factory in the process-wide
// registry. Remotes whose repository does not inject its own registry fall
// back to this one.
func RegisterTransport(scheme string, factory TransportFactory) {
	defaultRegistry.Register(scheme, factory)
}
