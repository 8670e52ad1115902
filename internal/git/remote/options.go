package remote

import (
	"gitlab.com/grit-scm/grit/internal/git"
)

// Direction tells whether a connection is used for fetching or for pushing.
type Direction int

const (
	// DirectionFetch is a connection used to fetch from the peer.
	DirectionFetch = Direction(iota)
	// DirectionPush is a connection used to push to the peer.
	DirectionPush
)

// String returns the lowercase name of the direction.
func (d Direction) String() string {
	if d == DirectionPush {
		return "push"
	}

	return "fetch"
}

// TagFetchMode controls which tags are downloaded alongside a fetch.
type TagFetchMode int

const (
	// TagFetchUnspecified defers to the remote's configured policy.
	TagFetchUnspecified = TagFetchMode(iota)
	// TagFetchAuto follows tags pointing at objects that are downloaded
	// anyway.
	TagFetchAuto
	// TagFetchNone ignores all tags.
	TagFetchNone
	// TagFetchAll fetches every tag the peer advertises.
	TagFetchAll
)

// PruneMode controls whether stale remote-tracking references get removed
// after a fetch.
type PruneMode int

const (
	// PruneUnspecified defers to the remote's configured prune setting.
	PruneUnspecified = PruneMode(iota)
	// Prune removes stale remote-tracking references.
	Prune
	// NoPrune keeps stale remote-tracking references.
	NoPrune
)

// ProxyType selects how the proxy for a connection is determined.
type ProxyType int

const (
	// ProxyNone disables the use of a proxy.
	ProxyNone = ProxyType(iota)
	// ProxyAuto detects the proxy from the configuration and environment.
	ProxyAuto
	// ProxySpecified uses the URL given in the proxy options.
	ProxySpecified
)

// ProxyOptions configures the proxy used by a connection.
type ProxyOptions struct {
	// Type selects the proxy behavior.
	Type ProxyType
	// URL is the proxy URL when Type is ProxySpecified.
	URL string
}

// CreateOptions configures CreateWithOptions.
type CreateOptions struct {
	// Repository is the repository the remote belongs to. May be nil for a
	// detached remote.
	Repository *Repository
	// Name is the name of the remote. May be empty for an anonymous remote;
	// anonymous remotes cannot be persisted.
	Name string
	// FetchSpec is a fetch refspec to install instead of the default one.
	FetchSpec string
	// SkipInsteadOf disables application of url.*.insteadof rewrite rules.
	SkipInsteadOf bool
	// SkipDefaultFetchSpec suppresses installation of the default fetch
	// refspec for named remotes.
	SkipDefaultFetchSpec bool
}

// FetchOptions configures a fetch.
type FetchOptions struct {
	// Callbacks are the hooks invoked over the course of the fetch.
	Callbacks Callbacks
	// Prune controls removal of stale remote-tracking references.
	Prune PruneMode
	// UpdateFetchHead controls whether FETCH_HEAD is written.
	UpdateFetchHead bool
	// DownloadTags controls tag auto-following.
	DownloadTags TagFetchMode
	// Proxy configures the proxy for the connection.
	Proxy ProxyOptions
	// CustomHeaders are extra headers handed to the transport.
	CustomHeaders []string
}

// DefaultFetchOptions returns the fetch options used when the caller passes
// none.
func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		UpdateFetchHead: true,
	}
}

// PushOptions configures a push.
type PushOptions struct {
	// Callbacks are the hooks invoked over the course of the push.
	Callbacks Callbacks
	// PackbuilderParallelism is the number of worker threads the pack builder
	// may use. Zero lets the pack builder decide.
	PackbuilderParallelism uint
	// Proxy configures the proxy for the connection.
	Proxy ProxyOptions
	// CustomHeaders are extra headers handed to the transport.
	CustomHeaders []string
}

// Head is a reference as advertised by the peer.
type Head struct {
	// Name is the fully qualified reference name.
	Name string
	// ObjectID is the object the reference points at.
	ObjectID git.ObjectID
	// SymrefTarget is the target reference name if the peer advertised the
	// reference as symbolic, e.g. HEAD pointing at its default branch.
	SymrefTarget string
}

// TransferProgress is a snapshot of the pack transfer and indexing progress.
type TransferProgress struct {
	// TotalObjects is the number of objects in the pack being downloaded.
	TotalObjects uint
	// IndexedObjects is the number of objects that have been indexed so far.
	IndexedObjects uint
	// ReceivedObjects is the number of objects downloaded so far.
	ReceivedObjects uint
	// LocalObjects is the number of objects that were already present.
	LocalObjects uint
	// TotalDeltas is the number of deltas in the pack.
	TotalDeltas uint
	// IndexedDeltas is the number of deltas resolved so far.
	IndexedDeltas uint
	// ReceivedBytes is the number of bytes downloaded so far.
	ReceivedBytes uint64
}

// CredentialType is a bitmask of credential kinds a transport accepts.
type CredentialType uint

const (
	// CredentialTypeUserPassPlaintext is a plain username/password pair.
	CredentialTypeUserPassPlaintext = CredentialType(1 << iota)
	// CredentialTypeSSHKey is an SSH key pair.
	CredentialTypeSSHKey
	// CredentialTypeDefault requests the transport's default mechanism, e.g.
	// negotiated authentication.
	CredentialTypeDefault
)

// Credential is an authentication token produced by the credentials hook.
type Credential struct {
	// Type is the kind of credential.
	Type CredentialType
	// Username is the user to authenticate as.
	Username string
	// Password is the secret for plaintext credentials.
	Password string
	// PrivateKeyPath is the private key location for SSH key credentials.
	PrivateKeyPath string
}

// Certificate describes the certificate presented by the peer, handed to the
// certificate check hook.
type Certificate struct {
	// Hostname is the host the certificate was presented for.
	Hostname string
	// Raw is the certificate in its wire encoding.
	Raw []byte
}

// Callbacks is the set of hooks a caller may supply to observe and steer an
// operation. Every hook is optional. Hooks that can override a decision
// return ErrPassthrough to keep the default behavior.
type Callbacks struct {
	// Credentials is invoked by transports when the peer requires
	// authentication.
	Credentials func(url, usernameFromURL string, allowedTypes CredentialType) (Credential, error)
	// CertificateCheck is invoked to accept or reject the peer's certificate.
	// A nil error accepts, ErrPassthrough applies the transport's own
	// validity decision.
	CertificateCheck func(cert Certificate, valid bool, host string) error
	// SidebandProgress receives progress text forwarded from the peer.
	SidebandProgress func(text string)
	// Transport overrides the transport used for a connection.
	Transport TransportFactory
	// ResolveURL is the final chance to rewrite the URL before the transport
	// connects. Returning ErrPassthrough keeps the URL unchanged.
	ResolveURL func(url string, direction Direction) (string, error)
	// UpdateTips is invoked for every observed reference change, including
	// deletions, which report a zero new object ID.
	UpdateTips func(refname string, oldOID, newOID git.ObjectID) error
	// PushUpdateReference is invoked with the peer-reported status of every
	// reference after a push. An empty status means the update succeeded.
	PushUpdateReference func(refname, status string) error
	// SetFDEvents is the cooperative I/O hook. When left nil the operation
	// runs synchronously: a built-in driver waits for readiness itself.
	SetFDEvents func(fd int, events EventSet, timeoutSecs uint) error
}
