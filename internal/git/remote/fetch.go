package remote

import (
	"errors"
	"fmt"
	"slices"

	"gitlab.com/grit-scm/grit/internal/git/refspec"
)

// Download connects for fetching if necessary, snapshots the peer's
// advertisement, rebuilds the active refspecs and delegates negotiation and
// pack download to the fetch engine. On return the object database contains
// every object the advertisement needs. May return ErrAgain in cooperative
// mode.
func (r *Remote) Download(refspecs []string, opts *FetchOptions) error {
	if err := r.checkBusy(); err != nil {
		return err
	}

	if r.repo == nil {
		return DetachedOperationError{Operation: "download"}
	}

	if opts != nil {
		if opts != &r.fetchOpts {
			r.fetchOpts = *opts
		}
	} else {
		r.fetchOpts = DefaultFetchOptions()
	}

	r.requestedRefspecs = slices.Clone(refspecs)

	if r.Connected() {
		r.initCallbacks(&r.fetchOpts.Callbacks)
		return r.performAll(r.downloadConnected)
	}

	if err := r.Connect(DirectionFetch, &r.fetchOpts.Callbacks, &r.fetchOpts.Proxy, r.fetchOpts.CustomHeaders); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.downloadPerformConnect); pushErr != nil {
				return pushErr
			}

			return ErrAgain
		}

		return err
	}

	return r.performAll(r.downloadConnected)
}

func (r *Remote) downloadPerformConnect(events EventSet) error {
	if err := r.rearm(events, r.downloadPerformConnect); err != nil {
		return err
	}

	return r.performAll(r.downloadConnected)
}

// downloadConnected runs once the connection is up: it snapshots the peer's
// references, activates the refspecs and starts negotiation.
func (r *Remote) downloadConnected() error {
	heads, err := r.Ls()
	if err != nil {
		return err
	}
	r.refs = heads

	// A fetch invalidates any previous push's bookkeeping.
	r.push = nil

	if err := r.activateRefspecs(); err != nil {
		return err
	}

	if err := r.repo.Fetcher.Negotiate(r, r.fetchOpts); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.downloadPerformNegotiate); pushErr != nil {
				return pushErr
			}

			return ErrAgain
		}

		return err
	}

	return r.downloadNegotiated()
}

func (r *Remote) downloadPerformNegotiate(events EventSet) error {
	if err := r.rearm(events, r.downloadPerformNegotiate); err != nil {
		return err
	}

	return r.downloadNegotiated()
}

func (r *Remote) downloadNegotiated() error {
	return r.repo.Fetcher.DownloadPack(r, &r.callbacks)
}

// activateRefspecs rebuilds the active and passive refspec lists against the
// current peer advertisement. The active list is the caller-supplied refspecs
// when the current call passed any, the configured ones otherwise; the
// passive list always reflects the configured refspecs.
func (r *Remote) activateRefspecs() error {
	r.passedRefspecs = false

	toActive := r.refspecs
	if len(r.requestedRefspecs) > 0 {
		specs := make([]refspec.Refspec, 0, len(r.requestedRefspecs))
		for _, raw := range r.requestedRefspecs {
			spec, err := refspec.Parse(raw, true)
			if err != nil {
				return err
			}

			specs = append(specs, spec)
		}

		toActive = specs
		r.passedRefspecs = true
	}

	r.passiveRefspecs = dwimRefspecs(r.refspecs, r.refs)
	r.activeRefspecs = dwimRefspecs(toActive, r.refs)

	return nil
}

// Fetch downloads new data from the peer and reconciles local reference
// storage with its advertisement: connect, negotiate, download, disconnect,
// update tips, prune. May return ErrAgain in cooperative mode; the terminal
// outcome then surfaces through Perform.
func (r *Remote) Fetch(refspecs []string, opts *FetchOptions, reflogMessage string) error {
	if err := r.checkBusy(); err != nil {
		return err
	}

	if r.repo == nil {
		return DetachedOperationError{Operation: "fetch"}
	}

	if opts != nil {
		r.fetchOpts = *opts
	} else {
		r.fetchOpts = DefaultFetchOptions()
	}

	r.requestedRefspecs = slices.Clone(refspecs)

	if reflogMessage != "" {
		r.reflogMessage = reflogMessage
	} else {
		target := r.name
		if target == "" {
			target = r.url
		}
		r.reflogMessage = fmt.Sprintf("fetch %s", target)
	}

	if err := r.Connect(DirectionFetch, &r.fetchOpts.Callbacks, &r.fetchOpts.Proxy, r.fetchOpts.CustomHeaders); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.fetchPerformConnect); pushErr != nil {
				return r.fetchCleanup(pushErr)
			}

			return ErrAgain
		}

		return r.fetchCleanup(err)
	}

	return r.fetchConnected()
}

func (r *Remote) fetchPerformConnect(events EventSet) error {
	if err := r.rearm(events, r.fetchPerformConnect); err != nil {
		if errors.Is(err, ErrAgain) {
			return err
		}

		return r.fetchCleanup(err)
	}

	return r.fetchConnected()
}

func (r *Remote) fetchConnected() error {
	if err := r.Download(r.requestedRefspecs, &r.fetchOpts); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.fetchPerformDownload); pushErr != nil {
				return r.fetchCleanup(pushErr)
			}

			return ErrAgain
		}

		return r.fetchCleanup(err)
	}

	return r.fetchDownloaded()
}

func (r *Remote) fetchPerformDownload(events EventSet) error {
	if err := r.rearm(events, r.fetchPerformDownload); err != nil {
		if errors.Is(err, ErrAgain) {
			return err
		}

		return r.fetchCleanup(err)
	}

	return r.fetchDownloaded()
}

func (r *Remote) fetchDownloaded() error {
	// The connection is no longer needed; tips are updated from the snapshot
	// the transport retains.
	if err := r.Disconnect(); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.fetchPerformDisconnect); pushErr != nil {
				return r.fetchCleanup(pushErr)
			}

			return ErrAgain
		}

		return r.fetchCleanup(err)
	}

	return r.fetchDisconnected()
}

func (r *Remote) fetchPerformDisconnect(events EventSet) error {
	if err := r.rearm(events, r.fetchPerformDisconnect); err != nil {
		if errors.Is(err, ErrAgain) {
			return err
		}

		return r.fetchCleanup(err)
	}

	return r.fetchDisconnected()
}

func (r *Remote) fetchDisconnected() error {
	if err := r.UpdateTips(&r.callbacks, r.fetchOpts.UpdateFetchHead, r.fetchOpts.DownloadTags, r.reflogMessage); err != nil {
		return r.fetchCleanup(err)
	}

	prune := false
	switch r.fetchOpts.Prune {
	case Prune:
		prune = true
	case NoPrune:
		prune = false
	case PruneUnspecified:
		prune = r.pruneRefs
	}

	var err error
	if prune {
		err = r.Prune(&r.callbacks)
	}

	if r.repo.Metrics != nil {
		r.repo.Metrics.observeFetch(err)
	}

	return r.fetchCleanup(err)
}

func (r *Remote) fetchCleanup(err error) error {
	r.releaseFetchScratch()

	return err
}
