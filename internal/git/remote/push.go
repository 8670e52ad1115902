package remote

import (
	"errors"
	"slices"
)

// Upload computes and uploads the pack for a push. The references to update
// come from the given refspecs, falling back to the configured push refspecs.
// May return ErrAgain in cooperative mode.
func (r *Remote) Upload(refspecs []string, opts *PushOptions) error {
	if err := r.checkBusy(); err != nil {
		return err
	}

	if r.repo == nil {
		return DetachedOperationError{Operation: "upload"}
	}

	if opts != nil {
		if opts != &r.pushOpts {
			r.pushOpts = *opts
		}
	} else {
		r.pushOpts = PushOptions{}
	}

	r.activeRefspecs = dwimRefspecs(r.refspecs, r.refs)

	r.push = nil
	push, err := r.repo.NewPush(r)
	if err != nil {
		return err
	}
	r.push = push

	if err := push.SetOptions(r.pushOpts); err != nil {
		return err
	}

	if len(refspecs) > 0 {
		for _, spec := range refspecs {
			if err := push.AddRefspec(spec); err != nil {
				return err
			}
		}
	} else {
		for _, spec := range r.refspecs {
			if !spec.IsPush() {
				continue
			}

			if err := push.AddRefspec(spec.String()); err != nil {
				return err
			}
		}
	}

	if r.Connected() {
		r.initCallbacks(&r.pushOpts.Callbacks)
		return r.performAll(r.uploadConnected)
	}

	if err := r.Connect(DirectionPush, &r.pushOpts.Callbacks, &r.pushOpts.Proxy, r.pushOpts.CustomHeaders); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.uploadPerformConnect); pushErr != nil {
				return pushErr
			}

			return ErrAgain
		}

		return err
	}

	return r.performAll(r.uploadConnected)
}

func (r *Remote) uploadPerformConnect(events EventSet) error {
	if err := r.rearm(events, r.uploadPerformConnect); err != nil {
		return err
	}

	return r.performAll(r.uploadConnected)
}

func (r *Remote) uploadConnected() error {
	if err := r.push.Finish(&r.callbacks); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.uploadPerformFinish); pushErr != nil {
				return pushErr
			}

			return ErrAgain
		}

		return err
	}

	return r.uploadFinished()
}

func (r *Remote) uploadPerformFinish(events EventSet) error {
	if err := r.rearm(events, r.uploadPerformFinish); err != nil {
		return err
	}

	return r.uploadFinished()
}

func (r *Remote) uploadFinished() error {
	if r.callbacks.PushUpdateReference == nil {
		return nil
	}

	return r.push.StatusForEach(r.callbacks.PushUpdateReference)
}

// Push uploads the given refspecs to the peer and updates the local
// bookkeeping with the peer's per-reference results: connect, upload,
// disconnect, update tips. May return ErrAgain in cooperative mode.
func (r *Remote) Push(refspecs []string, opts *PushOptions) error {
	if err := r.checkBusy(); err != nil {
		return err
	}

	if r.repo == nil {
		return DetachedOperationError{Operation: "push"}
	}

	if opts != nil {
		r.pushOpts = *opts
	} else {
		r.pushOpts = PushOptions{}
	}

	r.requestedRefspecs = slices.Clone(refspecs)

	if err := r.Connect(DirectionPush, &r.pushOpts.Callbacks, &r.pushOpts.Proxy, r.pushOpts.CustomHeaders); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.pushPerformConnect); pushErr != nil {
				return r.pushCleanup(pushErr)
			}

			return ErrAgain
		}

		return r.pushCleanup(err)
	}

	return r.pushConnected()
}

func (r *Remote) pushPerformConnect(events EventSet) error {
	if err := r.rearm(events, r.pushPerformConnect); err != nil {
		if errors.Is(err, ErrAgain) {
			return err
		}

		return r.pushCleanup(err)
	}

	return r.pushConnected()
}

func (r *Remote) pushConnected() error {
	if err := r.Upload(r.requestedRefspecs, &r.pushOpts); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.pushPerformUpload); pushErr != nil {
				return r.pushCleanup(pushErr)
			}

			return ErrAgain
		}

		return r.pushCleanup(err)
	}

	return r.pushUploaded()
}

func (r *Remote) pushPerformUpload(events EventSet) error {
	if err := r.rearm(events, r.pushPerformUpload); err != nil {
		if errors.Is(err, ErrAgain) {
			return err
		}

		return r.pushCleanup(err)
	}

	return r.pushUploaded()
}

func (r *Remote) pushUploaded() error {
	if err := r.Disconnect(); err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.pushPerformDisconnect); pushErr != nil {
				return r.pushCleanup(pushErr)
			}

			return ErrAgain
		}

		return r.pushCleanup(err)
	}

	return r.pushDisconnected()
}

func (r *Remote) pushPerformDisconnect(events EventSet) error {
	if err := r.rearm(events, r.pushPerformDisconnect); err != nil {
		if errors.Is(err, ErrAgain) {
			return err
		}

		return r.pushCleanup(err)
	}

	return r.pushDisconnected()
}

func (r *Remote) pushDisconnected() error {
	err := r.UpdateTips(&r.callbacks, false, TagFetchUnspecified, "")

	if r.repo.Metrics != nil {
		r.repo.Metrics.observePush(err)
	}

	return r.pushCleanup(err)
}

func (r *Remote) pushCleanup(err error) error {
	r.releaseFetchScratch()

	return err
}
