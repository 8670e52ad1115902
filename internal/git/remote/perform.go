package remote

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventSet is a bitset of I/O readiness events.
type EventSet uint8

const (
	// EventRead indicates the file descriptor is readable.
	EventRead = EventSet(1 << iota)
	// EventWrite indicates the file descriptor is writable.
	EventWrite
	// EventErr indicates an exceptional condition on the file descriptor.
	EventErr
	// EventTimeout indicates the wait ended without any readiness.
	EventTimeout
)

// continuation resumes a suspended pipeline stage with the events that woke
// the operation up.
type continuation func(events EventSet) error

// maxContinuations bounds the per-remote continuation stack. The pipelines
// nest at most connect inside download inside fetch, plus one frame for the
// transport itself.
const maxContinuations = 4

// pushContinuation installs a resumption function on the stack. It fails when
// the stack is full, which tears the operation down like a network error.
func (r *Remote) pushContinuation(fn continuation) error {
	if len(r.continuations) >= maxContinuations {
		return ContinuationOverflowError{}
	}

	r.continuations = append(r.continuations, fn)

	return nil
}

// PushContinuation lets transports and engines install their resumption
// function when they suspend with ErrAgain.
func (r *Remote) PushContinuation(fn func(events EventSet) error) error {
	return r.pushContinuation(fn)
}

// dispatch pops the top continuation and invokes it with the given events.
// With an empty stack it returns errNoPendingWork.
func (r *Remote) dispatch(events EventSet) error {
	if len(r.continuations) == 0 {
		return errNoPendingWork
	}

	top := r.continuations[len(r.continuations)-1]
	r.continuations = r.continuations[:len(r.continuations)-1]

	if top == nil {
		return fmt.Errorf("invalid continuation installed")
	}

	return top(events)
}

// rearm drives the previously suspended stage below the caller's frame. If
// that stage suspends again the caller's frame is reinstalled so the next
// wake-up reaches it. Any other outcome is handed back to the caller, which
// either proceeds to its own work (nil) or unwinds (error).
func (r *Remote) rearm(events EventSet, fn continuation) error {
	err := r.dispatch(events)
	if errors.Is(err, ErrAgain) {
		if pushErr := r.pushContinuation(fn); pushErr != nil {
			return pushErr
		}

		return ErrAgain
	}

	return err
}

// Perform drives the in-flight operation forward with the I/O events the
// caller observed. It returns ErrAgain if the operation suspended again,
// ErrIdle if no operation is in progress, nil on completion, or the
// operation's terminal error.
func (r *Remote) Perform(events EventSet) error {
	err := r.dispatch(events)
	if errors.Is(err, errNoPendingWork) {
		return ErrIdle
	}

	return err
}

// busy tells whether an operation is currently suspended on this remote.
func (r *Remote) busy() bool {
	return len(r.continuations) > 0
}

func (r *Remote) checkBusy() error {
	if r.busy() {
		return ErrBusy
	}

	return nil
}

// fdEvents records the readiness request of the most recent suspension for
// the synchronous driver.
type fdEvents struct {
	fd          int
	events      EventSet
	timeoutSecs uint
	armed       bool
}

// initCallbacks installs the caller's hooks for the duration of one
// operation. Synchronous mode is in effect exactly when the caller did not
// supply a readiness hook.
func (r *Remote) initCallbacks(cbs *Callbacks) {
	if cbs != nil {
		r.callbacks = *cbs
	} else {
		r.callbacks = Callbacks{}
	}

	r.syncMode = r.callbacks.SetFDEvents == nil
	if r.syncMode {
		r.evdata = &fdEvents{}
	}
}

// SetFDEvents implements ReadinessSink. In cooperative mode the request is
// forwarded to the caller's hook; in synchronous mode it is recorded for the
// built-in driver.
func (r *Remote) SetFDEvents(fd int, events EventSet, timeoutSecs uint) error {
	if !r.syncMode {
		return r.callbacks.SetFDEvents(fd, events, timeoutSecs)
	}

	if r.evdata == nil {
		r.evdata = &fdEvents{}
	}

	r.evdata.fd = fd
	r.evdata.events = events
	r.evdata.timeoutSecs = timeoutSecs
	r.evdata.armed = true

	return nil
}

// performAll runs the entry function of an operation and, in synchronous
// mode, drives every suspension to completion by waiting for the recorded
// readiness itself. In cooperative mode the first suspension is returned to
// the caller as ErrAgain.
func (r *Remote) performAll(fn func() error) error {
	err := fn()
	if errors.Is(err, ErrAgain) && r.syncMode {
		return r.performLoop()
	}

	return err
}

func (r *Remote) performLoop() error {
	for {
		events, err := r.waitForEvents()
		if err != nil {
			// The wait itself failed; ask the transport to bail out and
			// surface the failure as a network error.
			_ = r.Stop()
			return err
		}

		err = r.Perform(events)
		if !errors.Is(err, ErrAgain) {
			return err
		}
	}
}

// waitForEvents blocks on the file descriptor recorded by the last
// suspension and translates the wake-up reason into an event bitset.
func (r *Remote) waitForEvents() (EventSet, error) {
	evdata := r.evdata
	if evdata == nil || !evdata.armed {
		return 0, fmt.Errorf("operation suspended without requesting I/O readiness")
	}

	var readfds, writefds, exceptfds unix.FdSet

	for {
		readfds.Zero()
		writefds.Zero()
		exceptfds.Zero()

		if evdata.events&EventRead != 0 {
			readfds.Set(evdata.fd)
		}
		if evdata.events&EventWrite != 0 {
			writefds.Set(evdata.fd)
		}
		exceptfds.Set(evdata.fd)

		timeout := unix.Timeval{Sec: int64(evdata.timeoutSecs)}

		_, err := unix.Select(evdata.fd+1, &readfds, &writefds, &exceptfds, &timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return 0, fmt.Errorf("failed to wait for event: %w", err)
		}

		break
	}

	var events EventSet
	if readfds.IsSet(evdata.fd) {
		events |= EventRead
	}
	if writefds.IsSet(evdata.fd) {
		events |= EventWrite
	}
	if exceptfds.IsSet(evdata.fd) {
		events |= EventErr
	}

	if events == 0 {
		events = EventTimeout
	}

	return events, nil
}
