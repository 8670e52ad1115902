package remote

import (
	"errors"
	"slices"
)

// Connect establishes a connection to the peer for the given direction. The
// caller's hooks, proxy options and custom headers are copied onto the remote
// for the duration of the connection. In cooperative mode Connect may return
// ErrAgain; the caller then drives the connection via Perform.
func (r *Remote) Connect(direction Direction, callbacks *Callbacks, proxy *ProxyOptions, customHeaders []string) error {
	if err := r.checkBusy(); err != nil {
		return err
	}

	r.customHeaders = slices.Clone(customHeaders)

	if proxy != nil {
		r.proxy = *proxy
	} else {
		r.proxy = ProxyOptions{}
	}

	r.direction = direction
	r.initCallbacks(callbacks)

	return r.performAll(r.connect)
}

// connect resolves the URL for the direction and hands over to the transport
// stage. It is re-entered from its resume frame when the URL resolution hook
// suspended.
func (r *Remote) connect() error {
	url, err := r.urlForDirection(r.direction)
	if err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.connectPerformURL); pushErr != nil {
				return pushErr
			}

			return ErrAgain
		}

		return err
	}

	r.resolvedURL = url

	return r.connectGotURL()
}

func (r *Remote) connectPerformURL(events EventSet) error {
	if err := r.rearm(events, r.connectPerformURL); err != nil {
		return err
	}

	return r.connect()
}

// connectGotURL selects the transport and starts the connection attempt. On
// suspension the transport moves into the pending slot until the attempt
// completes.
func (r *Remote) connectGotURL() error {
	t := r.transport

	// A transport installed by a previous connection is reused. Otherwise the
	// caller's factory wins over the scheme registry.
	if t == nil && r.callbacks.Transport != nil {
		created, err := r.callbacks.Transport(r)
		if err != nil {
			return r.connectFailed(nil, err)
		}
		t = created
	}

	if t == nil {
		factory, err := r.transportFactory(r.resolvedURL)
		if err != nil {
			return r.connectFailed(nil, err)
		}

		created, err := factory(r)
		if err != nil {
			return r.connectFailed(nil, err)
		}
		t = created
	}

	err := t.Connect(ConnectRequest{
		URL:           r.resolvedURL,
		Direction:     r.direction,
		Proxy:         r.proxy,
		CustomHeaders: slices.Clone(r.customHeaders),
		Callbacks:     &r.callbacks,
		Readiness:     r,
		Continuations: r,
	})
	if err != nil {
		if errors.Is(err, ErrAgain) {
			if pushErr := r.pushContinuation(r.connectPerform); pushErr != nil {
				return r.connectFailed(t, pushErr)
			}

			// Ownership moves into the pending slot until the attempt
			// completes.
			if t == r.transport {
				r.transport = nil
			}
			r.connectTransport = t

			return ErrAgain
		}

		return r.connectFailed(t, err)
	}

	r.resolvedURL = ""
	r.transport = t

	r.logger.WithFields(map[string]any{
		"direction": r.direction.String(),
		"remote":    r.name,
	}).Debug("transport connected")

	return nil
}

func (r *Remote) connectPerform(events EventSet) error {
	t := r.connectTransport

	if err := r.rearm(events, r.connectPerform); err != nil {
		if !errors.Is(err, ErrAgain) {
			if t != nil {
				_ = t.Close()
			}
			r.connectTransport = nil
			r.resolvedURL = ""
		}

		return err
	}

	r.transport = t
	r.connectTransport = nil
	r.resolvedURL = ""

	return nil
}

func (r *Remote) connectFailed(t Transport, err error) error {
	if t != nil {
		_ = t.Close()
		if t == r.transport {
			r.transport = nil
		}
	}

	r.resolvedURL = ""

	return err
}

func (r *Remote) transportFactory(url string) (TransportFactory, error) {
	registry := defaultRegistry
	if r.repo != nil && r.repo.Transports != nil {
		registry = r.repo.Transports
	}

	return registry.Lookup(url)
}

// Connected tells whether the remote's transport reports an established
// connection.
func (r *Remote) Connected() bool {
	return r.transport != nil && r.transport.IsConnected()
}

// Ls returns the peer's reference advertisement. The remote must have
// connected at least once; the advertisement stays available after a
// disconnect.
func (r *Remote) Ls() ([]Head, error) {
	if r.transport == nil {
		return nil, ErrNotConnected
	}

	return r.transport.Ls()
}

// Disconnect closes the connection to the peer. The transport and its
// reference advertisement remain available until the remote is closed.
func (r *Remote) Disconnect() error {
	if r.Connected() {
		return r.transport.Close()
	}

	return nil
}

// Stop asks the active transport to cancel the in-flight operation. The
// cancellation surfaces as a transport error on the operation's next
// re-entry, which unwinds it normally. Stop is safe to call from a signal
// handler if the transport's Cancel is.
func (r *Remote) Stop() error {
	if r.transport != nil {
		r.transport.Cancel()
	}

	return nil
}
