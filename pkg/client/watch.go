package client

import (
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// Watch subscribes to a variable and long-polls for changes. One Watch
// owns the session's request slot while WaitNext is blocked, like any
// other request.
type Watch struct {
	s      *Session
	handle wire.Handle

	// serial is the last change serial observed; the server answers a
	// wait only when the variable moves past it.
	serial uint32
}

// WatchVar registers a subscription on h and returns a Watch positioned
// at the variable's current state.
func (s *Session) WatchVar(h wire.Handle) (*Watch, error) {
	if h == wire.HandleInvalid {
		return nil, status.ErrInvalidArgument
	}
	m := s.newRequest(wire.ReqWatchOpen)
	m.Info.Handle = uint32(h)
	resp, err := s.roundTrip(&m, 0)
	if err != nil {
		return nil, err
	}
	return &Watch{s: s, handle: h, serial: resp.Context}, nil
}

// WaitNext blocks until the variable changes and reads the new value
// into dst. On the stream binding the wait is unbounded; on the
// shared-memory binding it is subject to the transport's own bound and
// surfaces ErrTimedOut, after which the watch remains valid and the
// wait can simply be reissued. An unlinked variable ends the watch with
// ErrNotFound.
func (w *Watch) WaitNext(dst *value.Object) error {
	m := w.s.newRequest(wire.ReqWatchWait)
	m.Info.Handle = uint32(w.handle)
	m.RequestValue = w.serial
	resp, err := w.s.roundTrip(&m, 0)
	if err != nil {
		return err
	}
	w.serial = resp.Context
	if dst == nil {
		return nil
	}
	return unmarshalValue(dst, resp, w.s.workBuf)
}

// Close unregisters the subscription.
func (w *Watch) Close() error {
	m := w.s.newRequest(wire.ReqWatchClose)
	m.Info.Handle = uint32(w.handle)
	_, err := w.s.roundTrip(&m, 0)
	return err
}
