package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/fdpass"
	"github.com/marmos91/varbus/pkg/shm"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/wire"
)

// Print-session timing. The descriptor wait is deliberately short: by
// the time the responder listens, the requestor is already retrying its
// connect, so 200ms only triggers when the requestor died. The connect
// window covers the opposite gap, while the responder is still binding
// its listener.
const (
	fdRecvTimeout   = 200 * time.Millisecond
	fdConnectWindow = time.Second
)

// RenderFunc produces a variable's rendered form on w. It runs in the
// responder process but writes, through the transferred descriptor,
// straight into the requestor's stream.
type RenderFunc func(w io.Writer, h wire.Handle) error

// rendezvousDir is where print-session rendezvous sockets live. Both
// roles derive the same path from the requestor's pid.
func rendezvousDir() string { return shm.DefaultDir() }

// PrintTo asks the variable's registered renderer to write the rendered
// value into f. The call hands f's descriptor to the responder over the
// rendezvous socket and then blocks, with no timeout, until the
// responder closes the print session; a responder that crashes
// mid-session therefore hangs the requestor. A variable with no
// renderer fails immediately with ErrNotSupported; a responder that
// never listens surfaces as a connect error.
func (s *Session) PrintTo(h wire.Handle, f *os.File) error {
	if h == wire.HandleInvalid || f == nil {
		return status.ErrInvalidArgument
	}

	m := s.newRequest(wire.ReqPrintRequest)
	m.Info.Handle = uint32(h)

	s.state = stateSending
	s.blocked = true
	defer func() { s.blocked = false }()

	if err := s.t.send(&m, s.workBuf); err != nil {
		s.state = stateFailed
		return err
	}

	sendErr := fdpass.Send(rendezvousDir(), s.pid, f, fdConnectWindow)

	// The response is withheld until the responder's close request, so
	// this wait is unbounded even on the doorbell binding. It must
	// happen even after a failed handoff: the server still owes us a
	// response once the responder gives up.
	s.state = stateWaiting
	if err := s.t.recv(&s.last, s.workBuf, -1); err != nil {
		s.state = stateFailed
		return err
	}
	s.state = stateIdle

	if sendErr != nil {
		return sendErr
	}
	return s.last.Status()
}

// ServePrint blocks until a print request arrives for a variable this
// session rendered, then services it end to end: rendezvous listener,
// descriptor handoff, render, close. The returned error reflects the
// render outcome; protocol-level failures are also reported to the
// server so the requestor unblocks with the same verdict.
func (s *Session) ServePrint(render RenderFunc) error {
	if render == nil {
		return status.ErrInvalidArgument
	}

	poll := s.newRequest(wire.ReqPrintPoll)
	resp, err := s.roundTrip(&poll, -1)
	if err != nil {
		return err
	}
	requestor := int(resp.PeerPID)
	h := wire.Handle(resp.Info.Handle)

	ln, err := fdpass.Listen(rendezvousDir(), requestor)
	if err != nil {
		s.closePrint(requestor, h, err)
		return err
	}
	defer ln.Close()

	open := s.newRequest(wire.ReqPrintOpen)
	open.PeerPID = uint32(requestor)
	open.Info.Handle = uint32(h)
	if _, err := s.roundTrip(&open, 0); err != nil {
		s.closePrint(requestor, h, err)
		return err
	}

	out, err := ln.Recv(fdRecvTimeout)
	renderErr := err
	if err == nil {
		w := bufio.NewWriter(out)
		renderErr = render(w, h)
		if flushErr := w.Flush(); renderErr == nil && flushErr != nil {
			renderErr = fmt.Errorf("flush rendered output: %w", flushErr)
		}
		out.Close()
	}

	s.closePrint(requestor, h, renderErr)

	logger.Debug("print session served",
		logger.KeyHandle, uint32(h),
		logger.KeyPeerPID, requestor,
		logger.KeyError, renderErr)
	return renderErr
}

// closePrint reports the session outcome; the server relays the verdict
// to the blocked requestor.
func (s *Session) closePrint(requestor int, h wire.Handle, verdict error) {
	m := s.newRequest(wire.ReqPrintClose)
	m.PeerPID = uint32(requestor)
	m.Info.Handle = uint32(h)
	m.RequestValue = uint32(status.CodeOf(verdict))
	_, _ = s.roundTrip(&m, 0)
}
