// Package client implements the varbus client-side protocol engine: the
// blocking request/response session, the work-buffer value marshaling,
// the query iterator, the watch long-poll, and the print-session
// descriptor handoff.
//
// A Session is strictly single-threaded: one in-flight request at a
// time, responses observed in order, the work buffer reused by every
// call. Two concurrent requests on one session corrupt the work buffer;
// the blocked flag only diagnoses that misuse, it does not prevent it.
// Independent sessions (one per goroutine or process) share nothing but
// the server.
package client

import (
	"fmt"
	"os"
	"time"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/wire"
)

// DefaultWorkBufferSize is the session work-buffer capacity used when
// the caller does not choose one.
const DefaultWorkBufferSize = 16 << 10

// sessionState tracks where a request is in its lifecycle. Purely
// diagnostic: the protocol is single-threaded by contract.
type sessionState uint8

const (
	stateIdle sessionState = iota
	stateSending
	stateWaiting
	stateFailed
)

// Session is a process-local handle on the varbus server.
type Session struct {
	t       transport
	workBuf []byte
	pid     int
	creds   []uint32

	state   sessionState
	blocked bool
	last    wire.Message
}

// Options configure Open.
type Options struct {
	// WorkBufferSize is the scratch-buffer capacity for variable-length
	// payloads. Every string/blob moved through the session must fit in
	// it. Zero means DefaultWorkBufferSize.
	WorkBufferSize int

	// Addr is the stream-socket address: "host:port" for TCP or an
	// absolute path for a unix socket. Empty falls back to the
	// VARBUS_HOST / VARBUS_PORT environment variables.
	Addr string

	// SharedMemoryDir selects the shared-memory doorbell binding rooted
	// at the given runtime directory instead of the stream socket. The
	// server must run on the same host with the same directory.
	SharedMemoryDir string
}

// Open establishes a session over the selected transport binding and
// issues the open request. The open request's payloadLength field
// carries the requested work-buffer capacity and is never followed by
// payload bytes.
func Open(opts Options) (*Session, error) {
	size := opts.WorkBufferSize
	if size <= 0 {
		size = DefaultWorkBufferSize
	}

	pid := os.Getpid()
	groups, err := os.Getgroups()
	if err != nil {
		return nil, fmt.Errorf("read group membership: %w", err)
	}
	creds := make([]uint32, 0, len(groups))
	for _, g := range groups {
		if len(creds) == wire.CredMax {
			break
		}
		creds = append(creds, uint32(g))
	}

	var t transport
	if opts.SharedMemoryDir != "" {
		t, err = openSHMTransport(opts.SharedMemoryDir, pid, size)
	} else {
		t, err = openSocketTransport(opts.Addr)
	}
	if err != nil {
		return nil, err
	}

	s := &Session{
		t:       t,
		workBuf: t.workBuffer(size),
		pid:     pid,
		creds:   creds,
	}

	m := wire.NewMessage(wire.ReqOpen, pid)
	m.PayloadLen = uint32(size)
	if _, err := s.roundTrip(&m, 0); err != nil {
		t.close()
		return nil, fmt.Errorf("open session: %w", err)
	}

	logger.Debug("session opened",
		logger.KeySession, pid,
		logger.KeyTransport, t.name(),
		logger.KeyWorkBuf, size)
	return s, nil
}

// PID returns the session's process identity as seen by the server.
func (s *Session) PID() int { return s.pid }

// WorkBufferSize returns the scratch-buffer capacity chosen at Open.
func (s *Session) WorkBufferSize() int { return len(s.workBuf) }

// Close releases the transport and the work buffer. The close request
// is best-effort: a dead server must not prevent local teardown.
func (s *Session) Close() error {
	if s.t == nil {
		return nil
	}
	m := wire.NewMessage(wire.ReqClose, s.pid)
	_, _ = s.roundTrip(&m, 0)

	err := s.t.close()
	s.t = nil
	s.workBuf = nil
	logger.Debug("session closed", logger.KeySession, s.pid)
	return err
}

// newRequest stamps a request with the session identity and the caller's
// credential set.
func (s *Session) newRequest(req wire.RequestType) wire.Message {
	m := wire.NewMessage(req, s.pid)
	// Credentials ride on every request so the server can evaluate
	// permissions without a syscall of its own.
	_ = m.SetCreds(s.creds)
	return m
}

// roundTrip performs one blocking request/response exchange. recvTimeout
// zero keeps the transport's own bound (none for the stream socket, 5s
// for the doorbell); a negative value waits forever, which only the
// print-session requestor uses.
//
// A semantic failure code in the response is returned as its sentinel
// error; transport errors are returned unchanged and mark the session
// failed, though it remains usable unless the descriptor itself died.
func (s *Session) roundTrip(m *wire.Message, recvTimeout time.Duration) (*wire.Message, error) {
	if s.t == nil {
		return nil, status.ErrInvalidArgument
	}

	s.state = stateSending
	s.blocked = true
	defer func() { s.blocked = false }()

	if err := s.t.send(m, s.workBuf); err != nil {
		s.state = stateFailed
		return nil, err
	}

	s.state = stateWaiting
	if err := s.t.recv(&s.last, s.workBuf, recvTimeout); err != nil {
		s.state = stateFailed
		return nil, err
	}
	s.state = stateIdle

	if err := s.last.Status(); err != nil {
		return &s.last, err
	}
	return &s.last, nil
}
