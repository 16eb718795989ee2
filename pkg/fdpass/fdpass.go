// Package fdpass implements the print-session descriptor handoff: a
// short-lived unix-domain rendezvous socket over which the requestor of a
// rendered variable passes its output file descriptor to the process that
// owns the rendering logic.
//
// The rendezvous path is derived from the requestor's process id, so both
// sides can compute it independently. The responder listens, the
// requestor connects and transfers the descriptor as SCM_RIGHTS ancillary
// data. Passing the descriptor instead of the bytes lets the responder
// render with ordinary buffered output directly into the requestor's
// stream, with no extra data copy.
//
// Ownership is uniform on both paths: Send never closes the descriptor it
// was given, Recv returns a fresh duplicate the caller must close.
package fdpass

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/marmos91/varbus/pkg/status"
)

// connectRetryInterval paces the requestor's connect attempts while the
// responder is still setting up its listener.
const connectRetryInterval = 10 * time.Millisecond

// Path returns the rendezvous socket path for a requestor pid.
func Path(dir string, requestorPID int) string {
	return filepath.Join(dir, fmt.Sprintf("varbus-print.%d.sock", requestorPID))
}

// Listener is the responder's half-open rendezvous endpoint. It accepts
// exactly one connection per print session.
type Listener struct {
	ln   *net.UnixListener
	path string
}

// Listen creates the rendezvous endpoint for the given requestor,
// replacing any stale socket a crashed session left behind. Permission
// bits restrict the endpoint to the owner and group so only the intended
// collaborators can connect.
func Listen(dir string, requestorPID int) (*Listener, error) {
	path := Path(dir, requestorPID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale rendezvous socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen rendezvous socket: %w", err)
	}
	if err := os.Chmod(path, 0o660); err != nil {
		ln.Close()
		os.Remove(path)
		return nil, fmt.Errorf("chmod rendezvous socket: %w", err)
	}

	// The listener unlinks the path itself on Close; keep that behavior
	// and remove the file exactly once.
	ln.SetUnlinkOnClose(true)
	return &Listener{ln: ln, path: path}, nil
}

// Recv waits up to timeout for the requestor's connection and returns the
// transferred descriptor as an open file. Expiry of the wait is
// status.ErrTimedOut; a connection that closes without carrying a
// descriptor is a protocol error.
func (l *Listener) Recv(timeout time.Duration) (*os.File, error) {
	if err := l.ln.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set accept deadline: %w", err)
	}
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		if isTimeout(err) {
			return nil, status.ErrTimedOut
		}
		return nil, fmt.Errorf("accept rendezvous connection: %w", err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	// One data byte rides along so the message is never empty; the
	// descriptor itself travels in the ancillary buffer.
	data := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	_, oobn, _, _, err := conn.ReadMsgUnix(data, oob)
	if err != nil {
		if isTimeout(err) {
			return nil, status.ErrTimedOut
		}
		return nil, fmt.Errorf("read descriptor message: %w", err)
	}

	fd, err := parseOneFD(oob[:oobn])
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), "varbus-print-output"), nil
}

// Close tears down the rendezvous endpoint and removes its path.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Send connects to the responder's rendezvous endpoint for requestorPID
// and transfers f's descriptor. Connect attempts are retried within the
// given window to cover the gap while the responder is still binding its
// listener; an absent responder yields the final connect error, never a
// hang.
func Send(dir string, requestorPID int, f *os.File, window time.Duration) error {
	if f == nil {
		return status.ErrInvalidArgument
	}
	addr := &net.UnixAddr{Name: Path(dir, requestorPID), Net: "unix"}

	var conn *net.UnixConn
	var err error
	deadline := time.Now().Add(window)
	for {
		conn, err = net.DialUnix("unix", nil, addr)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("connect rendezvous socket: %w", err)
		}
		time.Sleep(connectRetryInterval)
	}
	defer conn.Close()

	rights := unix.UnixRights(int(f.Fd()))
	if _, _, err := conn.WriteMsgUnix([]byte{0}, rights, nil); err != nil {
		return fmt.Errorf("send descriptor: %w", err)
	}
	return nil
}

// parseOneFD extracts exactly one descriptor from the ancillary data. A
// truncated or empty control message means the peer did not complete the
// transfer.
func parseOneFD(oob []byte) (int, error) {
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return -1, fmt.Errorf("parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return -1, errors.New("descriptor transfer truncated: no control message")
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("parse descriptor rights: %w", err)
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return -1, fmt.Errorf("descriptor transfer carried %d descriptors, want 1", len(fds))
	}
	return fds[0], nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
