package client

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/marmos91/varbus/pkg/shm"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/wire"
)

// shmRecvTimeout bounds the wait for the server's completion ring. Only
// a spurious wake (a datagram that is not the server's) restarts the
// wait; expiry surfaces as ErrTimedOut.
const shmRecvTimeout = 5 * time.Second

// shmTransport is the shared-memory binding. The client owns a mapped
// segment laid out as [header][work buffer]; request and response
// headers are encoded in place and payloads never leave the segment.
// The wake-up path is a pair of unix datagram sockets: the client rings
// the server's doorbell with its pid (standing in for the original
// real-time signal's integer payload), the server rings the client's
// reply socket when the response is ready.
type shmTransport struct {
	dir     string
	pid     int
	segment *shm.Region
	reply   *net.UnixConn
	bell    *net.UnixConn
}

func openSHMTransport(dir string, pid, workSize int) (*shmTransport, error) {
	segment, err := shm.Create(dir, shm.SegmentName(pid), wire.HeaderSize+workSize)
	if err != nil {
		return nil, err
	}

	replyPath := shm.ClientSocket(dir, pid)
	_ = os.Remove(replyPath)
	reply, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: replyPath, Net: "unixgram"})
	if err != nil {
		segment.Close()
		return nil, fmt.Errorf("listen reply socket: %w", err)
	}

	bell, err := net.DialUnix("unixgram", nil,
		&net.UnixAddr{Name: shm.DoorbellSocket(dir), Net: "unixgram"})
	if err != nil {
		reply.Close()
		os.Remove(replyPath)
		segment.Close()
		return nil, fmt.Errorf("connect server doorbell: %w", err)
	}

	return &shmTransport{dir: dir, pid: pid, segment: segment, reply: reply, bell: bell}, nil
}

func (t *shmTransport) name() string { return "shm" }

// workBuffer exposes the segment's payload area. Marshaling into it is
// marshaling into shared memory; there is no second copy.
func (t *shmTransport) workBuffer(size int) []byte {
	return t.segment.Bytes()[wire.HeaderSize : wire.HeaderSize+size]
}

func (t *shmTransport) send(m *wire.Message, _ []byte) error {
	if err := m.Encode(t.segment.Bytes()[:wire.HeaderSize]); err != nil {
		return err
	}
	var ring [4]byte
	binary.BigEndian.PutUint32(ring[:], uint32(t.pid))
	if _, err := t.bell.Write(ring[:]); err != nil {
		return fmt.Errorf("ring server doorbell: %w", err)
	}
	return nil
}

func (t *shmTransport) recv(m *wire.Message, _ []byte, timeout time.Duration) error {
	if timeout == 0 {
		timeout = shmRecvTimeout
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := t.reply.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set reply deadline: %w", err)
	}

	var ack [4]byte
	for {
		n, err := t.reply.Read(ack[:])
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return status.ErrTimedOut
			}
			return fmt.Errorf("await server reply: %w", err)
		}
		// The server echoes our pid; anything else is a stray datagram
		// and the wait restarts against the same deadline.
		if n == 4 && binary.BigEndian.Uint32(ack[:]) == uint32(t.pid) {
			break
		}
	}

	return m.Decode(t.segment.Bytes()[:wire.HeaderSize])
}

func (t *shmTransport) close() error {
	var first error
	if t.bell != nil {
		if err := t.bell.Close(); err != nil && first == nil {
			first = err
		}
		t.bell = nil
	}
	if t.reply != nil {
		if err := t.reply.Close(); err != nil && first == nil {
			first = err
		}
		t.reply = nil
		_ = os.Remove(shm.ClientSocket(t.dir, t.pid))
	}
	if t.segment != nil {
		if err := t.segment.Close(); err != nil && first == nil {
			first = err
		}
		t.segment = nil
	}
	return first
}
