package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/marmos91/varbus/pkg/bufpool"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/wire"
)

// Environment variables naming the stream-socket endpoint.
const (
	EnvHost = "VARBUS_HOST"
	EnvPort = "VARBUS_PORT"

	// DefaultPort is used when VARBUS_PORT is unset.
	DefaultPort = "4545"
)

// transport is one request/response binding. send transmits the header
// plus, when payloadLength is non-zero and the request is not the open
// request, payloadLength bytes out of the work buffer; recv fills the
// header and leaves any trailing payload in the work buffer.
type transport interface {
	name() string

	// workBuffer returns the session scratch buffer of the given
	// capacity. The shared-memory binding hands out a slice of the
	// mapped segment so payloads marshal straight into shared memory.
	workBuffer(size int) []byte

	send(m *wire.Message, workBuf []byte) error
	recv(m *wire.Message, workBuf []byte, timeout time.Duration) error
	close() error
}

// ============================================================================
// Stream-socket binding
// ============================================================================

// socketTransport is the stream binding: fixed header and raw payload
// bytes on a TCP or unix stream connection. It has no response timeout
// at all; a dead server hangs the client until the connection errors.
// Short reads and writes are completed by the io helpers, and the
// runtime retries interrupted syscalls transparently.
type socketTransport struct {
	conn net.Conn
	buf  []byte
}

// openSocketTransport dials addr, or the endpoint named by VARBUS_HOST
// and VARBUS_PORT when addr is empty. An address starting with '/' is a
// unix stream socket path.
func openSocketTransport(addr string) (*socketTransport, error) {
	network := "tcp"
	switch {
	case addr == "":
		host := os.Getenv(EnvHost)
		if host == "" {
			host = "127.0.0.1"
		}
		if strings.HasPrefix(host, "/") {
			network, addr = "unix", host
			break
		}
		port := os.Getenv(EnvPort)
		if port == "" {
			port = DefaultPort
		}
		addr = net.JoinHostPort(host, port)
	case strings.HasPrefix(addr, "/"):
		network = "unix"
	}

	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("connect server at %s: %w", addr, err)
	}
	return &socketTransport{conn: conn}, nil
}

func (t *socketTransport) name() string { return "socket" }

func (t *socketTransport) workBuffer(size int) []byte {
	t.buf = bufpool.Get(size)
	return t.buf
}

func (t *socketTransport) send(m *wire.Message, workBuf []byte) error {
	if err := wire.WriteMessage(t.conn, m); err != nil {
		return err
	}
	if m.PayloadLen > 0 && wire.RequestType(m.Request) != wire.ReqOpen {
		if _, err := t.conn.Write(workBuf[:m.PayloadLen]); err != nil {
			return fmt.Errorf("write payload: %w", err)
		}
	}
	return nil
}

func (t *socketTransport) recv(m *wire.Message, workBuf []byte, _ time.Duration) error {
	if err := wire.ReadMessage(t.conn, m); err != nil {
		return err
	}
	if m.PayloadLen == 0 {
		return nil
	}
	if int(m.PayloadLen) > len(workBuf) {
		// The server never sends more than the session's work-buffer
		// capacity; a longer payload means the stream is out of sync.
		return fmt.Errorf("response payload %d exceeds work buffer %d: %w",
			m.PayloadLen, len(workBuf), status.ErrTooBig)
	}
	if _, err := io.ReadFull(t.conn, workBuf[:m.PayloadLen]); err != nil {
		return fmt.Errorf("read payload: %w", err)
	}
	return nil
}

func (t *socketTransport) close() error {
	bufpool.Put(t.buf)
	t.buf = nil
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
