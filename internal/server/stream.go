package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/bufpool"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/wire"
)

// streamBinding serves the stream-socket transport: a TCP or unix
// listener, one connection per session, one goroutine per connection.
// Requests on a connection are strictly sequential, mirroring the
// client's single-threaded session contract.
type streamBinding struct {
	d  *Dispatcher
	ln net.Listener

	// maxWork caps the work-buffer size a client may announce at open;
	// zero means no cap.
	maxWork int
}

// listenStream opens the listener: an absolute path is a unix socket,
// anything else is a TCP address.
func listenStream(addr string) (net.Listener, error) {
	if strings.HasPrefix(addr, "/") {
		return net.Listen("unix", addr)
	}
	return net.Listen("tcp", addr)
}

// serve accepts until ctx is canceled. The caller closes the listener
// to unblock Accept.
func (b *streamBinding) serve(ctx context.Context) error {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go b.serveConn(ctx, conn)
	}
}

// serveConn runs one session. The work buffer is allocated after the
// open request announces its size and returned to the pool on exit.
func (b *streamBinding) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var (
		m       wire.Message
		workBuf []byte
		sid     uint64
	)
	defer func() {
		if workBuf != nil {
			bufpool.Put(workBuf)
		}
		if sid != 0 {
			b.d.closeSession(sid)
		}
	}()

	for {
		if err := wire.ReadMessage(conn, &m); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug("stream session ended",
					logger.KeyAddr, conn.RemoteAddr().String(),
					logger.KeyError, err)
			}
			return
		}

		req := wire.RequestType(m.Request)
		if sid == 0 {
			if req != wire.ReqOpen {
				m.SetStatus(status.ErrInvalidArgument)
				if wire.WriteMessage(conn, &m) != nil {
					return
				}
				continue
			}
			if b.maxWork > 0 && int(m.PayloadLen) > b.maxWork {
				m.PayloadLen = 0
				m.SetStatus(status.ErrTooBig)
				if wire.WriteMessage(conn, &m) != nil {
					return
				}
				continue
			}
			sid = b.d.newSessionID()
			workBuf = bufpool.Get(int(m.PayloadLen))
		}

		// The open request's PayloadLen is the buffer size announcement,
		// not a payload on the stream.
		if m.PayloadLen > 0 && req != wire.ReqOpen {
			if int(m.PayloadLen) > len(workBuf) {
				// Drain to stay framed, then reject.
				if _, err := io.CopyN(io.Discard, conn, int64(m.PayloadLen)); err != nil {
					return
				}
				m.PayloadLen = 0
				m.SetStatus(status.ErrTooBig)
				if wire.WriteMessage(conn, &m) != nil {
					return
				}
				continue
			}
			if _, err := io.ReadFull(conn, workBuf[:m.PayloadLen]); err != nil {
				return
			}
		}

		b.d.Handle(ctx, "stream", sid, &m, workBuf)

		if err := wire.WriteMessage(conn, &m); err != nil {
			return
		}
		if m.PayloadLen > 0 {
			if _, err := conn.Write(workBuf[:m.PayloadLen]); err != nil {
				return
			}
		}
		if req == wire.ReqClose {
			return
		}
	}
}
