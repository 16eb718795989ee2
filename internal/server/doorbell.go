package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/shm"
	"github.com/marmos91/varbus/pkg/wire"
)

// shmWatchBound caps server-side watch waits on the doorbell binding,
// safely under the client's own 5s reply deadline so the timeout
// verdict always arrives as a response rather than a dead air.
const shmWatchBound = 4 * time.Second

// ringBacklog bounds unprocessed doorbell rings per client. A client is
// single-threaded, so anything beyond a couple of slots means it is
// misbehaving; excess rings are dropped.
const ringBacklog = 4

// shmClient is the server's view of one doorbell session: the attached
// segment, the client's reply socket, and the goroutine draining rings.
// The segment name is pid-derived, so a process holds at most one
// doorbell session; sid is still the dispatcher's session identity.
type shmClient struct {
	sid     uint64
	pid     uint32
	segment *shm.Region
	reply   *net.UnixConn
	rings   chan struct{}
}

// doorbellBinding serves the shared-memory transport. A single goroutine
// reads pid datagrams off the doorbell socket and fans them out to
// per-client handlers; all request data lives in the client-owned
// segment.
type doorbellBinding struct {
	d    *Dispatcher
	dir  string
	bell *net.UnixConn

	// maxWork caps the work-buffer portion of a client segment; zero
	// means no cap.
	maxWork int

	mu      sync.Mutex
	clients map[uint32]*shmClient
}

func listenDoorbell(d *Dispatcher, dir string, maxWork int) (*doorbellBinding, error) {
	path := shm.DoorbellSocket(dir)
	_ = os.Remove(path)
	bell, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("listen doorbell socket: %w", err)
	}
	return &doorbellBinding{
		d:       d,
		dir:     dir,
		bell:    bell,
		maxWork: maxWork,
		clients: make(map[uint32]*shmClient),
	}, nil
}

func (b *doorbellBinding) serve(ctx context.Context) error {
	defer b.teardown()

	var buf [4]byte
	for {
		n, err := b.bell.Read(buf[:])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read doorbell: %w", err)
		}
		if n != 4 {
			continue
		}
		pid := binary.BigEndian.Uint32(buf[:])
		b.ring(ctx, pid)
	}
}

// ring routes one doorbell to the client's handler, attaching the
// session on first contact.
func (b *doorbellBinding) ring(ctx context.Context, pid uint32) {
	b.mu.Lock()
	c, ok := b.clients[pid]
	if !ok {
		var err error
		c, err = b.attach(pid)
		if err != nil {
			b.mu.Unlock()
			logger.Warn("doorbell from unattachable client",
				logger.KeyPID, pid, logger.KeyError, err)
			return
		}
		b.clients[pid] = c
		go b.serveClient(ctx, c)
	}
	b.mu.Unlock()

	select {
	case c.rings <- struct{}{}:
	default:
		logger.Warn("doorbell backlog full, ring dropped", logger.KeyPID, pid)
	}
}

// attach maps the client's segment and connects its reply socket. The
// segment must exist before the first ring: the client creates it before
// dialing the doorbell.
func (b *doorbellBinding) attach(pid uint32) (*shmClient, error) {
	segment, err := shm.Attach(b.dir, shm.SegmentName(int(pid)))
	if err != nil {
		return nil, err
	}
	if segment.Size() <= wire.HeaderSize {
		segment.Close()
		return nil, fmt.Errorf("segment too small: %d bytes", segment.Size())
	}
	if b.maxWork > 0 && segment.Size()-wire.HeaderSize > b.maxWork {
		segment.Close()
		return nil, fmt.Errorf("segment work buffer exceeds cap: %d > %d",
			segment.Size()-wire.HeaderSize, b.maxWork)
	}
	reply, err := net.DialUnix("unixgram", nil,
		&net.UnixAddr{Name: shm.ClientSocket(b.dir, int(pid)), Net: "unixgram"})
	if err != nil {
		segment.Close()
		return nil, fmt.Errorf("connect client reply socket: %w", err)
	}
	return &shmClient{
		sid:     b.d.newSessionID(),
		pid:     pid,
		segment: segment,
		reply:   reply,
		rings:   make(chan struct{}, ringBacklog),
	}, nil
}

// serveClient drains one client's rings sequentially. Blocking requests
// block only this client.
func (b *doorbellBinding) serveClient(ctx context.Context, c *shmClient) {
	seg := c.segment.Bytes()
	workBuf := seg[wire.HeaderSize:]

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.rings:
		}

		var m wire.Message
		if err := m.Decode(seg[:wire.HeaderSize]); err != nil {
			logger.Warn("bad header in segment",
				logger.KeyPID, c.pid, logger.KeyError, err)
			continue
		}

		reqCtx := ctx
		if wire.RequestType(m.Request) == wire.ReqWatchWait {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, shmWatchBound)
			b.d.Handle(reqCtx, "shm", c.sid, &m, workBuf)
			cancel()
		} else {
			b.d.Handle(reqCtx, "shm", c.sid, &m, workBuf)
		}

		if err := m.Encode(seg[:wire.HeaderSize]); err != nil {
			logger.Error("encode response into segment",
				logger.KeyPID, c.pid, logger.KeyError, err)
			continue
		}

		var ack [4]byte
		binary.BigEndian.PutUint32(ack[:], c.pid)
		if _, err := c.reply.Write(ack[:]); err != nil {
			logger.Warn("client reply ring failed, detaching",
				logger.KeyPID, c.pid, logger.KeyError, err)
			b.detach(c.pid)
			return
		}

		if wire.RequestType(m.Request) == wire.ReqClose {
			b.detach(c.pid)
			return
		}
	}
}

func (b *doorbellBinding) detach(pid uint32) {
	b.mu.Lock()
	c, ok := b.clients[pid]
	delete(b.clients, pid)
	b.mu.Unlock()
	if !ok {
		return
	}
	c.reply.Close()
	c.segment.Close()
	b.d.closeSession(c.sid)
}

func (b *doorbellBinding) teardown() {
	b.mu.Lock()
	pids := make([]uint32, 0, len(b.clients))
	for pid := range b.clients {
		pids = append(pids, pid)
	}
	b.mu.Unlock()
	for _, pid := range pids {
		b.detach(pid)
	}
	b.bell.Close()
	_ = os.Remove(shm.DoorbellSocket(b.dir))
}
