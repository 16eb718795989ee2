package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/metrics"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// session is the server-side record of one client session. Sessions are
// keyed by a server-assigned id, never by the client pid: one process may
// hold several independent sessions at once.
type session struct {
	id        uint64
	pid       uint32
	workSize  int
	transport string
	opened    time.Time
}

// SessionInfo is the admin-surface view of a session.
type SessionInfo struct {
	ID        uint64    `json:"id"`
	PID       uint32    `json:"pid"`
	WorkSize  int       `json:"work_buffer_size"`
	Transport string    `json:"transport"`
	Opened    time.Time `json:"opened"`
}

// Dispatcher executes requests against the store and the print broker.
// It is shared by all transport bindings; each binding calls Handle from
// its own goroutine with its own work buffer.
type Dispatcher struct {
	store  *Store
	broker *printBroker

	mu       sync.Mutex
	sessions map[uint64]*session
	lastSID  atomic.Uint64

	metrics metrics.RequestMetrics
}

// NewDispatcher wires the dispatcher to its store. m may be nil.
func NewDispatcher(store *Store, m metrics.RequestMetrics) *Dispatcher {
	return &Dispatcher{
		store:    store,
		broker:   newPrintBroker(),
		sessions: make(map[uint64]*session),
		metrics:  m,
	}
}

// newSessionID allocates an identity for one connection. Bindings call it
// when a connection first materializes and pass the id on every Handle.
func (d *Dispatcher) newSessionID() uint64 { return d.lastSID.Add(1) }

// Handle executes one request in place: m arrives as the request and
// leaves as the response, with any response payload staged in workBuf.
// sid is the binding's connection identity from newSessionID; it, not
// the client pid, owns all per-session server state. Blocking requests
// (watch waits, print brokering) park here until ctx expires, so every
// binding must run Handle on a goroutine it can afford to block.
func (d *Dispatcher) Handle(ctx context.Context, transport string, sid uint64, m *wire.Message, workBuf []byte) {
	start := time.Now()
	req := wire.RequestType(m.Request)
	creds := m.GetCreds()

	// Request payload is consumed below; whatever remains in the header
	// must not leak back as a stale response payload.
	payloadLen := m.PayloadLen
	m.PayloadLen = 0

	var err error
	switch req {
	case wire.ReqOpen:
		err = d.open(m, transport, sid, payloadLen)
	case wire.ReqClose:
		d.closeSession(sid)
	case wire.ReqCreate:
		err = d.create(m, creds, payloadLen, workBuf)
	case wire.ReqUnlink:
		err = d.store.Unlink(wire.Handle(m.Info.Handle), creds, m.ClientPID)
	case wire.ReqLookup:
		err = d.lookup(m, creds)
	case wire.ReqGet:
		err = d.get(m, creds, workBuf)
	case wire.ReqSet:
		err = d.set(m, creds, payloadLen, workBuf)
	case wire.ReqQueryFirst:
		err = d.queryFirst(sid, m, creds, workBuf)
	case wire.ReqQueryNext:
		err = d.queryNext(sid, m, creds, workBuf)
	case wire.ReqWatchOpen:
		err = d.watchOpen(m, creds)
	case wire.ReqWatchWait:
		err = d.watchWait(ctx, m, creds, workBuf)
	case wire.ReqWatchClose:
		// Watch registration is client-side state; the serial rides on
		// every wait, so there is nothing to tear down here.
	case wire.ReqPrintRequest:
		err = d.printRequest(ctx, m, creds)
	case wire.ReqPrintPoll:
		err = d.printPoll(ctx, m)
	case wire.ReqPrintOpen:
		err = d.broker.Open(m.PeerPID, wire.Handle(m.Info.Handle))
	case wire.ReqPrintClose:
		err = d.broker.Close(m.PeerPID, status.Err(status.Code(m.RequestValue)))
	default:
		err = status.ErrNotSupported
	}

	m.SetStatus(err)

	if d.metrics != nil {
		d.metrics.RecordRequest(req.String(), transport, time.Since(start), status.CodeOf(err).String())
	}
	logger.Debug("request handled",
		logger.KeyRequest, req.String(),
		logger.KeyPID, m.ClientPID,
		logger.KeyTransport, transport,
		logger.KeyStatus, status.CodeOf(err).String(),
		logger.KeyDuration, time.Since(start))
}

// ============================================================================
// Session lifecycle
// ============================================================================

func (d *Dispatcher) open(m *wire.Message, transport string, sid uint64, workSize uint32) error {
	if workSize == 0 {
		return status.ErrInvalidArgument
	}
	d.mu.Lock()
	d.sessions[sid] = &session{
		id:        sid,
		pid:       m.ClientPID,
		workSize:  int(workSize),
		transport: transport,
		opened:    time.Now(),
	}
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.RecordSessionOpen(transport)
	}
	logger.Info("session opened",
		logger.KeySession, sid,
		logger.KeyPID, m.ClientPID,
		logger.KeyTransport, transport,
		logger.KeyWorkBuf, workSize)
	return nil
}

// closeSession tears down everything tied to one session. Also invoked
// by bindings when a connection dies without a close request. Print
// broker state is keyed by pid (the rendezvous protocol derives paths
// from it), so it is released only with the pid's last session.
func (d *Dispatcher) closeSession(sid uint64) {
	d.mu.Lock()
	sess, ok := d.sessions[sid]
	delete(d.sessions, sid)
	lastForPID := ok
	if ok {
		for _, other := range d.sessions {
			if other.pid == sess.pid {
				lastForPID = false
				break
			}
		}
	}
	d.mu.Unlock()
	if !ok {
		return
	}

	d.store.DropCursors(sid)
	if lastForPID {
		d.broker.DropSession(sess.pid)
	}

	if d.metrics != nil {
		d.metrics.RecordSessionClose(sess.transport)
	}
	logger.Info("session closed", logger.KeySession, sid, logger.KeyPID, sess.pid)
}

// Sessions returns the open sessions for the admin surface.
func (d *Dispatcher) Sessions() []SessionInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SessionInfo, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, SessionInfo{
			ID:        s.id,
			PID:       s.pid,
			WorkSize:  s.workSize,
			Transport: s.transport,
			Opened:    s.opened,
		})
	}
	return out
}

// ============================================================================
// Variable operations
// ============================================================================

func (d *Dispatcher) create(m *wire.Message, creds []uint32, payloadLen uint32, workBuf []byte) error {
	spec := CreateSpec{
		Name:       m.Info.GetName(),
		Type:       value.Type(m.Info.ValueType),
		Flags:      wire.Flags(m.Info.Flags),
		Format:     m.Info.GetFormat(),
		Tags:       m.Info.GetTags(),
		Readers:    m.Info.GetReaders(),
		Writers:    m.Info.GetWriters(),
		InstanceID: m.ClientPID,
		Capacity:   int(m.Info.ValueLen),
	}

	if payloadLen > 0 || (spec.Type.Scalar() && m.Info.Scalar != 0) {
		m.PayloadLen = payloadLen
		var seed value.Object
		if err := wire.TakeValue(&seed, m, workBuf); err != nil {
			m.PayloadLen = 0
			return err
		}
		m.PayloadLen = 0
		spec.Value = &seed
	}

	snap, err := d.store.Create(spec)
	if err != nil {
		return err
	}
	fillInfo(&m.Info, &snap)
	return nil
}

func (d *Dispatcher) lookup(m *wire.Message, creds []uint32) error {
	snap, err := d.store.Lookup(m.Info.GetName(), creds)
	if err != nil {
		return err
	}
	fillInfo(&m.Info, &snap)
	return nil
}

func (d *Dispatcher) get(m *wire.Message, creds []uint32, workBuf []byte) error {
	var obj value.Object
	serial, err := d.store.Get(wire.Handle(m.Info.Handle), creds, &obj)
	if err != nil {
		return err
	}
	m.Context = serial
	return wire.StageValue(m, &obj, workBuf)
}

func (d *Dispatcher) set(m *wire.Message, creds []uint32, payloadLen uint32, workBuf []byte) error {
	m.PayloadLen = payloadLen
	var obj value.Object
	err := wire.TakeValue(&obj, m, workBuf)
	m.PayloadLen = 0
	if err != nil {
		return err
	}
	return d.store.Set(wire.Handle(m.Info.Handle), creds, m.ClientPID, &obj)
}

// fillInfo projects a snapshot into the response descriptor.
func fillInfo(vi *wire.VarInfo, snap *Snapshot) {
	*vi = wire.VarInfo{
		Handle:     uint32(snap.Handle),
		InstanceID: snap.InstanceID,
		GUID:       [16]byte(snap.GUID),
		Flags:      uint32(snap.Flags),
		ValueType:  uint16(snap.Type),
	}
	_ = vi.SetName(snap.Name)
	_ = vi.SetFormat(snap.Format)
	_ = vi.SetTags(snap.Tags)
	_ = vi.SetReaders(snap.Readers)
	_ = vi.SetWriters(snap.Writers)
}

// ============================================================================
// Queries
// ============================================================================

func (d *Dispatcher) queryFirst(sid uint64, m *wire.Message, creds []uint32, workBuf []byte) error {
	token, err := d.store.QueryFirst(sid, m, creds, workBuf)
	if err != nil {
		m.Context = 0
		return err
	}
	m.Context = token
	return nil
}

func (d *Dispatcher) queryNext(sid uint64, m *wire.Message, creds []uint32, workBuf []byte) error {
	token, err := d.store.QueryNext(sid, m, creds, workBuf)
	if err != nil {
		m.Context = 0
		return err
	}
	m.Context = token
	return nil
}

// ============================================================================
// Watches
// ============================================================================

func (d *Dispatcher) watchOpen(m *wire.Message, creds []uint32) error {
	serial, err := d.store.Serial(wire.Handle(m.Info.Handle), creds)
	if err != nil {
		return err
	}
	m.Context = serial
	return nil
}

func (d *Dispatcher) watchWait(ctx context.Context, m *wire.Message, creds []uint32, workBuf []byte) error {
	var obj value.Object
	serial, err := d.store.WaitChange(ctx, wire.Handle(m.Info.Handle), m.RequestValue, creds, &obj)
	if err != nil {
		return err
	}
	m.Context = serial
	return wire.StageValue(m, &obj, workBuf)
}

// ============================================================================
// Print brokering
// ============================================================================

func (d *Dispatcher) printRequest(ctx context.Context, m *wire.Message, creds []uint32) error {
	snap, err := d.lookupHandle(wire.Handle(m.Info.Handle), creds)
	if err != nil {
		return err
	}
	if snap.Flags&wire.FlagRenderer == 0 {
		return status.ErrNotSupported
	}
	return d.broker.Request(ctx, snap.InstanceID, m.ClientPID, snap.Handle)
}

func (d *Dispatcher) lookupHandle(h wire.Handle, creds []uint32) (Snapshot, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	v, ok := d.store.byHandle[h]
	if !ok || !v.readable(creds) {
		return Snapshot{}, status.ErrNotFound
	}
	return v.snapshot(), nil
}

func (d *Dispatcher) printPoll(ctx context.Context, m *wire.Message) error {
	job, err := d.broker.Poll(ctx, m.ClientPID)
	if err != nil {
		return err
	}
	m.PeerPID = job.requestor
	m.Info.Handle = uint32(job.handle)
	return nil
}
