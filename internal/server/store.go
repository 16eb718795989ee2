// Package server implements the varbus daemon: the in-memory variable
// table, the request dispatcher, and the transport bindings that feed
// it (stream socket and shared-memory doorbell).
package server

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/varbus/internal/logger"
	"github.com/marmos91/varbus/pkg/metrics"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// defaultVarCapacity sizes String/Blob variables created with neither an
// initial value nor an explicit capacity.
const defaultVarCapacity = 256

// Variable is one entry in the table. All fields except obj and serial
// are fixed at creation; obj is guarded by the store mutex.
type Variable struct {
	handle     wire.Handle
	name       string
	instanceID uint32
	guid       uuid.UUID
	flags      wire.Flags
	typ        value.Type
	format     string
	tags       []string

	// readers/writers are group-id permission sets; an empty set means
	// unrestricted.
	readers []uint32
	writers []uint32

	obj    value.Object
	serial uint32

	// changed is closed and renewed on every write, waking watchers. A
	// closed channel with gone=true means the variable was unlinked.
	changed chan struct{}
	gone    bool
}

// Handle returns the variable's table handle.
func (v *Variable) Handle() wire.Handle { return v.handle }

// Name returns the variable's name.
func (v *Variable) Name() string { return v.name }

// CreateSpec carries the creation parameters out of a decoded request.
type CreateSpec struct {
	Name       string
	Type       value.Type
	Flags      wire.Flags
	Format     string
	Tags       string
	Readers    []uint32
	Writers    []uint32
	InstanceID uint32
	Capacity   int

	// Value optionally seeds the variable; nil leaves the type's zero
	// value in place.
	Value *value.Object
}

// Snapshot is a read-consistent copy of a variable's descriptor handed
// across the store boundary.
type Snapshot struct {
	Handle     wire.Handle
	Name       string
	InstanceID uint32
	GUID       uuid.UUID
	Flags      wire.Flags
	Type       value.Type
	Format     string
	Tags       string
	Readers    []uint32
	Writers    []uint32
	Serial     uint32
}

// Store is the in-memory variable table. It is the single point of
// serialization for all bindings: every transport goroutine funnels
// through its mutex.
type Store struct {
	mu       sync.Mutex
	byName   map[string]*Variable
	byHandle map[wire.Handle]*Variable
	next     uint32

	cursors    map[uint32]*cursor
	nextCursor uint32

	persist *persistence
	metrics metrics.StoreMetrics
}

// NewStore returns an empty table. persist and m may be nil.
func NewStore(persist *persistence, m metrics.StoreMetrics) *Store {
	return &Store{
		byName:   make(map[string]*Variable),
		byHandle: make(map[wire.Handle]*Variable),
		cursors:  make(map[uint32]*cursor),
		persist:  persist,
		metrics:  m,
	}
}

// permitted reports whether creds intersects the permission set. An
// empty set permits everyone.
func permitted(set, creds []uint32) bool {
	if len(set) == 0 {
		return true
	}
	for _, want := range set {
		for _, have := range creds {
			if want == have {
				return true
			}
		}
	}
	return false
}

// readable/writable evaluate the two directions. Denied reads hide the
// variable entirely (the caller sees ErrNotFound, not a permission
// verdict that would confirm the name exists). Denied writes are
// ErrNotSupported.
func (v *Variable) readable(creds []uint32) bool { return permitted(v.readers, creds) }

func (v *Variable) writable(creds []uint32, callerPID uint32) bool {
	if v.flags&wire.FlagReadOnly != 0 && callerPID != v.instanceID {
		return false
	}
	return permitted(v.writers, creds)
}

func (v *Variable) snapshot() Snapshot {
	return Snapshot{
		Handle:     v.handle,
		Name:       v.name,
		InstanceID: v.instanceID,
		GUID:       v.guid,
		Flags:      v.flags,
		Type:       v.typ,
		Format:     v.format,
		Tags:       joinTags(v.tags),
		Readers:    append([]uint32(nil), v.readers...),
		Writers:    append([]uint32(nil), v.writers...),
		Serial:     v.serial,
	}
}

// bump records a state change: the serial advances and every waiter on
// the old channel wakes.
func (v *Variable) bump() {
	v.serial++
	close(v.changed)
	v.changed = make(chan struct{})
}

// ============================================================================
// Table operations
// ============================================================================

// Create inserts a variable or re-opens an existing one. Creating a name
// that already exists with the same type returns the existing handle;
// a type mismatch is ErrInvalidArgument. The caller needs no permission
// to re-open, only to read or write afterwards.
func (s *Store) Create(spec CreateSpec) (Snapshot, error) {
	if spec.Name == "" || !spec.Type.Valid() {
		return Snapshot{}, status.ErrInvalidArgument
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byName[spec.Name]; ok {
		if existing.typ != spec.Type {
			return Snapshot{}, status.ErrInvalidArgument
		}
		return existing.snapshot(), nil
	}

	v, err := s.newVariable(spec)
	if err != nil {
		return Snapshot{}, err
	}

	s.next++
	v.handle = wire.Handle(s.next)
	s.byName[v.name] = v
	s.byHandle[v.handle] = v

	if v.flags&wire.FlagPersist != 0 && s.persist != nil {
		if err := s.persist.save(v); err != nil {
			logger.Warn("persist create failed",
				logger.KeyName, v.name, logger.KeyError, err)
		}
	}
	if s.metrics != nil {
		s.metrics.SetVariableCount(len(s.byHandle))
	}
	logger.Debug("variable created",
		logger.KeyName, v.name,
		logger.KeyHandle, uint32(v.handle),
		logger.KeyType, v.typ.String())
	return v.snapshot(), nil
}

// newVariable builds the entry, including its zero or seeded value.
func (s *Store) newVariable(spec CreateSpec) (*Variable, error) {
	v := &Variable{
		name:       spec.Name,
		instanceID: spec.InstanceID,
		guid:       uuid.New(),
		flags:      spec.Flags,
		typ:        spec.Type,
		format:     spec.Format,
		tags:       splitTags(spec.Tags),
		readers:    append([]uint32(nil), spec.Readers...),
		writers:    append([]uint32(nil), spec.Writers...),
		changed:    make(chan struct{}),
	}

	if spec.Type.Scalar() {
		if spec.Value != nil {
			if err := value.Copy(&v.obj, spec.Value); err != nil {
				return nil, err
			}
		} else {
			zero := value.Object{}
			switch spec.Type {
			case value.UInt16:
				zero = value.UInt16Value(0)
			case value.Int16:
				zero = value.Int16Value(0)
			case value.UInt32:
				zero = value.UInt32Value(0)
			case value.Int32:
				zero = value.Int32Value(0)
			case value.UInt64:
				zero = value.UInt64Value(0)
			case value.Int64:
				zero = value.Int64Value(0)
			case value.Float:
				zero = value.FloatValue(0)
			}
			v.obj = zero
		}
		return v, nil
	}

	capacity := spec.Capacity
	if spec.Value != nil && spec.Value.Len() > capacity {
		capacity = spec.Value.Len()
	}
	if capacity <= 0 {
		capacity = defaultVarCapacity
	}
	buf := make([]byte, capacity)
	if spec.Type == value.String {
		v.obj = value.BorrowString(buf)
	} else {
		v.obj = value.BorrowBlob(buf)
	}
	if spec.Value != nil {
		if err := value.Copy(&v.obj, spec.Value); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Lookup resolves a name for a reader. Unknown names and names the
// caller may not read are indistinguishable.
func (s *Store) Lookup(name string, creds []uint32) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byName[name]
	if !ok || !v.readable(creds) {
		return Snapshot{}, status.ErrNotFound
	}
	return v.snapshot(), nil
}

// Get copies the variable's current value into dst and returns its
// change serial.
func (s *Store) Get(h wire.Handle, creds []uint32, dst *value.Object) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byHandle[h]
	if !ok || !v.readable(creds) {
		return 0, status.ErrNotFound
	}
	if err := value.Copy(dst, &v.obj); err != nil {
		return 0, err
	}
	return v.serial, nil
}

// Set stores a new value. The variable's capacity is fixed at creation:
// var-length content larger than it fails ErrTooBig without touching
// the stored value. Type changes are not allowed.
func (s *Store) Set(h wire.Handle, creds []uint32, callerPID uint32, src *value.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byHandle[h]
	if !ok {
		return status.ErrNotFound
	}
	if !v.writable(creds, callerPID) {
		return status.ErrNotSupported
	}
	if src.Type() != v.typ {
		return status.ErrInvalidArgument
	}
	if err := value.Copy(&v.obj, src); err != nil {
		return err
	}
	v.bump()

	if v.flags&wire.FlagPersist != 0 && s.persist != nil {
		if err := s.persist.save(v); err != nil {
			logger.Warn("persist write failed",
				logger.KeyName, v.name, logger.KeyError, err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordWrite(v.name)
	}
	return nil
}

// Unlink removes the variable. Watchers blocked on it wake and observe
// ErrNotFound. Unlinking requires write permission.
func (s *Store) Unlink(h wire.Handle, creds []uint32, callerPID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byHandle[h]
	if !ok {
		return status.ErrNotFound
	}
	if !v.writable(creds, callerPID) {
		return status.ErrNotSupported
	}

	delete(s.byName, v.name)
	delete(s.byHandle, v.handle)
	v.gone = true
	close(v.changed)

	if v.flags&wire.FlagPersist != 0 && s.persist != nil {
		if err := s.persist.remove(v.name); err != nil {
			logger.Warn("persist unlink failed",
				logger.KeyName, v.name, logger.KeyError, err)
		}
	}
	if s.metrics != nil {
		s.metrics.SetVariableCount(len(s.byHandle))
	}
	logger.Debug("variable unlinked",
		logger.KeyName, v.name, logger.KeyHandle, uint32(v.handle))
	return nil
}

// Serial returns the variable's current change serial, for watch
// registration.
func (s *Store) Serial(h wire.Handle, creds []uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.byHandle[h]
	if !ok || !v.readable(creds) {
		return 0, status.ErrNotFound
	}
	return v.serial, nil
}

// WaitChange blocks until the variable's serial differs from since, then
// copies the value into dst and returns the new serial. An unlink during
// the wait is ErrNotFound; context expiry is ErrTimedOut.
func (s *Store) WaitChange(ctx context.Context, h wire.Handle, since uint32, creds []uint32, dst *value.Object) (uint32, error) {
	for {
		s.mu.Lock()
		v, ok := s.byHandle[h]
		if !ok || !v.readable(creds) {
			s.mu.Unlock()
			return 0, status.ErrNotFound
		}
		if v.serial != since {
			serial := v.serial
			err := value.Copy(dst, &v.obj)
			s.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return serial, nil
		}
		ch := v.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return 0, status.ErrTimedOut
		}
	}
}

// Len returns the number of live variables.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byHandle)
}

// All returns a snapshot of every variable, permission checks bypassed.
// Admin surface only; never exposed through the wire protocol.
func (s *Store) All() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := make([]Snapshot, 0, len(s.byHandle))
	for _, v := range s.byHandle {
		snaps = append(snaps, v.snapshot())
	}
	return snaps
}
