package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(nil, nil)
}

func mustCreate(t *testing.T, s *Store, spec CreateSpec) Snapshot {
	t.Helper()
	snap, err := s.Create(spec)
	require.NoError(t, err)
	return snap
}

func TestStoreCreate(t *testing.T) {
	t.Run("AssignsHandleAndGUID", func(t *testing.T) {
		s := newTestStore(t)
		a := mustCreate(t, s, CreateSpec{Name: "a", Type: value.UInt32, InstanceID: 10})
		b := mustCreate(t, s, CreateSpec{Name: "b", Type: value.String})

		assert.NotEqual(t, wire.HandleInvalid, a.Handle)
		assert.NotEqual(t, a.Handle, b.Handle)
		assert.NotEqual(t, a.GUID, b.GUID)
		assert.Equal(t, uint32(10), a.InstanceID)
	})

	t.Run("ReopenReturnsExistingHandle", func(t *testing.T) {
		s := newTestStore(t)
		first := mustCreate(t, s, CreateSpec{Name: "shared", Type: value.Int64})
		again := mustCreate(t, s, CreateSpec{Name: "shared", Type: value.Int64})
		assert.Equal(t, first.Handle, again.Handle)
		assert.Equal(t, first.GUID, again.GUID)
	})

	t.Run("ReopenWithDifferentTypeFails", func(t *testing.T) {
		s := newTestStore(t)
		mustCreate(t, s, CreateSpec{Name: "typed", Type: value.Int64})
		_, err := s.Create(CreateSpec{Name: "typed", Type: value.String})
		assert.ErrorIs(t, err, status.ErrInvalidArgument)
	})

	t.Run("RejectsBadSpec", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Create(CreateSpec{Name: "", Type: value.UInt16})
		assert.ErrorIs(t, err, status.ErrInvalidArgument)
		_, err = s.Create(CreateSpec{Name: "x", Type: value.Invalid})
		assert.ErrorIs(t, err, status.ErrInvalidArgument)
	})

	t.Run("SeedsInitialValue", func(t *testing.T) {
		s := newTestStore(t)
		seed := value.UInt32Value(42)
		snap := mustCreate(t, s, CreateSpec{Name: "seeded", Type: value.UInt32, Value: &seed})

		var out value.Object
		_, err := s.Get(snap.Handle, nil, &out)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), out.Uint32())
	})

	t.Run("StringCapacityFixedAtCreation", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "bounded", Type: value.String, Capacity: 8})

		short := value.StringValue("hi")
		require.NoError(t, s.Set(snap.Handle, nil, 1, &short))

		long := value.StringValue("far too long for eight bytes")
		assert.ErrorIs(t, s.Set(snap.Handle, nil, 1, &long), status.ErrTooBig)

		// The stored value is untouched by the failed write.
		var out value.Object
		_, err := s.Get(snap.Handle, nil, &out)
		require.NoError(t, err)
		assert.Equal(t, "hi", out.Text())
	})
}

func TestStoreSetGet(t *testing.T) {
	t.Run("ScalarRoundTrip", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "n", Type: value.Int16})

		v := value.Int16Value(-7)
		require.NoError(t, s.Set(snap.Handle, nil, 1, &v))

		var out value.Object
		serial, err := s.Get(snap.Handle, nil, &out)
		require.NoError(t, err)
		assert.Equal(t, int16(-7), out.Int16())
		assert.Equal(t, uint32(1), serial)
	})

	t.Run("TypeMismatchRejected", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "n", Type: value.Int16})
		wrong := value.UInt64Value(1)
		assert.ErrorIs(t, s.Set(snap.Handle, nil, 1, &wrong), status.ErrInvalidArgument)
	})

	t.Run("UnknownHandle", func(t *testing.T) {
		s := newTestStore(t)
		var out value.Object
		_, err := s.Get(wire.Handle(99), nil, &out)
		assert.ErrorIs(t, err, status.ErrNotFound)
	})

	t.Run("SerialAdvancesPerWrite", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "n", Type: value.UInt32})
		for i := 1; i <= 3; i++ {
			v := value.UInt32Value(uint32(i))
			require.NoError(t, s.Set(snap.Handle, nil, 1, &v))
		}
		serial, err := s.Serial(snap.Handle, nil)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), serial)
	})
}

func TestStorePermissions(t *testing.T) {
	t.Run("DeniedReadLooksLikeAbsence", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "secret", Type: value.UInt32, Readers: []uint32{100}})

		_, err := s.Lookup("secret", []uint32{200})
		assert.ErrorIs(t, err, status.ErrNotFound)

		var out value.Object
		_, err = s.Get(snap.Handle, []uint32{200}, &out)
		assert.ErrorIs(t, err, status.ErrNotFound)

		// A member of the reader group sees it.
		_, err = s.Lookup("secret", []uint32{100, 300})
		assert.NoError(t, err)
	})

	t.Run("DeniedWrite", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "guarded", Type: value.UInt32, Writers: []uint32{50}})

		v := value.UInt32Value(1)
		assert.ErrorIs(t, s.Set(snap.Handle, []uint32{60}, 1, &v), status.ErrNotSupported)
		assert.NoError(t, s.Set(snap.Handle, []uint32{50}, 1, &v))
	})

	t.Run("ReadOnlyFlagLimitsWritesToCreator", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "ro", Type: value.UInt32, Flags: wire.FlagReadOnly, InstanceID: 42})

		v := value.UInt32Value(1)
		assert.ErrorIs(t, s.Set(snap.Handle, nil, 7, &v), status.ErrNotSupported)
		assert.NoError(t, s.Set(snap.Handle, nil, 42, &v))
	})

	t.Run("EmptySetsAreUnrestricted", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "open", Type: value.UInt32})
		v := value.UInt32Value(9)
		assert.NoError(t, s.Set(snap.Handle, []uint32{1, 2}, 77, &v))
		_, err := s.Lookup("open", nil)
		assert.NoError(t, err)
	})
}

func TestStoreUnlink(t *testing.T) {
	s := newTestStore(t)
	snap := mustCreate(t, s, CreateSpec{Name: "gone", Type: value.UInt32})

	require.NoError(t, s.Unlink(snap.Handle, nil, 1))
	assert.Equal(t, 0, s.Len())

	_, err := s.Lookup("gone", nil)
	assert.ErrorIs(t, err, status.ErrNotFound)
	assert.ErrorIs(t, s.Unlink(snap.Handle, nil, 1), status.ErrNotFound)

	// The name is reusable afterwards, with a fresh handle.
	again := mustCreate(t, s, CreateSpec{Name: "gone", Type: value.UInt32})
	assert.NotEqual(t, snap.Handle, again.Handle)
}

func TestStoreWaitChange(t *testing.T) {
	t.Run("WakesOnWrite", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "w", Type: value.UInt32})

		type result struct {
			serial uint32
			val    uint32
			err    error
		}
		done := make(chan result, 1)
		go func() {
			var out value.Object
			serial, err := s.WaitChange(context.Background(), snap.Handle, 0, nil, &out)
			done <- result{serial: serial, val: out.Uint32(), err: err}
		}()

		time.Sleep(20 * time.Millisecond)
		v := value.UInt32Value(123)
		require.NoError(t, s.Set(snap.Handle, nil, 1, &v))

		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.Equal(t, uint32(1), r.serial)
			assert.Equal(t, uint32(123), r.val)
		case <-time.After(time.Second):
			t.Fatal("waiter did not wake")
		}
	})

	t.Run("ImmediateWhenAlreadyPastSerial", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "w", Type: value.UInt32})
		v := value.UInt32Value(5)
		require.NoError(t, s.Set(snap.Handle, nil, 1, &v))

		var out value.Object
		serial, err := s.WaitChange(context.Background(), snap.Handle, 0, nil, &out)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), serial)
	})

	t.Run("ContextExpiryIsTimedOut", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "w", Type: value.UInt32})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		var out value.Object
		_, err := s.WaitChange(ctx, snap.Handle, 0, nil, &out)
		assert.ErrorIs(t, err, status.ErrTimedOut)
	})

	t.Run("UnlinkWakesWithNotFound", func(t *testing.T) {
		s := newTestStore(t)
		snap := mustCreate(t, s, CreateSpec{Name: "w", Type: value.UInt32})

		done := make(chan error, 1)
		go func() {
			var out value.Object
			_, err := s.WaitChange(context.Background(), snap.Handle, 0, nil, &out)
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, s.Unlink(snap.Handle, nil, 1))

		select {
		case err := <-done:
			assert.ErrorIs(t, err, status.ErrNotFound)
		case <-time.After(time.Second):
			t.Fatal("waiter did not wake on unlink")
		}
	})
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()

	p, err := openPersistence(dir)
	require.NoError(t, err)

	s := NewStore(p, nil)
	snap := mustCreate(t, s, CreateSpec{
		Name:       "keep",
		Type:       value.String,
		Flags:      wire.FlagPersist,
		Format:     "%s",
		Tags:       "boot,infra",
		InstanceID: 9,
		Capacity:   32,
	})
	v := value.StringValue("survives")
	require.NoError(t, s.Set(snap.Handle, nil, 9, &v))

	mustCreate(t, s, CreateSpec{Name: "drop", Type: value.UInt32})
	require.NoError(t, p.close())

	// A second incarnation sees only the flagged variable.
	p2, err := openPersistence(dir)
	require.NoError(t, err)
	defer p2.close()

	s2 := NewStore(p2, nil)
	require.NoError(t, s2.Restore())
	assert.Equal(t, 1, s2.Len())

	restored, err := s2.Lookup("keep", nil)
	require.NoError(t, err)
	assert.Equal(t, snap.GUID, restored.GUID)
	assert.Equal(t, "boot,infra", restored.Tags)

	var out value.Object
	_, err = s2.Get(restored.Handle, nil, &out)
	require.NoError(t, err)
	assert.Equal(t, "survives", out.Text())

	_, err = s2.Lookup("drop", nil)
	assert.ErrorIs(t, err, status.ErrNotFound)
}
