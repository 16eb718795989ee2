package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/varbus/pkg/client"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
)

// startDoorbellServer runs the shared-memory binding rooted at a temp
// directory and returns that directory for clients to open against.
func startDoorbellServer(t *testing.T) (string, *Dispatcher) {
	t.Helper()

	dir := t.TempDir()
	d := NewDispatcher(NewStore(nil, nil), nil)
	b, err := listenDoorbell(d, dir, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		b.bell.Close()
		<-done
	})
	return dir, d
}

func TestDoorbellRoundTrip(t *testing.T) {
	dir, _ := startDoorbellServer(t)

	s, err := client.Open(client.Options{SharedMemoryDir: dir, WorkBufferSize: 1024})
	require.NoError(t, err)
	defer s.Close()

	seed := value.StringValue("segment ride")
	h, err := s.Create(client.VarSpec{Name: "bell.motd", Type: value.String, Size: 64, Value: &seed})
	require.NoError(t, err)

	var out value.Object
	require.NoError(t, s.Get(h, &out))
	assert.Equal(t, "segment ride", out.Text())

	v := value.StringValue("rung twice")
	require.NoError(t, s.Set(h, &v))
	out = value.Object{}
	require.NoError(t, s.GetByName("bell.motd", &out))
	assert.Equal(t, "rung twice", out.Text())

	info, err := s.Lookup("bell.motd")
	require.NoError(t, err)
	assert.Equal(t, h, info.Handle)
}

// The attach handshake must register the session under the "shm"
// transport, and detach on close must release it.
func TestDoorbellSessionLifecycle(t *testing.T) {
	dir, d := startDoorbellServer(t)

	s, err := client.Open(client.Options{SharedMemoryDir: dir, WorkBufferSize: 512})
	require.NoError(t, err)

	sessions := d.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "shm", sessions[0].Transport)
	assert.Equal(t, uint32(s.PID()), sessions[0].PID)
	assert.Equal(t, 512, sessions[0].WorkSize)

	require.NoError(t, s.Close())

	// Detach runs on the server's client goroutine after the reply ring.
	require.Eventually(t, func() bool {
		return len(d.Sessions()) == 0
	}, time.Second, 10*time.Millisecond)
}

// A watch wait with no writer must come back as a timed-out response
// within the binding's own bound, under the client's reply deadline,
// and the watch must stay usable afterwards.
func TestDoorbellWatchWaitTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the shared-memory watch bound")
	}

	dir, _ := startDoorbellServer(t)

	s, err := client.Open(client.Options{SharedMemoryDir: dir, WorkBufferSize: 1024})
	require.NoError(t, err)
	defer s.Close()

	h, err := s.Create(client.VarSpec{Name: "bell.level", Type: value.UInt32})
	require.NoError(t, err)

	w, err := s.WatchVar(h)
	require.NoError(t, err)
	defer w.Close()

	start := time.Now()
	var out value.Object
	err = w.WaitNext(&out)
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, status.ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, shmWatchBound-100*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)

	v := value.UInt32Value(42)
	require.NoError(t, s.Set(h, &v))
	out = value.Object{}
	require.NoError(t, w.WaitNext(&out))
	assert.Equal(t, uint32(42), out.Uint32())
}
