package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/varbus/pkg/client"
	"github.com/marmos91/varbus/pkg/status"
	"github.com/marmos91/varbus/pkg/value"
	"github.com/marmos91/varbus/pkg/wire"
)

// startTestServer runs a stream binding on an ephemeral port and returns
// its address.
func startTestServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d := NewDispatcher(NewStore(nil, nil), nil)
	b := &streamBinding{d: d, ln: ln}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		ln.Close()
		<-done
	})
	return ln.Addr().String()
}

func openTestSession(t *testing.T, addr string) *client.Session {
	t.Helper()
	s, err := client.Open(client.Options{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEndToEndVariables(t *testing.T) {
	addr := startTestServer(t)
	s := openTestSession(t, addr)

	t.Run("ScalarLifecycle", func(t *testing.T) {
		h, err := s.Create(client.VarSpec{Name: "e2e.counter", Type: value.UInt32})
		require.NoError(t, err)
		require.NotEqual(t, wire.HandleInvalid, h)

		v := value.UInt32Value(7)
		require.NoError(t, s.Set(h, &v))

		var out value.Object
		require.NoError(t, s.Get(h, &out))
		assert.Equal(t, uint32(7), out.Uint32())

		info, err := s.Lookup("e2e.counter")
		require.NoError(t, err)
		assert.Equal(t, h, info.Handle)
		assert.Equal(t, value.UInt32, info.Type)
		assert.Equal(t, uint32(s.PID()), info.InstanceID)

		require.NoError(t, s.Unlink(h))
		_, err = s.Lookup("e2e.counter")
		assert.ErrorIs(t, err, status.ErrNotFound)
	})

	t.Run("StringLifecycle", func(t *testing.T) {
		seed := value.StringValue("bootes")
		h, err := s.Create(client.VarSpec{Name: "e2e.motd", Type: value.String, Size: 64, Value: &seed})
		require.NoError(t, err)

		var out value.Object
		require.NoError(t, s.Get(h, &out))
		assert.Equal(t, "bootes", out.Text())

		v := value.StringValue("hello over the wire")
		require.NoError(t, s.Set(h, &v))
		out = value.Object{}
		require.NoError(t, s.Get(h, &out))
		assert.Equal(t, "hello over the wire", out.Text())

		// Exceeding the creation capacity fails and keeps the old value.
		big := value.StringValue(string(bytes.Repeat([]byte("x"), 100)))
		assert.ErrorIs(t, s.Set(h, &big), status.ErrTooBig)
		out = value.Object{}
		require.NoError(t, s.Get(h, &out))
		assert.Equal(t, "hello over the wire", out.Text())
	})

	t.Run("GetByNameAndTypedMismatch", func(t *testing.T) {
		h, err := s.Create(client.VarSpec{Name: "e2e.float", Type: value.Float})
		require.NoError(t, err)
		v := value.FloatValue(2.5)
		require.NoError(t, s.Set(h, &v))

		var out value.Object
		require.NoError(t, s.GetByName("e2e.float", &out))
		assert.InDelta(t, 2.5, float64(out.Float()), 1e-6)

		wrong := value.UInt64Value(0)
		assert.ErrorIs(t, s.Get(h, &wrong), status.ErrNotSupported)
	})
}

func TestEndToEndQuery(t *testing.T) {
	addr := startTestServer(t)
	s := openTestSession(t, addr)

	for i := 0; i < 5; i++ {
		_, err := s.Create(client.VarSpec{Name: fmt.Sprintf("fleet.node%d", i), Type: value.UInt16})
		require.NoError(t, err)
	}
	_, err := s.Create(client.VarSpec{Name: "other", Type: value.UInt16})
	require.NoError(t, err)

	t.Run("MapVisitsAllMatches", func(t *testing.T) {
		q := &client.Query{SearchType: wire.MatchByName | wire.ShowType, MatchText: "fleet.*"}
		var names []string
		err := s.Map(q, func(h wire.Handle) error {
			assert.Equal(t, value.UInt16, q.ResultType)
			names = append(names, q.ResultName)
			return nil
		})
		require.NoError(t, err)
		assert.Len(t, names, 5)
		assert.False(t, q.Active())
	})

	t.Run("NoMatchIsNotFound", func(t *testing.T) {
		q := &client.Query{SearchType: wire.MatchByName, MatchText: "absent.*"}
		err := s.Map(q, func(wire.Handle) error { return nil })
		assert.ErrorIs(t, err, status.ErrNotFound)
	})

	t.Run("ManualFirstNext", func(t *testing.T) {
		q := &client.Query{SearchType: wire.MatchByRegex, MatchText: "^other$"}
		require.NoError(t, s.First(q))
		assert.Equal(t, "other", q.ResultName)
		assert.ErrorIs(t, s.Next(q), status.ErrNotFound)
		assert.False(t, q.Active())
	})
}

// Sessions opened by one process must not disturb each other: closing
// one leaves the other's query cursor live.
func TestEndToEndSessionIsolation(t *testing.T) {
	addr := startTestServer(t)
	a := openTestSession(t, addr)
	b := openTestSession(t, addr)

	for _, name := range []string{"iso.x", "iso.y", "iso.z"} {
		_, err := a.Create(client.VarSpec{Name: name, Type: value.UInt32})
		require.NoError(t, err)
	}

	q := &client.Query{SearchType: wire.MatchByName, MatchText: "iso.*"}
	require.NoError(t, a.First(q))
	names := []string{q.ResultName}

	require.NoError(t, b.Close())

	for a.Next(q) == nil {
		names = append(names, q.ResultName)
	}
	assert.ElementsMatch(t, []string{"iso.x", "iso.y", "iso.z"}, names)
	assert.False(t, q.Active())
}

func TestEndToEndWatch(t *testing.T) {
	addr := startTestServer(t)
	watcher := openTestSession(t, addr)
	writer := openTestSession(t, addr)

	h, err := writer.Create(client.VarSpec{Name: "e2e.level", Type: value.Int32})
	require.NoError(t, err)

	w, err := watcher.WatchVar(h)
	require.NoError(t, err)
	defer w.Close()

	type change struct {
		val int32
		err error
	}
	got := make(chan change, 1)
	go func() {
		var out value.Object
		err := w.WaitNext(&out)
		got <- change{val: out.Int32(), err: err}
	}()

	time.Sleep(30 * time.Millisecond)
	v := value.Int32Value(-99)
	require.NoError(t, writer.Set(h, &v))

	select {
	case c := <-got:
		require.NoError(t, c.err)
		assert.Equal(t, int32(-99), c.val)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not observe the write")
	}
}

func TestEndToEndTemplate(t *testing.T) {
	addr := startTestServer(t)
	s := openTestSession(t, addr)

	seed := value.StringValue("varbus")
	_, err := s.Create(client.VarSpec{Name: "sys.name", Type: value.String, Value: &seed})
	require.NoError(t, err)
	count := value.UInt32Value(3)
	_, err = s.Create(client.VarSpec{Name: "sys.count", Type: value.UInt32, Value: &count})
	require.NoError(t, err)

	var buf bytes.Buffer
	err = s.Expand(&buf, []byte("${sys.name} has ${sys.count} nodes, $5 each"))
	require.NoError(t, err)
	assert.Equal(t, "varbus has 3 nodes, $5 each", buf.String())

	buf.Reset()
	err = s.Expand(&buf, []byte("known ${sys.count}, unknown ${sys.absent}!"))
	assert.ErrorIs(t, err, status.ErrNotSupported)
	assert.Equal(t, "known 3, unknown !", buf.String())
}

func TestEndToEndPrintSession(t *testing.T) {
	addr := startTestServer(t)
	requestor := openTestSession(t, addr)
	renderer := openTestSession(t, addr)

	h, err := renderer.Create(client.VarSpec{
		Name:  "e2e.report",
		Type:  value.UInt32,
		Flags: wire.FlagRenderer,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := renderer.ServePrint(func(w io.Writer, got wire.Handle) error {
			assert.Equal(t, h, got)
			_, err := io.WriteString(w, "rendered report\n")
			return err
		})
		assert.NoError(t, err)
	}()

	r, wPipe, err := os.Pipe()
	require.NoError(t, err)

	// Let the responder reach its poll before requesting.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, requestor.PrintTo(h, wPipe))
	wPipe.Close()

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "rendered report\n", string(out))
	r.Close()

	wg.Wait()
}

func TestEndToEndPrintWithoutRenderer(t *testing.T) {
	addr := startTestServer(t)
	s := openTestSession(t, addr)

	h, err := s.Create(client.VarSpec{Name: "plain", Type: value.UInt32})
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// The server rejects the request before any handoff, but the failed
	// rendezvous connect may surface first; either way it must fail.
	assert.Error(t, s.PrintTo(h, w))
}
