package fdpass

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/varbus/pkg/status"
)

func TestDescriptorHandoff(t *testing.T) {
	dir := t.TempDir()
	pid := os.Getpid()

	t.Run("BytesWrittenThroughTransferredFDArriveOnce", func(t *testing.T) {
		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()
		defer w.Close()

		ln, err := Listen(dir, pid)
		require.NoError(t, err)
		defer ln.Close()

		sendErr := make(chan error, 1)
		go func() {
			sendErr <- Send(dir, pid, w, 250*time.Millisecond)
		}()

		got, err := ln.Recv(time.Second)
		require.NoError(t, err)
		require.NoError(t, <-sendErr)

		// The responder writes into the duplicate; the requestor's
		// original pipe sees the bytes in order, exactly once.
		_, err = got.WriteString("rendered")
		require.NoError(t, err)
		require.NoError(t, got.Close())
		require.NoError(t, w.Close())

		buf := make([]byte, 64)
		n, err := r.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "rendered", string(buf[:n]))
	})

	t.Run("RecvTimesOutWithoutRequestor", func(t *testing.T) {
		ln, err := Listen(dir, pid+1)
		require.NoError(t, err)
		defer ln.Close()

		start := time.Now()
		_, err = ln.Recv(50 * time.Millisecond)
		assert.ErrorIs(t, err, status.ErrTimedOut)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("SendWithoutListenerFailsInsteadOfHanging", func(t *testing.T) {
		_, w, err := os.Pipe()
		require.NoError(t, err)
		defer w.Close()

		start := time.Now()
		err = Send(dir, pid+2, w, 100*time.Millisecond)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, status.ErrTimedOut, "absent responder is a connect error")
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("SendNilFileIsInvalidArgument", func(t *testing.T) {
		err := Send(dir, pid, nil, time.Millisecond)
		assert.ErrorIs(t, err, status.ErrInvalidArgument)
	})

	t.Run("ListenReplacesStaleSocket", func(t *testing.T) {
		first, err := Listen(dir, pid+3)
		require.NoError(t, err)
		// Simulate crash: leave the socket file behind.
		first.ln.SetUnlinkOnClose(false)
		require.NoError(t, first.ln.Close())

		second, err := Listen(dir, pid+3)
		require.NoError(t, err)
		defer second.Close()
	})

	t.Run("ListenerCloseRemovesPath", func(t *testing.T) {
		ln, err := Listen(dir, pid+4)
		require.NoError(t, err)
		require.NoError(t, ln.Close())

		_, err = os.Stat(Path(dir, pid+4))
		assert.True(t, os.IsNotExist(err))
	})
}
