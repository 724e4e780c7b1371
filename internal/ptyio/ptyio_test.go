package ptyio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/internal/groutine"
)

// collect reads the slave side in the background until the test ends.
func collect(t *testing.T, path string) func() string {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NOCTTY, 0)
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		buf bytes.Buffer
	)
	ctx, cancel := context.WithCancel(context.Background())
	groutine.Go(ctx, "pty-test-reader", func(ctx context.Context) {
		chunk := make([]byte, 256)
		for ctx.Err() == nil {
			n, err := f.Read(chunk)
			if n > 0 {
				mu.Lock()
				buf.Write(chunk[:n])
				mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	})
	t.Cleanup(func() {
		cancel()
		_ = f.Close()
	})

	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return buf.String()
	}
}

func TestRelay_WriteLineReachesSlave(t *testing.T) {
	// GOAL: Verify queued lines are flushed to the slave untranslated
	//
	// TEST SCENARIO: Open relay → reader opens slave → two lines written → reader sees both with plain newlines

	relay, err := Open(Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	require.NotEmpty(t, relay.TTYName(), "PTY MUST expose the slave path")
	read := collect(t, relay.TTYName())

	_, err = relay.WriteLine("unlock")
	require.NoError(t, err)
	_, err = relay.WriteLine("ok")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return read() == "unlock\nok\n"
	}, 2*time.Second, 10*time.Millisecond, "slave MUST receive lines in order without CR translation")

	stats := relay.Stats()
	assert.EqualValues(t, 2, stats.Lines)
	assert.EqualValues(t, len("unlock\nok\n"), stats.WrittenBytes)
	assert.Zero(t, stats.DroppedBytes)
}

func TestRelay_Symlink(t *testing.T) {
	// GOAL: Verify the symlink points at the slave for the relay lifetime
	//
	// TEST SCENARIO: Open with symlink → link resolves to slave → Close → link removed

	link := filepath.Join(t.TempDir(), "qualia")
	relay, err := Open(Options{Symlink: link})
	require.NoError(t, err)

	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, relay.TTYName(), target)
	assert.Equal(t, link, relay.Symlink())

	require.NoError(t, relay.Close())
	_, err = os.Lstat(link)
	assert.True(t, os.IsNotExist(err), "Close MUST remove the symlink")
}

func TestRelay_SymlinkConflict(t *testing.T) {
	link := filepath.Join(t.TempDir(), "taken")
	require.NoError(t, os.WriteFile(link, nil, 0o600))

	_, err := Open(Options{Symlink: link})
	assert.ErrorContains(t, err, "failed to create tty symlink")
}

func TestRelay_Overflow(t *testing.T) {
	// GOAL: Verify a write larger than the queue is truncated and counted
	//
	// TEST SCENARIO: 8-byte queue → 20-byte write → at most 8 queued → the rest counted as dropped

	relay, err := Open(Options{BufferSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = relay.Close() })

	n, err := relay.Write(bytes.Repeat([]byte("x"), 20))
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 8)
	assert.EqualValues(t, 20-n, relay.Stats().DroppedBytes, "overflow MUST be counted")
}

func TestRelay_Closed(t *testing.T) {
	relay, err := Open(Options{})
	require.NoError(t, err)

	require.NoError(t, relay.Close())
	require.NoError(t, relay.Close(), "Close MUST be idempotent")

	_, err = relay.WriteLine("late")
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestOpen_InvalidBuffer(t *testing.T) {
	_, err := Open(Options{BufferSize: -1})
	assert.ErrorContains(t, err, "buffer size")
}
