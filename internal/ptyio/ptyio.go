// Package ptyio mirrors decoded peripheral messages onto a pseudo-terminal so
// that any program able to open a serial-like device can follow them.
//
// Writes are queued in a byte ring and flushed to the PTY master by a
// background loop, so a slow or absent reader on the slave side never blocks
// the caller. When the ring is full the excess bytes are dropped and counted.
//
//	relay, err := ptyio.Open(ptyio.Options{Symlink: "/tmp/qualia", Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer relay.Close()
//	fmt.Println(relay.TTYName()) // "/dev/pts/N"
//	relay.WriteLine("hello")
//
// Input typed on the slave side is read and discarded so the line discipline
// never stalls.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blelink/internal/groutine"
)

// ErrorCallback is invoked at most once when the flush loop hits an
// unrecoverable error. It runs on a background goroutine.
type ErrorCallback func(err error)

// Options configures a Relay. Zero values take the defaults in the tags.
type Options struct {
	BufferSize  int           `default:"4096"` // bytes queued towards the slave
	PollTimeout time.Duration `default:"50ms"` // upper bound on shutdown latency
	Symlink     string        // optional stable path pointing at the slave
	Logger      *logrus.Logger
	OnError     ErrorCallback
}

// Stats are instantaneous counters of a Relay.
type Stats struct {
	QueueLen     int
	QueueCap     int
	WrittenBytes uint64 // bytes handed to the PTY master
	DroppedBytes uint64 // bytes lost to a full queue
	InputBytes   uint64 // bytes typed on the slave side and discarded
	Lines        uint64
}

var noopLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

// Relay owns a PTY master/slave pair and the loops feeding it.
type Relay struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	ttyName     string
	symlink     string
	pollTimeout int
	onError     ErrorCallback
	errOnce     sync.Once

	queue *ringbuffer.RingBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	written atomic.Uint64
	dropped atomic.Uint64
	input   atomic.Uint64
	lines   atomic.Uint64
}

// Open creates the PTY pair, links opts.Symlink to the slave when set, and
// starts the flush and drain loops.
func Open(opts Options) (*Relay, error) {
	defaults.SetDefaults(&opts)
	if opts.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", opts.BufferSize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger
	}

	master, slave, err := createPTY()
	if err != nil {
		return nil, err
	}

	r := &Relay{
		logger:      logger,
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: int(opts.PollTimeout / time.Millisecond),
		onError:     opts.OnError,
		queue:       ringbuffer.New(opts.BufferSize),
	}
	if r.pollTimeout <= 0 {
		r.pollTimeout = 1
	}

	if opts.Symlink != "" {
		if err := os.Symlink(r.ttyName, opts.Symlink); err != nil {
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.Symlink, r.ttyName, err)
		}
		r.symlink = opts.Symlink
		logger.WithFields(logrus.Fields{
			"ttySymlink": r.symlink,
			"target":     r.ttyName,
		}).Info("Created PTY symlink")
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.wg.Add(2)
	groutine.Go(r.ctx, "pty-flush-loop", func(context.Context) { r.flushLoop() })
	groutine.Go(r.ctx, "pty-drain-loop", func(context.Context) { r.drainLoop() })

	logger.WithField("tty", r.ttyName).Info("Created PTY device")
	return r, nil
}

// TTYName returns the slave device path, e.g. "/dev/pts/5".
func (r *Relay) TTYName() string { return r.ttyName }

// Symlink returns the symlink path, empty when none was requested.
func (r *Relay) Symlink() string { return r.symlink }

// Write queues data for the slave without blocking. It returns how many bytes
// were queued; the remainder was dropped.
func (r *Relay) Write(data []byte) (int, error) {
	if r.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}

	n, err := r.queue.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) && !errors.Is(err, ringbuffer.ErrTooMuchDataToWrite) {
		return 0, err
	}
	if n < len(data) {
		r.dropped.Add(uint64(len(data) - n))
		r.logger.Warnf("PTY queue overflow: dropped %d of %d bytes", len(data)-n, len(data))
	}
	return n, nil
}

// WriteLine queues text followed by a newline.
func (r *Relay) WriteLine(text string) (int, error) {
	n, err := r.Write([]byte(text + "\n"))
	if err == nil {
		r.lines.Add(1)
	}
	return n, err
}

// Stats returns the current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		QueueLen:     r.queue.Length(),
		QueueCap:     r.queue.Capacity(),
		WrittenBytes: r.written.Load(),
		DroppedBytes: r.dropped.Load(),
		InputBytes:   r.input.Load(),
		Lines:        r.lines.Load(),
	}
}

// Close removes the symlink, stops the loops and closes both PTY ends.
// Queued bytes that were not flushed yet are discarded.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	// the symlink goes first so nobody opens a dying device
	if r.symlink != "" {
		if err := os.Remove(r.symlink); err != nil {
			r.logger.WithError(err).WithField("ttySymlink", r.symlink).Warn("Failed to remove tty symlink")
		} else {
			r.logger.WithField("ttySymlink", r.symlink).Debug("Removed tty symlink")
		}
	}

	r.cancel()
	var errs []error
	if err := r.master.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY master: %w", err))
	}
	if err := r.slave.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
	}

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		r.wg.Wait()
		close(done)
	})

	timeout := time.Duration(r.pollTimeout)*time.Millisecond*2 + time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		r.logger.Errorf("PTY %s: loops did not exit within %v", r.ttyName, timeout)
	}
	return errors.Join(errs...)
}

func (r *Relay) fail(loop string, err error) {
	r.logger.Warnf("%s exiting on error: %v", loop, err)
	if r.onError != nil {
		r.errOnce.Do(func() { r.onError(fmt.Errorf("%s: %w", loop, err)) })
	}
}

// flushLoop moves queued bytes to the master. The *os.File is captured once;
// Close makes pending syscalls fail with EBADF.
func (r *Relay) flushLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("flush loop panicked (recovered): %v", rec)
		}
		r.wg.Done()
	}()

	master := r.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		n, err := r.queue.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			r.logger.Warnf("flush loop TryRead error: %v", err)
		}
		if n == 0 {
			time.Sleep(time.Duration(r.pollTimeout) * time.Millisecond / 5)
			continue
		}

		for off := 0; off < n; {
			w, err := master.Write(buf[off:n])
			if w > 0 {
				off += w
				r.written.Add(uint64(w))
			}
			if err == nil {
				continue
			}
			switch {
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, r.pollTimeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
					r.logger.Warnf("flush loop poll error: %v", perr)
				}
				if r.ctx.Err() != nil {
					return
				}
			case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
				r.logger.Debug("flush loop exiting: master closed")
				return
			default:
				r.fail("flush loop", err)
				return
			}
		}
	}
}

// drainLoop discards whatever the slave side writes.
func (r *Relay) drainLoop() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Errorf("drain loop panicked (recovered): %v", rec)
		}
		r.wg.Done()
	}()

	master := r.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 1024)

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		ready, err := unix.Poll(pollFd, r.pollTimeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			r.logger.Warnf("drain loop poll error: %v", err)
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			r.input.Add(uint64(n))
			r.logger.Debugf("Discarded %d bytes of PTY input", n)
		}
		switch {
		case err == nil, errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
			r.logger.Debug("drain loop exiting: master closed")
			return
		case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
			// nobody has the slave open; wait for a reader
			time.Sleep(time.Duration(r.pollTimeout) * time.Millisecond)
		default:
			r.fail("drain loop", err)
			return
		}
	}
}

// createPTY opens a pair, puts the slave in raw mode so newlines pass
// untranslated, and makes the master non-blocking.
func createPTY() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	cleanup := func(step string, cause error) error {
		var errs []error
		if err := master.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY master: %w", err))
		}
		if err := slave.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PTY slave: %w", err))
		}
		if len(errs) > 0 {
			return fmt.Errorf("failed to set %s on %s: %w (cleanup errors: %v)", step, slave.Name(), cause, errors.Join(errs...))
		}
		return fmt.Errorf("failed to set %s on %s: %w", step, slave.Name(), cause)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return nil, nil, cleanup("raw mode", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return nil, nil, cleanup("nonblocking mode", err)
	}
	return master, slave, nil
}
