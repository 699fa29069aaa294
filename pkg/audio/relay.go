package audio

import (
	"errors"
	"io"
	"sync"
	"time"
)

// DefaultRelayCapacity is the ring size used when NewRelay is given a
// non-positive capacity.
const DefaultRelayCapacity = 1 << 20

// ErrRelayClosed is returned by [Relay.Write] once the relay has been closed.
var ErrRelayClosed = errors.New("audio: relay closed")

// RelayOption configures a [Relay].
type RelayOption func(*Relay)

// WithBlockObserver registers fn to be called each time a Write had to wait
// for free space, with the total time it spent blocked. fn runs on the
// writer's goroutine after the relay lock has been released.
func WithBlockObserver(fn func(time.Duration)) RelayOption {
	return func(r *Relay) { r.onBlock = fn }
}

// Relay is a fixed-capacity byte FIFO that decouples a real-time audio
// producer (the capture callback) from a consumer that reads at its own pace
// (a streaming transcription session).
//
// Writes block while the ring is full and reads block while it is empty, so
// every byte written before Close is delivered exactly once and in order.
// After Close, writers fail with [ErrRelayClosed] and readers drain what is
// left before seeing [io.EOF].
//
// Relay implements [io.ReadWriteCloser]. All methods are safe for concurrent
// use, though the intended topology is one writer and one reader.
type Relay struct {
	mu       sync.Mutex
	notFull  *sync.Cond
	notEmpty *sync.Cond

	buf    []byte
	rd     int // next byte to read
	wr     int // next byte to write
	held   int
	closed bool

	onBlock func(time.Duration)
}

var _ io.ReadWriteCloser = (*Relay)(nil)

// NewRelay returns an open, empty relay holding at most capacity bytes.
// A capacity <= 0 selects [DefaultRelayCapacity].
func NewRelay(capacity int, opts ...RelayOption) *Relay {
	if capacity <= 0 {
		capacity = DefaultRelayCapacity
	}
	r := &Relay{buf: make([]byte, capacity)}
	r.notFull = sync.NewCond(&r.mu)
	r.notEmpty = sync.NewCond(&r.mu)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Write copies all of p into the relay, blocking while it is full. It returns
// len(p), nil on success. If the relay is closed before or during the call it
// returns the number of bytes accepted so far and [ErrRelayClosed], even for
// an empty p.
func (r *Relay) Write(p []byte) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrRelayClosed
	}
	var (
		n       int
		blocked time.Duration
	)
	for n < len(p) {
		for r.held == len(r.buf) && !r.closed {
			start := time.Now()
			r.notFull.Wait()
			blocked += time.Since(start)
		}
		if r.closed {
			r.mu.Unlock()
			r.observe(blocked)
			return n, ErrRelayClosed
		}
		c := r.put(p[n:])
		n += c
		r.notEmpty.Broadcast()
	}
	r.mu.Unlock()
	r.observe(blocked)
	return n, nil
}

// Read copies up to len(p) bytes into p, blocking while the relay is empty and
// open. It returns 0, [io.EOF] once the relay is closed and drained. A zero
// length p returns immediately.
func (r *Relay) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.held == 0 && !r.closed {
		r.notEmpty.Wait()
	}
	if r.held == 0 {
		return 0, io.EOF
	}
	n := r.take(p)
	r.notFull.Broadcast()
	return n, nil
}

// TryRead copies up to len(p) immediately available bytes into p without
// blocking and returns how many were copied. It is meant for real-time
// consumers such as a playback callback that must never wait.
func (r *Relay) TryRead(p []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == 0 || len(p) == 0 {
		return 0
	}
	n := r.take(p)
	r.notFull.Broadcast()
	return n
}

// Close marks the relay closed and wakes every blocked reader and writer.
// Bytes already held remain readable. Close is idempotent and always returns
// nil.
func (r *Relay) Close() error {
	r.mu.Lock()
	r.closed = true
	r.notFull.Broadcast()
	r.notEmpty.Broadcast()
	r.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (r *Relay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Len returns the number of bytes currently held.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held
}

// Cap returns the fixed capacity in bytes.
func (r *Relay) Cap() int { return len(r.buf) }

// put copies as much of p as fits and advances the write cursor. Caller holds mu.
func (r *Relay) put(p []byte) int {
	free := len(r.buf) - r.held
	if len(p) > free {
		p = p[:free]
	}
	// At most two copies: up to the end of the ring, then from the start.
	c := copy(r.buf[r.wr:], p)
	if c < len(p) {
		c += copy(r.buf, p[c:])
	}
	r.wr = (r.wr + c) % len(r.buf)
	r.held += c
	return c
}

// take copies up to len(p) held bytes and advances the read cursor. Caller holds mu.
func (r *Relay) take(p []byte) int {
	if len(p) > r.held {
		p = p[:r.held]
	}
	end := r.rd + len(p)
	var c int
	if end <= len(r.buf) {
		c = copy(p, r.buf[r.rd:end])
	} else {
		c = copy(p, r.buf[r.rd:])
		c += copy(p[c:], r.buf[:end-len(r.buf)])
	}
	r.rd = (r.rd + c) % len(r.buf)
	r.held -= c
	return c
}

func (r *Relay) observe(blocked time.Duration) {
	if blocked > 0 && r.onBlock != nil {
		r.onBlock(blocked)
	}
}
