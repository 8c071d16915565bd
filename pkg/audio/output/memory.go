// ABOUTME: In-memory sink with a manually or ticker driven playback head
// ABOUTME: Used headless (Null) and as a deterministic device in tests
package output

import (
	"context"
	"sync"
	"time"

	"github.com/Resonate-Protocol/framesync/pkg/audio"
)

// DefaultBufferMillis sizes sink buffers when callers don't choose
const DefaultBufferMillis = 200

// Memory is a Sink whose hardware head only moves when Consume is called.
type Memory struct {
	mu       sync.Mutex
	format   audio.Format
	ring     *RingBuffer
	playing  bool
	closed   bool
	head     uint32
	record   bool
	played   []byte
	writeErr error
	scratch  []byte
}

// NewMemory creates a memory sink buffering capacity bytes. Consumed audio
// is recorded and available through Played.
func NewMemory(format audio.Format, capacity int) *Memory {
	return &Memory{
		format: format,
		ring:   NewRingBuffer(capacity, format.FrameBytes()),
		record: true,
	}
}

// MemoryFactory returns a Factory producing memory sinks and a func to
// retrieve the most recently opened one.
func MemoryFactory(capacity int) (Factory, func() *Memory) {
	var (
		mu   sync.Mutex
		last *Memory
	)
	factory := func(format audio.Format) (Sink, error) {
		m := NewMemory(format, capacity)
		mu.Lock()
		last = m
		mu.Unlock()
		return m, nil
	}
	return factory, func() *Memory {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func (m *Memory) Format() audio.Format { return m.format }

func (m *Memory) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrNotOpen
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.ring.Write(p), nil
}

func (m *Memory) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotOpen
	}
	m.playing = true
	return nil
}

func (m *Memory) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotOpen
	}
	m.playing = false
	return nil
}

func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotOpen
	}
	m.ring.Reset()
	m.head = 0
	return nil
}

func (m *Memory) Buffered() int {
	return m.ring.Available()
}

func (m *Memory) HeadPosition() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.head
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.playing = false
	m.ring.Reset()
	return nil
}

// Consume plays up to frames sample frames if the sink is playing and
// returns the number actually played.
func (m *Memory) Consume(frames int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.playing || m.closed || frames <= 0 {
		return 0
	}

	frameBytes := m.format.FrameBytes()
	want := frames * frameBytes
	if cap(m.scratch) < want {
		m.scratch = make([]byte, want)
	}
	n := m.ring.Read(m.scratch[:want])
	n -= n % frameBytes
	if m.record {
		m.played = append(m.played, m.scratch[:n]...)
	}
	m.head += uint32(n / frameBytes)
	return n / frameBytes
}

// FailWrites makes every subsequent Write return err
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Played returns a copy of all audio consumed so far
func (m *Memory) Played() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.played))
	copy(out, m.played)
	return out
}

// Playing reports whether the sink is consuming audio
func (m *Memory) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Closed reports whether Close has been called
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Null is a memory sink drained in real time by a ticker. It stands in for
// a sound card on machines without one.
type Null struct {
	*Memory
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewNull opens a Null sink and starts its playback ticker
func NewNull(format audio.Format) *Null {
	capacity := format.SampleRate * format.FrameBytes() * DefaultBufferMillis / 1000
	m := NewMemory(format, capacity)
	m.record = false

	ctx, cancel := context.WithCancel(context.Background())
	n := &Null{
		Memory: m,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go n.run(ctx)
	return n
}

// NullFactory opens Null sinks
func NullFactory() Factory {
	return func(format audio.Format) (Sink, error) {
		return NewNull(format), nil
	}
}

func (n *Null) run(ctx context.Context) {
	defer close(n.done)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	last := time.Now()
	var carry float64

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frames := now.Sub(last).Seconds()*float64(n.format.SampleRate) + carry
			last = now
			whole := int(frames)
			carry = frames - float64(whole)
			n.Consume(whole)
		}
	}
}

// Close stops the ticker and releases the sink
func (n *Null) Close() error {
	n.once.Do(func() {
		n.cancel()
		<-n.done
	})
	return n.Memory.Close()
}
