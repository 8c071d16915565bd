// ABOUTME: Byte ring buffer shared by sink implementations
// ABOUTME: Accepts whole sample frames only so partial writes stay aligned
package output

import "sync"

// RingBuffer provides a thread-safe circular buffer for PCM bytes
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	size     int
	count    int // bytes currently in buffer
	align    int
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer holding capacity bytes, rounded down
// to a multiple of align.
func NewRingBuffer(capacity, align int) *RingBuffer {
	if align <= 0 {
		align = 1
	}
	capacity -= capacity % align
	if capacity < align {
		capacity = align
	}
	return &RingBuffer{
		buffer: make([]byte, capacity),
		size:   capacity,
		align:  align,
	}
}

// Write adds the longest whole-frame prefix of p that fits
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if free := rb.size - rb.count; n > free {
		n = free
	}
	n -= n % rb.align

	for written := 0; written < n; {
		end := rb.writePos + (n - written)
		if end > rb.size {
			end = rb.size
		}
		c := copy(rb.buffer[rb.writePos:end], p[written:])
		written += c
		rb.writePos = (rb.writePos + c) % rb.size
	}
	rb.count += n
	return n
}

// Read retrieves up to len(p) bytes from the ring buffer
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n > rb.count {
		n = rb.count
	}

	for read := 0; read < n; {
		end := rb.readPos + (n - read)
		if end > rb.size {
			end = rb.size
		}
		c := copy(p[read:n], rb.buffer[rb.readPos:end])
		read += c
		rb.readPos = (rb.readPos + c) % rb.size
	}
	rb.count -= n
	return n
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free bytes in the buffer
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// Reset discards all buffered bytes
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos, rb.writePos, rb.count = 0, 0, 0
}
