package audio

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/smallnest/ringbuffer"
)

// captureRing decouples the device callback from Read. The callback never
// blocks: when the ring is full the oldest audio is discarded.
type captureRing struct {
	mu      sync.Mutex
	rb      *ringbuffer.RingBuffer
	notify  chan struct{}
	closed  chan struct{}
	once    sync.Once
	dropped uint64 // bytes discarded because the reader fell behind
}

func newCaptureRing(capacityBytes int) *captureRing {
	// keep whole int16 samples
	capacityBytes &^= 1
	return &captureRing{
		rb:     ringbuffer.New(capacityBytes),
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// write stores little-endian int16 PCM, evicting the oldest bytes if needed
func (r *captureRing) write(p []byte) {
	if len(p) == 0 {
		return
	}

	r.mu.Lock()
	capacity := r.rb.Capacity()
	if len(p) > capacity {
		r.dropped += uint64(len(p) - capacity)
		p = p[len(p)-capacity:]
	}
	if free := r.rb.Free(); free < len(p) {
		discard := make([]byte, len(p)-free)
		n, _ := r.rb.Read(discard)
		r.dropped += uint64(n)
	}
	_, _ = r.rb.Write(p)
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// read copies available samples into buf, waiting until data arrives,
// ctx is done or the ring is closed
func (r *captureRing) read(ctx context.Context, buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	raw := make([]byte, len(buf)*2)

	for {
		r.mu.Lock()
		avail := r.rb.Length() &^ 1
		if avail > 0 {
			want := min(avail, len(raw))
			n, _ := r.rb.Read(raw[:want])
			r.mu.Unlock()
			n &^= 1
			for i := 0; i < n/2; i++ {
				buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
			}
			return n / 2, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-r.closed:
			return 0, ErrDeviceDisconnected
		case <-r.notify:
		}
	}
}

// close wakes pending readers. Audio already buffered is still returned,
// then read reports ErrDeviceDisconnected.
func (r *captureRing) close() {
	r.once.Do(func() { close(r.closed) })
}

func (r *captureRing) droppedBytes() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
