package rtspserver

import (
	"sync"
	"time"
)

const (
	// DefaultPoolSize is nal_num from the spec: the number of pre-allocated
	// byte-vector buffers.
	DefaultPoolSize = 20
	// DefaultNALLen is nal_len: the initial capacity of each pre-allocated
	// buffer, grown on demand for larger NALs.
	DefaultNALLen = 20 * 1024
)

// NALRing is the RTSP stage's pool/work deque pair: incoming NALs are
// copied into a buffer borrowed from pool and appended to work. When pool
// is exhausted, the oldest work item is dropped and its buffer reused
// (drop-back queue-full policy), rather than blocking the caller.
type NALRing struct {
	mu   sync.Mutex
	pool [][]byte
	work [][]byte

	drops uint64
}

// NewNALRing pre-allocates poolSize buffers of nalLen capacity each.
func NewNALRing(poolSize, nalLen int) *NALRing {
	r := &NALRing{
		pool: make([][]byte, 0, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		r.pool = append(r.pool, make([]byte, 0, nalLen))
	}
	return r
}

// TrySend copies nal into a pool buffer (or the oldest work buffer, reused,
// if the pool is exhausted) and appends it to work.
func (r *NALRing) TrySend(nal []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var buf []byte
	if n := len(r.pool); n > 0 {
		buf = r.pool[n-1]
		r.pool = r.pool[:n-1]
	} else {
		// Pool exhausted: drop the oldest work item and reuse its buffer.
		buf = r.work[0]
		r.work = r.work[1:]
		r.drops++
	}

	buf = append(buf[:0], nal...)
	r.work = append(r.work, buf)
}

// PopOldest removes and returns the oldest pending NAL, returning its
// buffer to the pool once the caller is done with it via Release. Returns
// ok=false if work is empty.
func (r *NALRing) PopOldest() (nal []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.work) == 0 {
		return nil, false
	}
	nal = r.work[0]
	r.work = r.work[1:]
	return nal, true
}

// Release returns a consumed buffer to the pool for reuse.
func (r *NALRing) Release(buf []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pool = append(r.pool, buf[:0])
}

// Drops returns the count of work items dropped due to pool exhaustion.
func (r *NALRing) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

// Len returns the number of pending work items.
func (r *NALRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.work)
}

// FrameSource is the get-next-frame contract the RTSP server library calls
// back into. A NAL exceeding maxSize is delivered in maxSize-byte chunks
// over successive calls: a pending tail is delivered on its own, ahead of
// the next queued NAL, and is never merged with it.
type FrameSource struct {
	mu       sync.Mutex
	ring     *NALRing
	overflow []byte
	maxSize  int
	// lockTimeout bounds how long GetNextFrame waits for the NAL lock,
	// matching the 20us budget the RTSP library callback must not block
	// past.
	lockTimeout time.Duration
}

// NewFrameSource wires a FrameSource to ring with the library's declared
// maxSize per delivery.
func NewFrameSource(ring *NALRing, maxSize int) *FrameSource {
	return &FrameSource{ring: ring, maxSize: maxSize, lockTimeout: 20 * time.Microsecond}
}

// GetNextFrame returns up to maxSize bytes to hand to the RTSP library,
// along with a presentation timestamp. ok is false if no frame is
// currently available (either the lock could not be acquired in time, or
// there is no pending NAL).
func (f *FrameSource) GetNextFrame() (data []byte, pts time.Time, ok bool) {
	if !f.tryLock() {
		return nil, time.Time{}, false
	}
	defer f.mu.Unlock()

	var src []byte
	if len(f.overflow) > 0 {
		src = f.overflow
		f.overflow = nil
	} else {
		nal, popped := f.ring.PopOldest()
		if !popped {
			return nil, time.Time{}, false
		}
		src = append([]byte(nil), nal...)
		f.ring.Release(nal)
	}

	if len(src) > f.maxSize {
		out := make([]byte, f.maxSize)
		copy(out, src[:f.maxSize])
		f.overflow = append([]byte(nil), src[f.maxSize:]...)
		return out, time.Now(), true
	}

	return src, time.Now(), true
}

func (f *FrameSource) tryLock() bool {
	deadline := time.Now().Add(f.lockTimeout)
	for {
		if f.mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Microsecond)
	}
}
