package stream

// ring is a fixed-size byte ring that overwrites the oldest bytes when full.
// head and tail are monotonic offsets; tail-head is the fill level.
// It is not safe for concurrent use.
type ring struct {
	buf        []byte
	head, tail int64
}

func newRing(size int) *ring {
	return &ring{buf: make([]byte, size)}
}

func (r *ring) len() int { return int(r.tail - r.head) }

func (r *ring) reset() { r.head, r.tail = 0, 0 }

// write appends p and returns the number of older bytes that were
// overwritten to make room.
func (r *ring) write(p []byte) (dropped int) {
	size := len(r.buf)
	if size == 0 {
		return len(p)
	}
	if len(p) > size {
		dropped = len(p) - size
		p = p[len(p)-size:]
	}
	if over := r.len() + len(p) - size; over > 0 {
		r.head += int64(over)
		dropped += over
	}

	tail := int(r.tail % int64(size))
	n := copy(r.buf[tail:], p)
	copy(r.buf, p[n:])
	r.tail += int64(len(p))
	return dropped
}

// read moves up to len(p) bytes into p.
func (r *ring) read(p []byte) int {
	size := len(r.buf)
	want := min(len(p), r.len())
	if want == 0 {
		return 0
	}
	head := int(r.head % int64(size))
	n := copy(p[:want], r.buf[head:])
	copy(p[n:want], r.buf)
	r.head += int64(want)
	return want
}
