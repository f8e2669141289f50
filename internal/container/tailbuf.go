package container

// maxExecOutput bounds how much renderer output is kept per exec.
// Tracebacks sit at the end of the log, so the oldest bytes go first.
const maxExecOutput = 1 << 20

// tailBuffer is an io.Writer that keeps only the last size bytes written.
type tailBuffer struct {
	buf     []byte
	size    int
	head    int // next write position once full
	full    bool
	dropped int64
}

func newTailBuffer(size int) *tailBuffer {
	if size <= 0 {
		size = maxExecOutput
	}
	return &tailBuffer{buf: make([]byte, 0, min(size, 64*1024)), size: size}
}

// Write implements io.Writer. It never fails.
func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= t.size {
		t.dropped += int64(t.Len() + len(p) - t.size)
		t.buf = append(t.buf[:0], p[len(p)-t.size:]...)
		t.head = 0
		t.full = true
		return n, nil
	}

	if !t.full {
		room := t.size - len(t.buf)
		if len(p) <= room {
			t.buf = append(t.buf, p...)
			return n, nil
		}
		t.buf = append(t.buf, p[:room]...)
		p = p[room:]
		t.full = true
		t.head = 0
	}

	for len(p) > 0 {
		c := copy(t.buf[t.head:], p)
		t.dropped += int64(c)
		t.head = (t.head + c) % t.size
		p = p[c:]
	}
	return n, nil
}

// Len returns the number of bytes held.
func (t *tailBuffer) Len() int {
	return len(t.buf)
}

// Dropped returns how many leading bytes were discarded.
func (t *tailBuffer) Dropped() int64 {
	return t.dropped
}

// String returns the retained bytes in write order.
func (t *tailBuffer) String() string {
	if !t.full || t.head == 0 {
		return string(t.buf)
	}
	return string(t.buf[t.head:]) + string(t.buf[:t.head])
}
