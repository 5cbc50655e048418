package sandbox

import "sync"

// outputSlack is captured beyond the expected answer so trailing whitespace
// and near-miss output still reach the comparator intact.
const outputSlack = 4 << 10

// boundedBuffer keeps the first limit bytes written and drops the rest, so a
// flooding program cannot exhaust worker memory. Truncated reports the drop.
type boundedBuffer struct {
	mu        sync.Mutex
	limit     int
	buf       []byte
	truncated bool
}

func newBoundedBuffer(limit int) *boundedBuffer {
	return &boundedBuffer{limit: limit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - len(b.buf)
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// captureLimit sizes stdout capture so any answer that could match the
// expected output fits, never below the configured floor.
func captureLimit(floor int, expected string) int {
	return max(floor, len(expected)+outputSlack)
}
