package mq

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	pending []int64 // fetched and not yet committable, in fetch order
	done    map[int64]bool
}

// offsetTracker turns out-of-order handler completions into in-order commits.
// A partition is committed only up to the last offset whose predecessors all
// finished, so a crash redelivers every message that was still in flight.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[partitionKey]*partitionOffsets)}
}

// track registers a fetched message. Calls must follow fetch order.
func (t *offsetTracker) track(msg kafka.Message) {
	key := partitionKey{topic: msg.Topic, partition: msg.Partition}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[key]
	if !ok || (len(p.pending) > 0 && msg.Offset <= p.pending[len(p.pending)-1]) {
		// New partition, or a rebalance rewound it: offsets from the old
		// assignment can no longer be committed by us.
		p = &partitionOffsets{done: make(map[int64]bool)}
		t.parts[key] = p
	}
	p.pending = append(p.pending, msg.Offset)
}

// complete marks msg handled. It returns the message to commit when the
// partition's contiguous watermark advanced.
func (t *offsetTracker) complete(msg kafka.Message) (kafka.Message, bool) {
	key := partitionKey{topic: msg.Topic, partition: msg.Partition}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parts[key]
	if !ok {
		return kafka.Message{}, false
	}
	p.done[msg.Offset] = true

	advanced := false
	var last int64
	for len(p.pending) > 0 && p.done[p.pending[0]] {
		last = p.pending[0]
		delete(p.done, last)
		p.pending = p.pending[1:]
		advanced = true
	}
	if !advanced {
		return kafka.Message{}, false
	}
	return kafka.Message{Topic: msg.Topic, Partition: msg.Partition, Offset: last}, true
}
