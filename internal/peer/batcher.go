package peer

import (
	"drawing-board/internal/canvas"
	"drawing-board/internal/protocol"
)

// Batcher queues locally drawn segments until the next flush.
type Batcher struct {
	author  string
	pending []canvas.Segment
}

// NewBatcher returns an empty batcher whose batches are tagged with author.
func NewBatcher(author string) *Batcher {
	return &Batcher{author: author}
}

// Push queues s. The queue is unbounded.
func (b *Batcher) Push(s canvas.Segment) {
	b.pending = append(b.pending, s)
}

// Len is the number of queued segments.
func (b *Batcher) Len() int { return len(b.pending) }

// Drain empties the queue into a single batch. It reports false, and
// produces nothing, when the queue is empty.
func (b *Batcher) Drain() (protocol.SegmentsBatch, bool) {
	if len(b.pending) == 0 {
		return protocol.SegmentsBatch{}, false
	}
	batch := protocol.SegmentsBatch{AuthorID: b.author, Segments: b.pending}
	b.pending = nil
	return batch, true
}

// Requeue puts a batch whose send failed back in front of anything queued
// since, so the next flush retries it in order.
func (b *Batcher) Requeue(batch protocol.SegmentsBatch) {
	b.pending = append(batch.Segments[:len(batch.Segments):len(batch.Segments)], b.pending...)
}
