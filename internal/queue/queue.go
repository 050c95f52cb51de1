// Package queue holds the cluster master's pending work, ordered so commands
// always run ahead of events.
package queue

import (
	"container/heap"
	"context"
	"time"

	"github.com/mattjoyce/autoclient/internal/deferred"
	"github.com/mattjoyce/autoclient/internal/protocol"
)

// Kind is the class of a queued entry.
type Kind int

const (
	KindCommand Kind = iota
	KindEvent
)

func (k Kind) String() string {
	if k == KindCommand {
		return "command"
	}
	return "event"
}

// Dispatched pairs the result future of a queued entry with the context of
// the caller that submitted it.
type Dispatched struct {
	Ctx    context.Context
	Result *deferred.Deferred[*protocol.Message]
}

// NewDispatched returns a Dispatched with a fresh result future.
func NewDispatched(ctx context.Context) *Dispatched {
	return &Dispatched{Ctx: ctx, Result: deferred.New[*protocol.Message]()}
}

// Entry is one pending dispatch.
type Entry struct {
	Kind       Kind
	Message    *protocol.Message
	Dispatched *Dispatched
	EnqueuedAt time.Time

	seq uint64
}

// InvocationID returns the invocation id the entry was stamped with.
func (e *Entry) InvocationID() string {
	if ac := e.Message.AutomationContext(); ac != nil {
		return ac.InvocationID
	}
	return ""
}

// Compare orders entries: commands before events, then by enqueue time.
// It returns -1, 0 or +1.
func Compare(a, b *Entry) int {
	switch {
	case a.Kind == KindCommand && b.Kind != KindCommand:
		return -1
	case a.Kind != KindCommand && b.Kind == KindCommand:
		return 1
	}
	switch {
	case a.EnqueuedAt.Before(b.EnqueuedAt):
		return -1
	case a.EnqueuedAt.After(b.EnqueuedAt):
		return 1
	}
	switch {
	case a.seq < b.seq:
		return -1
	case a.seq > b.seq:
		return 1
	}
	return 0
}

type entryHeap []*Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return Compare(h[i], h[j]) < 0 }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*Entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Queue is a priority queue of entries. It is not safe for concurrent use;
// the owner serializes access.
type Queue struct {
	h   entryHeap
	seq uint64
	now func() time.Time
}

func New() *Queue {
	return &Queue{now: time.Now}
}

// Push adds e, stamping EnqueuedAt if it is unset. An entry pushed back after
// a failed assignment keeps its original position.
func (q *Queue) Push(e *Entry) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = q.now()
	}
	if e.seq == 0 {
		q.seq++
		e.seq = q.seq
	}
	heap.Push(&q.h, e)
}

// Pop removes and returns the highest-priority entry.
func (q *Queue) Pop() (*Entry, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(*Entry), true
}

func (q *Queue) Len() int {
	return len(q.h)
}

// Drain removes every entry, in priority order.
func (q *Queue) Drain() []*Entry {
	out := make([]*Entry, 0, len(q.h))
	for len(q.h) > 0 {
		out = append(out, heap.Pop(&q.h).(*Entry))
	}
	return out
}
