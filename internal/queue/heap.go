package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// Heap is an in-process Client backed by a binary heap.
type Heap struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  items
	closed bool
}

// Compile-time interface satisfaction check.
var _ Client = (*Heap)(nil)

func NewHeap() *Heap {
	h := &Heap{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *Heap) Push(_ context.Context, item Item) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	heap.Push(&h.items, item)
	h.cond.Signal()
	return nil
}

func (h *Heap) Pop(ctx context.Context) (Item, error) {
	// wake every waiter when ctx ends so each can re-check its own context
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.cond.Broadcast()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		if h.closed {
			return Item{}, ErrClosed
		}
		if len(h.items) > 0 {
			return heap.Pop(&h.items).(Item), nil
		}
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		h.cond.Wait()
	}
}

func (h *Heap) IsEmpty(context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items) == 0, nil
}

func (h *Heap) Count(context.Context) (int64, error) {
	return int64(h.Len()), nil
}

// Len returns the number of queued items.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

// Close makes every Pop, blocked or not, return ErrClosed. Items still queued stay visible to
// IsEmpty and Count.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.cond.Broadcast()
	return nil
}

// items implements heap.Interface
type items []Item

func (s items) Len() int           { return len(s) }
func (s items) Less(i, j int) bool { return s[i].Less(s[j]) }
func (s items) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s *items) Push(x any)        { *s = append(*s, x.(Item)) }

func (s *items) Pop() any {
	old := *s
	n := len(old)
	item := old[n-1]
	*s = old[:n-1]
	return item
}
