package queue

import (
	"context"
	"math"
)

// Item is one entry of the shared queue. Lower priorities are popped first; equal priorities are
// popped in TID order.
type Item struct {
	Priority float64 `json:"priority"`
	TID      string  `json:"tid"`
}

// Sentinel returns the termination item. It sorts after every real item, so a worker only sees it
// once all the work queued before it has been handed out.
func Sentinel() Item {
	return Item{Priority: math.Inf(1)}
}

// IsSentinel reports whether the item tells a worker to stop.
func (i Item) IsSentinel() bool {
	return math.IsInf(i.Priority, 1) && i.TID == ""
}

// Less orders items by priority, then by TID.
func (i Item) Less(other Item) bool {
	if i.Priority != other.Priority {
		return i.Priority < other.Priority
	}
	return i.TID < other.TID
}

// Client defines the interface for the shared priority queue. One producer pushes, many workers pop.
type Client interface {
	// Push inserts an item
	Push(ctx context.Context, item Item) error
	// Pop blocks until an item is available or ctx is done and returns the lowest item
	Pop(ctx context.Context) (Item, error)
	// IsEmpty is a non-blocking snapshot of whether any item is left
	IsEmpty(ctx context.Context) (bool, error)
	// Count returns how many items, sentinels included, are queued
	Count(ctx context.Context) (int64, error)
	Close() error
}
