package queue_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"paratest/internal/queue"
)

func TestItem_Less(t *testing.T) {
	tests := []struct {
		name string
		a, b queue.Item
		want bool
	}{
		{
			name: "lower priority first",
			a:    queue.Item{Priority: 0, TID: "z"},
			b:    queue.Item{Priority: 1, TID: "a"},
			want: true,
		},
		{
			name: "higher priority later",
			a:    queue.Item{Priority: 5, TID: "a"},
			b:    queue.Item{Priority: 0.5, TID: "b"},
			want: false,
		},
		{
			name: "tie broken by tid",
			a:    queue.Item{Priority: 2, TID: "a"},
			b:    queue.Item{Priority: 2, TID: "b"},
			want: true,
		},
		{
			name: "equal items",
			a:    queue.Item{Priority: 2, TID: "a"},
			b:    queue.Item{Priority: 2, TID: "a"},
			want: false,
		},
		{
			name: "real work before sentinel",
			a:    queue.Item{Priority: math.MaxFloat64, TID: "slow"},
			b:    queue.Sentinel(),
			want: true,
		},
		{
			name: "sentinel never before real work",
			a:    queue.Sentinel(),
			b:    queue.Item{Priority: 1e9, TID: "slow"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Less(tt.b))
		})
	}
}

func TestItem_IsSentinel(t *testing.T) {
	assert.True(t, queue.Sentinel().IsSentinel())
	assert.False(t, queue.Item{Priority: 0, TID: ""}.IsSentinel())
	assert.False(t, queue.Item{Priority: math.Inf(1), TID: "t1"}.IsSentinel())
}
