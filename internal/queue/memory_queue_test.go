package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := NewMemoryQueue()
	q.Enqueue(Item{UUID: "a", EnqueuedAt: time.Now()})
	q.Enqueue(Item{UUID: "b", EnqueuedAt: time.Now()})
	q.Enqueue(Item{UUID: "c", EnqueuedAt: time.Now()})

	first, err := q.Dequeue()
	require.NoError(t, err)
	require.Equal(t, "a", first.UUID)

	require.Equal(t, 2, q.Len())
}

func TestDequeueEmptyReturnsErrQueueEmpty(t *testing.T) {
	q := NewMemoryQueue()
	_, err := q.Dequeue()
	require.ErrorIs(t, err, ErrQueueEmpty)
}

func TestDrainRespectsLimit(t *testing.T) {
	q := NewMemoryQueue()
	for _, uuid := range []string{"a", "b", "c"} {
		q.Enqueue(Item{UUID: uuid})
	}
	drained := q.Drain(2)
	require.Len(t, drained, 2)
	require.Equal(t, 1, q.Len())

	rest := q.Drain(0)
	require.Len(t, rest, 1)
	require.Equal(t, 0, q.Len())
}
