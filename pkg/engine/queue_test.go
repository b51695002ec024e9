package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_EnqueueDeduplicates(t *testing.T) {
	q := NewRecalculationQueue()

	q.Enqueue([]string{"addr1", "addr2"}, PriorityNormal)
	q.Enqueue([]string{"addr1"}, PriorityNormal)

	assert.Equal(t, 2, q.Size())

	addresses := q.DrainAll()
	assert.Len(t, addresses, 2)
	assert.ElementsMatch(t, []string{"addr1", "addr2"}, addresses)
}

func TestQueue_ReEnqueueOverwrites(t *testing.T) {
	q := NewRecalculationQueue()

	q.Enqueue([]string{"addr1"}, PriorityNormal)
	q.Enqueue([]string{"addr1"}, PriorityHigh)

	items := q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, PriorityHigh, items[0].Priority)
}

func TestQueue_DrainAllClears(t *testing.T) {
	q := NewRecalculationQueue()

	q.Enqueue([]string{"addr1", "addr2", "addr3"}, PriorityNormal)
	first := q.DrainAll()
	assert.Len(t, first, 3)

	assert.Zero(t, q.Size())
	assert.Empty(t, q.DrainAll())
}

func TestQueue_DrainOrdersByPriority(t *testing.T) {
	q := NewRecalculationQueue()

	q.Enqueue([]string{"low1", "low2"}, PriorityNormal)
	q.Enqueue([]string{"high1"}, PriorityHigh)

	addresses := q.DrainAll()
	require.Len(t, addresses, 3)
	assert.Equal(t, "high1", addresses[0])
}

func TestQueue_EmptyAndBlankAddressesIgnored(t *testing.T) {
	q := NewRecalculationQueue()

	q.Enqueue(nil, PriorityNormal)
	q.Enqueue([]string{"", "addr1"}, PriorityNormal)

	assert.Equal(t, 1, q.Size())
}

func TestQueue_ConcurrentEnqueueDuringDrainLosesNothing(t *testing.T) {
	q := NewRecalculationQueue()

	const (
		writers   = 8
		perWriter = 200
	)

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				q.Enqueue([]string{fmt.Sprintf("w%d-a%d", w, i)}, PriorityNormal)
			}
		}(w)
	}

	seen := drainUntilDone(q, func() { wg.Wait() })

	assert.Len(t, seen, writers*perWriter, "every enqueued address must be drained exactly once overall")
	assert.Zero(t, q.Size())
}

// A change-feed notification can hand the queue tens of thousands of
// addresses in a single call, so a drain racing that call must see the batch
// as a unit instead of splitting it across the map swap.
func TestQueue_LargeBatchEnqueueOverlappingDrains(t *testing.T) {
	q := NewRecalculationQueue()

	const (
		writers   = 4
		batchSize = 25_000
	)

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			batch := make([]string, batchSize)
			for i := range batch {
				batch[i] = fmt.Sprintf("w%d-a%d", w, i)
			}
			q.Enqueue(batch, PriorityNormal)
		}(w)
	}

	seen := drainUntilDone(q, func() { wg.Wait() })

	assert.Len(t, seen, writers*batchSize, "no part of a batch may be stranded in a drained snapshot")
	assert.Zero(t, q.Size())
}

// drainUntilDone drains the queue in a tight loop while wait blocks on the
// enqueuers, then performs a final drain to collect stragglers.
func drainUntilDone(q *RecalculationQueue, wait func()) map[string]bool {
	seen := make(map[string]bool)
	var seenMu sync.Mutex

	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			for _, addr := range q.DrainAll() {
				seenMu.Lock()
				seen[addr] = true
				seenMu.Unlock()
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	wait()
	close(stop)
	<-drained

	for _, addr := range q.DrainAll() {
		seen[addr] = true
	}
	return seen
}
