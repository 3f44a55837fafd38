package queue

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeque(t *testing.T) {
	assert := assert.New(t)

	t.Run("Empty Queue", func(t *testing.T) {
		q := NewDeque[string](1)

		assert.True(q.IsEmpty())
		assert.Equal(0, q.Length())
		_, ok := q.Dequeue()
		assert.False(ok)
		_, ok = q.Peek()
		assert.False(ok)
	})

	t.Run("Enqueue and Dequeue", func(t *testing.T) {
		q := NewDeque[string](1)

		q.Enqueue("G28")
		q.Enqueue("G1 X10", "M114")
		assert.Equal(3, q.Length())

		for _, want := range []string{"G28", "G1 X10", "M114"} {
			got, ok := q.Dequeue()
			assert.True(ok)
			assert.Equal(want, got)
		}
		assert.True(q.IsEmpty())
	})

	t.Run("EnqueueFront keeps order", func(t *testing.T) {
		q := NewDeque[string](4)

		q.Enqueue("queued1", "queued2")
		q.EnqueueFront("urgent1", "urgent2")

		assert.Equal([]string{"urgent1", "urgent2", "queued1", "queued2"}, q.Drain())
		assert.True(q.IsEmpty())
	})

	t.Run("Peek", func(t *testing.T) {
		q := NewDeque[string](1)
		q.Enqueue("M105")

		item, ok := q.Peek()
		assert.True(ok)
		assert.Equal("M105", item)
		assert.Equal(1, q.Length())
	})

	t.Run("Reset", func(t *testing.T) {
		q := NewDeque[string](1)
		q.Enqueue("a", "b")
		q.Reset()
		assert.True(q.IsEmpty())
	})

	t.Run("Wake signal", func(t *testing.T) {
		q := NewDeque[string](1)

		go func() {
			time.Sleep(10 * time.Millisecond)
			q.Enqueue("G4 P1")
		}()

		select {
		case <-q.Wait():
		case <-time.After(time.Second):
			t.Fatal("wake signal not received")
		}

		item, ok := q.Dequeue()
		assert.True(ok)
		assert.Equal("G4 P1", item)
	})

	t.Run("Signal without item", func(t *testing.T) {
		q := NewDeque[string](1)
		q.Signal()
		q.Signal() // coalesced

		select {
		case <-q.Wait():
		default:
			t.Fatal("expected pending signal")
		}
		select {
		case <-q.Wait():
			t.Fatal("signals should coalesce")
		default:
		}
	})

	t.Run("Concurrency", func(t *testing.T) {
		q := NewDeque[string](1)

		var wg sync.WaitGroup
		for i := 0; i < 1000; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					q.Enqueue(strconv.Itoa(i))
				} else {
					q.EnqueueFront(strconv.Itoa(i))
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(1000, q.Length())

		seen := make(map[string]bool)
		for {
			item, ok := q.Dequeue()
			if !ok {
				break
			}
			seen[item] = true
		}
		assert.Len(seen, 1000)
	})
}
