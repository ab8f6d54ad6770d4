package relay

import "testing"

func TestQueueEnqueueTakeBatchOrder(t *testing.T) {
	q := newQueue()
	for i := 0; i < 5; i++ {
		q.enqueue(Entry{Metric: "m", Point: Datapoint{Timestamp: int64(i)}})
	}
	if got := q.size(); got != 5 {
		t.Fatalf("size() = %d, want 5", got)
	}

	batch := q.takeBatch(3)
	if len(batch) != 3 {
		t.Fatalf("takeBatch(3) returned %d entries, want 3", len(batch))
	}
	for i, e := range batch {
		if e.Point.Timestamp != int64(i) {
			t.Errorf("batch[%d].Point.Timestamp = %d, want %d", i, e.Point.Timestamp, i)
		}
	}
	if got := q.size(); got != 2 {
		t.Fatalf("size() after takeBatch = %d, want 2", got)
	}
}

func TestQueueTakeBatchMoreThanAvailable(t *testing.T) {
	q := newQueue()
	q.enqueue(Entry{Metric: "m"})
	batch := q.takeBatch(10)
	if len(batch) != 1 {
		t.Fatalf("takeBatch(10) on 1-entry queue returned %d, want 1", len(batch))
	}
	if q.size() != 0 {
		t.Fatalf("size() after draining = %d, want 0", q.size())
	}
}

func TestQueueOnEmptyFiresOnDrain(t *testing.T) {
	q := newQueue()
	q.enqueue(Entry{Metric: "m"})

	done, _ := q.onEmpty()
	select {
	case <-done:
		t.Fatalf("onEmpty fired before queue drained")
	default:
	}

	q.takeBatch(1)

	select {
	case <-done:
	default:
		t.Fatalf("onEmpty did not fire once queue drained")
	}
}

func TestQueueTakeBatchZeroWhenEmptyDoesNotFire(t *testing.T) {
	q := newQueue()
	done, _ := q.onEmpty()
	q.takeBatch(5)
	select {
	case <-done:
		t.Fatalf("onEmpty fired on a no-op takeBatch of an already-empty queue")
	default:
	}
}
