package relay

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// staticRouter is a trivial test double for the Router interface spec §6
// describes as an external collaborator.
type staticRouter struct {
	mu    sync.Mutex
	table map[string][]Destination
	added map[Destination]bool
}

func newStaticRouter(table map[string][]Destination) *staticRouter {
	return &staticRouter{table: table, added: make(map[Destination]bool)}
}

func (r *staticRouter) AddDestination(dest Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added[dest] = true
}

func (r *staticRouter) RemoveDestination(dest Destination) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.added, dest)
}

func (r *staticRouter) GetDestinations(metric string) []Destination {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Destination
	for _, d := range r.table[metric] {
		if r.added[d] {
			out = append(out, d)
		}
	}
	return out
}

// S6: one sendDatapoint fans out to every destination the router selects.
func TestManagerFanOut(t *testing.T) {
	addr1 := reservePort(t)
	addr2 := reservePort(t)
	fs1 := newFrameServer(t, addr1)
	defer fs1.close()
	fs2 := newFrameServer(t, addr2)
	defer fs2.close()

	d1 := destFromAddr(t, addr1, "d1")
	d2 := destFromAddr(t, addr2, "d2")
	router := newStaticRouter(map[string][]Destination{"m": {d1, d2}})

	cfg := testConfig()
	mgr := NewManager(router, cfg)
	mgr.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := mgr.StartClient(ctx, d1); err != nil {
		t.Fatalf("StartClient(d1): %v", err)
	}
	if _, err := mgr.StartClient(ctx, d2); err != nil {
		t.Fatalf("StartClient(d2): %v", err)
	}

	waitConnected(t, mgr, d1)
	waitConnected(t, mgr, d2)

	dp := Datapoint{Timestamp: 42, Value: 3.14}
	mgr.SendDatapoint("m", dp)

	f1 := fs1.waitForFrames(1, 2*time.Second)
	f2 := fs2.waitForFrames(1, 2*time.Second)
	if f1 == nil || f2 == nil {
		t.Fatalf("fan-out did not reach both destinations")
	}
	want, _ := EncodeBatch([]Entry{{Metric: "m", Point: dp}})
	if !bytes.Equal(f1[0], want) {
		t.Errorf("d1 frame mismatch")
	}
	if !bytes.Equal(f2[0], want) {
		t.Errorf("d2 frame mismatch")
	}

	mgr.StopAllClients()
}

func waitConnected(t *testing.T, mgr *Manager, dest Destination) {
	t.Helper()
	mgr.mu.RLock()
	s, ok := mgr.sessions[dest]
	mgr.mu.RUnlock()
	if !ok {
		t.Fatalf("waitConnected: %s has no session", dest)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		connected := s.connected
		s.mu.Unlock()
		if connected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session for %s never reached connected", dest)
}

func TestManagerStartClientIdempotent(t *testing.T) {
	addr := reservePort(t)
	fs := newFrameServer(t, addr)
	defer fs.close()
	dest := destFromAddr(t, addr, "x")

	router := newStaticRouter(nil)
	mgr := NewManager(router, testConfig())
	mgr.Start()

	ctx := context.Background()
	if _, err := mgr.StartClient(ctx, dest); err != nil {
		t.Fatalf("first StartClient: %v", err)
	}
	if _, err := mgr.StartClient(ctx, dest); err == nil {
		t.Fatalf("second StartClient for the same destination: want ErrAlreadyStarted, got nil")
	}
	mgr.StopAllClients()
}

func TestManagerStopClientUnknownDestination(t *testing.T) {
	mgr := NewManager(newStaticRouter(nil), testConfig())
	err := mgr.StopClient(Destination{Host: "10.0.0.1", Port: 2004})
	if err == nil {
		t.Fatalf("StopClient on an unregistered destination: want error, got nil")
	}
}

func TestManagerWhenClientQueueEmpty(t *testing.T) {
	addr := reservePort(t)
	dest := destFromAddr(t, addr, "q")
	router := newStaticRouter(map[string][]Destination{"m": {dest}})
	mgr := NewManager(router, testConfig())
	mgr.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := mgr.StartClient(ctx, dest); err != nil {
		t.Fatalf("StartClient: %v", err)
	}

	// Nothing is listening, so sends land in the queue and stay there.
	mgr.SendDatapoint("m", Datapoint{Timestamp: 1, Value: 1})

	done, _, err := mgr.WhenClientQueueEmpty(dest)
	if err != nil {
		t.Fatalf("WhenClientQueueEmpty: %v", err)
	}
	select {
	case <-done:
		t.Fatalf("queue-empty fired with a pending datapoint and no destination up")
	default:
	}

	fs := newFrameServer(t, addr)
	defer fs.close()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("queue-empty never fired once the destination came up")
	}

	mgr.StopAllClients()
}

func TestManagerSendDatapointToUnknownMetricIsNoop(t *testing.T) {
	mgr := NewManager(newStaticRouter(nil), testConfig())
	mgr.Start()
	mgr.SendDatapoint("nowhere", Datapoint{Timestamp: 1, Value: 1})
}
