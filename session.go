package relay

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/google/uuid"
)

// sessionState names the points on spec §4.3's state machine. It is kept
// for introspection and tests; the session's actual concurrency control is
// the mutex-guarded fields below plus the notify/stop channels, not a
// switch over this type.
type sessionState int

const (
	stateIdle sessionState = iota
	stateConnecting
	stateWritable
	statePaused
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnecting:
		return "connecting"
	case stateWritable:
		return "writable"
	case statePaused:
		return "paused"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// session is the Client Session of spec §4.3/§9: one TCP connection to one
// destination, owned exclusively by its own run goroutine per the
// concurrency model in spec §5 ("confine each session's mutable state to
// one actor/goroutine"). Send only ever touches the queue and the mutex
// below; the blocking net.Conn.Write — the real backpressure point — runs
// only inside the run goroutine, so a blocked Write literally *is* the
// Paused state, with no separate producer/consumer channel pair needed.
type session struct {
	dest   Destination
	destKey string
	cfg    *Config
	fc     *flowControl

	queue *queue

	mu        sync.Mutex
	state     sessionState
	connected bool
	paused    bool

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}

	connectionMade   *OneShot[struct{}]
	connectFailed    *OneShot[error]
	connectionLost   *OneShot[error]
}

func newSession(dest Destination, cfg *Config, fc *flowControl) *session {
	s := &session{
		dest:           dest,
		destKey:        dest.String(),
		cfg:            cfg,
		fc:             fc,
		queue:          newQueue(),
		state:          stateIdle,
		notifyCh:       make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		connectionMade: NewOneShot[struct{}](),
		connectFailed:  NewOneShot[error](),
		connectionLost: NewOneShot[error](),
	}
	return s
}

// start launches the run goroutine. Called once per session, by
// Manager.StartClient or, for sessions added before the manager was
// running, by Manager.Start.
func (s *session) start() {
	go s.run()
}

// Send implements spec §4.3's send(metric, dp). Never blocks: it only
// mutates the queue and counters, then wakes the writer goroutine if the
// session is connected.
func (s *session) Send(metric string, dp Datapoint) {
	s.cfg.Metrics.IncrAttemptedRelays(s.destKey, 1)

	s.mu.Lock()
	connected, paused := s.connected, s.paused
	s.mu.Unlock()

	if s.queue.size() >= s.cfg.MaxQueueSize {
		s.cfg.Metrics.IncrFullQueueDrops(s.destKey, 1)
		return
	}

	size := s.queue.enqueue(Entry{Metric: metric, Point: dp})
	switch {
	case !connected:
		s.cfg.Metrics.IncrQueuedUntilConnected(s.destKey, 1)
	case paused:
		s.cfg.Metrics.IncrQueuedUntilReady(s.destKey, 1)
	}
	s.fc.OnEnqueue(size, s.cfg.MaxQueueSize)

	if connected {
		s.wake()
	}
}

func (s *session) wake() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Disconnect implements spec §4.3's disconnect(): stops reconnection and
// returns a channel that closes once the queue has drained and the
// transport is closed, or the connection has permanently failed.
func (s *session) Disconnect() <-chan struct{} {
	s.mu.Lock()
	if s.state != stateClosing && s.state != stateClosed {
		s.state = stateClosing
	}
	s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	return s.doneCh
}

// State reports the current point on the state machine, for diagnostics
// and tests.
func (s *session) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WhenQueueEmpty returns the session's one-shot empty signal (spec §4.2,
// §4.4's whenClientQueueEmpty).
func (s *session) WhenQueueEmpty() (<-chan struct{}, func() struct{}) {
	return s.queue.onEmpty()
}

func (s *session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	if !v {
		s.paused = false
	}
	s.mu.Unlock()
}

func (s *session) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	if v {
		s.state = statePaused
	} else if s.connected {
		s.state = stateWritable
	}
	s.mu.Unlock()
}

func (s *session) stopping() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

// run is the session's sole owning goroutine: connect, drain, repeat until
// stopped. Grounded on the reconnect-loop shape of CarbonClientFactory
// combined with the teacher's AdaptivePoll-driven retry idiom (poll.go),
// generalized to spec §4.3's exponential backoff with a 5s default
// ceiling.
func (s *session) run() {
	defer close(s.doneCh)
	defer s.setState(stateClosed)

	b := newBackoff(s.cfg.MinDelay, s.cfg.MaxDelay)

	for {
		if s.stopping() {
			return
		}

		s.setState(stateConnecting)
		conn, err := s.dial()
		if err != nil {
			attempt := uuid.New().String()
			log.Printf("relay: %s: connect attempt %s failed: %v", s.destKey, attempt, err)
			s.connectFailed.Fire(err)
			waitCtx, cancel := s.stopContext()
			werr := b.wait(waitCtx)
			cancel()
			if werr != nil {
				return // stopCh fired
			}
			continue
		}

		b.reset()
		s.setConnected(true)
		s.setState(stateWritable)
		s.connectionMade.Fire(struct{}{})

		lostErr := s.drainLoop(conn)
		conn.Close()
		s.setConnected(false)

		if s.stopping() {
			return
		}
		if lostErr != nil {
			log.Printf("relay: %s: connection lost: %v", s.destKey, lostErr)
			s.connectionLost.Fire(lostErr)
		}
	}
}

func (s *session) stopContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// dial makes one connect attempt. A Disconnect that arrives while the
// attempt is in flight cancels it only when the queue is empty; with
// datapoints queued the attempt runs on so the final drain can send them.
func (s *session) dial() (net.Conn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			if s.queue.size() == 0 {
				cancel()
			}
		case <-ctx.Done():
		}
	}()
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", s.dest.Addr())
	if err != nil {
		return nil, err
	}
	if s.cfg.Secure {
		sc, err := newSecureConn(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return sc, nil
	}
	return conn, nil
}

// drainLoop runs drainWhileWritable in a loop, waking on notifyCh,
// returning when the transport breaks or disconnect is requested. On a
// clean stop it attempts one final drain before returning, matching
// stopClient's "drains the queue if the transport is writable" (spec §5).
func (s *session) drainLoop(conn net.Conn) error {
	for {
		if err := s.drainWhileWritable(conn); err != nil {
			return err
		}
		select {
		case <-s.notifyCh:
			continue
		case <-s.stopCh:
			_ = s.drainWhileWritable(conn)
			return nil
		}
	}
}

// drainWhileWritable implements spec §4.3's drainWhileWritable(): while
// not paused and the queue is non-empty, take up to MaxDatapointsPerMessage
// entries, write one frame, bump sent, and evaluate the flow-control
// watermark.
func (s *session) drainWhileWritable(conn net.Conn) error {
	for {
		s.mu.Lock()
		paused := s.paused
		s.mu.Unlock()
		if paused {
			return nil
		}
		if s.queue.size() == 0 {
			return nil
		}

		batch := s.queue.takeBatch(s.cfg.MaxDatapointsPerMessage)
		if len(batch) == 0 {
			return nil
		}

		payload, err := EncodeBatch(batch)
		if err != nil {
			return fmt.Errorf("encode batch for %s: %w", s.destKey, err)
		}

		s.setPaused(true)
		writeErr := WriteFrame(conn, payload)
		s.setPaused(false)
		if writeErr != nil {
			return writeErr
		}

		s.cfg.Metrics.IncrSent(s.destKey, int64(len(batch)))
		s.fc.OnDrain(s.queue.size(), LowWatermark(s.cfg.MaxQueueSize))
	}
}

// connectSignal is a snapshot of the channels for this session's next
// connectionMade/connectFailed occurrence, captured by subscribeConnect
// before the session starts connecting. OneShot.Take() always observes
// the *next* occurrence (spec §9's design note), so the subscription must
// happen before start(), not after — otherwise a fast connect or failure
// can fire in between and the wait would miss it, blocking until a later
// reconnect instead. Grounded on CarbonClientManager.startClient, which
// builds its DeferredList over connectionMade/connectFailed before
// calling factory.startConnecting().
type connectSignal struct {
	made        <-chan struct{}
	failed      <-chan struct{}
	failedValue func() error
}

// subscribeConnect captures this session's next connect-settle signals.
// Callers must call this before start(), then wait on the result.
func (s *session) subscribeConnect() connectSignal {
	made, _ := s.connectionMade.Take()
	failed, value := s.connectFailed.Take()
	return connectSignal{made: made, failed: failed, failedValue: value}
}

// wait blocks until the subscribed connectionMade or connectFailed fires,
// or ctx is done.
func (c connectSignal) wait(ctx context.Context) error {
	select {
	case <-c.made:
		return nil
	case <-c.failed:
		return c.failedValue()
	case <-ctx.Done():
		return ctx.Err()
	}
}
