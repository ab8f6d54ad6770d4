package relay

import (
	"context"
	"fmt"
	"sync"
)

// Manager is the Client Manager of spec §4.4: the set of sessions keyed by
// destination, exclusively owning its map the way spec §5 requires
// ("the Manager's map is also single-owner") by serializing every mutation
// through its own RWMutex-guarded methods.
type Manager struct {
	cfg    *Config
	router Router
	fc     *flowControl

	mu       sync.RWMutex
	sessions map[Destination]*session
	running  bool
}

// NewManager builds a Manager bound to router and configured by cfg. cfg
// should come from relay.New; a nil cfg gets library defaults.
func NewManager(router Router, cfg *Config) *Manager {
	if cfg == nil {
		cfg = New()
	}
	return &Manager{
		cfg:      cfg,
		router:   router,
		fc:       newFlowControl(cfg.UseFlowControl),
		sessions: make(map[Destination]*session),
	}
}

// Start marks the manager running and connects every already-registered
// session, matching spec §3's "start connects all registered sessions".
func (m *Manager) Start() {
	m.mu.Lock()
	m.running = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.start()
	}
}

// ConnectResult is delivered on the channel StartClient returns: the
// outcome of the first connectionMade-or-connectFailed settle.
type ConnectResult struct {
	Err error
}

// StartClient implements spec §4.4's startClient(dest): idempotent,
// registers dest with the Router, creates a Session, starts connecting iff
// the manager is running, and returns a signal that fires on the first of
// connectionMade or connectFailed. ctx bounds the wait for that signal
// only; it never affects the session's own reconnect loop.
func (m *Manager) StartClient(ctx context.Context, dest Destination) (<-chan ConnectResult, error) {
	m.mu.Lock()
	if _, ok := m.sessions[dest]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	s := newSession(dest, m.cfg, m.fc)
	m.sessions[dest] = s
	running := m.running
	m.mu.Unlock()

	m.router.AddDestination(dest)

	// Subscribe before start(): start()'s run goroutine can dial and fire
	// connectionMade/connectFailed immediately, and OneShot.Take() always
	// observes the *next* occurrence, so subscribing afterward could race
	// a fast connect and miss it (see session.go's connectSignal).
	sig := s.subscribeConnect()
	if running {
		s.start()
	}

	result := make(chan ConnectResult, 1)
	go func() {
		result <- ConnectResult{Err: sig.wait(ctx)}
	}()
	return result, nil
}

// StopClient implements spec §4.4's stopClient(dest): removes dest from
// the Router, initiates session disconnect, and removes the session from
// the map once it settles.
func (m *Manager) StopClient(dest Destination) error {
	m.mu.Lock()
	s, ok := m.sessions[dest]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDestination, dest)
	}

	m.router.RemoveDestination(dest)
	done := s.Disconnect()
	<-done

	m.mu.Lock()
	delete(m.sessions, dest)
	m.mu.Unlock()
	return nil
}

// StopAllClients implements spec §4.4's stopAllClients(): fans out
// disconnects and returns once every session has settled.
func (m *Manager) StopAllClients() {
	m.mu.Lock()
	dests := make([]Destination, 0, len(m.sessions))
	for d := range m.sessions {
		dests = append(dests, d)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, d := range dests {
		wg.Add(1)
		go func(d Destination) {
			defer wg.Done()
			_ = m.StopClient(d)
		}(d)
	}
	wg.Wait()
}

// SendDatapoint implements spec §4.4's sendDatapoint(metric, dp): asks the
// Router for the destination set and forwards to each session's Send. It
// never blocks and never merges/deduplicates across destinations.
func (m *Manager) SendDatapoint(metric string, dp Datapoint) {
	for _, dest := range m.router.GetDestinations(metric) {
		m.mu.RLock()
		s, ok := m.sessions[dest]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		s.Send(metric, dp)
	}
}

// WhenClientQueueEmpty implements spec §4.4's whenClientQueueEmpty(dest).
func (m *Manager) WhenClientQueueEmpty(dest Destination) (<-chan struct{}, func() struct{}, error) {
	m.mu.RLock()
	s, ok := m.sessions[dest]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownDestination, dest)
	}
	done, value := s.WhenQueueEmpty()
	return done, value, nil
}

// PauseReceiving returns the process-wide pauseReceiving edge signal
// (spec §4.5/§6), shared across every session this manager owns.
func (m *Manager) PauseReceiving() (<-chan struct{}, func() struct{}) {
	return m.fc.PauseReceiving()
}

// ResumeReceiving returns the process-wide resumeReceiving edge signal.
func (m *Manager) ResumeReceiving() (<-chan struct{}, func() struct{}) {
	return m.fc.ResumeReceiving()
}
