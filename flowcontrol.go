package relay

import "sync"

// flowControl is the Flow-Control Bus of spec §4.5/§9: a process-wide,
// level-triggered pause/resume surface shared by every session through the
// Manager. `metricReceiversPaused` is the level; pause/resume are the
// edge-triggered OneShot signals ingest attaches to.
type flowControl struct {
	mu      sync.Mutex
	paused  bool
	pause   *OneShot[struct{}]
	resume  *OneShot[struct{}]
	enabled bool
}

func newFlowControl(enabled bool) *flowControl {
	return &flowControl{
		enabled: enabled,
		pause:   NewOneShot[struct{}](),
		resume:  NewOneShot[struct{}](),
	}
}

// OnEnqueue is called by a session after growing its queue. If the queue
// just reached MaxQueueSize and the bus isn't already paused, it fires the
// pauseReceiving edge and flips the level.
func (f *flowControl) OnEnqueue(size, maxQueueSize int) {
	if !f.enabled || size < maxQueueSize {
		return
	}
	f.mu.Lock()
	if f.paused {
		f.mu.Unlock()
		return
	}
	f.paused = true
	pause := f.pause
	f.mu.Unlock()
	pause.Fire(struct{}{})
}

// OnDrain is called by a session after a drain step. If the bus is paused
// and this session's queue has fallen below the low watermark, it fires
// the resumeReceiving edge and clears the level. Per spec §4.5 this is a
// level check, not a per-session vote: any session crossing below its own
// low watermark while the bus is paused is enough to resume.
func (f *flowControl) OnDrain(size, lowWatermark int) {
	if !f.enabled || size >= lowWatermark {
		return
	}
	f.mu.Lock()
	if !f.paused {
		f.mu.Unlock()
		return
	}
	f.paused = false
	resume := f.resume
	f.mu.Unlock()
	resume.Fire(struct{}{})
}

// PauseReceiving returns the channel for the next pauseReceiving edge.
func (f *flowControl) PauseReceiving() (<-chan struct{}, func() struct{}) {
	f.mu.Lock()
	pause := f.pause
	f.mu.Unlock()
	return pause.Take()
}

// ResumeReceiving returns the channel for the next resumeReceiving edge.
func (f *flowControl) ResumeReceiving() (<-chan struct{}, func() struct{}) {
	f.mu.Lock()
	resume := f.resume
	f.mu.Unlock()
	return resume.Take()
}

// Paused reports the current level, for tests and diagnostics.
func (f *flowControl) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}
