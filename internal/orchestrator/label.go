package orchestrator

import (
	"sync"
	"time"
)

// Well-known label values.
const (
	LabelIdle     = "IDLE"
	LabelScanner  = "NetworkScanner"
	LabelStarting = "STARTING"
	LabelStopped  = "STOPPED"
)

// LabelState is a point-in-time reading of the status label.
type LabelState struct {
	Action string    `json:"action"`
	Target string    `json:"target,omitempty"`
	At     time.Time `json:"at"`
}

// Label is the advisory "currently executing" indicator. It is written by
// the orchestrator and read by observers; nothing in the scheduler reads it
// back to make decisions.
type Label struct {
	mu       sync.RWMutex
	state    LabelState
	subs     map[int]chan LabelState
	nextID   int
	onChange []func(LabelState)
	now      func() time.Time
}

// NewLabel creates a label reading LabelStarting.
func NewLabel() *Label {
	l := &Label{
		subs: make(map[int]chan LabelState),
		now:  time.Now,
	}
	l.state = LabelState{Action: LabelStarting, At: l.now()}
	return l
}

// Set replaces the label and notifies subscribers. Subscribers that are not
// keeping up miss intermediate values.
func (l *Label) Set(action, target string) {
	l.mu.Lock()
	l.state = LabelState{Action: action, Target: target, At: l.now()}
	state := l.state
	hooks := l.onChange
	for _, ch := range l.subs {
		select {
		case ch <- state:
		default:
		}
	}
	l.mu.Unlock()

	for _, fn := range hooks {
		fn(state)
	}
}

// Snapshot returns the current value.
func (l *Label) Snapshot() LabelState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Subscribe returns a channel receiving every subsequent change and a
// function that unsubscribes and closes the channel.
func (l *Label) Subscribe(buffer int) (<-chan LabelState, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan LabelState, buffer)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

// OnChange registers fn to be called synchronously after every Set.
func (l *Label) OnChange(fn func(LabelState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}
