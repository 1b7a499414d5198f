package engine

import (
	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// Event is published for every recorded transition and every run status
// change. Transition is nil for run-level events.
type Event struct {
	RunID      string
	Transition *run.Transition
	Status     run.Status
	Error      string
}

// Subscribe returns a channel receiving engine events. Slow subscribers lose
// events rather than stalling the run.
func (e *Engine) Subscribe() <-chan Event {
	ch := make(chan Event, 100)
	e.subMu.Lock()
	e.subscribers = append(e.subscribers, ch)
	e.subMu.Unlock()
	return ch
}

// Unsubscribe stops delivery to ch and closes it.
func (e *Engine) Unsubscribe(ch <-chan Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for i, s := range e.subscribers {
		if s == ch {
			close(s)
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

func (e *Engine) publish(ev Event) {
	e.subMu.RLock()
	defer e.subMu.RUnlock()
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			logging.Warn("Engine", "Dropped event for run %s (subscriber channel full)", ev.RunID)
		}
	}
}
