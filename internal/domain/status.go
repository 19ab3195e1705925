package domain

import "sync"

type Status string

const (
	// StatusRunning means starting up or reconnecting to the store.
	StatusRunning    Status = "running"
	StatusRun        Status = "run"
	StatusProcessing Status = "processing"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
)

// Idle reports whether no handler invocation is in flight.
func (s Status) Idle() bool { return s != StatusProcessing }

// State is a status value safe for use from several goroutines.
type State struct {
	mu sync.RWMutex
	s  Status
}

func NewState(s Status) *State {
	return &State{s: s}
}

func (st *State) Load() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

func (st *State) Store(s Status) {
	st.mu.Lock()
	st.s = s
	st.mu.Unlock()
}

func (st *State) CompareAndSwap(old, next Status) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.s != old {
		return false
	}
	st.s = next
	return true
}
