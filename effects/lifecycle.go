package effects

import "sync/atomic"

// State is the lifecycle state of a connection.
type State int32

const (
	StateCreated State = iota
	StateOpen
	StateDisposing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpen:
		return "open"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Lifecycle is the Created -> Open -> Disposing -> Disposed state machine shared by
// connection implementations. The zero value is in StateCreated.
// There is no transition out of StateDisposing or StateDisposed back to StateOpen.
type Lifecycle struct {
	state atomic.Int32
}

// Open moves Created to Open. It reports false in any other state.
func (l *Lifecycle) Open() bool {
	return l.state.CompareAndSwap(int32(StateCreated), int32(StateOpen))
}

// BeginDispose moves Created or Open to Disposing. Only the first caller gets true.
func (l *Lifecycle) BeginDispose() bool {
	for {
		cur := State(l.state.Load())
		if cur != StateCreated && cur != StateOpen {
			return false
		}
		if l.state.CompareAndSwap(int32(cur), int32(StateDisposing)) {
			return true
		}
	}
}

// FinishDispose moves Disposing to Disposed.
func (l *Lifecycle) FinishDispose() {
	l.state.CompareAndSwap(int32(StateDisposing), int32(StateDisposed))
}

func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

func (l *Lifecycle) IsOpen() bool {
	return l.State() == StateOpen
}
