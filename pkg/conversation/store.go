package conversation

import (
	"sync"
)

// Scratch is the transient working state of the current agent run: the
// plan, the latest thought and the in-flight tool call. It is cleared on
// completion, failure and cancellation.
type Scratch struct {
	Plan     []string  `json:"plan"`
	Thought  string    `json:"thought"`
	ToolCall *ToolCall `json:"tool_call,omitempty"`
}

// Snapshot is a point-in-time, caller-owned copy of the store contents.
type Snapshot struct {
	Messages        []Message       `json:"messages"`
	Phase           ExecutionPhase  `json:"phase"`
	Scratch         Scratch         `json:"scratch"`
	ConnectionPhase ConnectionPhase `json:"connection_phase"`
	Ready           bool            `json:"ready"`
	Processing      bool            `json:"processing"`
	Error           *AgentError     `json:"error,omitempty"`
	ConnectionError string          `json:"connection_error,omitempty"`
}

// Store is the externally visible state container UI code reads. All
// mutation goes through the session; readers take snapshots.
type Store struct {
	mu sync.RWMutex

	messages        []Message
	phase           ExecutionPhase
	scratch         Scratch
	connectionPhase ConnectionPhase
	ready           bool
	err             *AgentError
	connectionError string
}

func NewStore() *Store {
	return &Store{
		phase:           PhaseIdle,
		connectionPhase: ConnDisconnected,
	}
}

// Snapshot copies the current state. The returned value shares nothing
// with the store, so callers may hold it across further mutations.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Messages:        make([]Message, len(s.messages)),
		Phase:           s.phase,
		Scratch:         copyScratch(s.scratch),
		ConnectionPhase: s.connectionPhase,
		Ready:           s.ready,
		Processing:      s.phase.Processing(),
		ConnectionError: s.connectionError,
	}
	copy(snap.Messages, s.messages)
	if s.err != nil {
		e := *s.err
		snap.Error = &e
	}
	return snap
}

func copyScratch(sc Scratch) Scratch {
	out := Scratch{Thought: sc.Thought}
	if sc.Plan != nil {
		out.Plan = append([]string(nil), sc.Plan...)
	}
	if sc.ToolCall != nil {
		tc := *sc.ToolCall
		if sc.ToolCall.Input != nil {
			tc.Input = make(map[string]any, len(sc.ToolCall.Input))
			for k, v := range sc.ToolCall.Input {
				tc.Input[k] = v
			}
		}
		out.ToolCall = &tc
	}
	return out
}

// Append adds messages to the history. History is append-only; entries are
// never mutated or removed except by Reset.
func (s *Store) Append(msgs ...Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	s.messages = append(s.messages, msgs...)
	s.mu.Unlock()
}

// Messages returns a copy of the history.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Phase returns the current execution phase.
func (s *Store) Phase() ExecutionPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Processing reports the pure projection of the current phase.
func (s *Store) Processing() bool {
	return s.Phase().Processing()
}

// SetExecution replaces the execution phase, scratch state and agent error
// in one step, keeping them mutually consistent.
func (s *Store) SetExecution(phase ExecutionPhase, scratch Scratch, err *AgentError) {
	s.mu.Lock()
	s.phase = phase
	s.scratch = scratch
	s.err = err
	s.mu.Unlock()
}

// ConnectionPhase returns the current transport lifecycle phase.
func (s *Store) ConnectionPhase() ConnectionPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionPhase
}

// SetConnectionPhase updates the transport lifecycle phase.
func (s *Store) SetConnectionPhase(p ConnectionPhase) {
	s.mu.Lock()
	s.connectionPhase = p
	if p != ConnOpen {
		s.ready = false
	}
	s.mu.Unlock()
}

// Ready reports whether the server has confirmed the handshake. Transport
// open alone is not enough; the server's connected event flips this.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// SetReady records server-confirmed readiness.
func (s *Store) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// ConnectionError returns the last transport-level failure, empty when the
// connection is healthy or was closed cleanly.
func (s *Store) ConnectionError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectionError
}

// SetConnectionError records or clears the transport-level failure.
func (s *Store) SetConnectionError(msg string) {
	s.mu.Lock()
	s.connectionError = msg
	s.mu.Unlock()
}

// Err returns the last server-reported application error, if any.
func (s *Store) Err() *AgentError {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err == nil {
		return nil
	}
	e := *s.err
	return &e
}

// SetErr records a server-reported error without touching the phase. Used
// for diagnostics from late events that must not change execution state.
func (s *Store) SetErr(err *AgentError) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Reset drops the history and all derived execution state. The only way
// message history is ever discarded. Connection state is live and is left
// alone.
func (s *Store) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.phase = PhaseIdle
	s.scratch = Scratch{}
	s.err = nil
	s.mu.Unlock()
}
