package protocol

// Event is one inbound server push. The family is closed; decoding an
// unknown type is an error, never a silent drop.
type Event interface {
	EventType() string
}

const (
	EventConnected   = "connected"
	EventState       = "state"
	EventPlan        = "plan"
	EventThought     = "thought"
	EventAction      = "action"
	EventObservation = "observation"
	EventAnswer      = "answer"
	EventError       = "error"
	EventCancelled   = "cancelled"
)

// Connected is the server-side handshake confirmation. The transport-level
// open is not authoritative; this event is.
type Connected struct{}

func (Connected) EventType() string { return EventConnected }

// StatePush is an explicit server assertion of the execution phase.
type StatePush struct {
	State string `json:"state"`
}

func (StatePush) EventType() string { return EventState }

// Plan carries the agent's current step list.
type Plan struct {
	Steps []string `json:"plan"`
}

func (Plan) EventType() string { return EventPlan }

// Thought carries the agent's latest reasoning text.
type Thought struct {
	Text string `json:"content"`
}

func (Thought) EventType() string { return EventThought }

// Action announces a tool invocation.
type Action struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input,omitempty"`
}

func (Action) EventType() string { return EventAction }

// Observation carries the result of the preceding action.
type Observation struct {
	Output string `json:"content"`
}

func (Observation) EventType() string { return EventObservation }

// Answer is the final response for the current query.
type Answer struct {
	Content string `json:"content"`
}

func (Answer) EventType() string { return EventAnswer }

// ServerError is an application-level failure reported by the server.
type ServerError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (ServerError) EventType() string { return EventError }

// Cancelled is the server-side confirmation of a cancellation.
type Cancelled struct{}

func (Cancelled) EventType() string { return EventCancelled }
