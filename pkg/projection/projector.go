// Package projection derives the execution phase and transient scratch
// state of a conversation from the stream of inbound events and local
// commands. Apply functions are pure: (state, signal) in, (state, effects)
// out, with no I/O and no clock.
package projection

import (
	"github.com/lexio-ai/agentstream/pkg/conversation"
	"github.com/lexio-ai/agentstream/pkg/protocol"
)

// State is the projector's full input and output: the discrete phase plus
// the scratch the UI shows while a run is in flight.
type State struct {
	Phase   conversation.ExecutionPhase
	Scratch conversation.Scratch
	Err     *conversation.AgentError
}

// Initial returns the state of a fresh conversation.
func Initial() State {
	return State{Phase: conversation.PhaseIdle}
}

// Effect is a side request the projector asks its caller to carry out.
// The projector itself never touches the store.
type Effect struct {
	Append  []conversation.Message
	Anomaly string
}

// ApplyQuery handles a locally submitted query: scratch is reset, the user
// message is appended optimistically, and the phase moves to Executing.
func ApplyQuery(st State, content, contextType string, contextData map[string]any) (State, Effect) {
	next := State{Phase: conversation.PhaseExecuting}
	eff := Effect{Append: []conversation.Message{
		conversation.NewUserMessage(content, contextType, contextData),
	}}
	return next, eff
}

// ApplyCancel handles a local cancellation. It is optimistic: the phase
// flips immediately, without waiting for the server.
func ApplyCancel(st State) (State, Effect) {
	return State{Phase: conversation.PhaseCancelled}, Effect{}
}

// ApplyEvent folds one inbound event into the state.
//
// Once cancelled, the phase is sticky against every event until the next
// local command: late answers are appended for audit, late errors are
// recorded on the state's Err field, and server state pushes are reported
// as anomalies, but processing is never resurrected.
func ApplyEvent(st State, ev protocol.Event) (State, Effect) {
	if st.Phase == conversation.PhaseCancelled {
		return applyAfterCancel(st, ev)
	}

	switch e := ev.(type) {
	case protocol.Connected:
		if st.Phase == conversation.PhaseConnecting {
			return State{Phase: conversation.PhaseIdle}, Effect{}
		}
		return st, Effect{}

	case protocol.StatePush:
		phase, ok := conversation.ParseExecutionPhase(e.State)
		if !ok {
			return st, Effect{Anomaly: "unknown server state " + e.State}
		}
		next := st
		next.Phase = phase
		return next, Effect{}

	case protocol.Plan:
		next := st
		next.Scratch.Plan = e.Steps
		return next, Effect{}

	case protocol.Thought:
		next := st
		next.Scratch.Thought = e.Text
		return next, Effect{}

	case protocol.Action:
		next := st
		next.Scratch.ToolCall = &conversation.ToolCall{
			ToolName: e.Tool,
			Input:    e.Input,
			Status:   conversation.ToolRunning,
		}
		return next, Effect{}

	case protocol.Observation:
		if st.Scratch.ToolCall == nil {
			return st, Effect{Anomaly: "observation without an active tool call"}
		}
		next := st
		tc := *st.Scratch.ToolCall
		tc.Status = conversation.ToolSuccess
		tc.Output = e.Output
		next.Scratch.ToolCall = &tc
		return next, Effect{}

	case protocol.Answer:
		next := State{Phase: conversation.PhaseCompleted}
		eff := Effect{Append: []conversation.Message{
			conversation.NewAssistantMessage(e.Content, nil),
		}}
		return next, eff

	case protocol.ServerError:
		next := State{
			Phase: conversation.PhaseFailed,
			Err:   &conversation.AgentError{Message: e.Message, Code: e.Code},
		}
		return next, Effect{}

	case protocol.Cancelled:
		// Idempotent with the local cancel transition.
		return State{Phase: conversation.PhaseCancelled}, Effect{}

	default:
		return st, Effect{Anomaly: "unhandled event"}
	}
}

// applyAfterCancel keeps Cancelled sticky while still recording what the
// server kept sending.
func applyAfterCancel(st State, ev protocol.Event) (State, Effect) {
	switch e := ev.(type) {
	case protocol.Answer:
		return st, Effect{Append: []conversation.Message{
			conversation.NewAssistantMessage(e.Content, nil),
		}}
	case protocol.ServerError:
		next := st
		next.Err = &conversation.AgentError{Message: e.Message, Code: e.Code}
		return next, Effect{}
	case protocol.StatePush:
		return st, Effect{Anomaly: "server state push after cancellation ignored"}
	case protocol.Cancelled, protocol.Connected:
		return st, Effect{}
	default:
		return st, Effect{}
	}
}
