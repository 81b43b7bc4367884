package projection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexio-ai/agentstream/pkg/conversation"
	"github.com/lexio-ai/agentstream/pkg/protocol"
)

func TestConnectedMovesConnectingToIdle(t *testing.T) {
	st := State{Phase: conversation.PhaseConnecting}
	st, eff := ApplyEvent(st, protocol.Connected{})
	assert.Equal(t, conversation.PhaseIdle, st.Phase)
	assert.Empty(t, eff.Append)
	assert.False(t, st.Phase.Processing())
}

func TestConnectedOutsideConnectingIsANoOp(t *testing.T) {
	st := State{Phase: conversation.PhaseCompleted}
	st, _ = ApplyEvent(st, protocol.Connected{})
	assert.Equal(t, conversation.PhaseCompleted, st.Phase)
}

func TestQueryStartsRunWithFreshScratch(t *testing.T) {
	st := State{
		Phase: conversation.PhaseCompleted,
		Scratch: conversation.Scratch{
			Plan:    []string{"leftover"},
			Thought: "stale",
			ToolCall: &conversation.ToolCall{
				ToolName: "old", Status: conversation.ToolSuccess,
			},
		},
	}
	st, eff := ApplyQuery(st, "Explain X", "selection", map[string]any{"selection": "X"})

	assert.Equal(t, conversation.PhaseExecuting, st.Phase)
	assert.Empty(t, st.Scratch.Plan)
	assert.Empty(t, st.Scratch.Thought)
	assert.Nil(t, st.Scratch.ToolCall)
	require.Len(t, eff.Append, 1)
	assert.Equal(t, conversation.RoleUser, eff.Append[0].Role)
	assert.Equal(t, "Explain X", eff.Append[0].Content)
	assert.Equal(t, "selection", eff.Append[0].ContextType)
}

func TestFullRunProducesAnswer(t *testing.T) {
	st := State{Phase: conversation.PhaseIdle}
	st, eff := ApplyQuery(st, "Explain X", "", nil)
	require.Len(t, eff.Append, 1)

	st, _ = ApplyEvent(st, protocol.Plan{Steps: []string{"look it up", "answer"}})
	assert.Equal(t, []string{"look it up", "answer"}, st.Scratch.Plan)
	assert.True(t, st.Phase.Processing())

	st, _ = ApplyEvent(st, protocol.Thought{Text: "I should search"})
	assert.Equal(t, "I should search", st.Scratch.Thought)

	st, _ = ApplyEvent(st, protocol.Action{Tool: "search", Input: map[string]any{"q": "X"}})
	require.NotNil(t, st.Scratch.ToolCall)
	assert.Equal(t, conversation.ToolRunning, st.Scratch.ToolCall.Status)

	st, _ = ApplyEvent(st, protocol.Observation{Output: "found it"})
	require.NotNil(t, st.Scratch.ToolCall)
	assert.Equal(t, conversation.ToolSuccess, st.Scratch.ToolCall.Status)
	assert.Equal(t, "found it", st.Scratch.ToolCall.Output)

	st, eff = ApplyEvent(st, protocol.Answer{Content: "X means..."})
	assert.Equal(t, conversation.PhaseCompleted, st.Phase)
	assert.False(t, st.Phase.Processing())
	assert.Nil(t, st.Scratch.ToolCall)
	assert.Empty(t, st.Scratch.Plan)
	require.Len(t, eff.Append, 1)
	assert.Equal(t, conversation.RoleAssistant, eff.Append[0].Role)
	assert.Equal(t, "X means...", eff.Append[0].Content)
}

func TestServerErrorClearsScratch(t *testing.T) {
	st := State{
		Phase: conversation.PhaseExecuting,
		Scratch: conversation.Scratch{
			Plan:     []string{"step"},
			Thought:  "mid-flight",
			ToolCall: &conversation.ToolCall{ToolName: "search", Status: conversation.ToolRunning},
		},
	}
	st, _ = ApplyEvent(st, protocol.ServerError{Message: "timeout"})

	assert.Equal(t, conversation.PhaseFailed, st.Phase)
	require.NotNil(t, st.Err)
	assert.Equal(t, "timeout", st.Err.Message)
	assert.Empty(t, st.Scratch.Plan)
	assert.Empty(t, st.Scratch.Thought)
	assert.Nil(t, st.Scratch.ToolCall)
}

func TestStatePushOverridesPhase(t *testing.T) {
	st := State{Phase: conversation.PhaseIdle}
	st, eff := ApplyEvent(st, protocol.StatePush{State: "loading_context"})
	assert.Equal(t, conversation.PhaseLoadingContext, st.Phase)
	assert.True(t, st.Phase.Processing())
	assert.Empty(t, eff.Anomaly)
}

func TestStatePushUnknownStateIsAnAnomaly(t *testing.T) {
	st := State{Phase: conversation.PhaseExecuting}
	next, eff := ApplyEvent(st, protocol.StatePush{State: "daydreaming"})
	assert.Equal(t, st.Phase, next.Phase)
	assert.NotEmpty(t, eff.Anomaly)
}

func TestObservationWithoutToolCallIsAnAnomaly(t *testing.T) {
	st := State{Phase: conversation.PhaseExecuting}
	next, eff := ApplyEvent(st, protocol.Observation{Output: "orphan"})
	assert.Nil(t, next.Scratch.ToolCall)
	assert.NotEmpty(t, eff.Anomaly)
	assert.Equal(t, conversation.PhaseExecuting, next.Phase)
}

func TestLocalCancelIsImmediateAndIdempotent(t *testing.T) {
	st := State{Phase: conversation.PhaseExecuting, Scratch: conversation.Scratch{Thought: "x"}}
	st, _ = ApplyCancel(st)
	assert.Equal(t, conversation.PhaseCancelled, st.Phase)
	assert.Empty(t, st.Scratch.Thought)

	again, _ := ApplyCancel(st)
	assert.Equal(t, st, again)
}

func TestServerCancelledMatchesLocalCancel(t *testing.T) {
	st := State{Phase: conversation.PhaseExecuting}
	st, _ = ApplyEvent(st, protocol.Cancelled{})
	assert.Equal(t, conversation.PhaseCancelled, st.Phase)

	// Server confirmation after an optimistic local cancel changes nothing.
	st, _ = ApplyEvent(st, protocol.Cancelled{})
	assert.Equal(t, conversation.PhaseCancelled, st.Phase)
}

func TestCancelledIsStickyAgainstLateEvents(t *testing.T) {
	st := State{Phase: conversation.PhaseExecuting}
	st, _ = ApplyCancel(st)

	// A late answer is appended for audit but never reopens processing.
	st, eff := ApplyEvent(st, protocol.Answer{Content: "too late"})
	assert.Equal(t, conversation.PhaseCancelled, st.Phase)
	assert.False(t, st.Phase.Processing())
	require.Len(t, eff.Append, 1)
	assert.Equal(t, "too late", eff.Append[0].Content)

	// Server state pushes cannot resurrect processing either.
	st, eff = ApplyEvent(st, protocol.StatePush{State: "executing"})
	assert.Equal(t, conversation.PhaseCancelled, st.Phase)
	assert.NotEmpty(t, eff.Anomaly)

	// A late error is recorded but leaves the phase alone.
	st, _ = ApplyEvent(st, protocol.ServerError{Message: "aborted"})
	assert.Equal(t, conversation.PhaseCancelled, st.Phase)
	require.NotNil(t, st.Err)
	assert.Equal(t, "aborted", st.Err.Message)
}

func TestNextCommandLeavesCancelled(t *testing.T) {
	st := State{Phase: conversation.PhaseCancelled}
	st, _ = ApplyQuery(st, "again", "", nil)
	assert.Equal(t, conversation.PhaseExecuting, st.Phase)
}

func TestProcessingIsAPureProjectionOfPhase(t *testing.T) {
	processing := map[conversation.ExecutionPhase]bool{
		conversation.PhaseIdle:           false,
		conversation.PhaseConnecting:     true,
		conversation.PhaseLoadingContext: true,
		conversation.PhasePlanning:       true,
		conversation.PhaseExecuting:      true,
		conversation.PhaseCompleted:      false,
		conversation.PhaseFailed:         false,
		conversation.PhaseCancelled:      false,
	}
	for phase, want := range processing {
		assert.Equal(t, want, phase.Processing(), "phase %s", phase)
	}
}

func TestNewActionReplacesCurrentToolCall(t *testing.T) {
	st := State{Phase: conversation.PhaseExecuting}
	st, _ = ApplyEvent(st, protocol.Action{Tool: "first"})
	st, _ = ApplyEvent(st, protocol.Action{Tool: "second"})
	require.NotNil(t, st.Scratch.ToolCall)
	assert.Equal(t, "second", st.Scratch.ToolCall.ToolName)
	assert.Equal(t, conversation.ToolRunning, st.Scratch.ToolCall.Status)
}
