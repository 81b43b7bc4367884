// Package protocol implements the wire codec for the agent streaming
// protocol: the closed family of outbound commands, the closed family of
// inbound events, and strict JSON (de)serialization for both directions.
package protocol

// ContextType discriminates the optional context hint attached to a query.
type ContextType string

const (
	ContextSelection ContextType = "selection"
	ContextFormula   ContextType = "formula"
	ContextChunk     ContextType = "chunk"
	ContextDocument  ContextType = "document"
	ContextNone      ContextType = "none"
)

// LineRange is a half-open line span inside a document.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// QueryContext is the optional hint attached to a user query: selected
// text, a formula, a chunk or a whole document.
type QueryContext struct {
	Type       ContextType `json:"type"`
	Selection  string      `json:"selection,omitempty"`
	Formula    string      `json:"formula,omitempty"`
	ChunkID    string      `json:"chunk_id,omitempty"`
	DocumentID string      `json:"document_id,omitempty"`
	LineRange  *LineRange  `json:"line_range,omitempty"`
}

// Command is one self-contained outbound intent. The family is closed:
// Query, Cancel and SetDocument.
type Command interface {
	CommandType() string
}

const (
	CommandQuery       = "query"
	CommandCancel      = "cancel"
	CommandSetDocument = "set_document"
)

// Query asks the agent to answer a question, optionally scoped by context.
type Query struct {
	Content string        `json:"content"`
	Context *QueryContext `json:"context,omitempty"`
}

func (Query) CommandType() string { return CommandQuery }

// Cancel requests best-effort abortion of the current run.
type Cancel struct{}

func (Cancel) CommandType() string { return CommandCancel }

// SetDocument switches the document the conversation is grounded on.
type SetDocument struct {
	DocumentID string `json:"document_id"`
}

func (SetDocument) CommandType() string { return CommandSetDocument }
