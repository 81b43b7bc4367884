// Package session assembles the agent streaming client: one AgentSession
// per conversation, owning a single transport connection and wiring the
// codec, the event dispatcher, the execution-state projector and the
// conversation store together. No globals; multiple sessions coexist.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lexio-ai/agentstream/pkg/conversation"
	"github.com/lexio-ai/agentstream/pkg/dispatch"
	"github.com/lexio-ai/agentstream/pkg/projection"
	"github.com/lexio-ai/agentstream/pkg/protocol"
	"github.com/lexio-ai/agentstream/pkg/transport"
)

// Identity scopes one connection: which conversation, which document, and
// the bearer token used as the query credential. The session only reads
// it; changing conversation or token means a fresh Connect.
type Identity struct {
	ConversationID string
	DocumentID     string
	AuthToken      string
}

// Command precondition errors. These are the only errors the public API
// returns for protocol work; everything asynchronous surfaces on the
// store instead.
var (
	ErrMissingCredentials = errors.New("conversation id and auth token are required")
	ErrNotConnected       = errors.New("not connected to the agent endpoint")
	ErrEmptyQuery         = errors.New("query content is empty")
)

// AgentSession owns the lifecycle of at most one connection at a time.
type AgentSession struct {
	endpoint string
	dialer   transport.Dialer
	logger   zerolog.Logger

	store      *conversation.Store
	dispatcher *dispatch.Dispatcher

	mu       sync.Mutex
	identity Identity
	// epoch advances on every Connect/Disconnect; events and close
	// signals carrying an older epoch belong to a torn-down connection
	// and are dropped.
	epoch     uint64
	conn      transport.Conn
	connPhase conversation.ConnectionPhase
	state     projection.State
}

// Option configures an AgentSession.
type Option func(*AgentSession)

// WithDialer replaces the websocket dialer, mainly for tests.
func WithDialer(d transport.Dialer) Option {
	return func(s *AgentSession) { s.dialer = d }
}

// WithLogger attaches a contextual logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *AgentSession) { s.logger = l }
}

// New builds a disconnected session for the given agent endpoint.
func New(endpoint string, opts ...Option) *AgentSession {
	s := &AgentSession{
		endpoint:  endpoint,
		dialer:    &transport.WebsocketDialer{},
		logger:    zerolog.Nop(),
		store:     conversation.NewStore(),
		connPhase: conversation.ConnDisconnected,
		state:     projection.Initial(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatcher = dispatch.NewDispatcher(s.logger)
	return s
}

// Store exposes the read side of the conversation state.
func (s *AgentSession) Store() *conversation.Store { return s.store }

// Snapshot returns a point-in-time copy of the conversation state.
func (s *AgentSession) Snapshot() conversation.Snapshot { return s.store.Snapshot() }

// Subscribe registers an observer for every decoded inbound event, in
// arrival order. The returned handle unregisters it.
func (s *AgentSession) Subscribe(h dispatch.Handler) func() {
	return s.dispatcher.Subscribe(h)
}

// Identity returns the identity of the current (or last) connection.
func (s *AgentSession) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// ConnectionPhase reports the transport lifecycle phase.
func (s *AgentSession) ConnectionPhase() conversation.ConnectionPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connPhase
}

// Connect tears down any existing connection and establishes a new one
// for the identity. It validates credentials synchronously and returns
// with the connection in the Connecting phase; dialing completes on a
// background goroutine and resolves into Open or Disconnected-with-error
// on the store.
func (s *AgentSession) Connect(ctx context.Context, id Identity) error {
	if id.ConversationID == "" || id.AuthToken == "" {
		return ErrMissingCredentials
	}
	rawURL, err := transport.BuildURL(s.endpoint, id.ConversationID, id.DocumentID, id.AuthToken)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.teardownLocked()
	s.epoch++
	epoch := s.epoch
	s.identity = id
	s.connPhase = conversation.ConnConnecting
	s.store.SetConnectionPhase(conversation.ConnConnecting)
	s.store.SetConnectionError("")
	s.state = projection.State{Phase: conversation.PhaseConnecting}
	s.store.SetExecution(s.state.Phase, s.state.Scratch, s.state.Err)
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.logger.Info().Str("conversation_id", id.ConversationID).Msg("connecting to agent endpoint")

	go s.dial(ctx, rawURL, epoch)
	return nil
}

func (s *AgentSession) dial(ctx context.Context, rawURL string, epoch uint64) {
	conn, err := s.dialer.DialContext(ctx, rawURL)

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.connPhase = conversation.ConnDisconnected
		s.store.SetConnectionPhase(conversation.ConnDisconnected)
		s.store.SetConnectionError(err.Error())
		s.state = projection.Initial()
		s.store.SetExecution(s.state.Phase, s.state.Scratch, s.state.Err)
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("agent connection failed")
		return
	}
	s.conn = conn
	s.connPhase = conversation.ConnOpen
	s.store.SetConnectionPhase(conversation.ConnOpen)
	s.store.SetConnectionError("")
	s.mu.Unlock()

	s.logger.Debug().Msg("transport open, awaiting server handshake confirmation")
	go s.readLoop(conn, epoch)
}

// readLoop is the single reader of one connection. Events are decoded and
// projected strictly in arrival order.
func (s *AgentSession) readLoop(conn transport.Conn, epoch uint64) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.handleClosed(epoch, err)
			return
		}
		ev, derr := protocol.DecodeEvent(data)
		if derr != nil {
			// Malformed payloads are diagnostics, not connection
			// failures.
			s.logger.Warn().Err(derr).Msg("dropping undecodable agent event")
			continue
		}
		s.handleEvent(epoch, ev)
	}
}

func (s *AgentSession) handleEvent(epoch uint64, ev protocol.Event) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		s.logger.Debug().Str("event_type", ev.EventType()).Msg("dropping event from stale connection")
		return
	}
	if _, ok := ev.(protocol.Connected); ok {
		s.store.SetReady(true)
	}
	next, eff := projection.ApplyEvent(s.state, ev)
	s.state = next
	s.store.SetExecution(next.Phase, next.Scratch, next.Err)
	if len(eff.Append) > 0 {
		s.store.Append(eff.Append...)
	}
	if eff.Anomaly != "" {
		s.logger.Warn().Str("event_type", ev.EventType()).Msg(eff.Anomaly)
	}
	s.mu.Unlock()

	s.dispatcher.Publish(ev)
}

func (s *AgentSession) handleClosed(epoch uint64, err error) {
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.connPhase = conversation.ConnDisconnected
	s.store.SetConnectionPhase(conversation.ConnDisconnected)
	code, clean := transport.CloseStatus(err)
	if clean {
		s.logger.Info().Int("close_code", code).Msg("agent connection closed")
	} else if code != 0 {
		s.store.SetConnectionError(fmt.Sprintf("connection closed abnormally (code %d)", code))
		s.logger.Warn().Int("close_code", code).Msg("agent connection closed abnormally")
	} else {
		s.store.SetConnectionError(err.Error())
		s.logger.Warn().Err(err).Msg("agent connection lost")
	}
	s.mu.Unlock()
}

// Disconnect closes the current connection if any. Safe to call from any
// phase, any number of times; it also clears a pending transient
// connection error.
func (s *AgentSession) Disconnect() {
	s.mu.Lock()
	conn := s.teardownLocked()
	s.store.SetConnectionError("")
	if s.state.Phase.Processing() {
		s.state = projection.Initial()
		s.store.SetExecution(s.state.Phase, s.state.Scratch, s.state.Err)
	}
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// teardownLocked invalidates the active connection epoch and detaches the
// connection without closing it. Callers close outside the lock.
func (s *AgentSession) teardownLocked() transport.Conn {
	s.epoch++
	conn := s.conn
	s.conn = nil
	s.connPhase = conversation.ConnDisconnected
	s.store.SetConnectionPhase(conversation.ConnDisconnected)
	return conn
}

// SendQuery submits a user query. Preconditions: the transport is Open
// and the server has confirmed the handshake. On success the user message
// is appended and the run enters Executing before the command leaves the
// process; transmission failures surface on the store, not here.
func (s *AgentSession) SendQuery(content string, qctx *protocol.QueryContext) error {
	if content == "" {
		return ErrEmptyQuery
	}

	s.mu.Lock()
	if s.connPhase != conversation.ConnOpen || !s.store.Ready() {
		s.mu.Unlock()
		return ErrNotConnected
	}
	contextType, contextData := contextFields(qctx)
	next, eff := projection.ApplyQuery(s.state, content, contextType, contextData)
	s.state = next
	s.store.SetExecution(next.Phase, next.Scratch, next.Err)
	s.store.Append(eff.Append...)
	conn := s.conn
	s.mu.Unlock()

	s.transmit(conn, protocol.Query{Content: content, Context: qctx})
	return nil
}

// CancelTask requests best-effort cancellation. It never fails: the local
// transition to Cancelled is applied unconditionally, and the cancel
// command is only transmitted when a connection is open.
func (s *AgentSession) CancelTask() {
	s.mu.Lock()
	next, _ := projection.ApplyCancel(s.state)
	s.state = next
	s.store.SetExecution(next.Phase, next.Scratch, next.Err)
	var conn transport.Conn
	if s.connPhase == conversation.ConnOpen {
		conn = s.conn
	}
	s.mu.Unlock()

	if conn != nil {
		s.transmit(conn, protocol.Cancel{})
	}
}

// SetDocument sends a best-effort document-context hint. Silently a no-op
// when not connected; the new document id is still remembered for the
// next Connect.
func (s *AgentSession) SetDocument(documentID string) {
	s.mu.Lock()
	s.identity.DocumentID = documentID
	var conn transport.Conn
	if s.connPhase == conversation.ConnOpen {
		conn = s.conn
	}
	s.mu.Unlock()

	if conn == nil {
		return
	}
	s.transmit(conn, protocol.SetDocument{DocumentID: documentID})
}

// Reset drops the conversation history and derived state. Connection
// state is untouched.
func (s *AgentSession) Reset() {
	s.mu.Lock()
	s.state = projection.Initial()
	s.store.Reset()
	s.mu.Unlock()
}

func (s *AgentSession) transmit(conn transport.Conn, cmd protocol.Command) {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		s.logger.Error().Err(err).Str("command", cmd.CommandType()).Msg("failed to encode command")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		// The read loop will observe the broken connection; record the
		// write failure for diagnostics.
		s.store.SetConnectionError(err.Error())
		s.logger.Warn().Err(err).Str("command", cmd.CommandType()).Msg("failed to transmit command")
	}
}

func contextFields(qctx *protocol.QueryContext) (string, map[string]any) {
	if qctx == nil {
		return "", nil
	}
	data := map[string]any{}
	if qctx.Selection != "" {
		data["selection"] = qctx.Selection
	}
	if qctx.Formula != "" {
		data["formula"] = qctx.Formula
	}
	if qctx.ChunkID != "" {
		data["chunk_id"] = qctx.ChunkID
	}
	if qctx.DocumentID != "" {
		data["document_id"] = qctx.DocumentID
	}
	if qctx.LineRange != nil {
		data["line_range"] = map[string]any{
			"start": qctx.LineRange.Start,
			"end":   qctx.LineRange.End,
		}
	}
	if len(data) == 0 {
		data = nil
	}
	return string(qctx.Type), data
}
