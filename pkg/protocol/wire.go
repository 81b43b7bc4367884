package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ErrDecode marks any failure to decode a wire payload: malformed JSON,
// unknown type discriminator, or missing required fields. Callers match it
// with errors.Is.
var ErrDecode = errors.New("protocol decode failed")

// commandEnvelope is the outbound wire frame. Command fields are flattened
// next to the type discriminator.
type commandEnvelope struct {
	Type       string        `json:"type"`
	Content    string        `json:"content,omitempty"`
	Context    *QueryContext `json:"context,omitempty"`
	DocumentID string        `json:"document_id,omitempty"`
}

// eventEnvelope is the inbound wire frame. Most events nest their payload
// under data; error carries message/code at the top level.
type eventEnvelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// EncodeCommand serializes a command to its wire frame.
func EncodeCommand(cmd Command) ([]byte, error) {
	env := commandEnvelope{Type: cmd.CommandType()}
	switch c := cmd.(type) {
	case Query:
		env.Content = c.Content
		env.Context = c.Context
	case *Query:
		env.Content = c.Content
		env.Context = c.Context
	case Cancel, *Cancel:
	case SetDocument:
		env.DocumentID = c.DocumentID
	case *SetDocument:
		env.DocumentID = c.DocumentID
	default:
		return nil, errors.Errorf("unsupported command type %T", cmd)
	}
	return json.Marshal(env)
}

// DecodeCommand parses an outbound wire frame back into a command. The
// client never needs this; mock servers and recording tools do.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}
	switch env.Type {
	case CommandQuery:
		if env.Content == "" {
			return nil, errors.Wrap(ErrDecode, "query command missing content")
		}
		return Query{Content: env.Content, Context: env.Context}, nil
	case CommandCancel:
		return Cancel{}, nil
	case CommandSetDocument:
		if env.DocumentID == "" {
			return nil, errors.Wrap(ErrDecode, "set_document command missing document_id")
		}
		return SetDocument{DocumentID: env.DocumentID}, nil
	case "":
		return nil, errors.Wrap(ErrDecode, "command missing type discriminator")
	default:
		return nil, errors.Wrapf(ErrDecode, "unknown command type %q", env.Type)
	}
}

// DecodeEvent parses an inbound wire frame into an event. Any failure is
// reported as ErrDecode; the caller decides whether to drop or surface it,
// decoding itself never tears down a connection.
func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrDecode, err.Error())
	}
	switch env.Type {
	case EventConnected:
		return Connected{}, nil
	case EventState:
		var ev StatePush
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.State == "" {
			return nil, errors.Wrap(ErrDecode, "state event missing data.state")
		}
		return ev, nil
	case EventPlan:
		var ev Plan
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.Steps == nil {
			return nil, errors.Wrap(ErrDecode, "plan event missing data.plan")
		}
		return ev, nil
	case EventThought:
		var ev Thought
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventAction:
		var ev Action
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		if ev.Tool == "" {
			return nil, errors.Wrap(ErrDecode, "action event missing data.tool")
		}
		return ev, nil
	case EventObservation:
		var ev Observation
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventAnswer:
		var ev Answer
		if err := unmarshalData(env.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventError:
		if env.Message == "" {
			return nil, errors.Wrap(ErrDecode, "error event missing message")
		}
		return ServerError{Message: env.Message, Code: env.Code}, nil
	case EventCancelled:
		return Cancelled{}, nil
	case "":
		return nil, errors.Wrap(ErrDecode, "event missing type discriminator")
	default:
		return nil, errors.Wrapf(ErrDecode, "unknown event type %q", env.Type)
	}
}

func unmarshalData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.Wrap(ErrDecode, "event missing data payload")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.Wrap(ErrDecode, err.Error())
	}
	return nil
}

// EncodeEvent serializes an event to its wire frame, the server-side half
// of the codec. Mock agents in tests and the event forwarder use it.
func EncodeEvent(ev Event) ([]byte, error) {
	env := eventEnvelope{Type: ev.EventType()}
	var payload any
	switch e := ev.(type) {
	case Connected, *Connected, Cancelled, *Cancelled:
	case StatePush:
		payload = e
	case *StatePush:
		payload = e
	case Plan:
		payload = e
	case *Plan:
		payload = e
	case Thought:
		payload = e
	case *Thought:
		payload = e
	case Action:
		payload = e
	case *Action:
		payload = e
	case Observation:
		payload = e
	case *Observation:
		payload = e
	case Answer:
		payload = e
	case *Answer:
		payload = e
	case ServerError:
		env.Message = e.Message
		env.Code = e.Code
	case *ServerError:
		env.Message = e.Message
		env.Code = e.Code
	default:
		return nil, errors.Errorf("unsupported event type %T", ev)
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}
