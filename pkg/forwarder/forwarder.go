// Package forwarder republishes delivered agent events onto a watermill
// topic, giving non-UI consumers (recorders, debuggers, downstream
// pipelines) a stream abstraction instead of a callback registration.
package forwarder

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/lexio-ai/agentstream/pkg/dispatch"
	"github.com/lexio-ai/agentstream/pkg/protocol"
)

// EventSource is anything events can be subscribed from; AgentSession
// satisfies it.
type EventSource interface {
	Subscribe(h dispatch.Handler) func()
}

// MetadataEventType is the watermill message metadata key carrying the
// protocol event type.
const MetadataEventType = "event_type"

// Forwarder bridges a session's event stream onto a watermill publisher.
type Forwarder struct {
	pub    message.Publisher
	topic  string
	logger zerolog.Logger
	unsub  func()
}

// Attach subscribes to the source and starts forwarding. Publish order
// matches delivery order; publish failures are logged and skipped so a
// slow or broken publisher never stalls event delivery to other
// subscribers.
func Attach(src EventSource, pub message.Publisher, topic string, logger zerolog.Logger) *Forwarder {
	f := &Forwarder{pub: pub, topic: topic, logger: logger}
	f.unsub = src.Subscribe(f.forward)
	return f
}

func (f *Forwarder) forward(ev protocol.Event) {
	raw, err := protocol.EncodeEvent(ev)
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", ev.EventType()).Msg("failed to re-encode event for forwarding")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	msg.Metadata.Set(MetadataEventType, ev.EventType())
	if err := f.pub.Publish(f.topic, msg); err != nil {
		f.logger.Warn().Err(err).Str("topic", f.topic).Msg("failed to forward event")
	}
}

// Close detaches the forwarder from its source. The publisher is owned by
// the caller and is not closed here.
func (f *Forwarder) Close() {
	f.unsub()
}
