package orch

import (
	"time"

	"github.com/lem-onair/lemonair-streaming/internal/app"
	"github.com/lem-onair/lemonair-streaming/internal/core"
	"github.com/lem-onair/lemonair-streaming/internal/domain"
	"github.com/lem-onair/lemonair-streaming/internal/message"
	"github.com/lem-onair/lemonair-streaming/internal/metrics"
	"github.com/rs/zerolog/log"
)

//go:generate mockgen -destination=mock_notifier_test.go -package=orch . OffAirNotifier

// OffAirNotifier tells the control plane a stream ended. It must not block.
type OffAirNotifier interface {
	OffAir(name domain.StreamName)
}

// Settings are the connect-time protocol values sent to every client.
type Settings struct {
	WindowAckSize   uint32
	PeerBandwidth   uint32
	ChunkSize       uint32
	MessageStreamID uint32
}

func DefaultSettings() Settings {
	return Settings{
		WindowAckSize:   5000000,
		PeerBandwidth:   5000000,
		ChunkSize:       4096,
		MessageStreamID: 1,
	}
}

// Orchestrator holds what all connections share. Each connection gets its
// own Controller.
type Orchestrator struct {
	Registry *app.Registry
	Policy   app.Policy
	Notifier OffAirNotifier
	Events   *app.EventBus
	Metrics  *metrics.Metrics
	Settings Settings
}

// forward fans m out and applies the backpressure policy to slow subscribers.
func (o *Orchestrator) forward(stream core.Stream, m message.Message) {
	res := stream.AddMedia(m)
	o.Metrics.MediaFanout(res.SentTo, len(res.Dropped))
	if o.Policy == nil {
		return
	}
	for _, slow := range res.Dropped {
		switch o.Policy.OnBackPressure(stream, slow) {
		case app.KickSubscriber:
			if o.removeSubscriber(stream, slow.ID()) {
				log.Warn().
					Str("module", "orch").
					Str("stream", string(stream.Name())).
					Str("conn", string(slow.ID())).
					Msg("slow subscriber kicked")
				o.Metrics.SubscriberKicked()
				slow.Disconnect()
			}
		case app.DropMessage, app.NoAction:
		}
	}
}

func (o *Orchestrator) removeSubscriber(stream core.Stream, id domain.ConnID) bool {
	if !stream.RemoveSubscriber(id) {
		return false
	}
	o.Metrics.SubscriberRemoved()
	o.Events.Publish(app.Event{
		Type:        app.EventSubscriberLeft,
		Stream:      stream.Name(),
		Subscribers: stream.SubscriberCount(),
	})
	return true
}

// endStream closes the stream, releases its name and sends the off-air
// notification. Only the first caller for a stream does anything.
func (o *Orchestrator) endStream(stream core.Stream) bool {
	subs := stream.SubscriberCount()
	if !stream.CloseStream() {
		o.Registry.Release(stream)
		return false
	}
	o.Registry.Release(stream)
	if o.Notifier != nil {
		o.Notifier.OffAir(stream.Name())
	}
	o.Metrics.StreamEnded(time.Since(stream.Meta().StartedAt))
	o.Metrics.SubscribersRemoved(subs)
	o.Events.Publish(app.Event{Type: app.EventStreamOffAir, Stream: stream.Name()})
	log.Info().Str("module", "orch").Str("stream", string(stream.Name())).Msg("stream off air")
	return true
}

// Evict ends a live stream from outside the protocol and drops its publisher.
func (o *Orchestrator) Evict(name domain.StreamName) bool {
	stream, ok := o.Registry.GetStream(name)
	if !ok {
		return false
	}
	log.Info().Str("module", "orch").Str("stream", string(name)).Msg("evicting stream")
	o.endStream(stream)
	if p := stream.Publisher(); p != nil {
		p.Disconnect()
	}
	return true
}
