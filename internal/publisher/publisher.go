package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PerpIndexer/internal/codec"
	"PerpIndexer/internal/observability"
)

const (
	streamName    = "PERP_INDEXER_EVENTS"
	subjectPrefix = "perp.indexer.events"
)

// IndexedEvent is the outbound envelope for one applied chain event.
type IndexedEvent struct {
	Event       string      `json:"event"`
	BlockNumber uint64      `json:"block_number"`
	TxHash      string      `json:"tx_hash"`
	LogIndex    uint        `json:"log_index"`
	Timestamp   time.Time   `json:"timestamp"`
	Payload     interface{} `json:"payload"`
}

// Publisher pushes applied events to JetStream for downstream
// consumers. It is strictly post-commit and lossy-tolerant: a full
// buffer drops the event (consumers can re-read the projection), and
// Publish never blocks the scan loop.
type Publisher struct {
	js      jetstream.JetStream
	buf     chan IndexedEvent
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(js jetstream.JetStream, bufferSize int, m *observability.Metrics, log zerolog.Logger) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Publisher{
		js:      js,
		buf:     make(chan IndexedEvent, bufferSize),
		metrics: m,
		log:     log,
	}
}

// EnsureStream creates the outbound stream if it does not exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// Publish enqueues one applied event. Non-blocking: if the buffer is
// full the event is counted as dropped.
func (p *Publisher) Publish(ev codec.Event, prov codec.Provenance) {
	msg := IndexedEvent{
		Event:       ev.EventName(),
		BlockNumber: prov.BlockNumber,
		TxHash:      prov.TxHash.Hex(),
		LogIndex:    prov.LogIndex,
		Timestamp:   prov.Timestamp,
		Payload:     ev,
	}
	select {
	case p.buf <- msg:
	default:
		p.metrics.PublishDrops.Inc()
		p.log.Warn().Str("event", msg.Event).Str("tx", msg.TxHash).Msg("publish buffer full, dropping event")
	}
}

// Run drains the buffer to JetStream until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-p.buf:
			if err := p.publish(ctx, msg); err != nil {
				// Non-fatal: the projection is the source of truth.
				p.log.Warn().Err(err).Str("event", msg.Event).Str("tx", msg.TxHash).Msg("outbound publish failed")
				continue
			}
			p.metrics.EventsPublished.Inc()
		}
	}
}

func (p *Publisher) publish(ctx context.Context, msg IndexedEvent) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", subjectPrefix, msg.Event)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
