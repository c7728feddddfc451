package event

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/erp/inventory-core/internal/domain/shared"
	"github.com/erp/inventory-core/internal/infrastructure/config"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Kafka header names carried by every published event
const (
	HeaderEventID       = "event_id"
	HeaderEventKind     = "event_kind"
	HeaderSequence      = "sequence"
	HeaderSchemaVersion = "schema_version"
	HeaderContentType   = "content-type"
)

// MessageWriter is the part of *kafka.Writer the publisher needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher publishes events to a Kafka topic keyed by cell, so every
// event of one cell lands on the same partition in sequence order.
type KafkaPublisher struct {
	writer     MessageWriter
	codec      *Codec
	topic      string
	logger     *zap.Logger
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
}

// NewKafkaPublisher builds a publisher with a kafka-go writer from cfg
func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}
	return NewKafkaPublisherWithWriter(w, cfg.Topic, NewInventoryCodec(), logger)
}

// NewKafkaPublisherWithWriter builds a publisher around an existing writer
func NewKafkaPublisherWithWriter(w MessageWriter, topic string, codec *Codec, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaPublisher{
		writer:     w,
		codec:      codec,
		topic:      topic,
		logger:     logger,
		propagator: otel.GetTextMapPropagator(),
		tracer:     otel.Tracer("inventory-core/event"),
	}
}

// Publish writes events in one batch, ordered by sequence
func (p *KafkaPublisher) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, p.topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", p.topic),
			attribute.Int("messaging.batch.message_count", len(events)),
		),
	)
	defer span.End()

	ordered := slices.Clone(events)
	slices.SortStableFunc(ordered, func(a, b shared.DomainEvent) int {
		return cmp.Compare(a.Sequence(), b.Sequence())
	})

	msgs := make([]kafka.Message, 0, len(ordered))
	for _, ev := range ordered {
		msg, err := p.message(ctx, ev)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("kafka publish failed",
			zap.String("topic", p.topic),
			zap.Int("events", len(msgs)),
			zap.Int64("first_sequence", ordered[0].Sequence()),
			zap.Error(err),
		)
		return fmt.Errorf("publish %d events to %s: %w", len(msgs), p.topic, err)
	}

	p.logger.Debug("events published",
		zap.String("topic", p.topic),
		zap.Int("events", len(msgs)),
		zap.Int64("last_sequence", ordered[len(ordered)-1].Sequence()),
	)
	return nil
}

func (p *KafkaPublisher) message(ctx context.Context, ev shared.DomainEvent) (kafka.Message, error) {
	value, err := p.codec.Encode(ev)
	if err != nil {
		return kafka.Message{}, err
	}

	schema := 1
	if v, ok := ev.(shared.VersionedEvent); ok {
		schema = v.SchemaVersion()
	}
	headers := []kafka.Header{
		{Key: HeaderEventID, Value: []byte(ev.EventID().String())},
		{Key: HeaderEventKind, Value: []byte(ev.EventType())},
		{Key: HeaderSequence, Value: []byte(strconv.FormatInt(ev.Sequence(), 10))},
		{Key: HeaderSchemaVersion, Value: []byte(strconv.Itoa(schema))},
		{Key: HeaderContentType, Value: []byte(ContentTypeJSON)},
	}

	carrier := propagation.MapCarrier{}
	p.propagator.Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(carrier.Get(k))})
	}

	return kafka.Message{
		Key:     []byte(ev.AggregateID()),
		Value:   value,
		Headers: headers,
		Time:    ev.OccurredAt(),
	}, nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// ExtractTraceContext restores the producer's trace context from message
// headers.
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// HeaderValue returns the value of the first header named key
func HeaderValue(headers []kafka.Header, key string) (string, bool) {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value), true
		}
	}
	return "", false
}

// DecodeMessage restores the event carried by msg
func (c *Codec) DecodeMessage(msg kafka.Message) (shared.DomainEvent, error) {
	kind, ok := HeaderValue(msg.Headers, HeaderEventKind)
	if !ok {
		return nil, fmt.Errorf("message at offset %d has no %s header", msg.Offset, HeaderEventKind)
	}
	return c.Decode(kind, msg.Value)
}

var _ shared.EventPublisher = (*KafkaPublisher)(nil)
