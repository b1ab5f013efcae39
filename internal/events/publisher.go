// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/pos-checkout/internal/domain/order"
	"github.com/xenking/pos-checkout/pkg/httpmiddleware"
)

const eventVersion = 1

var _ order.Publisher = (*Publisher)(nil)

// writer is the subset of *kafka.Writer used by Publisher.
type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the Kafka publisher.
type Config struct {
	Brokers    []string
	Topic      string
	BufferSize int
	// WriteTimeout bounds a single write to the brokers.
	WriteTimeout time.Duration
	// Producer is recorded in every envelope.
	Producer string
}

func (c *Config) setDefaults() {
	if c.Topic == "" {
		c.Topic = "pos.orders"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Producer == "" {
		c.Producer = "pos-api"
	}
}

// Publisher encodes events and writes them to Kafka from a background loop.
// Publish never blocks: when the buffer is full the event is dropped.
type Publisher struct {
	cfg   Config
	w     writer
	cb    *gobreaker.CircuitBreaker[struct{}]
	inbox chan kafka.Message
	lg    *zap.Logger
	now   func() time.Time

	published metric.Int64Counter
	failed    metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a Publisher writing to cfg.Brokers.
func New(cfg Config, lg *zap.Logger, mp metric.MeterProvider) (*Publisher, error) {
	cfg.setDefaults()
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(cfg, w, lg, mp)
}

func newPublisher(cfg Config, w writer, lg *zap.Logger, mp metric.MeterProvider) (*Publisher, error) {
	cfg.setDefaults()
	if lg == nil {
		lg = zap.NewNop()
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("pos.events")

	p := &Publisher{
		cfg:   cfg,
		w:     w,
		inbox: make(chan kafka.Message, cfg.BufferSize),
		lg:    lg,
		now:   time.Now,
	}
	p.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-" + cfg.Topic,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})

	var err error
	if p.published, err = meter.Int64Counter("pos.events.published",
		metric.WithDescription("Order events written to Kafka")); err != nil {
		return nil, errors.Wrap(err, "published counter")
	}
	if p.failed, err = meter.Int64Counter("pos.events.failed",
		metric.WithDescription("Order events that could not be written")); err != nil {
		return nil, errors.Wrap(err, "failed counter")
	}
	if p.dropped, err = meter.Int64Counter("pos.events.dropped",
		metric.WithDescription("Order events dropped because the buffer was full")); err != nil {
		return nil, errors.Wrap(err, "dropped counter")
	}
	return p, nil
}

// Publish queues e for delivery.
func (p *Publisher) Publish(ctx context.Context, e order.Event) {
	msg := kafka.Message{
		Key:   []byte(e.Order.ID),
		Value: p.encode(ctx, e),
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}

	select {
	case p.inbox <- msg:
	default:
		p.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(e.Type))))
		p.lg.Warn("Event buffer full, dropping event",
			zap.String("event_type", string(e.Type)),
			zap.String("order_id", e.Order.ID),
		)
	}
}

// Run writes queued events until ctx is done, then flushes what is left
// and closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-p.inbox:
			p.write(msg)
		case <-ctx.Done():
			p.flush()
			if err := p.w.Close(); err != nil {
				return errors.Wrap(err, "close kafka writer")
			}
			return nil
		}
	}
}

func (p *Publisher) flush() {
	for {
		select {
		case msg := <-p.inbox:
			p.write(msg)
		default:
			return
		}
	}
}

func (p *Publisher) write(msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WriteTimeout)
	defer cancel()

	_, err := p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.w.WriteMessages(ctx, msg)
	})
	attrs := metric.WithAttributes(attribute.String("event_type", headerValue(msg, "event_type")))
	if err != nil {
		p.failed.Add(ctx, 1, attrs)
		p.lg.Error("Failed to publish event",
			zap.String("order_id", string(msg.Key)),
			zap.String("event_type", headerValue(msg, "event_type")),
			zap.Error(err),
		)
		return
	}
	p.published.Add(ctx, 1, attrs)
}

// encode renders the event envelope.
func (p *Publisher) encode(ctx context.Context, e order.Event) []byte {
	enc := &jx.Encoder{}
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("event_id", func(enc *jx.Encoder) { enc.Str(uuid.New().String()) })
		enc.Field("event_type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("event_version", func(enc *jx.Encoder) { enc.Int(eventVersion) })
		enc.Field("occurred_at", func(enc *jx.Encoder) {
			at := e.OccurredAt
			if at.IsZero() {
				at = p.now()
			}
			enc.Str(at.UTC().Format(time.RFC3339Nano))
		})
		enc.Field("producer", func(enc *jx.Encoder) { enc.Str(p.cfg.Producer) })
		if id := httpmiddleware.RequestIDFromContext(ctx); id != "" {
			enc.Field("correlation_id", func(enc *jx.Encoder) { enc.Str(id) })
		}
		enc.Field("payload", func(enc *jx.Encoder) { encodePayload(enc, e) })
	})
	return enc.Bytes()
}

func encodePayload(enc *jx.Encoder, e order.Event) {
	o := e.Order
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("order_id", func(enc *jx.Encoder) { enc.Str(o.ID) })
		enc.Field("number", func(enc *jx.Encoder) { enc.Int64(o.Number) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(o.Type)) })
		enc.Field("status", func(enc *jx.Encoder) { enc.Str(string(o.Status)) })
		if e.PrevStatus != "" && e.PrevStatus != o.Status {
			enc.Field("prev_status", func(enc *jx.Encoder) { enc.Str(string(e.PrevStatus)) })
		}
		enc.Field("cashier_id", func(enc *jx.Encoder) { enc.Str(o.CashierID) })
		enc.Field("courier_id", func(enc *jx.Encoder) {
			if o.CourierID == "" {
				enc.Null()
				return
			}
			enc.Str(o.CourierID)
		})
		enc.Field("actor_id", func(enc *jx.Encoder) { enc.Str(e.ActorID) })
		enc.Field("total", func(enc *jx.Encoder) { enc.Str(o.Total.StringFixed(2)) })
		if o.CancelReason != "" {
			enc.Field("cancel_reason", func(enc *jx.Encoder) { enc.Str(o.CancelReason) })
		}
		if e.Type == order.EventCreated {
			enc.Field("items", func(enc *jx.Encoder) {
				enc.Arr(func(enc *jx.Encoder) {
					for _, item := range o.Items {
						enc.Obj(func(enc *jx.Encoder) {
							enc.Field("product_id", func(enc *jx.Encoder) { enc.Str(item.ProductID) })
							enc.Field("quantity", func(enc *jx.Encoder) { enc.Str(item.Quantity.String()) })
							enc.Field("price", func(enc *jx.Encoder) { enc.Str(item.Price.StringFixed(2)) })
						})
					}
				})
			})
		}
	})
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
