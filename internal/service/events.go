package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/shiva/unipool/internal/metrics"
	"github.com/shiva/unipool/internal/model"
)

var tracer = otel.Tracer("github.com/shiva/unipool/internal/service")

// MaxConflictRetries bounds the read → validate → conditional write loop.
const MaxConflictRetries = 5

// ─── Options ────────────────────────────────────────────────

type options struct {
	clock func() time.Time
	newID func() string
}

// Option customises a service.
type Option func(*options)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(o *options) { o.clock = clock }
}

// WithIDGenerator overrides uuid.NewString for new aggregate ids.
func WithIDGenerator(gen func() string) Option {
	return func(o *options) { o.newID = gen }
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now, newID: uuid.NewString}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// ─── Conflict retry ─────────────────────────────────────────

// retryOnConflict runs attempt until it commits or fails. attempt returns
// false, nil when its conditional write lost a race.
func retryOnConflict(aggregate string, log *zap.Logger, attempt func() (bool, error)) error {
	for i := 1; i <= MaxConflictRetries; i++ {
		committed, err := attempt()
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		metrics.WriteConflicts.WithLabelValues(aggregate).Inc()
		log.Debug("write conflict, re-reading", zap.String("aggregate", aggregate), zap.Int("attempt", i))
	}
	log.Warn("giving up after repeated write conflicts", zap.String("aggregate", aggregate))
	return reject(ErrConflict, "Too many people are updating this %s right now. Please try again.", aggregate)
}

// ─── Announcements ──────────────────────────────────────────

// announcer publishes committed events and notifies the affected users.
// Failures are logged and never returned: the write they follow has
// already committed.
type announcer struct {
	publisher Publisher
	notifier  Notifier
	log       *zap.Logger
}

func newAnnouncer(publisher Publisher, notifier Notifier, log *zap.Logger) announcer {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return announcer{publisher: publisher, notifier: notifier, log: log}
}

func (a announcer) announce(ctx context.Context, evt model.Event, recipients []string, message string) {
	if err := a.publisher.Publish(ctx, evt); err != nil {
		a.log.Warn("event publish failed",
			zap.String("type", string(evt.Type)),
			zap.String("id", evt.AggregateID),
			zap.Error(err))
	}

	payload := map[string]string{
		"id":      evt.AggregateID,
		"status":  evt.Status,
		"message": message,
	}
	for _, uid := range recipients {
		if err := a.notifier.Notify(ctx, uid, evt.Type, payload); err != nil {
			metrics.NotificationsFailed.Inc()
			a.log.Warn("notification failed",
				zap.String("user", uid),
				zap.String("type", string(evt.Type)),
				zap.Error(err))
		}
	}
}
