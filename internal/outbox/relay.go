// Package outbox implements the transactional outbox pattern for
// match events: results and their events are written to MySQL in one
// transaction, and a relay publishes the events to RabbitMQ after the
// fact.
package outbox

import (
	"context"
	"time"

	"talent-match-go/internal/storage"
	"talent-match-go/internal/storage/models"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	maxRetryCount          = 5
)

// MessageRelay polls the outbox table and publishes pending messages
// to the message broker.
type MessageRelay struct {
	db              *gorm.DB
	publisher       *storage.RabbitMQ
	logger          zerolog.Logger
	pollingInterval time.Duration
	batchSize       int
	done            chan struct{}
	tracer          trace.Tracer
}

// NewMessageRelay creates a relay over db publishing through publisher.
func NewMessageRelay(db *gorm.DB, publisher *storage.RabbitMQ, logger zerolog.Logger) *MessageRelay {
	return &MessageRelay{
		db:              db,
		publisher:       publisher,
		logger:          logger,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		done:            make(chan struct{}),
		tracer:          otel.Tracer("talent-match-go/outbox"),
	}
}

// Start begins the polling loop in a background goroutine.
func (r *MessageRelay) Start() {
	r.logger.Info().Msg("outbox relay starting")
	ticker := time.NewTicker(r.pollingInterval)

	go func() {
		for {
			select {
			case <-r.done:
				ticker.Stop()
				r.logger.Info().Msg("outbox relay stopped")
				return
			case <-ticker.C:
				if err := r.processPendingMessages(context.Background()); err != nil {
					r.logger.Error().Err(err).Msg("failed to process pending outbox messages")
				}
			}
		}
	}()
}

// Stop shuts the relay down gracefully.
func (r *MessageRelay) Stop() {
	close(r.done)
}

// processPendingMessages fetches and publishes one batch of pending
// messages. FOR UPDATE SKIP LOCKED lets multiple relay instances run
// without double-publishing the same row.
func (r *MessageRelay) processPendingMessages(ctx context.Context) error {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	defer tx.Rollback()

	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", "PENDING").
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return err
	}

	// no span for empty polls
	if len(messages) == 0 {
		return tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(
			attribute.Int("messaging.batch.message_count", len(messages)),
		),
	)
	defer span.End()

	for _, msg := range messages {
		err := r.publisher.PublishMessage(
			ctx,
			msg.TargetExchange,
			msg.TargetRoutingKey,
			[]byte(msg.Payload),
			true,
		)

		if err != nil {
			r.logger.Warn().Err(err).
				Uint64("message_id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Int("retry_count", msg.RetryCount+1).
				Msg("failed to publish outbox message")
			msg.RetryCount++
			msg.ErrorMessage = err.Error()
			if msg.RetryCount >= maxRetryCount {
				msg.Status = "FAILED"
			}
		} else {
			msg.Status = "SENT"
			now := time.Now()
			msg.ProcessedAt = &now
			msg.ErrorMessage = ""
		}

		// a failed update rolls back the batch; the rows stay PENDING
		// and are picked up again on the next poll
		if err := tx.Save(&msg).Error; err != nil {
			r.logger.Error().Err(err).Uint64("message_id", msg.ID).Msg("failed to update outbox message")
			return err
		}
	}

	return tx.Commit().Error
}
