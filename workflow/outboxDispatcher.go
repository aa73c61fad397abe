package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TopicHandler delivers one outbox row and returns a delivery id.
type TopicHandler func(ctx context.Context, rec models.OutboxMessage) (string, error)

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// permanent marks a delivery error that retrying cannot fix.
func permanent(err error) error { return permanentError{err: err} }

type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string
	Handlers     map[string]TopicHandler
	Now          func() time.Time

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	wake chan struct{}
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Handlers:       map[string]TopicHandler{},
		Now:            func() time.Time { return time.Now().UTC() },
		BatchSize:      50,
		PollInterval:   2 * time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     10 * time.Minute,
		wake:           make(chan struct{}, 1),
	}
}

// Handle registers the handler for a topic.
func (d *OutboxDispatcher) Handle(topic string, h TopicHandler) {
	d.Handlers[topic] = h
}

// HandleNotifications routes notification rows to p.
func (d *OutboxDispatcher) HandleNotifications(p Publisher) {
	d.Handle(models.OutboxTopicNotification, func(ctx context.Context, rec models.OutboxMessage) (string, error) {
		return p.Publish(ctx, notificationFromOutbox(rec))
	})
}

// HandleRefunds routes gateway refund commands to h.
func (d *OutboxDispatcher) HandleRefunds(h *RefundHandler) {
	d.Handle(models.OutboxTopicGatewayRefund, h.Handle)
}

// Notify wakes the dispatcher without waiting for the next poll. It never blocks.
func (d *OutboxDispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && d.Logger != nil {
			d.Logger.WithField("field", "OutboxDispatcher").Error("outbox claim failed: " + err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and delivers it. It returns the number of rows sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	db := d.DB
	if db == nil {
		return 0, nil
	}
	now := d.now()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.OutboxMessage
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch), reclaim after LockTimeout
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			// Poison messages go terminal.
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := d.markDead(tx, claimed[i].ID, msg); err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.OutboxMessage{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          &now,
				"locked_by":          &d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(claimed) == 0 {
		return 0, err
	}

	sent := 0
	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		handler, ok := d.Handlers[rec.Topic]
		if !ok {
			d.markFailed(ctx, rec, permanent(fmt.Errorf("no handler for topic %q", rec.Topic)))
			continue
		}
		deliveryID, pubErr := handler(ctx, rec)
		if pubErr != nil {
			d.markFailed(ctx, rec, pubErr)
			continue
		}
		d.markSent(ctx, rec.ID, deliveryID)
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > d.MaxBackoff {
			return d.MaxBackoff
		}
	}
	return backoff
}

func (d *OutboxDispatcher) markSent(ctx context.Context, recordID int, deliveryID string) {
	now := d.now()
	_ = d.DB.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":  models.OutboxPublishStatusSent,
			"published_at":    &now,
			"delivery_id":     &deliveryID,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nil,
		}).Error
}

func (d *OutboxDispatcher) markDead(db *gorm.DB, recordID int, msg string) error {
	return db.Model(&models.OutboxMessage{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusDead,
			"last_publish_error": &msg,
			"next_attempt_at":    nil,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error
}

func (d *OutboxDispatcher) markFailed(ctx context.Context, rec models.OutboxMessage, err error) {
	db := d.DB.WithContext(ctx)
	msg := err.Error()
	attempt := rec.PublishAttempts
	fields := logrus.Fields{
		"field":          "OutboxDispatcher",
		"record_id":      rec.ID,
		"topic":          rec.Topic,
		"contract_id":    rec.ContractID,
		"attempt":        attempt,
		"correlation_id": rec.CorrelationId,
	}

	var perm permanentError
	if errors.As(err, &perm) || (d.MaxAttempts > 0 && attempt >= d.MaxAttempts) {
		_ = d.markDead(db, rec.ID, msg)
		if d.Logger != nil {
			d.Logger.WithFields(fields).Error("outbox delivery moved to DEAD: " + msg)
		}
		return
	}

	next := d.now().Add(d.backoff(attempt))
	_ = db.Model(&models.OutboxMessage{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if d.Logger != nil {
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
		d.Logger.WithFields(fields).Error("outbox delivery failed: " + msg)
	}
}
