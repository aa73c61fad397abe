package models

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OutboxMessage is written in the same transaction as the contract change it
// describes. The dispatcher delivers it after commit, at least once.
type OutboxMessage struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	Topic            string     `gorm:"size:30;not null;index" json:"topic"`
	ContractID       int        `gorm:"index" json:"contract_id"`
	Action           string     `gorm:"size:50;not null" json:"action"`
	ActorID          int        `json:"actor_id"`
	RecipientIDs     []int      `gorm:"serializer:json;type:text" json:"recipient_ids"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	DeliveryID       *string    `gorm:"size:255" json:"delivery_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// NotificationEvent is the body delivered to the notification dispatcher.
type NotificationEvent struct {
	Action     NotificationAction `json:"action"`
	ContractID int                `json:"contractId"`
	ClientID   int                `json:"clientId"`
	DoerID     int                `json:"doerId"`
	ActorID    int                `json:"actorId"`
	Contract   *Contract          `json:"contract,omitempty"`
	Data       map[string]any     `json:"data,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// RefundCommand asks the gateway adapter to return a captured escrow payment.
type RefundCommand struct {
	PaymentID      int             `json:"paymentId"`
	ContractID     int             `json:"contractId"`
	Provider       PaymentProvider `json:"provider"`
	CaptureID      string          `json:"captureId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

var (
	outboxNotifierMu sync.RWMutex
	outboxNotifier   func()
)

// SetOutboxNotifier registers a callback run after a commit that wrote outbox rows.
func SetOutboxNotifier(fn func()) {
	outboxNotifierMu.Lock()
	defer outboxNotifierMu.Unlock()
	outboxNotifier = fn
}

func notifyOutbox() {
	outboxNotifierMu.RLock()
	fn := outboxNotifier
	outboxNotifierMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func enqueueNotification(ctx context.Context, tx *gorm.DB, ev NotificationEvent, recipients ...int) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return tx.Create(&OutboxMessage{
		Topic:         OutboxTopicNotification,
		ContractID:    ev.ContractID,
		Action:        string(ev.Action),
		ActorID:       ev.ActorID,
		RecipientIDs:  utils.UniqueSlice(recipients),
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}).Error
}

func enqueueRefund(ctx context.Context, tx *gorm.DB, actorID int, cmd RefundCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return tx.Create(&OutboxMessage{
		Topic:         OutboxTopicGatewayRefund,
		ContractID:    cmd.ContractID,
		Action:        string(ActionEscrowRefunded),
		ActorID:       actorID,
		Payload:       payload,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// ReplayDeadOutbox moves DEAD rows back to PENDING. An empty id list replays every DEAD row.
func ReplayDeadOutbox(ctx context.Context, ids []int) (int64, error) {
	db := config.GetDB().WithContext(ctx).
		Model(&OutboxMessage{}).
		Where("publish_status = ?", OutboxPublishStatusDead)
	if len(ids) > 0 {
		db = db.Where("id IN ?", ids)
	}
	res := db.Updates(map[string]interface{}{
		"publish_status":     OutboxPublishStatusPending,
		"publish_attempts":   0,
		"next_attempt_at":    nil,
		"locked_at":          nil,
		"locked_by":          nil,
		"last_publish_error": nil,
	})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		notifyOutbox()
	}
	return res.RowsAffected, nil
}

type OutboxSummary struct {
	PublishStatus string `json:"publish_status"`
	Topic         string `json:"topic"`
	Count         int64  `json:"count"`
}

func GetOutboxSummary(ctx context.Context) ([]OutboxSummary, error) {
	var rows []OutboxSummary
	err := config.GetDB().WithContext(ctx).
		Model(&OutboxMessage{}).
		Select("publish_status, topic, COUNT(*) AS count").
		Group("publish_status, topic").
		Order("publish_status, topic").
		Scan(&rows).Error
	return rows, err
}
