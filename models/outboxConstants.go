package models

// Outbox publish statuses for OutboxMessage.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Outbox topics route a row to its delivery handler.
const (
	OutboxTopicNotification  = "notification"
	OutboxTopicGatewayRefund = "gateway_refund"
)
