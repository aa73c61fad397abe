package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/models"
	"gorm.io/gorm"
)

const refundHandlerName = "gateway_refund"

// RefundHandler sends queued refund commands to the payments gateway.
// Each command is guarded by an IdempotencyKey so a redelivered row never
// refunds twice, and the gateway also receives the command's own key.
type RefundHandler struct {
	DB      *gorm.DB
	Gateway gateway.Client
}

func (h *RefundHandler) Handle(ctx context.Context, rec models.OutboxMessage) (string, error) {
	var cmd models.RefundCommand
	if err := json.Unmarshal(rec.Payload, &cmd); err != nil {
		return "", permanent(fmt.Errorf("decode refund command: %w", err))
	}
	if h.Gateway == nil {
		return "", gateway.ErrNotConfigured
	}
	scope := fmt.Sprintf("contract:%d", cmd.ContractID)
	messageId := cmd.IdempotencyKey
	if messageId == "" {
		messageId = fmt.Sprintf("outbox:%d", rec.ID)
	}

	db := h.DB.WithContext(ctx)
	skip, err := BeginIdempotency(db, scope, refundHandlerName, messageId)
	if err != nil {
		return "", err
	}
	if skip {
		return "refund:" + messageId, nil
	}

	if err := h.Gateway.Refund(ctx, string(cmd.Provider), cmd.CaptureID, cmd.Amount, messageId); err != nil {
		_ = MarkIdempotencyFailed(db, scope, refundHandlerName, messageId, err)
		return "", err
	}
	if err := MarkIdempotencySucceeded(db, scope, refundHandlerName, messageId); err != nil {
		return "", err
	}
	return "refund:" + messageId, nil
}
