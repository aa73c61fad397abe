package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/shopspring/decimal"
)

type ExtensionRequest struct {
	Days   int             `json:"days" validate:"required,gt=0,lte=365"`
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes" validate:"max=1000"`
}

// RequestExtension is client-only and must arrive strictly before the cutoff
// ahead of the job's start date. Only an approval consumes the single extension.
func RequestExtension(ctx context.Context, contractID, actorID int, in ExtensionRequest) (*Contract, error) {
	if in.Days < 1 {
		return nil, validationError("extension days must be at least 1")
	}
	if in.Amount.IsNegative() {
		return nil, validationError("extension amount cannot be negative")
	}
	return withContractLock(ctx, contractID, actorID, "request_extension", func(m *mutation) error {
		c := m.contract
		if actorID != c.ClientID {
			return ErrWrongRole
		}
		if err := c.requireStatus(ContractStatusAccepted, ContractStatusInProgress); err != nil {
			return err
		}
		if c.HasBeenExtended || c.ExtensionCount >= 1 {
			return ErrExtensionUsed
		}
		if c.ExtensionRequestedBy != nil {
			return ErrExtensionPending
		}
		job, err := m.Job()
		if err != nil {
			return err
		}
		start := job.StartDate
		if start.IsZero() {
			start = c.StartDate
		}
		if start.Sub(m.now) <= m.policy.ExtensionCutoff {
			return ErrExtensionWindowClosed
		}

		ts := m.now
		c.ExtensionRequestedBy = &actorID
		c.ExtensionRequestedAt = &ts
		c.ExtensionDays = in.Days
		c.ExtensionAmount = in.Amount
		c.ExtensionNotes = in.Notes
		c.ExtensionRejectedReason = ""
		m.notify(ActionExtensionRequested, map[string]any{"days": in.Days, "amount": in.Amount})
		return nil
	})
}

// requireResponder allows only the doer to answer a client request and names
// self-approval explicitly.
func requireResponder(c *Contract, actorID int, requestedBy *int) error {
	if actorID == c.DoerID {
		return nil
	}
	if requestedBy != nil && *requestedBy == actorID {
		return ErrSelfApproval
	}
	return ErrWrongRole
}

func ApproveExtension(ctx context.Context, contractID, actorID int) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "approve_extension", func(m *mutation) error {
		c := m.contract
		if err := requireResponder(c, actorID, c.ExtensionRequestedBy); err != nil {
			return err
		}
		if err := c.requireStatus(ContractStatusAccepted, ContractStatusInProgress); err != nil {
			return err
		}
		if c.ExtensionRequestedBy == nil {
			return ErrNoExtensionRequest
		}
		if c.HasBeenExtended || c.ExtensionCount >= 1 {
			return ErrExtensionUsed
		}

		commissionDelta, err := extensionCommission(m, c.ExtensionAmount)
		if err != nil {
			return err
		}
		record := ExtensionRecord{
			RequestedBy:        *c.ExtensionRequestedBy,
			RequestedAt:        *c.ExtensionRequestedAt,
			ApprovedBy:         actorID,
			ApprovedAt:         m.now,
			Days:               c.ExtensionDays,
			Amount:             c.ExtensionAmount,
			Notes:              c.ExtensionNotes,
			PreviousEndDate:    c.EndDate,
			NewEndDate:         c.EndDate.Add(time.Duration(c.ExtensionDays) * 24 * time.Hour),
			PreviousPrice:      c.Price,
			NewPrice:           c.Price.Add(c.ExtensionAmount),
			PreviousTotalPrice: c.TotalPrice,
			CommissionDelta:    commissionDelta,
		}

		if c.OriginalEndDate == nil {
			prev := c.EndDate
			c.OriginalEndDate = &prev
		}
		c.EndDate = record.NewEndDate
		if c.ExtensionAmount.IsPositive() {
			c.Price = record.NewPrice
			c.Commission = c.Commission.Add(commissionDelta)
			c.TotalPrice = c.Price.Add(c.Commission)
		}
		record.NewTotalPrice = c.TotalPrice

		ts := m.now
		c.HasBeenExtended = true
		c.ExtensionCount = 1
		c.ExtensionApprovedBy = &actorID
		c.ExtensionApprovedAt = &ts
		c.ExtensionHistory = append(c.ExtensionHistory, record)
		m.notify(ActionExtensionApproved, map[string]any{"new_end_date": c.EndDate})
		return nil
	})
}

// extensionCommission applies the configured policy to the added amount.
func extensionCommission(m *mutation, amount decimal.Decimal) (decimal.Decimal, error) {
	c := m.contract
	if m.policy.ExtensionCommission != config.ExtensionCommissionDelta || c.IsFreeContract || !amount.IsPositive() {
		return decimal.Zero, nil
	}
	client, err := lockUser(m.tx, c.ClientID)
	if err != nil {
		return decimal.Zero, err
	}
	return CommissionOnDelta(m.policy, commissionInputFor(client, amount), amount), nil
}

// RejectExtension clears the request; the client may ask again.
func RejectExtension(ctx context.Context, contractID, actorID int, reason string) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "reject_extension", func(m *mutation) error {
		c := m.contract
		if err := requireResponder(c, actorID, c.ExtensionRequestedBy); err != nil {
			return err
		}
		if err := c.requireStatus(ContractStatusAccepted, ContractStatusInProgress); err != nil {
			return err
		}
		if c.ExtensionRequestedBy == nil {
			return ErrNoExtensionRequest
		}
		clearExtensionRequest(c)
		c.ExtensionRejectedReason = reason
		m.notify(ActionExtensionRejected, map[string]any{"reason": reason})
		return nil
	})
}

func clearExtensionRequest(c *Contract) {
	c.ExtensionRequestedBy = nil
	c.ExtensionRequestedAt = nil
	c.ExtensionDays = 0
	c.ExtensionAmount = decimal.Zero
	c.ExtensionNotes = ""
}

// dropOpenRequests discards negotiations a terminal contract can no longer settle.
func dropOpenRequests(c *Contract) {
	if c.ExtensionRequestedBy != nil && c.ExtensionApprovedBy == nil {
		clearExtensionRequest(c)
	}
	c.PendingModification = nil
}
