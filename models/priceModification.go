package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/contracts_backend/utils"
	"github.com/shopspring/decimal"
)

type PriceModificationInput struct {
	NewPrice decimal.Decimal `json:"new_price"`
	Reason   string          `json:"reason" validate:"max=1000"`
}

// ModifyPendingPrice changes the price before anyone has bid or accepted and
// settles the difference in total against the client's balance immediately.
func ModifyPendingPrice(ctx context.Context, contractID, actorID int, in PriceModificationInput) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "modify_price", func(m *mutation) error {
		c := m.contract
		if actorID != c.ClientID {
			return ErrWrongRole
		}
		if err := c.requireStatus(ContractStatusPending); err != nil {
			return err
		}
		proposals, err := countProposals(m.tx, c.JobID)
		if err != nil {
			return err
		}
		if proposals > 0 {
			return ErrProposalsExist
		}
		if err := ValidateContractAmount(m.policy, in.NewPrice); err != nil {
			return err
		}
		if in.NewPrice.Equal(c.Price) {
			return ErrPriceUnchanged
		}

		client, err := lockUser(m.tx, c.ClientID)
		if err != nil {
			return err
		}
		rate, commission := c.CommissionPercentage, decimal.Zero
		if !c.IsFreeContract {
			res := CalculateCommission(m.policy, commissionInputFor(client, in.NewPrice))
			rate, commission = res.Rate, res.Commission
		}
		newTotal := in.NewPrice.Add(commission)
		moved, err := settleDifference(m, client, newTotal.Sub(c.TotalPrice))
		if err != nil {
			return err
		}

		c.PriceModificationHistory = append(c.PriceModificationHistory, PriceModification{
			PreviousPrice:      c.Price,
			NewPrice:           in.NewPrice,
			PreviousTotalPrice: c.TotalPrice,
			NewTotalPrice:      newTotal,
			CommissionDelta:    commission.Sub(c.Commission),
			PaymentDifference:  moved,
			ModifiedBy:         actorID,
			Reason:             in.Reason,
			ModifiedAt:         m.now,
		})
		if !c.OriginalPrice.Valid {
			c.OriginalPrice = decimal.NewNullDecimal(c.Price)
		}
		c.Price = in.NewPrice
		c.CommissionPercentage = rate
		c.Commission = commission
		c.TotalPrice = newTotal
		if err := mirrorJobPrice(m); err != nil {
			return err
		}
		m.notify(ActionPriceModified, map[string]any{"payment_difference": moved})
		return nil
	})
}

// settleDifference debits a positive difference from the client's balance and
// credits a negative one, never refunding more than the platform holds.
// It returns the signed amount actually moved.
func settleDifference(m *mutation, client *User, diff decimal.Decimal) (decimal.Decimal, error) {
	c := m.contract
	switch {
	case diff.IsPositive():
		if err := moveBalance(m.tx, client, balanceMove{
			Type:       BalanceDebit,
			Reason:     reasonPriceIncrease,
			Amount:     diff,
			ContractID: &c.ID,
		}); err != nil {
			return decimal.Zero, err
		}
		return diff, nil
	case diff.IsNegative():
		held, _, err := heldAmount(m.tx, c.ID)
		if err != nil {
			return decimal.Zero, err
		}
		credit := decimal.Min(diff.Neg(), held)
		if !credit.IsPositive() {
			return decimal.Zero, nil
		}
		if err := moveBalance(m.tx, client, balanceMove{
			Type:       BalanceCredit,
			Reason:     reasonPriceDecrease,
			Amount:     credit,
			ContractID: &c.ID,
		}); err != nil {
			return decimal.Zero, err
		}
		return credit.Neg(), nil
	}
	return decimal.Zero, nil
}

func mirrorJobPrice(m *mutation) error {
	c := m.contract
	job, err := m.Job()
	if err != nil {
		return err
	}
	if !job.IsMultiWorker() {
		return updateJob(m.tx, job.ID, map[string]interface{}{"price": c.Price})
	}
	c.AllocatedAmount = decimal.NewNullDecimal(c.Price)
	if job.Price.IsPositive() {
		c.PercentageOfBudget = decimal.NewNullDecimal(c.Price.Div(job.Price).Mul(hundred).Round(2))
	}
	return nil
}

type PriceChangeRequest struct {
	Price     *decimal.Decimal `json:"price"`
	StartDate *time.Time       `json:"start_date"`
	EndDate   *time.Time       `json:"end_date"`
	Notes     string           `json:"notes" validate:"required"`
}

// RequestPriceChange proposes new terms on a live contract. The requester's
// approval is recorded with the request; the other party approves or rejects.
func RequestPriceChange(ctx context.Context, contractID, actorID int, in PriceChangeRequest) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "request_price_change", func(m *mutation) error {
		c := m.contract
		if actorID != c.ClientID {
			return ErrWrongRole
		}
		if err := c.requireStatus(ContractStatusAccepted, ContractStatusInProgress); err != nil {
			return err
		}
		if c.PendingModification != nil {
			return ErrModificationPending
		}
		if utils.TrimmedLength(in.Notes) < m.policy.MinModificationNotes {
			return validationError("notes must be at least %d characters", m.policy.MinModificationNotes)
		}

		pm := &PendingModification{
			Notes:       in.Notes,
			RequestedBy: actorID,
			RequestedAt: m.now,
		}
		changed := false
		if in.Price != nil && !in.Price.Equal(c.Price) {
			if err := ValidateContractAmount(m.policy, *in.Price); err != nil {
				return err
			}
			pm.Price = decimal.NewNullDecimal(*in.Price)
			changed = true
		}
		start, end := c.StartDate, c.EndDate
		if in.StartDate != nil && !in.StartDate.Equal(c.StartDate) {
			s := in.StartDate.UTC()
			pm.StartDate, start = &s, s
			changed = true
		}
		if in.EndDate != nil && !in.EndDate.Equal(c.EndDate) {
			e := in.EndDate.UTC()
			pm.EndDate, end = &e, e
			changed = true
		}
		if !changed {
			return validationError("at least one of price, start date or end date must change")
		}
		if !end.After(start) {
			return validationError("end date must be after start date")
		}

		c.PendingModification = pm
		if _, err := confirm(c, actorID, priceChangePair, m.now); err != nil {
			return err
		}
		m.notify(ActionPriceChangeRequested, map[string]any{"notes": in.Notes})
		return nil
	})
}

// ApprovePriceChange applies the pending change once both parties approved.
// The balance is checked here, not at request time; a shortfall rolls back
// the approval with it.
func ApprovePriceChange(ctx context.Context, contractID, actorID int) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "approve_price_change", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusAccepted, ContractStatusInProgress); err != nil {
			return err
		}
		if c.PendingModification == nil {
			return ErrNoPendingModification
		}
		both, err := confirm(c, actorID, priceChangePair, m.now)
		if err != nil {
			return err
		}
		if !both {
			m.notify(ActionPriceChangeApproved, map[string]any{"both_approved": false})
			return nil
		}
		return applyPriceChange(m)
	})
}

func applyPriceChange(m *mutation) error {
	c := m.contract
	pm := c.PendingModification
	approver := m.actorID
	record := PriceModification{
		PreviousPrice:      c.Price,
		NewPrice:           c.Price,
		PreviousTotalPrice: c.TotalPrice,
		ModifiedBy:         pm.RequestedBy,
		ApprovedBy:         &approver,
		Reason:             pm.Notes,
		ModifiedAt:         m.now,
	}

	if pm.Price.Valid {
		client, err := lockUser(m.tx, c.ClientID)
		if err != nil {
			return err
		}
		delta := pm.Price.Decimal.Sub(c.Price)
		commissionDelta := decimal.Zero
		if !c.IsFreeContract {
			in := commissionInputFor(client, delta)
			commissionDelta = CommissionOnDelta(m.policy, in, delta)
			// A decrease never takes a commissioned contract under the floor.
			if !ResolveCommissionRate(m.policy, in).IsZero() {
				floored := decimal.Max(c.Commission.Add(commissionDelta), m.policy.MinimumCommission)
				commissionDelta = floored.Sub(c.Commission)
			}
		}
		moved, err := settleDifference(m, client, delta.Add(commissionDelta))
		if err != nil {
			return err
		}
		if !c.OriginalPrice.Valid {
			c.OriginalPrice = decimal.NewNullDecimal(c.Price)
		}
		c.Price = pm.Price.Decimal
		c.Commission = c.Commission.Add(commissionDelta)
		c.TotalPrice = c.Price.Add(c.Commission)
		record.NewPrice = c.Price
		record.CommissionDelta = commissionDelta
		record.PaymentDifference = moved
		if err := mirrorJobPrice(m); err != nil {
			return err
		}
	}
	if pm.StartDate != nil {
		prev := c.StartDate
		record.PreviousStartDate, record.NewStartDate = &prev, pm.StartDate
		c.StartDate = *pm.StartDate
	}
	if pm.EndDate != nil {
		prev := c.EndDate
		record.PreviousEndDate, record.NewEndDate = &prev, pm.EndDate
		c.EndDate = *pm.EndDate
	}
	record.NewTotalPrice = c.TotalPrice
	c.PriceModificationHistory = append(c.PriceModificationHistory, record)
	c.PendingModification = nil
	m.notify(ActionPriceChangeApproved, map[string]any{"both_approved": true})
	return nil
}

// RejectPriceChange drops the pending change; no money moves.
func RejectPriceChange(ctx context.Context, contractID, actorID int, reason string) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "reject_price_change", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusAccepted, ContractStatusInProgress); err != nil {
			return err
		}
		if c.PendingModification == nil {
			return ErrNoPendingModification
		}
		c.PendingModification = nil
		m.notify(ActionPriceChangeRejected, map[string]any{"reason": reason})
		return nil
	})
}
