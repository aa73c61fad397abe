package models

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Payment is one attempt to move money for a contract. Status only moves
// forward, except held_escrow -> refunded.
type Payment struct {
	ID                int             `gorm:"primary_key" json:"id"`
	ContractID        int             `gorm:"index;not null" json:"contract_id"`
	PayerID           int             `gorm:"index;not null" json:"payer_id"`
	PayeeID           int             `gorm:"index;not null" json:"payee_id"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency          string          `gorm:"size:3;not null" json:"currency"`
	Status            PaymentStatus   `gorm:"size:30;not null;index" json:"status"`
	PaymentType       PaymentType     `gorm:"size:30;not null" json:"payment_type"`
	IsEscrow          bool            `gorm:"not null;default:false" json:"is_escrow"`
	Provider          PaymentProvider `gorm:"size:20;not null" json:"provider"`
	ProviderCaptureID *string         `gorm:"size:255;index" json:"provider_capture_id"`
	PlatformFee       decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"platform_fee"`
	EscrowReleasedAt  *time.Time      `json:"escrow_released_at"`
	EscrowReleasedBy  *int            `json:"escrow_released_by"`
	RefundReason      string          `gorm:"type:text" json:"refund_reason"`
	RefundedAt        *time.Time      `json:"refunded_at"`
	RefundedBy        *int            `json:"refunded_by"`
	LastReconciledAt  *time.Time      `json:"last_reconciled_at"`
	ReconcileError    *string         `gorm:"type:text" json:"reconcile_error"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetPayment(ctx context.Context, id int) (*Payment, error) {
	var p Payment
	if err := config.GetDB().WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, notFoundAs(err, ErrPaymentNotFound)
	}
	return &p, nil
}

func ListPaymentsForContract(ctx context.Context, contractID, userID int) ([]Payment, error) {
	if _, err := GetContract(ctx, contractID, userID); err != nil {
		return nil, err
	}
	var payments []Payment
	err := config.GetDB().WithContext(ctx).Where("contract_id = ?", contractID).Order("id").Find(&payments).Error
	return payments, err
}

func lockPayment(tx *gorm.DB, id int) (*Payment, error) {
	var p Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
		return nil, notFoundAs(err, ErrPaymentNotFound)
	}
	return &p, nil
}

func lockActivePayments(tx *gorm.DB, contractID int) ([]Payment, error) {
	var payments []Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("contract_id = ? AND payment_type = ? AND status IN ?", contractID, PaymentTypeContractEscrow, activePaymentStatuses).
		Order("id").
		Find(&payments).Error
	return payments, err
}

func heldPayment(payments []Payment) *Payment {
	for i := range payments {
		if payments[i].Status == PaymentStatusHeldEscrow {
			return &payments[i]
		}
	}
	return nil
}

func updatePayment(tx *gorm.DB, p *Payment) error {
	return tx.Model(p).Select("*").Omit("id", "created_at").Updates(p).Error
}

// netAdjustments is what the client has paid (positive) or been refunded
// (negative) through price changes on the contract.
func netAdjustments(tx *gorm.DB, contractID int) (decimal.Decimal, error) {
	var rows []BalanceTransaction
	err := tx.Where("contract_id = ? AND reason IN ?", contractID, []string{reasonPriceIncrease, reasonPriceDecrease}).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	net := decimal.Zero
	for _, r := range rows {
		if r.Type == BalanceDebit {
			net = net.Add(r.Amount)
		} else {
			net = net.Sub(r.Amount)
		}
	}
	return net, nil
}

// heldAmount is the money the platform currently holds for the contract.
func heldAmount(tx *gorm.DB, contractID int) (decimal.Decimal, *Payment, error) {
	payments, err := lockActivePayments(tx, contractID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	net, err := netAdjustments(tx, contractID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	held := net
	p := heldPayment(payments)
	if p != nil {
		held = held.Add(p.Amount)
	}
	if held.IsNegative() {
		held = decimal.Zero
	}
	return held, p, nil
}

// amountDue is what funding the escrow still has to collect.
func amountDue(tx *gorm.DB, c *Contract) (decimal.Decimal, error) {
	net, err := netAdjustments(tx, c.ID)
	if err != nil {
		return decimal.Zero, err
	}
	due := c.TotalPrice.Sub(net)
	if due.IsNegative() {
		due = decimal.Zero
	}
	return due, nil
}

// requireFundable allows one escrow per contract: none may be in flight and
// none may have been paid out already.
func requireFundable(tx *gorm.DB, c *Contract) error {
	if c.PaymentStatus == ContractPaymentReleased {
		return ErrEscrowReleased
	}
	payments, err := lockActivePayments(tx, c.ID)
	if err != nil {
		return err
	}
	if len(payments) > 0 {
		return ErrActivePaymentExists
	}
	var released int64
	if err := tx.Model(&Payment{}).
		Where("contract_id = ? AND payment_type = ? AND status = ?", c.ID, PaymentTypeContractEscrow, PaymentStatusCompleted).
		Count(&released).Error; err != nil {
		return err
	}
	if released > 0 {
		return ErrEscrowReleased
	}
	return nil
}

// FundEscrowFromBalance moves the amount due from the client's balance into escrow.
func FundEscrowFromBalance(ctx context.Context, contractID, actorID int) (*Payment, error) {
	var payment *Payment
	_, err := withContractLock(ctx, contractID, actorID, "fund_escrow", func(m *mutation) error {
		c := m.contract
		if actorID != c.ClientID {
			return ErrWrongRole
		}
		if err := c.requireStatus(ContractStatusPending, ContractStatusReady, ContractStatusAccepted); err != nil {
			return err
		}
		if err := requireFundable(m.tx, c); err != nil {
			return err
		}
		due, err := amountDue(m.tx, c)
		if err != nil {
			return err
		}
		client, err := lockUser(m.tx, c.ClientID)
		if err != nil {
			return err
		}
		payment = &Payment{
			ContractID:  c.ID,
			PayerID:     c.ClientID,
			PayeeID:     c.DoerID,
			Amount:      due,
			Currency:    m.policy.Currency,
			Status:      PaymentStatusHeldEscrow,
			PaymentType: PaymentTypeContractEscrow,
			IsEscrow:    true,
			Provider:    PaymentProviderBalance,
			PlatformFee: c.Commission,
		}
		if err := m.tx.Create(payment).Error; err != nil {
			return err
		}
		if err := moveBalance(m.tx, client, balanceMove{
			Type:       BalanceDebit,
			Reason:     reasonEscrowFunding,
			Amount:     due,
			ContractID: &c.ID,
			PaymentID:  &payment.ID,
		}); err != nil {
			return err
		}
		c.PaymentStatus = ContractPaymentEscrow
		m.notify(ActionEscrowFunded, map[string]any{"payment_id": payment.ID, "amount": due})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// StartEscrowCheckout opens a pending gateway payment for the amount due.
func StartEscrowCheckout(ctx context.Context, contractID, actorID int, provider PaymentProvider) (*Payment, error) {
	if !provider.IsGateway() {
		return nil, validationError("unsupported payment provider %q", provider)
	}
	var payment *Payment
	_, err := withContractLock(ctx, contractID, actorID, "start_checkout", func(m *mutation) error {
		c := m.contract
		if actorID != c.ClientID {
			return ErrWrongRole
		}
		if err := c.requireStatus(ContractStatusPending, ContractStatusReady, ContractStatusAccepted); err != nil {
			return err
		}
		if err := requireFundable(m.tx, c); err != nil {
			return err
		}
		due, err := amountDue(m.tx, c)
		if err != nil {
			return err
		}
		payment = &Payment{
			ContractID:  c.ID,
			PayerID:     c.ClientID,
			PayeeID:     c.DoerID,
			Amount:      due,
			Currency:    m.policy.Currency,
			Status:      PaymentStatusPending,
			PaymentType: PaymentTypeContractEscrow,
			IsEscrow:    true,
			Provider:    provider,
			PlatformFee: c.Commission,
		}
		m.skipSave = true
		return m.tx.Create(payment).Error
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// MarkCheckoutReturned records the capture id from the gateway redirect and
// reconciles optimistically: the user came back from a successful checkout.
func MarkCheckoutReturned(ctx context.Context, gw gateway.Client, paymentID, actorID int, captureID string) (*Payment, error) {
	if captureID == "" {
		return nil, validationError("capture id is required")
	}
	p, err := GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	_, err = withContractLock(ctx, p.ContractID, actorID, "checkout_return", func(m *mutation) error {
		locked, err := lockPayment(m.tx, paymentID)
		if err != nil {
			return err
		}
		if locked.PayerID != actorID {
			return ErrNotPayer
		}
		if locked.Status != PaymentStatusPending {
			return ErrPaymentNotPending
		}
		locked.Status = PaymentStatusProcessing
		locked.ProviderCaptureID = &captureID
		m.skipSave = true
		return updatePayment(m.tx, locked)
	})
	if err != nil {
		return nil, err
	}
	return ReconcileCapture(ctx, gw, paymentID, true)
}

// ReconcileCapture asks the gateway for the capture outcome and applies it.
// With optimistic set a gateway error counts as approved; otherwise the error
// is recorded on the payment and returned so the reconciler retries later.
func ReconcileCapture(ctx context.Context, gw gateway.Client, paymentID int, optimistic bool) (*Payment, error) {
	p, err := GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != PaymentStatusProcessing && p.Status != PaymentStatusPending {
		return p, nil
	}
	if p.ProviderCaptureID == nil || *p.ProviderCaptureID == "" {
		return p, nil
	}

	var outcome gateway.CaptureStatus
	var gwErr error
	if gw == nil {
		gwErr = gateway.ErrNotConfigured
	} else {
		outcome, gwErr = gw.CaptureStatus(ctx, string(p.Provider), *p.ProviderCaptureID)
	}
	if gwErr != nil {
		logger := config.GetLogger()
		if !optimistic {
			msg := gwErr.Error()
			ts := currentTime()
			if err := config.GetDB().WithContext(ctx).Model(&Payment{}).Where("id = ?", p.ID).
				Updates(map[string]interface{}{"reconcile_error": &msg, "last_reconciled_at": &ts}).Error; err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("reconcile capture for payment %d: %w", p.ID, gwErr)
		}
		logger.WithFields(logrus.Fields{
			"field":       "ReconcileCapture",
			"payment_id":  p.ID,
			"contract_id": p.ContractID,
		}).Warn("gateway check failed; treating capture as approved: " + gwErr.Error())
		outcome = gateway.CaptureApproved
	}
	return ApplyCaptureOutcome(ctx, p.ID, outcome)
}

// ApplyCaptureOutcome moves a pending or processing payment to its settled state.
// Payments already settled are returned unchanged so webhooks may repeat.
func ApplyCaptureOutcome(ctx context.Context, paymentID int, outcome gateway.CaptureStatus) (*Payment, error) {
	p, err := GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	var result *Payment
	_, err = withContractLock(ctx, p.ContractID, systemActor, "apply_capture", func(m *mutation) error {
		locked, err := lockPayment(m.tx, paymentID)
		if err != nil {
			return err
		}
		result = locked
		ts := m.now
		locked.LastReconciledAt = &ts
		locked.ReconcileError = nil
		if locked.Status != PaymentStatusProcessing && locked.Status != PaymentStatusPending {
			m.skipSave = true
			return nil
		}
		c := m.contract
		switch outcome {
		case gateway.CaptureApproved:
			locked.Status = PaymentStatusHeldEscrow
			switch c.Status {
			case ContractStatusCompleted:
				if err := releaseHeldPayment(m, locked, systemActor); err != nil {
					return err
				}
			case ContractStatusCancelled:
				if _, err := returnHeldFunds(m, locked, systemActor, "contract cancelled before capture settled"); err != nil {
					return err
				}
			default:
				c.PaymentStatus = ContractPaymentEscrow
				m.notify(ActionEscrowFunded, map[string]any{"payment_id": locked.ID, "amount": locked.Amount})
			}
		case gateway.CaptureRejected:
			locked.Status = PaymentStatusFailed
			m.notifyTo(ActionPaymentFailed, map[string]any{"payment_id": locked.ID}, locked.PayerID)
		default:
			m.skipSave = true
		}
		return updatePayment(m.tx, locked)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyCaptureEvent resolves a webhook capture id to its payment.
func ApplyCaptureEvent(ctx context.Context, captureID string, outcome gateway.CaptureStatus) (*Payment, error) {
	var p Payment
	err := config.GetDB().WithContext(ctx).Where("provider_capture_id = ?", captureID).Order("id DESC").First(&p).Error
	if err != nil {
		return nil, notFoundAs(err, ErrPaymentNotFound)
	}
	return ApplyCaptureOutcome(ctx, p.ID, outcome)
}

// ReleaseEscrow lets the payer release held funds to the doer. A second call
// fails with EscrowNotHeld instead of paying twice.
func ReleaseEscrow(ctx context.Context, paymentID, actorID int) (*Payment, error) {
	p, err := GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	var result *Payment
	_, err = withContractLock(ctx, p.ContractID, actorID, "release_escrow", func(m *mutation) error {
		locked, err := lockPayment(m.tx, paymentID)
		if err != nil {
			return err
		}
		if locked.PayerID != actorID {
			return ErrNotPayer
		}
		if locked.Status != PaymentStatusHeldEscrow {
			return ErrEscrowNotHeld
		}
		result = locked
		return releaseHeldPayment(m, locked, actorID)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// releaseHeldPayment pays the doer the contract price out of a held payment.
func releaseHeldPayment(m *mutation, p *Payment, releasedBy int) error {
	c := m.contract
	doer, err := lockUser(m.tx, c.DoerID)
	if err != nil {
		return err
	}
	if err := moveBalance(m.tx, doer, balanceMove{
		Type:       BalanceCredit,
		Reason:     reasonEscrowRelease,
		Amount:     c.Price,
		ContractID: &c.ID,
		PaymentID:  &p.ID,
	}); err != nil {
		return err
	}
	ts := m.now
	p.Status = PaymentStatusCompleted
	p.EscrowReleasedAt = &ts
	if releasedBy != systemActor {
		p.EscrowReleasedBy = &releasedBy
	}
	c.PaymentStatus = ContractPaymentReleased
	m.notify(ActionEscrowReleased, map[string]any{"payment_id": p.ID, "amount": c.Price})
	return updatePayment(m.tx, p)
}

// returnHeldFunds gives back everything held for a cancelled contract: the held
// payment through its own channel and any net price-increase debits to the balance.
func returnHeldFunds(m *mutation, p *Payment, refundedBy int, reason string) (bool, error) {
	c := m.contract
	net, err := netAdjustments(m.tx, c.ID)
	if err != nil {
		return false, err
	}
	returned := false
	if p != nil {
		amount := p.Amount
		if net.IsNegative() {
			amount = decimal.Max(amount.Add(net), decimal.Zero)
		}
		if err := refundHeldPayment(m, p, refundedBy, reason, amount); err != nil {
			return false, err
		}
		returned = true
	}
	if net.IsPositive() {
		var refunds []BalanceTransaction
		if err := m.tx.Where("contract_id = ? AND reason = ?", c.ID, reasonAdjustmentRefund).
			Find(&refunds).Error; err != nil {
			return false, err
		}
		due := net
		for _, r := range refunds {
			due = due.Sub(r.Amount)
		}
		if due.IsPositive() {
			client, err := lockUser(m.tx, c.ClientID)
			if err != nil {
				return false, err
			}
			if err := moveBalance(m.tx, client, balanceMove{
				Type:       BalanceCredit,
				Reason:     reasonAdjustmentRefund,
				Amount:     due,
				ContractID: &c.ID,
			}); err != nil {
				return false, err
			}
			returned = true
		}
	}
	// The hold committed on acceptance is released even when nothing was captured.
	if returned || c.PaymentStatus == ContractPaymentHeld || c.PaymentStatus == ContractPaymentEscrow {
		c.PaymentStatus = ContractPaymentRefunded
	}
	return returned, nil
}

// refundHeldPayment returns amount of a held payment to the payer through the channel it came from.
func refundHeldPayment(m *mutation, p *Payment, refundedBy int, reason string, amount decimal.Decimal) error {
	ts := m.now
	p.Status = PaymentStatusRefunded
	p.RefundedAt = &ts
	p.RefundReason = reason
	if refundedBy != systemActor {
		p.RefundedBy = &refundedBy
	}
	switch {
	case amount.IsZero():
	case p.Provider.IsGateway():
		if err := m.refund(RefundCommand{
			PaymentID:      p.ID,
			ContractID:     p.ContractID,
			Provider:       p.Provider,
			CaptureID:      utils.DereferencePtr(p.ProviderCaptureID),
			Amount:         amount,
			Currency:       p.Currency,
			IdempotencyKey: fmt.Sprintf("refund:payment:%d", p.ID),
		}); err != nil {
			return err
		}
	default:
		payer, err := lockUser(m.tx, p.PayerID)
		if err != nil {
			return err
		}
		if err := moveBalance(m.tx, payer, balanceMove{
			Type:       BalanceCredit,
			Reason:     reasonEscrowRefund,
			Amount:     amount,
			ContractID: &p.ContractID,
			PaymentID:  &p.ID,
		}); err != nil {
			return err
		}
	}
	m.notifyTo(ActionEscrowRefunded, map[string]any{"payment_id": p.ID, "amount": amount}, p.PayerID)
	return updatePayment(m.tx, p)
}

// ListStaleProcessingPayments returns gateway payments stuck in processing.
func ListStaleProcessingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]Payment, error) {
	var payments []Payment
	err := config.GetDB().WithContext(ctx).
		Where("status = ? AND updated_at <= ?", PaymentStatusProcessing, currentTime().Add(-olderThan)).
		Order("id").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

