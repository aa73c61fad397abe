package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

type NewContract struct {
	JobID     int              `json:"job_id" validate:"required,gt=0"`
	DoerID    int              `json:"doer_id" validate:"required,gt=0"`
	Price     *decimal.Decimal `json:"price"`
	StartDate *time.Time       `json:"start_date"`
	EndDate   *time.Time       `json:"end_date"`
}

// CreateContract opens a pending contract between the job's client and a doer.
// Free-contract grants are consumed in the same transaction as the insert.
func CreateContract(ctx context.Context, actorID int, in NewContract) (*Contract, error) {
	ctx, span := tracer.Start(ctx, "contract.create", trace.WithAttributes(
		attribute.Int("job.id", in.JobID),
		attribute.Int("actor.id", actorID),
	))
	defer span.End()

	policy := config.GetPolicy()
	ts := currentTime()
	var contract *Contract
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job, err := lockJob(tx, in.JobID)
		if err != nil {
			return err
		}
		if job.ClientID != actorID {
			return ErrNotJobOwner
		}
		if in.DoerID == actorID {
			return ErrSameParty
		}
		if err := tx.Select("id").First(&User{}, in.DoerID).Error; err != nil {
			return notFoundAs(err, ErrUserNotFound)
		}
		if job.Status != JobStatusOpen && !(job.IsMultiWorker() && job.Status == JobStatusInProgress) {
			return ErrJobNotOpen
		}
		live, err := liveContractCount(tx, job.ID, 0)
		if err != nil {
			return err
		}
		maxWorkers := job.MaxWorkers
		if maxWorkers < 1 {
			maxWorkers = 1
		}
		if live >= int64(maxWorkers) {
			return ErrJobFull
		}

		price := job.Price
		if in.Price != nil {
			price = *in.Price
		}
		if err := ValidateContractAmount(policy, price); err != nil {
			return err
		}
		start, end := job.StartDate, job.EndDate
		if in.StartDate != nil {
			start = in.StartDate.UTC()
		}
		if in.EndDate != nil {
			end = in.EndDate.UTC()
		}
		if !end.After(start) {
			return validationError("end date must be after start date")
		}

		client, err := lockUser(tx, actorID)
		if err != nil {
			return err
		}
		input := commissionInputFor(client, price)
		input.FreeGrant = freeGrantFor(client)
		res := CalculateCommission(policy, input)
		if input.FreeGrant != FreeContractNone {
			if err := consumeFreeContract(tx, client.ID, input.FreeGrant); err != nil {
				return err
			}
		}

		contract = &Contract{
			JobID:                in.JobID,
			ClientID:             actorID,
			DoerID:               in.DoerID,
			Price:                price,
			CommissionPercentage: res.Rate,
			Commission:           res.Commission,
			TotalPrice:           res.Total,
			IsFreeContract:       res.Free != FreeContractNone,
			FreeContractSource:   res.Free,
			StartDate:            start,
			EndDate:              end,
			Status:               ContractStatusPending,
			PaymentStatus:        ContractPaymentPending,
			Version:              1,
		}
		if job.IsMultiWorker() {
			contract.AllocatedAmount = decimal.NewNullDecimal(price)
			if job.Price.IsPositive() {
				contract.PercentageOfBudget = decimal.NewNullDecimal(price.Div(job.Price).Mul(hundred).Round(2))
			}
		}
		if err := tx.Create(contract).Error; err != nil {
			return err
		}
		snapshot := *contract
		return enqueueNotification(ctx, tx, NotificationEvent{
			Action:     ActionCreated,
			ContractID: contract.ID,
			ClientID:   contract.ClientID,
			DoerID:     contract.DoerID,
			ActorID:    actorID,
			Contract:   &snapshot,
			OccurredAt: ts,
		}, contract.ClientID, contract.DoerID)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if _, ok := AsContractError(err); !ok {
			config.LogError(config.GetLogger(), "contractLifecycle.go", "CreateContract", "create contract", in, err)
		}
		return nil, err
	}
	config.GetLogger().WithFields(logrus.Fields{
		"contract_id": contract.ID,
		"actor_id":    actorID,
		"action":      "create",
		"to":          contract.Status,
	}).Info("contract transition")
	notifyOutbox()
	return contract, nil
}

// AcceptContract records one party's acceptance. The second acceptance moves
// the contract to accepted and commits the funds.
func AcceptContract(ctx context.Context, contractID, actorID int) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "accept", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusPending, ContractStatusReady); err != nil {
			return err
		}
		both, err := confirm(c, actorID, acceptancePair, m.now)
		if err != nil {
			return err
		}
		if !both {
			if c.Status == ContractStatusPending {
				m.transition(ContractStatusReady)
			}
			m.notify(ActionPartialAcceptance, nil)
			return nil
		}

		job, err := m.Job()
		if err != nil {
			return err
		}
		if !job.IsMultiWorker() {
			if job.DoerID != nil && *job.DoerID != c.DoerID {
				return ErrJobConflict
			}
			if err := updateJob(m.tx, job.ID, map[string]interface{}{"doer_id": c.DoerID}); err != nil {
				return err
			}
		}
		m.transition(ContractStatusAccepted)
		if c.PaymentStatus == ContractPaymentPending {
			c.PaymentStatus = ContractPaymentHeld
		}
		m.notify(ActionAccepted, nil)
		return nil
	})
}

// ConfirmCompletion records one party's completion confirmation; the second
// completes the contract and settles the escrow.
func ConfirmCompletion(ctx context.Context, contractID, actorID int) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "confirm_completion", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusInProgress, ContractStatusAwaitingConfirmation); err != nil {
			return err
		}
		if c.HasPendingTaskClaim {
			if !claimExpired(c, m.now) {
				return ErrTaskClaimPending
			}
			archiveTaskClaim(c, TaskClaimRecord{
				Response:    TaskClaimExpired,
				RespondedAt: m.now,
			})
		}
		both, err := confirm(c, actorID, completionPair, m.now)
		if err != nil {
			return err
		}
		if !both {
			if c.Status == ContractStatusInProgress {
				m.transition(ContractStatusAwaitingConfirmation)
			}
			m.notify(ActionPartialCompletion, nil)
			return nil
		}
		return completeContract(m)
	})
}

func completeContract(m *mutation) error {
	c := m.contract
	m.transition(ContractStatusCompleted)
	ts := m.now
	c.ActualEndDate = &ts
	dropOpenRequests(c)

	payments, err := lockActivePayments(m.tx, c.ID)
	if err != nil {
		return err
	}
	for i := range payments {
		p := &payments[i]
		switch p.Status {
		case PaymentStatusHeldEscrow:
			if err := releaseHeldPayment(m, p, systemActor); err != nil {
				return err
			}
		case PaymentStatusPending:
			p.Status = PaymentStatusFailed
			if err := updatePayment(m.tx, p); err != nil {
				return err
			}
		}
	}
	c.PaymentStatus = ContractPaymentReleased

	if err := m.tx.Model(&User{}).Where("id = ?", c.DoerID).
		Update("completed_jobs", gorm.Expr("completed_jobs + 1")).Error; err != nil {
		return err
	}
	for _, userID := range []int{c.ClientID, c.DoerID} {
		if err := triggerReferralCredit(m, userID); err != nil {
			return err
		}
	}

	open, err := openContractCount(m.tx, c.JobID, c.ID)
	if err != nil {
		return err
	}
	if open == 0 {
		if err := updateJob(m.tx, c.JobID, map[string]interface{}{"status": JobStatusCompleted}); err != nil {
			return err
		}
	}
	m.notify(ActionCompleted, nil)
	return nil
}

// CancelContract is open to either party until the cancellation notice before start.
func CancelContract(ctx context.Context, contractID, actorID int, reason string) (*Contract, error) {
	return withContractLock(ctx, contractID, actorID, "cancel", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusPending, ContractStatusReady, ContractStatusAccepted); err != nil {
			return err
		}
		if c.StartDate.Sub(m.now) <= m.policy.CancellationNotice {
			return ErrCancellationWindowClosed
		}

		payments, err := lockActivePayments(m.tx, c.ID)
		if err != nil {
			return err
		}
		for i := range payments {
			if payments[i].Status != PaymentStatusPending {
				continue
			}
			payments[i].Status = PaymentStatusFailed
			if err := updatePayment(m.tx, &payments[i]); err != nil {
				return err
			}
		}
		if _, err := returnHeldFunds(m, heldPayment(payments), actorID, reason); err != nil {
			return err
		}

		m.transition(ContractStatusCancelled)
		ts := m.now
		c.CancelledBy = &actorID
		c.CancelledAt = &ts
		c.CancellationReason = reason
		dropOpenRequests(c)

		job, err := m.Job()
		if err != nil {
			return err
		}
		others := int64(0)
		if job.IsMultiWorker() {
			if others, err = liveContractCount(m.tx, job.ID, c.ID); err != nil {
				return err
			}
		}
		if others == 0 {
			if err := updateJob(m.tx, job.ID, map[string]interface{}{"status": JobStatusCancelled}); err != nil {
				return err
			}
		}
		m.notify(ActionCancelled, map[string]any{"reason": reason})
		return nil
	})
}
