package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/utils"
)

type TaskClaimInput struct {
	TaskIDs         []string  `json:"task_ids" validate:"required,min=1,dive,required"`
	ProposedEndDate time.Time `json:"proposed_end_date" validate:"required"`
	Reason          string    `json:"reason" validate:"max=1000"`
}

type TaskClaimReply struct {
	Response TaskClaimResponse `json:"response" validate:"required,oneof=accepted rejected"`
	Reason   string            `json:"reason" validate:"max=1000"`
}

// RaiseTaskClaim lets the client say tasks were missed while the doer waits for
// sign-off. Only one claim may be pending; an expired one is archived first.
func RaiseTaskClaim(ctx context.Context, contractID, actorID int, in TaskClaimInput) (*Contract, error) {
	if len(in.TaskIDs) == 0 {
		return nil, validationError("at least one task must be claimed")
	}
	ids := make([]string, 0, len(in.TaskIDs))
	for _, id := range in.TaskIDs {
		if id = strings.TrimSpace(id); id == "" {
			return nil, validationError("task ids cannot be blank")
		}
		ids = append(ids, id)
	}
	if len(utils.UniqueSlice(ids)) != len(ids) {
		return nil, validationError("task ids must be unique")
	}
	return withContractLock(ctx, contractID, actorID, "raise_task_claim", func(m *mutation) error {
		c := m.contract
		if actorID != c.ClientID {
			return ErrWrongRole
		}
		if err := c.requireStatus(ContractStatusAwaitingConfirmation); err != nil {
			return err
		}
		if c.ClientConfirmed {
			return ErrClientAlreadyConfirmed
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
		if !in.ProposedEndDate.After(m.now) {
			return validationError("proposed end date must be in the future")
		}
		job, err := m.Job()
		if err != nil {
			return err
		}
		if len(job.Tasks) > 0 {
			for _, id := range ids {
				if !job.hasTask(id) {
					return validationError("unknown task %q", id)
				}
			}
		}

		ts := m.now
		proposed := in.ProposedEndDate.UTC()
		expires := ts.Add(m.policy.TaskClaimTTL)
		c.HasPendingTaskClaim = true
		c.ClaimedTaskIDs = ids
		c.TaskClaimReason = in.Reason
		c.TaskClaimProposedEndDate = &proposed
		c.TaskClaimRequestedAt = &ts
		c.TaskClaimExpiresAt = &expires
		c.TaskClaimResponse = TaskClaimPending
		c.TaskClaimRejectionReason = ""
		m.notify(ActionTaskClaimRaised, map[string]any{"task_ids": ids, "expires_at": expires})
		return nil
	})
}

// RespondTaskClaim is the doer's answer. Accepting reopens the work with the
// proposed end date; rejecting leaves the contract awaiting confirmation.
func RespondTaskClaim(ctx context.Context, contractID, actorID int, in TaskClaimReply) (*Contract, error) {
	switch in.Response {
	case TaskClaimAccepted:
	case TaskClaimRejected:
		if strings.TrimSpace(in.Reason) == "" {
			return nil, validationError("a reason is required to reject a task claim")
		}
	default:
		return nil, validationError("response must be accepted or rejected")
	}
	return withContractLock(ctx, contractID, actorID, "respond_task_claim", func(m *mutation) error {
		c := m.contract
		client := c.ClientID
		if err := requireResponder(c, actorID, &client); err != nil {
			return err
		}
		if !c.HasPendingTaskClaim {
			return ErrNoTaskClaim
		}
		if claimExpired(c, m.now) {
			return ErrTaskClaimExpired
		}
		if err := c.requireStatus(ContractStatusAwaitingConfirmation); err != nil {
			return err
		}

		responder := actorID
		record := TaskClaimRecord{
			Response:        in.Response,
			RespondedBy:     &responder,
			RespondedAt:     m.now,
			PreviousEndDate: c.EndDate,
		}
		if in.Response == TaskClaimAccepted {
			c.EndDate = *c.TaskClaimProposedEndDate
			resetConfirmation(c, completionPair)
			m.transition(ContractStatusInProgress)
			archiveTaskClaim(c, record)
			m.notify(ActionTaskClaimAccepted, map[string]any{"new_end_date": c.EndDate})
			return nil
		}

		record.RejectionReason = in.Reason
		c.TaskClaimRejectionReason = in.Reason
		if m.policy.TaskClaimRejection == config.TaskClaimRejectionAutoDispute && c.DisputeID == nil {
			if err := fileDispute(m, DisputeFiling{
				ContractID:  c.ID,
				OpenedBy:    actorID,
				Category:    DisputeCategoryTaskClaimRejected,
				Description: in.Reason,
			}); err != nil {
				return err
			}
			record.DisputeID = c.DisputeID
		}
		archiveTaskClaim(c, record)
		m.notify(ActionTaskClaimRejected, map[string]any{"reason": in.Reason})
		return nil
	})
}

func claimExpired(c *Contract, now time.Time) bool {
	return c.TaskClaimExpiresAt != nil && now.After(*c.TaskClaimExpiresAt)
}

// archiveTaskClaim copies the pending claim into history and clears it,
// keeping the last response visible on the contract.
func archiveTaskClaim(c *Contract, rec TaskClaimRecord) {
	rec.TaskIDs = c.ClaimedTaskIDs
	rec.Reason = c.TaskClaimReason
	rec.ProposedEndDate = utils.DereferencePtr(c.TaskClaimProposedEndDate)
	rec.RequestedBy = c.ClientID
	rec.RequestedAt = utils.DereferencePtr(c.TaskClaimRequestedAt)
	if rec.PreviousEndDate.IsZero() {
		rec.PreviousEndDate = c.EndDate
	}
	c.TaskClaimHistory = append(c.TaskClaimHistory, rec)
	c.HasPendingTaskClaim = false
	c.ClaimedTaskIDs = nil
	c.TaskClaimProposedEndDate = nil
	c.TaskClaimExpiresAt = nil
	c.TaskClaimResponse = rec.Response
}
