package models_test

import (
	"testing"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
)

// awaitingSignOff returns a started contract the doer has marked complete.
func (f *fixture) awaitingSignOff() *models.Contract {
	f.t.Helper()
	c := f.started(f.accepted())
	c, err := models.ConfirmCompletion(f.ctx, c.ID, f.doer.ID)
	if err != nil {
		f.t.Fatalf("doer completion: %v", err)
	}
	return c
}

func (f *fixture) raiseClaim(c *models.Contract) *models.Contract {
	f.t.Helper()
	c, err := models.RaiseTaskClaim(f.ctx, c.ID, f.client.ID, models.TaskClaimInput{
		TaskIDs:         []string{"prime", "topcoat"},
		ProposedEndDate: f.now.Add(48 * time.Hour),
		Reason:          "second coat missing",
	})
	if err != nil {
		f.t.Fatalf("RaiseTaskClaim: %v", err)
	}
	return c
}

func TestTaskClaim_DoerRejects(t *testing.T) {
	f := newFixture(t)
	c := f.raiseClaim(f.awaitingSignOff())
	if !c.HasPendingTaskClaim || c.TaskClaimResponse != models.TaskClaimPending {
		t.Fatalf("expected a pending claim")
	}
	if c.TaskClaimExpiresAt == nil || !c.TaskClaimExpiresAt.Equal(f.now.Add(72*time.Hour)) {
		t.Fatalf("expected a 72h claim window, got %v", c.TaskClaimExpiresAt)
	}

	_, err := models.ConfirmCompletion(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrTaskClaimPending)

	_, err = models.RespondTaskClaim(f.ctx, c.ID, f.doer.ID, models.TaskClaimReply{Response: models.TaskClaimRejected})
	wantErr(t, err, models.ErrValidation)

	got, err := models.RespondTaskClaim(f.ctx, c.ID, f.doer.ID, models.TaskClaimReply{Response: models.TaskClaimRejected, Reason: "work was completed"})
	if err != nil {
		t.Fatalf("RespondTaskClaim: %v", err)
	}
	if got.HasPendingTaskClaim || got.TaskClaimResponse != models.TaskClaimRejected {
		t.Fatalf("expected a rejected, no longer pending claim, got pending=%v response=%s", got.HasPendingTaskClaim, got.TaskClaimResponse)
	}
	if len(got.TaskClaimHistory) != 1 || got.TaskClaimHistory[0].RejectionReason != "work was completed" {
		t.Fatalf("expected one history entry with the reason, got %+v", got.TaskClaimHistory)
	}
	if got.Status != models.ContractStatusAwaitingConfirmation {
		t.Fatalf("rejection must not change status, got %s", got.Status)
	}
	if got.DisputeID != nil {
		t.Fatalf("manual policy must not open a dispute")
	}
}

func TestTaskClaim_DoerAcceptsReopensWork(t *testing.T) {
	f := newFixture(t)
	c := f.raiseClaim(f.awaitingSignOff())
	proposed := *c.TaskClaimProposedEndDate

	_, err := models.RespondTaskClaim(f.ctx, c.ID, f.client.ID, models.TaskClaimReply{Response: models.TaskClaimAccepted})
	wantErr(t, err, models.ErrSelfApproval)

	got, err := models.RespondTaskClaim(f.ctx, c.ID, f.doer.ID, models.TaskClaimReply{Response: models.TaskClaimAccepted})
	if err != nil {
		t.Fatalf("RespondTaskClaim: %v", err)
	}
	if got.Status != models.ContractStatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
	if !got.EndDate.Equal(proposed) {
		t.Fatalf("expected end date %v, got %v", proposed, got.EndDate)
	}
	if got.DoerConfirmed || got.ClientConfirmed {
		t.Fatalf("completion confirmations must be cleared")
	}

	// The doer can sign off again once the missing work is done.
	got, err = models.ConfirmCompletion(f.ctx, c.ID, f.doer.ID)
	if err != nil {
		t.Fatalf("ConfirmCompletion: %v", err)
	}
	if got.Status != models.ContractStatusAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", got.Status)
	}
}

func TestTaskClaim_Rules(t *testing.T) {
	f := newFixture(t)
	c := f.awaitingSignOff()

	_, err := models.RaiseTaskClaim(f.ctx, c.ID, f.doer.ID, models.TaskClaimInput{TaskIDs: []string{"a"}, ProposedEndDate: f.now.Add(time.Hour)})
	wantErr(t, err, models.ErrWrongRole)

	_, err = models.RaiseTaskClaim(f.ctx, c.ID, f.client.ID, models.TaskClaimInput{TaskIDs: []string{"a", "a"}, ProposedEndDate: f.now.Add(time.Hour)})
	wantErr(t, err, models.ErrValidation)

	_, err = models.RaiseTaskClaim(f.ctx, c.ID, f.client.ID, models.TaskClaimInput{TaskIDs: []string{"a"}, ProposedEndDate: f.now.Add(-time.Hour)})
	wantErr(t, err, models.ErrValidation)

	f.raiseClaim(c)
	_, err = models.RaiseTaskClaim(f.ctx, c.ID, f.client.ID, models.TaskClaimInput{TaskIDs: []string{"a"}, ProposedEndDate: f.now.Add(time.Hour)})
	wantErr(t, err, models.ErrTaskClaimPending)
}

func TestTaskClaim_ClientAlreadyConfirmed(t *testing.T) {
	f := newFixture(t)
	c := f.started(f.accepted())
	if _, err := models.ConfirmCompletion(f.ctx, c.ID, f.client.ID); err != nil {
		t.Fatalf("client completion: %v", err)
	}
	_, err := models.RaiseTaskClaim(f.ctx, c.ID, f.client.ID, models.TaskClaimInput{TaskIDs: []string{"a"}, ProposedEndDate: f.now.Add(time.Hour)})
	wantErr(t, err, models.ErrClientAlreadyConfirmed)
}

func TestTaskClaim_UnknownTask(t *testing.T) {
	f := newFixture(t)
	err := config.GetDB().Model(&models.Job{ID: f.job.ID}).Select("tasks").
		Updates(&models.Job{Tasks: []models.JobTask{{ID: "prime", Title: "Prime"}, {ID: "topcoat", Title: "Top coat"}}}).Error
	if err != nil {
		t.Fatalf("seed tasks: %v", err)
	}
	c := f.awaitingSignOff()

	_, err = models.RaiseTaskClaim(f.ctx, c.ID, f.client.ID, models.TaskClaimInput{TaskIDs: []string{"gate"}, ProposedEndDate: f.now.Add(time.Hour)})
	wantErr(t, err, models.ErrValidation)
	f.raiseClaim(c)
}

func TestTaskClaim_ExpiredClaimIsArchived(t *testing.T) {
	f := newFixture(t)
	c := f.raiseClaim(f.awaitingSignOff())

	f.setNow(f.now.Add(73 * time.Hour))
	_, err := models.RespondTaskClaim(f.ctx, c.ID, f.doer.ID, models.TaskClaimReply{Response: models.TaskClaimAccepted})
	wantErr(t, err, models.ErrTaskClaimExpired)

	got := f.raiseClaim(c)
	if len(got.TaskClaimHistory) != 1 || got.TaskClaimHistory[0].Response != models.TaskClaimExpired {
		t.Fatalf("expected the expired claim in history, got %+v", got.TaskClaimHistory)
	}
	if !got.HasPendingTaskClaim || got.TaskClaimResponse != models.TaskClaimPending {
		t.Fatalf("expected a new pending claim")
	}
}

func TestTaskClaim_AutoDisputePolicy(t *testing.T) {
	f := newFixture(t)
	policy := config.DefaultContractPolicy()
	policy.TaskClaimRejection = config.TaskClaimRejectionAutoDispute
	config.SetPolicy(policy)

	c := f.raiseClaim(f.awaitingSignOff())
	got, err := models.RespondTaskClaim(f.ctx, c.ID, f.doer.ID, models.TaskClaimReply{Response: models.TaskClaimRejected, Reason: "work was completed"})
	if err != nil {
		t.Fatalf("RespondTaskClaim: %v", err)
	}
	if got.DisputeID == nil {
		t.Fatalf("expected a dispute to be opened")
	}
	if got.TaskClaimHistory[0].DisputeID == nil || *got.TaskClaimHistory[0].DisputeID != *got.DisputeID {
		t.Fatalf("expected the history entry to reference the dispute")
	}
	var d models.Dispute
	if err := config.GetDB().First(&d, *got.DisputeID).Error; err != nil {
		t.Fatalf("load dispute: %v", err)
	}
	if d.Category != models.DisputeCategoryTaskClaimRejected || d.ContractID != c.ID {
		t.Fatalf("unexpected dispute %+v", d)
	}
}

func TestOpenDispute_OncePerContract(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()

	_, err := models.OpenDispute(f.ctx, c.ID, f.client.ID, models.DisputeInput{Category: "quality"})
	wantErr(t, err, models.ErrInvalidTransition)

	c = f.started(c)
	got, err := models.OpenDispute(f.ctx, c.ID, f.doer.ID, models.DisputeInput{Category: "payment", Description: "client unresponsive"})
	if err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}
	if got.DisputeID == nil {
		t.Fatalf("expected dispute id on the contract")
	}
	_, err = models.OpenDispute(f.ctx, c.ID, f.client.ID, models.DisputeInput{Category: "quality"})
	wantErr(t, err, models.ErrDisputeExists)
}

func TestTaskClaim_ExpiredClaimDoesNotBlockCompletion(t *testing.T) {
	f := newFixture(t)
	c := f.raiseClaim(f.awaitingSignOff())

	_, err := models.ConfirmCompletion(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrTaskClaimPending)

	f.setNow(f.now.Add(73 * time.Hour))
	got, err := models.ConfirmCompletion(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("ConfirmCompletion: %v", err)
	}
	if got.Status != models.ContractStatusCompleted || got.HasPendingTaskClaim {
		t.Fatalf("expected completed with no pending claim, got %s pending=%v", got.Status, got.HasPendingTaskClaim)
	}
	if len(got.TaskClaimHistory) != 1 || got.TaskClaimHistory[0].Response != models.TaskClaimExpired {
		t.Fatalf("expected the expired claim in history, got %+v", got.TaskClaimHistory)
	}
}
