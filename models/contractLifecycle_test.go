package models_test

import (
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func TestCreateContract_ComputesCommission(t *testing.T) {
	f := newFixture(t)
	c := f.create()

	if c.Status != models.ContractStatusPending {
		t.Fatalf("expected pending, got %s", c.Status)
	}
	wantAmount(t, "price", c.Price, dec(10000))
	wantAmount(t, "commission", c.Commission, dec(1000))
	wantAmount(t, "total", c.TotalPrice, dec(11000))
	if c.Version != 1 {
		t.Fatalf("expected version 1, got %d", c.Version)
	}

	var queued int64
	config.GetDB().Model(&models.OutboxMessage{}).
		Where("contract_id = ? AND action = ?", c.ID, models.ActionCreated).
		Count(&queued)
	if queued != 1 {
		t.Fatalf("expected one created notification, got %d", queued)
	}
}

func TestCreateContract_Rejections(t *testing.T) {
	f := newFixture(t)
	stranger := f.seedUser(models.User{Name: "Stranger"})
	low := decimal.NewFromInt(4000)
	end := f.job.StartDate.Add(-time.Hour)

	tests := []struct {
		name  string
		actor int
		in    models.NewContract
		want  error
	}{
		{"not job owner", stranger.ID, models.NewContract{JobID: f.job.ID, DoerID: f.doer.ID}, models.ErrNotJobOwner},
		{"same party", f.client.ID, models.NewContract{JobID: f.job.ID, DoerID: f.client.ID}, models.ErrSameParty},
		{"unknown doer", f.client.ID, models.NewContract{JobID: f.job.ID, DoerID: 9999}, models.ErrUserNotFound},
		{"unknown job", f.client.ID, models.NewContract{JobID: 9999, DoerID: f.doer.ID}, models.ErrJobNotFound},
		{"below minimum", f.client.ID, models.NewContract{JobID: f.job.ID, DoerID: f.doer.ID, Price: &low}, models.ErrBelowMinimum},
		{"end before start", f.client.ID, models.NewContract{JobID: f.job.ID, DoerID: f.doer.ID, EndDate: &end}, models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := models.CreateContract(f.ctx, tt.actor, tt.in)
			wantErr(t, err, tt.want)
		})
	}

	f.create()
	_, err := models.CreateContract(f.ctx, f.client.ID, models.NewContract{JobID: f.job.ID, DoerID: stranger.ID})
	wantErr(t, err, models.ErrJobFull)
}

func TestCreateContract_FreeGrantConsumedWithContract(t *testing.T) {
	f := newFixture(t)
	config.GetDB().Model(&models.User{}).Where("id = ?", f.client.ID).Update("free_contracts_remaining", 1)

	c := f.create()
	if !c.IsFreeContract || c.FreeContractSource != models.FreeContractSignup {
		t.Fatalf("expected signup free contract, got free=%v source=%q", c.IsFreeContract, c.FreeContractSource)
	}
	wantAmount(t, "commission", c.Commission, decimal.Zero)
	wantAmount(t, "total", c.TotalPrice, dec(10000))
	if got := f.user(f.client.ID).FreeContractsRemaining; got != 0 {
		t.Fatalf("expected grant consumed, %d remaining", got)
	}

	// A failed creation must not consume a grant.
	config.GetDB().Model(&models.User{}).Where("id = ?", f.client.ID).Update("monthly_free_contracts_remaining", 1)
	other := f.seedJob(models.Job{
		ClientID:   f.client.ID,
		Title:      "Second job",
		Price:      dec(10000),
		StartDate:  f.job.StartDate,
		EndDate:    f.job.EndDate,
		Status:     models.JobStatusOpen,
		MaxWorkers: 1,
	})
	low := decimal.NewFromInt(100)
	_, err := models.CreateContract(f.ctx, f.client.ID, models.NewContract{JobID: other.ID, DoerID: f.doer.ID, Price: &low})
	wantErr(t, err, models.ErrBelowMinimum)
	if got := f.user(f.client.ID).MonthlyFreeContractsRemaining; got != 1 {
		t.Fatalf("monthly grant consumed by a failed create, %d remaining", got)
	}
}

func TestAcceptContract_DualConfirmation(t *testing.T) {
	f := newFixture(t)
	c := f.create()

	c, err := models.AcceptContract(f.ctx, c.ID, f.doer.ID)
	if err != nil {
		t.Fatalf("doer accept: %v", err)
	}
	if c.Status != models.ContractStatusReady || !c.TermsAcceptedByDoer || c.TermsAcceptedByClient {
		t.Fatalf("expected ready with only doer acceptance, got %s client=%v doer=%v",
			c.Status, c.TermsAcceptedByClient, c.TermsAcceptedByDoer)
	}

	_, err = models.AcceptContract(f.ctx, c.ID, f.doer.ID)
	wantErr(t, err, models.ErrAlreadyAccepted)

	c, err = models.AcceptContract(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("client accept: %v", err)
	}
	if c.Status != models.ContractStatusAccepted || !c.TermsAcceptedByClient || !c.TermsAcceptedByDoer {
		t.Fatalf("expected accepted with both flags, got %s", c.Status)
	}
	if c.PaymentStatus != models.ContractPaymentHeld {
		t.Fatalf("expected payment status held, got %s", c.PaymentStatus)
	}
	job := f.jobRow()
	if job.DoerID == nil || *job.DoerID != f.doer.ID {
		t.Fatalf("expected job doer to be %d, got %v", f.doer.ID, job.DoerID)
	}

	_, err = models.AcceptContract(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrInvalidTransition)
}

func TestAcceptContract_NonParticipant(t *testing.T) {
	f := newFixture(t)
	c := f.create()
	stranger := f.seedUser(models.User{Name: "Stranger"})
	_, err := models.AcceptContract(f.ctx, c.ID, stranger.ID)
	wantErr(t, err, models.ErrNotParticipant)
}

func TestAcceptContract_ConcurrentAcceptsBothLand(t *testing.T) {
	f := newFixture(t)
	c := f.create()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, actor := range []int{f.client.ID, f.doer.ID} {
		wg.Add(1)
		go func(i, actor int) {
			defer wg.Done()
			_, errs[i] = models.AcceptContract(f.ctx, c.ID, actor)
		}(i, actor)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
	}

	got := f.contract(c.ID)
	if got.Status != models.ContractStatusAccepted || !got.TermsAcceptedByClient || !got.TermsAcceptedByDoer {
		t.Fatalf("expected accepted with both flags, got %s client=%v doer=%v",
			got.Status, got.TermsAcceptedByClient, got.TermsAcceptedByDoer)
	}
	if got.Version != 3 {
		t.Fatalf("expected two saved updates (version 3), got %d", got.Version)
	}
}

func TestPairing_StartsWork(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()

	_, _, err := models.GeneratePairingCode(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrPairingNotAvailable)

	f.setNow(c.StartDate.Add(-23 * time.Hour))
	_, code, err := models.GeneratePairingCode(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("GeneratePairingCode: %v", err)
	}
	if len(code) != 10 {
		t.Fatalf("expected a 10 character code, got %q", code)
	}
	_, again, err := models.GeneratePairingCode(f.ctx, c.ID, f.doer.ID)
	if err != nil || again != code {
		t.Fatalf("expected the live code to be returned, got %q err=%v", again, err)
	}

	_, err = models.ConfirmPairing(f.ctx, c.ID, f.doer.ID, "WRONGCODE0")
	wantErr(t, err, models.ErrInvalidPairingCode)

	c, err = models.ConfirmPairing(f.ctx, c.ID, f.doer.ID, code)
	if err != nil {
		t.Fatalf("doer confirm: %v", err)
	}
	if c.Status != models.ContractStatusAccepted {
		t.Fatalf("one confirmation must not start work, got %s", c.Status)
	}
	_, err = models.ConfirmPairing(f.ctx, c.ID, f.doer.ID, code)
	wantErr(t, err, models.ErrAlreadyConfirmedPairing)

	c, err = models.ConfirmPairing(f.ctx, c.ID, f.client.ID, code)
	if err != nil {
		t.Fatalf("client confirm: %v", err)
	}
	if c.Status != models.ContractStatusInProgress || !c.ClientConfirmedPairing || !c.DoerConfirmedPairing {
		t.Fatalf("expected in_progress with both pairing flags, got %s", c.Status)
	}
	if c.ActualStartDate == nil {
		t.Fatalf("expected actual start date to be set")
	}
	if f.jobRow().Status != models.JobStatusInProgress {
		t.Fatalf("expected job in progress")
	}
}

func TestPairing_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()

	f.setNow(c.StartDate.Add(-20 * time.Hour))
	_, code, err := models.GeneratePairingCode(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("GeneratePairingCode: %v", err)
	}

	f.setNow(f.now.Add(72*time.Hour + time.Minute))
	_, err = models.ConfirmPairing(f.ctx, c.ID, f.doer.ID, code)
	wantErr(t, err, models.ErrPairingExpired)

	c, fresh, err := models.GeneratePairingCode(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if fresh == "" {
		t.Fatalf("expected a fresh code")
	}
	if c.PairingExpiry == nil || !c.PairingExpiry.Equal(f.now.Add(72*time.Hour)) {
		t.Fatalf("expected a fresh 72h window, got %v", c.PairingExpiry)
	}
	if _, err := models.ConfirmPairing(f.ctx, c.ID, f.doer.ID, fresh); err != nil {
		t.Fatalf("confirm with fresh code: %v", err)
	}
}

func TestConfirmCompletion_ReleasesEscrow(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()
	p := f.fund(c)
	wantAmount(t, "escrow amount", p.Amount, dec(11000))
	wantAmount(t, "client balance after funding", f.user(f.client.ID).Balance, dec(89000))
	c = f.started(c)

	c, err := models.ConfirmCompletion(f.ctx, c.ID, f.doer.ID)
	if err != nil {
		t.Fatalf("doer completion: %v", err)
	}
	if c.Status != models.ContractStatusAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", c.Status)
	}
	_, err = models.ConfirmCompletion(f.ctx, c.ID, f.doer.ID)
	wantErr(t, err, models.ErrAlreadyConfirmed)

	c, err = models.ConfirmCompletion(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("client completion: %v", err)
	}
	if c.Status != models.ContractStatusCompleted || !c.ClientConfirmed || !c.DoerConfirmed {
		t.Fatalf("expected completed with both flags, got %s", c.Status)
	}
	if c.PaymentStatus != models.ContractPaymentReleased {
		t.Fatalf("expected released, got %s", c.PaymentStatus)
	}

	doer := f.user(f.doer.ID)
	wantAmount(t, "doer balance", doer.Balance, dec(10000))
	if doer.CompletedJobs != 1 {
		t.Fatalf("expected one completed job, got %d", doer.CompletedJobs)
	}
	paid, err := models.GetPayment(f.ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if paid.Status != models.PaymentStatusCompleted || paid.EscrowReleasedAt == nil {
		t.Fatalf("expected released payment, got %s", paid.Status)
	}
	if f.jobRow().Status != models.JobStatusCompleted {
		t.Fatalf("expected job completed")
	}
}

func TestCancelContract_RefundsBalanceEscrow(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()
	f.fund(c)

	c, err := models.CancelContract(f.ctx, c.ID, f.doer.ID, "schedule clash")
	if err != nil {
		t.Fatalf("CancelContract: %v", err)
	}
	if c.Status != models.ContractStatusCancelled || c.PaymentStatus != models.ContractPaymentRefunded {
		t.Fatalf("expected cancelled/refunded, got %s/%s", c.Status, c.PaymentStatus)
	}
	if c.CancelledBy == nil || *c.CancelledBy != f.doer.ID {
		t.Fatalf("expected cancelled_by doer")
	}
	wantAmount(t, "client balance", f.user(f.client.ID).Balance, dec(100000))
	if f.jobRow().Status != models.JobStatusCancelled {
		t.Fatalf("expected job cancelled")
	}

	_, err = models.CancelContract(f.ctx, c.ID, f.client.ID, "again")
	wantErr(t, err, models.ErrInvalidTransition)
}

func TestCancelContract_NoticeWindow(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()
	f.setNow(c.StartDate.Add(-47 * time.Hour))
	_, err := models.CancelContract(f.ctx, c.ID, f.client.ID, "late")
	wantErr(t, err, models.ErrCancellationWindowClosed)
}

func TestCancelContract_GatewayPaymentQueuesRefund(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()
	p, err := models.StartEscrowCheckout(f.ctx, c.ID, f.client.ID, models.PaymentProviderMercadoPago)
	if err != nil {
		t.Fatalf("StartEscrowCheckout: %v", err)
	}
	config.GetDB().Model(&models.Payment{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{"status": models.PaymentStatusHeldEscrow, "provider_capture_id": "cap-1"})

	if _, err := models.CancelContract(f.ctx, c.ID, f.client.ID, "changed plans"); err != nil {
		t.Fatalf("CancelContract: %v", err)
	}
	var refunds []models.OutboxMessage
	config.GetDB().Where("topic = ? AND contract_id = ?", models.OutboxTopicGatewayRefund, c.ID).Find(&refunds)
	if len(refunds) != 1 {
		t.Fatalf("expected one refund command, got %d", len(refunds))
	}
	// The gateway refund does not touch the client's platform balance.
	wantAmount(t, "client balance", f.user(f.client.ID).Balance, dec(100000))
}

func TestReleaseEscrow_Twice(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()
	p := f.fund(c)

	_, err := models.ReleaseEscrow(f.ctx, p.ID, f.doer.ID)
	wantErr(t, err, models.ErrNotPayer)

	if _, err := models.ReleaseEscrow(f.ctx, p.ID, f.client.ID); err != nil {
		t.Fatalf("first release: %v", err)
	}
	_, err = models.ReleaseEscrow(f.ctx, p.ID, f.client.ID)
	wantErr(t, err, models.ErrEscrowNotHeld)
	ce, _ := models.AsContractError(err)
	if ce.Kind != models.KindInvalidState {
		t.Fatalf("expected invalid_state, got %s", ce.Kind)
	}

	wantAmount(t, "doer balance", f.user(f.doer.ID).Balance, dec(10000))
	var credits int64
	config.GetDB().Model(&models.BalanceTransaction{}).
		Where("user_id = ? AND type = ?", f.doer.ID, models.BalanceCredit).Count(&credits)
	if credits != 1 {
		t.Fatalf("expected one payout, got %d", credits)
	}
}

func TestFundEscrow_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	config.GetDB().Model(&models.User{}).Where("id = ?", f.client.ID).Update("balance", 500)
	c := f.create()

	_, err := models.FundEscrowFromBalance(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrInsufficientBalance)
	ce, _ := models.AsContractError(err)
	if ce.StatusCode() != 402 {
		t.Fatalf("expected 402, got %d", ce.StatusCode())
	}
	var payments int64
	config.GetDB().Model(&models.Payment{}).Where("contract_id = ?", c.ID).Count(&payments)
	if payments != 0 {
		t.Fatalf("failed funding left %d payments behind", payments)
	}
}

func TestLifecycleInvariants(t *testing.T) {
	f := newFixture(t)
	cancelled := f.accepted()
	if _, err := models.CancelContract(f.ctx, cancelled.ID, f.client.ID, "changed plans"); err != nil {
		t.Fatalf("CancelContract: %v", err)
	}
	config.GetDB().Model(&models.Job{}).Where("id = ?", f.job.ID).Updates(map[string]interface{}{"status": models.JobStatusOpen, "doer_id": nil})

	c := f.accepted()
	f.fund(c)
	c = f.started(c)
	if _, err := models.ConfirmCompletion(f.ctx, c.ID, f.client.ID); err != nil {
		t.Fatalf("client completion: %v", err)
	}
	if _, err := models.ConfirmCompletion(f.ctx, c.ID, f.doer.ID); err != nil {
		t.Fatalf("doer completion: %v", err)
	}

	var all []models.Contract
	config.GetDB().Find(&all)
	for _, c := range all {
		switch c.Status {
		case models.ContractStatusAccepted:
			if !c.TermsAcceptedByClient || !c.TermsAcceptedByDoer {
				t.Fatalf("contract %d accepted without both acceptances", c.ID)
			}
		case models.ContractStatusInProgress:
			if !c.ClientConfirmedPairing || !c.DoerConfirmedPairing {
				t.Fatalf("contract %d in progress without both pairings", c.ID)
			}
		case models.ContractStatusCompleted:
			if !c.ClientConfirmed || !c.DoerConfirmed || c.PaymentStatus != models.ContractPaymentReleased {
				t.Fatalf("contract %d completed without both confirmations and release", c.ID)
			}
		}
		if c.Status.IsTerminal() && (c.PaymentStatus == models.ContractPaymentHeld || c.PendingModification != nil) {
			t.Fatalf("contract %d is %s with payment status %s", c.ID, c.Status, c.PaymentStatus)
		}
	}
}

func TestListContractsForUser_Pages(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		j := f.seedJob(models.Job{
			ClientID:   f.client.ID,
			Title:      "Job",
			Price:      dec(10000),
			StartDate:  f.job.StartDate,
			EndDate:    f.job.EndDate,
			Status:     models.JobStatusOpen,
			MaxWorkers: 1,
		})
		if _, err := models.CreateContract(f.ctx, f.client.ID, models.NewContract{JobID: j.ID, DoerID: f.doer.ID}); err != nil {
			t.Fatalf("CreateContract: %v", err)
		}
	}

	page, err := models.ListContractsForUser(f.ctx, f.doer.ID, models.ContractFilter{Role: "doer", Limit: 2})
	if err != nil {
		t.Fatalf("ListContractsForUser: %v", err)
	}
	if len(page.Contracts) != 2 || !*page.PageInfo.HasNextPage {
		t.Fatalf("expected 2 contracts and a next page, got %d", len(page.Contracts))
	}
	if page.Contracts[0].ID < page.Contracts[1].ID {
		t.Fatalf("expected newest first")
	}
	rest, err := models.ListContractsForUser(f.ctx, f.doer.ID, models.ContractFilter{Role: "doer", Limit: 2, After: &page.PageInfo.EndCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest.Contracts) != 1 || *rest.PageInfo.HasNextPage {
		t.Fatalf("expected the last contract alone, got %d", len(rest.Contracts))
	}

	none, err := models.ListContractsForUser(f.ctx, f.client.ID, models.ContractFilter{Role: "doer"})
	if err != nil {
		t.Fatalf("ListContractsForUser: %v", err)
	}
	if len(none.Contracts) != 0 {
		t.Fatalf("client is never the doer here, got %d", len(none.Contracts))
	}
}

func TestFundEscrow_RefusedAfterRelease(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()
	p := f.fund(c)
	if _, err := models.ReleaseEscrow(f.ctx, p.ID, f.client.ID); err != nil {
		t.Fatalf("ReleaseEscrow: %v", err)
	}

	_, err := models.FundEscrowFromBalance(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrEscrowReleased)
	_, err = models.StartEscrowCheckout(f.ctx, c.ID, f.client.ID, models.PaymentProviderPaypal)
	wantErr(t, err, models.ErrEscrowReleased)

	// The completed payment alone is enough to refuse a second escrow.
	config.GetDB().Model(&models.Contract{}).Where("id = ?", c.ID).Update("payment_status", models.ContractPaymentHeld)
	_, err = models.FundEscrowFromBalance(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrEscrowReleased)

	c = f.started(c)
	if _, err := models.ConfirmCompletion(f.ctx, c.ID, f.doer.ID); err != nil {
		t.Fatalf("doer completion: %v", err)
	}
	if _, err := models.ConfirmCompletion(f.ctx, c.ID, f.client.ID); err != nil {
		t.Fatalf("client completion: %v", err)
	}
	wantAmount(t, "doer balance", f.user(f.doer.ID).Balance, dec(10000))
	wantAmount(t, "client balance", f.user(f.client.ID).Balance, dec(89000))
}

func TestCancelContract_UnfundedHoldIsReleased(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()

	c, err := models.CancelContract(f.ctx, c.ID, f.client.ID, "changed plans")
	if err != nil {
		t.Fatalf("CancelContract: %v", err)
	}
	if c.Status != models.ContractStatusCancelled || c.PaymentStatus != models.ContractPaymentRefunded {
		t.Fatalf("expected cancelled/refunded, got %s/%s", c.Status, c.PaymentStatus)
	}
	wantAmount(t, "client balance", f.user(f.client.ID).Balance, dec(100000))
	var moves int64
	config.GetDB().Model(&models.BalanceTransaction{}).Where("contract_id = ?", c.ID).Count(&moves)
	if moves != 0 {
		t.Fatalf("expected no balance movement, got %d", moves)
	}
}

func TestCancelContract_DropsOpenRequests(t *testing.T) {
	f := newFixture(t)
	c := f.accepted()
	newPrice := dec(12000)
	if _, err := models.RequestPriceChange(f.ctx, c.ID, f.client.ID, models.PriceChangeRequest{Price: &newPrice, Notes: "add the gate as well"}); err != nil {
		t.Fatalf("RequestPriceChange: %v", err)
	}
	if _, err := models.RequestExtension(f.ctx, c.ID, f.client.ID, models.ExtensionRequest{Days: 2}); err != nil {
		t.Fatalf("RequestExtension: %v", err)
	}

	c, err := models.CancelContract(f.ctx, c.ID, f.client.ID, "changed plans")
	if err != nil {
		t.Fatalf("CancelContract: %v", err)
	}
	if c.PendingModification != nil || c.ExtensionRequestedBy != nil {
		t.Fatalf("expected open requests to be dropped on cancel")
	}

	_, err = models.RejectPriceChange(f.ctx, c.ID, f.doer.ID, "too late")
	wantErr(t, err, models.ErrInvalidTransition)
	_, err = models.RejectExtension(f.ctx, c.ID, f.doer.ID, "too late")
	wantErr(t, err, models.ErrInvalidTransition)
	if got := f.contract(c.ID); got.Version != c.Version || got.Status != models.ContractStatusCancelled {
		t.Fatalf("cancelled contract was written: version %d -> %d", c.Version, got.Version)
	}
}

func TestConfirmCompletion_DropsPendingModification(t *testing.T) {
	f := newFixture(t)
	c := f.started(f.accepted())
	newPrice := dec(12000)
	if _, err := models.RequestPriceChange(f.ctx, c.ID, f.client.ID, models.PriceChangeRequest{Price: &newPrice, Notes: "add the gate as well"}); err != nil {
		t.Fatalf("RequestPriceChange: %v", err)
	}
	if _, err := models.ConfirmCompletion(f.ctx, c.ID, f.doer.ID); err != nil {
		t.Fatalf("doer completion: %v", err)
	}
	c, err := models.ConfirmCompletion(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("client completion: %v", err)
	}
	if c.Status != models.ContractStatusCompleted || c.PendingModification != nil {
		t.Fatalf("expected completed with no pending change, got %s", c.Status)
	}
	wantAmount(t, "price", c.Price, dec(10000))

	_, err = models.ApprovePriceChange(f.ctx, c.ID, f.doer.ID)
	wantErr(t, err, models.ErrInvalidTransition)
	_, err = models.RejectPriceChange(f.ctx, c.ID, f.doer.ID, "done")
	wantErr(t, err, models.ErrInvalidTransition)
}

func TestAcceptContract_StaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	c := f.create()

	// A second writer commits between this operation's read and its save.
	interfered := false
	err := config.GetDB().Callback().Update().Before("gorm:update").Register("test:interleaved_writer", func(tx *gorm.DB) {
		row, ok := tx.Statement.Model.(*models.Contract)
		if !ok || interfered {
			return
		}
		interfered = true
		tx.Session(&gorm.Session{NewDB: true}).Exec("UPDATE contracts SET version = version + 1 WHERE id = ?", row.ID)
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}
	var eventsBefore int64
	config.GetDB().Model(&models.OutboxMessage{}).Where("contract_id = ?", c.ID).Count(&eventsBefore)

	_, err = models.AcceptContract(f.ctx, c.ID, f.client.ID)
	wantErr(t, err, models.ErrVersionConflict)
	if ce, _ := models.AsContractError(err); ce.Kind != models.KindConflict {
		t.Fatalf("expected conflict, got %s", ce.Kind)
	}
	got := f.contract(c.ID)
	if got.Version != 1 || got.Status != models.ContractStatusPending || got.TermsAcceptedByClient {
		t.Fatalf("conflicting write changed the contract: version=%d status=%s", got.Version, got.Status)
	}
	var eventsAfter int64
	config.GetDB().Model(&models.OutboxMessage{}).Where("contract_id = ?", c.ID).Count(&eventsAfter)
	if eventsAfter != eventsBefore {
		t.Fatalf("expected no events from the rolled back write, got %d new", eventsAfter-eventsBefore)
	}

	got2, err := models.AcceptContract(f.ctx, c.ID, f.client.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got2.Status != models.ContractStatusReady || got2.Version != 2 {
		t.Fatalf("expected ready at version 2, got %s at %d", got2.Status, got2.Version)
	}
}
