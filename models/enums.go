package models

type ContractStatus string

const (
	ContractStatusPending              ContractStatus = "pending"
	ContractStatusReady                ContractStatus = "ready"
	ContractStatusAccepted             ContractStatus = "accepted"
	ContractStatusInProgress           ContractStatus = "in_progress"
	ContractStatusAwaitingConfirmation ContractStatus = "awaiting_confirmation"
	ContractStatusCompleted            ContractStatus = "completed"
	ContractStatusCancelled            ContractStatus = "cancelled"
)

func (s ContractStatus) IsTerminal() bool {
	return s == ContractStatusCompleted || s == ContractStatusCancelled
}

func (s ContractStatus) IsValid() bool {
	switch s {
	case ContractStatusPending, ContractStatusReady, ContractStatusAccepted, ContractStatusInProgress,
		ContractStatusAwaitingConfirmation, ContractStatusCompleted, ContractStatusCancelled:
		return true
	}
	return false
}

// ContractPaymentStatus is the contract-level view of its money.
// held: funds committed on acceptance; escrow: a captured escrow payment exists.
type ContractPaymentStatus string

const (
	ContractPaymentPending  ContractPaymentStatus = "pending"
	ContractPaymentHeld     ContractPaymentStatus = "held"
	ContractPaymentEscrow   ContractPaymentStatus = "escrow"
	ContractPaymentReleased ContractPaymentStatus = "released"
	ContractPaymentRefunded ContractPaymentStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending             PaymentStatus = "pending"
	PaymentStatusProcessing          PaymentStatus = "processing"
	PaymentStatusCompleted           PaymentStatus = "completed"
	PaymentStatusFailed              PaymentStatus = "failed"
	PaymentStatusRefunded            PaymentStatus = "refunded"
	PaymentStatusHeldEscrow          PaymentStatus = "held_escrow"
	PaymentStatusPendingVerification PaymentStatus = "pending_verification"
)

// IsActive reports whether the payment still occupies the contract's single active slot.
func (s PaymentStatus) IsActive() bool {
	return s == PaymentStatusPending || s == PaymentStatusProcessing || s == PaymentStatusHeldEscrow
}

var activePaymentStatuses = []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing, PaymentStatusHeldEscrow}

type PaymentType string

const (
	PaymentTypeContractEscrow PaymentType = "contract_escrow"
	PaymentTypePriceAdjust    PaymentType = "price_adjustment"
)

type PaymentProvider string

const (
	PaymentProviderBalance     PaymentProvider = "balance"
	PaymentProviderMercadoPago PaymentProvider = "mercadopago"
	PaymentProviderPaypal      PaymentProvider = "paypal"
)

func (p PaymentProvider) IsGateway() bool {
	return p == PaymentProviderMercadoPago || p == PaymentProviderPaypal
}

type JobStatus string

const (
	JobStatusOpen       JobStatus = "open"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

type MembershipTier string

const (
	MembershipNone     MembershipTier = ""
	MembershipPro      MembershipTier = "pro"
	MembershipSuperPro MembershipTier = "super_pro"
)

type FreeContractSource string

const (
	FreeContractNone       FreeContractSource = ""
	FreeContractSignup     FreeContractSource = "signup"
	FreeContractMonthly    FreeContractSource = "monthly"
	FreeContractFamilyPlan FreeContractSource = "family_plan"
)

type TaskClaimResponse string

const (
	TaskClaimNone     TaskClaimResponse = ""
	TaskClaimPending  TaskClaimResponse = "pending"
	TaskClaimAccepted TaskClaimResponse = "accepted"
	TaskClaimRejected TaskClaimResponse = "rejected"
	TaskClaimExpired  TaskClaimResponse = "expired"
)

type ReferralStatus string

const (
	ReferralStatusPending   ReferralStatus = "pending"
	ReferralStatusCompleted ReferralStatus = "completed"
	ReferralStatusCredited  ReferralStatus = "credited"
)

type BalanceTransactionType string

const (
	BalanceCredit BalanceTransactionType = "credit"
	BalanceDebit  BalanceTransactionType = "debit"
)

// NotificationAction tags every contract event sent to the notification dispatcher.
type NotificationAction string

const (
	ActionCreated              NotificationAction = "created"
	ActionPartialAcceptance    NotificationAction = "partial_acceptance"
	ActionAccepted             NotificationAction = "accepted"
	ActionPairingGenerated     NotificationAction = "pairing_code_generated"
	ActionPairingConfirmed     NotificationAction = "pairing_confirmed"
	ActionStarted              NotificationAction = "started"
	ActionPartialCompletion    NotificationAction = "partial_completion"
	ActionCompleted            NotificationAction = "completed"
	ActionCancelled            NotificationAction = "cancelled"
	ActionExtensionRequested   NotificationAction = "extension_requested"
	ActionExtensionApproved    NotificationAction = "extension_approved"
	ActionExtensionRejected    NotificationAction = "extension_rejected"
	ActionPriceModified        NotificationAction = "price_modified"
	ActionPriceChangeRequested NotificationAction = "price_change_requested"
	ActionPriceChangeApproved  NotificationAction = "price_change_approved"
	ActionPriceChangeRejected  NotificationAction = "price_change_rejected"
	ActionTaskClaimRaised      NotificationAction = "task_claim_raised"
	ActionTaskClaimAccepted    NotificationAction = "task_claim_accepted"
	ActionTaskClaimRejected    NotificationAction = "task_claim_rejected"
	ActionDisputeOpened        NotificationAction = "dispute_opened"
	ActionEscrowFunded         NotificationAction = "escrow_funded"
	ActionEscrowReleased       NotificationAction = "escrow_released"
	ActionEscrowRefunded       NotificationAction = "escrow_refunded"
	ActionPaymentFailed        NotificationAction = "payment_failed"
	ActionReferralCredited     NotificationAction = "referral_credited"
)
