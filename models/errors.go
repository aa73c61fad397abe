package models

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type ErrorKind string

const (
	KindNotFound            ErrorKind = "not_found"
	KindForbidden           ErrorKind = "forbidden"
	KindInvalidState        ErrorKind = "invalid_state"
	KindBelowMinimum        ErrorKind = "below_minimum"
	KindInsufficientBalance ErrorKind = "insufficient_balance"
	KindConflict            ErrorKind = "conflict"
	KindValidation          ErrorKind = "validation"
)

// ContractError is the only error type the state machine returns for
// rejected operations. Two errors match under errors.Is when their codes match.
type ContractError struct {
	Kind    ErrorKind `json:"-"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ContractError) Is(target error) bool {
	t, ok := target.(*ContractError)
	return ok && t.Code == e.Code
}

func (e *ContractError) StatusCode() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindInsufficientBalance:
		return http.StatusPaymentRequired
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// WithMessage returns a copy carrying a more specific message.
func (e *ContractError) WithMessage(format string, args ...any) *ContractError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

func newErr(kind ErrorKind, code, message string) *ContractError {
	return &ContractError{Kind: kind, Code: code, Message: message}
}

var (
	ErrContractNotFound = newErr(KindNotFound, "contract.not_found", "contract not found")
	ErrJobNotFound      = newErr(KindNotFound, "job.not_found", "job not found")
	ErrUserNotFound     = newErr(KindNotFound, "user.not_found", "user not found")
	ErrPaymentNotFound  = newErr(KindNotFound, "payment.not_found", "payment not found")

	ErrNotParticipant = newErr(KindForbidden, "contract.not_participant", "you are not a party to this contract")
	ErrWrongRole      = newErr(KindForbidden, "contract.wrong_role", "your role cannot perform this action")
	ErrSelfApproval   = newErr(KindForbidden, "contract.self_approval", "the requester cannot approve their own request")
	ErrNotJobOwner    = newErr(KindForbidden, "job.not_owner", "only the job owner can create contracts for it")
	ErrNotPayer       = newErr(KindForbidden, "payment.not_payer", "only the payer can release this payment")

	ErrInvalidTransition        = newErr(KindInvalidState, "contract.invalid_transition", "the contract cannot make this transition from its current status")
	ErrAlreadyAccepted          = newErr(KindInvalidState, "contract.already_accepted", "you have already accepted this contract")
	ErrPairingNotAvailable      = newErr(KindInvalidState, "contract.pairing_not_available", "pairing code is not available yet")
	ErrPairingCodeMissing       = newErr(KindInvalidState, "contract.pairing_code_missing", "no pairing code has been generated")
	ErrAlreadyConfirmedPairing  = newErr(KindInvalidState, "contract.already_confirmed_pairing", "you have already confirmed the pairing code")
	ErrInvalidPairingCode       = newErr(KindInvalidState, "contract.invalid_pairing_code", "the pairing code is not valid")
	ErrPairingExpired           = newErr(KindInvalidState, "contract.pairing_expired", "the pairing code has expired, generate a new one")
	ErrAlreadyConfirmed         = newErr(KindInvalidState, "contract.already_confirmed", "you have already confirmed completion")
	ErrAlreadyApproved          = newErr(KindInvalidState, "contract.already_approved", "you have already approved this modification")
	ErrCancellationWindowClosed = newErr(KindInvalidState, "contract.cancellation_window_closed", "contracts can only be cancelled more than 2 days before the start date")
	ErrJobNotOpen               = newErr(KindInvalidState, "job.not_open", "the job is not open for new contracts")
	ErrJobFull                  = newErr(KindInvalidState, "job.full", "the job already has all its workers")
	ErrSameParty                = newErr(KindInvalidState, "contract.same_party", "client and doer must be different users")
	ErrExtensionUsed            = newErr(KindInvalidState, "extension.already_used", "this contract has already been extended")
	ErrExtensionPending         = newErr(KindInvalidState, "extension.pending", "an extension request is already pending")
	ErrExtensionWindowClosed    = newErr(KindInvalidState, "extension.window_closed", "extensions must be requested more than 24 hours before the job starts")
	ErrNoExtensionRequest       = newErr(KindInvalidState, "extension.not_requested", "there is no pending extension request")
	ErrProposalsExist           = newErr(KindInvalidState, "price.proposals_exist", "the price cannot change once proposals exist for the job")
	ErrPriceUnchanged           = newErr(KindInvalidState, "price.unchanged", "the new price equals the current price")
	ErrModificationPending      = newErr(KindInvalidState, "modification.pending", "a modification is already pending")
	ErrNoPendingModification    = newErr(KindInvalidState, "modification.not_pending", "there is no pending modification")
	ErrTaskClaimPending         = newErr(KindInvalidState, "task_claim.pending", "a task claim is already pending")
	ErrNoTaskClaim              = newErr(KindInvalidState, "task_claim.not_pending", "there is no pending task claim")
	ErrTaskClaimExpired         = newErr(KindInvalidState, "task_claim.expired", "the task claim has expired")
	ErrClientAlreadyConfirmed   = newErr(KindInvalidState, "task_claim.client_confirmed", "completion was already confirmed by the client")
	ErrDisputeExists            = newErr(KindInvalidState, "dispute.exists", "a dispute already exists for this contract")
	ErrActivePaymentExists      = newErr(KindInvalidState, "payment.active_exists", "the contract already has an active payment")
	ErrEscrowNotHeld            = newErr(KindInvalidState, "payment.escrow_not_held", "the payment is not held in escrow")
	ErrPaymentNotPending        = newErr(KindInvalidState, "payment.not_pending", "the payment is not awaiting checkout")
	ErrEscrowReleased           = newErr(KindInvalidState, "payment.escrow_released", "the escrow for this contract has already been released")

	ErrBelowMinimum = newErr(KindBelowMinimum, "commission.below_minimum", "the amount is below the minimum contract amount")

	ErrVersionConflict = newErr(KindConflict, "contract.version_conflict", "the contract was modified concurrently, retry the request")
	ErrJobConflict     = newErr(KindConflict, "job.doer_conflict", "the job is already assigned to another doer")
	ErrGrantConflict   = newErr(KindConflict, "user.free_contract_conflict", "free contract grant was consumed concurrently")

	ErrValidation = newErr(KindValidation, "validation_failed", "validation failed")
)

// InsufficientBalanceError carries the shortfall so the caller can ask for a top-up.
func InsufficientBalanceError(required, available decimal.Decimal) *ContractError {
	shortfall := required.Sub(available)
	return &ContractError{
		Kind:    KindInsufficientBalance,
		Code:    "balance.insufficient",
		Message: fmt.Sprintf("insufficient balance, %s more required", shortfall.StringFixed(2)),
		Data: map[string]string{
			"required":  required.StringFixed(2),
			"available": available.StringFixed(2),
			"shortfall": shortfall.StringFixed(2),
		},
	}
}

// ErrInsufficientBalance matches any InsufficientBalanceError under errors.Is.
var ErrInsufficientBalance = newErr(KindInsufficientBalance, "balance.insufficient", "insufficient balance")

func validationError(format string, args ...any) *ContractError {
	return ErrValidation.WithMessage(format, args...)
}

// notFoundAs converts gorm.ErrRecordNotFound into the given sentinel.
func notFoundAs(err error, sentinel *ContractError) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// AsContractError unwraps err into a *ContractError when possible.
func AsContractError(err error) (*ContractError, bool) {
	var ce *ContractError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
