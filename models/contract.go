package models

import (
	"context"
	"strconv"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Contract is the aggregate root of the state machine. It is only mutated
// through the operations in this package, each of which runs under withContractLock.
type Contract struct {
	ID       int `gorm:"primary_key" json:"id"`
	JobID    int `gorm:"index;not null" json:"job_id"`
	ClientID int `gorm:"index;not null" json:"client_id"`
	DoerID   int `gorm:"index;not null" json:"doer_id"`

	Price                    decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"price"`
	CommissionPercentage     decimal.Decimal     `gorm:"type:decimal(20,4);not null;default:0" json:"commission_percentage"`
	Commission               decimal.Decimal     `gorm:"type:decimal(20,4);not null;default:0" json:"commission"`
	TotalPrice               decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"total_price"`
	OriginalPrice            decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"original_price"`
	PriceModificationHistory []PriceModification `gorm:"serializer:json;type:text" json:"price_modification_history"`
	IsFreeContract           bool                `gorm:"not null;default:false" json:"is_free_contract"`
	FreeContractSource       FreeContractSource  `gorm:"size:20" json:"free_contract_source"`

	StartDate       time.Time  `gorm:"not null" json:"start_date"`
	EndDate         time.Time  `gorm:"not null" json:"end_date"`
	OriginalEndDate *time.Time `json:"original_end_date"`
	ActualStartDate *time.Time `json:"actual_start_date"`
	ActualEndDate   *time.Time `json:"actual_end_date"`

	Status        ContractStatus        `gorm:"size:30;not null;default:'pending';index" json:"status"`
	PaymentStatus ContractPaymentStatus `gorm:"size:20;not null;default:'pending'" json:"payment_status"`

	TermsAcceptedByClient   bool       `gorm:"not null;default:false" json:"terms_accepted_by_client"`
	TermsAcceptedByDoer     bool       `gorm:"not null;default:false" json:"terms_accepted_by_doer"`
	TermsAcceptedByClientAt *time.Time `json:"terms_accepted_by_client_at"`
	TermsAcceptedByDoerAt   *time.Time `json:"terms_accepted_by_doer_at"`

	PairingCode              *string    `gorm:"size:10" json:"-"`
	PairingExpiry            *time.Time `json:"pairing_expiry"`
	PairingGeneratedAt       *time.Time `json:"pairing_generated_at"`
	ClientConfirmedPairing   bool       `gorm:"not null;default:false" json:"client_confirmed_pairing"`
	DoerConfirmedPairing     bool       `gorm:"not null;default:false" json:"doer_confirmed_pairing"`
	ClientConfirmedPairingAt *time.Time `json:"client_confirmed_pairing_at"`
	DoerConfirmedPairingAt   *time.Time `json:"doer_confirmed_pairing_at"`

	ClientConfirmed   bool       `gorm:"not null;default:false" json:"client_confirmed"`
	DoerConfirmed     bool       `gorm:"not null;default:false" json:"doer_confirmed"`
	ClientConfirmedAt *time.Time `json:"client_confirmed_at"`
	DoerConfirmedAt   *time.Time `json:"doer_confirmed_at"`

	HasBeenExtended         bool              `gorm:"not null;default:false" json:"has_been_extended"`
	ExtensionCount          int               `gorm:"not null;default:0" json:"extension_count"`
	ExtensionRequestedBy    *int              `json:"extension_requested_by"`
	ExtensionRequestedAt    *time.Time        `json:"extension_requested_at"`
	ExtensionApprovedBy     *int              `json:"extension_approved_by"`
	ExtensionApprovedAt     *time.Time        `json:"extension_approved_at"`
	ExtensionDays           int               `gorm:"not null;default:0" json:"extension_days"`
	ExtensionAmount         decimal.Decimal   `gorm:"type:decimal(20,4);not null;default:0" json:"extension_amount"`
	ExtensionNotes          string            `gorm:"type:text" json:"extension_notes"`
	ExtensionRejectedReason string            `gorm:"type:text" json:"extension_rejected_reason"`
	ExtensionHistory        []ExtensionRecord `gorm:"serializer:json;type:text" json:"extension_history"`

	PendingModification *PendingModification `gorm:"serializer:json;type:text" json:"pending_modification"`

	HasPendingTaskClaim      bool              `gorm:"not null;default:false" json:"has_pending_task_claim"`
	ClaimedTaskIDs           []string          `gorm:"serializer:json;type:text" json:"claimed_task_ids"`
	TaskClaimResponse        TaskClaimResponse `gorm:"size:20" json:"task_claim_response"`
	TaskClaimReason          string            `gorm:"type:text" json:"task_claim_reason"`
	TaskClaimProposedEndDate *time.Time        `json:"task_claim_proposed_end_date"`
	TaskClaimRequestedAt     *time.Time        `json:"task_claim_requested_at"`
	TaskClaimExpiresAt       *time.Time        `json:"task_claim_expires_at"`
	TaskClaimRejectionReason string            `gorm:"type:text" json:"task_claim_rejection_reason"`
	TaskClaimHistory         []TaskClaimRecord `gorm:"serializer:json;type:text" json:"task_claim_history"`

	AllocatedAmount    decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"allocated_amount"`
	PercentageOfBudget decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"percentage_of_budget"`

	DisputeID *int `gorm:"index" json:"dispute_id"`

	CancelledBy        *int       `json:"cancelled_by"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason string     `gorm:"type:text" json:"cancellation_reason"`

	Version   int       `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type PriceModification struct {
	PreviousPrice      decimal.Decimal `json:"previous_price"`
	NewPrice           decimal.Decimal `json:"new_price"`
	PreviousTotalPrice decimal.Decimal `json:"previous_total_price"`
	NewTotalPrice      decimal.Decimal `json:"new_total_price"`
	CommissionDelta    decimal.Decimal `json:"commission_delta"`
	PaymentDifference  decimal.Decimal `json:"payment_difference"`
	PreviousStartDate  *time.Time      `json:"previous_start_date,omitempty"`
	NewStartDate       *time.Time      `json:"new_start_date,omitempty"`
	PreviousEndDate    *time.Time      `json:"previous_end_date,omitempty"`
	NewEndDate         *time.Time      `json:"new_end_date,omitempty"`
	ModifiedBy         int             `json:"modified_by"`
	ApprovedBy         *int            `json:"approved_by,omitempty"`
	Reason             string          `json:"reason"`
	ModifiedAt         time.Time       `json:"modified_at"`
}

type ExtensionRecord struct {
	RequestedBy        int             `json:"requested_by"`
	RequestedAt        time.Time       `json:"requested_at"`
	ApprovedBy         int             `json:"approved_by"`
	ApprovedAt         time.Time       `json:"approved_at"`
	Days               int             `json:"days"`
	Amount             decimal.Decimal `json:"amount"`
	Notes              string          `json:"notes,omitempty"`
	PreviousEndDate    time.Time       `json:"previous_end_date"`
	NewEndDate         time.Time       `json:"new_end_date"`
	PreviousPrice      decimal.Decimal `json:"previous_price"`
	NewPrice           decimal.Decimal `json:"new_price"`
	PreviousTotalPrice decimal.Decimal `json:"previous_total_price"`
	NewTotalPrice      decimal.Decimal `json:"new_total_price"`
	CommissionDelta    decimal.Decimal `json:"commission_delta"`
}

// PendingModification is the single in-flight price/schedule change on a live contract.
type PendingModification struct {
	Price            decimal.NullDecimal `json:"price"`
	StartDate        *time.Time          `json:"start_date,omitempty"`
	EndDate          *time.Time          `json:"end_date,omitempty"`
	Notes            string              `json:"notes"`
	RequestedBy      int                 `json:"requested_by"`
	RequestedAt      time.Time           `json:"requested_at"`
	ClientApproved   bool                `json:"client_approved"`
	DoerApproved     bool                `json:"doer_approved"`
	ClientApprovedAt *time.Time          `json:"client_approved_at,omitempty"`
	DoerApprovedAt   *time.Time          `json:"doer_approved_at,omitempty"`
}

type TaskClaimRecord struct {
	TaskIDs         []string          `json:"task_ids"`
	Reason          string            `json:"reason"`
	ProposedEndDate time.Time         `json:"proposed_end_date"`
	RequestedBy     int               `json:"requested_by"`
	RequestedAt     time.Time         `json:"requested_at"`
	Response        TaskClaimResponse `json:"response"`
	RespondedBy     *int              `json:"responded_by,omitempty"`
	RespondedAt     time.Time         `json:"responded_at"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	PreviousEndDate time.Time         `json:"previous_end_date"`
	DisputeID       *int              `json:"dispute_id,omitempty"`
}

func (c *Contract) IsParticipant(userID int) bool {
	return userID == c.ClientID || userID == c.DoerID
}

func (c *Contract) Counterparty(userID int) int {
	if userID == c.ClientID {
		return c.DoerID
	}
	return c.ClientID
}

func (c *Contract) statusIn(statuses ...ContractStatus) bool {
	for _, s := range statuses {
		if c.Status == s {
			return true
		}
	}
	return false
}

func (c *Contract) requireStatus(statuses ...ContractStatus) error {
	if c.statusIn(statuses...) {
		return nil
	}
	return ErrInvalidTransition.WithMessage("contract is %s, expected one of %v", c.Status, statuses)
}

// GetContract returns the contract when userID is one of its parties.
func GetContract(ctx context.Context, id int, userID int) (*Contract, error) {
	var c Contract
	if err := config.GetDB().WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, notFoundAs(err, ErrContractNotFound)
	}
	if !c.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return &c, nil
}

func lockContract(tx *gorm.DB, id int) (*Contract, error) {
	var c Contract
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error; err != nil {
		return nil, notFoundAs(err, ErrContractNotFound)
	}
	return &c, nil
}

// saveContract writes every column guarded by the version read under lock.
func saveContract(tx *gorm.DB, c *Contract) error {
	prev := c.Version
	c.Version = prev + 1
	res := tx.Model(c).Select("*").Omit("id", "created_at").Where("version = ?", prev).Updates(c)
	if res.Error != nil {
		c.Version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		c.Version = prev
		return ErrVersionConflict
	}
	return nil
}

type ContractFilter struct {
	Status *ContractStatus
	Role   string // "client", "doer" or empty for both
	After  *string
	Limit  int
}

type ContractPage struct {
	Contracts []Contract `json:"contracts"`
	PageInfo  PageInfo   `json:"page_info"`
}

// ListContractsForUser pages a user's contracts newest first.
func ListContractsForUser(ctx context.Context, userID int, f ContractFilter) (*ContractPage, error) {
	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	db := config.GetDB().WithContext(ctx)
	switch f.Role {
	case "client":
		db = db.Where("client_id = ?", userID)
	case "doer":
		db = db.Where("doer_id = ?", userID)
	default:
		db = db.Where("(client_id = ? OR doer_id = ?)", userID, userID)
	}
	if f.Status != nil {
		if !f.Status.IsValid() {
			return nil, validationError("unknown status %q", *f.Status)
		}
		db = db.Where("status = ?", *f.Status)
	}
	decoded, err := DecodeCursor(f.After)
	if err != nil {
		return nil, validationError("invalid cursor")
	}
	if decoded != "" {
		afterID, err := strconv.Atoi(decoded)
		if err != nil {
			return nil, validationError("invalid cursor")
		}
		db = db.Where("id < ?", afterID)
	}

	var contracts []Contract
	if err := db.Order("id DESC").Limit(limit + 1).Find(&contracts).Error; err != nil {
		return nil, err
	}
	hasNext := len(contracts) > limit
	if hasNext {
		contracts = contracts[:limit]
	}
	page := &ContractPage{Contracts: contracts, PageInfo: PageInfo{HasNextPage: &hasNext}}
	if len(contracts) > 0 {
		page.PageInfo.StartCursor = EncodeCursor(strconv.Itoa(contracts[0].ID))
		page.PageInfo.EndCursor = EncodeCursor(strconv.Itoa(contracts[len(contracts)-1].ID))
	}
	return page, nil
}
