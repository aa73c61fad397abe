package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// User mirrors the membership service's view of a platform user.
type User struct {
	ID                            int                 `gorm:"primary_key" json:"id"`
	Name                          string              `gorm:"size:100;not null" json:"name"`
	Email                         string              `gorm:"size:100;index" json:"email"`
	Balance                       decimal.Decimal     `gorm:"type:decimal(20,4);not null;default:0" json:"balance"`
	MembershipTier                MembershipTier      `gorm:"size:20" json:"membership_tier"`
	FamilyPlan                    bool                `gorm:"not null;default:false" json:"family_plan"`
	CurrentCommissionRate         decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"current_commission_rate"`
	FreeContractsRemaining        int                 `gorm:"not null;default:0" json:"free_contracts_remaining"`
	MonthlyFreeContractsRemaining int                 `gorm:"not null;default:0" json:"monthly_free_contracts_remaining"`
	CompletedJobs                 int                 `gorm:"not null;default:0" json:"completed_jobs"`
	CreatedAt                     time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                     time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// UserSummary is the participant view embedded in contract listings.
type UserSummary struct {
	ID             int            `json:"id"`
	Name           string         `json:"name"`
	MembershipTier MembershipTier `json:"membership_tier"`
	CompletedJobs  int            `json:"completed_jobs"`
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.Name, MembershipTier: u.MembershipTier, CompletedJobs: u.CompletedJobs}
}

// BalanceTransaction is the append-only ledger behind User.Balance.
type BalanceTransaction struct {
	ID           int                    `gorm:"primary_key" json:"id"`
	UserID       int                    `gorm:"index;not null" json:"user_id"`
	ContractID   *int                   `gorm:"index" json:"contract_id"`
	PaymentID    *int                   `gorm:"index" json:"payment_id"`
	Type         BalanceTransactionType `gorm:"size:10;not null" json:"type"`
	Reason       string                 `gorm:"size:100;not null" json:"reason"`
	Amount       decimal.Decimal        `gorm:"type:decimal(20,4);not null" json:"amount"`
	BalanceAfter decimal.Decimal        `gorm:"type:decimal(20,4);not null" json:"balance_after"`
	CreatedAt    time.Time              `gorm:"autoCreateTime" json:"created_at"`
}

const (
	reasonEscrowFunding    = "escrow_funding"
	reasonEscrowRelease    = "escrow_release"
	reasonEscrowRefund     = "escrow_refund"
	reasonPriceIncrease    = "price_increase"
	reasonPriceDecrease    = "price_decrease"
	reasonAdjustmentRefund = "price_adjustment_refund"
)

func GetUser(ctx context.Context, id int) (*User, error) {
	var u User
	if err := config.GetDB().WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFoundAs(err, ErrUserNotFound)
	}
	return &u, nil
}

func GetUsersByIds(ctx context.Context, db *gorm.DB, ids []int) ([]User, error) {
	var users []User
	if len(ids) == 0 {
		return users, nil
	}
	err := db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func lockUser(tx *gorm.DB, id int) (*User, error) {
	var u User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, id).Error; err != nil {
		return nil, notFoundAs(err, ErrUserNotFound)
	}
	return &u, nil
}

type balanceMove struct {
	Type       BalanceTransactionType
	Reason     string
	Amount     decimal.Decimal
	ContractID *int
	PaymentID  *int
}

// moveBalance applies a credit or debit to a locked user row and records it.
// Debits beyond the balance fail with InsufficientBalance and change nothing.
func moveBalance(tx *gorm.DB, u *User, m balanceMove) error {
	amount := m.Amount.Abs()
	if amount.IsZero() {
		return nil
	}
	next := u.Balance
	if m.Type == BalanceDebit {
		if u.Balance.LessThan(amount) {
			return InsufficientBalanceError(amount, u.Balance)
		}
		next = u.Balance.Sub(amount)
	} else {
		next = u.Balance.Add(amount)
	}
	if err := tx.Model(&User{}).Where("id = ?", u.ID).Update("balance", next).Error; err != nil {
		return err
	}
	u.Balance = next
	return tx.Create(&BalanceTransaction{
		UserID:       u.ID,
		ContractID:   m.ContractID,
		PaymentID:    m.PaymentID,
		Type:         m.Type,
		Reason:       m.Reason,
		Amount:       amount,
		BalanceAfter: next,
	}).Error
}

// consumeFreeContract decrements one grant counter only if it is still positive.
func consumeFreeContract(tx *gorm.DB, userID int, source FreeContractSource) error {
	column := "free_contracts_remaining"
	if source == FreeContractMonthly {
		column = "monthly_free_contracts_remaining"
	}
	res := tx.Model(&User{}).
		Where("id = ? AND "+column+" > 0", userID).
		Update(column, gorm.Expr(column+" - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGrantConflict
	}
	return nil
}

func freeGrantFor(u *User) FreeContractSource {
	switch {
	case u.FamilyPlan:
		return FreeContractNone
	case u.FreeContractsRemaining > 0:
		return FreeContractSignup
	case u.MonthlyFreeContractsRemaining > 0:
		return FreeContractMonthly
	}
	return FreeContractNone
}
