package models

import (
	"time"

	"gorm.io/gorm"
)

type Referral struct {
	ID          int            `gorm:"primary_key" json:"id"`
	ReferrerID  int            `gorm:"index;not null" json:"referrer_id"`
	ReferredID  int            `gorm:"uniqueIndex;not null" json:"referred_id"`
	Status      ReferralStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`
	CompletedAt *time.Time     `json:"completed_at"`
	CreditedAt  *time.Time     `json:"credited_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// triggerReferralCredit grants the referrer a free contract when userID finishes
// their first contract. The conditional update on status makes retries harmless.
func triggerReferralCredit(m *mutation, userID int) error {
	var earlier int64
	if err := m.tx.Model(&Contract{}).
		Where("(client_id = ? OR doer_id = ?) AND status = ? AND id <> ?", userID, userID, ContractStatusCompleted, m.contract.ID).
		Count(&earlier).Error; err != nil {
		return err
	}
	if earlier > 0 {
		return nil
	}

	ts := m.now
	res := m.tx.Model(&Referral{}).
		Where("referred_id = ? AND status = ?", userID, ReferralStatusPending).
		Updates(map[string]interface{}{
			"status":       ReferralStatusCredited,
			"completed_at": &ts,
			"credited_at":  &ts,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	var ref Referral
	if err := m.tx.Where("referred_id = ?", userID).First(&ref).Error; err != nil {
		return err
	}
	if err := m.tx.Model(&User{}).Where("id = ?", ref.ReferrerID).
		Update("free_contracts_remaining", gorm.Expr("free_contracts_remaining + 1")).Error; err != nil {
		return err
	}
	m.notifyTo(ActionReferralCredited, map[string]any{"referral_id": ref.ID, "referred_id": userID}, ref.ReferrerID)
	return nil
}
