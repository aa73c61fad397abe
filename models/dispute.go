package models

import (
	"context"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
)

const DisputeCategoryTaskClaimRejected = "task_claim_rejected"

// Dispute is the local linkage record; the dispute service owns its lifecycle.
type Dispute struct {
	ID          int       `gorm:"primary_key" json:"id"`
	ContractID  int       `gorm:"index;not null" json:"contract_id"`
	OpenedBy    int       `gorm:"not null" json:"opened_by"`
	Category    string    `gorm:"size:50;not null" json:"category"`
	Description string    `gorm:"type:text" json:"description"`
	Evidence    []string  `gorm:"serializer:json;type:text" json:"evidence"`
	Status      string    `gorm:"size:20;not null;default:'open'" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type DisputeFiling struct {
	ContractID  int
	OpenedBy    int
	Category    string
	Description string
	Evidence    []string
}

// DisputeFiler hands a dispute to the dispute service and returns its id.
// It runs inside the contract transaction.
type DisputeFiler interface {
	FileDispute(ctx context.Context, tx *gorm.DB, f DisputeFiling) (int, error)
}

type gormDisputeFiler struct{}

func (gormDisputeFiler) FileDispute(ctx context.Context, tx *gorm.DB, f DisputeFiling) (int, error) {
	d := Dispute{
		ContractID:  f.ContractID,
		OpenedBy:    f.OpenedBy,
		Category:    f.Category,
		Description: f.Description,
		Evidence:    f.Evidence,
		Status:      "open",
	}
	if err := tx.WithContext(ctx).Create(&d).Error; err != nil {
		return 0, err
	}
	return d.ID, nil
}

var (
	disputeFilerMu sync.RWMutex
	disputeFiler   DisputeFiler = gormDisputeFiler{}
)

func SetDisputeFiler(f DisputeFiler) {
	disputeFilerMu.Lock()
	defer disputeFilerMu.Unlock()
	if f == nil {
		f = gormDisputeFiler{}
	}
	disputeFiler = f
}

func getDisputeFiler() DisputeFiler {
	disputeFilerMu.RLock()
	defer disputeFilerMu.RUnlock()
	return disputeFiler
}

type DisputeInput struct {
	Category    string   `json:"category" validate:"required,max=50"`
	Description string   `json:"description" validate:"max=5000"`
	Evidence    []string `json:"evidence" validate:"max=20,dive,url"`
}

// OpenDispute links one dispute to a contract that is under way.
func OpenDispute(ctx context.Context, contractID, actorID int, in DisputeInput) (*Contract, error) {
	if strings.TrimSpace(in.Category) == "" {
		return nil, validationError("dispute category is required")
	}
	return withContractLock(ctx, contractID, actorID, "open_dispute", func(m *mutation) error {
		c := m.contract
		if err := c.requireStatus(ContractStatusInProgress, ContractStatusAwaitingConfirmation); err != nil {
			return err
		}
		return fileDispute(m, DisputeFiling{
			ContractID:  c.ID,
			OpenedBy:    actorID,
			Category:    strings.TrimSpace(in.Category),
			Description: in.Description,
			Evidence:    in.Evidence,
		})
	})
}

func fileDispute(m *mutation, f DisputeFiling) error {
	c := m.contract
	if c.DisputeID != nil {
		return ErrDisputeExists
	}
	id, err := getDisputeFiler().FileDispute(m.ctx, m.tx, f)
	if err != nil {
		return err
	}
	c.DisputeID = &id
	m.notify(ActionDisputeOpened, map[string]any{"dispute_id": id, "category": f.Category})
	return nil
}
