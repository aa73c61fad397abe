package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Job mirrors the job service's record. Contracts keep its status, doer and
// price in step with their own transitions.
type Job struct {
	ID         int             `gorm:"primary_key" json:"id"`
	ClientID   int             `gorm:"index;not null" json:"client_id"`
	DoerID     *int            `gorm:"index" json:"doer_id"`
	Title      string          `gorm:"size:255;not null" json:"title"`
	Price      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	StartDate  time.Time       `gorm:"not null" json:"start_date"`
	EndDate    time.Time       `gorm:"not null" json:"end_date"`
	Status     JobStatus       `gorm:"size:20;not null;default:'open';index" json:"status"`
	MaxWorkers int             `gorm:"not null;default:1" json:"max_workers"`
	Tasks      []JobTask       `gorm:"serializer:json;type:text" json:"tasks"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type JobTask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (j Job) IsMultiWorker() bool {
	return j.MaxWorkers > 1
}

func (j Job) hasTask(id string) bool {
	for _, t := range j.Tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// Proposal is only counted: price changes on pending contracts require none.
type Proposal struct {
	ID        int       `gorm:"primary_key" json:"id"`
	JobID     int       `gorm:"index;not null" json:"job_id"`
	DoerID    int       `gorm:"index;not null" json:"doer_id"`
	Status    string    `gorm:"size:20;not null;default:'pending'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetJob(ctx context.Context, id int) (*Job, error) {
	var j Job
	if err := config.GetDB().WithContext(ctx).First(&j, id).Error; err != nil {
		return nil, notFoundAs(err, ErrJobNotFound)
	}
	return &j, nil
}

func lockJob(tx *gorm.DB, id int) (*Job, error) {
	var j Job
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&j, id).Error; err != nil {
		return nil, notFoundAs(err, ErrJobNotFound)
	}
	return &j, nil
}

func countProposals(tx *gorm.DB, jobID int) (int64, error) {
	var n int64
	err := tx.Model(&Proposal{}).Where("job_id = ?", jobID).Count(&n).Error
	return n, err
}

// liveContractCount counts contracts on the job that are not cancelled, excluding one id.
func liveContractCount(tx *gorm.DB, jobID, excludeID int) (int64, error) {
	var n int64
	err := tx.Model(&Contract{}).
		Where("job_id = ? AND id <> ? AND status <> ?", jobID, excludeID, ContractStatusCancelled).
		Count(&n).Error
	return n, err
}

func openContractCount(tx *gorm.DB, jobID, excludeID int) (int64, error) {
	var n int64
	err := tx.Model(&Contract{}).
		Where("job_id = ? AND id <> ? AND status NOT IN ?", jobID, excludeID,
			[]ContractStatus{ContractStatusCancelled, ContractStatusCompleted}).
		Count(&n).Error
	return n, err
}

func updateJob(tx *gorm.DB, jobID int, values map[string]interface{}) error {
	return tx.Model(&Job{}).Where("id = ?", jobID).Updates(values).Error
}
