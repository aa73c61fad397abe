package workflow

import (
	"context"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/sirupsen/logrus"
)

// CaptureReconciler settles gateway payments whose capture callback never arrived.
type CaptureReconciler struct {
	Gateway    gateway.Client
	Logger     *logrus.Logger
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

func NewCaptureReconciler(gw gateway.Client, logger *logrus.Logger) *CaptureReconciler {
	return &CaptureReconciler{
		Gateway:    gw,
		Logger:     logger,
		Interval:   time.Minute,
		StaleAfter: time.Minute,
		BatchSize:  50,
	}
}

func (r *CaptureReconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.ReconcileOnce(ctx); err != nil {
			config.LogError(r.logger(), "CaptureReconciler", "Run", "list stale payments", nil, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *CaptureReconciler) logger() *logrus.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return config.GetLogger()
}

// ReconcileOnce checks one batch of stale payments and returns how many settled.
// A failure on one payment is logged and does not stop the batch.
func (r *CaptureReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	payments, err := models.ListStaleProcessingPayments(ctx, r.StaleAfter, r.BatchSize)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, p := range payments {
		got, err := models.ReconcileCapture(ctx, r.Gateway, p.ID, false)
		if err != nil {
			config.LogError(r.logger(), "CaptureReconciler", "ReconcileOnce", "reconcile capture", map[string]any{
				"payment_id":  p.ID,
				"contract_id": p.ContractID,
			}, err)
			continue
		}
		if got.Status != models.PaymentStatusProcessing {
			settled++
		}
	}
	return settled, nil
}
