package main

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// seedCmd creates a client, a doer and one open job for local development.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create demo users and a job on a development database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(); err != nil {
			return err
		}
		if err := models.MigrateTable(); err != nil {
			return err
		}
		var client, doer models.User
		var job models.Job
		err := config.GetDB().WithContext(cmd.Context()).Transaction(func(tx *gorm.DB) error {
			client = models.User{
				Name:                   "Demo Client",
				Email:                  "client@example.com",
				Balance:                decimal.NewFromInt(500000),
				MembershipTier:         models.MembershipPro,
				FreeContractsRemaining: 1,
			}
			doer = models.User{Name: "Demo Doer", Email: "doer@example.com"}
			if err := tx.Create(&client).Error; err != nil {
				return err
			}
			if err := tx.Create(&doer).Error; err != nil {
				return err
			}
			start := time.Now().Add(7 * 24 * time.Hour).Truncate(time.Hour)
			job = models.Job{
				ClientID:   client.ID,
				Title:      "Demo job",
				Price:      decimal.NewFromInt(20000),
				StartDate:  start,
				EndDate:    start.Add(48 * time.Hour),
				Status:     models.JobStatusOpen,
				MaxWorkers: 1,
			}
			return tx.Create(&job).Error
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "client=%d doer=%d job=%d\n", client.ID, doer.ID, job.ID)
		return nil
	},
}
