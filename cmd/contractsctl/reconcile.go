package main

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/workflow"
	"github.com/spf13/cobra"
)

var reconcileStaleAfter time.Duration

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Settle gateway payments stuck in processing",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := gateway.NewBridgeClient()
		if err != nil {
			return err
		}
		if err := connect(); err != nil {
			return err
		}
		r := workflow.NewCaptureReconciler(gw, config.GetLogger())
		r.StaleAfter = reconcileStaleAfter
		settled, err := r.ReconcileOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "settled %d payments\n", settled)
		return nil
	},
}

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileStaleAfter, "stale-after", time.Minute, "only check payments processing for at least this long")
}
