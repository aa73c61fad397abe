package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/gateway"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/mmdatafocus/contracts_backend/workflow"
	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect and repair the outbox",
}

var outboxSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count outbox rows by status and topic",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(); err != nil {
			return err
		}
		rows, err := models.GetOutboxSummary(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATUS\tTOPIC\tCOUNT")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%d\n", r.PublishStatus, r.Topic, r.Count)
		}
		return w.Flush()
	},
}

var outboxReplayCmd = &cobra.Command{
	Use:   "replay [id...]",
	Short: "Move DEAD outbox rows back to PENDING (all DEAD rows when no ids are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int, 0, len(args))
		for _, a := range args {
			id, err := strconv.Atoi(a)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid outbox id %q", a)
			}
			ids = append(ids, id)
		}
		if err := connect(); err != nil {
			return err
		}
		n, err := models.ReplayDeadOutbox(cmd.Context(), ids)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d outbox rows\n", n)
		return nil
	},
}

var outboxDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Deliver due outbox rows once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := connect(); err != nil {
			return err
		}
		logger := config.GetLogger()
		if err := config.ConnectSocketBus(); err != nil {
			logger.Warn("socket bus disabled: " + err.Error())
		}
		defer config.CloseSocketBus()

		gw, err := gateway.NewBridgeClient()
		if err != nil {
			logger.Warn("payments bridge disabled: " + err.Error())
		}
		d := workflow.NewOutboxDispatcher(config.GetDB(), logger)
		d.HandleNotifications(workflow.NewPublisherFromConfig(logger))
		d.HandleRefunds(&workflow.RefundHandler{DB: config.GetDB(), Gateway: gw})

		total := 0
		for {
			sent, err := d.DispatchOnce(cmd.Context())
			if err != nil {
				return err
			}
			if sent == 0 {
				break
			}
			total += sent
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered %d outbox rows\n", total)
		return nil
	},
}

func init() {
	outboxCmd.AddCommand(outboxSummaryCmd, outboxReplayCmd, outboxDispatchCmd)
}
