package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mmdatafocus/contracts_backend/models/reports"
	"github.com/mmdatafocus/contracts_backend/utils"
	"github.com/spf13/cobra"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var statementOpts struct {
	userID int
	from   string
	until  string
	out    string
	upload bool
}

var statementCmd = &cobra.Command{
	Use:   "statement",
	Short: "Export a user's balance and escrow statement as xlsx",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statementOpts.userID <= 0 {
			return fmt.Errorf("--user is required")
		}
		from, err := time.Parse(time.DateOnly, statementOpts.from)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		until, err := time.Parse(time.DateOnly, statementOpts.until)
		if err != nil {
			return fmt.Errorf("--until: %w", err)
		}
		if err := connect(); err != nil {
			return err
		}

		st, err := reports.GetEscrowStatement(cmd.Context(), statementOpts.userID, reports.StatementRange{From: from, Until: until})
		if err != nil {
			return err
		}
		raw, err := reports.ExportEscrowStatement(st)
		if err != nil {
			return err
		}

		name := statementOpts.out
		if name == "" {
			name = fmt.Sprintf("statement-%d-%s-%s.xlsx", st.UserID, statementOpts.from, statementOpts.until)
		}
		if statementOpts.upload {
			uri, err := utils.UploadBytesToGCS(cmd.Context(), "statements/"+name, raw, xlsxContentType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		}
		if err := os.WriteFile(name, raw, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), name)
		return nil
	},
}

func init() {
	f := statementCmd.Flags()
	f.IntVar(&statementOpts.userID, "user", 0, "user id")
	f.StringVar(&statementOpts.from, "from", "", "first day, YYYY-MM-DD")
	f.StringVar(&statementOpts.until, "until", "", "day after the last, YYYY-MM-DD")
	f.StringVar(&statementOpts.out, "out", "", "output file name")
	f.BoolVar(&statementOpts.upload, "upload", false, "upload to GCS_BUCKET instead of writing a local file")
}
