package main

import (
	"fmt"

	"github.com/mmdatafocus/contracts_backend/utils"
	"github.com/spf13/cobra"
)

var tokenOpts struct {
	userID int
	role   string
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token for local testing or ops access",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenOpts.role != utils.RoleUser && tokenOpts.role != utils.RoleOperator {
			return fmt.Errorf("--role must be %q or %q", utils.RoleUser, utils.RoleOperator)
		}
		if tokenOpts.userID <= 0 {
			return fmt.Errorf("--user is required")
		}
		token, err := utils.JwtGenerate(tokenOpts.userID, tokenOpts.role)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().IntVar(&tokenOpts.userID, "user", 0, "user id")
	tokenCmd.Flags().StringVar(&tokenOpts.role, "role", utils.RoleUser, "user or operator")
}
