package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ooi-harvest-request/internal/state"
	"github.com/JakeFAU/ooi-harvest-request/internal/status"
)

// newStatusCmd creates the 'status' subcommand, which prints the persisted status record.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted status record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rs, err := appInstance.LoadStatus(cmd.Context())
			if errors.Is(err, state.ErrNoRequest) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Please request data first.")
				return err
			}
			if err != nil {
				return err
			}
			data, err := status.Marshal(rs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
