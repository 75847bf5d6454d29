package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSweepCmd runs one sweep in the foreground and prints its final state.
func newSweepCmd() *cobra.Command {
	var productID string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Captures every route of a product once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			sweep, err := appInstance.RunSweep(cmd.Context(), productID)
			if err != nil {
				return fmt.Errorf("run sweep: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), sweep)
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "product ID to sweep")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}
