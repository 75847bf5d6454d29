package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFlowsCmd() *cobra.Command {
	var productID string
	cmd := &cobra.Command{
		Use:   "flows",
		Short: "Prints the flow forest, breadcrumbs and unconnected screens of a product",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			overview, err := appInstance.Flows(cmd.Context(), productID)
			if err != nil {
				return fmt.Errorf("describe flows: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), overview)
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "product ID to describe")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}
