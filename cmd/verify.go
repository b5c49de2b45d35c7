package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <product-id>",
	Short: "Cross-check a product's fields against independent sources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		ctx := cmd.Context()

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		report := env.verify.VerifyProduct(ctx, args[0])
		if !report.Success {
			return eris.Errorf("verification failed: %s", report.Error)
		}

		zap.L().Info("verification complete",
			zap.String("product_id", report.ProductID),
			zap.Int("sources", report.SourceCount),
			zap.Int("verified_fields", len(report.VerifiedFields)),
			zap.Int("conflicts", len(report.Conflicts)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}
