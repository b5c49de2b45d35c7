package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/spirits-cli/internal/competition"
	"github.com/sells-group/spirits-cli/internal/model"
)

var (
	competitionURL  string
	competitionType string
	competitionMax  int
)

var competitionCmd = &cobra.Command{
	Use:   "competition",
	Short: "Extract awards from a competition-results page",
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

		req := &competition.Request{
			SourceURL:  competitionURL,
			MaxResults: competitionMax,
		}
		if competitionType != "" {
			req.ProductTypes = []model.ProductType{model.ProductType(competitionType)}
		}

		res := env.competition.Run(ctx, req)
		if res.AwardsFound == 0 && len(res.Errors) > 0 {
			return eris.Errorf("competition run failed: %s", res.Errors[0])
		}

		zap.L().Info("competition scan complete",
			zap.String("url", competitionURL),
			zap.Int("awards_found", res.AwardsFound),
			zap.Int("skeletons_created", res.SkeletonsCreated),
			zap.Int("skeletons_updated", res.SkeletonsUpdated))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	competitionCmd.Flags().StringVar(&competitionURL, "url", "", "competition results URL (required)")
	competitionCmd.Flags().StringVar(&competitionType, "type", "", "restrict to a product type (whiskey or port_wine)")
	competitionCmd.Flags().IntVar(&competitionMax, "max-results", 0, "max award entries to process")
	_ = competitionCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(competitionCmd)
}
