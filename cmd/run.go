package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/spirits-cli/internal/discovery"
	"github.com/sells-group/spirits-cli/internal/model"
)

var (
	runTerms      []string
	runType       string
	runMaxResults int
	runEnrich     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ad-hoc discovery for one or more search terms",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("run"); err != nil {
			return err
		}
		ctx := cmd.Context()

		// Enrichment dispatches follow-up tasks, which needs the queue.
		env, err := initEnv(ctx, runEnrich)
		if err != nil {
			return err
		}
		defer env.Close()

		terms := discovery.WrapTerms(runTerms)
		if runMaxResults > 0 {
			for i := range terms {
				terms[i].MaxResults = runMaxResults
			}
		}

		sched := &model.Schedule{
			Slug:              "adhoc",
			Category:          model.CategoryDiscovery,
			Terms:             terms,
			ProductTypeFilter: model.ProductType(runType),
			Enrich:            runEnrich,
		}

		counters, err := env.discovery.Run(ctx, sched, "")
		if err != nil {
			return eris.Wrap(err, "discovery run")
		}

		zap.L().Info("discovery complete",
			zap.Int("products_found", counters.ProductsFound),
			zap.Int("products_new", counters.ProductsNew),
			zap.Int("products_duplicate", counters.ProductsDuplicate),
			zap.Int("errors", counters.ErrorCount))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(counters)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runTerms, "term", nil, "search term (repeatable, required)")
	runCmd.Flags().StringVar(&runType, "type", "", "restrict to a product type (whiskey or port_wine)")
	runCmd.Flags().IntVar(&runMaxResults, "max-results", 0, "max search results per term")
	runCmd.Flags().BoolVar(&runEnrich, "enrich", false, "queue verification for written products")
	_ = runCmd.MarkFlagRequired("term")
	rootCmd.AddCommand(runCmd)
}
