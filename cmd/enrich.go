package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/enrich"
)

var enrichFlags struct {
	limit int
	all   bool
	lead  string
}

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Find and verify emails for stored leads",
	Long:  "Enriches one lead (--lead) or a batch of leads through the email directory. By default only leads without an email are processed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if enrichFlags.lead != "" {
			out, err := env.Enricher.EnrichOne(ctx, enrichFlags.lead)
			if err != nil {
				return eris.Wrap(err, "enrich lead")
			}
			if out.Err != nil {
				zap.L().Warn("enrichment failed", zap.String("lead_id", out.LeadID), zap.Error(out.Err))
			}
			return enc.Encode(out)
		}

		limit := enrichFlags.limit
		if limit <= 0 {
			limit = cfg.Enrich.BatchLimit
		}
		res, err := env.Enricher.EnrichBatch(ctx, enrich.Options{
			OnlyMissingEmail: !enrichFlags.all,
			Limit:            limit,
			Delay:            time.Duration(cfg.Enrich.DelayMs) * time.Millisecond,
		})
		if err != nil {
			return eris.Wrap(err, "enrich batch")
		}

		zap.L().Info("enrichment complete",
			zap.Int("total", res.Total),
			zap.Int("enriched", res.Enriched),
			zap.Int("failed", res.Failed),
		)
		return enc.Encode(res)
	},
}

func init() {
	enrichCmd.Flags().IntVar(&enrichFlags.limit, "limit", 0, "max leads per batch (default from config)")
	enrichCmd.Flags().BoolVar(&enrichFlags.all, "all", false, "include leads that already have an email")
	enrichCmd.Flags().StringVar(&enrichFlags.lead, "lead", "", "enrich a single lead by ID")
	rootCmd.AddCommand(enrichCmd)
}
