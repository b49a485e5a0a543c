package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/scrape"
)

var scrapeFlags struct {
	source   string
	region   string
	activity string
	keywords string
	city     string
	max      int
	url      string
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run a scraping job and store the leads it finds",
	Long:  "Creates a scraping job for a source (pagesjaunes, cci, google, linkedin or custom), runs it to completion and prints the finished job.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("scrape"); err != nil {
			return err
		}

		req := scrapeRequest()
		if err := req.Validate(); err != nil {
			return err
		}

		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Runner.RunRequest(ctx, req)
		if err != nil {
			return eris.Wrap(err, "scrape")
		}

		zap.L().Info("scrape complete",
			zap.String("job_id", job.ID),
			zap.String("status", string(job.Status)),
			zap.Int("found", job.TotalFound),
			zap.Int("saved", job.SuccessCount),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func scrapeRequest() scrape.Request {
	return scrape.Request{
		Source:       scrapeFlags.source,
		Region:       scrapeFlags.region,
		ActivityType: scrapeFlags.activity,
		Options: model.JobOptions{
			Keywords:   scrapeFlags.keywords,
			City:       scrapeFlags.city,
			MaxResults: scrapeFlags.max,
			CustomURL:  scrapeFlags.url,
		},
	}
}

func init() {
	f := scrapeCmd.Flags()
	f.StringVar(&scrapeFlags.source, "source", model.SourcePagesJaunes, "lead source: pagesjaunes, cci, google, linkedin or custom")
	f.StringVar(&scrapeFlags.region, "region", "", "target region (required)")
	f.StringVar(&scrapeFlags.activity, "activity", "", "activity type, e.g. promoteur (required)")
	f.StringVar(&scrapeFlags.keywords, "keywords", "", "search keywords (default: activity type)")
	f.StringVar(&scrapeFlags.city, "city", "", "city to search (default: region)")
	f.IntVar(&scrapeFlags.max, "max", 0, "maximum leads to keep (default from config)")
	f.StringVar(&scrapeFlags.url, "url", "", "page to crawl for the custom source")
	_ = scrapeCmd.MarkFlagRequired("region")
	_ = scrapeCmd.MarkFlagRequired("activity")
	rootCmd.AddCommand(scrapeCmd)
}
