package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/extract"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/scrape"
	"github.com/sells-group/prospect-cli/internal/store"
	"github.com/sells-group/prospect-cli/pkg/notion"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import leads from external sources",
}

var importNotionFlags struct {
	status string
	mark   bool
}

var importNotionCmd = &cobra.Command{
	Use:   "notion",
	Short: "Import leads from a Notion database",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Notion.Token == "" {
			return eris.New("notion token is required (PROSPECT_NOTION_TOKEN)")
		}
		if cfg.Notion.LeadDB == "" {
			return eris.New("notion lead DB ID is required (PROSPECT_NOTION_LEAD_DB)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := importNotionLeads(ctx, st, notion.NewClient(cfg.Notion.Token),
			cfg.Notion.LeadDB, importNotionFlags.status, importNotionFlags.mark)
		if err != nil {
			return eris.Wrap(err, "import notion")
		}

		zap.L().Info("import complete",
			zap.Int("pages", res.Pages),
			zap.Int("saved", res.Saved),
			zap.Int("duplicates", res.Duplicates),
			zap.Int("failed", res.Failed),
		)
		return nil
	},
}

type importResult struct {
	Pages      int
	Saved      int
	Duplicates int
	Failed     int
}

// importNotionLeads stores every lead page of dbID, skipping emails that are
// already known. With mark set, stored and duplicate pages get their Status
// set to Imported.
func importNotionLeads(ctx context.Context, st store.Store, c notion.Client, dbID, status string, mark bool) (importResult, error) {
	recs, err := notion.QueryLeads(ctx, c, dbID, status)
	if err != nil {
		return importResult{}, err
	}

	res := importResult{Pages: len(recs)}
	for _, rec := range recs {
		log := zap.L().With(zap.String("page_id", rec.PageID), zap.String("company", rec.CompanyName))

		lead := leadFromRecord(rec)
		outcome, err := scrape.SaveLead(ctx, st, lead)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			log.Warn("import: save lead failed", zap.Error(err))
			res.Failed++
			continue
		}
		if outcome == scrape.Duplicate {
			res.Duplicates++
		} else {
			res.Saved++
		}

		if mark {
			if err := notion.MarkImported(ctx, c, rec.PageID); err != nil {
				log.Warn("import: mark page failed", zap.Error(err))
			}
		}
	}
	return res, nil
}

func leadFromRecord(rec notion.LeadRecord) *model.Lead {
	return &model.Lead{
		CompanyName:  rec.CompanyName,
		Domain:       extract.DomainOf("", rec.Website, rec.Email),
		Email:        rec.Email,
		Phone:        extract.NormalizePhone(rec.Phone),
		City:         rec.City,
		Region:       rec.Region,
		ActivityType: rec.ActivityType,
		Source:       model.SourceNotion,
		Status:       model.LeadStatusNew,
		Notes:        rec.Notes,
	}
}

func init() {
	importNotionCmd.Flags().StringVar(&importNotionFlags.status, "status", "", "only import pages with this Status value")
	importNotionCmd.Flags().BoolVar(&importNotionFlags.mark, "mark", false, "set Status to Imported on imported pages")
	importCmd.AddCommand(importNotionCmd)
	rootCmd.AddCommand(importCmd)
}
