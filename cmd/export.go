package main

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/export"
	"github.com/sells-group/prospect-cli/internal/model"
)

var exportFlags struct {
	format   string
	out      string
	search   string
	region   string
	activity string
	status   string
	source   string
	limit    int
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export leads to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		_, ext, err := export.ContentType(exportFlags.format)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		leads, err := st.ListLeads(ctx, exportFilter())
		if err != nil {
			return eris.Wrap(err, "export: list leads")
		}

		var w io.Writer = os.Stdout
		if exportFlags.out != "" {
			f, err := os.Create(exportFlags.out)
			if err != nil {
				return eris.Wrap(err, "export: create output")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		if err := export.Write(w, exportFlags.format, leads); err != nil {
			return err
		}
		if exportFlags.out != "" {
			zap.L().Info("export complete",
				zap.Int("leads", len(leads)),
				zap.String("format", ext),
				zap.String("path", exportFlags.out),
			)
		}
		return nil
	},
}

func exportFilter() model.LeadFilter {
	return model.LeadFilter{
		Search:       exportFlags.search,
		Region:       exportFlags.region,
		ActivityType: exportFlags.activity,
		Status:       model.LeadStatus(exportFlags.status),
		Source:       exportFlags.source,
		Limit:        exportFlags.limit,
	}.Normalize()
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.format, "format", export.FormatCSV, "output format: csv or xlsx")
	f.StringVarP(&exportFlags.out, "out", "o", "", "output file (default stdout)")
	f.StringVar(&exportFlags.search, "search", "", "match company name, email or domain")
	f.StringVar(&exportFlags.region, "region", "", "filter by region")
	f.StringVar(&exportFlags.activity, "activity", "", "filter by activity type")
	f.StringVar(&exportFlags.status, "status", "", "filter by lead status")
	f.StringVar(&exportFlags.source, "source", "", "filter by lead source")
	f.IntVar(&exportFlags.limit, "limit", 0, "max leads (0 for all)")
	rootCmd.AddCommand(exportCmd)
}
