package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-cli/internal/api"
	"github.com/sells-group/prospect-cli/internal/model"
)

var (
	statusJobs     int
	statusServices bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dashboard stats, recent scraping jobs and campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Store.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "status: stats")
		}
		formatStats(os.Stdout, stats)

		jobs, err := env.Store.ListJobs(ctx, statusJobs)
		if err != nil {
			return eris.Wrap(err, "status: jobs")
		}
		if len(jobs) > 0 {
			fmt.Fprintln(os.Stdout)
			formatJobs(os.Stdout, jobs)
		}

		cs, err := env.Store.ListCampaigns(ctx)
		if err != nil {
			return eris.Wrap(err, "status: campaigns")
		}
		if len(cs) > 0 {
			fmt.Fprintln(os.Stdout)
			formatCampaigns(os.Stdout, cs)
		}

		if statusServices {
			fmt.Fprintln(os.Stdout)
			formatServices(os.Stdout, api.CheckServices(ctx, env.services()))
		}
		return nil
	},
}

func formatStats(out io.Writer, s *model.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Prospects:\t%d\n", s.TotalProspects)
	_, _ = fmt.Fprintf(w, "Emails sent:\t%d\n", s.TotalEmailsSent)
	_, _ = fmt.Fprintf(w, "Open rate:\t%d%%\n", s.OpenRate)
	_, _ = fmt.Fprintf(w, "Conversion rate:\t%d%%\n", s.ConversionRate)
	_ = w.Flush()
}

func formatJobs(out io.Writer, jobs []model.ScrapingJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSOURCE\tREGION\tACTIVITY\tSTATUS\tFOUND\tSAVED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t------\t------\t--------\t------\t-----\t-----\t-------")

	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			truncateID(j.ID),
			j.Source,
			j.Region,
			truncate(j.ActivityType, 20),
			j.Status,
			j.TotalFound,
			j.SuccessCount,
			j.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func formatServices(out io.Writer, statuses []api.ServiceStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERVICE\tSTATUS\tDETAIL")
	for _, s := range statuses {
		detail := s.Error
		if detail == "" {
			detail = s.Note
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Status, detail)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first 8 characters.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func init() {
	statusCmd.Flags().IntVar(&statusJobs, "jobs", 10, "number of recent scraping jobs to show")
	statusCmd.Flags().BoolVar(&statusServices, "services", false, "also check the external services")
	rootCmd.AddCommand(statusCmd)
}
