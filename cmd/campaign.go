package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Create, launch and deliver email campaigns",
}

// -- campaign list --

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cs, err := st.ListCampaigns(ctx)
		if err != nil {
			return eris.Wrap(err, "campaign list")
		}
		if len(cs) == 0 {
			fmt.Fprintln(os.Stderr, "No campaigns found.")
			return nil
		}
		formatCampaigns(os.Stdout, cs)
		return nil
	},
}

// -- campaign create --

var campaignCreateFlags struct {
	name      string
	template  string
	region    string
	activity  string
	status    string
	scheduled string
}

var campaignCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft campaign",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		c, err := campaignFromFlags()
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if c.TemplateID != nil {
			if _, err := st.GetTemplate(ctx, *c.TemplateID); err != nil {
				return eris.Wrapf(err, "template %s", *c.TemplateID)
			}
		}
		if err := st.CreateCampaign(ctx, c); err != nil {
			return eris.Wrap(err, "campaign create")
		}
		fmt.Fprintln(os.Stdout, c.ID)
		return nil
	},
}

func campaignFromFlags() (*model.Campaign, error) {
	f := campaignCreateFlags
	c := &model.Campaign{Name: strings.TrimSpace(f.name)}
	if c.Name == "" {
		return nil, eris.New("campaign name is required")
	}
	if f.template != "" {
		c.TemplateID = &f.template
	}

	filter := model.LeadFilter{
		Region:       f.region,
		ActivityType: f.activity,
		Status:       model.LeadStatus(f.status),
	}.Normalize()
	if filter != (model.LeadFilter{}) {
		raw, err := json.Marshal(filter)
		if err != nil {
			return nil, eris.Wrap(err, "encode recipient filter")
		}
		c.RecipientFilter = raw
	}

	if f.scheduled != "" {
		at, err := time.Parse(time.RFC3339, f.scheduled)
		if err != nil {
			return nil, eris.Wrap(err, "parse --scheduled-at")
		}
		at = at.UTC()
		c.ScheduledAt = &at
	}
	return c, nil
}

// -- campaign launch --

var campaignLaunchAsync bool

var campaignLaunchCmd = &cobra.Command{
	Use:   "launch <campaign-id>",
	Short: "Launch a draft campaign and send its emails",
	Long:  "Activates a draft campaign and delivers it in this process. With --async, delivery is queued for a worker instead.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("send"); err != nil {
			return err
		}

		env, err := initApp(ctx, campaignLaunchAsync)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Dispatcher.Launch(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "campaign launch")
		}
		if campaignLaunchAsync {
			zap.L().Info("campaign queued",
				zap.String("campaign_id", res.CampaignID),
				zap.Int("recipients", res.Recipients),
				zap.String("task_id", res.TaskID),
			)
			return nil
		}
		return deliverAndReport(cmd, env, args[0])
	},
}

// -- campaign send --

var campaignSendCmd = &cobra.Command{
	Use:   "send <campaign-id>",
	Short: "Deliver or resume an active campaign",
	Long:  "Sends the remaining emails of an active campaign. Recipients that already have a send are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("send"); err != nil {
			return err
		}

		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		return deliverAndReport(cmd, env, args[0])
	},
}

func deliverAndReport(cmd *cobra.Command, env *appEnv, id string) error {
	ctx := cmd.Context()
	if err := env.Dispatcher.Deliver(ctx, id); err != nil {
		return eris.Wrap(err, "campaign deliver")
	}
	c, err := env.Store.GetCampaign(ctx, id)
	if err != nil {
		return eris.Wrap(err, "campaign reload")
	}
	formatCampaigns(os.Stdout, []model.Campaign{*c})
	return nil
}

func formatCampaigns(out io.Writer, cs []model.Campaign) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tSTATUS\tRECIPIENTS\tSENT\tFAILED\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----------\t----\t------\t-------")

	for _, c := range cs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			truncateID(c.ID),
			truncate(c.Name, 30),
			c.Status,
			c.TotalRecipients,
			c.SentCount,
			c.FailedCount,
			c.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

func init() {
	cf := campaignCreateCmd.Flags()
	cf.StringVar(&campaignCreateFlags.name, "name", "", "campaign name (required)")
	cf.StringVar(&campaignCreateFlags.template, "template", "", "template ID")
	cf.StringVar(&campaignCreateFlags.region, "region", "", "only leads in this region")
	cf.StringVar(&campaignCreateFlags.activity, "activity", "", "only leads of this activity type")
	cf.StringVar(&campaignCreateFlags.status, "status", "", "only leads with this status (new, contacted, qualified)")
	cf.StringVar(&campaignCreateFlags.scheduled, "scheduled-at", "", "RFC 3339 time at which the scheduler launches the campaign")
	_ = campaignCreateCmd.MarkFlagRequired("name")

	campaignLaunchCmd.Flags().BoolVar(&campaignLaunchAsync, "async", false, "queue delivery for a worker instead of sending now")

	campaignCmd.AddCommand(campaignListCmd)
	campaignCmd.AddCommand(campaignCreateCmd)
	campaignCmd.AddCommand(campaignLaunchCmd)
	campaignCmd.AddCommand(campaignSendCmd)
	rootCmd.AddCommand(campaignCmd)
}
