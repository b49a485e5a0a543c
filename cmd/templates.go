package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/render"
	"github.com/sells-group/prospect-cli/internal/store"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "Manage email templates",
}

// -- templates list --

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List email templates",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tpls, err := st.ListTemplates(ctx)
		if err != nil {
			return eris.Wrap(err, "templates list")
		}
		if len(tpls) == 0 {
			fmt.Fprintln(os.Stderr, "No templates found. Run `templates seed` to add the defaults.")
			return nil
		}
		formatTemplates(os.Stdout, tpls)
		return nil
	},
}

// -- templates seed --

var templatesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Add the built-in templates that are not stored yet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		added, err := seedTemplates(ctx, st)
		if err != nil {
			return err
		}
		zap.L().Info("templates seeded", zap.Int("added", added))
		return nil
	},
}

// seedTemplates stores each default template whose name is not taken.
func seedTemplates(ctx context.Context, st store.Store) (int, error) {
	defaults, err := render.DefaultTemplates()
	if err != nil {
		return 0, err
	}
	existing, err := st.ListTemplates(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "templates seed: list")
	}
	names := make(map[string]bool, len(existing))
	for _, t := range existing {
		names[t.Name] = true
	}

	added := 0
	for i := range defaults {
		if names[defaults[i].Name] {
			continue
		}
		if err := st.CreateTemplate(ctx, &defaults[i]); err != nil {
			return added, eris.Wrapf(err, "templates seed: create %q", defaults[i].Name)
		}
		added++
	}
	return added, nil
}

// -- templates generate --

var templatesGenerateFlags struct {
	req  render.GenerateRequest
	save bool
}

var templatesGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a template with the AI provider",
	Long:  "Generates a subject and body for an industry and purpose. A built-in template is returned when no AI provider is configured or the reply cannot be used.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		tpl, fallback, err := env.Generator.Generate(ctx, templatesGenerateFlags.req)
		if err != nil {
			return eris.Wrap(err, "templates generate")
		}
		if fallback {
			zap.L().Warn("using built-in template", zap.String("industry", templatesGenerateFlags.req.Industry))
		}
		if templatesGenerateFlags.save {
			if err := env.Store.CreateTemplate(ctx, &tpl); err != nil {
				return eris.Wrap(err, "templates generate: save")
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(tpl)
	},
}

func formatTemplates(out io.Writer, tpls []model.Template) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSUBJECT")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-------")

	for _, t := range tpls {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			truncateID(t.ID),
			truncate(t.Name, 30),
			t.Category,
			truncate(t.Subject, 50),
		)
	}
	_ = w.Flush()
}

func init() {
	gf := templatesGenerateCmd.Flags()
	gf.StringVar(&templatesGenerateFlags.req.Industry, "industry", "", "target industry, e.g. immobilier (required)")
	gf.StringVar(&templatesGenerateFlags.req.Purpose, "purpose", "", "what the email should achieve (required)")
	gf.StringVar(&templatesGenerateFlags.req.Tone, "tone", "", "tone of voice")
	gf.StringVar(&templatesGenerateFlags.req.CompanyType, "company-type", "", "kind of recipient company")
	gf.BoolVar(&templatesGenerateFlags.save, "save", false, "store the generated template")
	_ = templatesGenerateCmd.MarkFlagRequired("industry")
	_ = templatesGenerateCmd.MarkFlagRequired("purpose")

	templatesCmd.AddCommand(templatesListCmd)
	templatesCmd.AddCommand(templatesSeedCmd)
	templatesCmd.AddCommand(templatesGenerateCmd)
	rootCmd.AddCommand(templatesCmd)
}
