package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"newsdesk/internal/markdown"
	"newsdesk/internal/newsletter"
	"newsdesk/internal/pipeline"

	"github.com/spf13/cobra"
)

var (
	genForce    bool
	genMarkdown bool
)

// generateCmd builds (or loads from cache) the newsletter for categories.
var generateCmd = &cobra.Command{
	Use:   "generate [categories...]",
	Short: "Generate the newsletter for categories (default categories when none given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		cats := args
		if len(cats) == 0 {
			cats = cfg.DefaultCategories
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		res, err := a.pipeline.Newsletter(ctx, cats, pipeline.Options{Force: genForce})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "newsletter %s for %v: %s\n", res.Newsletter.ID, res.Newsletter.Categories, describeSource(res.Source))
		if len(res.Newsletter.Degraded) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "degraded categories: %v\n", res.Newsletter.Degraded)
		}

		if !genMarkdown {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res.Newsletter)
		}

		now := time.Now().In(a.Location())
		n := res.Newsletter
		data := newsletter.BuildData(n, cfg.Newsletter.Title, cfg.Newsletter.Preface, cfg.Newsletter.Postscript, now)
		if err := os.MkdirAll(cfg.Newsletter.OutputDir, 0o755); err != nil {
			return err
		}
		name := fmt.Sprintf("%s_%s.md", now.Format("20060102"), newsletter.CategoryKey(n.Categories))
		out := filepath.Join(cfg.Newsletter.OutputDir, name)
		if prev, err := markdown.ParseFile(out); err == nil && prev.Meta.ID == n.ID {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s is up to date\n", out)
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		}
		body, err := newsletter.Render(data)
		if err != nil {
			return fmt.Errorf("render newsletter: %w", err)
		}
		doc := markdown.Document{
			Meta: markdown.Frontmatter{
				ID:          n.ID,
				Title:       data.Title,
				Categories:  n.Categories,
				GeneratedAt: n.GeneratedAt,
				Degraded:    n.Degraded,
			},
			Body: body,
		}
		if err := markdown.WriteFile(out, doc); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	generateCmd.Flags().BoolVar(&genForce, "force", false, "skip the cache and regenerate")
	generateCmd.Flags().BoolVar(&genMarkdown, "markdown", false, "write a markdown digest to newsletter.output_dir instead of printing JSON")
	rootCmd.AddCommand(generateCmd)
}
