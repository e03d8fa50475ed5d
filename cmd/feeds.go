package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"newsdesk/internal/feeds"
	"newsdesk/internal/newsletter"

	"github.com/spf13/cobra"
)

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Inspect the feed registry",
}

var feedsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered feeds",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		reg, err := feeds.Load(cfg.Feeds.RegistryFile)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CATEGORY\tSOURCE\tURL")
		for _, f := range reg.All() {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Category, f.Source, f.URL)
		}
		return tw.Flush()
	},
}

var feedsCheckCmd = &cobra.Command{
	Use:   "check [categories...]",
	Short: "Fetch feeds once and report per-source health",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		a, err := buildApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		cats := a.registry.Categories()
		if len(args) > 0 {
			if cats, err = newsletter.NormalizeCategories(args, a.registry.Categories()); err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		res := a.fetcher.Fetch(ctx, a.registry.ForCategories(cats), cfg.Feeds.IntradayHours)

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CATEGORY\tSOURCE\tSTATUS\tARTICLES\tERROR")
		failed := 0
		for _, c := range cats {
			for _, st := range res.Stats[c] {
				if !st.Active() {
					failed++
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", c, st.Name, st.Status, st.ArticleCount, st.Error)
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d feed(s) failed", failed)
		}
		return nil
	},
}

func init() {
	feedsCmd.AddCommand(feedsListCmd, feedsCheckCmd)
	rootCmd.AddCommand(feedsCmd)
}
