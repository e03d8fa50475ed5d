package cmd

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clean the newsletter and audio caches",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached newsletter files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(GetConfig())
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.newsletters.Files()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "FILE\tCATEGORIES\tCREATED\tSTATE")
		for _, f := range files {
			state := "fresh"
			switch {
			case f.Corrupt:
				state = "corrupt"
			case f.Expired:
				state = "expired"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", filepath.Base(f.Path), strings.Join(f.Categories, ","), f.CreatedAt.Format("2006-01-02 15:04:05"), state)
		}
		return tw.Flush()
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired and corrupt cache files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(GetConfig())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.newsletters.Cleanup()
		if err != nil {
			return err
		}
		m, err := a.audio.Cleanup()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d newsletter and %d audio files\n", n, m)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheListCmd, cacheCleanupCmd)
	rootCmd.AddCommand(cacheCmd)
}
