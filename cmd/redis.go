package cmd

import "github.com/spf13/cobra"

// redisCmd groups Redis-related subcommands.
var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis utilities (cache tier, refresh cooldown, podcast jobs)",
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
