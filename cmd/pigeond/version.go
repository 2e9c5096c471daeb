package main

import (
	"github.com/spf13/cobra"

	pigeon "github.com/pigeonpost/go-pigeon"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version info",
	Run: func(cmd *cobra.Command, args []string) {
		logVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func logVersion() {
	mainlog.WithFields(map[string]interface{}{
		"version":   pigeon.Version,
		"commit":    pigeon.Commit,
		"buildTime": pigeon.BuildTime,
	}).Info("pigeond")
}
