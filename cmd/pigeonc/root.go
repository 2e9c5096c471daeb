package main

import (
	"github.com/spf13/cobra"

	"github.com/pigeonpost/go-pigeon/log"
)

var rootCmd = &cobra.Command{
	Use:   "pigeonc",
	Short: "command line mail client",
	Long: `pigeonc talks to a pigeond server: it sends mail from the command line and
can stay connected to print mail as it arrives.`,
	Run: nil,
}

var (
	serverAddr string
	username   string
	password   string
	verbose    bool

	mainlog log.Logger
)

func init() {
	var err error
	mainlog, err = log.GetLogger(log.OutputStderr.String(), log.InfoLevel.String())
	if err != nil {
		mainlog.WithError(err).Errorf("Failed creating a logger to %s", log.OutputStderr)
	}
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"127.0.0.1:25", "server address as host:port")
	rootCmd.PersistentFlags().StringVarP(&username, "user", "u", "", "username")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "P", "", "password")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"print out more debug information")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose {
			mainlog.SetLevel(log.DebugLevel.String())
		}
	}
}
