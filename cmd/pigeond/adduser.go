package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	pigeon "github.com/pigeonpost/go-pigeon"
)

var adduserPassword string

var adduserCmd = &cobra.Command{
	Use:   "adduser <username>",
	Short: "add a user to the credential file",
	Args:  cobra.ExactArgs(1),
	Run:   adduser,
}

func init() {
	adduserCmd.PersistentFlags().StringVarP(&adduserPassword, "password", "P",
		"", "Password for the new user; prompted for when omitted")
	adduserCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"pigeond.conf.json", "Path to the configuration file")
	rootCmd.AddCommand(adduserCmd)
}

func adduser(cmd *cobra.Command, args []string) {
	ac, err := pigeon.ReadConfigFile(configPath)
	if err != nil {
		mainlog.WithError(err).Fatal("Error while reading config")
	}
	password := adduserPassword
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			mainlog.WithError(err).Fatal("Could not read password")
		}
		password = strings.TrimRight(line, "\r\n")
	}

	d, err := pigeon.New(ac, nil)
	if err != nil {
		mainlog.WithError(err).Fatal("Error while setting up")
	}
	if err := d.AddUser(args[0], password); err != nil {
		mainlog.WithError(err).Fatalf("Could not add user %s", args[0])
	}
	mainlog.Infof("added user %s to %s", args[0], ac.AuthFile)
}
