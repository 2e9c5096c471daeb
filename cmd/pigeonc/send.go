package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pigeonpost/go-pigeon/client"
	"github.com/pigeonpost/go-pigeon/mail"
)

var (
	sendTo      []string
	sendCc      []string
	sendSubject string
	sendEncrypt bool

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "send a message, body read from stdin",
		Run:   send,
	}
)

func init() {
	sendCmd.Flags().StringSliceVarP(&sendTo, "to", "t", nil, "recipient addresses")
	sendCmd.Flags().StringSliceVar(&sendCc, "cc", nil, "carbon copy addresses")
	sendCmd.Flags().StringVarP(&sendSubject, "subject", "j", "", "subject line")
	sendCmd.Flags().BoolVarP(&sendEncrypt, "encrypt", "e", false,
		"substitute the body on the wire")
	rootCmd.AddCommand(sendCmd)
}

func send(cmd *cobra.Command, args []string) {
	if len(sendTo) == 0 {
		mainlog.Fatal("at least one --to recipient is required")
	}
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		mainlog.WithError(err).Fatal("Could not read the body from stdin")
	}

	c, err := client.Dial(serverAddr, username, password, nil, mainlog)
	if err != nil {
		mainlog.WithError(err).Fatalf("Could not connect to %s", serverAddr)
	}
	defer c.Quit()

	from := username + "@" + hostPart(serverAddr)
	msg := mail.NewMessage(sendTo, from, sendSubject, string(body))
	msg.Cc = sendCc
	msg.Encrypted = sendEncrypt

	if err := c.Send(msg); err != nil {
		mainlog.WithError(err).Fatal("Send failed")
	}
	mainlog.Infof("sent to %d recipients", len(sendTo)+len(sendCc))
}
