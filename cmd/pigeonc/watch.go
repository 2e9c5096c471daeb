package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pigeonpost/go-pigeon/client"
	"github.com/pigeonpost/go-pigeon/mail"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"inbox"},
	Short:   "stay connected and print mail as it arrives",
	Run:     watch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

type printer struct {
	gone chan struct{}
}

func (p *printer) OnMailReceived(env *mail.Envelope) {
	fmt.Printf("--- message from %s ---\n%s\n", env.SMTPFrom, env.Body)
}

func (p *printer) OnDisconnect() {
	close(p.gone)
}

func watch(cmd *cobra.Command, args []string) {
	p := &printer{gone: make(chan struct{})}
	c, err := client.Dial(serverAddr, username, password, p, mainlog)
	if err != nil {
		mainlog.WithError(err).Fatalf("Could not connect to %s", serverAddr)
	}
	mainlog.Infof("connected to %s as %s, waiting for mail", serverAddr, username)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigs:
		c.Quit()
	case <-p.gone:
		mainlog.Info("server closed the connection")
	}
}

func hostPart(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
