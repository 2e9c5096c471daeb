package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	pigeon "github.com/pigeonpost/go-pigeon"
	"github.com/pigeonpost/go-pigeon/log"
)

const defaultPidFile = "/var/run/pigeond.pid"

var (
	configPath string
	pidFile    string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "start the daemon",
		Run:   serve,
	}

	signalChannel = make(chan os.Signal, 1) // for trapping SIGHUP and friends
	mainlog       log.Logger

	d *pigeon.Daemon
)

func init() {
	// log to stderr on startup
	var err error
	mainlog, err = log.GetLogger(log.OutputStderr.String(), log.InfoLevel.String())
	if err != nil {
		mainlog.WithError(err).Errorf("Failed creating a logger to %s", log.OutputStderr)
	}
	serveCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"pigeond.conf.json", "Path to the configuration file")
	// intentionally no default pidFile; value from config is used if flag is empty
	serveCmd.PersistentFlags().StringVarP(&pidFile, "pidFile", "p",
		"", "Path to the pid file")
	rootCmd.AddCommand(serveCmd)
}

func sigHandler() {
	signal.Notify(signalChannel,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGINT,
		syscall.SIGUSR1,
	)
	for sig := range signalChannel {
		if sig == syscall.SIGHUP {
			if ac, err := readConfig(configPath, pidFile); err == nil {
				if err := d.ReloadConfig(ac); err != nil {
					mainlog.WithError(err).Error("Could not apply config")
				}
			} else {
				mainlog.WithError(err).Error("Could not reload config")
			}
		} else if sig == syscall.SIGUSR1 {
			d.ReloadLogs()
		} else if sig == syscall.SIGTERM || sig == syscall.SIGQUIT || sig == syscall.SIGINT {
			mainlog.Infof("Shutdown signal caught")
			go func() {
				// exit if graceful shutdown not finished in 60 sec.
				<-time.After(time.Second * 60)
				mainlog.Error("graceful shutdown timed out")
				os.Exit(1)
			}()
			d.Shutdown()
			mainlog.Infof("Shutdown completed, exiting.")
			return
		} else {
			mainlog.Infof("Shutdown, unknown signal caught")
			return
		}
	}
}

func serve(cmd *cobra.Command, args []string) {
	logVersion()
	ac, err := readConfig(configPath, pidFile)
	if err != nil {
		mainlog.WithError(err).Fatal("Error while reading config")
	}

	d, err = pigeon.New(ac, nil)
	if err != nil {
		mainlog.WithError(err).Fatal("Error while setting up the daemon")
	}
	if err := d.Start(); err != nil {
		mainlog.WithError(err).Error("Error(s) when starting the server")
		os.Exit(1)
	}
	if err := writePid(ac.PidFile); err != nil {
		mainlog.WithError(err).Fatalf("Could not write pid file %s", ac.PidFile)
	}
	sigHandler()
}

// readConfig is called at startup, or when a SIGHUP is caught.
// Command line flags override config values.
func readConfig(path string, pidFile string) (*pigeon.AppConfig, error) {
	appConfig, err := pigeon.ReadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %s", err)
	}
	if len(pidFile) > 0 {
		appConfig.PidFile = pidFile
	} else if len(appConfig.PidFile) == 0 {
		appConfig.PidFile = defaultPidFile
	}
	if verbose {
		appConfig.LogLevel = "debug"
	}
	return appConfig, nil
}

func writePid(path string) error {
	if path == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return err
	}
	mainlog.Infof("pid_file (%s) written with pid:%v", path, pid)
	return nil
}
