package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"

	"github.com/temoto/meshview/config"
	"github.com/temoto/meshview/log2"
	"github.com/temoto/meshview/server"
)

func main() {
	flagConfig := flag.String("config", "meshview.hcl", "")
	flagListen := flag.String("listen", "", "override server.listen from config")
	flagDebug := flag.Bool("debug", false, "")
	flag.Parse()

	level := log2.LInfo
	if *flagDebug {
		level = log2.LDebug
	}
	logger := log2.NewStderr(level)
	if sdnotify("start") {
		// under systemd, journal already timestamps
		logger.SetFlags(log2.LServiceFlags)
	} else {
		logger.SetFlags(log2.LInteractiveFlags)
	}

	cfg := config.MustReadConfig(logger, config.NewOsFullReader(), *flagConfig)
	if *flagListen != "" {
		cfg.Server.ListenAddr = *flagListen
	}

	s, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal(errors.ErrorStack(err))
	}
	sdnotify(daemon.SdNotifyReady)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		logger.Infof("signal=%s shutting down", sig)
		s.Shutdown()
	}()

	if cfg.Server.ListenAddr != "" {
		err = s.Serve(cfg.Server.ListenAddr)
	} else {
		logger.Infof("no server.listen configured, running headless")
		<-s.StopChan()
	}
	sdnotify(daemon.SdNotifyStopping)
	s.Close()
	if err != nil {
		logger.Fatal(errors.ErrorStack(err))
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
