package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/livetrack/pkg/dbh"
	"github.com/cyclopcam/livetrack/server"
	"github.com/cyclopcam/livetrack/server/config"
	"github.com/cyclopcam/livetrack/server/detlog"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("livetrack", "Live object detection and tracking over websockets")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file (defaults are used if omitted)", Default: ""})
	listen := parser.String("l", "listen", &argparse.Options{Help: "HTTP listen address, eg :8000 (overrides config)", Default: ""})
	detectorURL := parser.String("", "detector", &argparse.Options{Help: "URL of the remote inference service (overrides config)", Default: ""})
	labelsFile := parser.String("", "labels", &argparse.Options{Help: "Replay detections from this label file instead of calling a detector", Default: ""})
	interval := parser.Int("i", "interval", &argparse.Options{Help: "Run the detector on every Nth frame (overrides config)", Default: 0})
	dbFile := parser.String("", "db", &argparse.Options{Help: "Sqlite detection log file (overrides config)", Default: ""})
	noLog := parser.Flag("", "nolog", &argparse.Options{Help: "Disable the detection log", Default: false})
	wipeDB := parser.Flag("", "wipedb", &argparse.Options{Help: "Erase the detection log at startup", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *detectorURL != "" {
		cfg.Detector.Kind = config.DetectorKindRemote
		cfg.Detector.URL = *detectorURL
	}
	if *labelsFile != "" {
		cfg.Detector.Kind = config.DetectorKindLabels
		cfg.Detector.LabelsFile = *labelsFile
	}
	if *interval != 0 {
		cfg.DetectorInterval = *interval
	}
	if *dbFile != "" {
		cfg.DB = dbh.MakeSqliteConfig(*dbFile)
	}
	// Command line overrides must obey the same rules as the config file
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	detector, detectorDesc, err := server.NewDetector(logger, cfg)
	if err != nil {
		logger.Errorf("Failed to create detector: %v", err)
		os.Exit(1)
	}

	var detLog *detlog.DetectionLog
	if !*noLog {
		flags := dbh.DBConnectFlags(0)
		if *wipeDB {
			flags |= dbh.DBConnectFlagWipeDB
		}
		detLog, err = detlog.Open(logger, cfg.DB, flags)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}

	srv := server.NewServer(logger, cfg, detector, detectorDesc, detLog)
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.Listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		logger.Close()
		os.Exit(1)
	}
	// ListenHTTP returns as soon as the listener closes, so wait for the rest of the shutdown
	srv.WaitForShutdown()
	logger.Close()
}
