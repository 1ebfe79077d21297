package server

import (
	"fmt"

	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/server/config"
	"github.com/cyclopcam/logs"
)

// NewDetector creates the detector described by cfg, wrapped in the configured
// post-filter and concurrency limit.
// Returns the detector, and a human readable description of it.
func NewDetector(log logs.Log, cfg *config.Config) (nn.ObjectDetector, string, error) {
	var detector nn.ObjectDetector
	var desc string
	switch cfg.Detector.Kind {
	case config.DetectorKindRemote:
		remote, err := nn.NewRemoteDetector(cfg.Detector.URL, cfg.DetectionParams(), cfg.JPEGQuality)
		if err != nil {
			return nil, "", err
		}
		if cfg.Detector.ClassesFile != "" {
			classes, err := nn.LoadClassFile(cfg.Detector.ClassesFile)
			if err != nil {
				return nil, "", fmt.Errorf("Failed to load classes file %v: %w", cfg.Detector.ClassesFile, err)
			}
			remote.SetClasses(classes)
		}
		detector = remote
		desc = "remote " + remote.URL()
	case config.DetectorKindLabels:
		labels, err := nn.LoadVideoLabels(cfg.Detector.LabelsFile)
		if err != nil {
			return nil, "", err
		}
		detector = nn.NewLabelReplayDetector(labels)
		desc = fmt.Sprintf("labels %v (%v frames)", cfg.Detector.LabelsFile, len(labels.Frames))
	default:
		return nil, "", fmt.Errorf("Unknown detector kind '%v'", cfg.Detector.Kind)
	}

	if fp := cfg.FilterParams(); !fp.IsEmpty() {
		log.Infof("Filtering detections (minConfidence %v, classes %v, merge %v)", fp.MinConfidence, fp.Classes, fp.MergeClasses)
		detector = nn.Filter(detector, fp)
	}
	detector = nn.LimitConcurrency(detector, cfg.DetectorConcurrency)
	log.Infof("Detector: %v, concurrency %v", desc, cfg.DetectorConcurrency)
	return detector, desc, nil
}
