package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cyclopcam/livetrack/pkg/dbh"
	"github.com/cyclopcam/livetrack/pkg/framecodec"
	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/pkg/tracking"
	"github.com/cyclopcam/livetrack/server/session"
)

const (
	DetectorKindRemote = "remote" // HTTP inference service
	DetectorKindLabels = "labels" // Replay a label file
)

type Detector struct {
	Kind                 string  `json:"kind"`                 // "remote" or "labels"
	URL                  string  `json:"url"`                  // Inference endpoint, when Kind is "remote"
	LabelsFile           string  `json:"labelsFile"`           // JSON label file, when Kind is "labels"
	ProbabilityThreshold float32 `json:"probabilityThreshold"` // Minimum detection confidence
	NmsIouThreshold      float32 `json:"nmsIouThreshold"`      // IoU threshold for non-maximum suppression
	ClassesFile          string  `json:"classesFile"`          // Optional text file with one class name per line, for a remote detector

	MinConfidence float32           `json:"minConfidence"` // Drop detections below this confidence, before tracking
	Classes       []string          `json:"classes"`       // If not empty, only these classes are tracked
	MergeClasses  map[string]string `json:"mergeClasses"`  // eg {"truck": "car"} merges a truck that overlaps a car into the car
	MergeIoU      float32           `json:"mergeIoU"`      // Minimum IoU for mergeClasses (zero = default)
}

type Config struct {
	Listen string `json:"listen"` // HTTP listen address, eg ":8000"
	tracking.Config
	DetectorTimeoutMS   int          `json:"detectorTimeoutMS"`   // Maximum time for one detector call
	DetectorConcurrency int          `json:"detectorConcurrency"` // Maximum simultaneous detector calls, across all sessions
	Detector            Detector     `json:"detector"`            // Which detector to use
	JPEGQuality         int          `json:"jpegQuality"`         // Quality of annotated frames, 1..100
	DB                  dbh.DBConfig `json:"db"`                  // Detection log database
	DetectRateLimit     int          `json:"detectRateLimit"`     // Requests per minute per IP on /detect
}

func Default() *Config {
	return &Config{
		Listen:              ":8000",
		Config:              tracking.DefaultConfig(),
		DetectorTimeoutMS:   int(session.DefaultDetectorTimeout / time.Millisecond),
		DetectorConcurrency: 1,
		Detector: Detector{
			Kind:                 DetectorKindRemote,
			URL:                  "http://localhost:8080/detect",
			ProbabilityThreshold: nn.DefaultProbabilityThreshold,
			NmsIouThreshold:      nn.DefaultNmsIouThreshold,
		},
		JPEGQuality:     framecodec.DefaultQuality,
		DB:              dbh.MakeSqliteConfig("livetrack.sqlite"),
		DetectRateLimit: 60,
	}
}

// Load reads a JSON config file. Fields that are missing from the file keep
// their default values. If filename is empty, the defaults are returned.
// The result is validated.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Invalid config: %w", err)
	}
	return cfg, nil
}

// Validate rejects invalid values. Nothing is clamped.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen may not be empty")
	}
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.DetectorTimeoutMS <= 0 {
		return fmt.Errorf("detectorTimeoutMS must be positive (got %v)", c.DetectorTimeoutMS)
	}
	if c.DetectorConcurrency < 1 {
		return fmt.Errorf("detectorConcurrency must be at least 1 (got %v)", c.DetectorConcurrency)
	}
	switch c.Detector.Kind {
	case DetectorKindRemote:
		if c.Detector.URL == "" {
			return errors.New("detector.url is required for a remote detector")
		}
	case DetectorKindLabels:
		if c.Detector.LabelsFile == "" {
			return errors.New("detector.labelsFile is required for a labels detector")
		}
	default:
		return fmt.Errorf("Unknown detector kind '%v' (must be %v or %v)", c.Detector.Kind, DetectorKindRemote, DetectorKindLabels)
	}
	if c.Detector.ProbabilityThreshold < 0 || c.Detector.ProbabilityThreshold > 1 {
		return fmt.Errorf("detector.probabilityThreshold must be between 0 and 1 (got %v)", c.Detector.ProbabilityThreshold)
	}
	if c.Detector.NmsIouThreshold < 0 || c.Detector.NmsIouThreshold > 1 {
		return fmt.Errorf("detector.nmsIouThreshold must be between 0 and 1 (got %v)", c.Detector.NmsIouThreshold)
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 {
		return fmt.Errorf("detector.minConfidence must be between 0 and 1 (got %v)", c.Detector.MinConfidence)
	}
	if c.Detector.MergeIoU < 0 || c.Detector.MergeIoU > 1 {
		return fmt.Errorf("detector.mergeIoU must be between 0 and 1 (got %v)", c.Detector.MergeIoU)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpegQuality must be between 1 and 100 (got %v)", c.JPEGQuality)
	}
	if err := c.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	if c.DetectRateLimit < 1 {
		return fmt.Errorf("detectRateLimit must be at least 1 (got %v)", c.DetectRateLimit)
	}
	return nil
}

// SessionConfig returns the configuration that every new session captures
func (c *Config) SessionConfig(sendAnnotations bool) session.Config {
	return session.Config{
		Tracking:        c.Config,
		DetectorTimeout: time.Duration(c.DetectorTimeoutMS) * time.Millisecond,
		SendAnnotations: sendAnnotations,
	}
}

func (c *Config) DetectionParams() *nn.DetectionParams {
	return &nn.DetectionParams{
		ProbabilityThreshold: c.Detector.ProbabilityThreshold,
		NmsIouThreshold:      c.Detector.NmsIouThreshold,
	}
}

func (c *Config) FilterParams() nn.FilterParams {
	return nn.FilterParams{
		MinConfidence: c.Detector.MinConfidence,
		Classes:       c.Detector.Classes,
		MergeClasses:  c.Detector.MergeClasses,
		MergeIoU:      c.Detector.MergeIoU,
	}
}
