package tracking

import (
	"fmt"
	"math"
)

const DefaultDetectorInterval = 5
const DefaultBufferSize = 30
const DefaultMatchIoUThreshold = 0.3
const DefaultTrailLength = 16

// Config holds the tracking parameters of a session.
// It is captured by value when a TrackManager or Scheduler is created, and
// never changes after that.
type Config struct {
	DetectorInterval  int     `json:"detectorInterval"`  // Run the detector on every Nth frame (N >= 1)
	BufferSize        int     `json:"trackBufferSize"`   // Maximum age of a track before it is evicted (0 = evicted after one missed detection)
	MatchIoUThreshold float32 `json:"matchIoUThreshold"` // Minimum IoU for a detection to be associated with a track (0..1)
	TrailLength       int     `json:"trackTrailLength"`  // Number of recent box centers kept per track, for rendering (0 = no trails)
}

func DefaultConfig() Config {
	return Config{
		DetectorInterval:  DefaultDetectorInterval,
		BufferSize:        DefaultBufferSize,
		MatchIoUThreshold: DefaultMatchIoUThreshold,
		TrailLength:       DefaultTrailLength,
	}
}

// Validate rejects configurations that would break the tracker's invariants.
// We reject rather than clamp, so that a bad config file is noticed at startup.
func (c *Config) Validate() error {
	if c.DetectorInterval < 1 {
		return fmt.Errorf("detectorInterval must be at least 1 (got %v)", c.DetectorInterval)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("trackBufferSize may not be negative (got %v)", c.BufferSize)
	}
	if math.IsNaN(float64(c.MatchIoUThreshold)) || c.MatchIoUThreshold < 0 || c.MatchIoUThreshold > 1 {
		return fmt.Errorf("matchIoUThreshold must be between 0 and 1 (got %v)", c.MatchIoUThreshold)
	}
	if c.TrailLength < 0 {
		return fmt.Errorf("trackTrailLength may not be negative (got %v)", c.TrailLength)
	}
	return nil
}
