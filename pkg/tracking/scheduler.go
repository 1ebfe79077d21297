package tracking

// ShouldRunDetector returns true if the detector must run on the given frame.
// frameIndex is zero-based, so the first frame of a session always runs the detector.
// An interval below 1 is treated as 1.
func ShouldRunDetector(frameIndex int64, interval int) bool {
	if interval <= 1 {
		return true
	}
	return frameIndex%int64(interval) == 0
}

// Scheduler is the detector cadence policy of one session
type Scheduler struct {
	interval int
}

func NewScheduler(cfg Config) Scheduler {
	return Scheduler{
		interval: cfg.DetectorInterval,
	}
}

func (s Scheduler) Interval() int {
	return s.interval
}

func (s Scheduler) ShouldRunDetector(frameIndex int64) bool {
	return ShouldRunDetector(frameIndex, s.interval)
}
