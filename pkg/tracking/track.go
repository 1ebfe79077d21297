package tracking

import (
	"math/bits"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/livetrack/pkg/nn"
)

// Track is a snapshot of one tracked object.
// Tracks returned by TrackManager are copies, so callers may keep them.
type Track struct {
	ID         int64      `json:"id"`              // Unique within a TrackManager, and never reused until Reset
	Class      string     `json:"class"`           // Class of the most recent matched detection
	Confidence float32    `json:"confidence"`      // Confidence of the most recent matched detection
	Box        nn.Rect    `json:"box"`             // Box of the most recent matched detection
	Age        int        `json:"age"`             // Cycles since the track was last matched (0 = matched this cycle)
	Trail      []nn.Point `json:"trail,omitempty"` // Centers of recent matched boxes, oldest first
}

// Internal state of a track
type liveTrack struct {
	Track
	trail       *ringbuffer.RingP[nn.Point] // nil when trails are disabled
	trailLength int
}

func newLiveTrack(id int64, det *nn.Detection, trailLength int) *liveTrack {
	t := &liveTrack{
		Track: Track{
			ID: id,
		},
	}
	if trailLength > 0 {
		// A ring of size N holds N-1 items, and N must be a power of 2 (minimum 2)
		trail := ringbuffer.NewRingP[nn.Point](nextPowerOf2(trailLength + 1))
		t.trail = &trail
		t.trailLength = trailLength
	}
	t.refresh(det)
	return t
}

// Apply a matched detection to the track
func (t *liveTrack) refresh(det *nn.Detection) {
	t.Class = det.Class
	t.Confidence = det.Confidence
	t.Box = det.Box
	t.Age = 0
	if t.trail != nil {
		t.trail.Add(det.Box.Center())
	}
}

func (t *liveTrack) snapshot() Track {
	s := t.Track
	if t.trail != nil && t.trail.Len() != 0 {
		// The ring may hold more than trailLength points, so take the newest
		n := min(t.trail.Len(), t.trailLength)
		first := t.trail.Len() - n
		s.Trail = make([]nn.Point, n)
		for i := 0; i < n; i++ {
			s.Trail[i] = t.trail.Peek(first + i)
		}
	}
	return s
}

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
