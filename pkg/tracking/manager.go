package tracking

import (
	"github.com/cyclopcam/livetrack/pkg/nn"
)

// TrackManager owns the set of live tracks of a single session.
//
// Tracks are only mutated through Update (on cycles where the detector ran)
// and AgeAndFetch (on all other cycles). After either call, every live track
// has Age <= BufferSize, IDs are unique, and tracks are ordered by ascending ID.
//
// A TrackManager is not safe for concurrent use. Each session owns its own.
type TrackManager struct {
	cfg    Config
	tracks []*liveTrack // Always sorted by ID, because new tracks get the highest ID so far
	lastID int64
}

// NewTrackManager creates a TrackManager. cfg must already be valid (see Config.Validate).
func NewTrackManager(cfg Config) *TrackManager {
	return &TrackManager{
		cfg: cfg,
	}
}

func (m *TrackManager) Config() Config {
	return m.cfg
}

// Len returns the number of live tracks
func (m *TrackManager) Len() int {
	return len(m.tracks)
}

// Update applies the detections of one frame.
// Matched tracks are refreshed, unmatched detections become new tracks,
// unmatched tracks are aged, and stale tracks are evicted.
// Returns a snapshot of the live tracks.
func (m *TrackManager) Update(detections []nn.Detection) []Track {
	view := make([]Track, len(m.tracks))
	for i, t := range m.tracks {
		view[i] = t.Track
	}

	matches, unmatchedDetections, unmatchedTracks := Associate(detections, view, m.cfg.MatchIoUThreshold)

	for _, match := range matches {
		m.tracks[match.Track].refresh(&detections[match.Detection])
	}
	for _, j := range unmatchedTracks {
		m.tracks[j].Age++
	}
	for _, i := range unmatchedDetections {
		m.lastID++
		m.tracks = append(m.tracks, newLiveTrack(m.lastID, &detections[i], m.cfg.TrailLength))
	}

	m.evict()
	return m.snapshot()
}

// AgeAndFetch is called on cycles where the detector did not run (or failed).
// Every track is aged, stale tracks are evicted, and no tracks are created.
// Returns a snapshot of the live tracks.
func (m *TrackManager) AgeAndFetch() []Track {
	for _, t := range m.tracks {
		t.Age++
	}
	m.evict()
	return m.snapshot()
}

// Reset removes all tracks, and restarts ID allocation.
// Only call this at the start or end of a session.
func (m *TrackManager) Reset() {
	m.tracks = nil
	m.lastID = 0
}

// Remove tracks whose age exceeds the buffer size, preserving order
func (m *TrackManager) evict() {
	remaining := m.tracks[:0]
	for _, t := range m.tracks {
		if t.Age <= m.cfg.BufferSize {
			remaining = append(remaining, t)
		}
	}
	// Don't hold on to evicted tracks in the tail of the backing array
	for i := len(remaining); i < len(m.tracks); i++ {
		m.tracks[i] = nil
	}
	m.tracks = remaining
}

func (m *TrackManager) snapshot() []Track {
	result := make([]Track, 0, len(m.tracks)) // non-nil, so that we always get an array in our JSON output
	for _, t := range m.tracks {
		result = append(result, t.snapshot())
	}
	return result
}
