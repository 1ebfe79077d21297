package tracking

import (
	"testing"

	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/stretchr/testify/require"
)

func det(class string, x1, y1, x2, y2 int) nn.Detection {
	return nn.Detection{
		Class:      class,
		Confidence: 0.9,
		Box:        nn.MakeRect(x1, y1, x2, y2),
	}
}

func trk(id int64, class string, x1, y1, x2, y2 int) Track {
	return Track{
		ID:         id,
		Class:      class,
		Confidence: 0.9,
		Box:        nn.MakeRect(x1, y1, x2, y2),
	}
}

func TestAssociateEmpty(t *testing.T) {
	m, ud, ut := Associate(nil, nil, 0.3)
	require.Empty(t, m)
	require.Empty(t, ud)
	require.Empty(t, ut)

	m, ud, ut = Associate([]nn.Detection{det("person", 0, 0, 10, 10)}, nil, 0.3)
	require.Empty(t, m)
	require.Equal(t, []int{0}, ud)
	require.Empty(t, ut)

	m, ud, ut = Associate(nil, []Track{trk(1, "person", 0, 0, 10, 10)}, 0.3)
	require.Empty(t, m)
	require.Empty(t, ud)
	require.Equal(t, []int{0}, ut)
}

func TestAssociateClassIsolation(t *testing.T) {
	// Identical boxes, different classes
	dets := []nn.Detection{det("car", 0, 0, 100, 100)}
	tracks := []Track{trk(1, "person", 0, 0, 100, 100)}
	for _, threshold := range []float32{0, 0.3, 1} {
		m, ud, ut := Associate(dets, tracks, threshold)
		require.Empty(t, m)
		require.Equal(t, []int{0}, ud)
		require.Equal(t, []int{0}, ut)
	}
}

func TestAssociateThreshold(t *testing.T) {
	tracks := []Track{trk(1, "person", 0, 0, 100, 100)}

	// IoU = 0.6
	high := det("person", 0, 0, 100, 60)
	// IoU = 0.1
	low := det("person", 0, 0, 100, 10)

	m, ud, ut := Associate([]nn.Detection{low, high}, tracks, 0.3)
	require.Len(t, m, 1)
	require.Equal(t, 1, m[0].Detection)
	require.Equal(t, 0, m[0].Track)
	require.InDelta(t, 0.6, m[0].IOU, 1e-6)
	require.Equal(t, []int{0}, ud)
	require.Empty(t, ut)

	// The low IoU detection alone is not eligible
	m, ud, ut = Associate([]nn.Detection{low}, tracks, 0.3)
	require.Empty(t, m)
	require.Equal(t, []int{0}, ud)
	require.Equal(t, []int{0}, ut)

	// IoU exactly at the threshold is eligible
	m, _, _ = Associate([]nn.Detection{low}, tracks, 0.1)
	require.Len(t, m, 1)
}

func TestAssociateZeroThresholdAllowsDisjoint(t *testing.T) {
	tracks := []Track{trk(1, "person", 0, 0, 10, 10)}
	dets := []nn.Detection{det("person", 500, 500, 510, 510)}
	m, ud, ut := Associate(dets, tracks, 0)
	require.Len(t, m, 1)
	require.Equal(t, float32(0), m[0].IOU)
	require.Empty(t, ud)
	require.Empty(t, ut)
}

func TestAssociateGreedyHighestFirst(t *testing.T) {
	// Detection 0 overlaps track A a little, and track B a lot.
	// Detection 1 overlaps track B a little, and doesn't touch A.
	// Greedy gives det0->B, which leaves det1 and A unmatched.
	tracks := []Track{
		trk(1, "car", 0, 0, 100, 100),  // A
		trk(2, "car", 50, 0, 150, 100), // B
	}
	dets := []nn.Detection{
		det("car", 45, 0, 145, 100),
		det("car", 140, 0, 240, 100),
	}
	m, ud, ut := Associate(dets, tracks, 0.01)
	require.Len(t, m, 1)
	require.Equal(t, Match{Detection: 0, Track: 1, IOU: dets[0].Box.IOU(tracks[1].Box)}, m[0])
	require.Equal(t, []int{1}, ud)
	require.Equal(t, []int{0}, ut)
}

func TestAssociateOneToOne(t *testing.T) {
	tracks := []Track{
		trk(1, "car", 0, 0, 100, 100),
		trk(2, "car", 50, 0, 150, 100),
	}
	dets := []nn.Detection{
		det("car", 45, 0, 145, 100),
		det("car", 140, 0, 240, 100),
	}
	m, ud, ut := Associate(dets, tracks, 0.01)
	usedDet := map[int]bool{}
	usedTrack := map[int]bool{}
	for _, x := range m {
		require.False(t, usedDet[x.Detection])
		require.False(t, usedTrack[x.Track])
		usedDet[x.Detection] = true
		usedTrack[x.Track] = true
	}
	require.Equal(t, len(dets), len(m)+len(ud))
	require.Equal(t, len(tracks), len(m)+len(ut))
}

func TestAssociateTieBreak(t *testing.T) {
	// Two tracks with identical boxes. The older track (lower ID) wins,
	// regardless of the order of the tracks slice.
	tracks := []Track{
		trk(7, "person", 0, 0, 10, 10),
		trk(3, "person", 0, 0, 10, 10),
	}
	dets := []nn.Detection{det("person", 0, 0, 10, 10)}
	m, ud, ut := Associate(dets, tracks, 0.3)
	require.Len(t, m, 1)
	require.Equal(t, 1, m[0].Track)
	require.Empty(t, ud)
	require.Equal(t, []int{0}, ut)

	// Two identical detections against one track: the first detection wins
	tracks = []Track{trk(1, "person", 0, 0, 10, 10)}
	dets = []nn.Detection{det("person", 0, 0, 10, 10), det("person", 0, 0, 10, 10)}
	m, ud, _ = Associate(dets, tracks, 0.3)
	require.Len(t, m, 1)
	require.Equal(t, 0, m[0].Detection)
	require.Equal(t, []int{1}, ud)
}
