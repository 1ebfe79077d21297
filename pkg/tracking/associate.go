package tracking

import (
	"cmp"
	"slices"

	"github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/livetrack/pkg/nn"
)

// Match pairs detections[Detection] with tracks[Track]
type Match struct {
	Detection int
	Track     int
	IOU       float32
}

// Associate matches detections to tracks.
//
// Only pairs of the same class with IoU >= threshold are eligible. Eligible
// pairs are consumed greedily from the highest IoU down, skipping detections
// and tracks that have already been claimed. Equal IoUs are broken by the
// lower track ID, and then by the lower detection index, so the result is
// fully deterministic.
//
// unmatchedDetections and unmatchedTracks are indices into the input slices,
// in ascending order.
func Associate(detections []nn.Detection, tracks []Track, threshold float32) (matches []Match, unmatchedDetections []int, unmatchedTracks []int) {
	candidates := candidatePairs(detections, tracks, threshold)

	slices.SortFunc(candidates, func(a, b Match) int {
		if a.IOU != b.IOU {
			// descending
			return cmp.Compare(b.IOU, a.IOU)
		}
		if c := cmp.Compare(tracks[a.Track].ID, tracks[b.Track].ID); c != 0 {
			return c
		}
		return cmp.Compare(a.Detection, b.Detection)
	})

	detectionClaimed := make([]bool, len(detections))
	trackClaimed := make([]bool, len(tracks))
	for _, c := range candidates {
		if detectionClaimed[c.Detection] || trackClaimed[c.Track] {
			continue
		}
		detectionClaimed[c.Detection] = true
		trackClaimed[c.Track] = true
		matches = append(matches, c)
	}

	for i, claimed := range detectionClaimed {
		if !claimed {
			unmatchedDetections = append(unmatchedDetections, i)
		}
	}
	for j, claimed := range trackClaimed {
		if !claimed {
			unmatchedTracks = append(unmatchedTracks, j)
		}
	}
	return
}

// Find all eligible (detection, track) pairs.
func candidatePairs(detections []nn.Detection, tracks []Track, threshold float32) []Match {
	if len(detections) == 0 || len(tracks) == 0 {
		return nil
	}

	pairs := []Match{}
	consider := func(i, j int) {
		det := &detections[i]
		trk := &tracks[j]
		if det.Class != trk.Class {
			return
		}
		iou := det.Box.IOU(trk.Box)
		if iou >= threshold {
			pairs = append(pairs, Match{Detection: i, Track: j, IOU: iou})
		}
	}

	if threshold <= 0 {
		// Every same-class pair is eligible, including pairs that don't overlap at all.
		// This is O(n*m), but n and m are small.
		for i := range detections {
			for j := range tracks {
				consider(i, j)
			}
		}
		return pairs
	}

	// With a positive threshold, a pair must overlap, so we use a spatial index
	// on the track boxes to avoid O(n*m) comparisons.
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(tracks))
	for _, t := range tracks {
		fb.Add(int32(t.Box.X), int32(t.Box.Y), int32(t.Box.X2()), int32(t.Box.Y2()))
	}
	fb.Finish()

	nearby := []int{}
	for i := range detections {
		box := detections[i].Box
		nearby = fb.SearchFast(int32(box.X), int32(box.Y), int32(box.X2()), int32(box.Y2()), nearby[:0])
		for _, j := range nearby {
			consider(i, j)
		}
	}
	return pairs
}
