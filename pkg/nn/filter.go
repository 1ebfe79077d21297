package nn

import (
	"context"

	"github.com/bmharper/cimg/v2"
)

const DefaultMergeIoU = 0.8

// FilterParams controls which detections are passed on to the tracker
type FilterParams struct {
	MinConfidence float32           // Drop detections below this confidence
	Classes       []string          // If not empty, drop detections of any other class
	MergeClasses  map[string]string // Merge overlapping detections, eg {"truck": "car"} keeps the car
	MergeIoU      float32           // Minimum IoU for MergeClasses (zero = DefaultMergeIoU)
}

func (p *FilterParams) IsEmpty() bool {
	return p.MinConfidence <= 0 && len(p.Classes) == 0 && len(p.MergeClasses) == 0
}

type filteredDetector struct {
	inner    ObjectDetector
	params   FilterParams
	classSet map[string]bool
}

// Filter wraps a detector, and post-processes its output according to params.
// If params has nothing to do, the detector is returned unchanged.
func Filter(detector ObjectDetector, params FilterParams) ObjectDetector {
	if params.IsEmpty() {
		return detector
	}
	if params.MergeIoU <= 0 {
		params.MergeIoU = DefaultMergeIoU
	}
	f := &filteredDetector{
		inner:  detector,
		params: params,
	}
	if len(params.Classes) != 0 {
		f.classSet = map[string]bool{}
		for _, c := range params.Classes {
			f.classSet[c] = true
		}
	}
	return f
}

func (d *filteredDetector) Close() {
	d.inner.Close()
}

func (d *filteredDetector) Config() *ModelConfig {
	return d.inner.Config()
}

func (d *filteredDetector) DetectObjects(ctx context.Context, img *cimg.Image) ([]Detection, error) {
	detections, err := d.inner.DetectObjects(ctx, img)
	if err != nil {
		return nil, err
	}
	return d.apply(detections), nil
}

func (d *filteredDetector) apply(detections []Detection) []Detection {
	keep := make([]Detection, 0, len(detections))
	for _, det := range detections {
		if det.Confidence < d.params.MinConfidence {
			continue
		}
		if d.classSet != nil && !d.classSet[det.Class] {
			continue
		}
		keep = append(keep, det)
	}
	if len(d.params.MergeClasses) == 0 || len(keep) < 2 {
		return keep
	}
	retain := MergeSimilarObjects(keep, d.params.MergeClasses, d.params.MergeIoU)
	merged := make([]Detection, 0, len(retain))
	for _, i := range retain {
		merged = append(merged, keep[i])
	}
	return merged
}
