package nn

import (
	"context"

	"github.com/bmharper/cimg/v2"
)

// limitedDetector allows at most N concurrent calls into the wrapped detector.
// Callers that are waiting for a slot give up when their context is done.
type limitedDetector struct {
	inner ObjectDetector
	slots chan struct{}
}

// LimitConcurrency wraps a detector so that at most maxConcurrent calls
// to DetectObjects run at the same time. With maxConcurrent = 1, access is serialized.
// If maxConcurrent is less than 1, the detector is returned unchanged.
func LimitConcurrency(detector ObjectDetector, maxConcurrent int) ObjectDetector {
	if maxConcurrent < 1 {
		return detector
	}
	return &limitedDetector{
		inner: detector,
		slots: make(chan struct{}, maxConcurrent),
	}
}

func (d *limitedDetector) Close() {
	d.inner.Close()
}

func (d *limitedDetector) Config() *ModelConfig {
	return d.inner.Config()
}

func (d *limitedDetector) DetectObjects(ctx context.Context, img *cimg.Image) ([]Detection, error) {
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.slots }()
	return d.inner.DetectObjects(ctx, img)
}
