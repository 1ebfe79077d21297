package nn

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/bmharper/cimg/v2"
)

// VideoLabels contains labels for each video frame
type VideoLabels struct {
	Classes []string       `json:"classes"`
	Frames  []*ImageLabels `json:"frames"`
}

type ImageLabels struct {
	Frame   int             `json:"frame,omitempty"` // For video, this is the frame number
	Objects []WireDetection `json:"objects"`
}

// Load a VideoLabels JSON file
func LoadVideoLabels(filename string) (*VideoLabels, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	labels := &VideoLabels{}
	if err := json.Unmarshal(b, labels); err != nil {
		return nil, fmt.Errorf("Error decoding labels %v: %w", filename, err)
	}
	return labels, nil
}

// LabelReplayDetector is an ObjectDetector that replays pre-recorded labels.
// Each call to DetectObjects returns the objects of the next labelled frame,
// wrapping around at the end. This lets the whole pipeline run without a model,
// eg for demos and tests.
type LabelReplayDetector struct {
	labels *VideoLabels
	config ModelConfig

	lock sync.Mutex
	next int
}

func NewLabelReplayDetector(labels *VideoLabels) *LabelReplayDetector {
	return &LabelReplayDetector{
		labels: labels,
		config: ModelConfig{
			Architecture: "labels",
			Classes:      labels.Classes,
		},
	}
}

func (d *LabelReplayDetector) Close() {
}

func (d *LabelReplayDetector) Config() *ModelConfig {
	return &d.config
}

func (d *LabelReplayDetector) DetectObjects(ctx context.Context, img *cimg.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if len(d.labels.Frames) == 0 {
		return []Detection{}, nil
	}
	frame := d.labels.Frames[d.next%len(d.labels.Frames)]
	d.next++
	return FromWire(frame.Objects)
}
