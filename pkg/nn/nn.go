// Package nn is the object detection interface layer.
// The detector itself lives outside this process (or behind a label file).
// Everything here is the contract that the tracker and the server consume.
package nn

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/bmharper/cimg/v2"
)

const DefaultProbabilityThreshold = 0.7
const DefaultNmsIouThreshold = 0.45

// Detection is an object that a neural network has found in one image
type Detection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
	NmsIouThreshold      float32 // Value between 0 and 1. Lower values will merge more objects together into one. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
		NmsIouThreshold:      DefaultNmsIouThreshold,
	}
}

// ObjectDetector is given an image, and returns zero or more detected objects.
//
// A detector may be slow, and may run on specialized hardware. It returns an empty
// list when nothing was found, and an error only when the model itself failed.
// Whether concurrent calls are safe is up to the implementation. Wrap it with
// LimitConcurrency if it is not.
type ObjectDetector interface {
	// Close releases the detector's resources
	Close()

	// DetectObjects returns a list of objects detected in the image.
	// img is expected to be a 24-bit RGB image.
	// Implementations should give up when ctx is done.
	DetectObjects(ctx context.Context, img *cimg.Image) ([]Detection, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the detector has been created.
	Config() *ModelConfig
}

// ModelConfig describes the model behind a detector
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolov8"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["person", "bicycle", "car", ...]
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
