package nn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livetrack/pkg/requests"
)

// RemoteDetector sends each image as a JPEG to an inference service, and
// reads back a JSON array of WireDetection.
//
// The service is expected to accept
//
//	POST <url>?conf=<probability threshold>&iou=<nms threshold>
//	Content-Type: image/jpeg
//
// which is the same contract as our own /detect endpoint, so one livetrack
// server can act as the detector for another.
type RemoteDetector struct {
	url         string
	params      DetectionParams
	jpegQuality int
	config      ModelConfig
}

func NewRemoteDetector(serviceURL string, params *DetectionParams, jpegQuality int) (*RemoteDetector, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("Invalid detector URL '%v': %w", serviceURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("Invalid detector URL '%v': scheme must be http or https", serviceURL)
	}
	if params == nil {
		params = NewDetectionParams()
	}
	if jpegQuality <= 0 {
		jpegQuality = 90
	}
	return &RemoteDetector{
		url:         serviceURL,
		params:      *params,
		jpegQuality: jpegQuality,
		config: ModelConfig{
			Architecture: "remote",
			Classes:      COCOClasses,
		},
	}, nil
}

// SetClasses overrides the class vocabulary that is reported by Config.
// Call this before the detector is shared.
func (d *RemoteDetector) SetClasses(classes []string) {
	d.config.Classes = classes
}

func (d *RemoteDetector) Close() {
}

func (d *RemoteDetector) Config() *ModelConfig {
	return &d.config
}

// URL of the inference service
func (d *RemoteDetector) URL() string {
	return d.url
}

func (d *RemoteDetector) DetectObjects(ctx context.Context, img *cimg.Image) ([]Detection, error) {
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, d.jpegQuality, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to compress image for detector: %w", err)
	}
	u, _ := url.Parse(d.url)
	q := u.Query()
	q.Set("conf", strconv.FormatFloat(float64(d.params.ProbabilityThreshold), 'f', -1, 32))
	q.Set("iou", strconv.FormatFloat(float64(d.params.NmsIouThreshold), 'f', -1, 32))
	u.RawQuery = q.Encode()
	resp, err := requests.Request[[]WireDetection](ctx, "POST", u.String(), "image/jpeg", jpg)
	if err != nil {
		return nil, err
	}
	return FromWire(*resp)
}
