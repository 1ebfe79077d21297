package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/pkg/www"
)

// Maximum size of an image posted to /detect
const maxDetectBodyBytes = 32 * 1024 * 1024

// Run the detector on a single image.
// The body is either a raw JPEG, or a multipart form with the JPEG in the field "file".
// Example: curl -F file=@img.jpg localhost:8000/detect
func (s *Server) httpDetect(w http.ResponseWriter, r *http.Request) {
	jpg := s.readDetectImage(w, r)
	img, err := s.codec.Decode(jpg)
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.config.DetectorTimeoutMS)*time.Millisecond)
	defer cancel()
	detections, err := s.detector.DetectObjects(ctx, img)
	if err != nil {
		www.PanicServerErrorf("Detector failed: %v", err)
	}
	www.CacheNever(w)
	www.SendJSON(w, nn.ToWire(detections))
}

func (s *Server) readDetectImage(w http.ResponseWriter, r *http.Request) []byte {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return www.ReadLimited(w, r, maxDetectBodyBytes)
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxDetectBodyBytes)
	file, _, err := r.FormFile("file")
	if err != nil {
		www.PanicBadRequestf("Expected a multipart field 'file': %v", err)
	}
	defer file.Close()
	jpg, err := io.ReadAll(file)
	if err != nil {
		www.PanicBadRequestf("Failed to read 'file': %v", err)
	}
	return jpg
}
