// Package render draws detections and tracks onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livetrack/pkg/nn"
	"github.com/cyclopcam/livetrack/pkg/tracking"
	"github.com/fogleman/gg"
)

var (
	DetectionColor = color.RGBA{0, 255, 0, 255}
	TrackColor     = color.RGBA{0, 0, 255, 255}
)

// Renderer draws annotations onto frames
type Renderer struct {
	LineWidth      float64
	ShowTrails     bool
	MinTrailLength float32 // Trails shorter than this (in pixels) are not drawn, so stationary objects don't get a smudge
	LabelOffset    float64 // Distance of the label baseline above the top of the box
}

func NewRenderer() *Renderer {
	return &Renderer{
		LineWidth:      2,
		ShowTrails:     true,
		MinTrailLength: 4,
		LabelOffset:    4,
	}
}

// Render returns a copy of img with the detections (green) and the tracks (blue) drawn on top.
// img is not modified. img must be a 3 channel RGB image.
func (r *Renderer) Render(img *cimg.Image, detections []nn.Detection, tracks []tracking.Track) *cimg.Image {
	canvas := img.ToRGBA(255)
	dc := gg.NewContextForRGBA(asRGBA(canvas))
	dc.SetLineWidth(r.LineWidth)

	for _, det := range detections {
		r.drawBox(dc, det.Box, DetectionColor, fmt.Sprintf("%v: %.2f", det.Class, det.Confidence))
	}
	for i := range tracks {
		t := &tracks[i]
		r.drawBox(dc, t.Box, TrackColor, fmt.Sprintf("ID: %v %v", t.ID, t.Class))
		if r.ShowTrails && len(t.Trail) > 1 && nn.PathLength(t.Trail) >= r.MinTrailLength {
			r.drawTrail(dc, t.Trail)
		}
	}

	return canvas.ToRGB()
}

func (r *Renderer) drawBox(dc *gg.Context, box nn.Rect, c color.Color, label string) {
	dc.SetColor(c)
	dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
	dc.Stroke()

	// Keep the label inside the frame when the box touches the top edge
	y := float64(box.Y) - r.LabelOffset
	_, h := dc.MeasureString(label)
	if y < h {
		y = float64(box.Y2()) + h + r.LabelOffset
	}
	dc.DrawString(label, float64(box.X), y)
}

func (r *Renderer) drawTrail(dc *gg.Context, trail []nn.Point) {
	dc.SetColor(TrackColor)
	dc.MoveTo(float64(trail[0].X), float64(trail[0].Y))
	for _, p := range trail[1:] {
		dc.LineTo(float64(p.X), float64(p.Y))
	}
	dc.Stroke()
	last := trail[len(trail)-1]
	dc.DrawCircle(float64(last.X), float64(last.Y), r.LineWidth+1)
	dc.Fill()
}

// View the pixels of an RGBA cimg.Image as an image.RGBA, without copying
func asRGBA(img *cimg.Image) *image.RGBA {
	return &image.RGBA{
		Pix:    img.Pixels,
		Stride: img.Stride,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}
}
