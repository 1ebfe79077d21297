package nn

import "fmt"

// WireDetection is the JSON form of a Detection that we exchange with inference
// services and HTTP clients. The box is [xmin, ymin, xmax, ymax].
type WireDetection struct {
	Box        [4]int  `json:"box"`
	Confidence float32 `json:"confidence"`
	Class      string  `json:"class"`
}

func ToWire(dets []Detection) []WireDetection {
	out := make([]WireDetection, 0, len(dets)) // non-nil, so that we always get an array in our JSON output
	for _, d := range dets {
		out = append(out, WireDetection{
			Box:        d.Box.Corners(),
			Confidence: d.Confidence,
			Class:      d.Class,
		})
	}
	return out
}

// FromWire validates and converts wire detections.
// A box with xmin >= xmax or ymin >= ymax is rejected.
func FromWire(wire []WireDetection) ([]Detection, error) {
	out := make([]Detection, 0, len(wire))
	for i, w := range wire {
		box := MakeRect(w.Box[0], w.Box[1], w.Box[2], w.Box[3])
		if box.IsEmpty() {
			return nil, fmt.Errorf("Detection %v has an invalid box %v", i, w.Box)
		}
		if w.Confidence < 0 || w.Confidence > 1 {
			return nil, fmt.Errorf("Detection %v has confidence %v outside of [0,1]", i, w.Confidence)
		}
		out = append(out, Detection{
			Class:      w.Class,
			Confidence: w.Confidence,
			Box:        box,
		})
	}
	return out, nil
}
