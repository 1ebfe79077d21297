package nn

import (
	flatbush "github.com/bmharper/flatbush-go"
)

// Scan all pairs of detections, and if they have a high IoU, and their classes are specified in 'mergeMap',
// then merge them into a single object.
// For example, a small pickup might get detected as both a "car" and a "truck",
// with slightly different boxes. With mergeMap = {"truck": "car"}, the truck is
// deleted and the car is kept.
// Returns the indices of the detections that should be retained, in ascending order.
func MergeSimilarObjects(input []Detection, mergeMap map[string]string, minIoU float32) []int {
	if len(input) == 0 {
		return []int{}
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, d := range input {
		fb.Add(int32(d.Box.X), int32(d.Box.Y), int32(d.Box.X2()), int32(d.Box.Y2()))
	}
	fb.Finish()

	deleted := make([]bool, len(input))
	nChanged := 1

	for nChanged != 0 {
		nChanged = 0
		for i, in := range input {
			if deleted[i] {
				continue
			}
			keepClass, ok := mergeMap[in.Class]
			if !ok {
				continue
			}
			for _, j := range fb.Search(int32(in.Box.X), int32(in.Box.Y), int32(in.Box.X2()), int32(in.Box.Y2())) {
				if i == j || deleted[j] || input[j].Class != keepClass {
					continue
				}
				if in.Box.IOU(input[j].Box) >= minIoU {
					// Delete the class on the 'left' of the map, and keep the one on the right
					deleted[i] = true
					nChanged++
					break
				}
			}
		}
	}

	retain := make([]int, 0, len(input))
	for i := range input {
		if !deleted[i] {
			retain = append(retain, i)
		}
	}
	return retain
}
