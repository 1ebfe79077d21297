package gen

// DeleteFirst removes the first instance of elem from slice, and returns the modified slice.
// If elem is not present, the original slice is returned.
func DeleteFirst[T comparable](slice []T, elem T) []T {
	for i := 0; i < len(slice); i++ {
		if slice[i] == elem {
			return append(slice[0:i], slice[i+1:]...)
		}
	}
	return slice
}
