package perfstats

import "time"

// TimeAccumulator records how long something took, over many samples.
// The zero value is ready to use. It is not thread safe.
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) Reset() {
	*a = TimeAccumulator{}
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

// Merge adds the samples of b into a
func (a *TimeAccumulator) Merge(b *TimeAccumulator) {
	a.Samples += b.Samples
	a.Total += b.Total
	a.Max = max(a.Max, b.Max)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Average in milliseconds, with microsecond precision
func (a *TimeAccumulator) AverageMS() float64 {
	return float64(a.Average().Microseconds()) / 1000
}

// Max in milliseconds, with microsecond precision
func (a *TimeAccumulator) MaxMS() float64 {
	return float64(a.Max.Microseconds()) / 1000
}
