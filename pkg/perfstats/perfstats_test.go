package perfstats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeAccumulator(t *testing.T) {
	a := TimeAccumulator{}
	require.Equal(t, time.Duration(0), a.Average())
	require.Equal(t, 0.0, a.AverageMS())

	a.AddSample(10 * time.Millisecond)
	a.AddSample(20 * time.Millisecond)
	require.Equal(t, 15*time.Millisecond, a.Average())
	require.Equal(t, 15.0, a.AverageMS())
	require.Equal(t, 20.0, a.MaxMS())

	b := TimeAccumulator{}
	b.AddSample(1500 * time.Microsecond)
	a.Merge(&b)
	require.Equal(t, int64(3), a.Samples)
	require.Equal(t, 31500*time.Microsecond, a.Total)
	require.Equal(t, 10.5, a.AverageMS())
	require.Equal(t, 20*time.Millisecond, a.Max)

	a.Reset()
	require.Equal(t, TimeAccumulator{}, a)
}
