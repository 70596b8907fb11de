package proc

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectiveVolume(t *testing.T) {
	cases := []struct {
		personal, global int
		want             float64
	}{
		{100, 100, 1},
		{20, 50, 0.1},
		{0, 100, 0},
		{400, 100, 1},
		{-10, 100, 0},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, EffectiveVolume(c.personal, c.global), 1e-9, "%d%% at %d%%", c.personal, c.global)
	}
}

func TestRampSteps(t *testing.T) {
	steps := RampSteps(0, 1, 100*time.Millisecond)
	require.Len(t, steps, 5)
	assert.InDelta(t, 0.2, steps[0], 1e-9)
	assert.Equal(t, 1.0, steps[4])

	assert.Equal(t, []float64{0.5}, RampSteps(0, 0.5, 0))
}

type volumeSink struct {
	mu     sync.Mutex
	values []float64
}

func (s *volumeSink) apply(v float64) {
	s.mu.Lock()
	s.values = append(s.values, v)
	s.mu.Unlock()
}

func (s *volumeSink) last() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[len(s.values)-1]
}

func (s *volumeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

func TestStartRamp_reachesTarget(t *testing.T) {
	clk := clock.NewMock()
	sink := &volumeSink{}

	r := StartRamp(clk, 0, 1, 5*RampInterval, sink.apply)
	require.Equal(t, 1, sink.count())

	assert.Eventually(t, func() bool {
		clk.Add(RampInterval)
		return sink.last() == 1.0
	}, time.Second, time.Millisecond)
	assert.LessOrEqual(t, sink.count(), 5)
	r.Cancel()
}

func TestStartRamp_cancelStops(t *testing.T) {
	clk := clock.NewMock()
	sink := &volumeSink{}

	r := StartRamp(clk, 0, 1, time.Second, sink.apply)
	clk.Add(RampInterval)
	r.Cancel()
	n := sink.count()

	clk.Add(time.Second)
	assert.Equal(t, n, sink.count())
	assert.Less(t, sink.last(), 1.0)

	// Cancel is idempotent and nil-safe.
	r.Cancel()
	var nilRamp *VolumeRamp
	nilRamp.Cancel()
}
