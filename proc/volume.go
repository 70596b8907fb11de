package proc

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RampInterval is the length of one voice frame. Volume changes finer than
// this are inaudible.
const RampInterval = 20 * time.Millisecond

// EffectiveVolume combines a personal volume percentage with the global
// scale (also a percentage) into a gain clamped to [0,1].
func EffectiveVolume(personal, global int) float64 {
	v := float64(personal) * (float64(global) / 100) / 100
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// RampSteps linearly interpolates from -> to over d in RampInterval steps.
// The last step equals to.
func RampSteps(from, to float64, d time.Duration) []float64 {
	n := int(d / RampInterval)
	if n < 1 {
		return []float64{to}
	}
	delta := (to - from) / float64(n)
	steps := make([]float64, n)
	v := from
	for i := range steps {
		v += delta
		steps[i] = v
	}
	steps[n-1] = to
	return steps
}

// VolumeRamp applies a ramp one step per tick. The first step is applied
// immediately.
type VolumeRamp struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func StartRamp(clk clock.Clock, from, to float64, d time.Duration, apply func(float64)) *VolumeRamp {
	r := &VolumeRamp{done: make(chan struct{})}
	steps := RampSteps(from, to, d)
	apply(steps[0])
	if len(steps) == 1 {
		return r
	}

	ticker := clk.Ticker(RampInterval)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for _, v := range steps[1:] {
			select {
			case <-ticker.C:
				apply(v)
			case <-r.done:
				return
			}
		}
	}()
	return r
}

// Cancel stops the ramp at its current step.
func (r *VolumeRamp) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}
