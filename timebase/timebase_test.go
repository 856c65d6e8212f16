package timebase

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/richinsley/avpipeline/media"
)

func TestRescaleIdentity(t *testing.T) {
	tb := media.Rational{Num: 1, Den: 48000}
	assert.Equal(t, int64(1000), Rescale(1000, tb, tb, RoundNearest))
}

func TestRescaleBasic(t *testing.T) {
	src := media.Rational{Num: 1, Den: 1000}
	dst := media.Rational{Num: 1, Den: 1_000_000}
	assert.Equal(t, int64(5_000_000), Rescale(5000, src, dst, RoundNearest))
}

func TestRescaleRoundingModes(t *testing.T) {
	src := media.Rational{Num: 1, Den: 3}
	dst := media.Rational{Num: 1, Den: 1}
	// 1/3 converted to whole units: 1 * (1/3) / 1 = 0.333..
	assert.Equal(t, int64(0), Rescale(1, src, dst, RoundDown))
	assert.Equal(t, int64(1), Rescale(1, src, dst, RoundUp))
	assert.Equal(t, int64(0), Rescale(1, src, dst, RoundNearest))
}

func TestRescaleNoTimestamp(t *testing.T) {
	src := media.Rational{Num: 1, Den: 1000}
	dst := media.Rational{Num: 1, Den: 1_000_000}
	assert.Equal(t, media.NoTimestamp, Rescale(media.NoTimestamp, src, dst, RoundNearest))
}

// TestRescaleDeltaConservesRate verifies P5/P7-style conservation: feeding
// RescaleDelta a regular 1024-sample cadence at 48kHz into a 1/1,000,000
// destination produces output deltas that equal the source deltas exactly
// once converted, never drifting over many calls.
func TestRescaleDeltaConservesRate(t *testing.T) {
	src := media.Rational{Num: 1, Den: 48000}
	dst := media.Rational{Num: 1, Den: 1_000_000}
	var state DeltaState

	var pts int64
	var lastOut int64
	for i := 0; i < 100; i++ {
		out := RescaleDelta(src, pts, src, 1024, &state, dst)
		if i > 0 {
			delta := out - lastOut
			// 1024 samples at 48kHz in microseconds is 21333.33..,
			// so consecutive deltas should land on 21333 or 21334.
			assert.True(t, delta == 21333 || delta == 21334, "delta=%d at i=%d", delta, i)
		}
		lastOut = out
		pts += 1024
	}
}

func TestDeltaStateSetThenReset(t *testing.T) {
	src := media.Rational{Num: 1, Den: 48000}
	dst := media.Rational{Num: 1, Den: 1_000_000}
	var state DeltaState

	RescaleDelta(src, 0, src, 1024, &state, dst)
	assert.True(t, state.IsSet())
	state.Reset()
	assert.False(t, state.IsSet())
}

func TestGCDLCMWrappers(t *testing.T) {
	assert.Equal(t, int32(6), GCD(18, 48))
	assert.Equal(t, int64(144), LCM(18, 48))
}
