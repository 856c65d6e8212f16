package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/richinsley/avpipeline/media"
)

func mkVideoFrame(t *testing.T, pts, duration int64, tb media.Rational) *media.Frame {
	t.Helper()
	f := media.NewVideoFrame()
	t.Cleanup(f.Free)
	f.SetPTS(pts)
	f.SetDuration(duration)
	f.SetTimeBase(tb)
	return f
}

// TestEstimateVideoDurationTrustsContainer is spec.md §8's P6, rule 1: a
// reliable positive container duration wins outright.
func TestEstimateVideoDurationTrustsContainer(t *testing.T) {
	d := &Decoder{}
	f := mkVideoFrame(t, 0, 40, media.Rational{Num: 1, Den: 1000})
	assert.Equal(t, int64(40), d.estimateVideoDuration(f))
}

// TestEstimateVideoDurationUnreliableFallsBackToDelta covers rule 1's
// unreliable carve-out (duration==1 but measured delta more than doubles
// it) falling through to rule 3's measured PTS delta.
func TestEstimateVideoDurationUnreliableFallsBackToDelta(t *testing.T) {
	d := &Decoder{
		haveLastVideo:   true,
		lastPTS:         0,
		lastDurationEst: 1,
	}
	f := mkVideoFrame(t, 100, 1, media.Rational{Num: 1, Den: 1000})
	assert.Equal(t, int64(100), d.estimateVideoDuration(f))
}

// TestEstimateVideoDurationFallsBackToLastEstimate covers rule 7: no
// container duration, a zero PTS delta (same PTS as the previous frame), no
// codec/avg framerate, but a prior estimate exists.
func TestEstimateVideoDurationFallsBackToLastEstimate(t *testing.T) {
	d := &Decoder{
		haveLastVideo:   true,
		lastPTS:         0,
		lastDurationEst: 33,
	}
	f := mkVideoFrame(t, 0, 0, media.Rational{Num: 1, Den: 1000})
	assert.Equal(t, int64(33), d.estimateVideoDuration(f))
}

// TestEstimateVideoDurationFinalFallback covers rule 8: nothing at all is
// known, so the estimate degenerates to 1.
func TestEstimateVideoDurationFinalFallback(t *testing.T) {
	d := &Decoder{}
	f := mkVideoFrame(t, 0, 0, media.Rational{Num: 1, Den: 1000})
	assert.Equal(t, int64(1), d.estimateVideoDuration(f))
}
