package audiobuffer

/*
#include <libavutil/samplefmt.h>
*/
import "C"

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/avpipeline/media"
)

// TestConservation is spec.md §8's P5: 1,000 input frames of 1,024 samples
// at 48kHz rechunked to 960-sample output frames must conserve total
// sample count, and consecutive output PTS differ by exactly frame_size.
func TestConservation(t *testing.T) {
	const (
		sampleRate = int32(48000)
		inputSize  = 1024
		frameSize  = 960
		numInputs  = 1000
	)

	buf, err := New(frameSize, int32(C.AV_SAMPLE_FMT_S16), sampleRate, 0, 1)
	require.NoError(t, err)
	defer buf.Close()

	var totalIn, totalOut int64
	var lastPTS int64
	first := true

	pts := int64(0)
	for i := 0; i < numInputs; i++ {
		f := media.NewAudioFrame()
		require.NoError(t, f.AllocateSamples(inputSize, int32(C.AV_SAMPLE_FMT_S16), sampleRate, 1))
		f.SetPTS(pts)
		f.SetTimeBase(media.Rational{Num: 1, Den: sampleRate})

		require.NoError(t, buf.Push(f))
		f.Free()
		totalIn += inputSize
		pts += inputSize

		for {
			out, err := buf.Pull()
			require.NoError(t, err)
			if out == nil {
				break
			}
			totalOut += int64(out.NbSamples())
			if !first {
				assert.Equal(t, int64(frameSize), out.PTS()-lastPTS)
			}
			first = false
			lastPTS = out.PTS()
			out.Free()
		}
	}

	tail, err := buf.Drain()
	require.NoError(t, err)
	if tail != nil {
		totalOut += int64(tail.NbSamples())
		tail.Free()
	}

	assert.Equal(t, totalIn, totalOut)
}
