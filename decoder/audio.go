package decoder

import (
	"math"

	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/timebase"
)

// postProcessAudio implements spec.md §4.1's audio timestamp smoothing:
// an internal time base that can represent timestamps across every sample
// rate observed so far, with a gap-aware smooth-rescale-by-delta applied
// on every frame. Grounded on the same algorithm as FFmpeg's fftools
// audio_ts_process, expressed with timebase.RescaleDelta.
func (d *Decoder) postProcessAudio(f *media.Frame) {
	sampleRate := int32(f.SampleRate())

	if !d.haveAudioSampleRate {
		d.audioInternalTB = media.Rational{Num: 1, Den: sampleRate}
		d.haveAudioSampleRate = true
	} else if d.audioLastSampleRate != sampleRate {
		d.onAudioSampleRateChange(d.audioLastSampleRate, sampleRate, f.TimeBase())
	}
	d.audioLastSampleRate = sampleRate

	tbFilter := media.Rational{Num: 1, Den: sampleRate}
	predPTS := d.audioLastPTS + d.audioLastDurationEst

	if !media.HasTimestamp(f.PTS()) {
		f.SetPTS(predPTS)
		f.SetTimeBase(d.audioInternalTB)
	} else {
		predInFrameTB := timebase.Rescale(predPTS, d.audioInternalTB, f.TimeBase(), timebase.RoundUp)
		if f.PTS() > predInFrameTB {
			d.audioDeltaState.Reset()
		}
	}

	newPTS := timebase.RescaleDelta(f.TimeBase(), f.PTS(), tbFilter, int64(f.NbSamples()), &d.audioDeltaState, d.audioInternalTB)

	d.audioLastPTS = newPTS
	d.audioLastDurationEst = timebase.Rescale(int64(f.NbSamples()), tbFilter, d.audioInternalTB, timebase.RoundNearest)

	f.SetPTS(timebase.Rescale(newPTS, d.audioInternalTB, tbFilter, timebase.RoundNearest))
	f.SetDuration(int64(f.NbSamples()))
	f.SetTimeBase(tbFilter)
}

// onAudioSampleRateChange recomputes the internal time base when the
// incoming sample rate differs from the previous frame's, per spec.md
// §4.1: propose 1/(prev/gcd(prev,new) * new), fall back to a fixed LCM
// denominator on would-be int32 overflow, and prefer the incoming frame's
// own time base when it is 1/N with N strictly larger than, and a multiple
// of, the proposed denominator.
func (d *Decoder) onAudioSampleRateChange(prev, newRate int32, frameTB media.Rational) {
	g := timebase.GCD(prev, newRate)

	var tbNew media.Rational
	if float64(prev)/float64(g) >= float64(math.MaxInt32)/float64(newRate) {
		tbNew = media.Rational{Num: 1, Den: audioOverflowLCM}
	} else {
		den := int64(prev) / int64(g) * int64(newRate)
		tbNew = media.Rational{Num: 1, Den: int32(den)}
	}

	if frameTB.Num == 1 && frameTB.Den > tbNew.Den && frameTB.Den%tbNew.Den == 0 {
		tbNew = frameTB
	}

	d.audioLastPTS = timebase.Rescale(d.audioLastPTS, d.audioInternalTB, tbNew, timebase.RoundNearest)
	d.audioLastDurationEst = timebase.Rescale(d.audioLastDurationEst, d.audioInternalTB, tbNew, timebase.RoundNearest)
	d.audioInternalTB = tbNew
}
