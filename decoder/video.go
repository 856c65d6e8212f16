package decoder

import (
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/timebase"
)

// postProcessVideo implements spec.md §4.1's video post-processing steps:
// hardware transfer (handled by postProcess before this function runs, see
// Decoder.transferToSoftware), best-effort PTS, forced framerate override, PTS
// backfill, duration estimation, sample-aspect override, and crop.
func (d *Decoder) postProcessVideo(f *media.Frame) {
	f.SetPTS(f.BestEffortTimestamp())

	if d.opts.ForcedFramerate.Den != 0 && d.opts.ForcedFramerate.Num != 0 {
		f.SetPTS(media.NoTimestamp)
		f.SetDuration(1)
		f.SetTimeBase(timebase.Inv(d.opts.ForcedFramerate))
	}

	if !media.HasTimestamp(f.PTS()) {
		if d.haveLastVideo {
			f.SetPTS(d.lastPTS + d.lastDurationEst)
		} else {
			f.SetPTS(0)
		}
	}

	duration := d.estimateVideoDuration(f)
	f.SetDuration(duration)

	d.lastDurationEst = duration
	d.lastPTS = f.PTS()
	d.haveLastVideo = true

	if d.opts.SampleAspectOverride != nil {
		f.SetSampleAspectRatio(*d.opts.SampleAspectOverride)
	}

	if d.opts.Crop {
		d.cropUnaligned(f)
	}
}

// estimateVideoDuration applies the tie-break order from spec.md §4.1: the
// first rule to produce a positive result wins.
func (d *Decoder) estimateVideoDuration(f *media.Frame) int64 {
	frameDuration := f.Duration()

	var ptsDelta int64
	haveDelta := d.haveLastVideo
	if haveDelta {
		ptsDelta = f.PTS() - d.lastPTS
	}

	// Rule 1: trust the container duration unless it is the unreliable
	// case of duration==1 while the measured delta is more than double.
	if frameDuration > 0 {
		unreliable := frameDuration == 1 && haveDelta && ptsDelta > 2*frameDuration
		if !unreliable {
			return frameDuration
		}
	}

	codecDuration := d.codecDurationEstimate(f)

	// Rule 3.
	if haveDelta && ptsDelta > 0 {
		return ptsDelta
	}
	// Rule 4.
	if frameDuration > 0 {
		return frameDuration
	}
	// Rule 5.
	if codecDuration > 0 {
		return codecDuration
	}
	// Rule 6.
	if d.avgFrameRate.Num > 0 && d.avgFrameRate.Den > 0 {
		v := timebase.Rescale(1, timebase.Inv(d.avgFrameRate), f.TimeBase(), timebase.RoundNearest)
		if v > 0 {
			return v
		}
	}
	// Rule 7.
	if d.haveLastVideo && d.lastDurationEst > 0 {
		return d.lastDurationEst
	}
	// Rule 8.
	return 1
}

// codecDurationEstimate computes (repeat_pict+2) * 1/(2*framerate)
// rescaled into the frame's time base, returning 0 if the codec framerate
// is unknown.
func (d *Decoder) codecDurationEstimate(f *media.Frame) int64 {
	fr := d.codecFramerate()
	if fr.Num <= 0 || fr.Den <= 0 {
		return 0
	}
	halfFramerateTB := media.Rational{Num: fr.Den, Den: 2 * fr.Num}
	return timebase.Rescale(int64(f.RepeatPict())+2, halfFramerateTB, f.TimeBase(), timebase.RoundNearest)
}

// codecFramerate returns the stream's average framerate. The codec
// context's own framerate field is not consulted.
func (d *Decoder) codecFramerate() media.Rational {
	return d.avgFrameRate
}

// cropUnaligned invokes the native library's unaligned-crop operation.
// Cropping geometry (crop_top/bottom/left/right) is carried on the AVFrame
// itself by the decoder; applyCropping passes it to av_frame_apply_cropping
// with the unaligned flag.
func (d *Decoder) cropUnaligned(f *media.Frame) {
	applyCropping(f)
}
