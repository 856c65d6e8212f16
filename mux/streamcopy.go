package mux

/*
#cgo pkg-config: libavformat libavcodec libavutil
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
*/
import "C"

import (
	"unsafe"

	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/source"
	"github.com/richinsley/avpipeline/timebase"
)

// copyStreamCopyParameters implements spec.md §4.3's immediate
// stream-copy initialization: codec parameters, metadata, disposition,
// framerates, aspect ratio, duration hint, and any codec-level HDR/DoVi
// side data are copied from the source stream right away.
func copyStreamCopyParameters(avStream *C.AVStream, src *source.Stream) error {
	if ret := C.avcodec_parameters_copy(avStream.codecpar, (*C.AVCodecParameters)(src.CodecParameters())); ret < 0 {
		return errs.NewNativeError("avcodec_parameters_copy", int(ret), media.ErrorString(int(ret)))
	}
	avStream.codecpar.codec_tag = 0
	avStream.time_base = C.AVRational{num: C.int(src.TimeBase.Num), den: C.int(src.TimeBase.Den)}
	avStream.r_frame_rate = C.AVRational{num: C.int(src.Framerate.Num), den: C.int(src.Framerate.Den)}
	avStream.avg_frame_rate = C.AVRational{num: C.int(src.AvgFrameRate.Num), den: C.int(src.AvgFrameRate.Den)}
	avStream.sample_aspect_ratio = C.AVRational{num: C.int(src.SampleAspectRatio.Num), den: C.int(src.SampleAspectRatio.Den)}
	avStream.disposition = C.int(src.Disposition)
	avStream.duration = C.int64_t(src.DurationHint)
	copyMetadataAndDisposition(avStream, src)
	return nil
}

func copyMetadataAndDisposition(avStream *C.AVStream, src *source.Stream) {
	avStream.disposition = C.int(src.Disposition)
	for k, v := range src.Metadata {
		ck, cv := C.CString(k), C.CString(v)
		C.av_dict_set(&avStream.metadata, ck, cv, 0)
		C.free(unsafe.Pointer(ck))
		C.free(unsafe.Pointer(cv))
	}
}

// streamcopyPrefilter implements spec.md §4.3.1. Returns false when the
// packet should be rejected (dropped without buffering or writing).
func (m *MuxedOutput) streamcopyPrefilter(os *outputStream, pkt *media.Packet) bool {
	if os.mode != ModeStreamCopy {
		return true
	}

	haveDTS := media.HasTimestamp(pkt.DTS())
	ts := pkt.PTS()
	if !media.HasTimestamp(ts) {
		ts = pkt.DTS()
	}
	var tsUS int64
	haveTS := media.HasTimestamp(ts)
	if haveTS {
		tsUS = timebase.Rescale(ts, pkt.TimeBase(), media.CanonicalTimeBase, timebase.RoundDown)
	}

	if !os.streamcopyStarted {
		if !pkt.IsKeyframe() && !m.opts.CopyInitialNonKeyframes {
			return false
		}
		if !m.opts.CopyPriorStart && haveTS && tsUS < m.opts.StartTimeUS {
			return false
		}
	}

	if m.opts.StartTimeUS != 0 && haveDTS {
		dtsUS := timebase.Rescale(pkt.DTS(), pkt.TimeBase(), media.CanonicalTimeBase, timebase.RoundDown)
		if dtsUS < m.opts.StartTimeUS {
			return false
		}
	}

	if !os.streamcopyStarted {
		os.streamcopyStarted = true
		os.offsetTB = timebase.Rescale(m.opts.StartTimeUS, media.CanonicalTimeBase, pkt.TimeBase(), timebase.RoundDown)
	}

	if media.HasTimestamp(pkt.PTS()) {
		pkt.SetPTS(pkt.PTS() - os.offsetTB)
	}
	if haveDTS {
		pkt.SetDTS(pkt.DTS() - os.offsetTB)
	} else if haveTS {
		fabricatedDTS := timebase.Rescale(tsUS, media.CanonicalTimeBase, pkt.TimeBase(), timebase.RoundDown)
		pkt.SetDTS(fabricatedDTS - os.offsetTB)
	}
	if os.avStream.codecpar.codec_type == C.AVMEDIA_TYPE_AUDIO {
		pkt.SetPTS(pkt.DTS())
	}
	return true
}
