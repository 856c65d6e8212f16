package encoder

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
#include <libavutil/hwcontext.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/richinsley/avpipeline/audiobuffer"
	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/timebase"
)

// ensureInitialized runs spec.md §4.2's first-frame initialization exactly
// once, deriving every encoder parameter the codec itself cannot supply
// from the first frame that arrives.
func (e *Encoder) ensureInitialized(frame *media.Frame) error {
	if e.opened {
		return nil
	}

	if e.opts.Decoder != nil {
		if bprs := e.opts.Decoder.BitsPerRawSample(); bprs > 0 {
			e.codecCtx.bits_per_raw_sample = C.int(bprs)
		}
	}

	if e.kind == media.KindVideo {
		e.initVideo(frame)
	} else {
		e.initAudio(frame)
	}

	e.wireHardwareContext(frame)

	if int(e.codec.capabilities)&C.AV_CODEC_CAP_ENCODER_REORDERED_OPAQUE != 0 {
		e.codecCtx.flags |= C.AV_CODEC_FLAG_COPY_OPAQUE
	}
	e.codecCtx.flags |= C.AV_CODEC_FLAG_FRAME_DURATION

	var dict *C.AVDictionary
	for k, v := range e.opts.CodecOptions {
		ck, cv := C.CString(k), C.CString(v)
		C.av_dict_set(&dict, ck, cv, 0)
		C.free(unsafe.Pointer(ck))
		C.free(unsafe.Pointer(cv))
	}
	ret := C.avcodec_open2(e.codecCtx, e.codec, &dict)
	if dict != nil {
		C.av_dict_free(&dict)
	}
	if ret < 0 {
		return errs.NewNativeError("avcodec_open2", int(ret), media.ErrorString(int(ret)))
	}

	if e.kind == media.KindAudio && e.codecCtx.frame_size > 0 {
		buf, err := audiobuffer.New(
			int(e.codecCtx.frame_size),
			int32(e.codecCtx.sample_fmt),
			int32(e.codecCtx.sample_rate),
			0,
			int(e.codecCtx.ch_layout.nb_channels),
		)
		if err != nil {
			return err
		}
		e.audioBuf = buf
		e.audioFrameSize = int(e.codecCtx.frame_size)
	}

	e.tb = media.Rational{Num: int32(e.codecCtx.time_base.num), Den: int32(e.codecCtx.time_base.den)}
	e.opened = true
	return nil
}

func (e *Encoder) initVideo(frame *media.Frame) {
	fr := e.opts.FilterFramerate
	if fr.Den == 0 && e.opts.Decoder != nil {
		fr = e.opts.Decoder.Framerate()
	}

	if fr.Den != 0 && fr.Num != 0 {
		inv := media.Inv(fr)
		e.codecCtx.time_base = C.AVRational{num: C.int(inv.Num), den: C.int(inv.Den)}
	} else {
		ftb := frame.TimeBase()
		e.codecCtx.time_base = C.AVRational{num: C.int(ftb.Num), den: C.int(ftb.Den)}
	}

	e.codecCtx.width = C.int(frame.Width())
	e.codecCtx.height = C.int(frame.Height())
	e.codecCtx.pix_fmt = C.enum_AVPixelFormat(frame.PixelFormat())

	sar := frame.SampleAspectRatio()
	e.codecCtx.sample_aspect_ratio = C.AVRational{num: C.int(sar.Num), den: C.int(sar.Den)}

	e.codecCtx.color_primaries = C.enum_AVColorPrimaries(frame.ColorPrimaries())
	e.codecCtx.color_range = C.enum_AVColorRange(frame.ColorRange())
	e.codecCtx.colorspace = C.enum_AVColorSpace(frame.ColorSpace())
	e.codecCtx.color_trc = C.enum_AVColorTransferCharacteristic(frame.ColorTRC())
	if e.codecCtx.chroma_sample_location == C.AVCHROMA_LOC_UNSPECIFIED {
		e.codecCtx.chroma_sample_location = C.enum_AVChromaLocation(frame.ChromaLocation())
	}
}

func (e *Encoder) initAudio(frame *media.Frame) {
	ftb := frame.TimeBase()
	e.codecCtx.time_base = C.AVRational{num: C.int(ftb.Num), den: C.int(ftb.Den)}
	e.codecCtx.sample_rate = C.int(frame.SampleRate())
	e.codecCtx.sample_fmt = C.enum_AVSampleFormat(frame.PixelFormat())
	C.av_channel_layout_default(&e.codecCtx.ch_layout, C.int(frame.ChannelCount()))
}

// wireHardwareContext implements spec.md §4.2's hardware-context wiring
// table for encoding.
func (e *Encoder) wireHardwareContext(frame *media.Frame) {
	if !frame.HasHWFramesContext() {
		return
	}
	framesCtxRef := (*C.AVBufferRef)(frame.HWFramesContext())
	framesCtx := (*C.AVHWFramesContext)(unsafe.Pointer(framesCtxRef.data))

	if int32(framesCtx.format) != int32(e.codecCtx.pix_fmt) {
		e.codecCtx.hw_device_ctx = C.av_buffer_ref(framesCtx.device_ref)
		e.hwDeviceCtx = e.codecCtx.hw_device_ctx
		e.codecCtx.hw_frames_ctx = nil
		return
	}

	for cfg := 0; ; cfg++ {
		hwcfg := C.avcodec_get_hw_config(e.codec, C.int(cfg))
		if hwcfg == nil {
			break
		}
		if hwcfg.methods&C.AV_CODEC_HW_CONFIG_METHOD_HW_FRAMES_CTX != 0 &&
			(hwcfg.pix_fmt == C.AV_PIX_FMT_NONE || int32(hwcfg.pix_fmt) == int32(e.codecCtx.pix_fmt)) {
			e.codecCtx.hw_frames_ctx = C.av_buffer_ref(framesCtxRef)
			e.hwFramesCtx = e.codecCtx.hw_frames_ctx
			return
		}
	}
	for cfg := 0; ; cfg++ {
		hwcfg := C.avcodec_get_hw_config(e.codec, C.int(cfg))
		if hwcfg == nil {
			break
		}
		if hwcfg.methods&C.AV_CODEC_HW_CONFIG_METHOD_HW_DEVICE_CTX != 0 {
			e.codecCtx.hw_device_ctx = C.av_buffer_ref(framesCtx.device_ref)
			e.hwDeviceCtx = e.codecCtx.hw_device_ctx
			return
		}
	}

	e.codecCtx.hw_frames_ctx = nil
	e.codecCtx.hw_device_ctx = nil
}

// adjustFrame implements spec.md §4.2's per-frame pre-encoding adjustment:
// duration/PTS rescale into the encoder time base, quality copy for video,
// and a channel-count guard for audio.
func (e *Encoder) adjustFrame(frame *media.Frame) error {
	ftb := frame.TimeBase()

	var duration int64
	if frame.Duration() > 0 {
		duration = timebase.Rescale(frame.Duration(), ftb, e.tb, timebase.RoundNearest)
	} else {
		duration = 1
	}

	if media.HasTimestamp(frame.PTS()) {
		pts := timebase.Rescale(frame.PTS(), ftb, e.tb, timebase.RoundNearest)
		frame.SetPTS(pts)
		frame.SetTimeBase(e.tb)
	}
	frame.SetDuration(duration)

	if e.kind == media.KindVideo {
		if e.codecCtx.global_quality > 0 && frame.Quality <= 0 {
			frame.Quality = int32(e.codecCtx.global_quality)
		}
	} else {
		if int(e.codec.capabilities)&C.AV_CODEC_CAP_VARIABLE_FRAME_SIZE == 0 &&
			int(e.codec.capabilities)&C.AV_CODEC_CAP_PARAM_CHANGE == 0 &&
			frame.ChannelCount() != int(e.codecCtx.ch_layout.nb_channels) {
			return errs.NewInvalidArgument("encoder channel count %d does not match frame channel count %d", int(e.codecCtx.ch_layout.nb_channels), frame.ChannelCount())
		}
	}
	return nil
}
