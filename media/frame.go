package media

/*
#cgo pkg-config: libavutil
#include <libavutil/frame.h>
#include <libavutil/avutil.h>
#include <libavutil/hwcontext.h>
#include <libavutil/channel_layout.h>
#include <stdlib.h>
*/
import "C"
import (
	"sync/atomic"
	"unsafe"
)

// Kind distinguishes video from audio frames.
type Kind int

const (
	KindVideo Kind = iota
	KindAudio
)

// Frame is an opaque reference-counted holder of raw samples, matching the
// data model's Frame entity. A frame carrying a hardware-memory reference
// keeps that memory alive for the frame's lifetime via the native library's
// own ref-counting on AVBufferRef; this wrapper never copies hardware
// memory implicitly.
type Frame struct {
	avframe *C.AVFrame
	refs    *int32
	Kind    Kind

	// DecodeErrorFlags and Quality mirror AVFrame's own fields; exposed as
	// plain ints since the native bitset/quality values are opaque to the
	// orchestration layer beyond "is it zero".
	DecodeErrorFlags int32
	Quality          int32
}

// BestEffortTimestamp returns the codec-supplied PTS guess used when the
// bitstream itself omits or corrupts a timestamp (AVFrame.best_effort_timestamp).
func (f *Frame) BestEffortTimestamp() int64 { return int64(f.avframe.best_effort_timestamp) }

// NewVideoFrame allocates an empty video frame.
func NewVideoFrame() *Frame {
	refs := int32(1)
	return &Frame{avframe: C.av_frame_alloc(), refs: &refs, Kind: KindVideo}
}

// NewAudioFrame allocates an empty audio frame.
func NewAudioFrame() *Frame {
	refs := int32(1)
	return &Frame{avframe: C.av_frame_alloc(), refs: &refs, Kind: KindAudio}
}

// WrapFrame takes ownership of an already-allocated *C.AVFrame, e.g. the
// frame a Decoder allocates for each avcodec_receive_frame call.
func WrapFrame(native unsafe.Pointer, kind Kind) *Frame {
	refs := int32(1)
	return &Frame{avframe: (*C.AVFrame)(native), refs: &refs, Kind: kind}
}

// CPtr returns the underlying native frame as an opaque pointer; see
// Packet.CPtr for why this is the correct cross-package cgo bridge.
func (f *Frame) CPtr() unsafe.Pointer {
	if f == nil {
		return nil
	}
	return unsafe.Pointer(f.avframe)
}

// Clone increments the reference count (av_frame_ref), never deep-copying
// sample data.
func (f *Frame) Clone() *Frame {
	clone := C.av_frame_alloc()
	C.av_frame_ref(clone, f.avframe)
	atomic.AddInt32(f.refs, 1)
	return &Frame{
		avframe:          clone,
		refs:             f.refs,
		Kind:             f.Kind,
		DecodeErrorFlags: f.DecodeErrorFlags,
		Quality:          f.Quality,
	}
}

// Free releases this handle's reference.
func (f *Frame) Free() {
	if f == nil || f.avframe == nil {
		return
	}
	C.av_frame_free(&f.avframe)
	atomic.AddInt32(f.refs, -1)
}

// Unref clears sample data and resets fields without freeing the Go handle,
// mirroring av_frame_unref.
func (f *Frame) Unref() { C.av_frame_unref(f.avframe) }

func (f *Frame) PTS() int64      { return int64(f.avframe.pts) }
func (f *Frame) SetPTS(v int64)  { f.avframe.pts = C.int64_t(v) }
func (f *Frame) Duration() int64 { return int64(f.avframe.duration) }
func (f *Frame) SetDuration(v int64) { f.avframe.duration = C.int64_t(v) }

func (f *Frame) TimeBase() Rational {
	return Rational{Num: int32(f.avframe.time_base.num), Den: int32(f.avframe.time_base.den)}
}

func (f *Frame) SetTimeBase(tb Rational) {
	f.avframe.time_base.num = C.int(tb.Num)
	f.avframe.time_base.den = C.int(tb.Den)
}

// Video extras.

func (f *Frame) Width() int  { return int(f.avframe.width) }
func (f *Frame) Height() int { return int(f.avframe.height) }
func (f *Frame) SetWidth(w int)  { f.avframe.width = C.int(w) }
func (f *Frame) SetHeight(h int) { f.avframe.height = C.int(h) }

func (f *Frame) PixelFormat() int32     { return int32(f.avframe.format) }
func (f *Frame) SetPixelFormat(v int32) { f.avframe.format = C.int(v) }

func (f *Frame) SampleAspectRatio() Rational {
	return Rational{Num: int32(f.avframe.sample_aspect_ratio.num), Den: int32(f.avframe.sample_aspect_ratio.den)}
}
func (f *Frame) SetSampleAspectRatio(r Rational) {
	f.avframe.sample_aspect_ratio.num = C.int(r.Num)
	f.avframe.sample_aspect_ratio.den = C.int(r.Den)
}

func (f *Frame) ColorPrimaries() int32 { return int32(f.avframe.color_primaries) }
func (f *Frame) ColorRange() int32     { return int32(f.avframe.color_range) }
func (f *Frame) ColorSpace() int32     { return int32(f.avframe.colorspace) }
func (f *Frame) ColorTRC() int32       { return int32(f.avframe.color_trc) }
func (f *Frame) ChromaLocation() int32 { return int32(f.avframe.chroma_location) }
func (f *Frame) SetChromaLocation(v int32) { f.avframe.chroma_location = C.enum_AVChromaLocation(v) }

func (f *Frame) RepeatPict() int { return int(f.avframe.repeat_pict) }

// Audio extras.

func (f *Frame) SampleRate() int  { return int(f.avframe.sample_rate) }
func (f *Frame) NbSamples() int   { return int(f.avframe.nb_samples) }
func (f *Frame) ChannelCount() int { return int(f.avframe.ch_layout.nb_channels) }

// AllocateSamples sets this audio frame's sample layout and allocates its
// backing buffer (av_frame_get_buffer), the same pattern audiobuffer.Buffer
// uses when it hands a rechunked frame back to its caller.
func (f *Frame) AllocateSamples(nbSamples int, sampleFormat int32, sampleRate int32, channelCount int) error {
	f.avframe.nb_samples = C.int(nbSamples)
	f.avframe.format = C.int(sampleFormat)
	f.avframe.sample_rate = C.int(sampleRate)
	C.av_channel_layout_default(&f.avframe.ch_layout, C.int(channelCount))
	if ret := C.av_frame_get_buffer(f.avframe, 0); ret < 0 {
		return &NativeAllocError{Code: int(ret)}
	}
	return nil
}

// NativeAllocError reports a failure to allocate a native frame buffer.
type NativeAllocError struct{ Code int }

func (e *NativeAllocError) Error() string { return ErrorString(e.Code) }

// HasHWFramesContext reports whether this frame carries a hardware-memory
// reference (AVFrame.hw_frames_ctx != NULL).
func (f *Frame) HasHWFramesContext() bool { return f.avframe.hw_frames_ctx != nil }

// HWFramesContext returns the opaque hardware frames context reference, or
// nil if the frame is in system memory.
func (f *Frame) HWFramesContext() unsafe.Pointer { return unsafe.Pointer(f.avframe.hw_frames_ctx) }
