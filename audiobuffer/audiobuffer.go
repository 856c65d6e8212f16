// Package audiobuffer implements AudioFrameBuffer: a sample-accurate
// rechunker that coalesces incoming audio frames into fixed-size output
// frames while preserving total sample count and PTS progression. Built
// on libavutil's AVAudioFifo, the standard native-library primitive for
// exactly this job (as FFmpeg's own transcode_aac.c example does).
package audiobuffer

/*
#cgo pkg-config: libavutil libavcodec
#include <libavutil/audio_fifo.h>
#include <libavutil/samplefmt.h>
#include <libavutil/channel_layout.h>
#include <libavutil/frame.h>
#include <libavcodec/avcodec.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
)

// Buffer rechunks a lazy sequence of variable-length audio frames into a
// lazy sequence of frames of exactly FrameSize samples.
type Buffer struct {
	fifo         *C.AVAudioFifo
	frameSize    int
	sampleFormat int32
	sampleRate   int32
	channelCount int
	chLayout     C.AVChannelLayout

	encoderTB     media.Rational // 1/sample_rate — tracks the PTS of the first unconsumed sample
	nextPTS       int64
	haveNextPTS   bool
	totalPushed   int64
	totalPulled   int64
}

// New creates an AudioFrameBuffer for the given fixed frame size and
// encoder audio format.
func New(frameSize int, sampleFormat int32, sampleRate int32, channelLayoutMask uint64, channelCount int) (*Buffer, error) {
	var layout C.AVChannelLayout
	C.av_channel_layout_default(&layout, C.int(channelCount))

	fifo := C.av_audio_fifo_alloc(C.enum_AVSampleFormat(sampleFormat), C.int(channelCount), C.int(frameSize))
	if fifo == nil {
		return nil, errs.NewResourceExhausted("av_audio_fifo_alloc failed")
	}

	return &Buffer{
		fifo:         fifo,
		frameSize:    frameSize,
		sampleFormat: sampleFormat,
		sampleRate:   sampleRate,
		channelCount: channelCount,
		chLayout:     layout,
		encoderTB:    media.Rational{Num: 1, Den: sampleRate},
	}, nil
}

// Push copies samples from frame into the internal accumulator and, if
// this is the first data pushed (or the buffer was fully drained),
// records frame's PTS as the PTS of the first unconsumed sample.
func (b *Buffer) Push(frame *media.Frame) error {
	if !b.haveNextPTS {
		b.nextPTS = frame.PTS()
		b.haveNextPTS = true
	}

	cframe := (*C.AVFrame)(frame.CPtr())
	planes := unsafe.Pointer(&cframe.data[0])
	n := C.av_audio_fifo_write(b.fifo, planes, cframe.nb_samples)
	if int(n) < int(cframe.nb_samples) {
		return errs.NewResourceExhausted("av_audio_fifo_write short write: wrote %d of %d samples", int(n), int(cframe.nb_samples))
	}
	b.totalPushed += int64(cframe.nb_samples)
	return nil
}

// Pull returns a Frame of exactly FrameSize samples, or nil if the buffer
// does not yet hold enough data. The returned frame's PTS is the tracked
// PTS of its first sample, in the encoder's time base; the tracker then
// advances by FrameSize.
func (b *Buffer) Pull() (*media.Frame, error) {
	if int(C.av_audio_fifo_size(b.fifo)) < b.frameSize {
		return nil, nil
	}
	return b.read(b.frameSize)
}

// Drain returns the final partial frame on flush (or nil if the buffer is
// empty), sized to whatever remains — padding/truncation to a codec's
// required fixed size is the caller's responsibility (Encoder owns that
// policy, since only it knows the codec's hard requirement).
func (b *Buffer) Drain() (*media.Frame, error) {
	remaining := int(C.av_audio_fifo_size(b.fifo))
	if remaining == 0 {
		return nil, nil
	}
	return b.read(remaining)
}

func (b *Buffer) read(n int) (*media.Frame, error) {
	out := media.NewAudioFrame()
	cframe := (*C.AVFrame)(out.CPtr())
	cframe.nb_samples = C.int(n)
	cframe.format = C.int(b.sampleFormat)
	C.av_channel_layout_copy(&cframe.ch_layout, &b.chLayout)
	cframe.sample_rate = C.int(b.sampleRate)

	if ret := C.av_frame_get_buffer(cframe, 0); ret < 0 {
		out.Free()
		return nil, errs.NewNativeError("av_frame_get_buffer", int(ret), media.ErrorString(int(ret)))
	}

	planes := unsafe.Pointer(&cframe.data[0])
	read := C.av_audio_fifo_read(b.fifo, planes, C.int(n))
	if int(read) != n {
		out.Free()
		return nil, errs.NewResourceExhausted("av_audio_fifo_read short read: got %d of %d samples", int(read), n)
	}

	out.SetPTS(b.nextPTS)
	out.SetTimeBase(b.encoderTB)
	out.SetDuration(int64(n))
	b.nextPTS += int64(n)
	b.totalPulled += int64(n)
	if C.av_audio_fifo_size(b.fifo) == 0 {
		b.haveNextPTS = false
	}
	return out, nil
}

// Buffered returns the number of samples currently accumulated but not yet
// pulled, for conservation checks (total in = total out + buffered).
func (b *Buffer) Buffered() int { return int(C.av_audio_fifo_size(b.fifo)) }

// Close releases the underlying FIFO.
func (b *Buffer) Close() {
	if b.fifo != nil {
		C.av_audio_fifo_free(b.fifo)
		b.fifo = nil
	}
}
