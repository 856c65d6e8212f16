// Package decoder drives the codec library's packet-in/frame-out state
// machine for a single stream: it handles EAGAIN back-pressure, repairs
// missing or gap-interrupted timestamps for both video and audio, and
// optionally transfers hardware-resident frames into system memory.
//
// The cgo pattern here (direct libavcodec/libavformat calls, a single
// av_error_str helper) follows the teacher's encoder/encoder.go; the
// module boundary (a shared media package for Packet/Frame/Rational, a
// dedicated decoder package) follows other_examples/obinnaokechukwu-ffgo.
package decoder

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
#include <libavutil/hwcontext.h>
#include <stdlib.h>
*/
import "C"

import (
	"context"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/timebase"
)

// StreamInfo carries the subset of a source stream's properties a Decoder
// needs at creation time.
type StreamInfo struct {
	Index           int
	CodecID         int32
	CodecParameters unsafe.Pointer // *C.AVCodecParameters, nil for synthetic/test streams
	TimeBase        media.Rational
	Framerate       media.Rational // r_frame_rate
	AvgFrameRate    media.Rational
}

// Options configures a Decoder. The zero value means software decoding,
// no forced framerate, and ExitOnError=false, under which DecodeAll logs
// and skips send/receive errors and drops frames with decode error flags;
// callers that want those errors returned set ExitOnError to true.
type Options struct {
	HardwareDeviceType     string // e.g. "cuda", "videotoolbox"; "" = software
	SoftwareTransferFormat int32  // target AVPixelFormat for hw->sw transfer; 0 = none configured
	ForcedFramerate        media.Rational
	SampleAspectOverride   *media.Rational
	Crop                   bool
	ExitOnError            bool
	CodecOptions           map[string]string
	Log                    zerolog.Logger
}

// Decoder converts a lazy sequence of compressed packets belonging to one
// stream into a lazy sequence of raw frames with corrected timestamps.
type Decoder struct {
	codecCtx    *C.AVCodecContext
	hwDeviceCtx *C.AVBufferRef
	kind        media.Kind
	streamIndex int
	opts        Options
	log         zerolog.Logger

	avgFrameRate media.Rational

	// video duration-estimation state
	haveLastVideo   bool
	lastPTS         int64
	lastDurationEst int64

	// audio dynamic-timebase state
	haveAudioSampleRate bool
	audioInternalTB     media.Rational
	audioLastSampleRate int32
	audioDeltaState     timebase.DeltaState
	audioLastPTS        int64
	audioLastDurationEst int64

	closed bool
}

// audioOverflowLCM is the fallback internal denominator used when the
// proposed gcd-based denominator would overflow signed 32-bit arithmetic;
// it covers common audio sample rates (44100, 48000, 88200, 96000, ...).
// Whether it covers every conceivable future rate (e.g. 384kHz) is not
// asserted.
const audioOverflowLCM = 28224000

// Create selects a software or hardware-accelerated codec implementation
// matching info.CodecID. If opts.HardwareDeviceType is set but no
// compatible hardware decoder exists, Create silently falls back to
// software and clears the hardware option.
func Create(info StreamInfo, opts Options) (*Decoder, error) {
	codec := C.avcodec_find_decoder(C.enum_AVCodecID(info.CodecID))
	if codec == nil {
		return nil, errs.NewNotFound("no decoder for codec id %d", info.CodecID)
	}

	ctx := C.avcodec_alloc_context3(codec)
	if ctx == nil {
		return nil, errs.NewResourceExhausted("avcodec_alloc_context3 failed")
	}

	d := &Decoder{
		codecCtx:     ctx,
		opts:         opts,
		log:          opts.Log,
		streamIndex:  info.Index,
		avgFrameRate: info.AvgFrameRate,
	}

	if info.CodecParameters != nil {
		if ret := C.avcodec_parameters_to_context(ctx, (*C.AVCodecParameters)(info.CodecParameters)); ret < 0 {
			C.avcodec_free_context(&ctx)
			return nil, errs.NewNativeError("avcodec_parameters_to_context", int(ret), media.ErrorString(int(ret)))
		}
	}

	d.kind = media.KindVideo
	if ctx.codec_type == C.AVMEDIA_TYPE_AUDIO {
		d.kind = media.KindAudio
	}

	ctx.pkt_timebase = C.AVRational{num: C.int(info.TimeBase.Num), den: C.int(info.TimeBase.Den)}

	if opts.HardwareDeviceType != "" {
		hwType := C.av_hwdevice_find_type_by_name(C.CString(opts.HardwareDeviceType))
		if hwType == C.AV_HWDEVICE_TYPE_NONE {
			d.log.Warn().Str("type", opts.HardwareDeviceType).Msg("no compatible hardware decoder, falling back to software")
			opts.HardwareDeviceType = ""
			d.opts.HardwareDeviceType = ""
		} else {
			var hwCtx *C.AVBufferRef
			if ret := C.av_hwdevice_ctx_create(&hwCtx, hwType, nil, nil, 0); ret < 0 {
				d.log.Warn().Str("type", opts.HardwareDeviceType).Msg("hardware device init failed, falling back to software")
				opts.HardwareDeviceType = ""
				d.opts.HardwareDeviceType = ""
			} else {
				d.hwDeviceCtx = hwCtx
				ctx.hw_device_ctx = C.av_buffer_ref(hwCtx)
				ctx.extra_hw_frames = ctx.extra_hw_frames + 1
			}
		}
	}

	// Carry user-attached opaque data from packet to the resulting frame.
	ctx.flags |= C.AV_CODEC_FLAG_COPY_OPAQUE

	var dict *C.AVDictionary
	for k, v := range opts.CodecOptions {
		ck, cv := C.CString(k), C.CString(v)
		C.av_dict_set(&dict, ck, cv, 0)
		C.free(unsafe.Pointer(ck))
		C.free(unsafe.Pointer(cv))
	}
	ret := C.avcodec_open2(ctx, codec, &dict)
	if dict != nil {
		C.av_dict_free(&dict)
	}
	if ret < 0 {
		C.avcodec_free_context(&ctx)
		return nil, errs.NewNativeError("avcodec_open2", int(ret), media.ErrorString(int(ret)))
	}

	return d, nil
}

// send sends a packet (nil means flush / end-of-stream sentinel).
func (d *Decoder) send(pkt *media.Packet) error {
	var cpkt *C.AVPacket
	if pkt != nil {
		cpkt = (*C.AVPacket)(pkt.CPtr())
	}
	ret := C.avcodec_send_packet(d.codecCtx, cpkt)
	return d.classify("avcodec_send_packet", int(ret))
}

// receive attempts to pull exactly one frame out of the codec.
func (d *Decoder) receive() (*media.Frame, error) {
	raw := C.av_frame_alloc()
	ret := C.avcodec_receive_frame(d.codecCtx, raw)
	if err := d.classify("avcodec_receive_frame", int(ret)); err != nil {
		C.av_frame_free(&raw)
		return nil, err
	}
	f := media.WrapFrame(unsafe.Pointer(raw), d.kind)
	f.DecodeErrorFlags = int32(raw.decode_error_flags)
	f.Quality = int32(raw.quality)
	return f, nil
}

func (d *Decoder) classify(op string, ret int) error {
	switch {
	case ret == 0:
		return nil
	case ret == media.EAGAIN():
		return errs.TryAgain
	case ret == media.EOF():
		return errs.EndOfStream
	default:
		return errs.NewNativeError(op, ret, media.ErrorString(ret))
	}
}

// Decode sends packet, then attempts one receive, returning at most one
// Frame. If send returns TryAgain, receive is attempted first; if that
// produces no frame, the caller is facing a decoder-library bug (the
// native contract guarantees a drained receive loop after EAGAIN before a
// repeated send), reported as an InvalidArgument-class error.
func (d *Decoder) Decode(pkt *media.Packet) (*media.Frame, error) {
	sendErr := d.send(pkt)
	if errs.IsTryAgain(sendErr) {
		f, recvErr := d.receive()
		if recvErr != nil {
			if errs.IsTryAgain(recvErr) {
				return nil, errs.NewInvalidArgument("decoder reported EAGAIN on send with nothing to receive: library contract violation")
			}
			return nil, recvErr
		}
		return d.postProcess(f), nil
	}
	if sendErr != nil && !errs.IsEndOfStream(sendErr) {
		return nil, sendErr
	}

	f, err := d.receive()
	if err != nil {
		if errs.IsTryAgain(err) {
			return nil, nil
		}
		return nil, err
	}
	return d.postProcess(f), nil
}

// DecodeAll sends packet once, then drains receive until TryAgain or
// EndOfStream, returning every frame produced.
func (d *Decoder) DecodeAll(pkt *media.Packet) ([]*media.Frame, error) {
	if err := d.send(pkt); err != nil && !errs.IsEndOfStream(err) && !errs.IsTryAgain(err) {
		if !d.opts.ExitOnError {
			d.log.Warn().Err(err).Msg("decoder send error ignored (exit_on_error=false)")
		} else {
			return nil, err
		}
	}

	var frames []*media.Frame
	for {
		f, err := d.receive()
		if err != nil {
			if errs.IsTryAgain(err) || errs.IsEndOfStream(err) {
				return frames, nil
			}
			if !d.opts.ExitOnError {
				d.log.Warn().Err(err).Msg("decoder receive error ignored (exit_on_error=false)")
				continue
			}
			return frames, err
		}
		if d.shouldDrop(f) {
			f.Free()
			continue
		}
		frames = append(frames, d.postProcess(f))
	}
}

func (d *Decoder) shouldDrop(f *media.Frame) bool {
	if d.opts.ExitOnError {
		return false
	}
	return f.DecodeErrorFlags != 0
}

// Frames filters an input channel of packets to this decoder's stream
// index, skips zero-sized packets, sends each and drains; on input
// channel close it sends a flush packet and drains the tail, then closes
// its own output channel. This is the streaming ("async iterator") form
// spec.md describes; unlike Decode it always fully drains after every send
// (through DecodeAll), which is the one place that simplification is
// correct.
func (d *Decoder) Frames(ctx context.Context, packets <-chan *media.Packet) <-chan *media.Frame {
	out := make(chan *media.Frame)
	go func() {
		defer close(out)
		for {
			select {
			case pkt, ok := <-packets:
				if !ok {
					d.drainFlush(ctx, out)
					return
				}
				if pkt.StreamIndex != d.streamIndex || pkt.Size() == 0 {
					pkt.Free()
					continue
				}
				frames, err := d.DecodeAll(pkt)
				pkt.Free()
				if err != nil {
					d.log.Error().Err(err).Msg("decode failed")
					return
				}
				for _, f := range frames {
					select {
					case out <- f:
					case <-ctx.Done():
						f.Free()
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (d *Decoder) drainFlush(ctx context.Context, out chan<- *media.Frame) {
	frames, err := d.DecodeAll(nil)
	if err != nil && !errs.IsEndOfStream(err) {
		d.log.Error().Err(err).Msg("flush failed")
	}
	for _, f := range frames {
		select {
		case out <- f:
		case <-ctx.Done():
			f.Free()
		}
	}
}

// BitsPerRawSample exposes the codec's bits_per_raw_sample, consulted by a
// downstream Encoder during first-frame initialization.
func (d *Decoder) BitsPerRawSample() int { return int(d.codecCtx.bits_per_raw_sample) }

// Framerate returns the best framerate estimate known to this decoder: the
// forced framerate if configured, else the stream's average frame rate.
func (d *Decoder) Framerate() media.Rational {
	if d.opts.ForcedFramerate.Den != 0 {
		return d.opts.ForcedFramerate
	}
	return d.avgFrameRate
}

// Flush sends the end-of-stream sentinel. The decoder remains re-drainable
// but not re-sendable until a new Create.
func (d *Decoder) Flush() error {
	err := d.send(nil)
	if errs.IsEndOfStream(err) {
		return nil
	}
	return err
}

// Close releases codec state. Idempotent.
func (d *Decoder) Close() {
	if d.closed {
		return
	}
	d.closed = true
	if d.codecCtx != nil {
		C.avcodec_free_context(&d.codecCtx)
	}
	if d.hwDeviceCtx != nil {
		C.av_buffer_unref(&d.hwDeviceCtx)
	}
}

// postProcess runs the video- or audio-specific timestamp repair pipeline
// on a freshly received frame.
func (d *Decoder) postProcess(f *media.Frame) *media.Frame {
	if sw, err := d.transferToSoftware(f); err != nil {
		d.log.Warn().Err(err).Msg("hardware transfer failed, keeping original frame")
	} else {
		f = sw
	}

	if d.kind == media.KindVideo {
		d.postProcessVideo(f)
	} else {
		d.postProcessAudio(f)
	}
	return f
}
