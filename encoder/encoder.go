// Package encoder converts a lazy sequence of raw frames into a lazy
// sequence of packets, with the encoder's parameters derived lazily from
// the first incoming frame. Grounded on the teacher's encoder/encoder.go
// (direct cgo to libavcodec/libavformat, the same send/receive EAGAIN
// loop) generalized from the teacher's fixed H.264/AAC configuration to
// lazy first-frame initialization as described in spec.md §4.2, itself
// also grounded on other_examples/obinnaokechukwu-ffgo's encoder.go
// (hardware-context wiring, stream-copy-aware design).
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
	"context"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/richinsley/avpipeline/audiobuffer"
	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
)

// BoundDecoder is the minimal view of an upstream Decoder the Encoder
// consults during first-frame initialization (bits_per_raw_sample,
// framerate). Decoupled from decoder.Decoder to avoid an import cycle and
// to let tests supply a fake.
type BoundDecoder interface {
	BitsPerRawSample() int
	Framerate() media.Rational
}

// Options configures an Encoder before its first frame arrives.
type Options struct {
	Bitrate         int64 // 0 = default (1,000,000 video / 128,000 audio)
	MinBitrate      int64
	MaxBitrate      int64
	BufferSize      int64
	GOPSize         int32
	MaxBFrames      int32
	Decoder         BoundDecoder
	FilterFramerate media.Rational // framerate hint from an upstream filter, if any
	CodecOptions    map[string]string
	Log             zerolog.Logger
}

const (
	defaultVideoBitrate int64 = 1_000_000
	defaultAudioBitrate int64 = 128_000
)

// Encoder wraps a single AVCodecContext opened lazily from the first
// frame's properties.
type Encoder struct {
	codec    *C.AVCodec
	codecCtx *C.AVCodecContext
	kind     media.Kind
	opts     Options
	log      zerolog.Logger

	opened bool
	tb     media.Rational

	hwFramesCtx *C.AVBufferRef
	hwDeviceCtx *C.AVBufferRef

	audioBuf       *audiobuffer.Buffer
	audioFrameSize int

	closed bool
}

// Create allocates but does not open the codec. selector is a codec name
// (e.g. "libx264", "aac") resolved via avcodec_find_encoder_by_name.
func Create(selector string, opts Options) (*Encoder, error) {
	cName := C.CString(selector)
	defer C.free(unsafe.Pointer(cName))
	codec := C.avcodec_find_encoder_by_name(cName)
	if codec == nil {
		return nil, errs.NewNotFound("no encoder named %q", selector)
	}
	return CreateWithCodec(codec, opts)
}

// CreateWithCodec is the codec-object overload of Create.
func CreateWithCodec(codec *C.AVCodec, opts Options) (*Encoder, error) {
	ctx := C.avcodec_alloc_context3(codec)
	if ctx == nil {
		return nil, errs.NewResourceExhausted("avcodec_alloc_context3 failed")
	}

	kind := media.KindVideo
	if codec.etype == C.AVMEDIA_TYPE_AUDIO {
		kind = media.KindAudio
	}

	bitrate := opts.Bitrate
	if bitrate <= 0 {
		if kind == media.KindVideo {
			bitrate = defaultVideoBitrate
		} else {
			bitrate = defaultAudioBitrate
		}
	}
	ctx.bit_rate = C.int64_t(bitrate)
	if opts.MinBitrate > 0 {
		ctx.rc_min_rate = C.int64_t(opts.MinBitrate)
	}
	if opts.MaxBitrate > 0 {
		ctx.rc_max_rate = C.int64_t(opts.MaxBitrate)
	}
	if opts.BufferSize > 0 {
		ctx.rc_buffer_size = C.int(opts.BufferSize)
	}
	if opts.GOPSize > 0 {
		ctx.gop_size = C.int(opts.GOPSize)
	}
	ctx.max_b_frames = C.int(opts.MaxBFrames)

	return &Encoder{
		codec:    codec,
		codecCtx: ctx,
		kind:     kind,
		opts:     opts,
		log:      opts.Log,
	}, nil
}

// TimeBase returns the encoder's chosen time base; only meaningful after
// the first frame has initialized the encoder.
func (e *Encoder) TimeBase() media.Rational { return e.tb }

// CodecContextPtr exposes the underlying (opened) AVCodecContext as an
// opaque pointer so that mux.MuxedOutput can pull codec parameters from it
// via avcodec_parameters_from_context once the encoder has initialized.
func (e *Encoder) CodecContextPtr() unsafe.Pointer { return unsafe.Pointer(e.codecCtx) }

// Opened reports whether the codec has been opened from a first frame yet.
func (e *Encoder) Opened() bool { return e.opened }

func (e *Encoder) send(frame *media.Frame) error {
	var cframe *C.AVFrame
	if frame != nil {
		cframe = (*C.AVFrame)(frame.CPtr())
	}
	ret := C.avcodec_send_frame(e.codecCtx, cframe)
	return e.classify("avcodec_send_frame", int(ret))
}

func (e *Encoder) receive() (*media.Packet, error) {
	pkt := media.NewPacket()
	cpkt := (*C.AVPacket)(pkt.CPtr())
	ret := C.avcodec_receive_packet(e.codecCtx, cpkt)
	if err := e.classify("avcodec_receive_packet", int(ret)); err != nil {
		pkt.Free()
		return nil, err
	}
	return pkt, nil
}

func (e *Encoder) classify(op string, ret int) error {
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

// Encode sends frame (after lazy init and pre-encode adjustment), then
// attempts one receive, mirroring Decoder.Decode's EAGAIN-then-receive
// contract.
func (e *Encoder) Encode(frame *media.Frame) (*media.Packet, error) {
	if err := e.ensureInitialized(frame); err != nil {
		return nil, err
	}
	if err := e.adjustFrame(frame); err != nil {
		return nil, err
	}

	if e.audioBuf != nil {
		return e.encodeThroughAudioBuffer(frame)
	}

	sendErr := e.send(frame)
	if errs.IsTryAgain(sendErr) {
		pkt, recvErr := e.receive()
		if recvErr != nil {
			if errs.IsTryAgain(recvErr) {
				return nil, errs.NewInvalidArgument("encoder reported EAGAIN on send with nothing to receive: library contract violation")
			}
			return nil, recvErr
		}
		e.finishPacket(pkt)
		return pkt, nil
	}
	if sendErr != nil {
		// The Encoder never ignores errors during frame send: silently
		// swallowing one here would corrupt the output stream.
		return nil, sendErr
	}

	pkt, err := e.receive()
	if err != nil {
		if errs.IsTryAgain(err) {
			return nil, nil
		}
		return nil, err
	}
	e.finishPacket(pkt)
	return pkt, nil
}

func (e *Encoder) encodeThroughAudioBuffer(frame *media.Frame) (*media.Packet, error) {
	if err := e.audioBuf.Push(frame); err != nil {
		return nil, err
	}
	chunk, err := e.audioBuf.Pull()
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, nil
	}
	defer chunk.Free()
	return e.sendAndReceiveOne(chunk)
}

func (e *Encoder) sendAndReceiveOne(frame *media.Frame) (*media.Packet, error) {
	sendErr := e.send(frame)
	if errs.IsTryAgain(sendErr) {
		pkt, recvErr := e.receive()
		if recvErr != nil {
			if errs.IsTryAgain(recvErr) {
				return nil, errs.NewInvalidArgument("encoder reported EAGAIN on send with nothing to receive: library contract violation")
			}
			return nil, recvErr
		}
		e.finishPacket(pkt)
		return pkt, nil
	}
	if sendErr != nil {
		return nil, sendErr
	}
	pkt, err := e.receive()
	if err != nil {
		if errs.IsTryAgain(err) {
			return nil, nil
		}
		return nil, err
	}
	e.finishPacket(pkt)
	return pkt, nil
}

func (e *Encoder) finishPacket(pkt *media.Packet) {
	pkt.SetTimeBase(e.tb)
}

// EncodeAll sends frame (nil means flush) and drains every resulting
// packet.
func (e *Encoder) EncodeAll(frame *media.Frame) ([]*media.Packet, error) {
	if frame == nil {
		return e.flushAll()
	}
	if err := e.ensureInitialized(frame); err != nil {
		return nil, err
	}
	if err := e.adjustFrame(frame); err != nil {
		return nil, err
	}

	var toSend []*media.Frame
	if e.audioBuf != nil {
		if err := e.audioBuf.Push(frame); err != nil {
			return nil, err
		}
		for {
			chunk, err := e.audioBuf.Pull()
			if err != nil {
				return nil, err
			}
			if chunk == nil {
				break
			}
			toSend = append(toSend, chunk)
		}
	} else {
		toSend = append(toSend, frame)
	}

	var packets []*media.Packet
	for _, f := range toSend {
		if err := e.send(f); err != nil && !errs.IsTryAgain(err) {
			return packets, err
		}
		for {
			pkt, err := e.receive()
			if err != nil {
				if errs.IsTryAgain(err) || errs.IsEndOfStream(err) {
					break
				}
				return packets, err
			}
			e.finishPacket(pkt)
			packets = append(packets, pkt)
		}
		if f != frame {
			f.Free()
		}
	}
	return packets, nil
}

func (e *Encoder) flushAll() ([]*media.Packet, error) {
	var packets []*media.Packet
	if e.audioBuf != nil {
		tail, err := e.audioBuf.Drain()
		if err != nil {
			return nil, err
		}
		if tail != nil {
			defer tail.Free()
			if err := e.send(tail); err != nil && !errs.IsTryAgain(err) {
				return nil, err
			}
			for {
				pkt, err := e.receive()
				if err != nil {
					if errs.IsTryAgain(err) {
						break
					}
					return packets, err
				}
				e.finishPacket(pkt)
				packets = append(packets, pkt)
			}
		}
	}

	if err := e.send(nil); err != nil && !errs.IsEndOfStream(err) {
		return packets, err
	}
	for {
		pkt, err := e.receive()
		if err != nil {
			if errs.IsEndOfStream(err) {
				break
			}
			return packets, err
		}
		e.finishPacket(pkt)
		packets = append(packets, pkt)
	}
	return packets, nil
}

// Packets is the streaming ("async iterator") form. A channel whose
// elements include a nil signals end-of-stream at that point, after which
// the encoder is flushed and the output channel is closed. Sending a
// single non-nil frame through an otherwise-open channel does NOT
// auto-flush — trailing buffered packets require either an explicit nil
// element or Close/re-open.
func (e *Encoder) Packets(ctx context.Context, frames <-chan *media.Frame) <-chan *media.Packet {
	out := make(chan *media.Packet)
	go func() {
		defer close(out)
		for {
			select {
			case f, ok := <-frames:
				if !ok {
					return
				}
				if f == nil {
					packets, err := e.flushAll()
					if err != nil {
						e.log.Error().Err(err).Msg("flush failed")
					}
					for _, p := range packets {
						select {
						case out <- p:
						case <-ctx.Done():
							p.Free()
						}
					}
					return
				}
				packets, err := e.EncodeAll(f)
				f.Free()
				if err != nil {
					e.log.Error().Err(err).Msg("encode failed")
					return
				}
				for _, p := range packets {
					select {
					case out <- p:
					case <-ctx.Done():
						p.Free()
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

// Flush sends the end-of-stream sentinel to the codec, after first
// draining any partial audio frame buffered by the AudioFrameBuffer.
func (e *Encoder) Flush() error {
	if e.audioBuf != nil {
		tail, err := e.audioBuf.Drain()
		if err != nil {
			return err
		}
		if tail != nil {
			defer tail.Free()
			if err := e.send(tail); err != nil && !errs.IsTryAgain(err) {
				return err
			}
		}
	}
	err := e.send(nil)
	if errs.IsEndOfStream(err) {
		return nil
	}
	return err
}

// Close releases codec state. Idempotent. Closing both direction queues of
// a push-mode worker is the caller's (pipeline scheduler's) responsibility
// once it has stopped feeding Packets' input channel.
func (e *Encoder) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if e.audioBuf != nil {
		e.audioBuf.Close()
	}
	if e.codecCtx != nil {
		C.avcodec_free_context(&e.codecCtx)
	}
	if e.hwFramesCtx != nil {
		C.av_buffer_unref(&e.hwFramesCtx)
	}
	if e.hwDeviceCtx != nil {
		C.av_buffer_unref(&e.hwDeviceCtx)
	}
}
