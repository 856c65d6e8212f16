// Package mux implements MuxedOutput: a container writer that accepts
// packets from one or more logical stream sources, defers writing the
// container header until every stream's parameters are known, preserves
// inter-stream ordering via a syncqueue.Queue when at least one stream is
// stream-copy, and repairs packet timestamps before they reach the
// container. Grounded on the teacher's encoder.go muxing calls
// (avformat_alloc_output_context2 / avformat_write_header /
// av_interleaved_write_frame / av_write_trailer), generalized from the
// teacher's single fixed output stream to the deferred multi-stream design
// in other_examples/obinnaokechukwu-ffgo's muxer.go and remuxer.go.
package mux

/*
#cgo pkg-config: libavformat libavcodec libavutil
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
#include <libavutil/dict.h>
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/richinsley/avpipeline/encoder"
	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/source"
	"github.com/richinsley/avpipeline/syncqueue"
	"github.com/richinsley/avpipeline/timebase"
)

// excludedMetadataKeys are dropped when copying container-level metadata
// from an upstream input source, per spec.md §4.3 step 4.
var excludedMetadataKeys = map[string]bool{
	"duration":        true,
	"creation_time":   true,
	"company_name":    true,
	"product_name":    true,
	"product_version": true,
}

// StreamMode selects how a registered output stream is driven.
type StreamMode int

const (
	// ModeStreamCopy copies a source.Stream's packets unchanged.
	ModeStreamCopy StreamMode = iota
	// ModeTranscode pairs a source.Stream (for metadata) with an Encoder.
	ModeTranscode
	// ModeEncoderOnly drives purely from an Encoder with no source.Stream.
	ModeEncoderOnly
)

// Options configures a MuxedOutput.
type Options struct {
	FormatName              string // required for callback targets
	UseSyncQueue            bool   // forced on automatically if any stream is stream-copy
	SyncQueueBufferUS       int64
	MaxMuxingQueueSize      int
	MuxingQueueDataThresh   int64
	CopyInitialNonKeyframes bool
	CopyPriorStart          bool
	StartTimeUS             int64
	ExitOnError             bool
	InputMetadata           map[string]string
	Log                     zerolog.Logger
}

type outputStream struct {
	mode     StreamMode
	src      *source.Stream
	enc      *encoder.Encoder
	avIdx    int
	avStream *C.AVStream

	initialized bool
	outputTB    media.Rational
	customTB    media.Rational // user override; Den == 0 means unset
	sqIndex     int            // -1 if not routed through the sync queue

	bufferedBytes   int64
	bufferedPackets []*media.Packet

	// stream-copy pre-filter state
	streamcopyStarted bool
	offsetTB          int64 // start_time_us rescaled into this stream's time base

	// per-packet fixup state
	lastMuxDTS      int64
	audioDelta      timebase.DeltaState
	audioInternalTB media.Rational
}

// MuxedOutput is a single output container accepting packets from
// multiple logical streams.
type MuxedOutput struct {
	fmtCtx *C.AVFormatContext
	opts   Options
	log    zerolog.Logger

	streams []*outputStream
	sq      *syncqueue.Queue

	headerWritten  bool
	trailerWritten bool
	closed         bool
}

// Open allocates an output format context for target (a file path or URL).
// For file paths, parent directories are created by the caller before
// Open is invoked; this wrapper defers directory creation to the native
// I/O layer's own behavior.
func Open(target string, opts Options) (*MuxedOutput, error) {
	cTarget := C.CString(target)
	defer C.free(unsafe.Pointer(cTarget))

	var cFormatName *C.char
	if opts.FormatName != "" {
		cFormatName = C.CString(opts.FormatName)
		defer C.free(unsafe.Pointer(cFormatName))
	}

	var fmtCtx *C.AVFormatContext
	ret := C.avformat_alloc_output_context2(&fmtCtx, nil, cFormatName, cTarget)
	if ret < 0 || fmtCtx == nil {
		return nil, errs.NewNativeError("avformat_alloc_output_context2", int(ret), media.ErrorString(int(ret)))
	}

	if fmtCtx.oformat.flags&C.AVFMT_NOFILE == 0 {
		if ret := C.avio_open(&fmtCtx.pb, cTarget, C.AVIO_FLAG_WRITE); ret < 0 {
			C.avformat_free_context(fmtCtx)
			return nil, errs.NewNativeError("avio_open", int(ret), media.ErrorString(int(ret)))
		}
	}

	if opts.MaxMuxingQueueSize == 0 {
		opts.MaxMuxingQueueSize = 128
	}

	return &MuxedOutput{fmtCtx: fmtCtx, opts: opts, log: opts.Log}, nil
}

// AddStreamOptions carries the user-supplied overrides spec.md §4.3's
// add_stream(source, options) accepts alongside the source/encoder pair.
type AddStreamOptions struct {
	// CustomTimeBase, when its denominator is non-zero, overrides the time
	// base that would otherwise be pulled from the source stream (for
	// stream-copy) or the encoder's chosen time base (for transcode/
	// encoder-only), per spec.md §4.3 step 1 and the opt_custom_tb field of
	// the stream-descriptor data model.
	CustomTimeBase media.Rational
}

// AddStream registers a stream-copy source, a transcode pairing of source
// + encoder, or an encoder-only stream. It must be called before the
// first WritePacket completes header writing. Returns the stream's index.
func (m *MuxedOutput) AddStream(src *source.Stream, enc *encoder.Encoder, opts AddStreamOptions) (int, error) {
	if m.headerWritten {
		return 0, errs.NewPipelineState("mux: add_stream after header written")
	}

	mode := ModeEncoderOnly
	if src != nil && enc == nil {
		mode = ModeStreamCopy
	} else if src != nil && enc != nil {
		mode = ModeTranscode
	}

	avStream := C.avformat_new_stream(m.fmtCtx, nil)
	if avStream == nil {
		return 0, errs.NewResourceExhausted("avformat_new_stream failed")
	}

	os := &outputStream{
		mode:       mode,
		src:        src,
		enc:        enc,
		avIdx:      int(avStream.index),
		avStream:   avStream,
		sqIndex:    -1,
		lastMuxDTS: media.NoTimestamp,
		customTB:   opts.CustomTimeBase,
	}

	if mode == ModeStreamCopy {
		if err := copyStreamCopyParameters(avStream, src); err != nil {
			return 0, err
		}
		os.outputTB = src.TimeBase
		if os.customTB.Den != 0 {
			os.outputTB = os.customTB
			avStream.time_base = C.AVRational{num: C.int(os.customTB.Num), den: C.int(os.customTB.Den)}
		}
		os.initialized = true
	}

	m.streams = append(m.streams, os)
	return os.avIdx, nil
}

// WritePacket runs spec.md §4.3's routing algorithm for one packet
// belonging to streamIndex.
func (m *MuxedOutput) WritePacket(pkt *media.Packet, streamIndex int) error {
	if m.closed {
		return errs.NewPipelineState("mux: write_packet after close")
	}
	if streamIndex < 0 || streamIndex >= len(m.streams) {
		return errs.NewInvalidArgument("mux: stream index %d out of range", streamIndex)
	}
	os := m.streams[streamIndex]

	m.tryInitializeFromEncoders()

	if os.mode == ModeStreamCopy || os.mode == ModeTranscode {
		if accept := m.streamcopyPrefilter(os, pkt); !accept {
			return nil
		}
	}

	if !m.allStreamsInitialized() {
		return m.bufferPendingPacket(os, pkt)
	}

	if !m.headerWritten {
		if err := m.writeHeader(); err != nil {
			return err
		}
	}

	return m.route(os, pkt)
}

func (m *MuxedOutput) tryInitializeFromEncoders() {
	for _, os := range m.streams {
		if os.initialized {
			continue
		}
		if os.enc == nil || !os.enc.Opened() {
			continue
		}
		tb := os.enc.TimeBase()
		if os.customTB.Den != 0 {
			tb = os.customTB
		}
		if ret := C.avcodec_parameters_from_context(os.avStream.codecpar, (*C.AVCodecContext)(os.enc.CodecContextPtr())); ret < 0 {
			m.log.Error().Int("code", int(ret)).Msg("avcodec_parameters_from_context failed")
			continue
		}
		os.avStream.time_base = C.AVRational{num: C.int(tb.Num), den: C.int(tb.Den)}
		if os.src != nil {
			copyMetadataAndDisposition(os.avStream, os.src)
		}
		os.outputTB = tb
		os.initialized = true
	}
}

func (m *MuxedOutput) allStreamsInitialized() bool {
	for _, os := range m.streams {
		if !os.initialized {
			return false
		}
	}
	return true
}

func (m *MuxedOutput) bufferPendingPacket(os *outputStream, pkt *media.Packet) error {
	if m.sq != nil && os.sqIndex >= 0 {
		sendPkt := pkt.Clone()
		sendPkt.SetTimeBase(os.outputTB)
		return m.sq.Send(os.sqIndex, sendPkt)
	}

	clone := pkt.Clone()
	os.bufferedPackets = append(os.bufferedPackets, clone)
	os.bufferedBytes += int64(pkt.Size())
	if os.bufferedBytes > m.opts.MuxingQueueDataThresh && len(os.bufferedPackets) > m.opts.MaxMuxingQueueSize {
		return errs.NewResourceExhausted("mux: pre-header buffer overflow on stream %d", os.avIdx)
	}
	return nil
}

func (m *MuxedOutput) writeHeader() error {
	anyStreamCopy := false
	for _, os := range m.streams {
		if os.mode == ModeStreamCopy {
			anyStreamCopy = true
		}
	}
	if anyStreamCopy || m.opts.UseSyncQueue {
		m.sq = syncqueue.Create(syncqueue.KindPacketDuration, m.opts.SyncQueueBufferUS)
		for _, os := range m.streams {
			os.sqIndex = m.sq.AddStream(false)
		}
	}

	m.applyDefaultDisposition()

	if len(m.opts.InputMetadata) > 0 {
		for k, v := range m.opts.InputMetadata {
			if excludedMetadataKeys[k] {
				continue
			}
			setDictEntry(&m.fmtCtx.metadata, k, v)
		}
	}

	if ret := C.avformat_write_header(m.fmtCtx, nil); ret < 0 {
		return errs.NewNativeError("avformat_write_header", int(ret), media.ErrorString(int(ret)))
	}
	m.headerWritten = true

	for _, os := range m.streams {
		for _, buffered := range os.bufferedPackets {
			if err := m.writeFixedUp(os, buffered); err != nil {
				return err
			}
		}
		os.bufferedPackets = nil
		os.bufferedBytes = 0
	}
	return nil
}

func (m *MuxedOutput) applyDefaultDisposition() {
	counts := map[media.Kind]int{}
	hasDefault := map[media.Kind]bool{}
	for _, os := range m.streams {
		kind := media.KindVideo
		if os.avStream.codecpar.codec_type == C.AVMEDIA_TYPE_AUDIO {
			kind = media.KindAudio
		}
		counts[kind]++
		if os.avStream.disposition&C.AV_DISPOSITION_DEFAULT != 0 {
			hasDefault[kind] = true
		}
	}
	for kind, count := range counts {
		if count < 2 || hasDefault[kind] {
			continue
		}
		for _, os := range m.streams {
			k := media.KindVideo
			if os.avStream.codecpar.codec_type == C.AVMEDIA_TYPE_AUDIO {
				k = media.KindAudio
			}
			if k != kind {
				continue
			}
			if os.avStream.disposition&C.AV_DISPOSITION_ATTACHED_PIC != 0 {
				continue
			}
			os.avStream.disposition |= C.AV_DISPOSITION_DEFAULT
			break
		}
	}
}

// route implements step 5 of the header-write gating algorithm.
func (m *MuxedOutput) route(os *outputStream, pkt *media.Packet) error {
	if m.sq != nil && os.sqIndex >= 0 {
		sendPkt := pkt.Clone()
		sendPkt.SetTimeBase(os.outputTB)
		if err := m.sq.Send(os.sqIndex, sendPkt); err != nil && !errs.IsEndOfStream(err) {
			return err
		}
		for {
			idx, out, err := m.sq.Receive(syncqueue.AnyStream)
			if err != nil {
				if errs.IsTryAgain(err) || errs.IsEndOfStream(err) {
					return nil
				}
				return err
			}
			if err := m.writeFixedUp(m.streams[idx], out); err != nil {
				return err
			}
		}
	}

	for _, buffered := range os.bufferedPackets {
		if err := m.writeFixedUp(os, buffered); err != nil {
			return err
		}
	}
	os.bufferedPackets = nil
	os.bufferedBytes = 0
	return m.writeFixedUp(os, pkt.Clone())
}

// writeFixedUp applies the per-packet timestamp fixup (§4.3.3), sets the
// output stream index, and hands the packet to the interleaved writer.
func (m *MuxedOutput) writeFixedUp(os *outputStream, pkt *media.Packet) error {
	defer pkt.Free()
	m.fixup(os, pkt)
	pkt.StreamIndex = os.avIdx

	cpkt := (*C.AVPacket)(pkt.CPtr())
	cpkt.stream_index = C.int(os.avIdx)
	if ret := C.av_interleaved_write_frame(m.fmtCtx, cpkt); ret < 0 {
		if !m.opts.ExitOnError {
			m.log.Warn().Int("code", int(ret)).Msg("mux write error ignored (exit_on_error=false)")
			return nil
		}
		return errs.NewNativeError("av_interleaved_write_frame", int(ret), media.ErrorString(int(ret)))
	}
	return nil
}

// Close writes the container trailer (if the header was written) and
// releases I/O resources. Idempotent.
func (m *MuxedOutput) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	if m.headerWritten && !m.trailerWritten {
		if ret := C.av_write_trailer(m.fmtCtx); ret < 0 {
			err = errs.NewNativeError("av_write_trailer", int(ret), media.ErrorString(int(ret)))
		}
		m.trailerWritten = true
	}

	if m.fmtCtx.oformat.flags&C.AVFMT_NOFILE == 0 && m.fmtCtx.pb != nil {
		C.avio_closep(&m.fmtCtx.pb)
	}
	C.avformat_free_context(m.fmtCtx)
	return err
}

func setDictEntry(dict **C.AVDictionary, key, value string) {
	ck, cv := C.CString(key), C.CString(value)
	defer C.free(unsafe.Pointer(ck))
	defer C.free(unsafe.Pointer(cv))
	C.av_dict_set(dict, ck, cv, 0)
}
