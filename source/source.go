// Package source implements PacketSource: opening an input container,
// exposing its streams' codec parameters and metadata, and reading a lazy
// sequence of compressed packets from it. Grounded on the teacher's direct
// cgo-to-libavformat pattern (no subprocess), generalized from the
// teacher's fixed encode-only direction to demuxing.
package source

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
	"context"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/richinsley/avpipeline/decoder"
	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
)

// Stream describes one demuxed stream's static properties, and doubles as
// the "source Stream" spec.md's MuxedOutput.add_stream consults for
// stream-copy metadata (codec parameters, disposition, framerate, sample
// aspect ratio, duration hint).
type Stream struct {
	Index           int
	CodecID         int32
	MediaType       media.Kind
	TimeBase        media.Rational
	Framerate       media.Rational
	AvgFrameRate    media.Rational
	SampleAspectRatio media.Rational
	Disposition     int32
	DurationHint    int64
	Metadata        map[string]string

	avStream *C.AVStream
}

// CodecParameters exposes the stream's native AVCodecParameters as an
// opaque pointer, for mux and decoder.Create to cast back.
func (s *Stream) CodecParameters() unsafe.Pointer {
	return unsafe.Pointer(s.avStream.codecpar)
}

// Source demuxes one input container.
type Source struct {
	fmtCtx  *C.AVFormatContext
	streams []*Stream
	log     zerolog.Logger
	closed  bool
}

// Open opens target (a file path or URL) and reads stream info.
func Open(target string, log zerolog.Logger) (*Source, error) {
	cTarget := C.CString(target)
	defer C.free(unsafe.Pointer(cTarget))

	var fmtCtx *C.AVFormatContext
	if ret := C.avformat_open_input(&fmtCtx, cTarget, nil, nil); ret < 0 {
		return nil, errs.NewNativeError("avformat_open_input", int(ret), media.ErrorString(int(ret)))
	}
	if ret := C.avformat_find_stream_info(fmtCtx, nil); ret < 0 {
		C.avformat_close_input(&fmtCtx)
		return nil, errs.NewNativeError("avformat_find_stream_info", int(ret), media.ErrorString(int(ret)))
	}

	s := &Source{fmtCtx: fmtCtx, log: log}
	n := int(fmtCtx.nb_streams)
	streamsSlice := unsafe.Slice(fmtCtx.streams, n)
	for i := 0; i < n; i++ {
		av := streamsSlice[i]
		kind := media.KindVideo
		if av.codecpar.codec_type == C.AVMEDIA_TYPE_AUDIO {
			kind = media.KindAudio
		}
		st := &Stream{
			Index:             i,
			CodecID:           int32(av.codecpar.codec_id),
			MediaType:         kind,
			TimeBase:          media.Rational{Num: int32(av.time_base.num), Den: int32(av.time_base.den)},
			Framerate:         media.Rational{Num: int32(av.r_frame_rate.num), Den: int32(av.r_frame_rate.den)},
			AvgFrameRate:      media.Rational{Num: int32(av.avg_frame_rate.num), Den: int32(av.avg_frame_rate.den)},
			SampleAspectRatio: media.Rational{Num: int32(av.sample_aspect_ratio.num), Den: int32(av.sample_aspect_ratio.den)},
			Disposition:       int32(av.disposition),
			DurationHint:      int64(av.duration),
			Metadata:          readDict(av.metadata),
			avStream:          av,
		}
		s.streams = append(s.streams, st)
	}
	return s, nil
}

// Streams returns every demuxed stream's static description.
func (s *Source) Streams() []*Stream { return s.streams }

// DecoderStreamInfo builds a decoder.StreamInfo for stream index idx.
func (s *Source) DecoderStreamInfo(idx int) decoder.StreamInfo {
	st := s.streams[idx]
	return decoder.StreamInfo{
		Index:           st.Index,
		CodecID:         st.CodecID,
		CodecParameters: st.CodecParameters(),
		TimeBase:        st.TimeBase,
		Framerate:       st.Framerate,
		AvgFrameRate:    st.AvgFrameRate,
	}
}

// Packets is the streaming form: reads packets until EOF or ctx
// cancellation, then closes the output channel. Each packet's StreamIndex
// and TimeBase are populated from the source stream it came from.
func (s *Source) Packets(ctx context.Context) <-chan *media.Packet {
	out := make(chan *media.Packet)
	go func() {
		defer close(out)
		for {
			raw := C.av_packet_alloc()
			ret := C.av_read_frame(s.fmtCtx, raw)
			if ret < 0 {
				C.av_packet_free(&raw)
				if int(ret) != media.EOF() {
					s.log.Error().Int("code", int(ret)).Msg("demux read failed")
				}
				return
			}
			pkt := media.WrapPacket(unsafe.Pointer(raw))
			idx := int(raw.stream_index)
			pkt.StreamIndex = idx
			if idx >= 0 && idx < len(s.streams) {
				pkt.SetTimeBase(s.streams[idx].TimeBase)
			}
			select {
			case out <- pkt:
			case <-ctx.Done():
				pkt.Free()
				return
			}
		}
	}()
	return out
}

// Close releases the demuxer. Idempotent.
func (s *Source) Close() {
	if s.closed {
		return
	}
	s.closed = true
	C.avformat_close_input(&s.fmtCtx)
}

func readDict(d *C.AVDictionary) map[string]string {
	out := map[string]string{}
	empty := C.CString("")
	defer C.free(unsafe.Pointer(empty))
	var entry *C.AVDictionaryEntry
	for {
		entry = C.av_dict_get(d, empty, entry, C.AV_DICT_IGNORE_SUFFIX)
		if entry == nil {
			break
		}
		out[C.GoString(entry.key)] = C.GoString(entry.value)
	}
	return out
}
