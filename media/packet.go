package media

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
#include <stdlib.h>
*/
import "C"
import (
	"sync/atomic"
	"unsafe"
)

// Packet is an opaque reference-counted holder of compressed bytes,
// matching the data model's Packet entity. It is created by a source,
// cloned (ref-count increment, never a deep copy) when buffered, and freed
// exactly once by its final consumer.
type Packet struct {
	avpkt   *C.AVPacket
	refs    *int32
	StreamIndex int
}

// NewPacket allocates an empty packet.
func NewPacket() *Packet {
	p := C.av_packet_alloc()
	refs := int32(1)
	return &Packet{avpkt: p, refs: &refs}
}

// WrapPacket takes ownership of an already-allocated *C.AVPacket. Used by
// the native source boundary (demuxer read_frame) to hand a packet into
// the orchestration layer without an extra copy.
func WrapPacket(native unsafe.Pointer) *Packet {
	refs := int32(1)
	return &Packet{avpkt: (*C.AVPacket)(native), refs: &refs}
}

// CPtr returns the underlying native packet as an opaque pointer so that
// decoder/encoder/mux packages, which own their own cgo import of the same
// headers, can cast it back to *C.AVPacket. This is the cross-package cgo
// bridge: the C struct layout is identical in every translation unit that
// includes the same libavcodec headers.
func (p *Packet) CPtr() unsafe.Pointer {
	if p == nil {
		return nil
	}
	return unsafe.Pointer(p.avpkt)
}

// Clone increments the reference count and returns a new Packet handle
// sharing the same underlying buffer (av_packet_ref semantics), never a
// deep copy.
func (p *Packet) Clone() *Packet {
	clone := C.av_packet_alloc()
	C.av_packet_ref(clone, p.avpkt)
	atomic.AddInt32(p.refs, 1)
	return &Packet{avpkt: clone, refs: p.refs, StreamIndex: p.StreamIndex}
}

// Free releases this handle's reference. The underlying buffer is only
// freed by the native library once every clone has been released.
func (p *Packet) Free() {
	if p == nil || p.avpkt == nil {
		return
	}
	C.av_packet_free(&p.avpkt)
	atomic.AddInt32(p.refs, -1)
}

// PTS returns the presentation timestamp, or NoTimestamp if unset.
func (p *Packet) PTS() int64 { return int64(p.avpkt.pts) }

// SetPTS sets the presentation timestamp.
func (p *Packet) SetPTS(v int64) { p.avpkt.pts = C.int64_t(v) }

// DTS returns the decode timestamp, or NoTimestamp if unset.
func (p *Packet) DTS() int64 { return int64(p.avpkt.dts) }

// SetDTS sets the decode timestamp.
func (p *Packet) SetDTS(v int64) { p.avpkt.dts = C.int64_t(v) }

// Duration returns the packet duration in the packet's own time base.
func (p *Packet) Duration() int64 { return int64(p.avpkt.duration) }

// SetDuration sets the packet duration.
func (p *Packet) SetDuration(v int64) { p.avpkt.duration = C.int64_t(v) }

// Size returns the packet payload size in bytes.
func (p *Packet) Size() int { return int(p.avpkt.size) }

// IsKeyframe reports whether the AV_PKT_FLAG_KEY flag is set.
func (p *Packet) IsKeyframe() bool { return p.avpkt.flags&C.AV_PKT_FLAG_KEY != 0 }

// Flags returns the raw packet flag bitset.
func (p *Packet) Flags() int32 { return int32(p.avpkt.flags) }

// TimeBase returns the packet's time base.
func (p *Packet) TimeBase() Rational {
	return Rational{Num: int32(p.avpkt.time_base.num), Den: int32(p.avpkt.time_base.den)}
}

// SetTimeBase sets the packet's time base.
func (p *Packet) SetTimeBase(tb Rational) {
	p.avpkt.time_base.num = C.int(tb.Num)
	p.avpkt.time_base.den = C.int(tb.Den)
}

// Rescale rewrites PTS, DTS and duration from the packet's current time
// base into dst, using av_packet_rescale_ts, then updates the stored time
// base. Mirrors the teacher's encoder.go use of av_packet_rescale_ts.
func (p *Packet) Rescale(dst Rational) {
	C.av_packet_rescale_ts(p.avpkt, p.avpkt.time_base, C.AVRational{num: C.int(dst.Num), den: C.int(dst.Den)})
	p.SetTimeBase(dst)
}
