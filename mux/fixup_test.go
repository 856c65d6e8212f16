package mux

/*
#cgo pkg-config: libavformat libavcodec libavutil
#include <libavformat/avformat.h>
#include <libavcodec/avcodec.h>
*/
import "C"

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/avpipeline/media"
)

func mkFixupPacket(t *testing.T, pts, dts, duration int64, tb media.Rational) *media.Packet {
	t.Helper()
	p := media.NewPacket()
	t.Cleanup(p.Free)
	p.SetPTS(pts)
	p.SetDTS(dts)
	p.SetDuration(duration)
	p.SetTimeBase(tb)
	return p
}

func TestMedian3(t *testing.T) {
	cases := []struct {
		a, b, c, want int64
	}{
		{10, 20, 6, 10},
		{1, 2, 3, 2},
		{3, 2, 1, 2},
		{5, 5, 5, 5},
		{-3, 1, 0, 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, median3(c.a, c.b, c.c))
	}
}

// TestFixupRescalesIntoOutputTimebase is spec.md §8's P1: a non-audio
// packet's PTS/DTS/duration are rescaled into the output stream's time
// base and nothing else about them changes when no repair is needed.
func TestFixupRescalesIntoOutputTimebase(t *testing.T) {
	m := &MuxedOutput{}
	os := &outputStream{
		mode:       ModeTranscode,
		outputTB:   media.Rational{Num: 1, Den: 1_000_000},
		lastMuxDTS: media.NoTimestamp,
	}
	srcTB := media.Rational{Num: 1, Den: 1000}
	pkt := mkFixupPacket(t, 5000, 5000, 40, srcTB)

	m.fixup(os, pkt)

	assert.Equal(t, int64(5_000_000), pkt.PTS())
	assert.Equal(t, int64(5_000_000), pkt.DTS())
	assert.Equal(t, int64(40_000), pkt.Duration())
	assert.True(t, pkt.TimeBase().Equal(os.outputTB))
}

// TestFixupRepairsDTSGreaterThanPTS is spec.md §8's P3: when DTS ends up
// above PTS, both collapse to the median of {pts, dts, last_mux_dts+1}.
func TestFixupRepairsDTSGreaterThanPTS(t *testing.T) {
	tb := media.Rational{Num: 1, Den: 1}
	m := &MuxedOutput{}
	os := &outputStream{
		mode:       ModeTranscode,
		outputTB:   tb,
		lastMuxDTS: 5,
	}
	pkt := mkFixupPacket(t, 10, 20, 0, tb)

	m.fixup(os, pkt)

	assert.Equal(t, int64(10), pkt.PTS())
	assert.Equal(t, int64(10), pkt.DTS())
	assert.Equal(t, int64(10), os.lastMuxDTS)
}

// TestFixupEnforcesMonotonicDTS is spec.md §8's P2: DTS (and PTS, when it
// would otherwise fall below the new DTS floor) never regresses relative
// to the last packet written.
func TestFixupEnforcesMonotonicDTS(t *testing.T) {
	tb := media.Rational{Num: 1, Den: 1}
	m := &MuxedOutput{}
	os := &outputStream{
		mode:       ModeTranscode,
		outputTB:   tb,
		lastMuxDTS: 100,
	}
	pkt := mkFixupPacket(t, 95, 95, 0, tb)

	m.fixup(os, pkt)

	assert.Equal(t, int64(101), pkt.DTS())
	assert.Equal(t, int64(101), pkt.PTS())
	assert.Equal(t, int64(101), os.lastMuxDTS)
}

// TestFixupAudioStreamCopyUsesSmoothDelta is spec.md §8's P7: an audio
// stream-copy packet is rescaled via the smooth-delta path (keyed off the
// stream's sample rate) rather than a plain nearest-rounding rescale, and
// PTS is forced equal to DTS.
func TestFixupAudioStreamCopyUsesSmoothDelta(t *testing.T) {
	fmtCtx := C.avformat_alloc_context()
	require.NotNil(t, fmtCtx)
	t.Cleanup(func() { C.avformat_free_context(fmtCtx) })

	avStream := C.avformat_new_stream(fmtCtx, nil)
	require.NotNil(t, avStream)
	avStream.codecpar.codec_type = C.AVMEDIA_TYPE_AUDIO
	avStream.codecpar.sample_rate = 48000

	sampleTB := media.Rational{Num: 1, Den: 48000}
	m := &MuxedOutput{}
	os := &outputStream{
		mode:       ModeStreamCopy,
		avStream:   avStream,
		outputTB:   sampleTB,
		lastMuxDTS: media.NoTimestamp,
	}
	pkt := mkFixupPacket(t, 1000, 1000, 1024, sampleTB)

	m.fixup(os, pkt)

	assert.Equal(t, pkt.PTS(), pkt.DTS())
	assert.Equal(t, int64(1000), pkt.DTS())
	assert.Equal(t, int64(1024), pkt.Duration())
	assert.True(t, os.audioDelta.IsSet())
}
