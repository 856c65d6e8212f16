package syncqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
)

func mkPacket(pts int64, tb media.Rational) *media.Packet {
	p := media.NewPacket()
	p.SetPTS(pts)
	p.SetTimeBase(tb)
	return p
}

// TestFIFOWhenNonLimiting is spec.md §8's P8: two non-limiting streams,
// receive(any) must yield packets in exact send order.
func TestFIFOWhenNonLimiting(t *testing.T) {
	q := Create(KindPacketDuration, 0)
	s0 := q.AddStream(false)
	s1 := q.AddStream(false)

	tb := media.Rational{Num: 1, Den: 1}
	require.NoError(t, q.Send(s0, mkPacket(0, tb)))
	require.NoError(t, q.Send(s0, mkPacket(1, tb)))
	require.NoError(t, q.Send(s0, mkPacket(2, tb)))
	require.NoError(t, q.Send(s1, mkPacket(0, tb)))
	require.NoError(t, q.Send(s0, mkPacket(3, tb)))
	require.NoError(t, q.Send(s0, mkPacket(4, tb)))

	var order []int
	for i := 0; i < 6; i++ {
		idx, pkt, err := q.Receive(AnyStream)
		require.NoError(t, err)
		require.NotNil(t, pkt)
		order = append(order, idx)
	}
	assert.Equal(t, []int{s0, s0, s0, s1, s0, s0}, order)
}

// TestLimitingStreamGatesNonLimiting is spec.md §8's E6: a limiting video
// stream and a non-limiting audio stream; receive(any) must not let audio
// run arbitrarily far ahead of the video head.
func TestLimitingStreamGatesNonLimiting(t *testing.T) {
	q := Create(KindPacketDuration, 0)
	video := q.AddStream(true)
	audio := q.AddStream(false)

	videoTB := media.Rational{Num: 1, Den: 30}
	audioTB := media.Rational{Num: 1, Den: 48000}

	for i := int64(0); i < 10; i++ {
		require.NoError(t, q.Send(video, mkPacket(i, videoTB)))
		require.NoError(t, q.Send(audio, mkPacket(i, audioTB)))
	}

	idx, pkt, err := q.Receive(AnyStream)
	require.NoError(t, err)
	require.NotNil(t, pkt)
	assert.Equal(t, video, idx, "first received packet must be from the limiting video stream")
}

func TestReceiveSpecificStream(t *testing.T) {
	q := Create(KindPacketDuration, 0)
	s0 := q.AddStream(false)

	tb := media.Rational{Num: 1, Den: 1}
	require.NoError(t, q.Send(s0, mkPacket(0, tb)))

	idx, pkt, err := q.Receive(s0)
	require.NoError(t, err)
	assert.Equal(t, s0, idx)
	assert.NotNil(t, pkt)

	_, _, err = q.Receive(s0)
	assert.True(t, errs.IsTryAgain(err))
}

func TestEndOfStreamAfterFinish(t *testing.T) {
	q := Create(KindPacketDuration, 0)
	s0 := q.AddStream(false)

	require.NoError(t, q.Send(s0, nil))

	_, _, err := q.Receive(s0)
	assert.True(t, errs.IsEndOfStream(err))
}
