// Package syncqueue implements SyncQueue: a bounded, multi-stream packet
// buffer whose receive operation yields packets in an order that respects
// per-stream ordering policies set at add_stream time. Grounded on the
// same producer/consumer shape as asyncqueue.Queue, generalized to many
// streams and a timestamp-aware any-stream receive the way FFmpeg's own
// internal sync_queue orders interleaved packets ahead of muxing.
package syncqueue

import (
	"sync"

	"github.com/richinsley/avpipeline/errs"
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/timebase"
)

// Kind names the buffering policy a Queue is created with. The Queue
// records it, but Receive treats buffer_size_us the same way for both
// kinds: as a microsecond allowance by which a non-limiting stream's head
// may lead the limiting-stream horizon.
type Kind int

const (
	// KindPacketDuration names buffering by packet duration.
	KindPacketDuration Kind = iota
	// KindAudioSampleCount names buffering by audio sample count.
	KindAudioSampleCount
)

// AnyStream is passed to Receive to request the next packet from whichever
// stream is ready, honoring limiting-stream ordering.
const AnyStream = -1

type item struct {
	seq int64
	pkt *media.Packet
}

type streamState struct {
	limiting bool
	finished bool
	buf      []item
}

// Queue is a SyncQueue as described in spec.md §4.3.2.
type Queue struct {
	mu           sync.Mutex
	kind         Kind
	bufferSizeUS int64
	streams      []*streamState
	nextSeq      int64
}

// Create allocates a SyncQueue with no streams yet.
func Create(kind Kind, bufferSizeUS int64) *Queue {
	return &Queue{kind: kind, bufferSizeUS: bufferSizeUS}
}

// AddStream registers a new stream and returns its sq_index. Limiting
// streams bound how far non-limiting streams may get ahead before being
// held back; non-limiting streams impose no such constraint.
func (q *Queue) AddStream(limiting bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.streams = append(q.streams, &streamState{limiting: limiting})
	return len(q.streams) - 1
}

// Send enqueues pkt for stream sqIndex, or (pkt == nil) marks that stream
// finished. Returns errs.EndOfStream if the stream was already finished
// (per spec.md's "send after finished is silently return" rule, surfaced
// to the caller as the same sentinel value it would get from a native
// end-of-stream).
func (q *Queue) Send(sqIndex int, pkt *media.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sqIndex < 0 || sqIndex >= len(q.streams) {
		return errs.NewInvalidArgument("syncqueue: stream index %d out of range", sqIndex)
	}
	s := q.streams[sqIndex]
	if s.finished {
		return errs.EndOfStream
	}
	if pkt == nil {
		s.finished = true
		return nil
	}
	s.buf = append(s.buf, item{seq: q.nextSeq, pkt: pkt})
	q.nextSeq++
	return nil
}

// Receive pulls the next packet. sqIndex is either a specific stream's
// index or AnyStream. Returns the stream index the packet came from, or
// errs.TryAgain if not enough data is buffered to guarantee ordering, or
// errs.EndOfStream once every stream has been finished and drained.
func (q *Queue) Receive(sqIndex int) (int, *media.Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if sqIndex != AnyStream {
		return q.receiveSpecific(sqIndex)
	}
	return q.receiveAny()
}

func (q *Queue) receiveSpecific(sqIndex int) (int, *media.Packet, error) {
	if sqIndex < 0 || sqIndex >= len(q.streams) {
		return 0, nil, errs.NewInvalidArgument("syncqueue: stream index %d out of range", sqIndex)
	}
	s := q.streams[sqIndex]
	if len(s.buf) > 0 {
		it := s.buf[0]
		s.buf = s.buf[1:]
		return sqIndex, it.pkt, nil
	}
	if s.finished {
		return 0, nil, errs.EndOfStream
	}
	return 0, nil, errs.TryAgain
}

func (q *Queue) receiveAny() (int, *media.Packet, error) {
	allEmpty, allFinished := true, true
	for _, s := range q.streams {
		if len(s.buf) > 0 {
			allEmpty = false
		}
		if !s.finished {
			allFinished = false
		}
	}
	if allEmpty && allFinished {
		return 0, nil, errs.EndOfStream
	}

	horizon, haveHorizon := q.limitingHorizonUS()
	if !haveHorizon {
		// A limiting stream exists, is not finished, and has no buffered
		// head item yet: ordering cannot be guaranteed.
		return 0, nil, errs.TryAgain
	}

	best := -1
	var bestItem item
	for idx, s := range q.streams {
		if len(s.buf) == 0 {
			continue
		}
		head := s.buf[0]
		if !s.limiting && horizon != nil {
			ptsUS := packetMicros(head.pkt)
			if ptsUS > *horizon+q.bufferSizeUS {
				continue
			}
		}
		if best == -1 || head.seq < bestItem.seq {
			best = idx
			bestItem = head
		}
	}

	if best == -1 {
		if allFinished {
			return 0, nil, errs.EndOfStream
		}
		return 0, nil, errs.TryAgain
	}

	q.streams[best].buf = q.streams[best].buf[1:]
	return best, bestItem.pkt, nil
}

// limitingHorizonUS returns the minimum head timestamp, in microseconds,
// across limiting streams that still have buffered data, and whether a
// decision could be made at all. If every limiting stream is finished (or
// there are no limiting streams), the horizon is unconstrained (nil,true).
func (q *Queue) limitingHorizonUS() (*int64, bool) {
	var min *int64
	anyLimiting := false
	for _, s := range q.streams {
		if !s.limiting {
			continue
		}
		anyLimiting = true
		if len(s.buf) == 0 {
			if s.finished {
				continue
			}
			return nil, false
		}
		us := packetMicros(s.buf[0].pkt)
		if min == nil || us < *min {
			min = &us
		}
	}
	if !anyLimiting {
		return nil, true
	}
	if min == nil {
		// Every limiting stream is finished: unconstrained.
		return nil, true
	}
	return min, true
}

func packetMicros(pkt *media.Packet) int64 {
	canonical := media.CanonicalTimeBase
	ts := pkt.PTS()
	if !media.HasTimestamp(ts) {
		ts = pkt.DTS()
	}
	return timebase.Rescale(ts, pkt.TimeBase(), canonical, timebase.RoundDown)
}
