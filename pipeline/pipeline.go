// Package pipeline implements the scheduler described in spec.md §4.6: a
// directed chain of Source → (Decoder → Filter* → Encoder)* → Sink stages
// with a single stop() that unwinds every stage and a completion waitable.
// Demuxed packets reach each stream over a bounded asyncqueue.Queue of
// depth PacketQueueDepth; decoded and filtered frames move over unbuffered
// channels, and each stream's encode-and-write loop runs as one errgroup
// task. Options.FrameQueueDepth is recorded but no stage uses it. Grounded on the teacher's single-goroutine
// capture-then-encode loop in cmd/main.go, generalized to a composable
// multi-stage errgroup the way golang.org/x/sync/errgroup is used across
// the example pack for bounded worker fan-out.
package pipeline

import (
	"context"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/richinsley/avpipeline/asyncqueue"
	"github.com/richinsley/avpipeline/decoder"
	"github.com/richinsley/avpipeline/encoder"
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/mux"
	"github.com/richinsley/avpipeline/source"
)

// Filter transforms one frame into zero or more frames (e.g. a scale or
// format-convert stage). The identity filter simply forwards its input.
type Filter func(*media.Frame) ([]*media.Frame, error)

const (
	defaultFrameQueueDepth  = 4
	defaultPacketQueueDepth = 8
)

// StreamOptions describes one stream's path through the pipeline:
// decode → filters → encode, or a stream-copy path with Encoder == nil.
type StreamOptions struct {
	Decoder *decoder.Decoder
	Filters []Filter
	Encoder *encoder.Encoder
	// OutputIndex is the stream index returned by mux.MuxedOutput.AddStream
	// for this stream's path.
	OutputIndex int
}

// Pipeline runs one Source through per-stream decode/filter/encode chains
// into a single MuxedOutput sink.
type Pipeline struct {
	src     *source.Source
	sink    *mux.MuxedOutput
	streams map[int]*StreamOptions
	log     zerolog.Logger

	frameQueueDepth  int
	packetQueueDepth int

	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context
	doneOnce sync.Once
	done     chan struct{}
	metrics  *metrics
}

// Options configures a Pipeline.
type Options struct {
	FrameQueueDepth  int
	PacketQueueDepth int
	// MetricsRegisterer, if set, receives this pipeline's Prometheus
	// counters/gauges. Nil disables metrics registration entirely.
	MetricsRegisterer prometheus.Registerer
	Log               zerolog.Logger
}

// New builds a Pipeline wiring src's packets through streams (keyed by
// source stream index) into sink.
func New(src *source.Source, sink *mux.MuxedOutput, streams map[int]*StreamOptions, opts Options) *Pipeline {
	fq, pq := opts.FrameQueueDepth, opts.PacketQueueDepth
	if fq <= 0 {
		fq = defaultFrameQueueDepth
	}
	if pq <= 0 {
		pq = defaultPacketQueueDepth
	}
	return &Pipeline{
		src:              src,
		sink:             sink,
		streams:          streams,
		log:              opts.Log,
		frameQueueDepth:  fq,
		packetQueueDepth: pq,
		done:             make(chan struct{}),
		metrics:          newMetrics(opts.MetricsRegisterer),
	}
}

// Run starts every stage and blocks until the pipeline finishes or ctx is
// canceled. Use Stop from another goroutine for cooperative cancellation
// instead of canceling the caller's own context mid-run.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	p.group = group
	p.groupCtx = groupCtx

	demuxed := p.src.Packets(groupCtx)
	perStream := p.demuxFanout(groupCtx, demuxed)

	for idx, so := range p.streams {
		idx, so := idx, so
		packetsIn := perStream[idx]
		if so.Encoder == nil {
			group.Go(func() error { return p.runStreamCopy(groupCtx, so, packetsIn) })
			continue
		}
		group.Go(func() error { return p.runTranscode(groupCtx, so, packetsIn) })
	}

	err := group.Wait()
	p.doneOnce.Do(func() { close(p.done) })
	cancel()
	return err
}

// demuxFanout reads the single demuxed packet channel once and routes each
// packet to the queue belonging to its stream, so that every configured
// stream gets its own independently-closable input edge.
func (p *Pipeline) demuxFanout(ctx context.Context, in <-chan *media.Packet) map[int]*asyncqueue.Queue[*media.Packet] {
	out := make(map[int]*asyncqueue.Queue[*media.Packet], len(p.streams))
	for idx := range p.streams {
		out[idx] = asyncqueue.New[*media.Packet](p.packetQueueDepth)
	}

	p.group.Go(func() error {
		defer func() {
			for _, q := range out {
				q.Close()
			}
		}()
		for {
			select {
			case pkt, ok := <-in:
				if !ok {
					return nil
				}
				q, tracked := out[pkt.StreamIndex]
				if !tracked {
					pkt.Free()
					continue
				}
				label := streamLabel(p.streams[pkt.StreamIndex].OutputIndex)
				if q.Send(ctx, pkt) {
					p.metrics.queueDepth.WithLabelValues(label).Inc()
				} else {
					pkt.Free()
				}
			case <-ctx.Done():
				return nil
			}
		}
	})

	return out
}

func drainQueue(ctx context.Context, q *asyncqueue.Queue[*media.Packet], gauge prometheus.Gauge) <-chan *media.Packet {
	out := make(chan *media.Packet)
	go func() {
		defer close(out)
		for {
			pkt, ok := q.Receive(ctx)
			if !ok {
				return
			}
			if gauge != nil {
				gauge.Dec()
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

func (p *Pipeline) runStreamCopy(ctx context.Context, so *StreamOptions, q *asyncqueue.Queue[*media.Packet]) error {
	label := streamLabel(so.OutputIndex)
	for pkt := range drainQueue(ctx, q, p.metrics.queueDepth.WithLabelValues(label)) {
		if err := p.sink.WritePacket(pkt, so.OutputIndex); err != nil {
			pkt.Free()
			return err
		}
		p.metrics.packetsWritten.WithLabelValues(label).Inc()
		pkt.Free()
	}
	return nil
}

func (p *Pipeline) runTranscode(ctx context.Context, so *StreamOptions, q *asyncqueue.Queue[*media.Packet]) error {
	label := streamLabel(so.OutputIndex)
	packets := drainQueue(ctx, q, p.metrics.queueDepth.WithLabelValues(label))
	frames := so.Decoder.Frames(ctx, packets)
	filtered := applyFilters(ctx, so.Filters, frames)

	for f := range filtered {
		p.metrics.framesDecoded.WithLabelValues(label).Inc()
		packets, err := so.Encoder.EncodeAll(f)
		f.Free()
		if err != nil {
			return err
		}
		for _, pkt := range packets {
			if err := p.sink.WritePacket(pkt, so.OutputIndex); err != nil {
				pkt.Free()
				return err
			}
			p.metrics.packetsWritten.WithLabelValues(label).Inc()
			pkt.Free()
		}
	}

	packetsFlush, err := so.Encoder.EncodeAll(nil)
	if err != nil {
		return err
	}
	for _, pkt := range packetsFlush {
		if err := p.sink.WritePacket(pkt, so.OutputIndex); err != nil {
			pkt.Free()
			return err
		}
		p.metrics.packetsWritten.WithLabelValues(label).Inc()
		pkt.Free()
	}
	return nil
}

func streamLabel(outputIndex int) string {
	return "stream_" + strconv.Itoa(outputIndex)
}

func applyFilters(ctx context.Context, filters []Filter, in <-chan *media.Frame) <-chan *media.Frame {
	if len(filters) == 0 {
		return in
	}
	out := make(chan *media.Frame)
	go func() {
		defer close(out)
		for f := range in {
			cur := []*media.Frame{f}
			for _, filt := range filters {
				var next []*media.Frame
				for _, cf := range cur {
					fs, err := filt(cf)
					if err != nil {
						return
					}
					next = append(next, fs...)
				}
				cur = next
			}
			for _, cf := range cur {
				select {
				case out <- cf:
				case <-ctx.Done():
					cf.Free()
				}
			}
		}
	}()
	return out
}

// Stop cancels the pipeline's run context: the demux fan-out closes every
// per-stream queue and returns, and each stage returns at its next context
// check, freeing any item it holds instead of forwarding it.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

// Completion returns a channel that closes once the last sink task has
// exited.
func (p *Pipeline) Completion() <-chan struct{} { return p.done }
