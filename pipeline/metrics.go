package pipeline

import "github.com/prometheus/client_golang/prometheus"

// metrics exposes per-pipeline counters the way a long-running transcode
// service would scrape them: packets and frames moved per stream, and
// queue depth at the moment each stage last touched its edge.
type metrics struct {
	packetsWritten *prometheus.CounterVec
	framesDecoded  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		packetsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avpipeline_packets_written_total",
			Help: "Packets handed to the sink, per output stream index.",
		}, []string{"stream"}),
		framesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "avpipeline_frames_decoded_total",
			Help: "Decoded frames (after any filters) passed to the encoder, per output stream index.",
		}, []string{"stream"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "avpipeline_queue_depth",
			Help: "Approximate number of buffered items on a pipeline edge.",
		}, []string{"edge"}),
	}
	if reg != nil {
		reg.MustRegister(m.packetsWritten, m.framesDecoded, m.queueDepth)
	}
	return m
}
