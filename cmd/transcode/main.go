// Command transcode is the example driver described in spec.md §6: it
// takes one input and one output, decodes every stream, re-encodes video
// and audio through the requested codecs, and muxes the result. Grounded
// on the teacher's cmd/main.go flag-parsing shape, generalized from the
// teacher's stdlib flag package to github.com/spf13/pflag (used elsewhere
// in the retrieved pack for richer CLI flags) and gopkg.in/yaml.v3 for an
// optional preset file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/richinsley/avpipeline/decoder"
	"github.com/richinsley/avpipeline/encoder"
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/mux"
	"github.com/richinsley/avpipeline/pipeline"
	"github.com/richinsley/avpipeline/source"
)

// preset is an optional --preset YAML file overriding per-media-type codec
// and bitrate defaults, loaded the way a config-driven CLI in the
// retrieved pack loads its settings file.
type preset struct {
	VideoCodec   string `yaml:"video_codec"`
	AudioCodec   string `yaml:"audio_codec"`
	VideoBitrate int64  `yaml:"video_bitrate"`
	AudioBitrate int64  `yaml:"audio_bitrate"`
	GOPSize      int32  `yaml:"gop_size"`
}

func main() {
	var (
		duration   = pflag.Float64("duration", 0, "stop after this many seconds (0 = whole input)")
		segment    = pflag.Float64("segment", 0, "segment length in seconds (parsed but not applied: output is always a single file)")
		windowSize = pflag.Int("window-size", 0, "sets pipeline.Options.FrameQueueDepth (0 = default), which no pipeline stage applies")
		bitrate    = pflag.Int64("bitrate", 0, "video bitrate in bits/sec (0 = encoder default of 1,000,000)")
		presetPath = pflag.String("preset", "", "path to a YAML preset file")
		codecs     = pflag.String("codecs", "libx264,aac", "comma-separated video,audio encoder names")
		frag       = pflag.Int64("frag", 0, "fragment duration in microseconds; a non-zero value selects the mp4 muxer, the duration itself is not applied")
		hw         = pflag.String("hw", "", "hardware device type for decoding (e.g. cuda, videotoolbox)")
		verbose    = pflag.BoolP("verbose", "v", false, "enable debug logging")
	)
	pflag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	args := pflag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: transcode [flags] <input> <output>")
		pflag.PrintDefaults()
		os.Exit(2)
	}
	input, output := args[0], args[1]

	p := &preset{}
	parts := strings.SplitN(*codecs, ",", 2)
	p.VideoCodec = parts[0]
	if len(parts) > 1 {
		p.AudioCodec = parts[1]
	}
	p.VideoBitrate = *bitrate

	if *presetPath != "" {
		data, err := os.ReadFile(*presetPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *presetPath).Msg("reading preset file")
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			log.Fatal().Err(err).Msg("parsing preset file")
		}
	}

	if err := run(runOptions{
		input:      input,
		output:     output,
		durationUS: int64(*duration * 1_000_000),
		segmentUS:  int64(*segment * 1_000_000),
		windowSize: *windowSize,
		fragUS:     *frag,
		hwType:     *hw,
		preset:     p,
		log:        log,
	}); err != nil {
		log.Fatal().Err(err).Msg("transcode failed")
	}
}

type runOptions struct {
	input, output string
	durationUS    int64
	segmentUS     int64
	windowSize    int
	fragUS        int64
	hwType        string
	preset        *preset
	log           zerolog.Logger
}

func run(opts runOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := source.Open(opts.input, opts.log)
	if err != nil {
		return fmt.Errorf("opening input: %w", err)
	}
	defer src.Close()

	muxOpts := mux.Options{
		ExitOnError: true,
		Log:         opts.log,
	}
	if opts.fragUS > 0 {
		muxOpts.FormatName = "mp4"
	}
	sink, err := mux.Open(opts.output, muxOpts)
	if err != nil {
		return fmt.Errorf("opening output: %w", err)
	}
	defer sink.Close()

	streamOpts := map[int]*pipeline.StreamOptions{}

	for _, st := range src.Streams() {
		switch st.MediaType {
		case media.KindVideo:
			dec, err := decoder.Create(src.DecoderStreamInfo(st.Index), decoder.Options{
				HardwareDeviceType: opts.hwType,
				ExitOnError:        true,
				Log:                opts.log,
			})
			if err != nil {
				return fmt.Errorf("creating video decoder: %w", err)
			}
			enc, err := encoder.Create(opts.preset.VideoCodec, encoder.Options{
				Bitrate: opts.preset.VideoBitrate,
				GOPSize: opts.preset.GOPSize,
				Decoder: dec,
				Log:     opts.log,
			})
			if err != nil {
				return fmt.Errorf("creating video encoder: %w", err)
			}
			idx, err := sink.AddStream(st, enc, mux.AddStreamOptions{})
			if err != nil {
				return fmt.Errorf("adding video stream: %w", err)
			}
			streamOpts[st.Index] = &pipeline.StreamOptions{Decoder: dec, Encoder: enc, OutputIndex: idx}

		case media.KindAudio:
			dec, err := decoder.Create(src.DecoderStreamInfo(st.Index), decoder.Options{
				ExitOnError: true,
				Log:         opts.log,
			})
			if err != nil {
				return fmt.Errorf("creating audio decoder: %w", err)
			}
			enc, err := encoder.Create(opts.preset.AudioCodec, encoder.Options{
				Bitrate: opts.preset.AudioBitrate,
				Decoder: dec,
				Log:     opts.log,
			})
			if err != nil {
				return fmt.Errorf("creating audio encoder: %w", err)
			}
			idx, err := sink.AddStream(st, enc, mux.AddStreamOptions{})
			if err != nil {
				return fmt.Errorf("adding audio stream: %w", err)
			}
			streamOpts[st.Index] = &pipeline.StreamOptions{Decoder: dec, Encoder: enc, OutputIndex: idx}
		}
	}

	pl := pipeline.New(src, sink, streamOpts, pipeline.Options{
		FrameQueueDepth: opts.windowSize,
		Log:             opts.log,
	})

	if opts.durationUS > 0 {
		deadlineCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.durationUS)*time.Microsecond)
		defer cancel()
		ctx = deadlineCtx
	}

	if err := pl.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	for _, so := range streamOpts {
		so.Decoder.Close()
		so.Encoder.Close()
	}
	return nil
}
