package mux

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/avutil.h>
*/
import "C"

import (
	"github.com/richinsley/avpipeline/media"
	"github.com/richinsley/avpipeline/timebase"
)

// fixup implements spec.md §4.3.3's per-packet timestamp repair.
func (m *MuxedOutput) fixup(os *outputStream, pkt *media.Packet) {
	havePTS := media.HasTimestamp(pkt.PTS())
	haveDTS := media.HasTimestamp(pkt.DTS())
	if !havePTS && !haveDTS {
		pkt.SetTimeBase(os.outputTB)
		return
	}

	isAudioStreamCopy := os.mode == ModeStreamCopy && os.avStream.codecpar.codec_type == C.AVMEDIA_TYPE_AUDIO

	if isAudioStreamCopy {
		if os.audioInternalTB.Den == 0 {
			sampleRate := int32(os.avStream.codecpar.sample_rate)
			if sampleRate == 0 {
				sampleRate = os.outputTB.Den
			}
			os.audioInternalTB = media.Rational{Num: 1, Den: sampleRate}
		}
		frameDuration := pkt.Duration()
		if frameDuration <= 0 {
			frameDuration = 1
		}
		dts := timebase.RescaleDelta(pkt.TimeBase(), pkt.DTS(), os.audioInternalTB, frameDuration, &os.audioDelta, os.outputTB)
		pkt.SetDTS(dts)
		pkt.SetPTS(dts)
		if pkt.Duration() > 0 {
			pkt.SetDuration(timebase.Rescale(pkt.Duration(), pkt.TimeBase(), os.outputTB, timebase.RoundNearest))
		}
	} else {
		if havePTS {
			pkt.SetPTS(timebase.Rescale(pkt.PTS(), pkt.TimeBase(), os.outputTB, timebase.RoundNearest))
		}
		if haveDTS {
			pkt.SetDTS(timebase.Rescale(pkt.DTS(), pkt.TimeBase(), os.outputTB, timebase.RoundNearest))
		}
		if pkt.Duration() > 0 {
			pkt.SetDuration(timebase.Rescale(pkt.Duration(), pkt.TimeBase(), os.outputTB, timebase.RoundNearest))
		}
	}
	pkt.SetTimeBase(os.outputTB)

	havePTS = media.HasTimestamp(pkt.PTS())
	haveDTS = media.HasTimestamp(pkt.DTS())

	if havePTS && haveDTS && pkt.DTS() > pkt.PTS() {
		lastBound := int64(0)
		if media.HasTimestamp(os.lastMuxDTS) {
			lastBound = os.lastMuxDTS + 1
		}
		med := median3(pkt.PTS(), pkt.DTS(), lastBound)
		pkt.SetPTS(med)
		pkt.SetDTS(med)
	}

	if media.HasTimestamp(os.lastMuxDTS) {
		floor := os.lastMuxDTS + 1
		if haveDTS && pkt.DTS() < floor {
			oldDTS := pkt.DTS()
			pkt.SetDTS(floor)
			if havePTS && pkt.PTS() >= oldDTS && pkt.PTS() < floor {
				pkt.SetPTS(floor)
			}
		}
	}

	if media.HasTimestamp(pkt.DTS()) {
		os.lastMuxDTS = pkt.DTS()
	}
}

func median3(a, b, c int64) int64 {
	if a > b {
		a, b = b, a
	}
	if b > c {
		b = c
	}
	if a > b {
		b = a
	}
	return b
}
