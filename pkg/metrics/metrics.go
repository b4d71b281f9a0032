// Package metrics exposes prometheus instrumentation for the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams tracks open processing streams by kind
	// (asr, tts, speaker).
	ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicegate_active_streams",
		Help: "Number of open processing streams by kind.",
	}, []string{"kind"})

	// Connections tracks open websocket connections by endpoint.
	Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicegate_ws_connections",
		Help: "Number of open websocket connections by endpoint.",
	}, []string{"endpoint"})

	// AudioBytesIn counts PCM bytes received from clients by kind.
	AudioBytesIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_audio_bytes_in_total",
		Help: "PCM bytes received from clients by stream kind.",
	}, []string{"kind"})

	// DroppedFrames counts audio frames rejected as malformed.
	DroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_dropped_frames_total",
		Help: "Audio frames dropped because they were malformed.",
	})

	// Transcripts counts transcript results emitted, partial and final.
	Transcripts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_transcripts_total",
		Help: "Transcript results emitted by finality.",
	}, []string{"final"})

	// SynthesisSeconds observes wall-clock time per synthesized segment.
	SynthesisSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicegate_synthesis_seconds",
		Help:    "Wall-clock synthesis time per text segment.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// SynthesizedAudioSeconds counts seconds of audio generated.
	SynthesizedAudioSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_synthesized_audio_seconds_total",
		Help: "Seconds of audio generated by the TTS pipeline.",
	})

	// Identifications counts speaker identification verdicts by outcome
	// (match, unknown).
	Identifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_identifications_total",
		Help: "Speaker identification verdicts by outcome.",
	}, []string{"outcome"})

	// Enrollments counts completed speaker enrollments.
	Enrollments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_enrollments_total",
		Help: "Completed speaker enrollments.",
	})
)
