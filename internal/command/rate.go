package command

import (
	"math"
	"strconv"
	"strings"

	"mediaconv/pkg/models"
)

const (
	// MinVideoKbps is the floor applied to computed target-size bitrates.
	MinVideoKbps = 300
	// MaxVideoKbps caps computed target-size bitrates at 2 Gb/s.
	MaxVideoKbps = 2_000_000
	// DefaultAudioKbps is assumed for target-size math when the job's audio
	// bitrate is missing or unparsable.
	DefaultAudioKbps = 128
)

// TargetSizeBitrate returns the video bitrate in kbps that fits a file of
// targetMB megabytes over duration seconds, after reserving audioKbps for
// audio. Durations under one second are treated as one second, and the
// result is clamped to [MinVideoKbps, MaxVideoKbps].
func TargetSizeBitrate(targetMB, duration float64, audioKbps int) int {
	duration = math.Max(duration, 1)
	totalKbits := targetMB * 8000
	kbps := math.Floor((totalKbits - float64(audioKbps)*duration) / duration)
	switch {
	case math.IsNaN(kbps) || kbps < MinVideoKbps:
		return MinVideoKbps
	case kbps > MaxVideoKbps:
		return MaxVideoKbps
	}
	return int(kbps)
}

// AudioBitrateKbps parses bitrates such as "128k", "192", or "1M".
func AudioBitrateKbps(bitrate string) int {
	b := strings.ToLower(strings.TrimSpace(bitrate))
	if b == "" {
		return DefaultAudioKbps
	}

	scale := 1.0
	switch {
	case strings.HasSuffix(b, "k"):
		b = strings.TrimSuffix(b, "k")
	case strings.HasSuffix(b, "m"):
		b = strings.TrimSuffix(b, "m")
		scale = 1000
	}

	v, err := strconv.ParseFloat(b, 64)
	if err != nil || v <= 0 || math.IsInf(v, 0) {
		return DefaultAudioKbps
	}
	return int(math.Min(v*scale, MaxVideoKbps))
}

// ResolveGOP derives the keyframe interval. The frame-rate relative modes
// need a known source rate; when it is missing, or the mode cannot be
// resolved, the custom gopSize is used if one was given. The boolean is false
// when no -g flag should be emitted.
func ResolveGOP(mode models.GOPMode, fps float64, gopSize int, gopSeconds float64) (int, bool) {
	if fps > 0 {
		switch mode {
		case models.GOPHalfFPS:
			return roundAtLeastOne(fps / 2), true
		case models.GOPSameFPS:
			return roundAtLeastOne(fps), true
		case models.GOPDoubleFPS:
			return roundAtLeastOne(fps * 2), true
		case models.GOPSeconds:
			if gopSeconds <= 0 {
				gopSeconds = models.DefaultGOPSeconds
			}
			return roundAtLeastOne(fps * gopSeconds), true
		}
	}
	if gopSize > 0 {
		return gopSize, true
	}
	return 0, false
}

func roundAtLeastOne(v float64) int {
	n := int(math.Round(v))
	if n < 1 {
		return 1
	}
	return n
}
