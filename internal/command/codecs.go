package command

import (
	"strconv"
	"strings"
)

var videoAliases = map[string]string{
	"libx264":    "h264",
	"x264":       "h264",
	"libx265":    "h265",
	"x265":       "h265",
	"hevc":       "h265",
	"libvpx-vp9": "vp9",
	"libvpx":     "vp8",
	"vp10":       "av1",
	"libaom-av1": "av1",
	"libaom":     "av1",
	"libxvid":    "mpeg4",
	"xvid":       "mpeg4",
	"ffvhuff":    "ffv1",
	"prores_ks":  "prores",
	"prores_aw":  "prores",
	"flv":        "flv1",
}

var audioAliases = map[string]string{
	"libopus":    "opus",
	"libvorbis":  "vorbis",
	"libmp3lame": "mp3",
	"pcm_s16le":  "pcm",
	"pcm_s24le":  "pcm",
	"pcm_s32le":  "pcm",
	"dca":        "dts",
}

// NormalizeVideoCodec maps encoder-style names ("libx265", "hevc") to the
// canonical codec names used by the format table. Empty means h264.
func NormalizeVideoCodec(codec string) string {
	c := strings.ToLower(strings.TrimSpace(codec))
	if c == "" {
		return "h264"
	}
	if canonical, ok := videoAliases[c]; ok {
		return canonical
	}
	c = strings.TrimPrefix(c, "lib")
	if strings.HasPrefix(c, "x") && c != "xvid" {
		c = c[1:]
	}
	switch c {
	case "vpx-vp9":
		return "vp9"
	case "vpx":
		return "vp8"
	case "xvid":
		return "mpeg4"
	}
	return c
}

// NormalizeAudioCodec maps encoder-style names to canonical audio codecs.
// Empty means aac.
func NormalizeAudioCodec(codec string) string {
	c := strings.ToLower(strings.TrimSpace(codec))
	if c == "" {
		return "aac"
	}
	if canonical, ok := audioAliases[c]; ok {
		return canonical
	}
	return c
}

// encoderFamily classifies an encoder name by the hardware family that
// interprets its options. CPU encoders report "".
func encoderFamily(encoder string) string {
	e := strings.ToLower(encoder)
	for _, family := range []string{"nvenc", "qsv", "amf", "vaapi", "videotoolbox", "vulkan"} {
		if strings.Contains(e, family) {
			return family
		}
	}
	return ""
}

var (
	nvencPresets = map[string]bool{
		"default": true, "slow": true, "medium": true, "fast": true,
		"hp": true, "hq": true, "bd": true, "ll": true, "llhq": true, "llhp": true,
		"lossless": true, "losslesshp": true,
		"p1": true, "p2": true, "p3": true, "p4": true, "p5": true, "p6": true, "p7": true,
	}
	nvencPresetMap = map[string]string{
		"ultrafast": "p1",
		"superfast": "p2",
		"veryfast":  "p3",
		"faster":    "p4",
		"fast":      "p5",
		"medium":    "p6",
		"slow":      "p7",
		"slower":    "slow",
		"veryslow":  "slow",
	}

	qsvPresets = map[string]bool{
		"veryfast": true, "faster": true, "fast": true, "medium": true,
		"slow": true, "slower": true, "veryslow": true,
	}
	qsvPresetMap = map[string]string{
		"ultrafast": "veryfast",
		"superfast": "veryfast",
	}

	amfPresets   = map[string]bool{"speed": true, "balanced": true, "quality": true}
	amfPresetMap = map[string]string{
		"ultrafast": "speed",
		"superfast": "speed",
		"veryfast":  "speed",
		"faster":    "speed",
		"fast":      "speed",
		"medium":    "balanced",
		"slow":      "quality",
		"slower":    "quality",
		"veryslow":  "quality",
	}
)

// MapPreset translates a generic speed preset into the vocabulary of the
// encoder. It returns "" when the encoder has no equivalent, in which case no
// preset flag is emitted.
func MapPreset(encoder, preset string) string {
	p := strings.ToLower(strings.TrimSpace(preset))
	if p == "" {
		return ""
	}

	var (
		allowed map[string]bool
		mapping map[string]string
	)
	switch encoderFamily(encoder) {
	case "nvenc":
		allowed, mapping = nvencPresets, nvencPresetMap
	case "qsv":
		allowed, mapping = qsvPresets, qsvPresetMap
	case "amf":
		allowed, mapping = amfPresets, amfPresetMap
	case "vaapi", "videotoolbox", "vulkan":
		return ""
	default:
		return strings.TrimSpace(preset)
	}

	if m, ok := mapping[p]; ok {
		p = m
	}
	if !allowed[p] {
		return ""
	}
	return p
}

// MapTune returns the tune value when the encoder understands tune flags.
func MapTune(encoder, tune string) string {
	t := strings.TrimSpace(tune)
	if t == "" {
		return ""
	}
	switch strings.ToLower(encoder) {
	case "libx264", "libx265":
		return t
	}
	return ""
}

// familyOnlyOptions lists raw flags understood by a single hardware family.
var familyOnlyOptions = map[string]string{
	"-rc":               "nvenc",
	"-spatial_aq":       "nvenc",
	"-temporal_aq":      "nvenc",
	"-aq-strength":      "nvenc",
	"-look_ahead":       "qsv",
	"-look_ahead_depth": "qsv",
}

// FilterExtraOptions passes raw flag/value pairs through, dropping flags that
// only one hardware family understands when a different encoder is active.
// A value is the item after a flag unless that item is itself a flag.
func FilterExtraOptions(options []string, encoder string) []string {
	if len(options) == 0 {
		return nil
	}
	active := encoderFamily(encoder)

	out := make([]string, 0, len(options))
	for i := 0; i < len(options); {
		flag := options[i]
		hasValue := i+1 < len(options) && isOptionValue(options[i+1])

		step := 1
		if hasValue {
			step = 2
		}
		if owner, ok := familyOnlyOptions[flag]; ok && owner != active {
			i += step
			continue
		}
		out = append(out, options[i:i+step]...)
		i += step
	}
	return out
}

func isOptionValue(s string) bool {
	if !strings.HasPrefix(s, "-") {
		return true
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
