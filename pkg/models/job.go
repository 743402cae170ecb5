package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ConversionType narrows which streams a job produces.
type ConversionType string

const (
	ConversionDefault      ConversionType = ""
	ConversionVideoToAudio ConversionType = "video_to_audio" // Drop video, keep audio only.
	ConversionAudioToVideo ConversionType = "audio_to_video" // Skip audio settings entirely.
)

// EncodingMode selects how the video rate is controlled.
type EncodingMode string

const (
	ModeCRF        EncodingMode = "crf"
	ModeBitrate    EncodingMode = "bitrate"
	ModeTargetSize EncodingMode = "target_size"
	ModeCQ         EncodingMode = "cq"
	ModeLossless   EncodingMode = "lossless"
)

// GOPMode selects how the keyframe interval is derived.
type GOPMode string

const (
	GOPHalfFPS   GOPMode = "half_fps"
	GOPSameFPS   GOPMode = "same_fps"
	GOPDoubleFPS GOPMode = "double_fps"
	GOPSeconds   GOPMode = "seconds"
	GOPCustom    GOPMode = "custom"
)

// Defaults applied when a job leaves a parameter unset.
const (
	DefaultCRF          = 23
	DefaultCQ           = 20
	DefaultVideoBitrate = "5M"
	DefaultTargetSizeMB = 50.0
	DefaultGOPSeconds   = 2.0
	DefaultVideoCodec   = "h264"
	DefaultAudioCodec   = "aac"
)

// JobConfig is the job submission schema. Only InputPath and OutputPath are
// required; every other field is optional and falls back to a default.
type JobConfig struct {
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	InputPath  string `json:"input_path" yaml:"input_path"`
	OutputPath string `json:"output_path" yaml:"output_path"`
	Container  string `json:"container,omitempty" yaml:"container,omitempty"` // Only for outputs without an extension; must match one otherwise.

	ConversionType ConversionType `json:"conversion_type,omitempty" yaml:"conversion_type,omitempty"`

	// Video
	VideoCodec   string `json:"video_codec,omitempty" yaml:"video_codec,omitempty"`     // e.g. "h264", "libx265", "vp9"
	VideoEncoder string `json:"video_encoder,omitempty" yaml:"video_encoder,omitempty"` // Explicit encoder override, e.g. "prores_ks"
	VideoCopy    bool   `json:"video_copy,omitempty" yaml:"video_copy,omitempty"`
	VideoPreset  string `json:"video_preset,omitempty" yaml:"video_preset,omitempty"`
	VideoTune    string `json:"video_tune,omitempty" yaml:"video_tune,omitempty"`
	VideoProfile string `json:"video_profile,omitempty" yaml:"video_profile,omitempty"`
	VideoLevel   string `json:"video_level,omitempty" yaml:"video_level,omitempty"`
	PixelFormat  string `json:"pixel_format,omitempty" yaml:"pixel_format,omitempty"`

	EncodingMode EncodingMode `json:"encoding_mode,omitempty" yaml:"encoding_mode,omitempty"`
	CRF          *int         `json:"crf,omitempty" yaml:"crf,omitempty"`
	CQ           *int         `json:"cq,omitempty" yaml:"cq,omitempty"`
	VideoBitrate string       `json:"video_bitrate,omitempty" yaml:"video_bitrate,omitempty"` // e.g. "5M", "2500k"
	TargetSizeMB float64      `json:"target_size_mb,omitempty" yaml:"target_size_mb,omitempty"`
	MaxRate      string       `json:"maxrate,omitempty" yaml:"maxrate,omitempty"`
	BufSize      string       `json:"bufsize,omitempty" yaml:"bufsize,omitempty"`

	ForceCFR  bool   `json:"force_cfr,omitempty" yaml:"force_cfr,omitempty"`
	FrameRate string `json:"framerate,omitempty" yaml:"framerate,omitempty"`

	GOPMode    GOPMode `json:"gop_mode,omitempty" yaml:"gop_mode,omitempty"`
	GOPSize    int     `json:"gop_size,omitempty" yaml:"gop_size,omitempty"`       // Fixed frame count for "custom", fallback for the others.
	GOPSeconds float64 `json:"gop_seconds,omitempty" yaml:"gop_seconds,omitempty"` // Used by "seconds".
	BFrames    *int    `json:"b_frames,omitempty" yaml:"b_frames,omitempty"`

	ScaleWidth   int      `json:"scale_width,omitempty" yaml:"scale_width,omitempty"`
	ScaleHeight  int      `json:"scale_height,omitempty" yaml:"scale_height,omitempty"`
	VideoFilters []string `json:"video_filters,omitempty" yaml:"video_filters,omitempty"`

	MovFlags       string `json:"movflags,omitempty" yaml:"movflags,omitempty"`
	ColorPrimaries string `json:"color_primaries,omitempty" yaml:"color_primaries,omitempty"`
	ColorTRC       string `json:"color_trc,omitempty" yaml:"color_trc,omitempty"`
	ColorSpace     string `json:"colorspace,omitempty" yaml:"colorspace,omitempty"`

	ExtraVideoOptions []string `json:"extra_video_options,omitempty" yaml:"extra_video_options,omitempty"`

	// Audio
	AudioCodec        string   `json:"audio_codec,omitempty" yaml:"audio_codec,omitempty"`
	AudioEncoder      string   `json:"audio_encoder,omitempty" yaml:"audio_encoder,omitempty"`
	AudioCopy         bool     `json:"audio_copy,omitempty" yaml:"audio_copy,omitempty"`
	AudioBitrate      string   `json:"audio_bitrate,omitempty" yaml:"audio_bitrate,omitempty"` // e.g. "128k"
	AudioSampleRate   int      `json:"audio_sample_rate,omitempty" yaml:"audio_sample_rate,omitempty"`
	AudioChannels     int      `json:"audio_channels,omitempty" yaml:"audio_channels,omitempty"`
	ExtraAudioOptions []string `json:"extra_audio_options,omitempty" yaml:"extra_audio_options,omitempty"`

	// Execution
	UseHardwareAcceleration *bool  `json:"use_hardware_acceleration,omitempty" yaml:"use_hardware_acceleration,omitempty"`
	Threads                 int    `json:"threads,omitempty" yaml:"threads,omitempty"`
	StartTime               string `json:"start_time,omitempty" yaml:"start_time,omitempty"` // Trim start offset, e.g. "00:01:30"
	Duration                string `json:"duration,omitempty" yaml:"duration,omitempty"`     // Trim length, e.g. "30"

	// present holds the keys a decoded document actually set, so that an
	// explicit zero can override a preset. Nil for jobs built in code.
	present map[string]struct{}
}

// MaxTargetSizeMB bounds target_size_mb (1 TB).
const MaxTargetSizeMB = 1_000_000

// GetContainer returns the output container. The output file extension
// decides it, since that is what selects the muxer; the Container field is
// used only for outputs without one.
func (j *JobConfig) GetContainer() string {
	if ext := outputExt(j.OutputPath); ext != "" {
		return ext
	}
	return strings.ToLower(strings.TrimSpace(j.Container))
}

func outputExt(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(path))), ".")
}

// GetEncodingMode returns the encoding mode, defaulting to CRF.
func (j *JobConfig) GetEncodingMode() EncodingMode {
	if j.EncodingMode == "" {
		return ModeCRF
	}
	return EncodingMode(strings.ToLower(string(j.EncodingMode)))
}

// GetGOPMode returns the GOP mode, defaulting to half the source frame rate.
func (j *JobConfig) GetGOPMode() GOPMode {
	if j.GOPMode == "" {
		return GOPHalfFPS
	}
	return GOPMode(strings.ToLower(string(j.GOPMode)))
}

func (j *JobConfig) GetCRF() int {
	if j.CRF != nil {
		return *j.CRF
	}
	return DefaultCRF
}

func (j *JobConfig) GetCQ() int {
	if j.CQ != nil {
		return *j.CQ
	}
	return DefaultCQ
}

func (j *JobConfig) GetVideoBitrate() string {
	if j.VideoBitrate != "" {
		return j.VideoBitrate
	}
	return DefaultVideoBitrate
}

func (j *JobConfig) GetTargetSizeMB() float64 {
	if j.TargetSizeMB > 0 {
		return j.TargetSizeMB
	}
	return DefaultTargetSizeMB
}

func (j *JobConfig) GetGOPSeconds() float64 {
	if j.GOPSeconds > 0 {
		return j.GOPSeconds
	}
	return DefaultGOPSeconds
}

// UseHardware reports whether hardware acceleration was requested. It is on
// unless the job explicitly disables it.
func (j *JobConfig) UseHardware() bool {
	return j.UseHardwareAcceleration == nil || *j.UseHardwareAcceleration
}

// Clone returns a deep copy so callers can derive corrected variants
// without touching the submitted job.
func (j *JobConfig) Clone() *JobConfig {
	c := *j
	c.CRF = cloneInt(j.CRF)
	c.CQ = cloneInt(j.CQ)
	c.BFrames = cloneInt(j.BFrames)
	if j.UseHardwareAcceleration != nil {
		v := *j.UseHardwareAcceleration
		c.UseHardwareAcceleration = &v
	}
	c.VideoFilters = append([]string(nil), j.VideoFilters...)
	c.ExtraVideoOptions = append([]string(nil), j.ExtraVideoOptions...)
	c.ExtraAudioOptions = append([]string(nil), j.ExtraAudioOptions...)
	if j.present != nil {
		c.present = make(map[string]struct{}, len(j.present))
		for k := range j.present {
			c.present[k] = struct{}{}
		}
	}
	return &c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Validate checks required paths and enum-valued fields.
func (j *JobConfig) Validate() error {
	if strings.TrimSpace(j.InputPath) == "" {
		return errors.New("input_path is required")
	}
	if strings.TrimSpace(j.OutputPath) == "" {
		return errors.New("output_path is required")
	}
	if c := strings.ToLower(strings.TrimSpace(j.Container)); c != "" {
		if ext := outputExt(j.OutputPath); ext != "" && ext != c {
			return fmt.Errorf("container %q does not match output extension %q", j.Container, ext)
		}
	}

	switch j.ConversionType {
	case ConversionDefault, ConversionVideoToAudio, ConversionAudioToVideo:
	default:
		return fmt.Errorf("invalid conversion_type %q", j.ConversionType)
	}

	switch j.GetEncodingMode() {
	case ModeCRF, ModeBitrate, ModeTargetSize, ModeCQ, ModeLossless:
	default:
		return fmt.Errorf("invalid encoding_mode %q (use crf, bitrate, target_size, cq or lossless)", j.EncodingMode)
	}

	switch j.GetGOPMode() {
	case GOPHalfFPS, GOPSameFPS, GOPDoubleFPS, GOPSeconds, GOPCustom:
	default:
		return fmt.Errorf("invalid gop_mode %q", j.GOPMode)
	}

	if j.GOPSize < 0 {
		return errors.New("gop_size must not be negative")
	}
	if j.TargetSizeMB < 0 {
		return errors.New("target_size_mb must not be negative")
	}
	if j.TargetSizeMB > MaxTargetSizeMB {
		return fmt.Errorf("target_size_mb must not exceed %d", MaxTargetSizeMB)
	}
	if j.Threads < 0 {
		return errors.New("threads must not be negative")
	}
	if j.ScaleWidth < -2 || j.ScaleHeight < -2 {
		return errors.New("scale dimensions must be positive, -1 or -2")
	}
	return nil
}
