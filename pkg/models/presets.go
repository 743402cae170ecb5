package models

import (
	"fmt"
	"sort"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// mp4Delivery carries the flags shared by the delivery presets. They target
// MP4, but the output extension still decides the container.
func mp4Delivery(p JobConfig) *JobConfig {
	p.PixelFormat = "yuv420p"
	p.GOPMode = GOPHalfFPS
	p.BFrames = intPtr(2)
	p.MovFlags = "+faststart"
	p.ColorPrimaries = "bt709"
	p.ColorTRC = "bt709"
	p.ColorSpace = "bt709"
	p.AudioSampleRate = 48000
	p.UseHardwareAcceleration = boolPtr(true)
	if p.VideoProfile == "" {
		p.VideoProfile = "high"
	}
	return &p
}

// Presets are the built-in job templates, keyed by identifier.
var Presets = map[string]*JobConfig{
	"ultra_fast": mp4Delivery(JobConfig{
		VideoCodec: "h264", VideoPreset: "ultrafast",
		EncodingMode: ModeCRF, CRF: intPtr(28),
		AudioCodec: "aac", AudioBitrate: "128k",
	}),
	"balanced": mp4Delivery(JobConfig{
		VideoCodec: "h264", VideoPreset: "medium",
		EncodingMode: ModeCRF, CRF: intPtr(22),
		AudioCodec: "aac", AudioBitrate: "192k",
	}),
	"high_quality": mp4Delivery(JobConfig{
		VideoCodec: "h264", VideoPreset: "slow",
		EncodingMode: ModeCRF, CRF: intPtr(18),
		AudioCodec: "aac", AudioBitrate: "256k",
	}),
	"small_size": mp4Delivery(JobConfig{
		VideoCodec: "h265", VideoPreset: "slow",
		EncodingMode: ModeCRF, CRF: intPtr(27),
		AudioCodec: "aac", AudioBitrate: "128k",
	}),
	"youtube": mp4Delivery(JobConfig{
		VideoCodec: "h264", VideoPreset: "medium",
		EncodingMode: ModeCRF, CRF: intPtr(20),
		AudioCodec: "aac", AudioBitrate: "192k",
		ForceCFR: true,
	}),
	"instagram": mp4Delivery(JobConfig{
		VideoCodec: "h264", VideoPreset: "medium",
		EncodingMode: ModeCRF, CRF: intPtr(21),
		AudioCodec: "aac", AudioBitrate: "128k",
		FrameRate:    "30",
		VideoFilters: []string{`scale='min(1080\,iw)':-2`},
		MaxRate:      "8M", BufSize: "16M",
	}),
	"archival_lossless": {
		VideoCodec: "ffv1", EncodingMode: ModeLossless,
		AudioCodec: "flac", AudioSampleRate: 48000,
		BFrames: intPtr(0), GOPMode: GOPCustom, GOPSize: 1,
		ExtraVideoOptions:       []string{"-level", "3", "-slices", "16", "-slicecrc", "1"},
		UseHardwareAcceleration: boolPtr(false),
	},
	"editing_mezzanine": {
		VideoCodec: "prores", VideoEncoder: "prores_ks",
		EncodingMode: ModeLossless, VideoProfile: "3", PixelFormat: "yuv422p10le",
		AudioCodec: "pcm", AudioEncoder: "pcm_s24le", AudioSampleRate: 48000, AudioChannels: 2,
		BFrames: intPtr(0), GOPMode: GOPCustom, GOPSize: 1,
		UseHardwareAcceleration: boolPtr(false),
	},
	"webm_vp9": {
		VideoCodec: "vp9", VideoEncoder: "libvpx-vp9", VideoPreset: "good",
		EncodingMode: ModeCRF, CRF: intPtr(30),
		GOPMode: GOPCustom, GOPSize: 240, BFrames: intPtr(0),
		ExtraVideoOptions: []string{"-b:v", "0", "-row-mt", "1", "-tile-columns", "2", "-tile-rows", "1"},
		AudioCodec:        "opus", AudioEncoder: "libopus", AudioBitrate: "128k", AudioSampleRate: 48000,
		UseHardwareAcceleration: boolPtr(false),
	},
	"hardware_h264": mp4Delivery(JobConfig{
		VideoCodec: "h264", EncodingMode: ModeCQ, CQ: intPtr(20),
		MaxRate: "8M", BufSize: "24M",
		ExtraVideoOptions: []string{"-rc", "vbr", "-spatial_aq", "1"},
		AudioCodec:        "aac", AudioBitrate: "160k",
	}),
	"animation": mp4Delivery(JobConfig{
		VideoCodec: "h264", VideoPreset: "slow",
		EncodingMode: ModeCRF, CRF: intPtr(20), VideoTune: "animation",
		AudioCodec: "aac", AudioBitrate: "128k",
	}),
}

// PresetNames returns the built-in preset identifiers in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyPreset returns a new job built from the named preset with every field
// the job sets layered on top. Keys given explicitly in a decoded job win
// even when their value is false or zero. The job itself is not modified.
func ApplyPreset(job *JobConfig, name string) (*JobConfig, error) {
	preset, ok := Presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	merged := preset.Clone()
	overlay(merged, job.Clone())
	return merged, nil
}
