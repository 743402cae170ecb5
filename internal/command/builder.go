// Package command synthesizes encoder command lines from a job configuration
// and the probed description of its input. Synthesis is a pure function of
// its inputs: the same job and media info always produce the same arguments.
package command

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"mediaconv/internal/formats"
	"mediaconv/pkg/models"
)

// Accelerator supplies hardware decode flags and encoder upgrades.
// *hwaccel.Profile implements it.
type Accelerator interface {
	AccelerationArgs(codec string) []string
	Encoder(codec, fallback string) string
}

// Builder turns jobs into argument vectors. It is safe for concurrent use.
type Builder struct {
	formats *formats.Table
	accel   Accelerator
	threads int
}

// New creates a builder. accel may be nil for CPU-only operation.
// defaultThreads applies to jobs that leave threads unset; zero or less
// means min(cpu count, 8).
func New(table *formats.Table, accel Accelerator, defaultThreads int) *Builder {
	if table == nil {
		table = formats.New()
	}
	if defaultThreads <= 0 {
		defaultThreads = min(runtime.NumCPU(), 8)
	}
	return &Builder{formats: table, accel: accel, threads: defaultThreads}
}

// Plan is the resolved shape of a job: its container and the codec pair and
// encoders actually used after normalization and fallback.
type Plan struct {
	Container    string
	AudioOnly    bool // no video stream is produced
	VideoCodec   string
	AudioCodec   string
	VideoEncoder string // "copy" for stream copy, "" when AudioOnly
	AudioEncoder string // "copy" for stream copy, "" when audio is skipped
	Corrected    bool   // the requested pair was replaced by the fallback

	// VideoSubstituted is set when the requested video codec did not fit
	// the container. Codec-specific video settings are then dropped.
	VideoSubstituted bool
}

// Resolve computes the plan for job without building arguments.
func (b *Builder) Resolve(job *models.JobConfig) Plan {
	container := job.GetContainer()
	p := Plan{
		Container: container,
		AudioOnly: b.formats.IsAudioContainer(container) || job.ConversionType == models.ConversionVideoToAudio,
	}

	// An explicit encoder names the codec when the codec itself is unset.
	reqVideo := job.VideoCodec
	if strings.TrimSpace(reqVideo) == "" {
		reqVideo = job.VideoEncoder
	}
	reqVideo = NormalizeVideoCodec(reqVideo)
	reqAudio := job.AudioCodec
	if strings.TrimSpace(reqAudio) == "" {
		reqAudio = job.AudioEncoder
	}
	reqAudio = NormalizeAudioCodec(reqAudio)
	audioCopy := job.AudioCopy || reqAudio == "copy"

	p.VideoCodec, p.AudioCodec = b.formats.Fallback(container, reqVideo, reqAudio)
	p.VideoSubstituted = !p.AudioOnly && p.VideoCodec != reqVideo
	audioSubstituted := p.AudioCodec != reqAudio && !audioCopy
	p.Corrected = p.VideoCodec != reqVideo || audioSubstituted

	switch {
	case p.AudioOnly:
	case job.VideoCopy:
		p.VideoEncoder = "copy"
	case job.VideoEncoder != "" && !p.VideoSubstituted:
		p.VideoEncoder = job.VideoEncoder
	default:
		p.VideoEncoder = b.videoEncoder(p.VideoCodec)
		if job.UseHardware() && b.accel != nil {
			p.VideoEncoder = b.accel.Encoder(p.VideoCodec, p.VideoEncoder)
		}
	}

	switch {
	case job.ConversionType == models.ConversionAudioToVideo:
	case audioCopy:
		p.AudioEncoder = "copy"
	case job.AudioEncoder != "" && !audioSubstituted:
		p.AudioEncoder = job.AudioEncoder
	default:
		p.AudioEncoder = b.audioEncoder(p.AudioCodec)
	}
	return p
}

// videoEncoder returns the CPU encoder for a canonical video codec.
func (b *Builder) videoEncoder(codec string) string {
	if info, ok := b.formats.VideoCodec(codec); ok && info.CPUEncoder != "" {
		return info.CPUEncoder
	}
	return "lib" + codec
}

func (b *Builder) audioEncoder(codec string) string {
	if info, ok := b.formats.AudioCodec(codec); ok && info.Encoder != "" {
		return info.Encoder
	}
	return codec
}

// Build returns the encoder arguments for job, excluding the binary itself.
// info may be nil when nothing is known about the input.
func (b *Builder) Build(job *models.JobConfig, info *models.MediaInfo) ([]string, error) {
	if job == nil {
		return nil, errors.New("nil job")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if info == nil {
		info = &models.MediaInfo{}
	}

	plan := b.Resolve(job)
	if err := b.checkPlan(plan); err != nil {
		return nil, err
	}

	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "info", "-stats"}

	if job.UseHardware() && b.accel != nil && !plan.AudioOnly && plan.VideoEncoder != "copy" {
		args = append(args, b.accel.AccelerationArgs(plan.VideoCodec)...)
	}
	args = append(args, "-i", job.InputPath)

	if plan.AudioOnly {
		args = append(args, "-vn")
	} else {
		args = b.appendVideo(args, job, info, plan)
	}
	if job.ConversionType != models.ConversionAudioToVideo {
		args = b.appendAudio(args, job, plan)
	}

	if job.StartTime != "" {
		args = append(args, "-ss", job.StartTime)
	}
	if job.Duration != "" {
		args = append(args, "-t", job.Duration)
	}
	threads := job.Threads
	if threads <= 0 {
		threads = b.threads
	}
	args = append(args, "-threads", strconv.Itoa(threads))

	// Without an extension ffmpeg cannot pick the muxer itself.
	if job.Container != "" {
		if muxer := b.formats.Muxer(plan.Container); muxer != "" {
			args = append(args, "-f", muxer)
		}
	}
	return append(args, job.OutputPath), nil
}

// checkPlan verifies that the resolved pair fits the container. Fallback
// makes this hold for every known container.
func (b *Builder) checkPlan(p Plan) error {
	if b.formats.Format(p.Container) == nil {
		return nil
	}
	video, audio := p.VideoCodec, p.AudioCodec
	if p.AudioOnly || p.VideoEncoder == "copy" {
		video = ""
	}
	if p.AudioEncoder == "" || p.AudioEncoder == "copy" {
		audio = ""
	}
	if !b.formats.IsCompatible(p.Container, video, audio) {
		return fmt.Errorf("codecs %q/%q not allowed in %s", video, audio, p.Container)
	}
	return nil
}

func (b *Builder) appendVideo(args []string, job *models.JobConfig, info *models.MediaInfo, p Plan) []string {
	if p.VideoEncoder == "copy" {
		return append(args, "-c:v", "copy")
	}
	encoder := p.VideoEncoder
	args = append(args, "-c:v", encoder)

	switch job.GetEncodingMode() {
	case models.ModeCRF:
		args = append(args, "-crf", strconv.Itoa(job.GetCRF()))
	case models.ModeBitrate:
		args = append(args, "-b:v", job.GetVideoBitrate())
	case models.ModeTargetSize:
		kbps := TargetSizeBitrate(job.GetTargetSizeMB(), info.Duration, AudioBitrateKbps(job.AudioBitrate))
		args = append(args, "-b:v", strconv.Itoa(kbps)+"k")
	case models.ModeCQ:
		args = append(args, "-cq", strconv.Itoa(job.GetCQ()))
	case models.ModeLossless:
	}

	// Presets, tunes, profiles and levels belong to the requested codec.
	if !p.VideoSubstituted {
		if preset := MapPreset(encoder, job.VideoPreset); preset != "" {
			args = append(args, "-preset", preset)
		}
		if tune := MapTune(encoder, job.VideoTune); tune != "" {
			args = append(args, "-tune", tune)
		}
		args = appendIf(args, "-profile:v", job.VideoProfile)
		args = appendIf(args, "-level", job.VideoLevel)
	}
	args = appendIf(args, "-pix_fmt", job.PixelFormat)
	args = appendIf(args, "-maxrate", job.MaxRate)
	args = appendIf(args, "-bufsize", job.BufSize)
	if job.ForceCFR {
		args = append(args, "-vsync", "cfr")
	}

	if gop, ok := ResolveGOP(job.GetGOPMode(), info.FrameRate(), job.GOPSize, job.GetGOPSeconds()); ok {
		args = append(args, "-g", strconv.Itoa(gop))
	}
	if job.BFrames != nil {
		args = append(args, "-bf", strconv.Itoa(*job.BFrames))
	}

	if chain := filterChain(job); chain != "" {
		args = append(args, "-vf", chain)
	}
	args = appendIf(args, "-r", job.FrameRate)

	switch {
	case job.MovFlags != "" && (p.Container == "mp4" || p.Container == "mov"):
		args = append(args, "-movflags", job.MovFlags)
	case p.Container == "mp4":
		args = append(args, "-movflags", "+faststart")
	}

	if !p.VideoSubstituted {
		args = append(args, FilterExtraOptions(job.ExtraVideoOptions, encoder)...)
	}

	args = appendIf(args, "-color_primaries", job.ColorPrimaries)
	args = appendIf(args, "-color_trc", job.ColorTRC)
	args = appendIf(args, "-colorspace", job.ColorSpace)
	return args
}

func (b *Builder) appendAudio(args []string, job *models.JobConfig, p Plan) []string {
	if p.AudioEncoder == "copy" {
		return append(args, "-c:a", "copy")
	}
	args = append(args, "-c:a", p.AudioEncoder)

	if job.AudioBitrate != "" && b.formats.IsLossy(p.AudioCodec) {
		args = append(args, "-b:a", job.AudioBitrate)
	}
	if job.AudioSampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(job.AudioSampleRate))
	}
	if job.AudioChannels > 0 {
		args = append(args, "-ac", strconv.Itoa(job.AudioChannels))
	}
	return append(args, job.ExtraAudioOptions...)
}

// filterChain joins the scale filter and explicit filters into one graph.
func filterChain(job *models.JobConfig) string {
	var filters []string
	if job.ScaleWidth != 0 || job.ScaleHeight != 0 {
		w, h := job.ScaleWidth, job.ScaleHeight
		if w == 0 {
			w = -2
		}
		if h == 0 {
			h = -2
		}
		filters = append(filters, fmt.Sprintf("scale=%d:%d", w, h))
	}
	for _, f := range job.VideoFilters {
		if f = strings.TrimSpace(f); f != "" {
			filters = append(filters, f)
		}
	}
	return strings.Join(filters, ",")
}

func appendIf(args []string, flag, value string) []string {
	if value == "" {
		return args
	}
	return append(args, flag, value)
}
