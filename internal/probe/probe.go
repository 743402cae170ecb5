// Package probe analyses a job's input with the external prober binary and
// turns its JSON report into a models.MediaInfo.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediaconv/pkg/models"
)

// DefaultTimeout bounds a single probe call.
const DefaultTimeout = 30 * time.Second

// Runner executes the prober and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// Prober runs ffprobe against input files.
type Prober struct {
	path    string
	timeout time.Duration
	run     Runner
}

// New creates a prober for the binary at path.
func New(path string, timeout time.Duration) *Prober {
	if strings.TrimSpace(path) == "" {
		path = "ffprobe"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{path: path, timeout: timeout, run: execRunner}
}

// Path returns the prober binary in use.
func (p *Prober) Path() string {
	return p.path
}

// Probe inspects input and returns its stream summary. A failed, timed out or
// unparsable probe is reported as an error.
func (p *Prober) Probe(ctx context.Context, input string) (*models.MediaInfo, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, errors.New("probe: empty input path")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.run(ctx, p.path,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		input,
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("probe %s: timed out after %s", input, p.timeout)
		}
		return nil, fmt.Errorf("probe %s: %w", input, err)
	}

	info, err := ParseJSON(out)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", input, err)
	}
	return info, nil
}

type report struct {
	Format  *format  `json:"format"`
	Streams []stream `json:"streams"`
}

type format struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

type stream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// ParseJSON converts ffprobe's JSON report into a MediaInfo. Empty output or
// a report without a format section is an error.
func ParseJSON(data []byte) (*models.MediaInfo, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("empty prober output")
	}

	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse prober output: %w", err)
	}
	if r.Format == nil {
		return nil, errors.New("prober output has no format section")
	}

	info := &models.MediaInfo{
		Duration:  nonNegative(parseFloat(r.Format.Duration)),
		Size:      int64(nonNegative(parseFloat(r.Format.Size))),
		BitRate:   int64(nonNegative(parseFloat(r.Format.BitRate))),
		Video:     []models.VideoStream{},
		Audio:     []models.AudioStream{},
		Subtitles: []models.SubtitleStream{},
	}

	for _, s := range r.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			rate := s.RFrameRate
			if rate == "" || rate == "0/0" {
				rate = s.AvgFrameRate
			}
			info.Video = append(info.Video, models.VideoStream{
				Codec:     s.CodecName,
				Width:     s.Width,
				Height:    s.Height,
				FrameRate: ParseFrameRate(rate),
			})
		case "audio":
			sampleRate, _ := strconv.Atoi(strings.TrimSpace(s.SampleRate))
			info.Audio = append(info.Audio, models.AudioStream{
				Codec:      s.CodecName,
				SampleRate: sampleRate,
				Channels:   s.Channels,
			})
		case "subtitle":
			info.Subtitles = append(info.Subtitles, models.SubtitleStream{Codec: s.CodecName})
		}
	}
	return info, nil
}

// ParseFrameRate parses "30000/1001" or "25" style rates. Unknown or invalid
// rates yield 0.
func ParseFrameRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" || rate == "0/0" {
		return 0
	}
	num, den, isFraction := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !isFraction {
		return nonNegative(n)
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return nonNegative(n / d)
}

// SiblingPath derives the prober binary that ships next to the encoder
// binary, keeping any directory and extension.
func SiblingPath(ffmpegPath string) string {
	if strings.TrimSpace(ffmpegPath) == "" {
		return "ffprobe"
	}
	dir, base := filepath.Split(ffmpegPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if i := strings.LastIndex(strings.ToLower(name), "ffmpeg"); i >= 0 {
		name = name[:i] + "ffprobe" + name[i+len("ffmpeg"):]
	} else {
		name = "ffprobe"
	}
	return dir + name + ext
}

func parseFloat(value string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return v
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
