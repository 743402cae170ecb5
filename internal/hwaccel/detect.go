package hwaccel

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v3/host"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

var familyPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(Families))
	for _, family := range Families {
		m[family] = regexp.MustCompile(`\b` + family + `_(\w+)`)
	}
	return m
}()

// Detector builds the hardware Profile once per process and hands out the
// cached result until Redetect is called.
type Detector struct {
	ffmpegPath string
	timeout    time.Duration
	logger     hclog.Logger
	run        Runner
	goos       string

	mu      sync.Mutex
	profile *Profile
	ok      bool
}

// NewDetector creates a detector for the encoder binary at ffmpegPath.
// timeout bounds each external query.
func NewDetector(ffmpegPath string, timeout time.Duration, logger hclog.Logger) *Detector {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Detector{
		ffmpegPath: ffmpegPath,
		timeout:    timeout,
		logger:     logger.Named("hwaccel"),
		run:        execRunner,
	}
}

// Detect returns the cached profile, running detection on first use. The
// boolean reports whether a hardware method was selected; false is not an
// error, CPU-only operation remains valid.
func (d *Detector) Detect(ctx context.Context) (*Profile, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.profile == nil {
		d.profile = d.detect(ctx)
		d.ok = d.profile.Accelerated()
	}
	return d.profile, d.ok
}

// Redetect discards the cached profile and runs detection again.
func (d *Detector) Redetect(ctx context.Context) (*Profile, bool) {
	d.mu.Lock()
	d.profile = nil
	d.mu.Unlock()
	return d.Detect(ctx)
}

func (d *Detector) detect(ctx context.Context) *Profile {
	p := &Profile{
		Best:     MethodNone,
		Encoders: make(map[string][]string),
		Platform: d.platform(ctx),
	}

	if d.ffmpegPath == "" {
		return p
	}

	if out, err := d.query(ctx, d.ffmpegPath, "-hide_banner", "-hwaccels"); err != nil {
		d.logger.Warn("hwaccel query failed", "error", err)
	} else {
		p.Methods = ParseHWAccels(out)
	}

	if out, err := d.query(ctx, d.ffmpegPath, "-hide_banner", "-encoders"); err != nil {
		d.logger.Warn("encoder query failed", "error", err)
	} else {
		p.Encoders = ParseEncoders(out)
	}

	p.GPU = d.detectGPU(ctx, p.Platform)
	p.Best = SelectBest(p.Platform, p.GPU, p.Methods)

	d.logger.Info("hardware detection complete",
		"platform", p.Platform,
		"gpu", p.GPU,
		"methods", p.Methods,
		"best", p.Best)
	return p
}

func (d *Detector) query(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.run(ctx, name, args...)
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// platform resolves the host OS through gopsutil, falling back to the
// compile-time GOOS.
func (d *Detector) platform(ctx context.Context) string {
	if d.goos != "" {
		return d.goos
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if info, err := host.InfoWithContext(ctx); err == nil && info.OS != "" {
		return strings.ToLower(info.OS)
	}
	return runtime.GOOS
}

// detectGPU asks the OS for the active display adapter. Absence is not fatal.
func (d *Detector) detectGPU(ctx context.Context, platform string) string {
	var (
		out []byte
		err error
	)
	switch platform {
	case "windows":
		out, err = d.query(ctx, "wmic", "path", "win32_VideoController", "get", "name")
		if err == nil {
			return parseWMIC(out)
		}
	case "darwin":
		out, err = d.query(ctx, "system_profiler", "SPDisplaysDataType")
		if err == nil {
			return parseSystemProfiler(out)
		}
	default:
		out, err = d.query(ctx, "lspci")
		if err == nil {
			return parseLSPCI(out)
		}
	}
	d.logger.Debug("gpu query failed", "error", err)
	return ""
}

// ParseHWAccels extracts the method list printed by "ffmpeg -hwaccels".
func ParseHWAccels(out []byte) []Method {
	var methods []Method
	inList := false
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			methods = append(methods, Method(line))
		}
	}
	return methods
}

// ParseEncoders extracts the hardware suffixes present for each codec family
// in "ffmpeg -encoders" output.
func ParseEncoders(out []byte) map[string][]string {
	text := string(out)
	encoders := make(map[string][]string, len(Families))
	for _, family := range Families {
		seen := make(map[string]bool)
		suffixes := []string{}
		for _, m := range familyPatterns[family].FindAllStringSubmatch(text, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				suffixes = append(suffixes, m[1])
			}
		}
		encoders[family] = suffixes
	}
	return encoders
}

// PriorityOrder returns the acceleration methods to try for a platform and
// GPU descriptor, best first.
func PriorityOrder(platform, gpu string) []Method {
	gpu = strings.ToLower(gpu)

	switch platform {
	case "windows":
		switch {
		case strings.Contains(gpu, "nvidia"):
			return []Method{MethodCUDA, MethodD3D11VA, MethodDXVA2, MethodVulkan, MethodOpenCL}
		case strings.Contains(gpu, "amd") || strings.Contains(gpu, "radeon"):
			return []Method{MethodVulkan, MethodD3D11VA, MethodOpenCL, MethodDXVA2}
		case strings.Contains(gpu, "intel"):
			return []Method{MethodQSV, MethodD3D11VA, MethodVulkan, MethodOpenCL}
		default:
			return []Method{MethodD3D11VA, MethodDXVA2, MethodVulkan, MethodOpenCL}
		}
	case "darwin":
		return []Method{MethodVideoToolbox}
	default:
		return []Method{MethodVulkan, MethodOpenCL}
	}
}

// SelectBest picks the first method in the platform priority order that the
// binary also reported.
func SelectBest(platform, gpu string, available []Method) Method {
	if len(available) == 0 {
		return MethodNone
	}
	have := make(map[Method]bool, len(available))
	for _, m := range available {
		have[m] = true
	}
	for _, m := range PriorityOrder(platform, gpu) {
		if have[m] {
			return m
		}
	}
	return MethodNone
}

func parseWMIC(out []byte) string {
	lines := strings.Split(string(out), "\n")
	for _, line := range lines[1:] {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

func parseSystemProfiler(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if name, ok := strings.CutPrefix(line, "Chipset Model:"); ok {
			return strings.TrimSpace(name)
		}
	}
	return ""
}

func parseLSPCI(out []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "VGA compatible controller") && !strings.Contains(line, "3D controller") {
			continue
		}
		// "01:00.0 VGA compatible controller: NVIDIA Corporation ..."
		if idx := strings.Index(line, "controller:"); idx >= 0 {
			return strings.TrimSpace(line[idx+len("controller:"):])
		}
	}
	return ""
}
