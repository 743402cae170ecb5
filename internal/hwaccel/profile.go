// Package hwaccel detects which hardware acceleration methods and hardware
// encoders the encoder binary can use, and turns that into an immutable
// Profile consulted during command synthesis.
package hwaccel

import (
	"sort"
	"strings"
)

// Method is a hardware acceleration pathway known to the encoder binary.
type Method string

const (
	MethodNone         Method = "none"
	MethodCUDA         Method = "cuda"
	MethodVulkan       Method = "vulkan"
	MethodOpenCL       Method = "opencl"
	MethodVideoToolbox Method = "videotoolbox"
	MethodQSV          Method = "qsv"
	MethodDXVA2        Method = "dxva2"
	MethodD3D11VA      Method = "d3d11va"
	MethodVAAPI        Method = "vaapi"
)

// Hardware encoder suffixes as they appear in "<family>_<suffix>" names.
const (
	SuffixNVENC        = "nvenc"
	SuffixQSV          = "qsv"
	SuffixAMF          = "amf"
	SuffixVAAPI        = "vaapi"
	SuffixVideoToolbox = "videotoolbox"
	SuffixVulkan       = "vulkan"
)

// Families are the codec families scanned in the encoder catalog.
var Families = []string{"h264", "hevc", "vp9", "av1"}

// encoderPreference maps an acceleration method to the hardware encoder
// suffixes it may use, in precedence order.
var encoderPreference = map[Method][]string{
	MethodCUDA:         {SuffixNVENC},
	MethodQSV:          {SuffixQSV},
	MethodVideoToolbox: {SuffixVideoToolbox},
	MethodD3D11VA:      {SuffixAMF, SuffixQSV, SuffixNVENC},
	MethodDXVA2:        {SuffixAMF, SuffixQSV, SuffixNVENC},
	MethodVulkan:       {SuffixVulkan},
	MethodOpenCL:       {SuffixNVENC, SuffixQSV, SuffixAMF},
}

// genericEncoders are tried after the method-specific ones whenever some
// acceleration method is active.
var genericEncoders = []string{SuffixVAAPI}

// Family maps a canonical codec name to the family used in hardware encoder
// names ("h265" encodes as "hevc_*").
func Family(codec string) string {
	switch strings.ToLower(codec) {
	case "h265", "hevc":
		return "hevc"
	default:
		return strings.ToLower(codec)
	}
}

// Profile is the result of hardware detection. It is built once and only
// read afterwards, so it is safe to share between concurrent jobs.
type Profile struct {
	GPU      string              `json:"gpu,omitempty"`
	Platform string              `json:"platform"`
	Methods  []Method            `json:"methods"`
	Encoders map[string][]string `json:"encoders"` // family -> hardware suffixes
	Best     Method              `json:"best"`
}

// CPUOnly returns a profile that never selects hardware.
func CPUOnly() *Profile {
	return &Profile{
		Best:     MethodNone,
		Encoders: map[string][]string{},
	}
}

// Accelerated reports whether a hardware method was selected.
func (p *Profile) Accelerated() bool {
	return p != nil && p.Best != "" && p.Best != MethodNone
}

// HasEncoder reports whether family has a hardware encoder with suffix.
func (p *Profile) HasEncoder(family, suffix string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Encoders[family] {
		if s == suffix {
			return true
		}
	}
	return false
}

// AccelerationArgs returns the decode acceleration flags for the selected
// method. CUDA only enables decode; output frames are never forced onto the
// GPU, since that breaks filter graphs on partial builds.
func (p *Profile) AccelerationArgs(codec string) []string {
	if !p.Accelerated() {
		return nil
	}

	switch p.Best {
	case MethodCUDA:
		return []string{"-hwaccel", "cuda"}
	case MethodQSV:
		return []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}
	case MethodVulkan, MethodOpenCL, MethodD3D11VA, MethodDXVA2, MethodVideoToolbox, MethodVAAPI:
		return []string{"-hwaccel", string(p.Best)}
	}
	return nil
}

// Encoder upgrades the CPU fallback encoder to a hardware encoder when the
// selected method has a matching encoder for the codec family. Otherwise
// fallback is returned unchanged.
func (p *Profile) Encoder(codec, fallback string) string {
	if !p.Accelerated() {
		return fallback
	}

	family := Family(codec)
	if len(p.Encoders[family]) == 0 {
		return fallback
	}

	for _, suffix := range encoderPreference[p.Best] {
		if p.HasEncoder(family, suffix) {
			return family + "_" + suffix
		}
	}
	for _, suffix := range genericEncoders {
		if p.HasEncoder(family, suffix) {
			return family + "_" + suffix
		}
	}
	return fallback
}

// Info is a flat summary for display and the HTTP API.
type Info struct {
	GPU          string              `json:"gpu"`
	Platform     string              `json:"platform"`
	Acceleration string              `json:"acceleration"`
	Methods      []string            `json:"hwaccels"`
	Encoders     map[string][]string `json:"encoders"`
}

// Info summarises the profile.
func (p *Profile) Info() Info {
	info := Info{
		GPU:          "None detected",
		Platform:     p.Platform,
		Acceleration: string(MethodNone),
		Encoders:     map[string][]string{},
	}
	if p.GPU != "" {
		info.GPU = p.GPU
	}
	if p.Best != "" {
		info.Acceleration = string(p.Best)
	}
	for _, m := range p.Methods {
		info.Methods = append(info.Methods, string(m))
	}
	for family, suffixes := range p.Encoders {
		names := make([]string, 0, len(suffixes))
		for _, s := range suffixes {
			names = append(names, family+"_"+s)
		}
		sort.Strings(names)
		info.Encoders[family] = names
	}
	return info
}
