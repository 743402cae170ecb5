package hwaccel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHWAccels = `Hardware acceleration methods:
vdpau
cuda
vaapi
qsv
d3d11va
opencl
vulkan

`

const sampleEncoders = `Encoders:
 V..... = Video
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 V....D h264_amf             AMD AMF H.264 Encoder (codec h264)
 V....D h264_nvenc           NVIDIA NVENC H.264 encoder (codec h264)
 V..... h264_qsv             H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (Intel Quick Sync Video acceleration) (codec h264)
 V....D h264_vaapi           H.264/AVC (VAAPI) (codec h264)
 V....D libx265              libx265 H.265 / HEVC (codec hevc)
 V....D hevc_nvenc           NVIDIA NVENC hevc encoder (codec hevc)
 V....D hevc_vaapi           H.265/HEVC (VAAPI) (codec hevc)
 V....D libvpx-vp9           libvpx VP9 (codec vp9)
 V....D vp9_vaapi            VP9 (VAAPI) (codec vp9)
 V....D libaom-av1           libaom AV1 (codec av1)
 V....D av1_nvenc            NVIDIA NVENC av1 encoder (codec av1)
`

func TestParseHWAccels(t *testing.T) {
	methods := ParseHWAccels([]byte(sampleHWAccels))
	assert.Equal(t, []Method{"vdpau", MethodCUDA, MethodVAAPI, MethodQSV, MethodD3D11VA, MethodOpenCL, MethodVulkan}, methods)

	assert.Empty(t, ParseHWAccels([]byte("ffmpeg version n7.0\n")))
}

func TestParseEncoders(t *testing.T) {
	enc := ParseEncoders([]byte(sampleEncoders))

	assert.Equal(t, []string{"amf", "nvenc", "qsv", "vaapi"}, enc["h264"])
	assert.Equal(t, []string{"nvenc", "vaapi"}, enc["hevc"])
	assert.Equal(t, []string{"vaapi"}, enc["vp9"])
	assert.Equal(t, []string{"nvenc"}, enc["av1"])
}

func TestSelectBest(t *testing.T) {
	all := []Method{MethodCUDA, MethodD3D11VA, MethodDXVA2, MethodQSV, MethodVulkan, MethodOpenCL, MethodVideoToolbox}

	tests := []struct {
		name      string
		platform  string
		gpu       string
		available []Method
		want      Method
	}{
		{"windows nvidia", "windows", "NVIDIA GeForce RTX 3080", all, MethodCUDA},
		{"windows nvidia without cuda", "windows", "NVIDIA GeForce RTX 3080", []Method{MethodDXVA2, MethodOpenCL}, MethodDXVA2},
		{"windows amd", "windows", "AMD Radeon RX 6800", all, MethodVulkan},
		{"windows radeon without vulkan", "windows", "Radeon Pro", []Method{MethodOpenCL, MethodD3D11VA}, MethodD3D11VA},
		{"windows intel", "windows", "Intel(R) UHD Graphics 630", all, MethodQSV},
		{"windows unknown gpu", "windows", "", all, MethodD3D11VA},
		{"darwin", "darwin", "Apple M2", all, MethodVideoToolbox},
		{"darwin without videotoolbox", "darwin", "Apple M2", []Method{MethodVulkan}, MethodNone},
		{"linux", "linux", "NVIDIA Corporation GA102", all, MethodVulkan},
		{"linux opencl only", "linux", "", []Method{MethodCUDA, MethodOpenCL}, MethodOpenCL},
		{"linux cuda only", "linux", "", []Method{MethodCUDA, MethodVAAPI}, MethodNone},
		{"nothing reported", "windows", "NVIDIA", nil, MethodNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectBest(tt.platform, tt.gpu, tt.available))
		})
	}
}

func TestEncoderPrecedence(t *testing.T) {
	encoders := ParseEncoders([]byte(sampleEncoders))

	tests := []struct {
		best  Method
		codec string
		want  string
	}{
		{MethodCUDA, "h264", "h264_nvenc"},
		{MethodCUDA, "h265", "hevc_nvenc"},
		{MethodCUDA, "vp9", "vp9_vaapi"},
		{MethodQSV, "h264", "h264_qsv"},
		{MethodQSV, "hevc", "hevc_vaapi"},
		{MethodD3D11VA, "h264", "h264_amf"},
		{MethodDXVA2, "h265", "hevc_nvenc"},
		{MethodOpenCL, "h264", "h264_nvenc"},
		{MethodVulkan, "h264", "h264_vaapi"},
		{MethodVideoToolbox, "av1", "libaom-av1"},
		{MethodCUDA, "prores", "libaom-av1"},
		{MethodNone, "h264", "libaom-av1"},
	}
	for _, tt := range tests {
		t.Run(string(tt.best)+"/"+tt.codec, func(t *testing.T) {
			p := &Profile{Best: tt.best, Encoders: encoders}
			assert.Equal(t, tt.want, p.Encoder(tt.codec, "libaom-av1"))
		})
	}
}

func TestEncoderDecodeOnlyPrecedenceWithoutAMF(t *testing.T) {
	p := &Profile{
		Best:     MethodD3D11VA,
		Encoders: map[string][]string{"h264": {"nvenc", "qsv"}},
	}
	assert.Equal(t, "h264_qsv", p.Encoder("h264", "libx264"))

	p.Encoders["h264"] = []string{"nvenc"}
	assert.Equal(t, "h264_nvenc", p.Encoder("h264", "libx264"))
}

func TestAccelerationArgs(t *testing.T) {
	withNVENC := map[string][]string{"h264": {"nvenc"}}

	tests := []struct {
		best     Method
		encoders map[string][]string
		want     []string
	}{
		{MethodNone, nil, nil},
		{MethodCUDA, withNVENC, []string{"-hwaccel", "cuda"}},
		{MethodCUDA, nil, []string{"-hwaccel", "cuda"}},
		{MethodQSV, nil, []string{"-hwaccel", "qsv", "-hwaccel_output_format", "qsv"}},
		{MethodVulkan, nil, []string{"-hwaccel", "vulkan"}},
		{MethodOpenCL, nil, []string{"-hwaccel", "opencl"}},
		{MethodD3D11VA, nil, []string{"-hwaccel", "d3d11va"}},
		{MethodDXVA2, nil, []string{"-hwaccel", "dxva2"}},
		{MethodVideoToolbox, nil, []string{"-hwaccel", "videotoolbox"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.best), func(t *testing.T) {
			p := &Profile{Best: tt.best, Encoders: tt.encoders}
			assert.Equal(t, tt.want, p.AccelerationArgs("h264"))
		})
	}

	var nilProfile *Profile
	assert.Nil(t, nilProfile.AccelerationArgs("h264"))
	assert.Equal(t, "libx264", nilProfile.Encoder("h264", "libx264"))
}

func fakeRunner(outputs map[string]string, calls *atomic.Int32) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		if calls != nil {
			calls.Add(1)
		}
		key := strings.TrimSpace(name + " " + strings.Join(args, " "))
		if out, ok := outputs[key]; ok {
			return []byte(out), nil
		}
		return nil, errors.New("executable file not found")
	}
}

func newTestDetector(goos string, run Runner) *Detector {
	d := NewDetector("ffmpeg", 0, hclog.NewNullLogger())
	d.goos = goos
	d.run = run
	return d
}

func TestDetectWindowsNvidia(t *testing.T) {
	var calls atomic.Int32
	d := newTestDetector("windows", fakeRunner(map[string]string{
		"ffmpeg -hide_banner -hwaccels":                 sampleHWAccels,
		"ffmpeg -hide_banner -encoders":                 sampleEncoders,
		"wmic path win32_VideoController get name": "Name\r\nNVIDIA GeForce RTX 4070\r\n\r\n",
	}, &calls))

	p, ok := d.Detect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "NVIDIA GeForce RTX 4070", p.GPU)
	assert.Equal(t, MethodCUDA, p.Best)
	assert.Equal(t, "h264_nvenc", p.Encoder("h264", "libx264"))
	assert.Equal(t, []string{"-hwaccel", "cuda"}, p.AccelerationArgs("h264"))

	// Cached: no further external queries.
	before := calls.Load()
	p2, ok2 := d.Detect(context.Background())
	assert.Same(t, p, p2)
	assert.True(t, ok2)
	assert.Equal(t, before, calls.Load())

	_, _ = d.Redetect(context.Background())
	assert.Greater(t, calls.Load(), before)
}

func TestDetectLinuxGPUFromLSPCI(t *testing.T) {
	d := newTestDetector("linux", fakeRunner(map[string]string{
		"ffmpeg -hide_banner -hwaccels": sampleHWAccels,
		"ffmpeg -hide_banner -encoders": sampleEncoders,
		"lspci": "00:02.0 Host bridge: Intel Corporation\n" +
			"01:00.0 VGA compatible controller: NVIDIA Corporation GA104 [GeForce RTX 3070]\n",
	}, nil))

	p, ok := d.Detect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "NVIDIA Corporation GA104 [GeForce RTX 3070]", p.GPU)
	assert.Equal(t, MethodVulkan, p.Best)
}

func TestDetectWithoutBinaryIsCPUOnly(t *testing.T) {
	d := newTestDetector("linux", fakeRunner(map[string]string{}, nil))

	p, ok := d.Detect(context.Background())
	assert.False(t, ok)
	assert.Equal(t, MethodNone, p.Best)
	assert.Empty(t, p.GPU)
	assert.Nil(t, p.AccelerationArgs("h264"))
	assert.Equal(t, "libx264", p.Encoder("h264", "libx264"))
}

func TestDetectDarwinChipset(t *testing.T) {
	d := newTestDetector("darwin", fakeRunner(map[string]string{
		"ffmpeg -hide_banner -hwaccels": "Hardware acceleration methods:\nvideotoolbox\n",
		"ffmpeg -hide_banner -encoders": " V....D h264_videotoolbox VideoToolbox H.264 Encoder (codec h264)\n",
		"system_profiler SPDisplaysDataType": "Graphics/Displays:\n\n    Apple M1:\n\n      Chipset Model: Apple M1\n      Type: GPU\n",
	}, nil))

	p, ok := d.Detect(context.Background())
	require.True(t, ok)
	assert.Equal(t, "Apple M1", p.GPU)
	assert.Equal(t, "h264_videotoolbox", p.Encoder("h264", "libx264"))
}

func TestProfileInfo(t *testing.T) {
	p := &Profile{
		Platform: "linux",
		Methods:  []Method{MethodVulkan},
		Encoders: map[string][]string{"h264": {"vaapi", "nvenc"}},
		Best:     MethodVulkan,
	}
	info := p.Info()
	assert.Equal(t, "None detected", info.GPU)
	assert.Equal(t, "vulkan", info.Acceleration)
	assert.Equal(t, []string{"vulkan"}, info.Methods)
	assert.Equal(t, []string{"h264_nvenc", "h264_vaapi"}, info.Encoders["h264"])
}

func TestFamily(t *testing.T) {
	assert.Equal(t, "hevc", Family("h265"))
	assert.Equal(t, "hevc", Family("HEVC"))
	assert.Equal(t, "h264", Family("h264"))
	assert.Equal(t, "av1", Family("av1"))
}
