package main

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconv/internal/formats"
	"mediaconv/internal/hwaccel"
	"mediaconv/pkg/models"
)

func TestLoadJobsFromArgs(t *testing.T) {
	jobs, err := loadJobs("", "", []string{"in.mov", "out.mp4"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "in.mov", jobs[0].InputPath)
	assert.Equal(t, "out.mp4", jobs[0].OutputPath)
}

func TestLoadJobsWithPreset(t *testing.T) {
	jobs, err := loadJobs("", "webm_vp9", []string{"in.mov", "out.webm"})
	require.NoError(t, err)
	assert.Equal(t, "vp9", jobs[0].VideoCodec)
	assert.Equal(t, "in.mov", jobs[0].InputPath)

	_, err = loadJobs("", "vhs", []string{"in.mov", "out.webm"})
	assert.ErrorContains(t, err, `unknown preset "vhs"`)
}

func TestLoadJobsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
preset: balanced
jobs:
  - input_path: a.mov
    output_path: a.mp4
  - input_path: b.mov
    output_path: b.mkv
    crf: 30
`), 0o644))

	jobs, err := loadJobs(path, "", nil)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, 22, jobs[0].GetCRF())
	assert.Equal(t, 30, jobs[1].GetCRF())
}

func TestLoadJobsBadFile(t *testing.T) {
	_, err := loadJobs(filepath.Join(t.TempDir(), "absent.yml"), "", nil)
	assert.ErrorContains(t, err, "open job file")

	path := filepath.Join(t.TempDir(), "jobs.yml")
	require.NoError(t, os.WriteFile(path, []byte("jobs:\n  - input_path: a.mov\n"), 0o644))
	_, err = loadJobs(path, "", nil)
	assert.ErrorContains(t, err, "output_path is required")
}

func TestBatchTrackerOverall(t *testing.T) {
	tr := newBatchTracker(4, false, hclog.NewNullLogger())
	assert.Zero(t, tr.overall())

	tr.observe(models.Event{Kind: models.EventStarted, JobID: "a"})
	tr.observe(models.Event{Kind: models.EventProgress, JobID: "a", Percent: 50})
	tr.observe(models.Event{Kind: models.EventFinished, JobID: "b", State: models.StateSucceeded})
	assert.InDelta(t, 37.5, tr.overall(), 1e-9)
	assert.Equal(t, "converting 1/4", tr.describe())

	tr.observe(models.Event{Kind: models.EventFinished, JobID: "a", State: models.StateFailed})
	assert.InDelta(t, 50, tr.overall(), 1e-9)
}

func TestRenderHWInfo(t *testing.T) {
	out := renderHWInfo(hwaccel.Info{
		GPU:          "Intel UHD 630",
		Platform:     "linux",
		Acceleration: "qsv",
		Methods:      []string{"qsv", "vaapi"},
		Encoders:     map[string][]string{"h264": {"h264_qsv", "h264_vaapi"}},
	})
	assert.Contains(t, out, "Intel UHD 630")
	assert.Contains(t, out, "qsv, vaapi")
	assert.Contains(t, out, "Encoders (h264)")
	assert.Contains(t, out, "h264_qsv, h264_vaapi")
}

func TestRenderMediaInfo(t *testing.T) {
	out := renderMediaInfo(&models.MediaInfo{
		Duration: 90.5,
		Size:     25_000_000,
		BitRate:  2_210_000,
		Video:    []models.VideoStream{{Codec: "h264", Width: 1920, Height: 1080, FrameRate: 23.976}},
		Audio:    []models.AudioStream{{Codec: "aac", SampleRate: 48000, Channels: 2}},
	})
	assert.Contains(t, out, "1m30.5s")
	assert.Contains(t, out, "25 MB")
	assert.Contains(t, out, "1920x1080 @ 23.976 fps")
	assert.Contains(t, out, "48000 Hz, 2 ch")
}

func TestShortIDAndFirstLine(t *testing.T) {
	assert.Equal(t, "3f2b9c1e", shortID("3f2b9c1e-8d4a-4c6b-9a55-0e7f1d2c3b4a"))
	assert.Equal(t, "clip-1", shortID("clip-1"))
	assert.Equal(t, "ffmpeg exited with code 1", firstLine("ffmpeg exited with code 1\nInvalid data"))
}

func TestSecondSignalKills(t *testing.T) {
	sigs := make(chan os.Signal, 2)
	var stops, kills atomic.Int32
	returned := make(chan struct{})
	go func() {
		defer close(returned)
		watchSignals(sigs, make(chan struct{}), hclog.NewNullLogger(),
			func() { stops.Add(1) },
			func() { kills.Add(1) })
	}()

	sigs <- os.Interrupt
	assert.Eventually(t, func() bool { return stops.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, kills.Load(), "the first signal only stops")

	sigs <- syscall.SIGTERM
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return after the second signal")
	}
	assert.Equal(t, int32(1), stops.Load())
	assert.Equal(t, int32(1), kills.Load())
}

func TestSignalWatcherStopsWhenDone(t *testing.T) {
	done := make(chan struct{})
	returned := make(chan struct{})
	called := false
	go func() {
		defer close(returned)
		watchSignals(make(chan os.Signal), done, hclog.NewNullLogger(),
			func() { called = true },
			func() { called = true })
	}()

	close(done)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("watcher did not return")
	}
	assert.False(t, called)
}

func TestRenderFormats(t *testing.T) {
	out := renderFormats(formats.New())
	assert.Contains(t, out, "Matroska")
	assert.Contains(t, out, "vp8, vp9, av1")
	assert.Contains(t, out, "libvpx-vp9")
	assert.Contains(t, out, "pcm_s16le")
	assert.Contains(t, out, "lossless")
}
