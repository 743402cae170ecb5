package models

// VideoStream summarises one probed video stream.
type VideoStream struct {
	Codec     string  `json:"codec"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	FrameRate float64 `json:"frame_rate"` // 0 when unknown
}

// AudioStream summarises one probed audio stream.
type AudioStream struct {
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// SubtitleStream summarises one probed subtitle stream.
type SubtitleStream struct {
	Codec string `json:"codec"`
}

// MediaInfo is the probed description of a job's input. It is built fresh
// for every job and not modified afterwards.
type MediaInfo struct {
	Duration  float64          `json:"duration"` // seconds
	Size      int64            `json:"size"`     // bytes
	BitRate   int64            `json:"bit_rate"` // bits/sec
	Video     []VideoStream    `json:"video_streams"`
	Audio     []AudioStream    `json:"audio_streams"`
	Subtitles []SubtitleStream `json:"subtitle_streams"`
}

// FrameRate returns the first video stream's frame rate, or 0 when the
// input has no video or the rate is unknown.
func (m *MediaInfo) FrameRate() float64 {
	if m == nil || len(m.Video) == 0 {
		return 0
	}
	if m.Video[0].FrameRate < 0 {
		return 0
	}
	return m.Video[0].FrameRate
}
