// Package formats is the static knowledge base of output containers and the
// codecs each one can carry.
package formats

import "sort"

// MediaType tells video containers from audio-only ones.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// Conservative pair used when the container is unknown.
const (
	DefaultVideoCodec = "h264"
	DefaultAudioCodec = "aac"
)

// FormatDescriptor describes one output container. Codec order matters: the
// first entry of each list is the fallback substitute.
type FormatDescriptor struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        MediaType `json:"type"`
	Muxer       string    `json:"muxer"` // ffmpeg -f name
	VideoCodecs []string  `json:"video_codecs,omitempty"`
	AudioCodecs []string  `json:"audio_codecs"`
	Features    []string  `json:"features,omitempty"`
}

// AllowsVideo reports whether codec is in the container's video list.
func (f *FormatDescriptor) AllowsVideo(codec string) bool {
	return contains(f.VideoCodecs, codec)
}

// AllowsAudio reports whether codec is in the container's audio list.
func (f *FormatDescriptor) AllowsAudio(codec string) bool {
	return contains(f.AudioCodecs, codec)
}

// IsAudioOnly reports whether the container carries no video.
func (f *FormatDescriptor) IsAudioOnly() bool {
	return f.Type == MediaAudio
}

// VideoCodecInfo is the metadata kept for a canonical video codec.
type VideoCodecInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Quality    string `json:"quality"`
	Speed      string `json:"speed"`
	HWSupport  bool   `json:"hw_support"`
	CPUEncoder string `json:"cpu_encoder"`
}

// CodecDescriptor is the metadata kept for a canonical audio codec.
type CodecDescriptor struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Quality  string   `json:"quality"`
	Lossy    bool     `json:"lossy"`
	Encoder  string   `json:"encoder"`
	Bitrates []string `json:"bitrates,omitempty"`
}

// Table is the read-only compatibility table. The zero value is not usable;
// call New.
type Table struct {
	formats     map[string]*FormatDescriptor
	videoCodecs map[string]*VideoCodecInfo
	audioCodecs map[string]*CodecDescriptor
}

// New builds the table.
func New() *Table {
	t := &Table{
		formats:     make(map[string]*FormatDescriptor),
		videoCodecs: make(map[string]*VideoCodecInfo),
		audioCodecs: make(map[string]*CodecDescriptor),
	}
	for i := range builtinFormats {
		f := builtinFormats[i]
		t.formats[f.ID] = &f
	}
	for i := range builtinVideoCodecs {
		c := builtinVideoCodecs[i]
		t.videoCodecs[c.ID] = &c
	}
	for i := range builtinAudioCodecs {
		c := builtinAudioCodecs[i]
		t.audioCodecs[c.ID] = &c
	}
	return t
}

// Format returns the descriptor for container, or nil when unknown.
func (t *Table) Format(container string) *FormatDescriptor {
	f, ok := t.formats[container]
	if !ok {
		return nil
	}
	cp := *f
	cp.VideoCodecs = append([]string(nil), f.VideoCodecs...)
	cp.AudioCodecs = append([]string(nil), f.AudioCodecs...)
	cp.Features = append([]string(nil), f.Features...)
	return &cp
}

// Muxer returns the ffmpeg muxer for container, or "" when unknown.
func (t *Table) Muxer(container string) string {
	if f, ok := t.formats[container]; ok {
		return f.Muxer
	}
	return ""
}

// IsAudioContainer reports whether container is a known audio-only format.
func (t *Table) IsAudioContainer(container string) bool {
	f, ok := t.formats[container]
	return ok && f.IsAudioOnly()
}

// Fallback resolves a requested codec pair against container. A codec the
// container allows is returned unchanged; otherwise it is replaced by the
// first codec in the container's list. Unknown containers yield the
// conservative h264/aac pair.
func (t *Table) Fallback(container, video, audio string) (string, string) {
	f, ok := t.formats[container]
	if !ok {
		return DefaultVideoCodec, DefaultAudioCodec
	}
	if !f.AllowsVideo(video) && len(f.VideoCodecs) > 0 {
		video = f.VideoCodecs[0]
	}
	if !f.AllowsAudio(audio) && len(f.AudioCodecs) > 0 {
		audio = f.AudioCodecs[0]
	}
	return video, audio
}

// IsCompatible reports whether container can carry the given codecs. Empty
// codec names are not checked, and video is ignored for audio containers.
func (t *Table) IsCompatible(container, video, audio string) bool {
	f, ok := t.formats[container]
	if !ok {
		return false
	}
	if video != "" && f.Type == MediaVideo && !f.AllowsVideo(video) {
		return false
	}
	if audio != "" && !f.AllowsAudio(audio) {
		return false
	}
	return true
}

// IsLossy reports whether audio codec is lossy. Unknown codecs count as
// lossy so a requested bitrate is still applied.
func (t *Table) IsLossy(audioCodec string) bool {
	c, ok := t.audioCodecs[audioCodec]
	if !ok {
		return true
	}
	return c.Lossy
}

// SupportsLossless reports whether audioCodec is a known lossless codec.
func (t *Table) SupportsLossless(audioCodec string) bool {
	c, ok := t.audioCodecs[audioCodec]
	return ok && !c.Lossy
}

// AudioCodec returns the metadata for a canonical audio codec.
func (t *Table) AudioCodec(id string) (CodecDescriptor, bool) {
	c, ok := t.audioCodecs[id]
	if !ok {
		return CodecDescriptor{}, false
	}
	return *c, true
}

// VideoCodec returns the metadata for a canonical video codec.
func (t *Table) VideoCodec(id string) (VideoCodecInfo, bool) {
	c, ok := t.videoCodecs[id]
	if !ok {
		return VideoCodecInfo{}, false
	}
	return *c, true
}

// Formats returns every container identifier, sorted.
func (t *Table) Formats() []string {
	return t.ids(func(*FormatDescriptor) bool { return true })
}

// VideoFormats returns the video container identifiers, sorted.
func (t *Table) VideoFormats() []string {
	return t.ids(func(f *FormatDescriptor) bool { return f.Type == MediaVideo })
}

// AudioFormats returns the audio-only container identifiers, sorted.
func (t *Table) AudioFormats() []string {
	return t.ids(func(f *FormatDescriptor) bool { return f.Type == MediaAudio })
}

// Catalog is the whole table in a serializable form.
type Catalog struct {
	VideoFormats []FormatDescriptor `json:"video_formats"`
	AudioFormats []FormatDescriptor `json:"audio_formats"`
	VideoCodecs  []VideoCodecInfo   `json:"video_codecs"`
	AudioCodecs  []CodecDescriptor  `json:"audio_codecs"`
}

// Catalog returns copies of every entry, containers and codecs sorted by ID.
func (t *Table) Catalog() Catalog {
	var c Catalog
	for _, id := range t.VideoFormats() {
		c.VideoFormats = append(c.VideoFormats, *t.Format(id))
	}
	for _, id := range t.AudioFormats() {
		c.AudioFormats = append(c.AudioFormats, *t.Format(id))
	}
	for _, id := range sortedKeys(t.videoCodecs) {
		v, _ := t.VideoCodec(id)
		c.VideoCodecs = append(c.VideoCodecs, v)
	}
	for _, id := range sortedKeys(t.audioCodecs) {
		a, _ := t.AudioCodec(id)
		a.Bitrates = append([]string(nil), a.Bitrates...)
		c.AudioCodecs = append(c.AudioCodecs, a)
	}
	return c
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Table) ids(keep func(*FormatDescriptor) bool) []string {
	out := make([]string, 0, len(t.formats))
	for id, f := range t.formats {
		if keep(f) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
