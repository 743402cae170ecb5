package formats

var builtinFormats = []FormatDescriptor{
	{
		ID: "mp4", Name: "MP4", Type: MediaVideo, Muxer: "mp4",
		VideoCodecs: []string{"h264", "h265"},
		AudioCodecs: []string{"aac", "alac"},
		Features:    []string{"chapters", "subtitles", "metadata"},
	},
	{
		ID: "mkv", Name: "Matroska", Type: MediaVideo, Muxer: "matroska",
		VideoCodecs: []string{"h264", "h265", "vp9", "av1", "mpeg4", "ffv1"},
		AudioCodecs: []string{"aac", "mp3", "ac3", "flac", "opus", "vorbis", "dts"},
		Features:    []string{"chapters", "subtitles", "metadata", "multiple_audio", "multiple_subtitles"},
	},
	{
		ID: "webm", Name: "WebM", Type: MediaVideo, Muxer: "webm",
		VideoCodecs: []string{"vp8", "vp9", "av1"},
		AudioCodecs: []string{"vorbis", "opus"},
		Features:    []string{"subtitles", "metadata"},
	},
	{
		ID: "avi", Name: "AVI", Type: MediaVideo, Muxer: "avi",
		VideoCodecs: []string{"mpeg4", "mjpeg"},
		AudioCodecs: []string{"mp3", "ac3", "pcm"},
		Features:    []string{"metadata"},
	},
	{
		ID: "mov", Name: "QuickTime", Type: MediaVideo, Muxer: "mov",
		VideoCodecs: []string{"h264", "h265", "prores"},
		AudioCodecs: []string{"aac", "alac", "pcm"},
		Features:    []string{"chapters", "metadata"},
	},
	{
		ID: "flv", Name: "Flash Video", Type: MediaVideo, Muxer: "flv",
		VideoCodecs: []string{"h264", "flv1"},
		AudioCodecs: []string{"aac", "mp3"},
		Features:    []string{"metadata"},
	},
	{
		ID: "mp3", Name: "MP3 Audio", Type: MediaAudio, Muxer: "mp3",
		AudioCodecs: []string{"mp3"},
		Features:    []string{"metadata", "id3tags"},
	},
	{
		ID: "aac", Name: "AAC Audio", Type: MediaAudio, Muxer: "adts",
		AudioCodecs: []string{"aac"},
		Features:    []string{"metadata"},
	},
	{
		ID: "flac", Name: "FLAC Lossless", Type: MediaAudio, Muxer: "flac",
		AudioCodecs: []string{"flac"},
		Features:    []string{"metadata", "lossless"},
	},
	{
		ID: "wav", Name: "WAV Audio", Type: MediaAudio, Muxer: "wav",
		AudioCodecs: []string{"pcm"},
		Features:    []string{"lossless"},
	},
	{
		ID: "ogg", Name: "Ogg Vorbis", Type: MediaAudio, Muxer: "ogg",
		AudioCodecs: []string{"vorbis", "opus"},
		Features:    []string{"metadata"},
	},
	{
		ID: "opus", Name: "Opus Audio", Type: MediaAudio, Muxer: "opus",
		AudioCodecs: []string{"opus"},
		Features:    []string{"metadata"},
	},
	{
		ID: "m4a", Name: "M4A Audio", Type: MediaAudio, Muxer: "ipod",
		AudioCodecs: []string{"aac", "alac"},
		Features:    []string{"metadata"},
	},
}

var builtinVideoCodecs = []VideoCodecInfo{
	{ID: "h264", Name: "H.264 / AVC", Quality: "good", Speed: "fast", HWSupport: true, CPUEncoder: "libx264"},
	{ID: "h265", Name: "H.265 / HEVC", Quality: "excellent", Speed: "slow", HWSupport: true, CPUEncoder: "libx265"},
	{ID: "vp9", Name: "VP9", Quality: "excellent", Speed: "slow", CPUEncoder: "libvpx-vp9"},
	{ID: "av1", Name: "AV1", Quality: "excellent", Speed: "very_slow", CPUEncoder: "libaom-av1"},
	{ID: "mpeg4", Name: "MPEG-4", Quality: "moderate", Speed: "fast", CPUEncoder: "mpeg4"},
	{ID: "ffv1", Name: "FFV1", Quality: "lossless", Speed: "slow", CPUEncoder: "ffv1"},
	{ID: "prores", Name: "Apple ProRes", Quality: "excellent", Speed: "medium", CPUEncoder: "prores_ks"},
	{ID: "vp8", Name: "VP8", Quality: "good", Speed: "medium", CPUEncoder: "libvpx"},
	{ID: "mjpeg", Name: "Motion JPEG", Quality: "moderate", Speed: "fast", CPUEncoder: "mjpeg"},
	{ID: "flv1", Name: "Sorenson Spark", Quality: "low", Speed: "fast", CPUEncoder: "flv"},
}

var builtinAudioCodecs = []CodecDescriptor{
	{ID: "aac", Name: "AAC", Quality: "good", Lossy: true, Encoder: "aac", Bitrates: []string{"96k", "128k", "192k", "256k", "320k"}},
	{ID: "mp3", Name: "MP3", Quality: "good", Lossy: true, Encoder: "libmp3lame", Bitrates: []string{"96k", "128k", "192k", "256k", "320k"}},
	{ID: "opus", Name: "Opus", Quality: "excellent", Lossy: true, Encoder: "libopus", Bitrates: []string{"96k", "128k", "192k", "256k"}},
	{ID: "vorbis", Name: "Vorbis", Quality: "good", Lossy: true, Encoder: "libvorbis", Bitrates: []string{"96k", "128k", "192k", "256k"}},
	{ID: "ac3", Name: "Dolby Digital", Quality: "good", Lossy: true, Encoder: "ac3", Bitrates: []string{"192k", "384k", "448k", "640k"}},
	{ID: "dts", Name: "DTS", Quality: "good", Lossy: true, Encoder: "dca", Bitrates: []string{"768k", "1536k"}},
	{ID: "flac", Name: "FLAC", Quality: "lossless", Encoder: "flac"},
	{ID: "alac", Name: "Apple Lossless", Quality: "lossless", Encoder: "alac"},
	{ID: "pcm", Name: "PCM (Uncompressed)", Quality: "lossless", Encoder: "pcm_s16le"},
}
