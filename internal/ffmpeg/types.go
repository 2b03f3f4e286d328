package ffmpeg

import (
	"strings"
	"time"
)

// MediaInfo contains metadata about a media file
type MediaInfo struct {
	FilePath     string
	FormatName   string
	Duration     time.Duration
	Width        int
	Height       int
	FPS          float64
	Bitrate      int64
	HasVideo     bool
	VideoCodec   string
	HasAudio     bool
	AudioCodec   string
	AudioBitrate int64
}

// imageFormats are ffprobe demuxer names used for still images
var imageFormats = []string{"image2", "_pipe", "png", "mjpeg", "webp", "bmp"}

// IsImage reports whether the file is a still image rather than a video
func (m *MediaInfo) IsImage() bool {
	if !m.HasVideo {
		return false
	}
	for _, f := range imageFormats {
		if strings.Contains(m.FormatName, f) {
			return true
		}
	}
	return false
}

// Options configures an Executor
type Options struct {
	BinaryPath string
	ProbePath  string
	Threads    int
}

// Default encoding settings
const (
	DefaultCRF        = 23
	DefaultPreset     = "medium"
	DefaultVideoCodec = "libx264"
	DefaultAudioCodec = "aac"
)
