package domain

import (
	"fmt"
	"strconv"
)

type ProbeFormat struct {
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	NbStreams  int               `json:"nb_streams"`
	Tags       map[string]string `json:"tags"`
}

type ProbeStream struct {
	Index        int    `json:"index"`
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PixFmt       string `json:"pix_fmt"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	Duration     string `json:"duration"`
	NbFrames     string `json:"nb_frames"`
}

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

const (
	oneKilobyte = 1024
	oneMegabyte = oneKilobyte * 1024
	oneGigabyte = oneMegabyte * 1024
)

func (p *ProbeResult) VideoStream() *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "video" {
			return &p.Streams[i]
		}
	}
	return nil
}

func (p *ProbeResult) AudioStream() *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].CodecType == "audio" {
			return &p.Streams[i]
		}
	}
	return nil
}

// VideoInfo extracts render metadata. Fails with ErrInvalidVideo when there is
// no usable video stream.
func (p *ProbeResult) VideoInfo() (VideoInfo, error) {
	vs := p.VideoStream()
	if vs == nil {
		return VideoInfo{}, fmt.Errorf("no video stream: %w", ErrInvalidVideo)
	}

	fps := ParseFrameRate(vs.AvgFrameRate)
	if fps == 0 {
		fps = ParseFrameRate(vs.RFrameRate)
	}

	duration := ParseDuration(p.Format.Duration)
	if duration == 0 {
		duration = ParseDuration(vs.Duration)
	}

	info := VideoInfo{
		Duration:  duration,
		Width:     vs.Width,
		Height:    vs.Height,
		FrameRate: fps,
		HasAudio:  p.AudioStream() != nil,
	}
	if info.Duration <= 0 || info.FrameRate <= 0 || info.Width <= 0 || info.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("incomplete metadata (duration=%.3f fps=%.3f size=%dx%d): %w",
			info.Duration, info.FrameRate, info.Width, info.Height, ErrInvalidVideo)
	}
	return info, nil
}

// ParseFrameRate parses an ffprobe "num/den" rate; malformed or 0/0 is 0.
func ParseFrameRate(fraction string) float64 {
	if fraction == "" || fraction == "0/0" {
		return 0
	}
	var num, den int
	if _, err := fmt.Sscanf(fraction, "%d/%d", &num, &den); err == nil && den > 0 {
		return float64(num) / float64(den)
	}
	return 0
}

func ParseDuration(durationStr string) float64 {
	if durationStr == "" || durationStr == "N/A" {
		return 0
	}
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0
	}
	return duration
}

// FormatSize renders a byte count with a binary unit for CLI output.
func FormatSize(bytes int64) string {
	if bytes < oneKilobyte {
		return fmt.Sprintf("%d B", bytes)
	}
	if bytes < oneMegabyte {
		return fmt.Sprintf("%.1f KB", float64(bytes)/oneKilobyte)
	}
	if bytes < oneGigabyte {
		return fmt.Sprintf("%.1f MB", float64(bytes)/oneMegabyte)
	}
	return fmt.Sprintf("%.1f GB", float64(bytes)/oneGigabyte)
}
