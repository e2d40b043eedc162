package audio

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Defaults used when ffprobe leaves a field out.
const (
	DefaultBitRate    = 128000
	DefaultSampleRate = 44100
	DefaultChannels   = 2
)

// ProbeInfo is the part of ffprobe's report the encoder is configured from.
type ProbeInfo struct {
	Codec      string
	BitRate    int
	SampleRate int
	Channels   int
	Duration   float64 // seconds, 0 when unknown
	Tags       map[string]string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		BitRate    string `json:"bit_rate"`
	} `json:"streams"`
	Format struct {
		Duration string            `json:"duration"`
		BitRate  string            `json:"bit_rate"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
}

// Probe runs ffprobe on the first audio stream of input.
func Probe(ctx context.Context, runner Runner, ffprobePath, input string) (ProbeInfo, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a:0",
		input,
	}
	res, err := runner.Run(ctx, ffprobePath, args...)
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("ffprobe %s: %w", input, err)
	}
	return parseProbe(res.Stdout)
}

func parseProbe(out []byte) (ProbeInfo, error) {
	var data ffprobeOutput
	if err := json.Unmarshal(out, &data); err != nil {
		return ProbeInfo{}, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}

	info := ProbeInfo{
		BitRate:    DefaultBitRate,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		Tags:       data.Format.Tags,
	}
	if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
		info.Duration = d
	}
	if n := atoiOr(data.Format.BitRate, 0); n > 0 {
		info.BitRate = n
	}
	if len(data.Streams) == 0 {
		return info, nil
	}

	s := data.Streams[0]
	info.Codec = s.CodecName
	if n := atoiOr(s.BitRate, 0); n > 0 {
		info.BitRate = n
	}
	if n := atoiOr(s.SampleRate, 0); n > 0 {
		info.SampleRate = n
	}
	if s.Channels > 0 {
		info.Channels = s.Channels
	}
	return info, nil
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
