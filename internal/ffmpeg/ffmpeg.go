package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/philocinemas/clipbot/internal/platform"
	"github.com/philocinemas/clipbot/pkg/types"
)

type CodecSettings struct {
	PixelFormat   string
	FileExtension string
	EncoderPreset ffmpeg.KwArgs
}

var codecPresets = map[string]CodecSettings{
	"webm": {
		PixelFormat:   "yuv420p",
		FileExtension: ".webm",
		EncoderPreset: ffmpeg.KwArgs{
			"deadline": "good",
			"cpu-used": 2,
			"row-mt":   1,
		},
	},
	"mp4": {
		PixelFormat:   "yuv420p",
		FileExtension: ".mp4",
		EncoderPreset: ffmpeg.KwArgs{
			"preset":    "veryfast",
			"profile:v": "high",
			"movflags":  "+faststart",
		},
	},
}

func GetCodecSettings(outputFormat string) CodecSettings {
	if settings, ok := codecPresets[outputFormat]; ok {
		return settings
	}
	// MP4 is what chat clients play inline
	return codecPresets["mp4"]
}

// VideoMetadata contains metadata about a video file
type VideoMetadata struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
	Bitrate  int64
	HasAudio bool
}

// SegmentJob is one clip to cut out of the source and re-encode.
type SegmentJob struct {
	InputPath  string
	OutputPath string
	Span       types.Span
	Width      int
	Height     int
	Watermark  string
	Source     *VideoMetadata
	Platform   platform.Platform
}

// Processor wraps the ffmpeg binaries
type Processor struct {
	binary string
	logger zerolog.Logger
}

// NewProcessor creates a new FFmpeg processor; an empty binary means "ffmpeg" on PATH
func NewProcessor(binary string) *Processor {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Processor{
		binary: binary,
		logger: log.With().Str("module", "ffmpeg").Logger(),
	}
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		NbFrames   string `json:"nb_frames"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

// GetVideoMetadata retrieves metadata about a video file
func (p *Processor) GetVideoMetadata(inputPath string) (*VideoMetadata, error) {
	probe, err := ffmpeg.Probe(inputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "probing %s", inputPath)
	}
	return ParseProbe([]byte(probe))
}

// ParseProbe extracts VideoMetadata from ffprobe's JSON output.
func ParseProbe(probe []byte) (*VideoMetadata, error) {
	var data probeOutput
	if err := json.Unmarshal(probe, &data); err != nil {
		return nil, errors.WithStack(err)
	}

	if len(data.Streams) == 0 {
		return nil, errors.New("no streams found in video")
	}

	metadata := &VideoMetadata{}
	videoIdx := -1
	for i, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if videoIdx < 0 {
				videoIdx = i
			}
		case "audio":
			metadata.HasAudio = true
		}
	}

	if videoIdx < 0 {
		return nil, errors.New("no video stream found")
	}
	videoStream := data.Streams[videoIdx]

	// First try video stream duration, then the container
	metadata.Duration = parseSeconds(videoStream.Duration)
	if metadata.Duration == 0 {
		metadata.Duration = parseSeconds(data.Format.Duration)
	}

	// If still no duration found, try calculating from frames and frame rate
	if metadata.Duration == 0 {
		frames := parseSeconds(videoStream.NbFrames)
		if rate := parseFrameRate(videoStream.RFrameRate); frames > 0 && rate > 0 {
			metadata.Duration = frames / rate
		}
	}

	if metadata.Duration <= 0 {
		return nil, errors.New("could not determine video duration")
	}

	if videoStream.Width <= 0 || videoStream.Height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", videoStream.Width, videoStream.Height)
	}

	metadata.Width = videoStream.Width
	metadata.Height = videoStream.Height
	metadata.Codec = videoStream.CodecName

	// Format bitrate is usually more accurate than the stream's
	if b, err := strconv.ParseInt(data.Format.BitRate, 10, 64); err == nil {
		metadata.Bitrate = b
	} else if b, err := strconv.ParseInt(videoStream.BitRate, 10, 64); err == nil {
		metadata.Bitrate = b
	}

	return metadata, nil
}

func parseSeconds(s string) float64 {
	d, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(d) || d < 0 {
		return 0
	}
	return d
}

func parseFrameRate(s string) float64 {
	nums := strings.Split(s, "/")
	if len(nums) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(nums[0], 64)
	den, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// BuildArgs returns the ffmpeg arguments that cut, resize, watermark and encode one clip.
func BuildArgs(job SegmentJob) []string {
	codec := GetCodecSettings(job.Platform.GetOutputFormat())

	bitrate := parseBitrate(job.Platform.GetVideoBitrate())
	// Never spend more bits than the source had
	if job.Source != nil && job.Source.Bitrate > 0 {
		if ceiling := int64(float64(job.Source.Bitrate) * 1.05); ceiling < bitrate {
			bitrate = max(ceiling, minVideoBitrate)
		}
	}
	bitrateStr := formatBitrate(bitrate)

	input := ffmpeg.Input(job.InputPath, ffmpeg.KwArgs{
		"ss": formatSeconds(job.Span.Start),
		"t":  formatSeconds(job.Span.Duration()),
	})

	// Odd targets lose a pixel here, so 1920 at 9:16 encodes as 1920x3412.
	width, height := evenDimension(job.Width), evenDimension(job.Height)
	video := input.Video().
		Filter("scale", ffmpeg.Args{strconv.Itoa(width), strconv.Itoa(height)})
	video = AddWatermark(video, job.Watermark)

	outputKwargs := ffmpeg.KwArgs{
		"c:v":     job.Platform.GetVideoCodec(),
		"b:v":     bitrateStr,
		"maxrate": bitrateStr,
		"bufsize": formatBitrate(2 * bitrate),
		"pix_fmt": codec.PixelFormat,
		"threads": GetOptimalThreadCount(),
	}
	for k, v := range codec.EncoderPreset {
		outputKwargs[k] = v
	}

	streams := []*ffmpeg.Stream{video}
	if job.Source == nil || job.Source.HasAudio {
		streams = append(streams, input.Audio())
		outputKwargs["c:a"] = job.Platform.GetAudioCodec()
		outputKwargs["b:a"] = job.Platform.GetAudioBitrate()
	}

	return ffmpeg.Output(streams, job.OutputPath, outputKwargs).
		OverWriteOutput().
		GetArgs()
}

// Transform encodes one clip. ctx bounds the ffmpeg process.
func (p *Processor) Transform(ctx context.Context, job SegmentJob) error {
	args := BuildArgs(job)

	p.logger.Debug().
		Str("output", job.OutputPath).
		Float64("start", job.Span.Start).
		Float64("end", job.Span.End).
		Strs("args", args).
		Msg("encoding clip")

	cmd := exec.CommandContext(ctx, p.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrapf(ctxErr, "encoding %s", job.OutputPath)
		}
		return errors.Wrapf(err, "encoding %s: %s", job.OutputPath, tail(stderr.String(), 512))
	}
	return nil
}

func GetOptimalThreadCount() int {
	cpuCount := runtime.NumCPU()
	// Use 75% of available cores to prevent overload
	return int(math.Max(1, float64(cpuCount)*0.75))
}

// parseBitrate turns "2M" / "128k" / "800000" into bits per second.
func parseBitrate(bitrate string) int64 {
	value := strings.TrimRight(bitrate, "MmKk")
	number, err := strconv.ParseInt(value, 10, 64)
	if err != nil || number <= 0 {
		return 2_000_000 // Default to 2M if parsing fails
	}

	switch {
	case strings.HasSuffix(bitrate, "M"), strings.HasSuffix(bitrate, "m"):
		return number * 1_000_000
	case strings.HasSuffix(bitrate, "k"), strings.HasSuffix(bitrate, "K"):
		return number * 1_000
	}
	return number
}

// Ceilings derived from a broken probe must not reach ffmpeg as "0k".
const minVideoBitrate = 100_000

func formatBitrate(bps int64) string {
	if bps >= 1_000_000 && bps%1_000_000 == 0 {
		return fmt.Sprintf("%dM", bps/1_000_000)
	}
	return fmt.Sprintf("%dk", bps/1_000)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}

// libx264 with yuv420p rejects odd frame sizes
func evenDimension(n int) int {
	if n < 2 {
		return 2
	}
	return n - n%2
}

// EnsureExtension swaps a known video extension on filename for extension.
// extension may be given with or without the leading dot.
func EnsureExtension(filename, extension string) string {
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4", ".webm", ".mkv", ".avi", ".mov":
		filename = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	return filename + extension
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
