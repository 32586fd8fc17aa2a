package processor

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	ffmpegWrap "github.com/philocinemas/clipbot/internal/ffmpeg"
	"github.com/philocinemas/clipbot/internal/platform"
	"github.com/philocinemas/clipbot/pkg/types"
)

var (
	// ErrSourceOpen means the source could not be probed: missing, unreadable or corrupt.
	ErrSourceOpen = errors.New("cannot open source video")
	// ErrTransform means a clip failed to resize, composite or encode.
	ErrTransform = errors.New("cannot transform segment")
)

// Encoder is the media capability the splitter drives.
type Encoder interface {
	GetVideoMetadata(inputPath string) (*ffmpegWrap.VideoMetadata, error)
	Transform(ctx context.Context, job ffmpegWrap.SegmentJob) error
}

// Splitter cuts a source video into fixed-length, watermarked, retargeted clips.
type Splitter struct {
	encoder  Encoder
	platform platform.Platform
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewSplitter creates a new video splitter. A zero timeout lets every clip
// encode for as long as ctx allows.
func NewSplitter(encoder Encoder, plat platform.Platform, timeout time.Duration) *Splitter {
	return &Splitter{
		encoder:  encoder,
		platform: plat,
		timeout:  timeout,
		logger:   log.With().Str("module", "splitter").Logger(),
	}
}

// Segment produces one clip per Boundaries span of sourcePath inside outputDir,
// in source order. It is all-or-nothing: when any clip fails the returned
// slice is empty and the error wraps ErrSourceOpen or ErrTransform. Invalid
// params are rejected before touching the filesystem.
func (s *Splitter) Segment(ctx context.Context, sourcePath, outputDir string, params types.TransformParameters) ([]types.Artifact, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	logger := s.logger.With().Str("source", sourcePath).Str("output-dir", outputDir).Logger()

	metadata, err := s.encoder.GetVideoMetadata(sourcePath)
	if err != nil {
		err = errors.Wrap(ErrSourceOpen, err.Error())
		logger.Error().Err(err).Msg("error processing video")
		return nil, err
	}

	width, height := TargetDimensions(metadata.Width, params.AspectRatio)
	spans := Boundaries(metadata.Duration, params.SegmentLength)

	logger.Info().
		Float64("duration", metadata.Duration).
		Str("resolution", fmt.Sprintf("%dx%d", metadata.Width, metadata.Height)).
		Str("target", fmt.Sprintf("%dx%d", width, height)).
		Int("clips", len(spans)).
		Msg("splitting video")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		err = errors.Wrap(ErrTransform, err.Error())
		logger.Error().Err(err).Msg("error creating output directory")
		return nil, err
	}

	ext := ffmpegWrap.GetCodecSettings(s.platform.GetOutputFormat()).FileExtension

	artifacts := make([]types.Artifact, 0, len(spans))
	for i, span := range spans {
		outputPath := filepath.Join(outputDir, ClipName(span, ext))

		err := s.transform(ctx, ffmpegWrap.SegmentJob{
			InputPath:  sourcePath,
			OutputPath: outputPath,
			Span:       span,
			Width:      width,
			Height:     height,
			Watermark:  params.Watermark,
			Source:     metadata,
			Platform:   s.platform,
		})
		if err != nil {
			err = errors.Wrapf(ErrTransform, "clip %d/%d: %v", i+1, len(spans), err)
			logger.Error().Err(err).Msg("error processing video")
			return nil, err
		}

		s.checkSize(outputPath)
		logger.Debug().Str("clip", outputPath).Msgf("completed clip %d/%d", i+1, len(spans))

		artifacts = append(artifacts, types.Artifact{
			Path:    outputPath,
			Ordinal: i + 1,
			Span:    span,
		})
	}

	return artifacts, nil
}

func (s *Splitter) transform(ctx context.Context, job ffmpegWrap.SegmentJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	return s.encoder.Transform(ctx, job)
}

func (s *Splitter) checkSize(path string) {
	limit := s.platform.GetMaxFileSize()
	if limit <= 0 {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() <= limit {
		return
	}

	s.logger.Warn().
		Str("clip", path).
		Int64("size", info.Size()).
		Int64("limit", limit).
		Str("platform", s.platform.GetName()).
		Msg("clip exceeds platform upload limit")
}

// Boundaries splits [0, duration) into consecutive spans of length seconds;
// the last one is shorter when duration is not a multiple of length.
func Boundaries(duration float64, length int) []types.Span {
	if duration <= 0 || length <= 0 {
		return nil
	}

	spans := make([]types.Span, 0, int(math.Ceil(duration/float64(length))))
	for i := 0; ; i++ {
		start := float64(i * length)
		if start >= duration {
			break
		}
		spans = append(spans, types.Span{
			Start: start,
			End:   math.Min(start+float64(length), duration),
		})
	}
	return spans
}

// TargetDimensions keeps the source width and derives the height from ratio.
// This stretches rather than crops.
func TargetDimensions(width int, ratio types.AspectRatio) (int, int) {
	height := math.Round(float64(width) / float64(ratio.W) * float64(ratio.H))
	return width, int(height)
}

// ClipName is clip_<start>_<end><ext> with whole seconds.
func ClipName(span types.Span, ext string) string {
	return ffmpegWrap.EnsureExtension(fmt.Sprintf("clip_%d_%d", int(span.Start), int(span.End)), ext)
}
