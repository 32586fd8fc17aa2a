package processor

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ffmpegWrap "github.com/philocinemas/clipbot/internal/ffmpeg"
	"github.com/philocinemas/clipbot/internal/platform"
	"github.com/philocinemas/clipbot/pkg/types"
)

type fakeEncoder struct {
	mu       sync.Mutex
	metadata *ffmpegWrap.VideoMetadata
	probeErr error
	failAt   int // 1-based clip that fails, 0 never
	jobs     []ffmpegWrap.SegmentJob
}

func (f *fakeEncoder) GetVideoMetadata(string) (*ffmpegWrap.VideoMetadata, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.metadata, nil
}

func (f *fakeEncoder) Transform(_ context.Context, job ffmpegWrap.SegmentJob) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	n := len(f.jobs)
	f.mu.Unlock()

	if n == f.failAt {
		return errors.New("encoder exploded")
	}
	return os.WriteFile(job.OutputPath, []byte("clip"), 0644)
}

func telegram(t *testing.T) platform.Platform {
	t.Helper()
	plat, err := platform.Get("telegram")
	require.NoError(t, err)
	return plat
}

func defaultParams() types.TransformParameters {
	return types.TransformParameters{
		SegmentLength: 60,
		Watermark:     "@Philo.Cinemas",
		AspectRatio:   types.Vertical,
	}
}

func TestBoundaries(t *testing.T) {
	tests := []struct {
		duration float64
		length   int
	}{
		{150, 60},
		{120, 60},
		{59.5, 60},
		{60.04, 60},
		{1, 1},
		{3600, 7},
		{0.2, 15},
	}

	for _, tt := range tests {
		spans := Boundaries(tt.duration, tt.length)
		L := float64(tt.length)

		require.Len(t, spans, int(math.Ceil(tt.duration/L)), "D=%v L=%v", tt.duration, tt.length)
		for i, span := range spans {
			assert.Equal(t, float64(i)*L, span.Start)
			assert.Equal(t, math.Min(float64(i+1)*L, tt.duration), span.End)
			assert.Less(t, span.Start, span.End)
			if i > 0 {
				// contiguous, no gaps or overlap
				assert.Equal(t, spans[i-1].End, span.Start)
			}
		}
		assert.Equal(t, 0.0, spans[0].Start)
		assert.Equal(t, tt.duration, spans[len(spans)-1].End)

		// pure function of (D, L)
		assert.Equal(t, spans, Boundaries(tt.duration, tt.length))
	}
}

func TestBoundariesDegenerate(t *testing.T) {
	assert.Empty(t, Boundaries(0, 60))
	assert.Empty(t, Boundaries(100, 0))
	assert.Empty(t, Boundaries(-5, 10))
}

func TestTargetDimensions(t *testing.T) {
	tests := []struct {
		width  int
		ratio  types.AspectRatio
		height int
	}{
		{1080, types.Vertical, 1920},
		{1920, types.Vertical, 3413},
		{1280, types.AspectRatio{W: 16, H: 9}, 720},
		{1000, types.AspectRatio{W: 3, H: 4}, 1333},
		{640, types.AspectRatio{W: 1, H: 1}, 640},
	}

	for _, tt := range tests {
		w, h := TargetDimensions(tt.width, tt.ratio)
		assert.Equal(t, tt.width, w)
		assert.Equal(t, tt.height, h, "%d at %s", tt.width, tt.ratio)
	}
}

func TestClipName(t *testing.T) {
	assert.Equal(t, "clip_0_60.mp4", ClipName(types.Span{Start: 0, End: 60}, ".mp4"))
	assert.Equal(t, "clip_120_150.mp4", ClipName(types.Span{Start: 120, End: 150.04}, ".mp4"))
	assert.Equal(t, "clip_0_60.webm", ClipName(types.Span{Start: 0, End: 60}, "webm"))
}

func TestSegment(t *testing.T) {
	enc := &fakeEncoder{metadata: &ffmpegWrap.VideoMetadata{Duration: 150, Width: 1080, Height: 1080, HasAudio: true}}
	splitter := NewSplitter(enc, telegram(t), 0)
	outputDir := filepath.Join(t.TempDir(), "output_run_20260101000000")

	artifacts, err := splitter.Segment(context.Background(), "source.mp4", outputDir, defaultParams())
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	names := []string{"clip_0_60.mp4", "clip_60_120.mp4", "clip_120_150.mp4"}
	for i, artifact := range artifacts {
		assert.Equal(t, filepath.Join(outputDir, names[i]), artifact.Path)
		assert.Equal(t, i+1, artifact.Ordinal)
		assert.FileExists(t, artifact.Path)
		if i > 0 {
			assert.Greater(t, artifact.Span.Start, artifacts[i-1].Span.Start)
		}
	}

	require.Len(t, enc.jobs, 3)
	for _, job := range enc.jobs {
		assert.Equal(t, 1080, job.Width)
		assert.Equal(t, 1920, job.Height)
		assert.Equal(t, "@Philo.Cinemas", job.Watermark)
		assert.Equal(t, "source.mp4", job.InputPath)
	}
}

func TestSegmentExistingOutputDir(t *testing.T) {
	enc := &fakeEncoder{metadata: &ffmpegWrap.VideoMetadata{Duration: 30, Width: 720, Height: 1280}}
	outputDir := t.TempDir()

	artifacts, err := NewSplitter(enc, telegram(t), 0).Segment(context.Background(), "source.mp4", outputDir, defaultParams())
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestSegmentAllOrNothing(t *testing.T) {
	enc := &fakeEncoder{
		metadata: &ffmpegWrap.VideoMetadata{Duration: 150, Width: 1080, Height: 1080},
		failAt:   2,
	}

	artifacts, err := NewSplitter(enc, telegram(t), 0).Segment(context.Background(), "source.mp4", t.TempDir(), defaultParams())
	assert.Empty(t, artifacts)
	assert.True(t, errors.Is(err, ErrTransform))
	// the run stops at the failing clip
	assert.Len(t, enc.jobs, 2)
}

func TestSegmentSourceOpenFailure(t *testing.T) {
	enc := &fakeEncoder{probeErr: errors.New("moov atom not found")}
	outputDir := filepath.Join(t.TempDir(), "never")

	artifacts, err := NewSplitter(enc, telegram(t), 0).Segment(context.Background(), "broken.mp4", outputDir, defaultParams())
	assert.Empty(t, artifacts)
	assert.True(t, errors.Is(err, ErrSourceOpen))
	assert.NoDirExists(t, outputDir)
}

func TestSegmentInvalidParameters(t *testing.T) {
	enc := &fakeEncoder{probeErr: errors.New("must not be called")}
	splitter := NewSplitter(enc, telegram(t), 0)

	for _, params := range []types.TransformParameters{
		{SegmentLength: 0, AspectRatio: types.Vertical},
		{SegmentLength: -10, AspectRatio: types.Vertical},
		{SegmentLength: 60, AspectRatio: types.AspectRatio{W: 0, H: 16}},
	} {
		artifacts, err := splitter.Segment(context.Background(), "source.mp4", t.TempDir(), params)
		assert.Empty(t, artifacts)
		assert.True(t, errors.Is(err, types.ErrInvalidParameter), "%+v", params)
	}
}

func TestSegmentCancelled(t *testing.T) {
	enc := &fakeEncoder{metadata: &ffmpegWrap.VideoMetadata{Duration: 150, Width: 1080, Height: 1080}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifacts, err := NewSplitter(enc, telegram(t), time.Second).Segment(ctx, "source.mp4", t.TempDir(), defaultParams())
	assert.Empty(t, artifacts)
	assert.True(t, errors.Is(err, ErrTransform))
	assert.Empty(t, enc.jobs)
}

func TestRunDir(t *testing.T) {
	now := time.Date(2026, 10, 18, 9, 30, 5, 0, time.Local)

	dir := RunDir("/work", "BAADBAAD/x y", now)
	assert.Equal(t, "/work/output_BAADBAAD_x_y_20261018093005", dir)

	created, ok := RunDirTime(dir)
	require.True(t, ok)
	assert.True(t, now.Equal(created))

	random := RunDir("/work", "", now)
	assert.Regexp(t, `^/work/output_[0-9a-f-]{36}_20261018093005$`, random)

	_, ok = RunDirTime("/work/clip_0_60.mp4")
	assert.False(t, ok)
}
