package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philocinemas/clipbot/internal/processor"
	"github.com/philocinemas/clipbot/internal/status"
	"github.com/philocinemas/clipbot/pkg/types"
)

type fakeAPI struct {
	mu        sync.Mutex
	messages  []string
	videos    []tgbotapi.VideoConfig
	callbacks []string
	sendErr   error
	updates   chan tgbotapi.Update
	stopped   bool
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.messages = append(f.messages, m.Text)
	case tgbotapi.VideoConfig:
		if f.sendErr != nil {
			return tgbotapi.Message{}, f.sendErr
		}
		// the clip must still be on disk while it is uploaded
		if _, err := os.Stat(string(m.File.(tgbotapi.FilePath))); err != nil {
			return tgbotapi.Message{}, err
		}
		f.videos = append(f.videos, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.callbacks = append(f.callbacks, cb.CallbackQueryID)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.invalid/" + fileID, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) lastMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return ""
	}
	return f.messages[len(f.messages)-1]
}

type fakeSplitter struct {
	spans []types.Span
	err   error
	got   types.TransformParameters
}

func (f *fakeSplitter) Segment(_ context.Context, sourcePath, outputDir string, params types.TransformParameters) ([]types.Artifact, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var artifacts []types.Artifact
	for i, span := range f.spans {
		path := filepath.Join(outputDir, processor.ClipName(span, ".mp4"))
		if err := os.WriteFile(path, []byte("clip"), 0644); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, types.Artifact{Path: path, Ordinal: i + 1, Span: span})
	}
	return artifacts, nil
}

type fakeCleaner struct {
	mu   sync.Mutex
	dirs []string
}

func (f *fakeCleaner) Schedule(dir string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs = append(f.dirs, dir)
}

type harness struct {
	bot      *Bot
	api      *fakeAPI
	splitter *fakeSplitter
	cleaner  *fakeCleaner
	statuses *status.Store
	workDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		api:      &fakeAPI{updates: make(chan tgbotapi.Update)},
		splitter: &fakeSplitter{spans: []types.Span{{Start: 0, End: 60}, {Start: 60, End: 120}, {Start: 120, End: 150}}},
		cleaner:  &fakeCleaner{},
		statuses: status.NewStore(),
		workDir:  t.TempDir(),
	}
	settings := NewSettings(types.TransformParameters{SegmentLength: 60, Watermark: "@Philo.Cinemas", AspectRatio: types.Vertical})
	h.bot = New(h.api, h.splitter, h.cleaner, h.statuses, settings, Options{WorkDir: h.workDir, RetentionWindow: time.Hour})
	h.bot.download = func(_ context.Context, _, path string) error {
		return os.WriteFile(path, []byte("source"), 0644)
	}
	return h
}

func message(text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 4242},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: end}}
	}
	return tgbotapi.Update{Message: msg}
}

func videoMessage(size int) tgbotapi.Update {
	upd := message("")
	upd.Message.Video = &tgbotapi.Video{FileID: "file-id", FileUniqueID: "uniq", FileSize: size}
	return upd
}

func TestVideoDelivered(t *testing.T) {
	h := newHarness(t)

	h.bot.HandleUpdate(context.Background(), videoMessage(1<<20))

	require.Len(t, h.api.videos, 3)
	for i, v := range h.api.videos {
		assert.Equal(t, "📹 Part "+string(rune('1'+i)), v.Caption)
		assert.Equal(t, int64(4242), v.ChatID)
		// delivered clips are removed right away
		assert.NoFileExists(t, string(v.File.(tgbotapi.FilePath)))
	}
	assert.Contains(t, string(h.api.videos[0].File.(tgbotapi.FilePath)), "clip_0_60.mp4")
	assert.Contains(t, string(h.api.videos[2].File.(tgbotapi.FilePath)), "clip_120_150.mp4")

	st, ok := h.statuses.Get(42)
	require.True(t, ok)
	assert.Equal(t, status.Completed, st.State)
	assert.Equal(t, "✅ All clips uploaded successfully!", h.api.lastMessage())

	require.Len(t, h.cleaner.dirs, 1)
	created, ok := processor.RunDirTime(h.cleaner.dirs[0])
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now(), created, time.Minute)

	// only the (scheduled) output directory is left in the work dir
	entries, err := os.ReadDir(h.workDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsDir())
}

func TestVideoProcessingFailure(t *testing.T) {
	h := newHarness(t)
	h.splitter.err = errors.Wrap(processor.ErrTransform, "clip 2/3")

	h.bot.HandleUpdate(context.Background(), videoMessage(1<<20))

	assert.Empty(t, h.api.videos)
	st, _ := h.statuses.Get(42)
	assert.Equal(t, status.Failed, st.State)
	assert.Contains(t, st.Reason, "cannot transform segment")
	assert.Equal(t, "❌ Sorry, something went wrong while processing the video.", h.api.lastMessage())
	assert.Len(t, h.cleaner.dirs, 1)
}

func TestVideoDownloadFailure(t *testing.T) {
	h := newHarness(t)
	h.bot.download = func(context.Context, string, string) error {
		return errors.New("connection reset")
	}

	h.bot.HandleUpdate(context.Background(), videoMessage(1<<20))

	st, _ := h.statuses.Get(42)
	assert.Equal(t, "Failed: connection reset", st.String())
	assert.Equal(t, "❌ Error: connection reset", h.api.lastMessage())
	assert.Empty(t, h.cleaner.dirs)
}

func TestVideoUploadFailure(t *testing.T) {
	h := newHarness(t)
	h.api.sendErr = errors.New("Request Entity Too Large")

	h.bot.HandleUpdate(context.Background(), videoMessage(1<<20))

	st, _ := h.statuses.Get(42)
	assert.Equal(t, status.Failed, st.State)
	// undelivered clips stay for the retention manager
	assert.Len(t, h.cleaner.dirs, 1)
}

func TestVideoTooBig(t *testing.T) {
	h := newHarness(t)

	h.bot.HandleUpdate(context.Background(), videoMessage(25<<20))

	assert.Contains(t, h.api.lastMessage(), "too big")
	_, ok := h.statuses.Get(42)
	assert.False(t, ok)
}

func TestVideoDocument(t *testing.T) {
	h := newHarness(t)
	upd := message("")
	upd.Message.Document = &tgbotapi.Document{FileID: "doc", FileUniqueID: "doc-uniq", MimeType: "video/mp4", FileSize: 1 << 20}

	h.bot.HandleUpdate(context.Background(), upd)
	assert.Len(t, h.api.videos, 3)

	upd.Message.Document = &tgbotapi.Document{FileID: "pdf", MimeType: "application/pdf"}
	h.bot.HandleUpdate(context.Background(), upd)
	assert.Equal(t, "❌ Please send me a valid video file.", h.api.lastMessage())
}

func TestDurationFlow(t *testing.T) {
	h := newHarness(t)

	h.bot.HandleUpdate(context.Background(), message("30"))
	assert.Equal(t, "✅ Clip duration set to 30 seconds.", h.api.lastMessage())

	h.bot.HandleUpdate(context.Background(), message("/setduration 45"))
	assert.Equal(t, "✅ Clip duration set to 45 seconds.", h.api.lastMessage())

	h.bot.HandleUpdate(context.Background(), message("-3"))
	assert.Equal(t, "❌ Invalid duration. Please send a positive number.", h.api.lastMessage())

	h.bot.HandleUpdate(context.Background(), videoMessage(1<<20))
	assert.Equal(t, 45, h.splitter.got.SegmentLength)
	assert.Equal(t, "@Philo.Cinemas", h.splitter.got.Watermark)
}

func TestStatusCommand(t *testing.T) {
	h := newHarness(t)

	h.bot.HandleUpdate(context.Background(), message("/status"))
	assert.Equal(t, noStatusText, h.api.lastMessage())

	h.statuses.Set(42, status.Uploading)
	h.bot.HandleUpdate(context.Background(), message("/status"))
	assert.Equal(t, "Current Status: Uploading", h.api.lastMessage())
}

func TestCallbacks(t *testing.T) {
	h := newHarness(t)
	h.statuses.Fail(42, "boom")

	query := &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		From:    &tgbotapi.User{ID: 42},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 4242}},
		Data:    callbackCheckStatus,
	}
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: query})
	assert.Equal(t, "Current Status: Failed: boom", h.api.lastMessage())

	query.ID, query.Data = "cb-2", callbackSetDuration
	h.bot.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: query})
	assert.Contains(t, h.api.lastMessage(), "Send the duration in seconds")

	assert.Equal(t, []string{"cb-1", "cb-2"}, h.api.callbacks)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.bot.Run(ctx, 1)
		close(done)
	}()

	h.api.updates <- message("/status")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, h.api.stopped)
	assert.Equal(t, noStatusText, h.api.lastMessage())
}
