package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/philocinemas/clipbot/internal/status"
	"github.com/philocinemas/clipbot/pkg/types"
)

// API is the part of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Segmenter turns a local video into clips.
type Segmenter interface {
	Segment(ctx context.Context, sourcePath, outputDir string, params types.TransformParameters) ([]types.Artifact, error)
}

// Cleaner schedules deletion of a run directory.
type Cleaner interface {
	Schedule(dir string, delay time.Duration)
}

type Options struct {
	WorkDir         string
	RetentionWindow time.Duration
	// MaxDownloadSize is the getFile limit of the bot API
	MaxDownloadSize int
}

type Bot struct {
	api      API
	splitter Segmenter
	cleaner  Cleaner
	statuses *status.Store
	settings *Settings
	opts     Options
	download func(ctx context.Context, url, path string) error
	now      func() time.Time
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func New(api API, splitter Segmenter, cleaner Cleaner, statuses *status.Store, settings *Settings, opts Options) *Bot {
	if opts.MaxDownloadSize == 0 {
		opts.MaxDownloadSize = 20 << 20
	}

	return &Bot{
		api:      api,
		splitter: splitter,
		cleaner:  cleaner,
		statuses: statuses,
		settings: settings,
		opts:     opts,
		download: downloadFile,
		now:      time.Now,
		logger:   log.With().Str("module", "bot").Logger(),
	}
}

// Run long-polls for updates and handles each on its own goroutine until ctx
// is done. It returns once every in-flight update has finished.
func (b *Bot) Run(ctx context.Context, timeout int) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info().Msg("listening for updates")

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleUpdate(ctx, upd)
			}()
		}
	}
}

// HandleUpdate routes one update to its handler.
func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Int("update", upd.UpdateID).Msg("handler panicked")
		}
	}()

	switch {
	case upd.CallbackQuery != nil:
		b.onCallback(upd.CallbackQuery)
	case upd.Message == nil || upd.Message.From == nil:
		return
	case upd.Message.IsCommand():
		b.onCommand(upd.Message)
	case upd.Message.Video != nil || isVideoDocument(upd.Message.Document):
		b.onVideo(ctx, upd.Message)
	case upd.Message.Text != "":
		b.onText(upd.Message)
	case upd.Message.Document != nil:
		b.reply(upd.Message.Chat.ID, "❌ Please send me a valid video file.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Err(err).Int64("chat", chatID).Msg("error sending message")
	}
}
