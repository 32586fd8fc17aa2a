package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"

	"github.com/philocinemas/clipbot/internal/config"
	"github.com/philocinemas/clipbot/internal/processor"
	"github.com/philocinemas/clipbot/internal/status"
)

const (
	callbackSetDuration = "set_duration"
	callbackCheckStatus = "check_status"

	noStatusText = "No ongoing video processing task found."
)

func startKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Set Clip Duration", callbackSetDuration),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Check Status", callbackCheckStatus),
		),
	)
}

func (b *Bot) onCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start", "help":
		params := b.settings.Parameters(msg.From.ID)
		reply := tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"Welcome! Use the buttons below or send me a video to split it into parts with a watermark. "+
				"Use /setduration to specify clip duration (currently %d seconds).", params.SegmentLength))
		reply.ReplyMarkup = startKeyboard()
		if _, err := b.api.Send(reply); err != nil {
			b.logger.Err(err).Int64("chat", chatID).Msg("error sending welcome")
		}
	case "status":
		b.reply(chatID, b.statusText(msg.From.ID))
	case "setduration":
		args := strings.TrimSpace(msg.CommandArguments())
		if args == "" {
			b.reply(chatID, "Send the duration in seconds as a message (e.g., `30` for 30 seconds).")
			return
		}
		b.setLength(chatID, msg.From.ID, args)
	default:
		b.reply(chatID, "Unknown command. Try /start.")
	}
}

func (b *Bot) onCallback(query *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		b.logger.Err(err).Str("callback", query.ID).Msg("error answering callback")
	}

	if query.Message == nil || query.From == nil {
		return
	}
	chatID := query.Message.Chat.ID

	switch query.Data {
	case callbackSetDuration:
		b.reply(chatID, "Send the duration in seconds as a message (e.g., `30` for 30 seconds).")
	case callbackCheckStatus:
		b.reply(chatID, b.statusText(query.From.ID))
	}
}

func (b *Bot) onText(msg *tgbotapi.Message) {
	b.setLength(msg.Chat.ID, msg.From.ID, msg.Text)
}

func (b *Bot) setLength(chatID, requester int64, text string) {
	seconds, err := ParseLength(text)
	if err == nil {
		err = b.settings.SetLength(requester, seconds)
	}
	if err != nil {
		b.reply(chatID, "❌ Invalid duration. Please send a positive number.")
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Clip duration set to %d seconds.", seconds))
}

func (b *Bot) statusText(requester int64) string {
	st, ok := b.statuses.Get(requester)
	if !ok {
		return noStatusText
	}
	return "Current Status: " + st.String()
}

func (b *Bot) onVideo(ctx context.Context, msg *tgbotapi.Message) {
	chatID, requester := msg.Chat.ID, msg.From.ID
	fileID, uniqueID, size := videoFile(msg)

	logger := b.logger.With().Int64("requester", requester).Str("file", uniqueID).Logger()

	if size > b.opts.MaxDownloadSize {
		b.reply(chatID, fmt.Sprintf("❌ This video is too big, bots can only download files up to %d MB.", b.opts.MaxDownloadSize>>20))
		return
	}

	var sink status.Sink = b.statuses
	params := b.settings.Parameters(requester)

	sink.Set(requester, status.Processing)
	b.reply(chatID, fmt.Sprintf("⏳ Processing your video with a clip duration of %d seconds. Please wait...", params.SegmentLength))

	outputDir := processor.RunDir(b.opts.WorkDir, fmt.Sprintf("%d_%s", requester, uniqueID), b.now())
	sourcePath := filepath.Join(b.opts.WorkDir, "source_"+strings.TrimPrefix(filepath.Base(outputDir), config.OutputDirPrefix)+".mp4")
	defer func() {
		if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
			logger.Err(err).Str("path", sourcePath).Msg("error removing source")
		}
	}()

	b.reply(chatID, "📥 Downloading your video...")
	if err := b.fetch(ctx, fileID, sourcePath); err != nil {
		logger.Err(err).Msg("error downloading video")
		sink.Fail(requester, err.Error())
		b.reply(chatID, "❌ Error: "+err.Error())
		return
	}

	b.reply(chatID, "🎥 Processing the video...")
	artifacts, err := b.splitter.Segment(ctx, sourcePath, outputDir, params)
	// partial output of a failed run is purged on the same schedule
	defer b.cleaner.Schedule(outputDir, b.opts.RetentionWindow)

	if len(artifacts) == 0 {
		reason := "no clips produced"
		if err != nil {
			reason = err.Error()
		}
		sink.Fail(requester, reason)
		b.reply(chatID, "❌ Sorry, something went wrong while processing the video.")
		return
	}

	sink.Set(requester, status.Uploading)
	b.reply(chatID, "📤 Uploading the clips as parts...")

	for _, artifact := range artifacts {
		video := tgbotapi.NewVideo(chatID, tgbotapi.FilePath(artifact.Path))
		video.Caption = fmt.Sprintf("📹 Part %d", artifact.Ordinal)
		video.SupportsStreaming = true

		if _, err := b.api.Send(video); err != nil {
			logger.Err(err).Str("clip", artifact.Path).Msg("error uploading clip")
			sink.Fail(requester, err.Error())
			b.reply(chatID, "❌ Error: "+err.Error())
			return
		}

		if err := os.Remove(artifact.Path); err != nil {
			logger.Err(err).Str("clip", artifact.Path).Msg("error removing delivered clip")
		}
	}

	sink.Set(requester, status.Completed)
	b.reply(chatID, "✅ All clips uploaded successfully!")
	logger.Info().Int("clips", len(artifacts)).Msg("video delivered")
}

func (b *Bot) fetch(ctx context.Context, fileID, path string) error {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return errors.Wrap(err, "resolving file")
	}
	return b.download(ctx, url, path)
}

func downloadFile(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.WithStack(err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "downloading file")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("downloading file: unexpected status %s", resp.Status)
	}

	out, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return errors.Wrap(err, "writing file")
	}
	return errors.WithStack(out.Close())
}

func videoFile(msg *tgbotapi.Message) (fileID, uniqueID string, size int) {
	if msg.Video != nil {
		return msg.Video.FileID, msg.Video.FileUniqueID, msg.Video.FileSize
	}
	return msg.Document.FileID, msg.Document.FileUniqueID, msg.Document.FileSize
}

func isVideoDocument(doc *tgbotapi.Document) bool {
	return doc != nil && strings.HasPrefix(doc.MimeType, "video/")
}
