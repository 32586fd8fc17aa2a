package ffmpeg

import (
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/philocinemas/clipbot/internal/config"
)

// drawtext unescapes its option values once more after the filtergraph level.
var drawtextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`:`, `\:`,
	`'`, `\'`,
	`%`, `\%`,
)

// EscapeDrawtext escapes text for use as a drawtext option value.
func EscapeDrawtext(text string) string {
	return drawtextEscaper.Replace(text)
}

// WatermarkKwArgs styles the watermark: white text on a solid black box,
// centered horizontally and resting on the bottom edge.
func WatermarkKwArgs(text string) ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"text":       EscapeDrawtext(text),
		"expansion":  "none",
		"font":       config.TextFont,
		"fontsize":   config.TextSize,
		"fontcolor":  config.TextColor,
		"box":        1,
		"boxcolor":   config.TextBoxColor,
		"boxborderw": config.TextBoxBorder,
		"x":          "(w-text_w)/2",
		"y":          "h-text_h-" + config.TextBoxBorder,
	}
}

// AddWatermark draws text over every frame of stream. An empty text leaves
// the stream untouched.
func AddWatermark(stream *ffmpeg.Stream, text string) *ffmpeg.Stream {
	if text == "" {
		return stream
	}
	return stream.Filter("drawtext", ffmpeg.Args{}, WatermarkKwArgs(text))
}
