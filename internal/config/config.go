package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/philocinemas/clipbot/pkg/types"
)

// Config is bound to cobra flags in Init and read back from viper in Set.
type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

// SegmentOptions defines how an uploaded video is cut and styled
type SegmentOptions struct {
	Length    int
	Watermark string
	Aspect    string
	Platform  string
	Timeout   time.Duration
}

// Parameters converts the options into validated pipeline parameters.
func (o SegmentOptions) Parameters() (types.TransformParameters, error) {
	ratio, err := types.ParseAspectRatio(o.Aspect)
	if err != nil {
		return types.TransformParameters{}, err
	}

	params := types.TransformParameters{
		SegmentLength: o.Length,
		Watermark:     o.Watermark,
		AspectRatio:   ratio,
	}
	return params, params.Validate()
}

// Pipeline holds everything a segmentation run needs, shared by `serve` and `split`.
type Pipeline struct {
	WorkDir         string
	FFmpegBinary    string
	Segment         SegmentOptions
	RetentionWindow time.Duration
}

func (Pipeline) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("work-dir", "", "directory for downloads and generated clips")
	if err := viper.BindPFlag("work-dir", cmd.PersistentFlags().Lookup("work-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffmpeg.binary", "ffmpeg", "path to the ffmpeg binary")
	if err := viper.BindPFlag("ffmpeg.binary", cmd.PersistentFlags().Lookup("ffmpeg.binary")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("segment.length", DefaultSegmentLength, "duration of each clip in seconds")
	if err := viper.BindPFlag("segment.length", cmd.PersistentFlags().Lookup("segment.length")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("segment.watermark", DefaultWatermark, "text stamped at the bottom of every clip")
	if err := viper.BindPFlag("segment.watermark", cmd.PersistentFlags().Lookup("segment.watermark")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("segment.aspect", DefaultAspect, "target aspect ratio as w:h")
	if err := viper.BindPFlag("segment.aspect", cmd.PersistentFlags().Lookup("segment.aspect")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("segment.platform", DefaultPlatform, "delivery platform preset (codec, bitrate, container)")
	if err := viper.BindPFlag("segment.platform", cmd.PersistentFlags().Lookup("segment.platform")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("segment.timeout", 0, "abort a clip encode after this long (0 disables)")
	if err := viper.BindPFlag("segment.timeout", cmd.PersistentFlags().Lookup("segment.timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("retention.window", DefaultRetentionWindow, "delete generated clips after this long")
	if err := viper.BindPFlag("retention.window", cmd.PersistentFlags().Lookup("retention.window")); err != nil {
		return err
	}

	return nil
}

func (p *Pipeline) Set() {
	p.WorkDir = viper.GetString("work-dir")
	if p.WorkDir == "" {
		cwd, _ := os.Getwd()
		p.WorkDir = cwd
	}

	p.FFmpegBinary = viper.GetString("ffmpeg.binary")
	p.Segment = SegmentOptions{
		Length:    viper.GetInt("segment.length"),
		Watermark: viper.GetString("segment.watermark"),
		Aspect:    viper.GetString("segment.aspect"),
		Platform:  viper.GetString("segment.platform"),
		Timeout:   viper.GetDuration("segment.timeout"),
	}
	p.RetentionWindow = viper.GetDuration("retention.window")
}

// Bot configures the Telegram transport and the operational HTTP listener.
type Bot struct {
	Token    string
	Debug    bool
	Timeout  int
	HTTPBind string
}

func (Bot) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("bot.token", "", "telegram bot token")
	if err := viper.BindPFlag("bot.token", cmd.PersistentFlags().Lookup("bot.token")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("bot.debug", false, "log raw bot API traffic")
	if err := viper.BindPFlag("bot.debug", cmd.PersistentFlags().Lookup("bot.debug")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("bot.timeout", 60, "long polling timeout in seconds")
	if err := viper.BindPFlag("bot.timeout", cmd.PersistentFlags().Lookup("bot.timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("http.bind", "127.0.0.1:8080", "address for health and status endpoints (empty disables)")
	if err := viper.BindPFlag("http.bind", cmd.PersistentFlags().Lookup("http.bind")); err != nil {
		return err
	}

	return nil
}

func (b *Bot) Set() {
	b.Token = viper.GetString("bot.token")
	b.Debug = viper.GetBool("bot.debug")
	b.Timeout = viper.GetInt("bot.timeout")
	b.HTTPBind = viper.GetString("http.bind")
}

func (b *Bot) Validate() error {
	if b.Token == "" {
		return errors.New("bot token is required (--bot.token or CLIPBOT_BOT_TOKEN)")
	}
	return nil
}

const (
	DefaultSegmentLength   = 60
	DefaultWatermark       = "@Philo.Cinemas"
	DefaultAspect          = "9:16"
	DefaultPlatform        = "telegram"
	DefaultRetentionWindow = 24 * time.Hour

	// Directory prefix for a single run's clips
	OutputDirPrefix = "output_"
	// Timestamp embedded in output directory names
	OutputDirTimeLayout = "20060102150405"

	// Watermark settings
	TextSize      = "50"    // Font size for the watermark
	TextFont      = "Arial" // Font family
	TextColor     = "white" // Text color
	TextBoxColor  = "black" // Background box color
	TextBoxBorder = "8"     // Box padding around the text
)
