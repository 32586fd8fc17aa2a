package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/philocinemas/clipbot/internal/bot"
	"github.com/philocinemas/clipbot/internal/config"
	"github.com/philocinemas/clipbot/internal/ffmpeg"
	apihttp "github.com/philocinemas/clipbot/internal/http"
	"github.com/philocinemas/clipbot/internal/platform"
	"github.com/philocinemas/clipbot/internal/processor"
	"github.com/philocinemas/clipbot/internal/retention"
	"github.com/philocinemas/clipbot/internal/status"
	"github.com/philocinemas/clipbot/pkg/types"
)

var (
	cfgFile     string
	logConfig   = &config.Logging{}
	pipelineCfg = &config.Pipeline{}
	botCfg      = &config.Bot{}

	rootCmd = &cobra.Command{
		Use:   "clipbot",
		Short: "Telegram bot that cuts videos into watermarked vertical clips",
		Long: `clipbot splits uploaded videos into fixed-length parts, stamps a watermark
on each part, retargets it to a vertical aspect ratio and sends the parts back.
Generated files are deleted after the retention window.

Examples:
  # Run the bot
  CLIPBOT_BOT_TOKEN=... clipbot serve

  # Split a local file into 30-second 9:16 clips
  clipbot split -i input.mp4 --segment.length 30`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	splitCmd = &cobra.Command{
		Use:   "split",
		Short: "Split a local video into watermarked clips",
		Long: fmt.Sprintf(`Split a video file into clips exactly like the bot does.

Supported platforms:
%s
Example:
  clipbot split -i input.mp4 -o ./output --segment.length 15 --segment.aspect 9:16`,
			formatSupportedPlatforms()),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath, _ := cmd.Flags().GetString("input")
			outputDir, _ := cmd.Flags().GetString("output")

			if outputDir == "" {
				outputDir = processor.RunDir(pipelineCfg.WorkDir, "", time.Now())
			}

			splitter, params, err := newSplitter(pipelineCfg)
			if err != nil {
				return err
			}

			artifacts, err := splitter.Segment(cmd.Context(), inputPath, outputDir, params)
			if err != nil {
				return err
			}

			for _, artifact := range artifacts {
				fmt.Printf("Part %d\t%s\n", artifact.Ordinal, artifact.Path)
			}
			return nil
		},
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup DIR...",
		Short: "Delete output directories now instead of waiting for the retention window",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var failed []string
			for _, dir := range args {
				if err := retention.Purge(dir, log.Logger); err != nil {
					failed = append(failed, dir)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("could not remove: %s", strings.Join(failed, ", "))
			}
			return nil
		},
	}
)

func formatSupportedPlatforms() string {
	var sb strings.Builder
	for _, name := range platform.GetSupportedPlatforms() {
		sb.WriteString(fmt.Sprintf("- %s\n", name))
	}
	return sb.String()
}

func newSplitter(cfg *config.Pipeline) (*processor.Splitter, types.TransformParameters, error) {
	params, err := cfg.Segment.Parameters()
	if err != nil {
		return nil, params, err
	}

	plat, err := platform.Get(cfg.Segment.Platform)
	if err != nil {
		return nil, params, errors.WithStack(err)
	}

	encoder := ffmpeg.NewProcessor(cfg.FFmpegBinary)
	return processor.NewSplitter(encoder, plat, cfg.Segment.Timeout), params, nil
}

func serve(ctx context.Context) error {
	if err := botCfg.Validate(); err != nil {
		return err
	}

	splitter, params, err := newSplitter(pipelineCfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(pipelineCfg.WorkDir, 0755); err != nil {
		return errors.Wrap(err, "creating work dir")
	}

	api, err := tgbotapi.NewBotAPI(botCfg.Token)
	if err != nil {
		return errors.Wrap(err, "connecting to telegram")
	}
	api.Debug = botCfg.Debug
	log.Info().Str("account", api.Self.UserName).Msg("authorized")

	scheduler := retention.NewScheduler()
	defer scheduler.Stop()

	if _, err := scheduler.Resume(pipelineCfg.WorkDir, pipelineCfg.RetentionWindow, processor.RunDirTime); err != nil {
		log.Warn().Err(err).Msg("unable to resume pending deletions")
	}

	statuses := status.NewStore()
	settings := bot.NewSettings(params)

	if botCfg.HTTPBind != "" {
		server := apihttp.New(botCfg.HTTPBind, statuses, scheduler)
		server.Start()
		defer func() {
			if err := server.Shutdown(); err != nil {
				log.Err(err).Msg("http shutdown with an error")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pruneStatuses(ctx, statuses, pipelineCfg.RetentionWindow)

	b := bot.New(api, splitter, scheduler, statuses, settings, bot.Options{
		WorkDir:         pipelineCfg.WorkDir,
		RetentionWindow: pipelineCfg.RetentionWindow,
	})
	b.Run(ctx, botCfg.Timeout)

	log.Info().Msg("shutdown complete")
	return nil
}

func pruneStatuses(ctx context.Context, statuses *status.Store, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := statuses.Prune(maxAge); n > 0 {
				log.Debug().Int("count", n).Msg("pruned statuses")
			}
		}
	}
}

func init() {
	cobra.OnInitialize(func() {
		if err := config.Load(cfgFile); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		for _, cfg := range []config.Config{logConfig, pipelineCfg, botCfg} {
			cfg.Set()
		}
		logConfig.Apply()

		if file := viper.ConfigFileUsed(); file != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				logConfig.Set()
				logConfig.Apply()
				log.Info().Str("config", e.Name).Msg("config file reloaded")
			})
			viper.WatchConfig()
			log.Info().Str("config", file).Msg("preflight complete with config file")
		}
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")

	for _, cfg := range []config.Config{logConfig, pipelineCfg} {
		if err := cfg.Init(rootCmd); err != nil {
			panic(err)
		}
	}
	if err := botCfg.Init(serveCmd); err != nil {
		panic(err)
	}

	// Split command flags
	splitCmd.Flags().StringP("input", "i", "", "Input video file")
	splitCmd.Flags().StringP("output", "o", "", "Output directory (default: a new run directory in --work-dir)")
	_ = splitCmd.MarkFlagRequired("input")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
