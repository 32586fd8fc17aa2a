package config

import (
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logging struct {
	// Set log level
	Level string
	// Enable console logging
	Console bool
	// Enable file logging and specify its path
	File string
	// MaxAge the max age in days to keep a logfile
	MaxAge int
	// MaxSize the max size in MB of the logfile before it's rolled
	MaxSize int
	// MaxBackups the max number of rolled files to keep
	MaxBackups int
}

func (Logging) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("log.level", "", "Set log level")
	if err := viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log.level")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("log.console", true, "Enable console logging")
	if err := viper.BindPFlag("log.console", cmd.PersistentFlags().Lookup("log.console")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("log.file", "", "Enable file logging and specify its path")
	if err := viper.BindPFlag("log.file", cmd.PersistentFlags().Lookup("log.file")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxage", 0, "MaxAge the max age in days to keep a logfile")
	if err := viper.BindPFlag("log.maxage", cmd.PersistentFlags().Lookup("log.maxage")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxsize", 100, "MaxSize the max size in MB of the logfile before it's rolled")
	if err := viper.BindPFlag("log.maxsize", cmd.PersistentFlags().Lookup("log.maxsize")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("log.maxbackups", 0, "MaxBackups the max number of rolled files to keep")
	if err := viper.BindPFlag("log.maxbackups", cmd.PersistentFlags().Lookup("log.maxbackups")); err != nil {
		return err
	}

	return nil
}

func (c *Logging) Set() {
	c.Level = viper.GetString("log.level")
	c.Console = viper.GetBool("log.console")
	c.File = viper.GetString("log.file")
	c.MaxAge = viper.GetInt("log.maxage")
	c.MaxSize = viper.GetInt("log.maxsize")
	c.MaxBackups = viper.GetInt("log.maxbackups")
}

// logOutput is the single writer behind log.Logger. Loggers derived with
// log.With() keep a reference to it, so Apply swaps its target in place.
var logOutput = &switchWriter{out: os.Stderr}

type switchWriter struct {
	mu     sync.RWMutex
	out    io.Writer
	file   *lumberjack.Logger
	hookup sync.Once
}

func (w *switchWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.out.Write(p)
}

// swap installs out and closes the file logger it replaces.
func (w *switchWriter) swap(out io.Writer, file *lumberjack.Logger) {
	w.mu.Lock()
	prev := w.file
	w.out, w.file = out, file
	w.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
}

func (w *switchWriter) rotate() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.file != nil {
		_ = w.file.Rotate()
	}
}

// rotateOnHangup rotates the current log file in response to SIGHUP.
func (w *switchWriter) rotateOnHangup() {
	w.hookup.Do(func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGHUP)

		go func() {
			for range sig {
				w.rotate()
			}
		}()
	})
}

// Apply points the global zerolog logger at the writers described by c.
// It can be called again on config reload.
func (c *Logging) Apply() {
	var writers []io.Writer

	if c.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out: os.Stderr,
		})
	}

	var file *lumberjack.Logger
	if c.File != "" {
		file = &lumberjack.Logger{
			Filename:   c.File,
			MaxAge:     c.MaxAge,     // days
			MaxSize:    c.MaxSize,    // megabytes
			MaxBackups: c.MaxBackups, // files
		}
		writers = append(writers, file)
		logOutput.rotateOnHangup()
	}

	logOutput.swap(io.MultiWriter(writers...), file)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(logOutput)

	if c.Level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}

	level, err := zerolog.ParseLevel(c.Level)
	if err != nil {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		log.Warn().Str("log-level", c.Level).Msg("unknown log level")
		return
	}
	zerolog.SetGlobalLevel(level)
}
