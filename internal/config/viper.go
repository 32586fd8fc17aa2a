package config

import (
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Default configuration path
const defCfgPath = "/etc/clipbot/"

// EnvPrefix prefixes every environment override, e.g. CLIPBOT_BOT_TOKEN.
const EnvPrefix = "CLIPBOT"

// Load reads .env, the config file and the environment into viper.
// A missing config file is only an error when cfgFile was given explicitly.
func Load(cfgFile string) error {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")

		if runtime.GOOS == "linux" {
			viper.AddConfigPath(defCfgPath)
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix(EnvPrefix)
	// replace . and - with _
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		return errors.Wrapf(err, "reading config file %s", cfgFile)
	}
	return nil
}
