package config

import (
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/packed-ratings/rpk"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Pack  PackConfig  `mapstructure:"pack"`
	Store StoreConfig `mapstructure:"store"`
	Log   LogConfig   `mapstructure:"log"`
}

// PackConfig controls the binary format written by the packer.
type PackConfig struct {
	OutputPath   string `mapstructure:"outputPath"`
	Timestamps   bool   `mapstructure:"timestamps"`
	CompactUsers bool   `mapstructure:"compactUsers"`
	CompactItems bool   `mapstructure:"compactItems"`
	SizeHint     int    `mapstructure:"sizeHint"`
}

// StoreConfig controls how packed files are opened.
type StoreConfig struct {
	Path   string `mapstructure:"path"`
	Verify bool   `mapstructure:"verify"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads configuration from file or environment variables.
// A fresh viper instance is used per call so repeated loads do not leak state.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("pack.outputPath", internal.DefaultPackFile)
	v.SetDefault("pack.timestamps", internal.DefaultPackTimestamps)
	v.SetDefault("pack.compactUsers", false)
	v.SetDefault("pack.compactItems", false)
	v.SetDefault("pack.sizeHint", -1)
	v.SetDefault("store.path", internal.DefaultPackFile)
	v.SetDefault("store.verify", false)
	v.SetDefault("log.level", internal.DefaultLogLevel)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // pack.timestamps becomes RPK_PACK_TIMESTAMPS

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		// Config file not found; defaults will be used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode into struct")
	}

	return &cfg, nil
}
