package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/wavedrop/wavedrop/internal/receiver"
	"github.com/wavedrop/wavedrop/internal/session"
	"github.com/wavedrop/wavedrop/protocol/relay"
)

const (
	CONFIGS_DIR_NAME         = ".config"
	WAVEDROP_CONFIG_DIR_NAME = "wavedrop"
	CONFIG_FILE_NAME         = "config"
	CONFIG_FILE_EXT          = "yml"

	// ENV_PREFIX prefixes environment overrides, e.g. WAVEDROP_RELAY.
	ENV_PREFIX = "wavedrop"

	StyleRich = "rich"
	StyleRaw  = "raw"
)

var Styles = []string{StyleRich, StyleRaw}

type Config struct {
	Relay                string        `mapstructure:"relay"`
	Verbose              bool          `mapstructure:"verbose"`
	PromptOverwriteFiles bool          `mapstructure:"prompt_overwrite_files"`
	TuiStyle             string        `mapstructure:"tui_style"`
	OutputDir            string        `mapstructure:"output_dir"`
	Unpack               bool          `mapstructure:"unpack"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	SettleDelay          time.Duration `mapstructure:"settle_delay"`
	CompletionThreshold  float64       `mapstructure:"completion_threshold"`
}

func GetDefault() Config {
	return Config{
		Relay:                relay.DefaultAddr,
		Verbose:              false,
		PromptOverwriteFiles: true,
		TuiStyle:             StyleRich,
		OutputDir:            ".",
		Unpack:               false,
		MaxReconnectAttempts: receiver.DefaultMaxAttempts,
		ReconnectDelay:       receiver.DefaultReconnectDelay,
		SettleDelay:          receiver.DefaultSettleDelay,
		CompletionThreshold:  session.DefaultThreshold,
	}
}

// Load returns the configuration resolved by viper.
func Load() Config {
	return Config{
		Relay:                viper.GetString("relay"),
		Verbose:              viper.GetBool("verbose"),
		PromptOverwriteFiles: viper.GetBool("prompt_overwrite_files"),
		TuiStyle:             viper.GetString("tui_style"),
		OutputDir:            viper.GetString("output_dir"),
		Unpack:               viper.GetBool("unpack"),
		MaxReconnectAttempts: viper.GetInt("max_reconnect_attempts"),
		ReconnectDelay:       viper.GetDuration("reconnect_delay"),
		SettleDelay:          viper.GetDuration("settle_delay"),
		CompletionThreshold:  viper.GetFloat64("completion_threshold"),
	}
}

// ReceiverOptions maps the configuration onto the connection manager options.
func (config Config) ReceiverOptions() []receiver.Option {
	return []receiver.Option{
		receiver.WithMaxAttempts(config.MaxReconnectAttempts),
		receiver.WithReconnectDelay(config.ReconnectDelay),
		receiver.WithSettleDelay(config.SettleDelay),
		receiver.WithThreshold(config.CompletionThreshold),
	}
}

func (config Config) Map() map[string]any {
	m := map[string]any{}
	for _, field := range structs.Fields(config) {
		key := field.Tag("mapstructure")
		value := field.Value()
		m[key] = value
	}
	return m
}

// Yaml renders the configuration with sorted keys.
func (config Config) Yaml() []byte {
	m := config.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, k := range keys {
		builder.WriteString(fmt.Sprintf("%s: %v", k, m[k]))
		builder.WriteRune('\n')
	}
	return []byte(builder.String())
}

func IsDefault(key string) bool {
	defaults := GetDefault().Map()
	return viper.Get(key) == defaults[key]
}

// Dir returns the directory holding the config file.
func Dir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("resolving home dir: %w", err)
	}
	return filepath.Join(home, CONFIGS_DIR_NAME, WAVEDROP_CONFIG_DIR_NAME), nil
}

// Init initializes the viper config.
// `config.yml` is created in $HOME/.config/wavedrop if not already existing.
// NOTE: The precedence levels of viper are the following: flags -> env -> config file -> defaults.
func Init() error {
	configPath, err := Dir()
	if err != nil {
		return err
	}
	return InitAt(configPath)
}

// InitAt initializes the viper config from the config file in configPath.
func InitAt(configPath string) error {
	viper.AddConfigPath(configPath)
	viper.SetConfigName(CONFIG_FILE_NAME)
	viper.SetConfigType(CONFIG_FILE_EXT)
	viper.SetEnvPrefix(ENV_PREFIX)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Create config file if not found.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("could not read config file: %w", err)
		}
		if err := os.MkdirAll(configPath, os.ModePerm); err != nil {
			return fmt.Errorf("could not create config directory: %w", err)
		}
		file := filepath.Join(configPath, fmt.Sprintf("%s.%s", CONFIG_FILE_NAME, CONFIG_FILE_EXT))
		if err := os.WriteFile(file, GetDefault().Yaml(), 0644); err != nil {
			return fmt.Errorf("could not write defaults to config file: %w", err)
		}
		viper.SetConfigFile(file)
	}
	for k, v := range GetDefault().Map() {
		viper.SetDefault(k, v)
	}
	return nil
}
