//nolint:errcheck
package wavedrop

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/wavedrop/wavedrop/internal/receiver"
	"github.com/wavedrop/wavedrop/internal/session"
	"github.com/wavedrop/wavedrop/protocol/relay"
	"go.uber.org/zap"
)

// defaultConfig specifies the default config for the wavedrop module.
var defaultConfig = Config{
	RelayAddr:            relay.DefaultAddr,
	MaxReconnectAttempts: receiver.DefaultMaxAttempts,
	ReconnectDelay:       receiver.DefaultReconnectDelay,
	SettleDelay:          receiver.DefaultSettleDelay,
	CompletionThreshold:  session.DefaultThreshold,
}

// Config specifies a config for the wavedrop module. MergeConfig treats zero
// fields as unset and keeps the default, so zero reconnect attempts or a zero
// delay cannot be requested through a struct literal. MergeConfigReader honours
// explicit zeros in the JSON.
type Config struct {
	RelayAddr            string        `json:"RelayAddr,omitempty"`
	MaxReconnectAttempts int           `json:"MaxReconnectAttempts,omitempty"`
	ReconnectDelay       time.Duration `json:"ReconnectDelay,omitempty"`
	SettleDelay          time.Duration `json:"SettleDelay,omitempty"`
	CompletionThreshold  float64       `json:"CompletionThreshold,omitempty"`
	Logger               *zap.Logger   `json:"-"`
}

// MergeConfigReader merges the config from the reader
// with into the provided config. Values in the reader
// will override values in the provided config
func MergeConfigReader(dst Config, r io.Reader) Config {
	json.NewDecoder(r).Decode(&dst)
	return dst
}

// MergeConfig merges the specified source config into the
// specified destination config. Values present in the source
// config will overide values in the destination config.
func MergeConfig(dst Config, src *Config) Config {
	if src == nil {
		return dst
	}
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(src)
	merged := MergeConfigReader(dst, &buf)
	if src.Logger != nil {
		merged.Logger = src.Logger
	}
	return merged
}

func (c Config) options() []receiver.Option {
	opts := []receiver.Option{
		receiver.WithMaxAttempts(c.MaxReconnectAttempts),
		receiver.WithReconnectDelay(c.ReconnectDelay),
		receiver.WithSettleDelay(c.SettleDelay),
		receiver.WithThreshold(c.CompletionThreshold),
	}
	if c.Logger != nil {
		opts = append(opts, receiver.WithLogger(c.Logger))
	}
	return opts
}
