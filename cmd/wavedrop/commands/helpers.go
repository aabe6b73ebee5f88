package commands

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/wavedrop/wavedrop/internal/logger"
	"go.uber.org/zap"
)

const (
	relayFlagDesc = `Address of relay server. Accepted formats:
  - 127.0.0.1:8000
  - [::1]:8000
  - somedomain.com
  - ws://somedomain.com/ws
	`
	tuiStyleFlagDesc = "Style of the tui (rich|raw)"
)

var validate = validator.New()
var ErrInvalidAddress = errors.New("invalid address provided")

// validateAddress validates a hostname or IP, optionally with a port, or a
// websocket url.
func validateAddress(addr string) error {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		if err := validate.Var(addr, "url"); err != nil {
			return ErrInvalidAddress
		}
		return nil
	}

	// IPv4 and IPv6 address validation.
	err := validate.Var(addr, "ip")
	if err == nil {
		return nil
	}

	// IPv4 or IPv6 or domain or localhost.
	err = validate.Var(addr, "hostname")
	if err == nil {
		return nil
	}

	// IPv4 or domain or localhost and a port. Or just a shortand port (:1234).
	err = validate.Var(addr, "hostname_port")
	if err == nil {
		return nil
	}

	// Also validate IPv6 host + port combination. The hostname_port validator does not validate this.
	_, port, hostPortErr := net.SplitHostPort(addr)
	// Additionally, validate the port range.
	if p, err := strconv.Atoi(port); err != nil || p < 0 || p > 65535 {
		return ErrInvalidAddress
	}
	if hostPortErr == nil {
		return nil
	}

	return ErrInvalidAddress
}

// setupLoggingFromViper returns a file logger when verbose logging is
// configured and a no-op logger otherwise.
func setupLoggingFromViper(cmd string) (*zap.Logger, error) {
	if !viper.GetBool("verbose") {
		return zap.NewNop(), nil
	}
	lgr, err := logger.NewFile(fmt.Sprintf(".wavedrop-%s.log", cmd))
	if err != nil {
		return nil, fmt.Errorf("could not log to the provided file: %w", err)
	}
	return lgr.With(zap.String("command", cmd)), nil
}
