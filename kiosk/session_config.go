package kiosk

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-kiosk/logger"
	"github.com/arloliu/go-kiosk/slideshow"
	"github.com/benbjohnson/clock"
)

// Dialer opens the TCP connection to the device. *net.Dialer implements Dialer.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SessionConfig represents the configuration parameters of a kiosk session.
type SessionConfig struct {
	// host specifies the host of the kiosk device.
	host string

	// port specifies the TCP port of the kiosk device.
	port int

	// reconnectDelay defines how long the session waits after a transport failure
	// before dialing again.
	// Defaults to 10 seconds.
	reconnectDelay time.Duration

	// keepAlive defines the TCP keep-alive probe interval.
	// Defaults to 30 seconds.
	keepAlive time.Duration

	// connectTimeout defines the timeout of a single dial attempt.
	// Defaults to 5 seconds.
	connectTimeout time.Duration

	// writeTimeout defines the write deadline applied to every outbound command.
	// Defaults to 5 seconds.
	writeTimeout time.Duration

	// maxLineSize defines the longest inbound line accepted from the device. A longer
	// line is discarded and counted as a decode error.
	// Defaults to 64 KiB.
	maxLineSize int

	// pages is the slideshow page list.
	pages []slideshow.Page

	// clock provides the reconnect and slideshow timers.
	clock clock.Clock

	// dialer opens connections. Defaults to a net.Dialer using connectTimeout and keepAlive.
	dialer Dialer

	// logger provides a logger instance for logging session events and errors.
	logger logger.Logger
}

// NewSessionConfig creates a session configuration for the device at host:port with
// default values, then applies opts.
//
// Returns an error wrapping ErrInvalidHost, ErrInvalidPort or ErrInvalidOption when a
// value is rejected.
func NewSessionConfig(host string, port int, opts ...SessionOption) (*SessionConfig, error) {
	cfg := &SessionConfig{
		reconnectDelay: 10 * time.Second,
		keepAlive:      30 * time.Second,
		connectTimeout: 5 * time.Second,
		writeTimeout:   5 * time.Second,
		maxLineSize:    64 * 1024,
		clock:          clock.New(),
		logger:         logger.GetLogger(),
	}

	if err := withHost(host).apply(cfg); err != nil {
		return nil, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Host returns the device host.
func (cfg *SessionConfig) Host() string { return cfg.host }

// Port returns the device port.
func (cfg *SessionConfig) Port() int { return cfg.port }

// Address returns the "host:port" dial address of the device.
func (cfg *SessionConfig) Address() string {
	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

// ReconnectDelay returns the delay between a transport failure and the next dial.
func (cfg *SessionConfig) ReconnectDelay() time.Duration { return cfg.reconnectDelay }

// Pages returns a copy of the slideshow pages.
func (cfg *SessionConfig) Pages() []slideshow.Page {
	return append([]slideshow.Page(nil), cfg.pages...)
}

func (cfg *SessionConfig) getDialer() Dialer {
	if cfg.dialer != nil {
		return cfg.dialer
	}

	return &net.Dialer{Timeout: cfg.connectTimeout, KeepAlive: cfg.keepAlive}
}

// SessionOption represents a functional option for configuring a SessionConfig.
type SessionOption interface {
	apply(*SessionConfig) error
}

type sessionOptFunc struct {
	name      string
	applyFunc func(*SessionConfig) error
}

func (o *sessionOptFunc) apply(cfg *SessionConfig) error {
	if cfg == nil {
		return ErrConfigNil
	}

	return o.applyFunc(cfg)
}

func (o *sessionOptFunc) String() string { return o.name }

func newSessionOptFunc(name string, f func(*SessionConfig) error) *sessionOptFunc {
	return &sessionOptFunc{name: name, applyFunc: f}
}

// withHost sets the device host. The host must be a non-empty IP address or host name
// without whitespace or a port suffix.
func withHost(host string) SessionOption {
	return newSessionOptFunc("withHost", func(cfg *SessionConfig) error {
		host = strings.TrimSpace(host)
		if host == "" || strings.ContainsAny(host, " \t/") {
			return fmt.Errorf("%w: %q", ErrInvalidHost, host)
		}

		// bracketed or bare IPv6 literals are accepted as they are
		if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
			cfg.host = ip.String()
			return nil
		}

		if strings.Contains(host, ":") {
			return fmt.Errorf("%w: %q", ErrInvalidHost, host)
		}
		cfg.host = strings.TrimSuffix(host, ".")

		return nil
	})
}

// withPort sets the device port.
func withPort(port int) SessionOption {
	return newSessionOptFunc("withPort", func(cfg *SessionConfig) error {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: %d", ErrInvalidPort, port)
		}
		cfg.port = port

		return nil
	})
}

// WithReconnectDelay sets the delay between a transport failure and the next dial
// attempt. The delay must be positive.
//
// The default value is 10 seconds.
func WithReconnectDelay(d time.Duration) SessionOption {
	return newSessionOptFunc("WithReconnectDelay", func(cfg *SessionConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: reconnect delay must be positive", ErrInvalidOption)
		}
		cfg.reconnectDelay = d

		return nil
	})
}

// WithKeepAlive sets the TCP keep-alive probe interval. A negative value disables
// keep-alive probes.
//
// The default value is 30 seconds.
func WithKeepAlive(d time.Duration) SessionOption {
	return newSessionOptFunc("WithKeepAlive", func(cfg *SessionConfig) error {
		cfg.keepAlive = d
		return nil
	})
}

// WithConnectTimeout sets the timeout of a single dial attempt. It should be between
// 100 milliseconds and 60 seconds.
//
// The default value is 5 seconds.
func WithConnectTimeout(d time.Duration) SessionOption {
	return newSessionOptFunc("WithConnectTimeout", func(cfg *SessionConfig) error {
		if d < 100*time.Millisecond || d > 60*time.Second {
			return fmt.Errorf("%w: connect timeout out of range [0.1s, 60s]", ErrInvalidOption)
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the write deadline of outbound commands. It should be between
// 100 milliseconds and 60 seconds.
//
// The default value is 5 seconds.
func WithWriteTimeout(d time.Duration) SessionOption {
	return newSessionOptFunc("WithWriteTimeout", func(cfg *SessionConfig) error {
		if d < 100*time.Millisecond || d > 60*time.Second {
			return fmt.Errorf("%w: write timeout out of range [0.1s, 60s]", ErrInvalidOption)
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithMaxLineSize sets the longest inbound line accepted from the device.
// Longer lines are skipped; the connection stays up.
//
// The default value is 64 KiB.
func WithMaxLineSize(n int) SessionOption {
	return newSessionOptFunc("WithMaxLineSize", func(cfg *SessionConfig) error {
		if n < 256 {
			return fmt.Errorf("%w: max line size must be at least 256 bytes", ErrInvalidOption)
		}
		cfg.maxLineSize = n

		return nil
	})
}

// WithPages sets the slideshow page list.
func WithPages(pages ...slideshow.Page) SessionOption {
	return newSessionOptFunc("WithPages", func(cfg *SessionConfig) error {
		cfg.pages = append([]slideshow.Page(nil), pages...)
		return nil
	})
}

// WithClock sets the clock used by the reconnect and slideshow timers.
func WithClock(clk clock.Clock) SessionOption {
	return newSessionOptFunc("WithClock", func(cfg *SessionConfig) error {
		if clk == nil {
			return fmt.Errorf("%w: clock is nil", ErrInvalidOption)
		}
		cfg.clock = clk

		return nil
	})
}

// WithDialer replaces the dialer used to open connections to the device.
func WithDialer(d Dialer) SessionOption {
	return newSessionOptFunc("WithDialer", func(cfg *SessionConfig) error {
		if d == nil {
			return fmt.Errorf("%w: dialer is nil", ErrInvalidOption)
		}
		cfg.dialer = d

		return nil
	})
}

// WithLogger sets the logger of the session.
func WithLogger(l logger.Logger) SessionOption {
	return newSessionOptFunc("WithLogger", func(cfg *SessionConfig) error {
		if l == nil {
			return fmt.Errorf("%w: logger is nil", ErrInvalidOption)
		}
		cfg.logger = l

		return nil
	})
}
