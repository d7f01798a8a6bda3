// Package config holds the gateway's runtime configuration: defaults,
// environment overlay, and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Relay protocols.
const (
	ProtocolRELP = "relp"
	ProtocolTCP  = "tcp"
	ProtocolTLS  = "tls"
)

// Config is the full runtime configuration. Defaults come from Default;
// flags and HECRELAY_* environment variables overlay it.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// RelayAddr is the downstream syslog relay address.
	RelayAddr string

	// RelayProtocol selects the delivery transport: relp, tcp or tls.
	RelayProtocol string

	// ReconnectWait is the flat interval between relay reconnect attempts.
	ReconnectWait time.Duration

	// MaxAckValue is the largest acknowledgement id; ids wrap back to 0
	// past it.
	MaxAckValue int

	// MaxAckAge evicts unacknowledged ids older than this.
	MaxAckAge time.Duration

	// MaxSessionAge evicts sessions idle longer than this.
	MaxSessionAge time.Duration

	// PollInterval is how often the eviction sweeps run.
	PollInterval time.Duration

	// RateLimit is the per-client request rate in requests per second.
	// Zero disables limiting.
	RateLimit float64

	// RateBurst is the per-client burst allowance when limiting is on.
	RateBurst int

	// MaxBodyBytes caps the decoded request body size.
	MaxBodyBytes int64
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		RelayAddr:     "127.0.0.1:601",
		RelayProtocol: ProtocolRELP,
		ReconnectWait: 500 * time.Millisecond,
		MaxAckValue:   1000000,
		MaxAckAge:     20 * time.Second,
		MaxSessionAge: 30 * time.Second,
		PollInterval:  30 * time.Second,
		RateLimit:     0,
		RateBurst:     100,
		MaxBodyBytes:  1 << 20,
	}
}

// FromEnv overlays HECRELAY_* environment variables onto the config.
// Unset variables leave the current value alone; malformed values are an
// error rather than a silent fallback.
func (c *Config) FromEnv() error {
	if v, ok := os.LookupEnv("HECRELAY_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := os.LookupEnv("HECRELAY_RELAY_ADDR"); ok {
		c.RelayAddr = v
	}
	if v, ok := os.LookupEnv("HECRELAY_RELAY_PROTOCOL"); ok {
		c.RelayProtocol = v
	}

	var err error
	if c.ReconnectWait, err = envDuration("HECRELAY_RECONNECT_WAIT", c.ReconnectWait); err != nil {
		return err
	}
	if c.MaxAckValue, err = envInt("HECRELAY_MAX_ACK_VALUE", c.MaxAckValue); err != nil {
		return err
	}
	if c.MaxAckAge, err = envDuration("HECRELAY_MAX_ACK_AGE", c.MaxAckAge); err != nil {
		return err
	}
	if c.MaxSessionAge, err = envDuration("HECRELAY_MAX_SESSION_AGE", c.MaxSessionAge); err != nil {
		return err
	}
	if c.PollInterval, err = envDuration("HECRELAY_POLL_INTERVAL", c.PollInterval); err != nil {
		return err
	}
	if c.RateLimit, err = envFloat("HECRELAY_RATE_LIMIT", c.RateLimit); err != nil {
		return err
	}
	if c.RateBurst, err = envInt("HECRELAY_RATE_BURST", c.RateBurst); err != nil {
		return err
	}
	if c.MaxBodyBytes, err = envInt64("HECRELAY_MAX_BODY_BYTES", c.MaxBodyBytes); err != nil {
		return err
	}

	return nil
}

// Validate checks ranges and enum values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.RelayAddr == "" {
		return fmt.Errorf("relay address must not be empty")
	}
	switch c.RelayProtocol {
	case ProtocolRELP, ProtocolTCP, ProtocolTLS:
	default:
		return fmt.Errorf("unknown relay protocol %q", c.RelayProtocol)
	}
	if c.ReconnectWait <= 0 {
		return fmt.Errorf("reconnect wait must be positive, got %s", c.ReconnectWait)
	}
	if c.MaxAckValue < 1 {
		return fmt.Errorf("max ack value must be at least 1, got %d", c.MaxAckValue)
	}
	if c.MaxAckAge <= 0 {
		return fmt.Errorf("max ack age must be positive, got %s", c.MaxAckAge)
	}
	if c.MaxSessionAge <= 0 {
		return fmt.Errorf("max session age must be positive, got %s", c.MaxSessionAge)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %g", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rate burst must be at least 1 when limiting, got %d", c.RateBurst)
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("max body bytes must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

func envDuration(key string, cur time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return cur, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envInt(key string, cur int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return cur, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, cur int64) (int64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return cur, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, cur float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return cur, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
