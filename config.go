package libshare

import (
	"time"

	"github.com/pkg/errors"
)

// DefaultServiceID is the service announced and browsed for by default.
const DefaultServiceID = "j-tunes"

// ReconnectConfig defines how peers are invited again after the session is lost.
type ReconnectConfig struct {
	// MaxAttempts is the number of invitations sent after consecutive failures.
	// Zero or less means no limit.
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Config is the configuration of connectivity manager.
type Config struct {
	ServiceID   string
	LibraryName string

	InviteTimeout time.Duration
	RetryInterval time.Duration
	EventBuffer   int
	Reconnect     ReconnectConfig

	// DownloadTimeout limits the time of waiting for the requested track download.
	// Zero disables the limit.
	DownloadTimeout       time.Duration
	DownloadSweepInterval time.Duration
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		ServiceID:     DefaultServiceID,
		InviteTimeout: 10 * time.Second,
		RetryInterval: 5 * time.Second,
		EventBuffer:   100,
		Reconnect: ReconnectConfig{
			MaxAttempts: 10,
			Backoff:     time.Second,
			MaxBackoff:  time.Minute,
		},
		DownloadTimeout:       10 * time.Minute,
		DownloadSweepInterval: 30 * time.Second,
	}
}

func (c Config) validate() error {
	switch {
	case c.ServiceID == "":
		return errors.New("service ID is empty")
	case c.InviteTimeout <= 0:
		return errors.New("invite timeout must be positive")
	case c.RetryInterval <= 0:
		return errors.New("retry interval must be positive")
	case c.EventBuffer < 0:
		return errors.New("event buffer must not be negative")
	case c.Reconnect.Backoff < 0:
		return errors.New("reconnect backoff must not be negative")
	case c.Reconnect.MaxBackoff < 0:
		return errors.New("max reconnect backoff must not be negative")
	case c.DownloadTimeout > 0 && c.DownloadSweepInterval <= 0:
		return errors.New("download sweep interval must be positive")
	}
	return nil
}

// delay returns the time to wait before the invitation following attempt failures.
func (c ReconnectConfig) delay(attempt int) time.Duration {
	limit := c.MaxBackoff
	if limit <= 0 {
		limit = time.Hour
	}

	d := c.Backoff
	for i := 1; i < attempt && d < limit; i++ {
		d *= 2
	}
	return min(d, limit)
}
