package main

import (
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/outofforest/libshare"
	"github.com/outofforest/libshare/library"
	"github.com/outofforest/libshare/transport/lan"
)

// SyncConfig defines whether playlists of discovered libraries are mirrored locally.
type SyncConfig struct {
	Enabled bool     `toml:"enabled"`
	Fields  []string `toml:"fields"`
}

// ReconnectConfig mirrors libshare.ReconnectConfig in the config file.
type ReconnectConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	Backoff     time.Duration `toml:"backoff"`
	MaxBackoff  time.Duration `toml:"max_backoff"`
}

// Config is the content of the config file.
type Config struct {
	// Name is the name the peer is visible under. Host name is used if empty.
	Name        string `toml:"name"`
	LibraryName string `toml:"library_name"`
	ServiceID   string `toml:"service_id"`

	Database string `toml:"database"`
	MediaDir string `toml:"media_dir"`

	Listen         string `toml:"listen"`
	MulticastGroup string `toml:"multicast_group"`

	// MaxMessageSize limits the size of messages exchanged with peers, so it bounds the
	// size of tracks which may be transferred.
	MaxMessageSize uint64 `toml:"max_message_size"`

	InviteTimeout   time.Duration   `toml:"invite_timeout"`
	DownloadTimeout time.Duration   `toml:"download_timeout"`
	Reconnect       ReconnectConfig `toml:"reconnect"`
	Sync            SyncConfig      `toml:"sync"`
}

// DefaultConfig returns the configuration used when config file does not set the value.
func DefaultConfig() Config {
	manager := libshare.DefaultConfig()
	transport := lan.DefaultConfig()
	return Config{
		LibraryName:     "Music",
		ServiceID:       manager.ServiceID,
		Database:        "libshare.db",
		MediaDir:        "media",
		Listen:          ":0",
		MulticastGroup:  lan.DefaultGroup,
		MaxMessageSize:  transport.MaxMessageSize,
		InviteTimeout:   manager.InviteTimeout,
		DownloadTimeout: manager.DownloadTimeout,
		Reconnect: ReconnectConfig{
			MaxAttempts: manager.Reconnect.MaxAttempts,
			Backoff:     manager.Reconnect.Backoff,
			MaxBackoff:  manager.Reconnect.MaxBackoff,
		},
		Sync: SyncConfig{
			Fields: []string{"id", "title", "artist", "album", "duration"},
		},
	}
}

// LoadConfig reads config file. Defaults are returned if path is empty.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, config.resolve()
	}

	md, err := toml.DecodeFile(path, &config)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %s failed", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, errors.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return config, config.resolve()
}

func (c *Config) resolve() error {
	if c.Name != "" {
		return nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return errors.WithStack(err)
	}
	c.Name = hostname
	return nil
}

// Manager returns configuration of the connectivity manager.
func (c Config) Manager() libshare.Config {
	config := libshare.DefaultConfig()
	config.ServiceID = c.ServiceID
	config.LibraryName = c.LibraryName
	config.InviteTimeout = c.InviteTimeout
	config.DownloadTimeout = c.DownloadTimeout
	config.Reconnect = libshare.ReconnectConfig{
		MaxAttempts: c.Reconnect.MaxAttempts,
		Backoff:     c.Reconnect.Backoff,
		MaxBackoff:  c.Reconnect.MaxBackoff,
	}
	return config
}

// Library returns configuration of the library.
func (c Config) Library() library.Config {
	return library.Config{
		Path:     c.Database,
		MediaDir: c.MediaDir,
	}
}

// Transport returns configuration of the LAN transport.
func (c Config) Transport() (lan.Config, error) {
	config := lan.DefaultConfig()
	config.MaxMessageSize = c.MaxMessageSize
	if c.MulticastGroup != lan.DefaultGroup {
		discovery, err := lan.NewMulticast(c.MulticastGroup)
		if err != nil {
			return lan.Config{}, err
		}
		config.Discovery = discovery
	}
	return config, nil
}
