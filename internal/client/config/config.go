package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/finkeeper/internal/client/transport"
)

// Config holds runtime settings for the finkeeper client.
type Config struct {
	ServerAddr  string
	Transport   string
	AccessToken string
	DBPath      string

	// EventsAddr is the HTTP address of the server's change feed. Empty
	// means ServerAddr for the http transport and no feed for grpc.
	EventsAddr string

	SyncInterval        time.Duration
	OnlineCheckInterval time.Duration
	OnlineDebounce      time.Duration
	RequestTimeout      time.Duration

	MaxRetries      int
	ForceMaxRetries int
	// SyncedRetention is how long acknowledged queue entries are kept.
	SyncedRetention time.Duration
	// PoisonRetention is how long poisoned entries are kept. Zero keeps them.
	PoisonRetention      time.Duration
	HousekeepingInterval time.Duration

	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// DefaultDBPath is ~/.finkeeper/finkeeper.db, or a relative path when the
// home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "finkeeper.db"
	}
	return filepath.Join(home, ".finkeeper", "finkeeper.db")
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "127.0.0.1:50051"
	c.Transport = transport.KindGRPC
	c.DBPath = DefaultDBPath()

	c.SyncInterval = 30 * time.Second
	c.OnlineCheckInterval = 3 * time.Second
	c.OnlineDebounce = time.Second
	c.RequestTimeout = 10 * time.Second

	c.MaxRetries = 3
	c.ForceMaxRetries = 10
	c.SyncedRetention = 7 * 24 * time.Hour
	c.PoisonRetention = 0
	c.HousekeepingInterval = time.Hour

	c.LogLevel = "info"
	c.LogFormat = "text"
	c.LogMaxSizeMB = 10
	c.LogMaxBackups = 3
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Transport != transport.KindGRPC && c.Transport != transport.KindHTTP {
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.DBPath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.SyncInterval <= 0 || c.OnlineCheckInterval <= 0 {
		return fmt.Errorf("sync and online check intervals must be positive")
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.ForceMaxRetries < c.MaxRetries {
		return fmt.Errorf("force max retries (%d) must not be below max retries (%d)", c.ForceMaxRetries, c.MaxRetries)
	}
	if c.PoisonRetention < 0 || c.SyncedRetention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	return nil
}

// TransportOptions derives transport settings from c.
func (c *Config) TransportOptions(clientID string) transport.Options {
	return transport.Options{
		Kind:        c.Transport,
		Address:     c.ServerAddr,
		AccessToken: c.AccessToken,
		ClientID:    clientID,
		Timeout:     c.RequestTimeout,
	}
}

// ChangeFeedAddr is the address the daemon subscribes to for remote changes,
// or "" when the feed is off.
func (c *Config) ChangeFeedAddr() string {
	if c.EventsAddr != "" {
		return c.EventsAddr
	}
	if c.Transport == transport.KindHTTP {
		return c.ServerAddr
	}
	return ""
}

// FeedOptions are TransportOptions pointed at the change feed.
func (c *Config) FeedOptions(clientID string) transport.Options {
	o := c.TransportOptions(clientID)
	o.Kind = transport.KindHTTP
	o.Address = c.ChangeFeedAddr()
	return o
}
