package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "FINKEEPER"

// Keys shared by the config file, environment and flags.
const (
	KeyServerAddr           = "server_addr"
	KeyTransport            = "transport"
	KeyEventsAddr           = "events_addr"
	KeyAccessToken          = "access_token"
	KeyDBPath               = "db_path"
	KeySyncInterval         = "sync_interval"
	KeyOnlineCheckInterval  = "online_check_interval"
	KeyOnlineDebounce       = "online_debounce"
	KeyRequestTimeout       = "request_timeout"
	KeyMaxRetries           = "max_retries"
	KeyForceMaxRetries      = "force_max_retries"
	KeySyncedRetention      = "synced_retention"
	KeyPoisonRetention      = "poison_retention"
	KeyHousekeepingInterval = "housekeeping_interval"
	KeyLogLevel             = "log_level"
	KeyLogFormat            = "log_format"
	KeyLogFile              = "log_file"
	KeyLogMaxSizeMB         = "log_max_size_mb"
	KeyLogMaxBackups        = "log_max_backups"
)

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// BindFlags registers the persistent client flags on fs.
func BindFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.String("config", "", "path to a config file (json, yaml or toml)")
	fs.StringP(flagName(KeyServerAddr), "a", d.ServerAddr, "address of the sync server")
	fs.String(flagName(KeyTransport), d.Transport, "transport to the server: grpc or http")
	fs.String(flagName(KeyEventsAddr), "", "HTTP address of the change feed, defaults to the server address over http")
	fs.String(flagName(KeyAccessToken), "", "access token presented to the server")
	fs.String(flagName(KeyDBPath), d.DBPath, "path to the local database")
	fs.Duration(flagName(KeySyncInterval), d.SyncInterval, "interval between scheduled sync rounds")
	fs.DurationP(flagName(KeyOnlineCheckInterval), "i", d.OnlineCheckInterval, "server reachability probe interval")
	fs.Duration(flagName(KeyRequestTimeout), d.RequestTimeout, "timeout of a single server call")
	fs.Int(flagName(KeyMaxRetries), d.MaxRetries, "failed pushes before a queue entry is poisoned")
	fs.Duration(flagName(KeyPoisonRetention), d.PoisonRetention, "age after which poisoned entries are purged, 0 keeps them")
	fs.String(flagName(KeyLogLevel), d.LogLevel, "log level: debug, info, warn, error")
	fs.String(flagName(KeyLogFile), "", "write logs to this file with rotation")
}

// Load resolves the configuration from defaults, the optional config file,
// FINKEEPER_* environment variables and the flags in fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	var d Config
	d.LoadDefaults()
	setDefaults(v, &d)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" {
				return
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}

		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault(KeyServerAddr, d.ServerAddr)
	v.SetDefault(KeyTransport, d.Transport)
	v.SetDefault(KeyEventsAddr, d.EventsAddr)
	v.SetDefault(KeyAccessToken, d.AccessToken)
	v.SetDefault(KeyDBPath, d.DBPath)
	v.SetDefault(KeySyncInterval, d.SyncInterval)
	v.SetDefault(KeyOnlineCheckInterval, d.OnlineCheckInterval)
	v.SetDefault(KeyOnlineDebounce, d.OnlineDebounce)
	v.SetDefault(KeyRequestTimeout, d.RequestTimeout)
	v.SetDefault(KeyMaxRetries, d.MaxRetries)
	v.SetDefault(KeyForceMaxRetries, d.ForceMaxRetries)
	v.SetDefault(KeySyncedRetention, d.SyncedRetention)
	v.SetDefault(KeyPoisonRetention, d.PoisonRetention)
	v.SetDefault(KeyHousekeepingInterval, d.HousekeepingInterval)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	v.SetDefault(KeyLogFormat, d.LogFormat)
	v.SetDefault(KeyLogFile, d.LogFile)
	v.SetDefault(KeyLogMaxSizeMB, d.LogMaxSizeMB)
	v.SetDefault(KeyLogMaxBackups, d.LogMaxBackups)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		ServerAddr:           v.GetString(KeyServerAddr),
		Transport:            v.GetString(KeyTransport),
		EventsAddr:           v.GetString(KeyEventsAddr),
		AccessToken:          v.GetString(KeyAccessToken),
		DBPath:               v.GetString(KeyDBPath),
		SyncInterval:         v.GetDuration(KeySyncInterval),
		OnlineCheckInterval:  v.GetDuration(KeyOnlineCheckInterval),
		OnlineDebounce:       v.GetDuration(KeyOnlineDebounce),
		RequestTimeout:       v.GetDuration(KeyRequestTimeout),
		MaxRetries:           v.GetInt(KeyMaxRetries),
		ForceMaxRetries:      v.GetInt(KeyForceMaxRetries),
		SyncedRetention:      v.GetDuration(KeySyncedRetention),
		PoisonRetention:      v.GetDuration(KeyPoisonRetention),
		HousekeepingInterval: v.GetDuration(KeyHousekeepingInterval),
		LogLevel:             v.GetString(KeyLogLevel),
		LogFormat:            v.GetString(KeyLogFormat),
		LogFile:              v.GetString(KeyLogFile),
		LogMaxSizeMB:         v.GetInt(KeyLogMaxSizeMB),
		LogMaxBackups:        v.GetInt(KeyLogMaxBackups),
	}
}
