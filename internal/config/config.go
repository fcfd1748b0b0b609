package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	// HistoryLimit bounds the in-memory per-room history ring and the
	// number of messages delivered on join.
	HistoryLimit     int           `mapstructure:"history_limit" yaml:"history_limit"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval" yaml:"snapshot_interval"`
	KickCooldown     time.Duration `mapstructure:"kick_cooldown" yaml:"kick_cooldown"`
	RecallWindow     time.Duration `mapstructure:"recall_window" yaml:"recall_window"`

	MediaDir       string        `mapstructure:"media_dir" yaml:"media_dir"`
	MediaRetention time.Duration `mapstructure:"media_retention" yaml:"media_retention"`
	MediaSweep     time.Duration `mapstructure:"media_sweep" yaml:"media_sweep"`

	JWTSecret   string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string `mapstructure:"jwt_audience" yaml:"jwt_audience"`

	// AdminUsername/AdminSecret provision a single admin account at startup.
	// Left empty, no admin is seeded; the login path never grants the flag.
	AdminUsername string `mapstructure:"admin_username" yaml:"admin_username"`
	AdminSecret   string `mapstructure:"admin_secret" yaml:"admin_secret"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "loftchat.db",
		HistoryLimit:      50,
		SnapshotInterval:  30 * time.Second,
		KickCooldown:      5 * time.Minute,
		RecallWindow:      2 * time.Minute,
		MediaDir:          "media",
		MediaRetention:    15 * 24 * time.Hour,
		MediaSweep:        time.Hour,
		JWTSecret:         "dev-secret-change-me",
		JWTIssuer:         "loftchat",
		JWTAudience:       "loftchat-clients",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.HistoryLimit != 0 {
		c.HistoryLimit = other.HistoryLimit
	}
	if other.SnapshotInterval != 0 {
		c.SnapshotInterval = other.SnapshotInterval
	}
	if other.KickCooldown != 0 {
		c.KickCooldown = other.KickCooldown
	}
	if other.RecallWindow != 0 {
		c.RecallWindow = other.RecallWindow
	}
	if other.MediaDir != "" {
		c.MediaDir = other.MediaDir
	}
	if other.MediaRetention != 0 {
		c.MediaRetention = other.MediaRetention
	}
	if other.MediaSweep != 0 {
		c.MediaSweep = other.MediaSweep
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.AdminUsername != "" {
		c.AdminUsername = other.AdminUsername
	}
	if other.AdminSecret != "" {
		c.AdminSecret = other.AdminSecret
	}
}
