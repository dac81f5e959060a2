// Package config loads and saves the tapebackarr YAML configuration
// document. The keys below are the contract; the document shape is ours.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Database      string              `yaml:"database"`
	Remote        RemoteConfig        `yaml:"remote"`
	Local         LocalConfig         `yaml:"local"`
	Devices       DevicesConfig       `yaml:"devices"`
	Threads       ThreadsConfig       `yaml:"threads"`
	EncKey        string              `yaml:"enc-key"`
	LTOWhitelist  []string            `yaml:"lto-whitelist,omitempty"`
	LTOBlacklist  []string            `yaml:"lto-blacklist,omitempty"`
	TapeKeepFree  string              `yaml:"tape-keep-free"`
	VerifyFiles   string              `yaml:"verify-files"`
	MaxStorage    string              `yaml:"max-storage-usage"`
	DBBackupPath  string              `yaml:"database-backup-git-path"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	StatusAPI     StatusAPIConfig     `yaml:"status_api"`
}

// RemoteConfig holds the SSH remote-ingest target.
type RemoteConfig struct {
	Server  string `yaml:"server"`
	BaseDir string `yaml:"base-dir"`
	DataDir string `yaml:"data-dir"`
}

// LocalConfig holds local staging directories.
type LocalConfig struct {
	BaseDir      string `yaml:"base-dir"`
	DataDir      string `yaml:"data-dir"`
	EncDir       string `yaml:"enc-dir"`
	VerifyDir    string `yaml:"verify-dir"`
	TapeMountDir string `yaml:"tape-mount-dir"`
	RestoreDir   string `yaml:"restore-dir"`
}

// DevicesConfig holds the robot and drive device paths.
type DevicesConfig struct {
	TapeLib   string `yaml:"tapelib"`
	TapeDrive string `yaml:"tapedrive"`
}

// ThreadsConfig holds worker-pool sizes per stage.
type ThreadsConfig struct {
	Get     int `yaml:"get"`
	Encrypt int `yaml:"encrypt"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputPath string `yaml:"output_path"`
}

// NotificationsConfig holds optional stage-completion notifications.
type NotificationsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// ScheduleConfig holds the unattended cron schedule.
type ScheduleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// StatusAPIConfig holds the optional read-only HTTP status server.
type StatusAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: "/var/lib/tapebackarr/tapebackarr.db",
		Remote: RemoteConfig{
			Server:  "",
			BaseDir: "/data",
			DataDir: "/data",
		},
		Local: LocalConfig{
			BaseDir:      "/data",
			DataDir:      "/var/lib/tapebackarr/staging",
			EncDir:       "/var/lib/tapebackarr/enc",
			VerifyDir:    "/var/lib/tapebackarr/verify",
			TapeMountDir: "/mnt/ltfs",
			RestoreDir:   "/var/lib/tapebackarr/restore",
		},
		Devices: DevicesConfig{
			TapeLib:   "/dev/sch0",
			TapeDrive: "/dev/nst0",
		},
		Threads: ThreadsConfig{
			Get:     4,
			Encrypt: 4,
		},
		EncKey:       "",
		TapeKeepFree: "10G",
		VerifyFiles:  "2",
		MaxStorage:   "",
		DBBackupPath: "/var/lib/tapebackarr/db-backup",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			OutputPath: "/var/log/tapebackarr/tapebackarr.log",
		},
		Schedule: ScheduleConfig{
			Enabled: false,
			Cron:    "0 2 * * *",
		},
		StatusAPI: StatusAPIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
		},
	}
}

// Load loads configuration from a YAML file, returning defaults if the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
