package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"audio-extractor/internal/transcoder"
)

// EnvPrefix namespaces environment overrides, e.g. EXTRACTOR_DEST_DIR.
const EnvPrefix = "EXTRACTOR"

// Config holds all the settings for the extractor.
type Config struct {
	FFmpegPath        string   `mapstructure:"ffmpeg_path"`
	GPUProbeCommand   string   `mapstructure:"gpu_probe_command"`
	InstallCommand    []string `mapstructure:"install_command"`
	WorkDir           string   `mapstructure:"work_dir"`
	DestDir           string   `mapstructure:"dest_dir"`
	DownloadDir       string   `mapstructure:"download_dir"`
	MaxWorkers        int      `mapstructure:"max_workers"`
	BackgroundWorkers int      `mapstructure:"background_workers"`
	HeartbeatSec      int      `mapstructure:"heartbeat_seconds"`
	WebhookURL        string   `mapstructure:"webhook_url"`
	ListenAddr        string   `mapstructure:"listen_addr"`
	LogLevel          string   `mapstructure:"log_level"`
	AutoInstallYTDLP  bool     `mapstructure:"auto_install_ytdlp"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"dir":     "work_dir",
	"dest":    "dest_dir",
	"workers": "max_workers",
	"listen":  "listen_addr",
}

// Debug reports whether subprocess logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

// Load merges defaults, the YAML file at path, EXTRACTOR_* environment
// variables and the flags that were set on flags, in increasing priority.
// A missing file is not an error; a malformed one is. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	v.SetDefault("ffmpeg_path", transcoder.DefaultBinary)
	v.SetDefault("gpu_probe_command", transcoder.DefaultGPUProbeCommand)
	v.SetDefault("install_command", transcoder.DefaultInstallCommand(runtime.GOOS, exec.LookPath))
	v.SetDefault("work_dir", "")
	v.SetDefault("dest_dir", "")
	v.SetDefault("download_dir", "")
	v.SetDefault("max_workers", 0)
	v.SetDefault("background_workers", 2)
	v.SetDefault("heartbeat_seconds", 15)
	v.SetDefault("webhook_url", "")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("auto_install_ytdlp", true)

	// 2. Read from File
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// 3. Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Flags
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// EXTRACTOR_INSTALL_COMMAND arrives as one string
	if len(cfg.InstallCommand) == 1 {
		cfg.InstallCommand = strings.Fields(cfg.InstallCommand[0])
	}

	if err := cfg.resolveDirs(); err != nil {
		return nil, err
	}
	if cfg.BackgroundWorkers < 1 {
		cfg.BackgroundWorkers = 1
	}
	return &cfg, nil
}

// resolveDirs defaults the working directory to the current one and the
// destination and download directories to the working directory.
func (c *Config) resolveDirs() error {
	if c.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve working directory: %w", err)
		}
		c.WorkDir = wd
	}
	if c.DestDir == "" {
		c.DestDir = c.WorkDir
	}
	if c.DownloadDir == "" {
		c.DownloadDir = c.WorkDir
	}
	return nil
}
