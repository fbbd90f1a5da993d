package mirror

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	defaultSourcesPath       = "/etc/apt/sources.list"
	defaultLockFile          = "/run/lock/mirrorselect.lock"
	defaultListURL           = "http://mirrors.ubuntu.com/mirrors.txt"
	defaultRegionURLTemplate = "http://mirrors.ubuntu.com/%s.txt"
	defaultProbePath         = "ls-lR.gz"
	defaultProbeBytes        = 102400
	defaultProbeTimeout      = 2 * time.Second
	defaultMaxConns          = 16
	defaultTop               = 5
	defaultListsDir          = "/var/lib/apt/lists"
	backupDirName            = "mirrorselect-backups"
)

type tomlURL struct {
	*url.URL
}

func (u *tomlURL) UnmarshalText(text []byte) error {
	parsedURL, err := url.Parse(string(text))
	if err != nil {
		return err
	}
	switch parsedURL.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return errors.New("url has no host: " + string(text))
	}
	u.URL = parsedURL
	return nil
}

func (u tomlURL) MarshalText() ([]byte, error) {
	if u.URL == nil {
		return nil, nil
	}
	return []byte(u.URL.String()), nil
}

type tomlDuration struct {
	time.Duration
}

func (d *tomlDuration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d tomlDuration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ListConfig locates the mirror-list service.
type ListConfig struct {
	DefaultURL tomlURL `toml:"default_url"`

	// RegionURLTemplate contains a single %s verb replaced by the upper-cased
	// region code.
	RegionURLTemplate string `toml:"region_url_template"`
}

// RegionURL returns the list resource for a region hint.
func (lc *ListConfig) RegionURL(hint RegionHint) string {
	return fmt.Sprintf(lc.RegionURLTemplate, string(hint))
}

// Check validates the list configuration.
func (lc *ListConfig) Check() error {
	if lc.DefaultURL.URL == nil {
		return errors.New("default_url is not set")
	}
	if strings.Count(lc.RegionURLTemplate, "%s") != 1 {
		return errors.New("region_url_template must contain exactly one %s")
	}
	if _, err := normalizeURL(lc.RegionURL("US")); err != nil {
		return errors.Wrap(err, "region_url_template")
	}
	return nil
}

// ProbeConfig controls the speed probes.
type ProbeConfig struct {
	Path     string       `toml:"path"`
	Bytes    int64        `toml:"bytes"`
	Timeout  tomlDuration `toml:"timeout"`
	MaxConns int          `toml:"max_conns"`
	Top      int          `toml:"top"`
}

// Check validates the probe configuration.
func (pc *ProbeConfig) Check() error {
	if pc.Path == "" {
		return errors.New("path is not set")
	}
	if pc.Bytes <= 0 {
		return errors.New("bytes must be positive")
	}
	if pc.Timeout.Duration <= 0 {
		return errors.New("timeout must be positive")
	}
	if pc.MaxConns <= 0 {
		return errors.New("max_conns must be positive")
	}
	if pc.Top <= 0 {
		return errors.New("top must be positive")
	}
	return nil
}

// BackupConfig locates the backup directory.
type BackupConfig struct {
	// Dir defaults to a directory next to the active configuration file.
	Dir      string `toml:"dir"`
	KeepLast int    `toml:"keep_last"`
}

// RefreshConfig controls the package index refresh after a swap.
type RefreshConfig struct {
	Command  []string `toml:"command"`
	ListsDir string   `toml:"lists_dir"`
}

// VerifyConfig enables InRelease signature checks on the selected mirror.
type VerifyConfig struct {
	Keyring string `toml:"keyring"`
}

// HistoryConfig enables the benchmark history database.
type HistoryConfig struct {
	DBPath string `toml:"db_path"`
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/etc/mirrorselect/mirrorselect.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	SourcesPath string        `toml:"sources_path"`
	LockFile    string        `toml:"lock_file"`
	Log         LogConfig     `toml:"log"`
	List        ListConfig    `toml:"list"`
	Probe       ProbeConfig   `toml:"probe"`
	Backup      BackupConfig  `toml:"backup"`
	Refresh     RefreshConfig `toml:"refresh"`
	Verify      VerifyConfig  `toml:"verify"`
	History     HistoryConfig `toml:"history"`
}

// BackupDir returns the configured backup directory or the default sibling
// of the active configuration file.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(filepath.Dir(c.SourcesPath), backupDirName)
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.SourcesPath == "" {
		return errors.New("sources_path is not set")
	}
	if !filepath.IsAbs(c.SourcesPath) {
		return errors.New("sources_path must be an absolute path")
	}
	if c.LockFile != "" && !filepath.IsAbs(c.LockFile) {
		return errors.New("lock_file must be an absolute path")
	}
	if c.Backup.Dir != "" && !filepath.IsAbs(c.Backup.Dir) {
		return errors.New("backup.dir must be an absolute path")
	}
	if c.Backup.KeepLast < 0 {
		return errors.New("backup.keep_last must not be negative")
	}
	if err := c.List.Check(); err != nil {
		return errors.Wrap(err, "list")
	}
	if err := c.Probe.Check(); err != nil {
		return errors.Wrap(err, "probe")
	}
	if len(c.Refresh.Command) == 0 {
		return errors.New("refresh.command is not set")
	}
	if c.Verify.Keyring != "" {
		if !filepath.IsAbs(c.Verify.Keyring) {
			return errors.New("verify.keyring must be an absolute path")
		}
		if _, err := os.Stat(c.Verify.Keyring); err != nil {
			return errors.Wrap(err, "verify.keyring")
		}
	}
	if c.History.DBPath != "" && !filepath.IsAbs(c.History.DBPath) {
		return errors.New("history.db_path must be an absolute path")
	}
	return nil
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	listURL, _ := url.Parse(defaultListURL)
	return &Config{
		SourcesPath: defaultSourcesPath,
		LockFile:    defaultLockFile,
		List: ListConfig{
			DefaultURL:        tomlURL{listURL},
			RegionURLTemplate: defaultRegionURLTemplate,
		},
		Probe: ProbeConfig{
			Path:     defaultProbePath,
			Bytes:    defaultProbeBytes,
			Timeout:  tomlDuration{defaultProbeTimeout},
			MaxConns: defaultMaxConns,
			Top:      defaultTop,
		},
		Refresh: RefreshConfig{
			Command:  []string{"apt-get", "update"},
			ListsDir: defaultListsDir,
		},
	}
}
