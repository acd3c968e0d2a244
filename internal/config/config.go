package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sheerbytes/once/internal/archive"
)

// Defaults shared by the serve and fetch commands.
const (
	DefaultPort         = 8080
	DefaultMaxDownloads = 1
	DefaultCompression  = "gzip"
	DefaultLogLevel     = "info"
)

// ErrUsage marks configuration problems the user should fix on the command line.
var ErrUsage = errors.New("usage error")

// ServeConfig holds configuration for the serve command.
type ServeConfig struct {
	Path         string // file or directory to serve, empty in upload mode
	MaxDownloads int
	Bind         string // host part of the listen address, empty for all interfaces
	Port         int
	Compression  string              // none, gzip, bzip2 or zip
	Format       archive.Compression // parsed Compression, set by Validate
	Upload       bool
	UploadDir    string
	Quiet        bool
	NoQR         bool
	LogLevel     string
	ConfigFile   string
}

// FetchConfig holds configuration for the fetch command.
type FetchConfig struct {
	URL        string
	OutDir     string
	Yes        bool // accept the suggested filename without asking
	Quiet      bool
	LogLevel   string
	ConfigFile string
}

// fileConfig is the layout of the YAML config file. Pointers tell absent keys
// apart from zero values.
type fileConfig struct {
	Serve struct {
		MaxDownloads *int    `yaml:"max_downloads"`
		Bind         *string `yaml:"bind"`
		Port         *int    `yaml:"port"`
		Compression  *string `yaml:"compression"`
		UploadDir    *string `yaml:"upload_dir"`
		Quiet        *bool   `yaml:"quiet"`
		NoQR         *bool   `yaml:"no_qr"`
		LogLevel     *string `yaml:"log_level"`
	} `yaml:"serve"`
	Fetch struct {
		OutDir   *string `yaml:"out_dir"`
		Yes      *bool   `yaml:"yes"`
		Quiet    *bool   `yaml:"quiet"`
		LogLevel *string `yaml:"log_level"`
	} `yaml:"fetch"`
}

// ParseServeConfig parses serve configuration from the config file, the
// environment and flags, in increasing order of precedence.
// Defaults: port=8080, max downloads=1, compression=gzip, upload dir=".".
func ParseServeConfig(fs *flag.FlagSet, args []string) (ServeConfig, error) {
	cfg, err := parseServeConfigWithFlagSet(fs, args)
	if err != nil {
		return cfg, err
	}
	err = cfg.Validate()
	return cfg, err
}

// parseServeConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServeConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServeConfig, error) {
	cfg := ServeConfig{
		MaxDownloads: DefaultMaxDownloads,
		Port:         DefaultPort,
		Compression:  DefaultCompression,
		UploadDir:    ".",
		LogLevel:     DefaultLogLevel,
	}

	cfg.ConfigFile = configPath(args)
	fc, err := loadFile(cfg.ConfigFile)
	if err != nil {
		return cfg, err
	}
	s := fc.Serve
	setInt(&cfg.MaxDownloads, s.MaxDownloads)
	setString(&cfg.Bind, s.Bind)
	setInt(&cfg.Port, s.Port)
	setString(&cfg.Compression, s.Compression)
	setString(&cfg.UploadDir, s.UploadDir)
	setBool(&cfg.Quiet, s.Quiet)
	setBool(&cfg.NoQR, s.NoQR)
	setString(&cfg.LogLevel, s.LogLevel)

	// Read from environment next
	if v := os.Getenv("ONCE_MAX_DOWNLOADS"); v != "" {
		if cfg.MaxDownloads, err = envInt("ONCE_MAX_DOWNLOADS", v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("ONCE_BIND"); v != "" {
		cfg.Bind = v
	}
	if v := os.Getenv("ONCE_PORT"); v != "" {
		if cfg.Port, err = envInt("ONCE_PORT", v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("ONCE_COMPRESSION"); v != "" {
		cfg.Compression = v
	}
	if v := os.Getenv("ONCE_UPLOAD_DIR"); v != "" {
		cfg.UploadDir = v
	}
	if v := os.Getenv("ONCE_QUIET"); v != "" {
		if cfg.Quiet, err = envBool("ONCE_QUIET", v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("ONCE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Flags override environment
	fs.IntVar(&cfg.MaxDownloads, "count", cfg.MaxDownloads, "number of downloads before the server exits")
	fs.StringVar(&cfg.Bind, "bind", cfg.Bind, "address to listen on (default all interfaces)")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on")
	fs.StringVar(&cfg.Compression, "compression", cfg.Compression, "archive format for directories (none, gzip, bzip2, zip)")
	fs.BoolVar(&cfg.Upload, "upload", cfg.Upload, "serve an upload form and store the uploaded file")
	fs.BoolVar(&cfg.Upload, "U", cfg.Upload, "shorthand for -upload")
	fs.StringVar(&cfg.UploadDir, "upload-dir", cfg.UploadDir, "directory uploaded files are stored in")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "only log errors")
	fs.BoolVar(&cfg.NoQR, "no-qr", cfg.NoQR, "do not print a QR code of the URL")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrUsage, err)
	}

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Path = fs.Arg(0)
	default:
		return cfg, fmt.Errorf("%w: expected one path, got %d", ErrUsage, fs.NArg())
	}
	return cfg, nil
}

// Validate reports configuration that cannot start a server and fills in
// Format from Compression.
func (c *ServeConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range 1-65535", ErrUsage, c.Port)
	}
	if c.MaxDownloads < 1 {
		return fmt.Errorf("%w: count must be at least 1, got %d", ErrUsage, c.MaxDownloads)
	}
	format, err := archive.ParseCompression(c.Compression)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	c.Format = format
	if c.Upload && c.Path != "" {
		return fmt.Errorf("%w: a path cannot be served in upload mode", ErrUsage)
	}
	if !c.Upload && c.Path == "" {
		return fmt.Errorf("%w: a file or directory to serve is required", ErrUsage)
	}
	if c.Upload && c.UploadDir == "" {
		return fmt.Errorf("%w: upload directory is empty", ErrUsage)
	}
	return nil
}

// ParseFetchConfig parses fetch configuration the same way as ParseServeConfig.
func ParseFetchConfig(fs *flag.FlagSet, args []string) (FetchConfig, error) {
	cfg, err := parseFetchConfigWithFlagSet(fs, args)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// parseFetchConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseFetchConfigWithFlagSet(fs *flag.FlagSet, args []string) (FetchConfig, error) {
	cfg := FetchConfig{
		OutDir:   ".",
		LogLevel: DefaultLogLevel,
	}

	cfg.ConfigFile = configPath(args)
	fc, err := loadFile(cfg.ConfigFile)
	if err != nil {
		return cfg, err
	}
	setString(&cfg.OutDir, fc.Fetch.OutDir)
	setBool(&cfg.Yes, fc.Fetch.Yes)
	setBool(&cfg.Quiet, fc.Fetch.Quiet)
	setString(&cfg.LogLevel, fc.Fetch.LogLevel)

	if v := os.Getenv("ONCE_OUT_DIR"); v != "" {
		cfg.OutDir = v
	}
	if v := os.Getenv("ONCE_QUIET"); v != "" {
		if cfg.Quiet, err = envBool("ONCE_QUIET", v); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("ONCE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	fs.StringVar(&cfg.OutDir, "out", cfg.OutDir, "directory to save the download in")
	fs.BoolVar(&cfg.Yes, "yes", cfg.Yes, "keep the suggested filename without asking")
	fs.BoolVar(&cfg.Quiet, "quiet", cfg.Quiet, "no progress output")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "config file (YAML)")
	if err := fs.Parse(args); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() > 1 {
		return cfg, fmt.Errorf("%w: expected one URL, got %d", ErrUsage, fs.NArg())
	}
	cfg.URL = fs.Arg(0)
	return cfg, nil
}

// Validate reports configuration that cannot start a download.
func (c FetchConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: a URL is required", ErrUsage)
	}
	if c.OutDir == "" {
		return fmt.Errorf("%w: output directory is empty", ErrUsage)
	}
	return nil
}

// configPath finds the config file before flags are parsed, since the file
// sits below the flags in precedence. -config wins over $ONCE_CONFIG.
func configPath(args []string) string {
	for i, arg := range args {
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		if v, ok := strings.CutPrefix(name, "config="); ok {
			return v
		}
		if name == "config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	if p := os.Getenv("ONCE_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath()
}

// DefaultConfigPath is ~/.config/once/config.yaml, or the platform
// equivalent. It is empty when no home directory is known.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "once", "config.yaml")
}

// loadFile reads a YAML config file. A missing file is not an error.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fc, nil
	}
	if err != nil {
		return fc, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("%w: parse config %s: %v", ErrUsage, path, err)
	}
	return fc, nil
}

func envInt(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not a number", ErrUsage, name, v)
	}
	return n, nil
}

func envBool(name, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrUsage, name, v)
	}
	return b, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
