package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sheerbytes/once/internal/archive"
)

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseServeConfig_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := parseServeConfigWithFlagSet(newFlagSet(), []string{"file.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Path != "file.txt" {
		t.Errorf("expected Path to be file.txt, got %s", cfg.Path)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected Port to be 8080, got %d", cfg.Port)
	}
	if cfg.MaxDownloads != 1 {
		t.Errorf("expected MaxDownloads to be 1, got %d", cfg.MaxDownloads)
	}
	if cfg.Compression != "gzip" {
		t.Errorf("expected Compression to be gzip, got %s", cfg.Compression)
	}
	if cfg.Bind != "" {
		t.Errorf("expected Bind to be empty, got %s", cfg.Bind)
	}
	if cfg.UploadDir != "." {
		t.Errorf("expected UploadDir to be ., got %s", cfg.UploadDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel to be info, got %s", cfg.LogLevel)
	}
}

func TestParseServeConfig_Flags(t *testing.T) {
	os.Clearenv()

	cfg, err := parseServeConfigWithFlagSet(newFlagSet(), []string{
		"-count", "3", "-bind", "127.0.0.1", "-port", "9090",
		"-compression", "zip", "-quiet", "-no-qr", "-log-level", "debug", "photos",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxDownloads != 3 {
		t.Errorf("expected MaxDownloads to be 3, got %d", cfg.MaxDownloads)
	}
	if cfg.Bind != "127.0.0.1" {
		t.Errorf("expected Bind to be 127.0.0.1, got %s", cfg.Bind)
	}
	if cfg.Port != 9090 {
		t.Errorf("expected Port to be 9090, got %d", cfg.Port)
	}
	if cfg.Compression != "zip" {
		t.Errorf("expected Compression to be zip, got %s", cfg.Compression)
	}
	if !cfg.Quiet || !cfg.NoQR {
		t.Errorf("expected Quiet and NoQR to be true, got %v and %v", cfg.Quiet, cfg.NoQR)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel to be debug, got %s", cfg.LogLevel)
	}
	if cfg.Path != "photos" {
		t.Errorf("expected Path to be photos, got %s", cfg.Path)
	}
}

func TestParseServeConfig_EnvFallback(t *testing.T) {
	os.Clearenv()

	os.Setenv("ONCE_PORT", "7070")
	os.Setenv("ONCE_MAX_DOWNLOADS", "5")
	os.Setenv("ONCE_COMPRESSION", "bzip2")
	os.Setenv("ONCE_QUIET", "true")
	defer os.Clearenv()

	cfg, err := parseServeConfigWithFlagSet(newFlagSet(), []string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("expected Port to be 7070, got %d", cfg.Port)
	}
	if cfg.MaxDownloads != 5 {
		t.Errorf("expected MaxDownloads to be 5, got %d", cfg.MaxDownloads)
	}
	if cfg.Compression != "bzip2" {
		t.Errorf("expected Compression to be bzip2, got %s", cfg.Compression)
	}
	if !cfg.Quiet {
		t.Error("expected Quiet to be true")
	}
}

func TestParseServeConfig_FlagsOverrideEnv(t *testing.T) {
	os.Clearenv()

	os.Setenv("ONCE_PORT", "7070")
	os.Setenv("ONCE_LOG_LEVEL", "warn")
	defer os.Clearenv()

	cfg, err := parseServeConfigWithFlagSet(newFlagSet(), []string{"-port", "9090", "-log-level", "error", "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Flags should override env
	if cfg.Port != 9090 {
		t.Errorf("expected Port to be 9090 (from flag), got %d", cfg.Port)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("expected LogLevel to be error (from flag), got %s", cfg.LogLevel)
	}
}

func TestParseServeConfig_FileBelowEnvAndFlags(t *testing.T) {
	os.Clearenv()

	path := writeConfig(t, `
serve:
  port: 6060
  max_downloads: 4
  compression: none
  upload_dir: /srv/in
  no_qr: true
`)
	os.Setenv("ONCE_CONFIG", path)
	os.Setenv("ONCE_MAX_DOWNLOADS", "2")
	defer os.Clearenv()

	cfg, err := parseServeConfigWithFlagSet(newFlagSet(), []string{"-compression", "zip", "x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ConfigFile != path {
		t.Errorf("expected ConfigFile to be %s, got %s", path, cfg.ConfigFile)
	}
	if cfg.Port != 6060 {
		t.Errorf("expected Port to be 6060 (from file), got %d", cfg.Port)
	}
	if cfg.UploadDir != "/srv/in" {
		t.Errorf("expected UploadDir to be /srv/in (from file), got %s", cfg.UploadDir)
	}
	if !cfg.NoQR {
		t.Error("expected NoQR to be true (from file)")
	}
	if cfg.MaxDownloads != 2 {
		t.Errorf("expected MaxDownloads to be 2 (from env), got %d", cfg.MaxDownloads)
	}
	if cfg.Compression != "zip" {
		t.Errorf("expected Compression to be zip (from flag), got %s", cfg.Compression)
	}
}

func TestParseServeConfig_ConfigFlagBeatsEnv(t *testing.T) {
	os.Clearenv()

	envFile := writeConfig(t, "serve:\n  port: 1111\n")
	flagFile := writeConfig(t, "serve:\n  port: 2222\n")
	os.Setenv("ONCE_CONFIG", envFile)
	defer os.Clearenv()

	for _, args := range [][]string{
		{"-config", flagFile, "x"},
		{"--config=" + flagFile, "x"},
	} {
		cfg, err := parseServeConfigWithFlagSet(newFlagSet(), args)
		if err != nil {
			t.Fatalf("%v: unexpected error: %v", args, err)
		}
		if cfg.Port != 2222 {
			t.Errorf("%v: expected Port to be 2222, got %d", args, cfg.Port)
		}
	}
}

func TestParseServeConfig_MissingFileIsIgnored(t *testing.T) {
	os.Clearenv()

	os.Setenv("ONCE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	defer os.Clearenv()

	cfg, err := parseServeConfigWithFlagSet(newFlagSet(), []string{"x"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("expected Port to be 8080, got %d", cfg.Port)
	}
}

func TestParseServeConfig_Errors(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	bad := writeConfig(t, "serve: [not, a, map\n")
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"bad env port", map[string]string{"ONCE_PORT": "eighty"}, []string{"x"}},
		{"bad env quiet", map[string]string{"ONCE_QUIET": "loud"}, []string{"x"}},
		{"unknown flag", nil, []string{"-bogus", "x"}},
		{"two paths", nil, []string{"a", "b"}},
		{"bad yaml", map[string]string{"ONCE_CONFIG": bad}, []string{"x"}},
	}
	for _, tt := range tests {
		os.Clearenv()
		for k, v := range tt.env {
			os.Setenv(k, v)
		}
		_, err := parseServeConfigWithFlagSet(newFlagSet(), tt.args)
		if !errors.Is(err, ErrUsage) {
			t.Errorf("%s: expected ErrUsage, got %v", tt.name, err)
		}
	}
}

func TestParseServeConfig_UploadShorthand(t *testing.T) {
	os.Clearenv()

	cfg, err := ParseServeConfig(newFlagSet(), []string{"-U", "-upload-dir", "/srv/in"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Upload {
		t.Error("expected Upload to be true")
	}
	if cfg.UploadDir != "/srv/in" {
		t.Errorf("expected UploadDir to be /srv/in, got %s", cfg.UploadDir)
	}
}

func TestServeConfig_Validate(t *testing.T) {
	valid := ServeConfig{Path: "x", MaxDownloads: 1, Port: 8080, Compression: "gzip", UploadDir: "."}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *ServeConfig)
	}{
		{"port zero", func(c *ServeConfig) { c.Port = 0 }},
		{"port too large", func(c *ServeConfig) { c.Port = 65536 }},
		{"count zero", func(c *ServeConfig) { c.MaxDownloads = 0 }},
		{"unknown compression", func(c *ServeConfig) { c.Compression = "xz" }},
		{"no path", func(c *ServeConfig) { c.Path = "" }},
		{"path in upload mode", func(c *ServeConfig) { c.Upload = true }},
		{"empty upload dir", func(c *ServeConfig) { c.Path, c.Upload, c.UploadDir = "", true, "" }},
	}
	for _, tt := range tests {
		cfg := valid
		tt.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrUsage) {
			t.Errorf("%s: expected ErrUsage, got %v", tt.name, err)
		}
	}

	upload := valid
	upload.Path, upload.Upload = "", true
	if err := upload.Validate(); err != nil {
		t.Errorf("expected upload mode without path to be valid, got %v", err)
	}
}

func TestParseServeConfig_SetsFormat(t *testing.T) {
	os.Clearenv()

	tests := []struct {
		flag string
		want archive.Compression
	}{
		{"none", archive.None},
		{"gzip", archive.Gzip},
		{"bzip2", archive.Bzip2},
		{"zip", archive.Zip},
	}
	for _, tt := range tests {
		cfg, err := ParseServeConfig(newFlagSet(), []string{"-compression", tt.flag, "x"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.flag, err)
		}
		if cfg.Format != tt.want {
			t.Errorf("expected Format to be %v for %s, got %v", tt.want, tt.flag, cfg.Format)
		}
	}

	_, err := ParseServeConfig(newFlagSet(), []string{"-compression", "xz", "x"})
	if !errors.Is(err, ErrUsage) {
		t.Errorf("expected ErrUsage for xz, got %v", err)
	}
}

func TestParseFetchConfig(t *testing.T) {
	os.Clearenv()

	path := writeConfig(t, "fetch:\n  out_dir: /tmp/in\n  yes: true\n")
	os.Setenv("ONCE_CONFIG", path)
	os.Setenv("ONCE_LOG_LEVEL", "warn")
	defer os.Clearenv()

	cfg, err := ParseFetchConfig(newFlagSet(), []string{"-out", "dl", "http://host:8080/a.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.URL != "http://host:8080/a.txt" {
		t.Errorf("expected URL to be http://host:8080/a.txt, got %s", cfg.URL)
	}
	if cfg.OutDir != "dl" {
		t.Errorf("expected OutDir to be dl (from flag), got %s", cfg.OutDir)
	}
	if !cfg.Yes {
		t.Error("expected Yes to be true (from file)")
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel to be warn (from env), got %s", cfg.LogLevel)
	}
}

func TestParseFetchConfig_RequiresURL(t *testing.T) {
	os.Clearenv()

	_, err := ParseFetchConfig(newFlagSet(), []string{"-yes"})
	if !errors.Is(err, ErrUsage) {
		t.Errorf("expected ErrUsage, got %v", err)
	}
}
