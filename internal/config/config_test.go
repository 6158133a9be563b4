package config

import (
	"os"
	"path/filepath"
	"testing"
)

func withXDGDirs(t *testing.T) (configDir, dataDir, cacheDir string) {
	t.Helper()
	root := t.TempDir()
	configDir = filepath.Join(root, "config")
	dataDir = filepath.Join(root, "data")
	cacheDir = filepath.Join(root, "cache")
	t.Setenv("XDG_CONFIG_HOME", configDir)
	t.Setenv("XDG_DATA_HOME", dataDir)
	t.Setenv("XDG_CACHE_HOME", cacheDir)
	return configDir, dataDir, cacheDir
}

func TestGetPathsUsesWaddleSegmentUnderXDGDirs(t *testing.T) {
	configDir, dataDir, cacheDir := withXDGDirs(t)

	paths, err := GetPaths()
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	if want := filepath.Join(configDir, "waddle"); paths.ConfigDir != want {
		t.Fatalf("ConfigDir = %q, want %q", paths.ConfigDir, want)
	}
	if want := filepath.Join(dataDir, "waddle"); paths.DataDir != want {
		t.Fatalf("DataDir = %q, want %q", paths.DataDir, want)
	}
	if want := filepath.Join(cacheDir, "waddle"); paths.CacheDir != want {
		t.Fatalf("CacheDir = %q, want %q", paths.CacheDir, want)
	}
}

func TestLoadWithoutConfigFileFillsDefaultsFromPaths(t *testing.T) {
	withXDGDirs(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	paths, err := GetPaths()
	if err != nil {
		t.Fatalf("GetPaths: %v", err)
	}
	if cfg.General.DataDir != paths.DataDir {
		t.Fatalf("DataDir = %q, want %q", cfg.General.DataDir, paths.DataDir)
	}
	if want := filepath.Join(paths.DataDir, "plugins"); cfg.Plugins.PluginDir != want {
		t.Fatalf("PluginDir = %q, want %q", cfg.Plugins.PluginDir, want)
	}
	if want := filepath.Join(paths.DataDir, "waddle.log"); cfg.Logging.File != want {
		t.Fatalf("Logging.File = %q, want %q", cfg.Logging.File, want)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadReadsExistingConfigFile(t *testing.T) {
	configDir, _, _ := withXDGDirs(t)
	waddleConfigDir := filepath.Join(configDir, "waddle")
	if err := os.MkdirAll(waddleConfigDir, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	contents := `
[general]
data_dir = "/srv/waddle"

[logging]
level = "debug"
console = true
`
	if err := os.WriteFile(filepath.Join(waddleConfigDir, "config.toml"), []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.DataDir != "/srv/waddle" {
		t.Fatalf("DataDir = %q, want /srv/waddle", cfg.General.DataDir)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("unexpected logging config: %#v", cfg.Logging)
	}
	if want := filepath.Join("/srv/waddle", "plugins"); cfg.Plugins.PluginDir != want {
		t.Fatalf("PluginDir = %q, want %q", cfg.Plugins.PluginDir, want)
	}
}

func TestLoadAccountsFillsDefaults(t *testing.T) {
	configDir, _, _ := withXDGDirs(t)
	waddleConfigDir := filepath.Join(configDir, "waddle")
	if err := os.MkdirAll(waddleConfigDir, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	contents := `
[[accounts]]
jid = "me@example.com"
password = "secret"
`
	if err := os.WriteFile(filepath.Join(waddleConfigDir, "accounts.toml"), []byte(contents), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	accounts, err := LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accounts.Accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts.Accounts))
	}
	a := accounts.Accounts[0]
	if a.Port != 5222 {
		t.Fatalf("expected default port 5222, got %d", a.Port)
	}
	if a.Resource != "waddle" {
		t.Fatalf("expected default resource waddle, got %q", a.Resource)
	}
}

func TestLoadAccountsWithoutFileReturnsEmpty(t *testing.T) {
	withXDGDirs(t)

	accounts, err := LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(accounts.Accounts) != 0 {
		t.Fatalf("expected no accounts, got %#v", accounts.Accounts)
	}
}

func TestExpandPathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}
	got := expandPath("~/waddle/data")
	want := filepath.Join(home, "waddle/data")
	if got != want {
		t.Fatalf("expandPath = %q, want %q", got, want)
	}
}
