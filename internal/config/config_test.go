package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"sshexecd/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	confDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", confDir)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	want := config.Config{
		ListenAddress: "0.0.0.0",
		ListenPort:    2222,
		Workers:       1,
		HostKeyFile:   filepath.Join(confDir, "sshexecd", "host_key"),
		UserDBFile:    filepath.Join(confDir, "sshexecd", "users.json"),
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
listen_address = "127.0.0.1"
listen_port = 2022
workers = 4
host_key_file = "/etc/sshexecd/host_key"
authorized_keys_file = "/etc/sshexecd/authorized_keys"
pam_service = "sshexecd"
`
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1" || cfg.ListenPort != 2022 || cfg.Workers != 4 {
		t.Errorf("listen settings not applied: %+v", cfg)
	}
	if cfg.HostKeyFile != "/etc/sshexecd/host_key" {
		t.Errorf("host_key_file = %q", cfg.HostKeyFile)
	}
	if cfg.AuthorizedKeysFile != "/etc/sshexecd/authorized_keys" {
		t.Errorf("authorized_keys_file = %q", cfg.AuthorizedKeysFile)
	}
	if cfg.PAMService != "sshexecd" {
		t.Errorf("pam_service = %q", cfg.PAMService)
	}
	// Unset fields fall back to defaults.
	if cfg.UserDBFile == "" {
		t.Error("user_db_file not defaulted")
	}
}

func TestLoadMalformed(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("listen_port = ["), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err == nil {
		t.Error("malformed config accepted")
	}
}

func TestDirCreates(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	dir, err := config.Dir()
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if dir != filepath.Join(base, "sshexecd") {
		t.Errorf("dir = %q", dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Errorf("config dir not created: %v", err)
	}
}
