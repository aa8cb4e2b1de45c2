// Package config resolves the sshexecd configuration directory and loads
// the server configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Defaults for the external interface.
const (
	DefaultAddress = "0.0.0.0"
	DefaultPort    = 2222
	DefaultWorkers = 1
)

// Config is the server configuration file (TOML). Empty path fields are
// resolved under the configuration directory by Load.
type Config struct {
	ListenAddress      string `toml:"listen_address"`
	ListenPort         int    `toml:"listen_port"`
	Workers            int    `toml:"workers"`
	HostKeyFile        string `toml:"host_key_file"`
	AuthorizedKeysFile string `toml:"authorized_keys_file"`
	UserDBFile         string `toml:"user_db_file"`
	// PAMService, when set, authenticates passwords against the named PAM
	// service instead of the user database.
	PAMService string `toml:"pam_service"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddress: DefaultAddress,
		ListenPort:    DefaultPort,
		Workers:       DefaultWorkers,
	}
}

// Dir returns the configuration directory, creating it if needed.
// It follows platform conventions:
//   - $XDG_CONFIG_HOME/sshexecd when XDG_CONFIG_HOME is set
//   - %APPDATA%\sshexecd on Windows
//   - $HOME/.config/sshexecd otherwise
func Dir() (string, error) {
	var dir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		dir = filepath.Join(xdg, "sshexecd")
	} else if appData := os.Getenv("APPDATA"); appData != "" {
		dir = filepath.Join(appData, "sshexecd")
	} else if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, ".config", "sshexecd")
	} else {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// Load reads the configuration at path, or config.toml in the
// configuration directory when path is empty. A missing file yields the
// defaults. File settings left unset fall back to the defaults, and empty
// path fields are resolved under the configuration directory.
func Load(path string) (Config, error) {
	cfg := Default()

	dir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if path == "" {
		path = filepath.Join(dir, "config.toml")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultAddress
	}
	if cfg.ListenPort == 0 {
		cfg.ListenPort = DefaultPort
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.HostKeyFile == "" {
		cfg.HostKeyFile = filepath.Join(dir, "host_key")
	}
	if cfg.UserDBFile == "" {
		cfg.UserDBFile = filepath.Join(dir, "users.json")
	}
	return cfg, nil
}
