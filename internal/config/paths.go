package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	AppName        = "relayswitch"
	ConfigFileName = "config.yaml"
)

// DataDir returns the per-user data directory:
//
//	windows: %APPDATA%\relayswitch (home when APPDATA is unset)
//	darwin:  ~/Library/Application Support/relayswitch
//	others:  $XDG_DATA_HOME/relayswitch (default ~/.local/share)
func DataDir() string {
	return dataDir(runtime.GOOS, os.Getenv, userHome())
}

func dataDir(goos string, getenv func(string) string, home string) string {
	switch goos {
	case "windows":
		base := getenv("APPDATA")
		if base == "" {
			base = home
		}
		return filepath.Join(base, AppName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppName)
	case "linux", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos", "android":
		base := getenv("XDG_DATA_HOME")
		if base == "" {
			base = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(base, AppName)
	default:
		return filepath.Join(home, "."+AppName)
	}
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
