package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// FileName is the configuration file name looked up by DefaultPath
const FileName = "config.yml"

// DefaultPath returns the configuration file used when none is given: a
// config.yml in the working directory if present, otherwise the per-user one
// under $XDG_CONFIG_HOME/wikisync.
func DefaultPath() string {
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}
	if found, err := xdg.SearchConfigFile(filepath.Join("wikisync", FileName)); err == nil {
		return found
	}
	return filepath.Join(xdg.ConfigHome, "wikisync", FileName)
}
