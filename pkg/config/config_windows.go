//go:build windows

package config

import (
	"os"
	"path/filepath"
)

var (
	DefaultConfigPath    = filepath.Join(os.Getenv("AppData"), "stegascan", "config.yml")
	DefaultCacheLocation = filepath.Join(os.Getenv("AppData"), "stegascan", "cache.db")
	DefaultJobsLocation  = filepath.Join(os.Getenv("AppData"), "stegascan", "analyses.db")
)

func GetConfigFile() (config string, err error) {
	config = DefaultConfigPath
	if _, err := os.Stat(config); err != nil {
		if err = os.MkdirAll(filepath.Dir(config), 0o750); err != nil {
			return config, err
		}
		f, err := os.Create(filepath.Clean(config))
		if err != nil {
			return config, err
		}
		return config, f.Close()
	}
	return
}
