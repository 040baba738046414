package storage

import (
	"os"
	"path/filepath"
	"runtime"
)

func platformDefaults() Dirs {
	if runtime.GOOS == "windows" {
		roaming, local := os.Getenv("APPDATA"), os.Getenv("LOCALAPPDATA")
		return Dirs{
			Config: filepath.Join(roaming, appName, "config"),
			Data:   filepath.Join(roaming, appName, "data"),
			State:  filepath.Join(local, appName, "state"),
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return Dirs{
		Config: filepath.Join(home, ".config", appName),
		Data:   filepath.Join(home, ".local", "share", appName),
		State:  filepath.Join(home, ".local", "state", appName),
	}
}
