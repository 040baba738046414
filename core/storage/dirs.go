// Package storage locates the directories rad keeps per user and per
// working copy.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
)

const (
	appName    = "rad"
	projectDir = ".rad"
)

// HomeEnv, when set, roots every user-level directory in one place. It wins
// over the XDG variables.
const HomeEnv = "RAD_HOME"

// Dirs holds the user-level directories.
type Dirs struct {
	Config string // configuration and device keys
	Data   string // profile registry and other local databases
	State  string // logs
}

// ProjectDirs holds directories inside a working copy.
type ProjectDirs struct {
	Root   string
	Config string
}

// ResolveDirs returns the user-level directories from the environment.
func ResolveDirs() *Dirs {
	if home := os.Getenv(HomeEnv); home != "" {
		return &Dirs{
			Config: home,
			Data:   filepath.Join(home, "node"),
			State:  filepath.Join(home, "state"),
		}
	}

	def := platformDefaults()
	xdg := func(env, fallback string) string {
		if base := os.Getenv(env); base != "" {
			return filepath.Join(base, appName)
		}
		return fallback
	}
	return &Dirs{
		Config: xdg("XDG_CONFIG_HOME", def.Config),
		Data:   xdg("XDG_DATA_HOME", def.Data),
		State:  xdg("XDG_STATE_HOME", def.State),
	}
}

// ResolveProjectDirs returns the .rad directory of the working copy at root.
func ResolveProjectDirs(root string) *ProjectDirs {
	dir := filepath.Join(root, projectDir)
	return &ProjectDirs{Root: dir, Config: filepath.Join(dir, "config.yaml")}
}

// ProjectHash is a short stable digest of the absolute project path. It is
// the COB namespace of repositories without a configured one.
func ProjectHash(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	sum := sha256.Sum256([]byte(root))
	return hex.EncodeToString(sum[:8])
}

// EnsureDir creates path and its parents. A zero perm means 0700.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

func join(base string, elem []string) string {
	return filepath.Join(append([]string{base}, elem...)...)
}

func (d *Dirs) ConfigDir(elem ...string) string { return join(d.Config, elem) }
func (d *Dirs) DataDir(elem ...string) string   { return join(d.Data, elem) }
func (d *Dirs) StateDir(elem ...string) string  { return join(d.State, elem) }

// KeyPath is the default device key file.
func (d *Dirs) KeyPath() string {
	return d.ConfigDir("keys", "radicle")
}

func (d *Dirs) RegistryPath() string {
	return d.DataDir("registry.db")
}

func (d *Dirs) LogDir() string {
	return d.StateDir("logs")
}

// EnsureAll creates the user-level directories. Keys are owner-only.
func (d *Dirs) EnsureAll() error {
	dirs := []struct {
		path string
		perm os.FileMode
	}{
		{d.ConfigDir("keys"), 0700},
		{d.Data, 0755},
		{d.LogDir(), 0755},
	}
	for _, dir := range dirs {
		if err := EnsureDir(dir.path, dir.perm); err != nil {
			return err
		}
	}
	return nil
}
