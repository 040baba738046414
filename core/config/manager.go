// Package config loads rad settings from defaults, the user config file, the
// project's .rad/config.yaml and RAD_* environment variables, in that order.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/adalundhe/rad/core/storage"
	"gopkg.in/yaml.v3"
)

type Manager struct {
	config      atomic.Pointer[Config]
	dirs        *storage.Dirs
	projectRoot string
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type Config struct {
	Identity IdentityConfig `yaml:"identity"`
	Log      LogConfig      `yaml:"log"`
	Editor   string         `yaml:"editor"`
	Cob      CobConfig      `yaml:"cob"`
	Merge    MergeConfig    `yaml:"merge"`
	Git      GitConfig      `yaml:"git"`
}

type IdentityConfig struct {
	// Key is the path of the device's SSH private key.
	Key string `yaml:"key"`

	// Registry is the path of the profile database.
	Registry string `yaml:"registry"`

	// CacheSize bounds the in-process profile lookup memo.
	CacheSize int `yaml:"cache_size"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CobConfig struct {
	// Namespace overrides the namespace objects are stored under. Empty
	// means the project hash of the repository path.
	Namespace string `yaml:"namespace"`
}

type MergeConfig struct {
	// Force records a merge even when an identical record exists.
	Force bool `yaml:"force"`
}

// GitConfig overrides the committer identity read from git config.
type GitConfig struct {
	CommitterName  string `yaml:"committer_name"`
	CommitterEmail string `yaml:"committer_email"`
}

// NewManager returns a manager holding DefaultConfig. projectRoot locates
// .rad/config.yaml; an empty root skips the project layer.
func NewManager(dirs *storage.Dirs, projectRoot string) *Manager {
	m := &Manager{
		dirs:        dirs,
		projectRoot: projectRoot,
	}
	m.config.Store(DefaultConfig(dirs))
	return m
}

func DefaultConfig(dirs *storage.Dirs) *Config {
	return &Config{
		Identity: IdentityConfig{
			Key:       dirs.KeyPath(),
			Registry:  dirs.RegistryPath(),
			CacheSize: 256,
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

func (m *Manager) Get() *Config {
	return m.config.Load()
}

func (m *Manager) Load() error {
	cfg := DefaultConfig(m.dirs)

	if err := m.loadUserConfig(cfg); err != nil {
		return fmt.Errorf("user config: %w", err)
	}

	if err := m.loadProjectConfig(cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if err := applyEnvironment(cfg); err != nil {
		return fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config.Store(cfg)
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) loadUserConfig(cfg *Config) error {
	return loadYAMLFile(m.dirs.ConfigDir("config.yaml"), cfg)
}

func (m *Manager) loadProjectConfig(cfg *Config) error {
	if m.projectRoot == "" {
		return nil
	}
	return loadYAMLFile(storage.ResolveProjectDirs(m.projectRoot).Config, cfg)
}

func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// envBinding maps a RAD_* variable onto a field. Empty values are ignored.
type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

var environment = []envBinding{
	{"RAD_KEY", stringVar(func(c *Config) *string { return &c.Identity.Key })},
	{"RAD_REGISTRY", stringVar(func(c *Config) *string { return &c.Identity.Registry })},
	{"RAD_EDITOR", stringVar(func(c *Config) *string { return &c.Editor })},
	{"RAD_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"RAD_LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
	{"RAD_NAMESPACE", stringVar(func(c *Config) *string { return &c.Cob.Namespace })},
	{"RAD_MERGE_FORCE", func(c *Config, v string) error {
		force, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Merge.Force = force
		return nil
	}},
}

func applyEnvironment(cfg *Config) error {
	for _, b := range environment {
		v := os.Getenv(b.name)
		if v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
	}
	return nil
}

// Validate rejects settings the CLI cannot act on.
func (c *Config) Validate() error {
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Identity.CacheSize <= 0 {
		return fmt.Errorf("identity.cache_size must be positive, got %d", c.Identity.CacheSize)
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// EditorCommand returns the configured editor, then $VISUAL, then $EDITOR.
func (c *Config) EditorCommand() string {
	for _, v := range []string{c.Editor, os.Getenv("VISUAL"), os.Getenv("EDITOR")} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}
