package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/justyntemme/waypoint/internal/logging"
)

// Config holds all user-configurable settings loaded from config.json
type Config struct {
	Browser     BrowserConfig      `json:"browser"`
	History     HistoryConfig      `json:"history"`
	Monitor     MonitorConfig      `json:"monitor"`
	Shutdown    ShutdownConfig     `json:"shutdown"`
	EntryPoints []EntryPointConfig `json:"entryPoints"`
	SFTP        []SFTPHost         `json:"sftp"`
	S3          []S3Bucket         `json:"s3"`
	Log         LogConfig          `json:"log"`
}

// BrowserConfig holds listing defaults
type BrowserConfig struct {
	ShowHidden   bool   `json:"showHidden"`
	DefaultSort  string `json:"defaultSort"` // "name" | "date" | "size" | "type"
	SortInverse  bool   `json:"sortInverse"`
	FileFilter   string `json:"fileFilter"`   // filter query applied to files, empty for none
	HomeLocation string `json:"homeLocation"` // empty means the user's home directory
}

// HistoryConfig controls the back/forward list
type HistoryConfig struct {
	Save      bool `json:"save"` // persist across runs
	MaxLength int  `json:"maxLength"`
}

// MonitorConfig tunes change notifications
type MonitorConfig struct {
	DebounceMs int `json:"debounceMs"`
}

// ShutdownConfig tunes the idle wait on exit
type ShutdownConfig struct {
	PollIntervalMs int `json:"pollIntervalMs"`
}

// EntryPointConfig is a bookmarked root
type EntryPointConfig struct {
	Name     string `json:"name"`
	Location string `json:"location"`
}

// SFTPHost describes a remote host reachable over SSH
type SFTPHost struct {
	Name       string `json:"name"`
	Address    string `json:"address"` // host[:port]
	User       string `json:"user"`
	Password   string `json:"password,omitempty"`
	KeyFile    string `json:"keyFile,omitempty"`
	KnownHosts string `json:"knownHosts,omitempty"` // empty disables host key checking
}

// S3Bucket describes one bucket exposed as an entry point
type S3Bucket struct {
	Name      string `json:"name"`
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
	PathStyle bool   `json:"pathStyle"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, console
	Output string `json:"output"` // stderr, stdout or a file path
}

// Debounce returns the monitor quiet period.
func (c Config) Debounce() time.Duration {
	return time.Duration(c.Monitor.DebounceMs) * time.Millisecond
}

// PollInterval returns the shutdown idle polling period.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Shutdown.PollIntervalMs) * time.Millisecond
}

// Manager handles loading, saving, and accessing configuration
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	path     string
	parseErr error // Stores parsing error if config failed to load
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		config: DefaultConfig(),
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			DefaultSort: "name",
		},
		History: HistoryConfig{
			Save:      true,
			MaxLength: 15,
		},
		Monitor:  MonitorConfig{DebounceMs: 500},
		Shutdown: ShutdownConfig{PollIntervalMs: 50},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
	}
}

// ConfigPath returns the config file path: ~/.config/waypoint/config.json
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "waypoint", "config.json")
}

// DataPath returns the database path next to the config file.
func DataPath() string {
	return filepath.Join(filepath.Dir(ConfigPath()), "waypoint.db")
}

// Load reads the configuration from the default path.
func (m *Manager) Load() error {
	return m.LoadFrom(ConfigPath())
}

// LoadFrom reads the configuration from path.
// If the file doesn't exist, creates it with defaults
// If parsing fails, stores the error and returns defaults
func (m *Manager) LoadFrom(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.path = path
	m.parseErr = nil

	configDir := filepath.Dir(m.path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		logging.Warn("config: failed to create directory", zap.String("dir", configDir), zap.Error(err))
		return err
	}

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		logging.Info("config: creating default config", zap.String("path", m.path))
		m.config = DefaultConfig()
		if saveErr := m.saveUnlocked(); saveErr != nil {
			logging.Warn("config: failed to save default config", zap.Error(saveErr))
			return saveErr
		}
		return nil
	}
	if err != nil {
		return err
	}

	// Missing keys keep their defaults
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		logging.Warn("config: JSON parse error, using defaults", zap.String("path", m.path), zap.Error(err))
		m.parseErr = err
		m.config = DefaultConfig()
		return nil // Don't return error - we're using defaults
	}
	if err := cfg.validate(); err != nil {
		logging.Warn("config: invalid value, using defaults", zap.String("path", m.path), zap.Error(err))
		m.parseErr = err
		m.config = DefaultConfig()
		return nil
	}

	logging.Debug("config: loaded", zap.String("path", m.path))
	m.config = cfg
	return nil
}

func (c *Config) validate() error {
	switch c.Browser.DefaultSort {
	case "name", "date", "size", "type":
	case "":
		c.Browser.DefaultSort = "name"
	default:
		return fmt.Errorf("browser.defaultSort: unknown sort %q", c.Browser.DefaultSort)
	}
	if c.History.MaxLength <= 0 {
		return fmt.Errorf("history.maxLength must be positive, got %d", c.History.MaxLength)
	}
	if c.Monitor.DebounceMs < 0 || c.Shutdown.PollIntervalMs < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	for _, ep := range c.EntryPoints {
		if ep.Location == "" {
			return fmt.Errorf("entryPoints: %q has no location", ep.Name)
		}
	}
	for _, h := range c.SFTP {
		if h.Address == "" {
			return fmt.Errorf("sftp: %q has no address", h.Name)
		}
	}
	for _, b := range c.S3 {
		if b.Bucket == "" {
			return fmt.Errorf("s3: %q has no bucket", b.Name)
		}
	}
	return nil
}

// saveUnlocked saves config without acquiring lock (caller must hold lock)
func (m *Manager) saveUnlocked() error {
	if m.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o600)
}

// Save writes the current configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUnlocked()
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return *DefaultConfig()
	}
	return *m.config
}

// Path returns the file the configuration was loaded from.
func (m *Manager) Path() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.path
}

// ParseError returns the parsing error if config failed to load
func (m *Manager) ParseError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.parseErr
}

// SetShowHidden updates the show hidden setting
func (m *Manager) SetShowHidden(show bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Browser.ShowHidden = show
	return m.saveUnlocked()
}

// SetHistorySave toggles history persistence
func (m *Manager) SetHistorySave(save bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.History.Save = save
	return m.saveUnlocked()
}

// AddEntryPoint bookmarks a location. An existing bookmark is renamed.
func (m *Manager) AddEntryPoint(name, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ep := range m.config.EntryPoints {
		if ep.Location == location {
			m.config.EntryPoints[i].Name = name
			return m.saveUnlocked()
		}
	}
	m.config.EntryPoints = append(m.config.EntryPoints, EntryPointConfig{Name: name, Location: location})
	return m.saveUnlocked()
}

// RemoveEntryPoint removes a bookmark by location
func (m *Manager) RemoveEntryPoint(location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ep := range m.config.EntryPoints {
		if ep.Location == location {
			m.config.EntryPoints = append(m.config.EntryPoints[:i], m.config.EntryPoints[i+1:]...)
			break
		}
	}
	return m.saveUnlocked()
}

// GenerateConfig backs up the config at path and writes a fresh default.
// Returns the backup path if a backup was created, or empty string if no existing config
func GenerateConfig(configPath string) (backupPath string, err error) {
	if _, err := os.Stat(configPath); err == nil {
		timestamp := time.Now().Format("20060102-150405")
		backupPath = filepath.Join(filepath.Dir(configPath), "config.backup."+timestamp+".json")

		data, err := os.ReadFile(configPath)
		if err != nil {
			return "", fmt.Errorf("failed to read existing config: %w", err)
		}
		if err := os.WriteFile(backupPath, data, 0o600); err != nil {
			return "", fmt.Errorf("failed to write backup: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return backupPath, fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(DefaultConfig(), "", "  ")
	if err != nil {
		return backupPath, fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return backupPath, fmt.Errorf("failed to write config: %w", err)
	}
	return backupPath, nil
}
