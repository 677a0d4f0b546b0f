// Package config loads the sampler settings.
//
// Settings come from a YAML file using the plugin's setting keys, then
// YAMNET_* environment variables (optionally from a .env file). A missing
// file, a missing key or an unparseable value falls back to the default
// and is logged; bad settings never stop the sampler.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Setting keys, as stored in the YAML file.
const (
	KeyStatus             = "status_plugin_yamnet"
	KeyFrequency          = "frequency_plugin_yamnet"
	KeyDuration           = "duration_plugin_yamnet"
	KeySaveAudioFiles     = "save_audio_files"
	KeyEnableConfigUpdate = "enable_config_update"
	KeyRetentionEnabled   = "retention_enabled"
	KeyRetentionWindow    = "retention_window_ms"
	KeyDeviceID           = "device_id"
	KeyDatabase           = "database"
	KeyAssetsDir          = "assets_dir"
	KeyExportRoot         = "export_root"
	KeyTopK               = "top_k"
)

// Defaults.
const (
	DefaultFrequencyMinutes = 5
	DefaultDurationMS       = 1000
	DefaultRetentionWindow  = 24 * time.Hour
	DefaultDatabase         = "yamnet.db"
	DefaultAssetsDir        = "assets"
	DefaultTopK             = 5

	EnvPrefix = "YAMNET_"
)

// Settings is the resolved configuration.
type Settings struct {
	// Enabled is the sampler status flag.
	Enabled          bool
	FrequencyMinutes int
	DurationMS       int
	SaveAudioFiles   bool
	// EnableConfigUpdate is carried for compatibility; nothing edits
	// settings at runtime besides a file reload.
	EnableConfigUpdate bool
	// RetentionEnabled gates the sweep. When not set explicitly it
	// follows SaveAudioFiles.
	RetentionEnabled bool
	RetentionWindow  time.Duration
	DeviceID         string
	Database         string
	AssetsDir        string
	ExportRoot       string
	TopK             int
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Enabled:            true,
		FrequencyMinutes:   DefaultFrequencyMinutes,
		DurationMS:         DefaultDurationMS,
		SaveAudioFiles:     false,
		EnableConfigUpdate: true,
		RetentionEnabled:   false,
		RetentionWindow:    DefaultRetentionWindow,
		Database:           DefaultDatabase,
		AssetsDir:          DefaultAssetsDir,
		TopK:               DefaultTopK,
	}
}

// SamplingInterval is the time between capture cycles.
func (s Settings) SamplingInterval() time.Duration {
	return time.Duration(s.FrequencyMinutes) * time.Minute
}

// Loader reads settings from a file and the environment.
type Loader struct {
	// Path is the YAML file. Empty means defaults plus environment.
	Path string
	// EnvFile is an optional dotenv file loaded before reading the
	// environment. Variables already set are not overridden.
	EnvFile string
	Logger  *slog.Logger
	// Getenv replaces os.Getenv, for tests.
	Getenv func(string) string
}

// Load resolves settings. It returns an error only when the file exists
// but cannot be read or is not a YAML mapping; individual bad values are
// logged and replaced by their defaults.
func (l Loader) Load() (Settings, error) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}
	getenv := l.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	s := Defaults()
	retentionSet := false

	if l.Path != "" {
		data, err := os.ReadFile(l.Path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Info("settings file not found, using defaults", "path", l.Path)
		case err != nil:
			return s, fmt.Errorf("read settings: %w", err)
		default:
			set, err := applyYAML(&s, data, log)
			if err != nil {
				return s, fmt.Errorf("parse settings %s: %w", l.Path, err)
			}
			retentionSet = set[KeyRetentionEnabled]
		}
	}

	if l.EnvFile != "" {
		if err := godotenv.Load(l.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("cannot load env file", "path", l.EnvFile, "error", err)
		}
	}
	if applyEnv(&s, getenv, log) {
		retentionSet = true
	}

	if !retentionSet {
		s.RetentionEnabled = s.SaveAudioFiles
	}
	return s, nil
}

type field struct {
	env   string
	apply func(s *Settings, raw string) error
}

var fields = map[string]field{
	KeyStatus:             {"STATUS", boolField(func(s *Settings, v bool) { s.Enabled = v })},
	KeyFrequency:          {"FREQUENCY_MINUTES", positiveField(func(s *Settings, v int) { s.FrequencyMinutes = v })},
	KeyDuration:           {"DURATION_MS", positiveField(func(s *Settings, v int) { s.DurationMS = v })},
	KeySaveAudioFiles:     {"SAVE_AUDIO_FILES", boolField(func(s *Settings, v bool) { s.SaveAudioFiles = v })},
	KeyEnableConfigUpdate: {"ENABLE_CONFIG_UPDATE", boolField(func(s *Settings, v bool) { s.EnableConfigUpdate = v })},
	KeyRetentionEnabled:   {"RETENTION_ENABLED", boolField(func(s *Settings, v bool) { s.RetentionEnabled = v })},
	KeyRetentionWindow: {"RETENTION_WINDOW_MS", positiveField(func(s *Settings, v int) {
		s.RetentionWindow = time.Duration(v) * time.Millisecond
	})},
	KeyDeviceID:   {"DEVICE_ID", stringField(func(s *Settings, v string) { s.DeviceID = v })},
	KeyDatabase:   {"DB", stringField(func(s *Settings, v string) { s.Database = v })},
	KeyAssetsDir:  {"ASSETS_DIR", stringField(func(s *Settings, v string) { s.AssetsDir = v })},
	KeyExportRoot: {"EXPORT_ROOT", stringField(func(s *Settings, v string) { s.ExportRoot = v })},
	KeyTopK:       {"TOP_K", positiveField(func(s *Settings, v int) { s.TopK = v })},
}

// applyYAML applies every recognised key in data to s and reports which
// keys were applied.
func applyYAML(s *Settings, data []byte, log *slog.Logger) (map[string]bool, error) {
	var raw map[string]yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]bool{}, nil
		}
		return nil, err
	}

	applied := make(map[string]bool, len(raw))
	for _, key := range sortedKeys(raw) {
		node := raw[key]
		f, ok := fields[key]
		if !ok {
			log.Warn("unknown setting ignored", "key", key, "line", node.Line)
			continue
		}
		if node.Kind != yaml.ScalarNode {
			log.Warn("setting is not a scalar, using default", "key", key, "line", node.Line)
			continue
		}
		if err := f.apply(s, node.Value); err != nil {
			log.Warn("invalid setting, using default", "key", key, "value", node.Value, "error", err)
			continue
		}
		applied[key] = true
	}
	return applied, nil
}

// applyEnv applies YAMNET_* overrides and reports whether the retention
// flag was set explicitly.
func applyEnv(s *Settings, getenv func(string) string, log *slog.Logger) bool {
	retentionSet := false
	for key, f := range fields {
		name := EnvPrefix + f.env
		value := getenv(name)
		if value == "" {
			continue
		}
		if err := f.apply(s, value); err != nil {
			log.Warn("invalid environment setting, ignored", "var", name, "value", value, "error", err)
			continue
		}
		if key == KeyRetentionEnabled {
			retentionSet = true
		}
	}
	return retentionSet
}

func boolField(set func(*Settings, bool)) func(*Settings, string) error {
	return func(s *Settings, raw string) error {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		set(s, v)
		return nil
	}
}

func positiveField(set func(*Settings, int)) func(*Settings, string) error {
	return func(s *Settings, raw string) error {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return err
		}
		if v <= 0 {
			return fmt.Errorf("must be positive, got %d", v)
		}
		set(s, v)
		return nil
	}
}

func stringField(set func(*Settings, string)) func(*Settings, string) error {
	return func(s *Settings, raw string) error {
		set(s, strings.TrimSpace(raw))
		return nil
	}
}

func sortedKeys(m map[string]yaml.Node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// File is the on-disk form of Settings, used to write a settings file.
type File struct {
	Status             bool   `yaml:"status_plugin_yamnet" json:"status_plugin_yamnet"`
	Frequency          int    `yaml:"frequency_plugin_yamnet" json:"frequency_plugin_yamnet"`
	Duration           int    `yaml:"duration_plugin_yamnet" json:"duration_plugin_yamnet"`
	SaveAudioFiles     bool   `yaml:"save_audio_files" json:"save_audio_files"`
	EnableConfigUpdate bool   `yaml:"enable_config_update" json:"enable_config_update"`
	RetentionEnabled   bool   `yaml:"retention_enabled" json:"retention_enabled"`
	RetentionWindowMS  int64  `yaml:"retention_window_ms" json:"retention_window_ms"`
	DeviceID           string `yaml:"device_id,omitempty" json:"device_id,omitempty"`
	Database           string `yaml:"database" json:"database"`
	AssetsDir          string `yaml:"assets_dir" json:"assets_dir"`
	ExportRoot         string `yaml:"export_root,omitempty" json:"export_root,omitempty"`
	TopK               int    `yaml:"top_k" json:"top_k"`
}

// ToFile converts s to its on-disk form.
func (s Settings) ToFile() File {
	return File{
		Status:             s.Enabled,
		Frequency:          s.FrequencyMinutes,
		Duration:           s.DurationMS,
		SaveAudioFiles:     s.SaveAudioFiles,
		EnableConfigUpdate: s.EnableConfigUpdate,
		RetentionEnabled:   s.RetentionEnabled,
		RetentionWindowMS:  s.RetentionWindow.Milliseconds(),
		DeviceID:           s.DeviceID,
		Database:           s.Database,
		AssetsDir:          s.AssetsDir,
		ExportRoot:         s.ExportRoot,
		TopK:               s.TopK,
	}
}

// Write encodes s as YAML to path, creating parent directories.
func Write(path string, s Settings) error {
	data, err := yaml.Marshal(s.ToFile())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
