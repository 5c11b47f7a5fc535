// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/tongue-chat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete client configuration.
type Config struct {
	Backend   BackendConfig   `toml:"backend" json:"backend"`
	Transport TransportConfig `toml:"transport" json:"transport"`
	Relay     RelayConfig     `toml:"relay" json:"relay"`
	Identity  IdentityConfig  `toml:"identity" json:"identity"`
	UI        UIConfig        `toml:"ui" json:"ui"`
	Log       LogConfig       `toml:"log" json:"log"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
}

// BackendConfig locates the analysis service.
type BackendConfig struct {
	BaseURL string `toml:"base_url" json:"base_url"`
	// ChatPath receives text prompts as JSON.
	ChatPath string `toml:"chat_path" json:"chat_path"`
	// ImagePath receives multipart image uploads.
	ImagePath          string `toml:"image_path" json:"image_path"`
	ConnectTimeoutSecs int    `toml:"connect_timeout_secs" json:"connect_timeout_secs"`
}

// TransportConfig picks between the direct and relayed transports.
type TransportConfig struct {
	// Mode is "auto", "direct" or "relay". Auto relays when RelayURL is set.
	Mode     string `toml:"mode" json:"mode"`
	RelayURL string `toml:"relay_url" json:"relay_url"`
}

// RelayConfig configures the bridge started by `tongue relay`.
type RelayConfig struct {
	Listen          string  `toml:"listen" json:"listen"`
	MaxStartsPerSec float64 `toml:"max_starts_per_sec" json:"max_starts_per_sec"`
}

// IdentityConfig overrides the persisted user identifier.
type IdentityConfig struct {
	UserID string `toml:"user_id" json:"user_id"`
}

// UIConfig contains terminal presentation settings.
type UIConfig struct {
	Locale   string `toml:"locale" json:"locale"`
	Markdown bool   `toml:"markdown" json:"markdown"`
	// Theme is "auto", "dark" or "light".
	Theme string `toml:"theme" json:"theme"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	Path            string `toml:"path" json:"path"`
	SaveTranscripts bool   `toml:"save_transcripts" json:"save_transcripts"`
}

// =============================================================================
// DEFAULT CONFIG
// =============================================================================

// Default returns a configuration with default values.
func Default() *Config {
	dbPath := "tongue.db"
	if dir, err := ConfigDir(); err == nil {
		dbPath = filepath.Join(dir, "tongue.db")
	}

	return &Config{
		Backend: BackendConfig{
			BaseURL:            "http://127.0.0.1:8000",
			ChatPath:           "/chat/stream",
			ImagePath:          "/tongue/predict-and-analyze/stream",
			ConnectTimeoutSecs: 10,
		},
		Transport: TransportConfig{
			Mode: "auto",
		},
		Relay: RelayConfig{
			Listen:          "127.0.0.1:8765",
			MaxStartsPerSec: 5,
		},
		UI: UIConfig{
			Locale:   "zh-TW",
			Markdown: true,
			Theme:    "auto",
		},
		Log: LogConfig{
			Level: "warn",
		},
		Storage: StorageConfig{
			Path:            dbPath,
			SaveTranscripts: true,
		},
	}
}

// ConnectTimeout returns the backend dial timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Backend.ConnectTimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory, ~/.tongue.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".tongue"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads ~/.tongue/config.toml, falling back to config.json and then to
// defaults. Environment overrides are applied last and the result is
// validated.
func Load() (*Config, error) {
	for _, pathFn := range []func() (string, error){ConfigPathTOML, ConfigPathJSON} {
		path, err := pathFn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	return finish(Default())
}

// LoadFromPath loads the file at path. Files ending in .json are read as
// JSON, everything else as TOML. Keys missing from the file keep their
// defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file into cfg.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %s\n", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadJSON decodes a JSON file into cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# tongue configuration file\n")
	buf.WriteString("# Environment variables TONGUE_* override these values.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validModes     = []string{"auto", "direct", "relay"}
	validThemes    = []string{"auto", "dark", "light"}
	validLocales   = []string{"zh-TW", "en"}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}

// Validate checks the configuration and returns ValidateErrors listing every
// problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Host == "" {
		add("backend.base_url", "must be an absolute URL, got %q", c.Backend.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("backend.base_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if !strings.HasPrefix(c.Backend.ChatPath, "/") {
		add("backend.chat_path", "must start with /")
	}
	if !strings.HasPrefix(c.Backend.ImagePath, "/") {
		add("backend.image_path", "must start with /")
	}
	if c.Backend.ConnectTimeoutSecs < 1 || c.Backend.ConnectTimeoutSecs > 300 {
		add("backend.connect_timeout_secs", "must be between 1 and 300, got %d", c.Backend.ConnectTimeoutSecs)
	}

	if !oneOf(c.Transport.Mode, validModes) {
		add("transport.mode", "must be one of %s, got %q", strings.Join(validModes, ", "), c.Transport.Mode)
	}
	if c.Transport.RelayURL != "" {
		if u, err := url.Parse(c.Transport.RelayURL); err != nil || u.Host == "" || (u.Scheme != "ws" && u.Scheme != "wss") {
			add("transport.relay_url", "must be a ws:// or wss:// URL, got %q", c.Transport.RelayURL)
		}
	} else if strings.EqualFold(c.Transport.Mode, "relay") {
		add("transport.relay_url", "required when transport.mode is relay")
	}

	if _, _, err := net.SplitHostPort(c.Relay.Listen); err != nil {
		add("relay.listen", "must be host:port, got %q", c.Relay.Listen)
	}
	if c.Relay.MaxStartsPerSec <= 0 {
		add("relay.max_starts_per_sec", "must be positive")
	}

	if !oneOf(c.UI.Locale, validLocales) {
		add("ui.locale", "must be one of %s, got %q", strings.Join(validLocales, ", "), c.UI.Locale)
	}
	if !oneOf(c.UI.Theme, validThemes) {
		add("ui.theme", "must be one of %s, got %q", strings.Join(validThemes, ", "), c.UI.Theme)
	}
	if !oneOf(c.Log.Level, validLogLevels) {
		add("log.level", "must be one of %s, got %q", strings.Join(validLogLevels, ", "), c.Log.Level)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		add("storage.path", "must not be empty")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that a partial file or override left behind.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = d.Backend.BaseURL
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")
	if c.Backend.ChatPath == "" {
		c.Backend.ChatPath = d.Backend.ChatPath
	}
	if c.Backend.ImagePath == "" {
		c.Backend.ImagePath = d.Backend.ImagePath
	}
	if c.Backend.ConnectTimeoutSecs == 0 {
		c.Backend.ConnectTimeoutSecs = d.Backend.ConnectTimeoutSecs
	}
	if c.Transport.Mode == "" {
		c.Transport.Mode = d.Transport.Mode
	}
	if c.Relay.Listen == "" {
		c.Relay.Listen = d.Relay.Listen
	}
	if c.Relay.MaxStartsPerSec == 0 {
		c.Relay.MaxStartsPerSec = d.Relay.MaxStartsPerSec
	}
	if c.UI.Locale == "" {
		c.UI.Locale = d.UI.Locale
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - TONGUE_BACKEND_URL: overrides backend.base_url
//   - TONGUE_RELAY_URL: overrides transport.relay_url; a host that runs the
//     client without network access sets this to its bridge
//   - TONGUE_TRANSPORT: overrides transport.mode
//   - TONGUE_USER_ID: overrides identity.user_id
//   - TONGUE_LOCALE: overrides ui.locale
//   - TONGUE_LOG_LEVEL: overrides log.level
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env   string
		field *string
	}{
		{"TONGUE_BACKEND_URL", &c.Backend.BaseURL},
		{"TONGUE_RELAY_URL", &c.Transport.RelayURL},
		{"TONGUE_TRANSPORT", &c.Transport.Mode},
		{"TONGUE_USER_ID", &c.Identity.UserID},
		{"TONGUE_LOCALE", &c.UI.Locale},
		{"TONGUE_LOG_LEVEL", &c.Log.Level},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.field = v
		}
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// lookup walks a dot-notation key ("backend.base_url") to its field.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds the struct field whose toml tag is name.
func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if strings.EqualFold(t.Field(i).Tag.Get("toml"), name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Get retrieves a configuration value using dot notation.
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set parses value into the field named by key. The result is not
// validated; call Validate before saving.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %v", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %v", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %v", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("cannot set %s: not a scalar", key)
	}
	return nil
}

// Keys returns every configuration key in dot notation, sorted.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, section.Tag.Get("toml")+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	sort.Strings(keys)
	return keys
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
