// Package settings manages persistent user settings for the cdoctl CLI.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/newtron-network/cdoctl/pkg/util"
)

// Defaults applied when the settings file leaves a key out.
const (
	DefaultRegion      = "us"
	DefaultDeviceType  = "asa"
	DefaultRetries     = 20
	DefaultInterval    = "2s"
	DefaultConcurrency = 4
)

// Settings holds persistent user preferences
type Settings struct {
	// Region selects the CDO API host: us, eu or apj.
	Region string `toml:"region"`

	// BaseURL overrides the region host, e.g. for a proxy.
	BaseURL string `toml:"base_url,omitempty"`

	// TokenFile holds the CDO API token.
	TokenFile string `toml:"token_file,omitempty"`

	DeviceType string `toml:"device_type"`

	// Retries and Interval bound how long a transaction is polled.
	Retries  int    `toml:"retries"`
	Interval string `toml:"interval"`

	// Concurrency caps how many devices run at once.
	Concurrency int `toml:"concurrency"`

	AuditLog   string `toml:"audit_log,omitempty"`
	AuditRedis string `toml:"audit_redis,omitempty"`

	// Inventory is a static YAML inventory; when set, commands go over SSH
	// instead of CDO.
	Inventory string `toml:"inventory,omitempty"`
	SSHUser   string `toml:"ssh_user,omitempty"`
	SSHKey    string `toml:"ssh_key,omitempty"`
}

// Default returns settings with every default applied.
func Default() *Settings {
	return &Settings{
		Region:      DefaultRegion,
		DeviceType:  DefaultDeviceType,
		Retries:     DefaultRetries,
		Interval:    DefaultInterval,
		Concurrency: DefaultConcurrency,
	}
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cdoctl_settings.toml"
	}
	return filepath.Join(home, ".cdoctl", "settings.toml")
}

// DefaultAuditLogPath returns the audit log location used when audit_log is unset.
func DefaultAuditLogPath() string {
	return filepath.Join(filepath.Dir(DefaultSettingsPath()), "audit.log")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path. A missing file yields the
// defaults; keys the file leaves out keep their defaults.
func LoadFrom(path string) (*Settings, error) {
	s := Default()

	meta, err := toml.DecodeFile(path, s)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("loading settings %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		util.Warnf("settings: ignoring unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// Validate checks the values that have a fixed domain.
func (s *Settings) Validate() error {
	v := &util.ValidationBuilder{}
	switch strings.ToLower(s.Region) {
	case "us", "eu", "apj":
	default:
		v.AddErrorf("region must be us, eu or apj, got %q", s.Region)
	}
	switch strings.ToLower(s.DeviceType) {
	case "asa", "ios", "all":
	default:
		v.AddErrorf("device_type must be asa, ios or all, got %q", s.DeviceType)
	}
	v.Add(s.Retries >= 0, "retries must not be negative")
	v.Add(s.Concurrency >= 0, "concurrency must not be negative")
	if _, err := time.ParseDuration(s.Interval); err != nil {
		v.AddErrorf("interval %q is not a duration", s.Interval)
	}
	return v.Build()
}

// PollInterval returns Interval as a duration.
func (s *Settings) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return 0, fmt.Errorf("interval %q: %w", s.Interval, err)
	}
	return d, nil
}

// AuditLogPath returns the configured audit log or the default one.
func (s *Settings) AuditLogPath() string {
	if s.AuditLog != "" {
		return s.AuditLog
	}
	return DefaultAuditLogPath()
}

type field struct {
	get func(s *Settings) string
	set func(s *Settings, v string) error
}

func stringField(p func(s *Settings) *string) field {
	return field{
		get: func(s *Settings) string { return *p(s) },
		set: func(s *Settings, v string) error { *p(s) = v; return nil },
	}
}

func intField(p func(s *Settings) *int) field {
	return field{
		get: func(s *Settings) string { return strconv.Itoa(*p(s)) },
		set: func(s *Settings, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%q is not a number", v)
			}
			*p(s) = n
			return nil
		},
	}
}

var fields = map[string]field{
	"region":      stringField(func(s *Settings) *string { return &s.Region }),
	"base_url":    stringField(func(s *Settings) *string { return &s.BaseURL }),
	"token_file":  stringField(func(s *Settings) *string { return &s.TokenFile }),
	"device_type": stringField(func(s *Settings) *string { return &s.DeviceType }),
	"retries":     intField(func(s *Settings) *int { return &s.Retries }),
	"interval":    stringField(func(s *Settings) *string { return &s.Interval }),
	"concurrency": intField(func(s *Settings) *int { return &s.Concurrency }),
	"audit_log":   stringField(func(s *Settings) *string { return &s.AuditLog }),
	"audit_redis": stringField(func(s *Settings) *string { return &s.AuditRedis }),
	"inventory":   stringField(func(s *Settings) *string { return &s.Inventory }),
	"ssh_user":    stringField(func(s *Settings) *string { return &s.SSHUser }),
	"ssh_key":     stringField(func(s *Settings) *string { return &s.SSHKey }),
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the value of key as a string.
func (s *Settings) Get(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("unknown setting %q", key)
	}
	return f.get(s), nil
}

// Set assigns value to key and validates the result. On error s is left
// unchanged.
func (s *Settings) Set(key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	next := *s
	if err := f.set(&next, strings.TrimSpace(value)); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*s = next
	return nil
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = *Default()
}
