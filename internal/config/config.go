// Package config loads lockward.yaml: the fixed resource set the
// engine manages, storage paths, the designated fail-safe identity,
// and the command templates binding the acl package to the OS tools.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/lockward/internal/acl"
	"github.com/ppiankov/lockward/internal/alert"
)

// FileSpec names one protected file.
type FileSpec struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// PolicySpec names one managed system policy with its restricted and
// default values.
type PolicySpec struct {
	Name       string `yaml:"name"`
	KeyPath    string `yaml:"key_path"`
	ValueName  string `yaml:"value_name"`
	Restricted string `yaml:"restricted"`
	Default    string `yaml:"default"`
	// Global policies are machine-wide toggles tracked in the config
	// branch instead of per-user records (the UAC case).
	Global bool `yaml:"global"`
}

// Config holds all lockward settings.
type Config struct {
	StateDB    string `yaml:"state_db"`
	AuditLog   string `yaml:"audit_log"`
	LockFile   string `yaml:"lock_file"`
	ReleaseDir string `yaml:"release_dir"`

	// FailsafeIdentity is the only principal allowed to run the
	// unattended recovery protocol.
	FailsafeIdentity string `yaml:"failsafe_identity"`

	// AdapterKeyPattern maps an adapter interface identifier to its
	// registry parameter key; %s is replaced by the adapter ID.
	AdapterKeyPattern string `yaml:"adapter_key_pattern"`

	ProtectedFiles []FileSpec   `yaml:"protected_files"`
	Policies       []PolicySpec `yaml:"policies"`

	Commands acl.CommandSet      `yaml:"commands"`
	Alerts   []alert.AlertConfig `yaml:"alerts"`
}

// BaseDir returns the default lockward home directory.
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "lockward")
	}
	return filepath.Join(home, ".lockward")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "lockward.yaml")
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	base := BaseDir()
	return &Config{
		StateDB:           filepath.Join(base, "state.db"),
		AuditLog:          filepath.Join(base, "audit.jsonl"),
		LockFile:          filepath.Join(base, "engine.lock"),
		ReleaseDir:        filepath.Join(base, "release"),
		FailsafeIdentity:  "SYSTEM",
		AdapterKeyPattern: `HKLM\SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces\%s`,
		ProtectedFiles: []FileSpec{
			{Name: "hosts", Path: `C:\Windows\System32\drivers\etc\hosts`},
		},
		Policies: []PolicySpec{
			{
				Name:       "regedit",
				KeyPath:    `HKCU\Software\Microsoft\Windows\CurrentVersion\Policies\System`,
				ValueName:  "DisableRegistryTools",
				Restricted: "1",
				Default:    "0",
			},
			{
				Name:       "uac",
				KeyPath:    `HKLM\Software\Microsoft\Windows\CurrentVersion\Policies\System`,
				ValueName:  "EnableLUA",
				Restricted: "1",
				Default:    "0",
				Global:     true,
			},
		},
		Commands: acl.CommandSet{
			AddDenyFile:       []string{"icacls", "{path}", "/deny", "{identity}:({rights})"},
			RemoveDenyFile:    []string{"icacls", "{path}", "/remove:d", "{identity}"},
			RemoveAllDenyFile: []string{"icacls", "{path}", "/reset"},
			AddDenyKey:        []string{"setacl", "-on", "{path}", "-ot", "reg", "-actn", "ace", "-ace", "n:{identity};p:{rights};m:deny"},
			RemoveDenyKey:     []string{"setacl", "-on", "{path}", "-ot", "reg", "-actn", "ace", "-ace", "n:{identity};m:deny;w:rem"},
			RemoveAllDenyKey:  []string{"setacl", "-on", "{path}", "-ot", "reg", "-actn", "setprot", "-op", "dacl:np"},
			SetPolicyValue:    []string{"reg", "add", "{path}", "/v", "{name}", "/t", "REG_DWORD", "/d", "{value}", "/f"},
		},
	}
}

// Load reads configuration from a YAML file. An empty path falls back
// to the default location. A missing file returns defaults; invalid
// YAML returns an error. Fields absent from the file keep their
// default values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Policy returns the policy spec with the given name.
func (c *Config) Policy(name string) (PolicySpec, bool) {
	for _, p := range c.Policies {
		if p.Name == name {
			return p, true
		}
	}
	return PolicySpec{}, false
}

// ProtectedFile returns the file spec with the given name.
func (c *Config) ProtectedFile(name string) (FileSpec, bool) {
	for _, f := range c.ProtectedFiles {
		if f.Name == name {
			return f, true
		}
	}
	return FileSpec{}, false
}

// AdapterKey renders the registry parameter key for an adapter ID.
func (c *Config) AdapterKey(adapterID string) string {
	return fmt.Sprintf(c.AdapterKeyPattern, adapterID)
}

// DefaultConfigYAML returns a commented YAML string for `lockward init`.
func DefaultConfigYAML() string {
	return `# lockward configuration
# Generated by: lockward init
#
# Restrictions are tracked in state_db; presence of a record is the
# sole source of truth that a lock is active. Both the CLI and the
# unattended fail-safe runner serialize on lock_file before touching
# the store or the OS permission objects.

# Storage paths. Defaults live under ~/.lockward.
#state_db: /var/lib/lockward/state.db
#audit_log: /var/lib/lockward/audit.jsonl
#lock_file: /var/lib/lockward/engine.lock
#release_dir: /var/lib/lockward/release

# Only this principal may run the unattended recovery protocol.
failsafe_identity: SYSTEM

# Registry parameter key for a network adapter; %s is the adapter's
# interface identifier.
adapter_key_pattern: 'HKLM\SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces\%s'

# Files locked by the protected_file category.
protected_files:
  - name: hosts
    path: 'C:\Windows\System32\drivers\etc\hosts'

# System policies. Enable writes the restricted value, disable writes
# the default. Policies marked global are machine-wide toggles (the
# UAC case) tracked once, not per user.
policies:
  - name: regedit
    key_path: 'HKCU\Software\Microsoft\Windows\CurrentVersion\Policies\System'
    value_name: DisableRegistryTools
    restricted: "1"
    default: "0"
  - name: uac
    key_path: 'HKLM\Software\Microsoft\Windows\CurrentVersion\Policies\System'
    value_name: EnableLUA
    restricted: "1"
    default: "0"
    global: true

# Command templates for the OS permission tools. Placeholders:
# {path} {identity} {rights} {name} {value}
#commands:
#  add_deny_file: ["icacls", "{path}", "/deny", "{identity}:({rights})"]

# Webhook alerts. Formats: generic, slack, pagerduty.
# Events: enable, disable, failsafe_run, early_release, tamper, partial.
#alerts:
#  - url: https://hooks.example.com/lockward
#    format: generic
#    events: ["failsafe_run", "tamper"]
`
}
