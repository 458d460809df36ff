// Package integrity verifies the binary checksum at startup.
// The expected hash is embedded at build time via ldflags.
// A tool that grants itself deny rights on system objects is a
// tampering target; a binary that does not match its recorded hash
// records a tamper event and refuses to run.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/lockward/internal/alert"
)

// ExpectedHash is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/lockward/internal/integrity.ExpectedHash=<sha256hex>"
//
// When empty (dev builds), verification falls back to checksum file.
var ExpectedHash string

// TamperLogDir is the directory where tamper events are written.
// Override for testing.
var TamperLogDir = "/var/log/lockward"

// ChecksumPaths are the paths checked (in order) for a sha256 checksum
// file holding a single hex-encoded SHA-256 hash. Override for testing.
var ChecksumPaths = []string{
	"/etc/lockward/binary.sha256",
	"$HOME/.lockward/binary.sha256",
}

// TamperEvent records a binary integrity violation.
type TamperEvent struct {
	Timestamp    string `json:"timestamp"`
	Binary       string `json:"binary"`
	ExpectedHash string `json:"expected_hash"`
	ActualHash   string `json:"actual_hash"`
	Hostname     string `json:"hostname"`
	Type         string `json:"type"`
}

// Verify checks that the running binary matches ExpectedHash.
// If ExpectedHash is empty, falls back to checksum file at
// ChecksumPaths. Returns nil if verification passes or no expected
// hash is available (dev mode). On mismatch, writes a tamper event
// to the tamper log and fires matching webhooks before returning
// error.
func Verify(alerts []alert.AlertConfig) error {
	expected := ExpectedHash
	if expected == "" {
		expected = loadChecksumFile()
	}
	if expected == "" {
		return nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}

	actual, err := hashFile(exePath)
	if err != nil {
		return fmt.Errorf("integrity: cannot hash binary: %w", err)
	}

	if actual == expected {
		return nil
	}

	event := TamperEvent{
		Timestamp:    time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Binary:       exePath,
		ExpectedHash: expected,
		ActualHash:   actual,
		Type:         "binary_tamper",
	}
	event.Hostname, _ = os.Hostname()

	writeTamperEvent(event, alerts)

	return fmt.Errorf("integrity: binary checksum mismatch (expected %s, got %s)", expected, actual)
}

// HashSelf returns the SHA-256 hex digest of the running binary.
// Useful for writing the checksum file after install.
func HashSelf() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("integrity: cannot resolve executable path: %w", err)
	}
	return hashFile(exePath)
}

// loadChecksumFile reads the expected hash from a checksum file.
// Returns empty string if no file is found or readable.
func loadChecksumFile() string {
	for _, p := range ChecksumPaths {
		path := os.ExpandEnv(p)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		hash := strings.TrimSpace(string(data))
		if len(hash) == 64 && isHex(hash) {
			return hash
		}
	}
	return ""
}

func isHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeTamperEvent appends a tamper event to the tamper log, prints
// to stderr for the journal, and fires matching webhooks. Webhook
// sends are synchronous since the process exits right after.
func writeTamperEvent(event TamperEvent, alerts []alert.AlertConfig) {
	line, err := json.Marshal(event)
	if err != nil {
		return
	}

	logPath := filepath.Join(TamperLogDir, "tamper.jsonl")
	if err := os.MkdirAll(TamperLogDir, 0700); err == nil {
		if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600); err == nil {
			f.Write(append(line, '\n'))
			f.Sync()
			f.Close()
		}
	}

	fmt.Fprintf(os.Stderr, "TAMPER ALERT: %s\n", string(line))

	if alerts == nil {
		alerts = loadAlertConfigs()
	}
	payload := alert.AlertEvent{
		Timestamp: event.Timestamp,
		Type:      "tamper",
		Resource:  event.Binary,
		Outcome:   "failed",
		Reason:    fmt.Sprintf("binary checksum mismatch: expected %s, got %s", event.ExpectedHash, event.ActualHash),
	}
	for _, cfg := range alerts {
		for _, e := range cfg.Events {
			if e == "tamper" {
				alert.Send(cfg, payload)
				break
			}
		}
	}
}

// minimal struct for parsing just the alerts section of lockward.yaml;
// tamper checks run before full config init.
type configAlerts struct {
	Alerts []alert.AlertConfig `yaml:"alerts"`
}

func loadAlertConfigs() []alert.AlertConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	path := filepath.Join(home, ".lockward", "lockward.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var ca configAlerts
	if err := yaml.Unmarshal(data, &ca); err != nil {
		return nil
	}
	return ca.Alerts
}
