// Package settings holds the hot-reloadable runtime settings of the runner:
// retry backoffs, destination allow/deny lists, history toggle, and the SNS
// credential mode. The daemon loads them from a YAML file and swaps whole
// snapshots atomically so in-flight runs keep the values they started with.
package settings

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgelight/vigil/internal/retry"
)

// Environment variables carrying the secure SNS values. The settings file
// only toggles static-credential mode; the keys themselves never live on
// disk next to it.
const (
	EnvSNSAccessKey = "VIGIL_SNS_ACCESS_KEY"
	EnvSNSSecretKey = "VIGIL_SNS_SECRET_KEY"
)

// Settings is the on-disk shape of the runtime settings file.
type Settings struct {
	Alert struct {
		Backoff BackoffSettings `yaml:"backoff"`
		History struct {
			Enabled bool `yaml:"enabled"`
		} `yaml:"history"`
	} `yaml:"alert"`

	MoveAlerts struct {
		Backoff BackoffSettings `yaml:"backoff"`
	} `yaml:"move_alerts"`

	Destination struct {
		AllowList    []string `yaml:"allow_list"`
		HostDenyList []string `yaml:"host_deny_list"`

		PublishGuard struct {
			Enabled   bool    `yaml:"enabled"`
			PerSecond float64 `yaml:"per_second"`
			Burst     int     `yaml:"burst"`
		} `yaml:"publish_guard"`

		SNS struct {
			Enabled bool `yaml:"enabled"` // static-credential mode
		} `yaml:"sns"`
	} `yaml:"destination"`
}

// BackoffSettings parameterize one retry policy.
type BackoffSettings struct {
	Millis int `yaml:"millis"`
	Count  int `yaml:"count"`
}

// DefaultAllowList permits every destination type the runner ships.
var DefaultAllowList = []string{"chime", "slack", "custom_webhook", "email", "sns"}

func (s *Settings) setDefaults() {
	if s.Alert.Backoff.Millis == 0 {
		s.Alert.Backoff.Millis = 50
	}
	if s.Alert.Backoff.Count == 0 {
		s.Alert.Backoff.Count = 2
	}
	if s.MoveAlerts.Backoff.Millis == 0 {
		s.MoveAlerts.Backoff.Millis = 250
	}
	if s.MoveAlerts.Backoff.Count == 0 {
		s.MoveAlerts.Backoff.Count = 3
	}
	if s.Destination.AllowList == nil {
		s.Destination.AllowList = append([]string(nil), DefaultAllowList...)
	}
	if s.Destination.PublishGuard.PerSecond == 0 {
		s.Destination.PublishGuard.PerSecond = 10
	}
	if s.Destination.PublishGuard.Burst == 0 {
		s.Destination.PublishGuard.Burst = 20
	}
}

// Validate checks the settings for errors.
func (s *Settings) Validate() error {
	if s.Alert.Backoff.Millis < 0 || s.MoveAlerts.Backoff.Millis < 0 {
		return fmt.Errorf("backoff millis must not be negative")
	}
	if s.Alert.Backoff.Count < 1 {
		return fmt.Errorf("alert.backoff.count must be at least 1")
	}
	if s.MoveAlerts.Backoff.Count < 1 {
		return fmt.Errorf("move_alerts.backoff.count must be at least 1")
	}
	if s.Destination.PublishGuard.Enabled && s.Destination.PublishGuard.PerSecond <= 0 {
		return fmt.Errorf("destination.publish_guard.per_second must be positive")
	}
	return nil
}

// Default returns the settings used when no file is given.
func Default() *Settings {
	s := &Settings{}
	s.Alert.History.Enabled = true
	s.setDefaults()
	return s
}

// Load reads and validates a settings file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	s.setDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}
	return &s, nil
}

// AWSSettings is the per-publish view of the SNS credential configuration.
type AWSSettings struct {
	StaticCredentials bool // destination.sns.enabled
	AccessKey         string
	SecretKey         string
}

// GuardSettings configures the optional process-wide publish rate guard.
type GuardSettings struct {
	Enabled   bool
	PerSecond float64
	Burst     int
}

// Snapshot is the immutable runtime view handed to the pipeline. Every run
// takes one snapshot up front and never re-reads.
type Snapshot struct {
	AlertBackoff      retry.Policy
	MoveAlertsBackoff retry.Policy
	AllowList         []string
	HostDenyList      []string
	HistoryEnabled    bool
	AWS               AWSSettings
	PublishGuard      GuardSettings
}

// Snapshot converts the settings into a runtime snapshot, resolving secure
// values from the environment.
func (s *Settings) Snapshot() *Snapshot {
	return &Snapshot{
		AlertBackoff: retry.Constant(
			time.Duration(s.Alert.Backoff.Millis)*time.Millisecond, s.Alert.Backoff.Count),
		MoveAlertsBackoff: retry.Exponential(
			time.Duration(s.MoveAlerts.Backoff.Millis)*time.Millisecond, s.MoveAlerts.Backoff.Count),
		AllowList:      append([]string(nil), s.Destination.AllowList...),
		HostDenyList:   append([]string(nil), s.Destination.HostDenyList...),
		HistoryEnabled: s.Alert.History.Enabled,
		AWS: AWSSettings{
			StaticCredentials: s.Destination.SNS.Enabled,
			AccessKey:         os.Getenv(EnvSNSAccessKey),
			SecretKey:         os.Getenv(EnvSNSSecretKey),
		},
		PublishGuard: GuardSettings{
			Enabled:   s.Destination.PublishGuard.Enabled,
			PerSecond: s.Destination.PublishGuard.PerSecond,
			Burst:     s.Destination.PublishGuard.Burst,
		},
	}
}

// TypeAllowed reports whether a destination type passes the allow-list.
func (s *Snapshot) TypeAllowed(destType string) bool {
	for _, t := range s.AllowList {
		if t == destType {
			return true
		}
	}
	return false
}

// HostDenied reports whether a publish host is deny-listed.
func (s *Snapshot) HostDenied(host string) bool {
	for _, h := range s.HostDenyList {
		if h == host {
			return true
		}
	}
	return false
}

// Holder is the single-writer atomic reference the watcher updates and the
// pipeline reads.
type Holder struct {
	current atomic.Pointer[Snapshot]
}

// NewHolder seeds a holder with an initial snapshot.
func NewHolder(initial *Snapshot) *Holder {
	h := &Holder{}
	h.current.Store(initial)
	return h
}

// Current returns the active snapshot.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Replace swaps in a new snapshot. Runs already holding the old one are
// unaffected.
func (h *Holder) Replace(s *Snapshot) {
	h.current.Store(s)
}
