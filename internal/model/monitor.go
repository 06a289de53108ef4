// Package model defines the monitor, trigger, action, and alert types shared
// by the runner pipeline and the stores.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// NoID marks a monitor that has never been saved to the config index.
// Runs of such monitors (previews, vigilctl executes) skip persistence.
const NoID = ""

// Monitor is a scheduled definition combining inputs, triggers, and actions.
type Monitor struct {
	ID       string    `json:"id,omitempty" yaml:"id,omitempty"`
	Version  int64     `json:"-" yaml:"-"`
	Name     string    `json:"name" yaml:"name"`
	Enabled  bool      `json:"enabled" yaml:"enabled"`
	Schedule Schedule  `json:"schedule" yaml:"schedule"`
	Inputs   []Input   `json:"inputs" yaml:"inputs"`
	Triggers []Trigger `json:"triggers" yaml:"triggers"`
	User     *User     `json:"user,omitempty" yaml:"user,omitempty"`

	SchemaVersion  int        `json:"schema_version,omitempty" yaml:"-"`
	LastUpdateTime *time.Time `json:"last_update_time,omitempty" yaml:"-"`
}

// Schedule describes how often the monitor runs.
type Schedule struct {
	Period Period `json:"period" yaml:"period"`
}

// Period is a fixed interval, e.g. {interval: 1, unit: MINUTES}.
type Period struct {
	Interval int    `json:"interval" yaml:"interval"`
	Unit     string `json:"unit" yaml:"unit"`
}

// Duration converts the period to a time.Duration.
func (p Period) Duration() (time.Duration, error) {
	return unitDuration(p.Interval, p.Unit)
}

// User identifies the monitor owner. Backend roles scope what the monitor's
// queries may see.
type User struct {
	Name         string   `json:"name" yaml:"name"`
	BackendRoles []string `json:"backend_roles" yaml:"backend_roles"`
	Roles        []string `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// Input is a tagged variant. Search is the only variant the runner handles;
// anything else is rejected at input-collection time.
type Input struct {
	Search *SearchInput

	// kind records the variant tag seen during parsing so unsupported
	// inputs can be reported by name.
	kind string
}

// SearchInput is a templated query against one or more index patterns.
type SearchInput struct {
	Indices []string `json:"indices" yaml:"indices"`
	Query   string   `json:"query" yaml:"query"`
}

// NewSearchInput wraps a SearchInput in its variant envelope.
func NewSearchInput(indices []string, query string) Input {
	return Input{Search: &SearchInput{Indices: indices, Query: query}, kind: "search"}
}

// Kind returns the variant tag ("search" for supported inputs).
func (in Input) Kind() string {
	if in.kind != "" {
		return in.kind
	}
	if in.Search != nil {
		return "search"
	}
	return "unknown"
}

// UnmarshalJSON decodes the variant envelope, remembering the tag of
// unrecognized variants for error reporting.
func (in *Input) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw["search"]; ok {
		in.Search = &SearchInput{}
		in.kind = "search"
		return json.Unmarshal(s, in.Search)
	}
	for k := range raw {
		in.kind = k
		return nil
	}
	return fmt.Errorf("input has no variant tag")
}

// MarshalJSON encodes the variant envelope.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.Search == nil {
		return nil, fmt.Errorf("cannot marshal input of kind %q", in.Kind())
	}
	return json.Marshal(map[string]*SearchInput{"search": in.Search})
}

// UnmarshalYAML mirrors UnmarshalJSON for monitor files.
func (in *Input) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if s, ok := raw["search"]; ok {
		in.Search = &SearchInput{}
		in.kind = "search"
		return s.Decode(in.Search)
	}
	for k := range raw {
		in.kind = k
		return nil
	}
	return fmt.Errorf("input has no variant tag")
}

// MarshalYAML encodes the variant envelope.
func (in Input) MarshalYAML() (interface{}, error) {
	if in.Search == nil {
		return nil, fmt.Errorf("cannot marshal input of kind %q", in.Kind())
	}
	return map[string]*SearchInput{"search": in.Search}, nil
}

// Trigger fires when its condition evaluates to true over the input results.
type Trigger struct {
	ID        string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name      string   `json:"name" yaml:"name"`
	Severity  string   `json:"severity" yaml:"severity"`
	Condition Script   `json:"condition" yaml:"condition"`
	Actions   []Action `json:"actions" yaml:"actions"`
}

// Script is an expression source with optional parameters exposed to it.
type Script struct {
	Source string         `json:"source" yaml:"source"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Action delivers a rendered message to a destination when its trigger fires.
type Action struct {
	ID              string    `json:"id,omitempty" yaml:"id,omitempty"`
	Name            string    `json:"name" yaml:"name"`
	DestinationID   string    `json:"destination_id" yaml:"destination_id"`
	SubjectTemplate string    `json:"subject_template,omitempty" yaml:"subject_template,omitempty"`
	MessageTemplate string    `json:"message_template" yaml:"message_template"`
	Throttle        *Throttle `json:"throttle,omitempty" yaml:"throttle,omitempty"`
}

// Throttle suppresses repeated dispatches of an action inside a time window.
type Throttle struct {
	Value   int    `json:"value" yaml:"value"`
	Unit    string `json:"unit" yaml:"unit"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Duration converts the throttle window to a time.Duration.
func (t Throttle) Duration() (time.Duration, error) {
	return unitDuration(t.Value, t.Unit)
}

func unitDuration(value int, unit string) (time.Duration, error) {
	if value <= 0 {
		return 0, fmt.Errorf("value must be positive, got %d", value)
	}
	var base time.Duration
	switch unit {
	case "SECONDS":
		base = time.Second
	case "MINUTES":
		base = time.Minute
	case "HOURS":
		base = time.Hour
	case "DAYS":
		base = 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit %q", unit)
	}
	return time.Duration(value) * base, nil
}

// Validate checks the monitor definition for structural errors.
func (m *Monitor) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("monitor name is required")
	}
	if _, err := m.Schedule.Period.Duration(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if len(m.Inputs) == 0 {
		return fmt.Errorf("monitor requires at least one input")
	}
	for i, in := range m.Inputs {
		if in.Search == nil {
			continue // unsupported variants are rejected at collection time
		}
		if len(in.Search.Indices) == 0 {
			return fmt.Errorf("input %d: at least one index is required", i)
		}
		if in.Search.Query == "" {
			return fmt.Errorf("input %d: query is required", i)
		}
	}
	for i, tr := range m.Triggers {
		if tr.Name == "" {
			return fmt.Errorf("trigger %d: name is required", i)
		}
		if tr.Condition.Source == "" {
			return fmt.Errorf("trigger %q: condition source is required", tr.Name)
		}
		for j, a := range tr.Actions {
			if a.Name == "" {
				return fmt.Errorf("trigger %q action %d: name is required", tr.Name, j)
			}
			if a.DestinationID == "" {
				return fmt.Errorf("action %q: destination_id is required", a.Name)
			}
			if a.MessageTemplate == "" {
				return fmt.Errorf("action %q: message_template is required", a.Name)
			}
			if a.Throttle != nil {
				if _, err := a.Throttle.Duration(); err != nil {
					return fmt.Errorf("action %q throttle: %w", a.Name, err)
				}
			}
		}
	}
	return nil
}

// EnsureIDs assigns generated ids to triggers and actions that lack one.
// Monitors authored as files or submitted to the preview API arrive without
// ids; alert identity needs stable trigger ids within the run.
func (m *Monitor) EnsureIDs() {
	for i := range m.Triggers {
		if m.Triggers[i].ID == "" {
			m.Triggers[i].ID = uuid.NewString()
		}
		for j := range m.Triggers[i].Actions {
			if m.Triggers[i].Actions[j].ID == "" {
				m.Triggers[i].Actions[j].ID = uuid.NewString()
			}
		}
	}
}

// TriggerIDs returns the ids of all triggers in declaration order.
func (m *Monitor) TriggerIDs() []string {
	ids := make([]string, 0, len(m.Triggers))
	for _, t := range m.Triggers {
		ids = append(ids, t.ID)
	}
	return ids
}
