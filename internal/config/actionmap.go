package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

// ActionNames are the platform-side names a single event type reports
// against: a Google Ads conversion action and a Microsoft Ads goal.
type ActionNames struct {
	GoogleAction  string `yaml:"google_action"`
	MicrosoftGoal string `yaml:"microsoft_goal"`
}

// ActionMap maps every forward event type to its platform action
// names. A missing entry for an enabled event type is a configuration
// error and aborts the run before any upload.
type ActionMap map[domain.EventType]ActionNames

// LoadActionMap reads the action-map YAML file:
//
//	trial_start:
//	  google_action: Trial Start DWH
//	  microsoft_goal: UET Trial Start
func LoadActionMap(path string) (ActionMap, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read action map: %w", err)
	}
	var raw map[string]ActionNames
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse action map: %w", err)
	}

	m := make(ActionMap, len(raw))
	for k, v := range raw {
		et := domain.EventType(k)
		if !et.Valid() {
			return nil, fmt.Errorf("action map: unknown event type %q", k)
		}
		m[et] = v
	}
	return m, nil
}

// Validate requires a complete mapping for every forward event type.
func (m ActionMap) Validate() error {
	for _, pass := range domain.ForwardPasses() {
		for _, et := range pass.Types {
			names, ok := m[et]
			if !ok {
				return fmt.Errorf("action map: missing entry for event type %q", et)
			}
			if names.GoogleAction == "" {
				return fmt.Errorf("action map: empty google_action for event type %q", et)
			}
			if names.MicrosoftGoal == "" {
				return fmt.Errorf("action map: empty microsoft_goal for event type %q", et)
			}
		}
	}
	return nil
}

// GoogleAction returns the Google Ads conversion action name for an
// event type.
func (m ActionMap) GoogleAction(et domain.EventType) string {
	return m[et].GoogleAction
}

// MicrosoftGoal returns the Microsoft Ads goal name for an event type.
func (m ActionMap) MicrosoftGoal(et domain.EventType) string {
	return m[et].MicrosoftGoal
}
