package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maximilianredt/eforms-conversion-uploader/internal/domain"
)

const completeActionMap = `trial_start:
  google_action: Trial Start DWH
  microsoft_goal: UET Trial Start
monthly_subscription:
  google_action: Monthly Subscription DWH
  microsoft_goal: UET Monthly Subscription
yearly_subscription:
  google_action: Yearly Subscription DWH
  microsoft_goal: UET Yearly Subscription
document_purchase:
  google_action: Document Purchase DWH
  microsoft_goal: UET Document Purchase
chat_purchase:
  google_action: Chat Purchase DWH
  microsoft_goal: UET Chat Purchase
`

func writeActionMap(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "action_map.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadActionMap_Complete(t *testing.T) {
	path := writeActionMap(t, completeActionMap)

	m, err := LoadActionMap(path)

	assert.NoError(t, err)
	assert.NoError(t, m.Validate())
	assert.Equal(t, "Trial Start DWH", m.GoogleAction(domain.EventTypeTrialStart))
	assert.Equal(t, "UET Chat Purchase", m.MicrosoftGoal(domain.EventTypeChatPurchase))
}

func TestLoadActionMap_UnknownEventType(t *testing.T) {
	path := writeActionMap(t, `page_view:
  google_action: Page View
  microsoft_goal: UET Page View
`)

	_, err := LoadActionMap(path)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown event type")
	assert.Contains(t, err.Error(), "page_view")
}

func TestLoadActionMap_MissingFile(t *testing.T) {
	_, err := LoadActionMap(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read action map")
}

func TestActionMap_Validate_MissingEntry(t *testing.T) {
	m := ActionMap{
		domain.EventTypeTrialStart: {GoogleAction: "a", MicrosoftGoal: "b"},
	}

	err := m.Validate()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing entry")
}

func TestActionMap_Validate_EmptyName(t *testing.T) {
	m := ActionMap{}
	for _, pass := range domain.ForwardPasses() {
		for _, et := range pass.Types {
			m[et] = ActionNames{GoogleAction: "a", MicrosoftGoal: "b"}
		}
	}
	m[domain.EventTypeChatPurchase] = ActionNames{GoogleAction: "a"}

	err := m.Validate()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "empty microsoft_goal")
	assert.Contains(t, err.Error(), "chat_purchase")
}
