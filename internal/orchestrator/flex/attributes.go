package flex

import (
	"encoding/json"
	"strings"

	"github.com/flexops/flexops/internal/orchestrator/templates"
)

// taskAttributes is the decoded attributes document of a provider task.
// Malformed JSON decodes to an empty document rather than failing the tick.
type taskAttributes map[string]interface{}

func parseTaskAttributes(raw string) taskAttributes {
	attrs := taskAttributes{}
	if raw == "" {
		return attrs
	}
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return taskAttributes{}
	}
	return attrs
}

// conversationSid returns the conversation this task is attached to. Tasks
// from other channels (voice, for one) carry no CH-prefixed sid and are not
// candidates for conversation messaging.
func (a taskAttributes) conversationSid() (string, bool) {
	sid, ok := a["conversationSid"].(string)
	if !ok || !strings.HasPrefix(sid, "CH") {
		return "", false
	}
	return sid, true
}

// customerName picks the best available customer name: the nested
// customers.name field, then the friendly name, then the raw address.
func (a taskAttributes) customerName() string {
	if customers, ok := a["customers"].(map[string]interface{}); ok {
		if name, ok := customers["name"].(string); ok && strings.TrimSpace(name) != "" {
			return name
		}
	}
	if name, ok := a["friendlyName"].(string); ok && strings.TrimSpace(name) != "" {
		return name
	}
	if from, ok := a["from"].(string); ok && strings.TrimSpace(from) != "" {
		return from
	}
	return templates.DefaultCustomerName
}

// stringField returns the named top-level string field, nil when absent.
func (a taskAttributes) stringField(key string) *string {
	if value, ok := a[key].(string); ok && value != "" {
		return &value
	}
	return nil
}
