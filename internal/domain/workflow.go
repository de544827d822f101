package domain

import "time"

// WorkflowDefinition is a saved automation: fetch from one service, forward
// to another. Owned exclusively by the workflow registry; all mutation goes
// through its methods. ID is assigned at creation and never reused.
type WorkflowDefinition struct {
	ID                 string    `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	SourceService      string    `json:"sourceService" yaml:"source"`
	DestinationService string    `json:"destinationService" yaml:"destination"`
	Filter             string    `json:"filter" yaml:"filter"`
	Active             bool      `json:"active" yaml:"active"`
	TransformWithModel bool      `json:"transformWithModel" yaml:"transformWithModel"`
	TargetRecipient    string    `json:"targetRecipient" yaml:"targetRecipient"`
	TargetChatID       string    `json:"targetChatId" yaml:"targetChatId"`
	CreatedAt          time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt          time.Time `json:"updatedAt" yaml:"-"`
}

// ActivityEntry is one line of the registry's bounded activity log.
type ActivityEntry struct {
	Timestamp time.Time
	Message   string
}

// String renders the entry in the fixed "[HH:MM:SS] <message>" log format.
func (e ActivityEntry) String() string {
	return "[" + e.Timestamp.Format("15:04:05") + "] " + e.Message
}
