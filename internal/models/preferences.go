package models

// NotificationPreferences are one recipient's delivery settings.
// Quiet hours are hours of the day; nil start disables them.
type NotificationPreferences struct {
	Recipient          string `json:"recipient"`
	EmailEnabled       bool   `json:"email_enabled"`
	SlackEnabled       bool   `json:"slack_enabled"`
	CriticalEnabled    bool   `json:"critical_enabled"`
	OpportunityEnabled bool   `json:"opportunity_enabled"`
	ExecutionEnabled   bool   `json:"execution_enabled"`
	DigestEnabled      bool   `json:"digest_enabled"`
	QuietHoursStart    *int   `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd      *int   `json:"quiet_hours_end,omitempty"`
}

// DefaultNotificationPreferences enables every channel and category.
func DefaultNotificationPreferences(recipient string) *NotificationPreferences {
	return &NotificationPreferences{
		Recipient:          recipient,
		EmailEnabled:       true,
		SlackEnabled:       true,
		CriticalEnabled:    true,
		OpportunityEnabled: true,
		ExecutionEnabled:   true,
		DigestEnabled:      true,
	}
}
