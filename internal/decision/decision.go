// Package decision maps a scored severity onto an operator-facing action
// directive and a notification/escalation policy.
package decision

import (
	"filewarden/internal/rules"
)

// Decision is the directive derived from a severity. It is ephemeral and
// deterministic: the same severity always yields the same decision.
type Decision struct {
	Severity    rules.Severity `json:"severity"`
	Action      string         `json:"action"`
	NotifyAdmin bool           `json:"notify_admin"`
	Escalate    bool           `json:"escalate"`
}

// Action directives per severity.
const (
	ActionLogOnly       = "Log event only"
	ActionNotify        = "Notify Admin"
	ActionNotifySuggest = "Notify Admin and suggest action"
	ActionNotifyPrepare = "Notify Admin and prepare automated action if no response"
)

// Decide returns the action directive for a severity. Total mapping: an
// unrecognized severity falls back to Low's directive rather than erroring.
//
// "Prepare automated action" records intent only; this package never
// performs a privileged side effect.
func Decide(severity rules.Severity) Decision {
	switch severity {
	case rules.SeverityLow:
		return Decision{Severity: severity, Action: ActionLogOnly}
	case rules.SeverityMedium:
		return Decision{Severity: severity, Action: ActionNotify, NotifyAdmin: true, Escalate: true}
	case rules.SeverityHigh:
		return Decision{Severity: severity, Action: ActionNotifySuggest, NotifyAdmin: true, Escalate: true}
	case rules.SeverityCritical:
		return Decision{Severity: severity, Action: ActionNotifyPrepare, NotifyAdmin: true, Escalate: true}
	default:
		return Decision{Severity: rules.SeverityLow, Action: ActionLogOnly}
	}
}
