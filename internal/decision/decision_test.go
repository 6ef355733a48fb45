package decision

import (
	"testing"

	"filewarden/internal/rules"
)

func TestDecideMapping(t *testing.T) {
	tests := []struct {
		severity rules.Severity
		action   string
		notify   bool
		escalate bool
	}{
		{rules.SeverityLow, ActionLogOnly, false, false},
		{rules.SeverityMedium, ActionNotify, true, true},
		{rules.SeverityHigh, ActionNotifySuggest, true, true},
		{rules.SeverityCritical, ActionNotifyPrepare, true, true},
	}

	for _, tt := range tests {
		d := Decide(tt.severity)
		if d.Action != tt.action {
			t.Errorf("Decide(%s).Action = %q, want %q", tt.severity, d.Action, tt.action)
		}
		if d.NotifyAdmin != tt.notify {
			t.Errorf("Decide(%s).NotifyAdmin = %v, want %v", tt.severity, d.NotifyAdmin, tt.notify)
		}
		if d.Escalate != tt.escalate {
			t.Errorf("Decide(%s).Escalate = %v, want %v", tt.severity, d.Escalate, tt.escalate)
		}
		if d.Severity != tt.severity {
			t.Errorf("Decide(%s).Severity = %q, want input echoed", tt.severity, d.Severity)
		}
	}
}

func TestDecideUnrecognizedFallsBackToLow(t *testing.T) {
	d := Decide(rules.Severity("Catastrophic"))

	if d.Severity != rules.SeverityLow {
		t.Errorf("severity = %q, want Low fallback", d.Severity)
	}
	if d.Action != ActionLogOnly || d.NotifyAdmin || d.Escalate {
		t.Errorf("unrecognized severity must decide log-only, got %+v", d)
	}
}
