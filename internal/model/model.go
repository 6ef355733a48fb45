// Package model defines the durable entities shared across Filewarden:
// events, feedback, audit logs, users and the monitored folder/file tree.
package model

import (
	"time"
)

// Event types recognized by the scorer.
const (
	EventCreate = "create"
	EventModify = "modify"
	EventDelete = "delete"
)

// ValidEventType reports whether t is a recognized event type.
func ValidEventType(t string) bool {
	switch t {
	case EventCreate, EventModify, EventDelete:
		return true
	}
	return false
}

// Event is one filesystem change or user action. Created once by a
// collaborator (API write, watcher, bus consumer); the processed flag is
// set exactly once, by the orchestrator, when the scored severity is Low.
// Medium and above remain actionable while escalation is pending.
type Event struct {
	ID             int64     `json:"id"`
	EventType      string    `json:"event_type"`
	TargetFileID   *int64    `json:"target_file_id,omitempty"`
	TargetFolderID *int64    `json:"target_folder_id,omitempty"`
	TriggeredBy    *int64    `json:"triggered_by_user_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessedFlag  bool      `json:"processed_flag"`
}

// Feedback types an operator can give on a past decision.
const (
	FeedbackApprove = "approve"
	FeedbackReject  = "reject"
	FeedbackModify  = "modify"
)

// ValidFeedbackType reports whether t is a recognized feedback type.
func ValidFeedbackType(t string) bool {
	switch t {
	case FeedbackApprove, FeedbackReject, FeedbackModify:
		return true
	}
	return false
}

// Feedback is one operator verdict on a past decision. At most one per
// event; immutable once created.
type Feedback struct {
	ID                int64     `json:"id"`
	EventID           int64     `json:"event_id"`
	AdminID           *int64    `json:"admin_id,omitempty"`
	FeedbackType      string    `json:"feedback_type"`
	Comment           string    `json:"comment,omitempty"`
	SuggestedSeverity string    `json:"suggested_severity,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Audit log types written by the core.
const (
	LogAIDecision     = "AI_DECISION"
	LogNotify         = "NOTIFY"
	LogEscalate       = "ESCALATE"
	LogAIFeedback     = "AI_FEEDBACK"
	LogAILearning     = "AI_LEARNING"
	LogActionPrepared = "ACTION_PREPARED"
	LogFileMonitor    = "FILE_MONITOR"
)

// Log is an append-only audit record: the system's sole durable trace of
// decisions, notifications, escalations and learning events. Never updated
// or deleted by the core.
type Log struct {
	ID             int64     `json:"id"`
	LogType        string    `json:"log_type"`
	Message        string    `json:"message"`
	RelatedEventID *int64    `json:"related_event_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// User roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User is a registered operator or administrator.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// IsAdmin reports whether the user may mutate rules and submit feedback.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Folder is a monitored directory owned by a user.
type Folder struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	OwnerID    int64      `json:"owner_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// File is a registered file inside a monitored folder.
type File struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	FolderID   int64      `json:"folder_id"`
	OwnerID    int64      `json:"owner_id"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
	Hash       string     `json:"hash,omitempty"`
}
