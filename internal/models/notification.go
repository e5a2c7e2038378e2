package models

import (
	"time"
)

type NotificationType string

const (
	NotificationProposalReceived       NotificationType = "proposal_received"
	NotificationProposalAccepted       NotificationType = "proposal_accepted"
	NotificationProposalRejected       NotificationType = "proposal_rejected"
	NotificationTaskAssigned           NotificationType = "task_assigned"
	NotificationTaskCompleted          NotificationType = "task_completed"
	NotificationDeadlineApproaching    NotificationType = "deadline_approaching"
	NotificationTaskOverdue            NotificationType = "task_overdue"
	NotificationDocumentNeedsSignature NotificationType = "document_needs_signature"
	NotificationNewMessage             NotificationType = "new_message"
	NotificationVerificationApproved   NotificationType = "verification_approved"
	NotificationVerificationRejected   NotificationType = "verification_rejected"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
)

type Notification struct {
	ID        string               `bson:"_id,omitempty" json:"id,omitempty"`
	Type      NotificationType     `bson:"type" json:"type"`
	Title     string               `bson:"title" json:"title"`
	Message   string               `bson:"message" json:"message"`
	Priority  NotificationPriority `bson:"priority" json:"priority"`
	UserID    string               `bson:"user_id" json:"user_id"`
	Read      bool                 `bson:"read" json:"read"`
	ReadAt    *time.Time           `bson:"read_at,omitempty" json:"read_at,omitempty"`
	ActionURL string               `bson:"action_url,omitempty" json:"action_url,omitempty"`
	DedupKey  string               `bson:"dedup_key,omitempty" json:"-"`
	CreatedAt time.Time            `bson:"created_at" json:"created_at"`
}
