package services

import (
	"fmt"
	"time"

	"homeward/marketplace/internal/models"
)

// NotificationData carries the recipients and the fields interpolated into a notification.
type NotificationData struct {
	Recipients    []string
	ProposalID    string
	ListingID     string
	ListingTitle  string
	TransactionID string
	ServiceName   string
	TaskID        string
	TaskTitle     string
	Deadline      *time.Time
	ActorName     string
	Reason        string
	Preview       string
	ActionURL     string
	// DedupKey, when set, skips recipients who already have a notification with the same key.
	DedupKey string
	// SendEmail requests an email copy through the background worker.
	SendEmail bool
}

// NotificationPriority derives the priority from the notification type.
func NotificationPriority(t models.NotificationType) models.NotificationPriority {
	switch t {
	case models.NotificationTaskOverdue, models.NotificationDeadlineApproaching:
		return models.PriorityHigh
	case models.NotificationTaskAssigned, models.NotificationDocumentNeedsSignature:
		return models.PriorityMedium
	}
	return models.PriorityLow
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// RenderNotification produces the title and message for a notification of type t.
func RenderNotification(t models.NotificationType, d NotificationData) (title, message string) {
	task := orDefault(d.TaskTitle, "A task")
	listing := orDefault(d.ListingTitle, "your listing")
	actor := orDefault(d.ActorName, "Someone")
	due := "soon"
	if d.Deadline != nil {
		due = "on " + d.Deadline.Format("Jan 2, 2006")
	}

	switch t {
	case models.NotificationProposalReceived:
		return "New Proposal Received", fmt.Sprintf("%s sent a proposal for %s.", actor, listing)
	case models.NotificationProposalAccepted:
		return "Proposal Accepted", fmt.Sprintf("Your proposal for %s was accepted. Your transaction workspace is ready.", listing)
	case models.NotificationProposalRejected:
		msg := fmt.Sprintf("Your proposal for %s was not accepted.", listing)
		if d.Reason != "" {
			msg += " Reason: " + d.Reason
		}
		return "Proposal Not Accepted", msg
	case models.NotificationTaskAssigned:
		return "Task Assigned", fmt.Sprintf("%s has been assigned to you and is due %s.", task, due)
	case models.NotificationTaskCompleted:
		return "Task Completed", fmt.Sprintf("%s completed %q.", actor, orDefault(d.TaskTitle, "a task"))
	case models.NotificationDeadlineApproaching:
		return "Deadline Approaching", fmt.Sprintf("%s is due %s.", task, due)
	case models.NotificationTaskOverdue:
		return "Task Overdue", fmt.Sprintf("%s was due %s and is overdue.", task, due)
	case models.NotificationDocumentNeedsSignature:
		return "Signature Required", fmt.Sprintf("A document for %s needs your signature.", orDefault(d.ServiceName, "your transaction"))
	case models.NotificationNewMessage:
		msg := fmt.Sprintf("%s sent you a message.", actor)
		if d.Preview != "" {
			msg = fmt.Sprintf("%s: %s", actor, d.Preview)
		}
		return "New Message", msg
	case models.NotificationVerificationApproved:
		return "Verification Approved", "Your verification was approved."
	case models.NotificationVerificationRejected:
		msg := "Your verification was not approved."
		if d.Reason != "" {
			msg += " Notes: " + d.Reason
		}
		return "Verification Not Approved", msg
	}
	return "Notification", "You have a new notification."
}
