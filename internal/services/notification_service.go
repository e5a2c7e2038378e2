package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/utils"
)

// EmailDispatcher queues an email copy of a stored notification.
type EmailDispatcher interface {
	EnqueueNotificationEmail(ctx context.Context, n *models.Notification) error
}

// INotificationService defines the interface for in-app notifications.
type INotificationService interface {
	CreateNotification(ctx context.Context, t models.NotificationType, data NotificationData) ([]string, error)
	FindNotificationByID(ctx context.Context, notificationID string) (*models.Notification, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int, cursor *PageCursor) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID, userID string) error
	MarkAllRead(ctx context.Context, userID string) (int, error)
	SetEmailDispatcher(d EmailDispatcher)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

type notificationService struct {
	store  db.Store
	now    db.Clock
	emails EmailDispatcher
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store db.Store) INotificationService {
	return &notificationService{store: store, now: db.UTCNow}
}

// SetEmailDispatcher allows wiring the background task client after initialization.
func (s *notificationService) SetEmailDispatcher(d EmailDispatcher) {
	s.emails = d
}

// CreateNotification writes one notification per recipient and returns the new ids.
// Recipients already holding a notification with data.DedupKey are skipped; such notifications are keyed
// by recipient and dedup key, so concurrent writers cannot both store one.
func (s *notificationService) CreateNotification(ctx context.Context, t models.NotificationType, data NotificationData) ([]string, error) {
	if len(data.Recipients) == 0 {
		return nil, nil
	}

	title, message := RenderNotification(t, data)
	priority := NotificationPriority(t)

	ids := make([]string, 0, len(data.Recipients))
	for _, userID := range data.Recipients {
		if userID == "" {
			continue
		}
		n := &models.Notification{
			Type:      t,
			Title:     title,
			Message:   message,
			Priority:  priority,
			UserID:    userID,
			Read:      false,
			ActionURL: data.ActionURL,
			DedupKey:  data.DedupKey,
			CreatedAt: s.now(),
		}
		if data.DedupKey != "" {
			n.ID = utils.DeriveID("notification", userID, data.DedupKey)
		}
		id, err := s.store.Add(ctx, db.NotificationsCollection, n)
		if errors.Is(err, db.ErrDuplicateID) {
			slog.Debug("Notification already sent", "type", t, "user_id", userID, "dedup_key", data.DedupKey)
			continue
		}
		if err != nil {
			return ids, fmt.Errorf("failed to create %s notification for user %s: %w", t, userID, err)
		}
		n.ID = id
		ids = append(ids, id)

		if data.SendEmail && s.emails != nil {
			if err := s.emails.EnqueueNotificationEmail(ctx, n); err != nil {
				slog.Warn("Failed to enqueue notification email", "notification_id", id, "user_id", userID, "error", err)
			}
		}
	}
	return ids, nil
}

func (s *notificationService) FindNotificationByID(ctx context.Context, notificationID string) (*models.Notification, error) {
	var n models.Notification
	if err := s.store.Get(ctx, db.NotificationsCollection, notificationID, &n); err != nil {
		return nil, notFound(err, "notification", notificationID)
	}
	return &n, nil
}

// ListNotifications returns the user's notifications, newest first.
// cursor points at the last notification of the previous page.
func (s *notificationService) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int, cursor *PageCursor) ([]models.Notification, error) {
	q := db.Query{
		Filters:    []db.Filter{db.Where("user_id", db.OpEq, userID)},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      pageSize(limit),
	}
	if unreadOnly {
		q.Filters = append(q.Filters, db.Where("read", db.OpEq, false))
	}
	cursor.apply(&q)

	notifications := []models.Notification{}
	if err := s.store.Query(ctx, db.NotificationsCollection, q, &notifications); err != nil {
		return nil, fmt.Errorf("failed to list notifications for user %s: %w", userID, err)
	}
	return notifications, nil
}

// MarkRead marks a notification read. Only its recipient may do so.
func (s *notificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	n, err := s.FindNotificationByID(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return fmt.Errorf("notification %s does not belong to user %s: %w", notificationID, userID, ErrUnauthorized)
	}
	if n.Read {
		return nil
	}
	return s.store.Set(ctx, db.NotificationsCollection, notificationID, db.Fields{
		"read":    true,
		"read_at": s.now(),
	}, true)
}

// MarkAllRead marks every unread notification of the user read and returns how many changed.
func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	var unread []models.Notification
	err := s.store.Query(ctx, db.NotificationsCollection, db.Query{
		Filters: []db.Filter{
			db.Where("user_id", db.OpEq, userID),
			db.Where("read", db.OpEq, false),
		},
	}, &unread)
	if err != nil {
		return 0, fmt.Errorf("failed to list unread notifications for user %s: %w", userID, err)
	}

	now := s.now()
	changed := 0
	for _, n := range unread {
		ok, err := s.store.UpdateWhere(ctx, db.NotificationsCollection, n.ID,
			[]db.Filter{db.Where("read", db.OpEq, false)},
			db.Fields{"read": true, "read_at": now})
		if err != nil {
			return changed, fmt.Errorf("failed to mark notification %s read: %w", n.ID, err)
		}
		if ok {
			changed++
		}
	}
	return changed, nil
}
