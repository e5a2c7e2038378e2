package services

import (
	"context"
	"fmt"
	"log/slog"

	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/models"
)

// IDeadlineScanner emits deadline notifications for transaction tasks.
type IDeadlineScanner interface {
	ScanTransaction(ctx context.Context, transactionID string) (int, error)
	ScanAllActive(ctx context.Context) (int, error)
}

type deadlineScanner struct {
	store         db.Store
	cfg           *config.Config
	now           db.Clock
	notifications INotificationService
}

// NewDeadlineScanner creates a new DeadlineScanner.
func NewDeadlineScanner(store db.Store, cfg *config.Config, notifications INotificationService) IDeadlineScanner {
	return &deadlineScanner{store: store, cfg: cfg, now: db.UTCNow, notifications: notifications}
}

// deadlineDedupKey identifies one notification of type t for a task deadline.
// Moving the deadline to another day produces a new key.
func deadlineDedupKey(t models.NotificationType, task models.Task) string {
	return fmt.Sprintf("%s:%s:%s", t, task.ID, task.Deadline.UTC().Format("2006-01-02"))
}

// ScanTransaction notifies assignees of every unfinished task whose deadline has passed
// (task_overdue) or falls within the configured window (deadline_approaching). Tasks are not
// modified. Notifications already sent for the same task and deadline are not repeated.
// It returns the number of notifications created.
func (s *deadlineScanner) ScanTransaction(ctx context.Context, transactionID string) (int, error) {
	var tx models.Transaction
	if err := s.store.Get(ctx, db.TransactionsCollection, transactionID, &tx); err != nil {
		return 0, notFound(err, "transaction", transactionID)
	}

	var services []models.TransactionService
	if err := s.store.Query(ctx, db.TransactionServicesCollection, db.Query{
		Filters: []db.Filter{db.Where("transaction_id", db.OpEq, transactionID)},
		OrderBy: "position",
	}, &services); err != nil {
		return 0, fmt.Errorf("failed to list services of transaction %s: %w", transactionID, err)
	}

	now := s.now()
	created := 0
	for _, svc := range services {
		for _, task := range svc.Tasks {
			if task.Deadline == nil || task.Status == models.TaskStatusCompleted {
				continue
			}

			var t models.NotificationType
			switch {
			case task.Deadline.Before(now):
				t = models.NotificationTaskOverdue
			case task.Deadline.Sub(now) <= s.cfg.DeadlineWindow:
				t = models.NotificationDeadlineApproaching
			default:
				continue
			}

			ids, err := s.notifications.CreateNotification(ctx, t, NotificationData{
				Recipients:    AssigneeRecipients(task.Assignee, &tx),
				TransactionID: transactionID,
				ServiceName:   svc.DisplayName,
				TaskID:        task.ID,
				TaskTitle:     task.Title,
				Deadline:      task.Deadline,
				ActionURL:     transactionURL(s.cfg, transactionID),
				DedupKey:      deadlineDedupKey(t, task),
				SendEmail:     t == models.NotificationTaskOverdue,
			})
			created += len(ids)
			if err != nil {
				return created, err
			}
		}
	}
	if created > 0 {
		slog.Info("Deadline notifications created", "transaction_id", transactionID, "count", created)
	}
	return created, nil
}

// ScanAllActive scans every active transaction. A failing transaction is logged and skipped.
func (s *deadlineScanner) ScanAllActive(ctx context.Context) (int, error) {
	var active []models.Transaction
	if err := s.store.Query(ctx, db.TransactionsCollection, db.Query{
		Filters: []db.Filter{db.Where("status", db.OpEq, models.TransactionStatusActive)},
	}, &active); err != nil {
		return 0, fmt.Errorf("failed to list active transactions: %w", err)
	}

	total := 0
	for _, tx := range active {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.ScanTransaction(ctx, tx.ID)
		total += n
		if err != nil {
			slog.Error("Deadline scan failed", "transaction_id", tx.ID, "error", err)
		}
	}
	return total, nil
}
