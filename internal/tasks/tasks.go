package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/email"
	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
)

// Task types handled by the background worker.
const (
	TypeNotificationEmail = "notification:email"
	TypeDeadlineScan      = "transaction:deadline:scan"
	TypeDeadlineScanAll   = "transaction:deadline:scan_all"
)

// Queue names and their priorities.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// RedisOpt builds the asynq connection options from the Redis settings.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// --- Task Client (Enqueuing tasks) ---

// NotificationEmailPayload is the payload of TypeNotificationEmail.
type NotificationEmailPayload struct {
	NotificationID string `json:"notification_id"`
}

// DeadlineScanPayload is the payload of TypeDeadlineScan.
type DeadlineScanPayload struct {
	TransactionID string `json:"transaction_id"`
}

// NewNotificationEmailTask creates a task that emails a copy of the stored notification.
func NewNotificationEmailTask(notificationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(NotificationEmailPayload{NotificationID: notificationID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification email payload: %w", err)
	}
	return asynq.NewTask(TypeNotificationEmail, payload, asynq.MaxRetry(5), asynq.Queue(QueueDefault)), nil
}

// NewDeadlineScanTask creates a task that scans one transaction for due and overdue tasks.
func NewDeadlineScanTask(transactionID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DeadlineScanPayload{TransactionID: transactionID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deadline scan payload: %w", err)
	}
	return asynq.NewTask(TypeDeadlineScan, payload, asynq.MaxRetry(3), asynq.Queue(QueueLow)), nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues background tasks. It is the notification service's email dispatcher.
type Client struct {
	queue enqueuer
}

// NewClient connects an asynq client to the configured Redis.
func NewClient(cfg *config.Config) *Client {
	return &Client{queue: asynq.NewClient(RedisOpt(cfg))}
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.queue.Close()
}

// EnqueueNotificationEmail implements services.EmailDispatcher.
// A notification is emailed at most once; enqueueing it again is a no-op.
func (c *Client) EnqueueNotificationEmail(ctx context.Context, n *models.Notification) error {
	task, err := NewNotificationEmailTask(n.ID)
	if err != nil {
		return err
	}
	info, err := c.queue.EnqueueContext(ctx, task, asynq.TaskID("notification-email:"+n.ID))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue email for notification %s: %w", n.ID, err)
	}
	slog.Debug("Enqueued notification email", "task_id", info.ID, "notification_id", n.ID, "type", n.Type)
	return nil
}

// EnqueueDeadlineScan schedules a deadline scan of one transaction. Requests for the same
// transaction within a minute collapse into one task.
func (c *Client) EnqueueDeadlineScan(ctx context.Context, transactionID string) error {
	task, err := NewDeadlineScanTask(transactionID)
	if err != nil {
		return err
	}
	_, err = c.queue.EnqueueContext(ctx, task, asynq.Unique(time.Minute))
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue deadline scan for transaction %s: %w", transactionID, err)
	}
	return nil
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	notificationService  services.INotificationService
	userService          services.IUserService
	emailTemplateService services.IEmailTemplateService
	deadlineScanner      services.IDeadlineScanner
	now                  func() time.Time
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	notificationService services.INotificationService,
	userService services.IUserService,
	emailTemplateService services.IEmailTemplateService,
	deadlineScanner services.IDeadlineScanner,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		notificationService:  notificationService,
		userService:          userService,
		emailTemplateService: emailTemplateService,
		deadlineScanner:      deadlineScanner,
		now:                  time.Now,
	}
}

// SetupServer configures an asynq server and its handler mux. The caller runs and stops it.
func SetupServer(cfg *config.Config, processor *TaskProcessor) (*asynq.Server, *asynq.ServeMux) {
	srv := asynq.NewServer(
		RedisOpt(cfg),
		asynq.Config{
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				slog.Error("Task failed",
					"type", task.Type(),
					"payload", string(task.Payload()),
					"retry", retried,
					"max_retry", maxRetry,
					"error", err)
			}),
			Logger: newAsynqLogger(),
		},
	)
	return srv, NewServeMux(processor)
}

// NewServeMux registers every task handler of the processor.
func NewServeMux(processor *TaskProcessor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeNotificationEmail, processor.HandleNotificationEmailTask)
	mux.HandleFunc(TypeDeadlineScan, processor.HandleDeadlineScanTask)
	mux.HandleFunc(TypeDeadlineScanAll, processor.HandleDeadlineScanAllTask)
	return mux
}

// NewScheduler registers the periodic deadline scan on cfg.DeadlineScanCron.
func NewScheduler(cfg *config.Config) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   newAsynqLogger(),
	})
	entryID, err := scheduler.Register(cfg.DeadlineScanCron,
		asynq.NewTask(TypeDeadlineScanAll, nil, asynq.MaxRetry(1), asynq.Queue(QueueLow)))
	if err != nil {
		return nil, fmt.Errorf("failed to register deadline scan on %q: %w", cfg.DeadlineScanCron, err)
	}
	slog.Info("Registered periodic deadline scan", "cron", cfg.DeadlineScanCron, "entry_id", entryID)
	return scheduler, nil
}

// --- Task Handlers ---

// HandleNotificationEmailTask renders the notification with the recipient's email template and sends it.
func (p *TaskProcessor) HandleNotificationEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload NotificationEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal notification email payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.NotificationID == "" {
		return fmt.Errorf("notification email payload without notification id: %w", asynq.SkipRetry)
	}

	n, err := p.notificationService.FindNotificationByID(ctx, payload.NotificationID)
	if err != nil {
		return skipIfNotFound(err)
	}
	user, err := p.userService.FindByID(ctx, n.UserID)
	if err != nil {
		return skipIfNotFound(err)
	}
	if user.Email == "" {
		slog.Warn("Recipient has no email address, skipping", "notification_id", n.ID, "user_id", user.ID)
		return nil
	}

	subject, body, err := p.emailTemplateService.Render(ctx, string(n.Type), services.DefaultLocale, services.EmailTemplateData{
		AppName:       p.cfg.AppName,
		RecipientName: user.Name,
		Title:         n.Title,
		Message:       n.Message,
		ActionURL:     n.ActionURL,
	})
	if err != nil {
		return fmt.Errorf("failed to render email for notification %s: %v: %w", n.ID, err, asynq.SkipRetry)
	}

	from := p.cfg.SmtpFromAddress
	if from == "" {
		from = "noreply@example.com"
		slog.Warn("SmtpFromAddress not configured, using fallback", "from", from)
	}

	raw := email.BuildMessage(email.Message{
		From:             from,
		To:               []string{user.Email},
		Subject:          subject,
		Body:             body,
		NotificationType: string(n.Type),
		Date:             p.now(),
	})
	if err := p.emailSender.Send(ctx, []string{user.Email}, subject, raw); err != nil {
		return fmt.Errorf("failed to send email for notification %s: %w", n.ID, err)
	}

	slog.Info("Notification email sent", "notification_id", n.ID, "type", n.Type, "user_id", user.ID)
	return nil
}

// HandleDeadlineScanTask scans one transaction.
func (p *TaskProcessor) HandleDeadlineScanTask(ctx context.Context, t *asynq.Task) error {
	var payload DeadlineScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal deadline scan payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.TransactionID == "" {
		return fmt.Errorf("deadline scan payload without transaction id: %w", asynq.SkipRetry)
	}

	created, err := p.deadlineScanner.ScanTransaction(ctx, payload.TransactionID)
	if err != nil {
		return skipIfNotFound(err)
	}
	slog.Info("Deadline scan finished", "transaction_id", payload.TransactionID, "notifications", created)
	return nil
}

// HandleDeadlineScanAllTask scans every active transaction.
func (p *TaskProcessor) HandleDeadlineScanAllTask(ctx context.Context, t *asynq.Task) error {
	created, err := p.deadlineScanner.ScanAllActive(ctx)
	if err != nil {
		return fmt.Errorf("deadline scan of active transactions failed after %d notifications: %w", created, err)
	}
	slog.Info("Deadline scan of active transactions finished", "notifications", created)
	return nil
}

// skipIfNotFound stops retries for documents that no longer exist.
func skipIfNotFound(err error) error {
	if errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
