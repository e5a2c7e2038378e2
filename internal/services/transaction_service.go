package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"homeward/marketplace/internal/catalog"
	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/events"
	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/utils"
)

const (
	defaultPropertyAddress = "Property Address"
	maxTaskUpdateAttempts  = 3
)

// ITransactionService bootstraps transaction workspaces and manages their task checklists.
type ITransactionService interface {
	CreateTransaction(ctx context.Context, proposal *models.Proposal, clientID, agentID string) (string, error)
	FindTransactionByID(ctx context.Context, transactionID, actingUserID string, isAdmin bool) (*models.Transaction, error)
	ListTransactionsForUser(ctx context.Context, userID string) ([]models.Transaction, error)
	ListServices(ctx context.Context, transactionID, actingUserID string, isAdmin bool) ([]models.TransactionService, error)
	UpdateTaskStatus(ctx context.Context, serviceID, taskID, actingUserID string, status models.TaskStatus) (*models.TransactionService, error)
	SetTaskDeadline(ctx context.Context, serviceID, taskID, actingUserID string, deadline time.Time) (*models.TransactionService, error)
	UpdateTransactionStatus(ctx context.Context, transactionID, actingUserID string, status models.TransactionStatus) error
}

type transactionService struct {
	store         db.Store
	cfg           *config.Config
	now           db.Clock
	catalog       *catalog.Catalog
	listings      IListingService
	notifications INotificationService
	events        events.Publisher
}

// NewTransactionService creates a new TransactionService.
func NewTransactionService(store db.Store, cfg *config.Config, cat *catalog.Catalog, listings IListingService, notifications INotificationService, publisher events.Publisher) ITransactionService {
	return &transactionService{
		store:         store,
		cfg:           cfg,
		now:           db.UTCNow,
		catalog:       cat,
		listings:      listings,
		notifications: notifications,
		events:        publisher,
	}
}

// propertyDetailsFor snapshots the listing. A nil listing yields the defaults.
func propertyDetailsFor(listing *models.Listing) models.PropertyDetails {
	details := models.PropertyDetails{Address: defaultPropertyAddress}
	if listing == nil {
		return details
	}
	switch listing.Type {
	case models.ListingTypeSeller:
		if addr := listing.Address.Format(); addr != "" {
			details.Address = addr
		}
		details.Price = listing.Price
	case models.ListingTypeBuyer:
		if listing.Location != "" {
			details.Address = listing.Location
		}
		details.Price = listing.BudgetMax
	}
	return details
}

// CreateTransaction creates the transaction for an accepted proposal along with one service document per
// entry of proposal.Services, then links the transaction back to the proposal. Re-running it for the same
// proposal reuses the transaction and only creates missing services.
//
// The transaction ID is derived from the proposal ID and service IDs from the transaction ID and position,
// so concurrent calls for one proposal converge on the same documents.
func (s *transactionService) CreateTransaction(ctx context.Context, proposal *models.Proposal, clientID, agentID string) (string, error) {
	txID := TransactionIDFor(proposal.ID)

	var tx models.Transaction
	created := false
	err := s.store.Get(ctx, db.TransactionsCollection, txID, &tx)
	switch {
	case err == nil:
	case errors.Is(err, db.ErrNotFound):
		if tx, created, err = s.insertTransaction(ctx, txID, proposal, clientID, agentID); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("failed to look up transaction for proposal %s: %w", proposal.ID, err)
	}

	if err := s.seedServices(ctx, txID, proposal.Services, tx.Timeline.ProposalAccepted); err != nil {
		return "", err
	}

	if err := s.store.Set(ctx, db.ProposalsCollection, proposal.ID, db.Fields{
		"transaction_id": txID,
		"updated_at":     s.now(),
	}, true); err != nil {
		return "", fmt.Errorf("failed to link transaction %s to proposal %s: %w", txID, proposal.ID, err)
	}
	proposal.TransactionID = txID

	if created {
		slog.Info("Transaction created", "transaction_id", txID, "proposal_id", proposal.ID, "services", len(proposal.Services))
		if err := s.events.Publish(ctx, events.New(events.TransactionCreated, map[string]interface{}{
			"transaction_id": txID,
			"proposal_id":    proposal.ID,
			"client_id":      clientID,
			"agent_id":       agentID,
		})); err != nil {
			slog.Warn("Failed to publish event", "type", events.TransactionCreated, "transaction_id", txID, "error", err)
		}
	}
	return txID, nil
}

// TransactionIDFor returns the ID of the transaction created for proposalID.
func TransactionIDFor(proposalID string) string {
	return utils.DeriveID("transaction", proposalID)
}

func transactionServiceID(txID string, position int) string {
	return utils.DeriveID("transactionService", txID, strconv.Itoa(position))
}

// insertTransaction writes a new transaction for proposal. When a concurrent call wrote it first the stored
// one is returned and created is false.
func (s *transactionService) insertTransaction(ctx context.Context, txID string, proposal *models.Proposal, clientID, agentID string) (models.Transaction, bool, error) {
	listing, err := s.listings.FindListingByID(ctx, proposal.ListingType, proposal.ListingID)
	if err != nil {
		slog.Warn("Could not load listing for transaction snapshot, using defaults",
			"proposal_id", proposal.ID, "listing_id", proposal.ListingID, "error", err)
		listing = nil
	}

	now := s.now()
	tx := models.Transaction{
		ID:              txID,
		ProposalID:      proposal.ID,
		ListingID:       proposal.ListingID,
		ListingType:     proposal.ListingType,
		ClientID:        clientID,
		AgentID:         agentID,
		Status:          models.TransactionStatusActive,
		FeeStructure:    proposal.FeeStructure,
		CommissionRate:  proposal.CommissionRate,
		FlatFee:         proposal.FlatFee,
		PropertyDetails: propertyDetailsFor(listing),
		Timeline: models.Timeline{
			ProposalAccepted: now,
			ExpectedClosing:  now.AddDate(0, 0, s.cfg.ExpectedClosingDays),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.store.Add(ctx, db.TransactionsCollection, &tx); err != nil {
		if !errors.Is(err, db.ErrDuplicateID) {
			return tx, false, fmt.Errorf("failed to create transaction for proposal %s: %w", proposal.ID, err)
		}
		var existing models.Transaction
		if err := s.store.Get(ctx, db.TransactionsCollection, txID, &existing); err != nil {
			return tx, false, fmt.Errorf("failed to load transaction %s: %w", txID, err)
		}
		return existing, false, nil
	}
	return tx, true, nil
}

// seedServices creates the service document of every position of names that does not have one yet.
func (s *transactionService) seedServices(ctx context.Context, txID string, names []string, now time.Time) error {
	for i, name := range names {
		svc := &models.TransactionService{
			ID:            transactionServiceID(txID, i),
			TransactionID: txID,
			Position:      i,
			ServiceName:   name,
			DisplayName:   s.catalog.DisplayName(name),
			Status:        models.TaskStatusPending,
			Tasks:         s.catalog.Tasks(name, now),
			CreatedAt:     now,
		}
		if _, err := s.store.Add(ctx, db.TransactionServicesCollection, svc); err != nil && !errors.Is(err, db.ErrDuplicateID) {
			return fmt.Errorf("failed to create service %s for transaction %s: %w", name, txID, err)
		}
	}
	return nil
}

// userName returns the user's display name, or "" when it cannot be loaded.
func (s *transactionService) userName(ctx context.Context, userID string) string {
	var user models.User
	if err := s.store.Get(ctx, db.UsersCollection, userID, &user); err != nil {
		slog.Warn("Could not load user name", "user_id", userID, "error", err)
		return ""
	}
	return user.Name
}

func (s *transactionService) load(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.store.Get(ctx, db.TransactionsCollection, transactionID, &tx); err != nil {
		return nil, notFound(err, "transaction", transactionID)
	}
	return &tx, nil
}

// FindTransactionByID returns the transaction if the acting user takes part in it or is an admin.
func (s *transactionService) FindTransactionByID(ctx context.Context, transactionID, actingUserID string, isAdmin bool) (*models.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if !isAdmin && !tx.IsParticipant(actingUserID) {
		return nil, fmt.Errorf("user %s is not part of transaction %s: %w", actingUserID, transactionID, ErrUnauthorized)
	}
	return tx, nil
}

// ListTransactionsForUser returns the transactions where the user is client or agent, newest first.
func (s *transactionService) ListTransactionsForUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	var asClient, asAgent []models.Transaction
	for field, out := range map[string]*[]models.Transaction{"client_id": &asClient, "agent_id": &asAgent} {
		if err := s.store.Query(ctx, db.TransactionsCollection, db.Query{
			Filters:    []db.Filter{db.Where(field, db.OpEq, userID)},
			OrderBy:    "created_at",
			Descending: true,
		}, out); err != nil {
			return nil, fmt.Errorf("failed to list transactions for user %s: %w", userID, err)
		}
	}

	merged := make([]models.Transaction, 0, len(asClient)+len(asAgent))
	i, j := 0, 0
	for i < len(asClient) || j < len(asAgent) {
		if j >= len(asAgent) || (i < len(asClient) && !asClient[i].CreatedAt.Before(asAgent[j].CreatedAt)) {
			merged = append(merged, asClient[i])
			i++
		} else {
			merged = append(merged, asAgent[j])
			j++
		}
	}
	return merged, nil
}

// ListServices returns the transaction's services in proposal order.
func (s *transactionService) ListServices(ctx context.Context, transactionID, actingUserID string, isAdmin bool) ([]models.TransactionService, error) {
	if _, err := s.FindTransactionByID(ctx, transactionID, actingUserID, isAdmin); err != nil {
		return nil, err
	}
	services := []models.TransactionService{}
	if err := s.store.Query(ctx, db.TransactionServicesCollection, db.Query{
		Filters: []db.Filter{db.Where("transaction_id", db.OpEq, transactionID)},
		OrderBy: "position",
	}, &services); err != nil {
		return nil, fmt.Errorf("failed to list services of transaction %s: %w", transactionID, err)
	}
	return services, nil
}

// recomputeServiceStatus derives the service status from its tasks.
func recomputeServiceStatus(svc *models.TransactionService, now time.Time) {
	completed, started := 0, 0
	for _, t := range svc.Tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
			started++
		case models.TaskStatusInProgress:
			started++
		}
	}

	switch {
	case len(svc.Tasks) > 0 && completed == len(svc.Tasks):
		svc.Status = models.TaskStatusCompleted
		if svc.StartedAt == nil {
			svc.StartedAt = &now
		}
		if svc.CompletedAt == nil {
			svc.CompletedAt = &now
		}
	case started > 0:
		svc.Status = models.TaskStatusInProgress
		if svc.StartedAt == nil {
			svc.StartedAt = &now
		}
		svc.CompletedAt = nil
	default:
		svc.Status = models.TaskStatusPending
		svc.CompletedAt = nil
	}
}

// mutateTask loads the service, checks access, applies change to the task and writes the service back
// if nobody changed it in between. It retries on concurrent modification.
func (s *transactionService) mutateTask(ctx context.Context, serviceID, taskID, actingUserID string,
	authorize func(tx *models.Transaction) error,
	change func(task *models.Task, now time.Time),
) (*models.TransactionService, *models.Transaction, models.Task, error) {
	for attempt := 0; attempt < maxTaskUpdateAttempts; attempt++ {
		var svc models.TransactionService
		if err := s.store.Get(ctx, db.TransactionServicesCollection, serviceID, &svc); err != nil {
			return nil, nil, models.Task{}, notFound(err, "service", serviceID)
		}
		tx, err := s.load(ctx, svc.TransactionID)
		if err != nil {
			return nil, nil, models.Task{}, err
		}
		if err := authorize(tx); err != nil {
			return nil, nil, models.Task{}, err
		}
		if tx.Status != models.TransactionStatusActive {
			return nil, nil, models.Task{}, fmt.Errorf("transaction %s is %s: %w", tx.ID, tx.Status, ErrInvalidState)
		}
		idx := svc.FindTask(taskID)
		if idx < 0 {
			return nil, nil, models.Task{}, fmt.Errorf("task %s in service %s: %w", taskID, serviceID, ErrNotFound)
		}

		before := svc.Tasks[idx]
		now := s.now()
		change(&svc.Tasks[idx], now)
		recomputeServiceStatus(&svc, now)

		ok, err := s.store.UpdateWhere(ctx, db.TransactionServicesCollection, serviceID,
			[]db.Filter{db.Where("version", db.OpEq, svc.Version)},
			db.Fields{
				"tasks":        svc.Tasks,
				"status":       svc.Status,
				"started_at":   svc.StartedAt,
				"completed_at": svc.CompletedAt,
				"version":      svc.Version + 1,
			})
		if err != nil {
			return nil, nil, models.Task{}, fmt.Errorf("failed to update service %s: %w", serviceID, err)
		}
		if ok {
			svc.Version++
			return &svc, tx, before, nil
		}
		slog.Debug("Service changed concurrently, retrying", "service_id", serviceID, "attempt", attempt+1)
	}
	return nil, nil, models.Task{}, fmt.Errorf("service %s kept changing: %w", serviceID, ErrConflict)
}

func (s *transactionService) participantOnly(actingUserID string) func(tx *models.Transaction) error {
	return func(tx *models.Transaction) error {
		if !tx.IsParticipant(actingUserID) {
			return fmt.Errorf("user %s is not part of transaction %s: %w", actingUserID, tx.ID, ErrUnauthorized)
		}
		return nil
	}
}

// UpdateTaskStatus changes a task's status and recomputes the service status. When a task becomes
// completed the other party is notified.
func (s *transactionService) UpdateTaskStatus(ctx context.Context, serviceID, taskID, actingUserID string, status models.TaskStatus) (*models.TransactionService, error) {
	if !status.Valid() {
		return nil, validationErr("invalid task status %q", status)
	}

	svc, tx, before, err := s.mutateTask(ctx, serviceID, taskID, actingUserID, s.participantOnly(actingUserID),
		func(task *models.Task, now time.Time) {
			task.Status = status
			if status == models.TaskStatusCompleted {
				if task.CompletedAt == nil {
					task.CompletedAt = &now
				}
			} else {
				task.CompletedAt = nil
			}
		})
	if err != nil {
		return nil, err
	}

	if status == models.TaskStatusCompleted && before.Status != models.TaskStatusCompleted {
		counterpart := tx.AgentID
		if actingUserID == tx.AgentID {
			counterpart = tx.ClientID
		}
		if _, err := s.notifications.CreateNotification(ctx, models.NotificationTaskCompleted, NotificationData{
			Recipients:    []string{counterpart},
			ActorName:     s.userName(ctx, actingUserID),
			TransactionID: tx.ID,
			ServiceName:   svc.DisplayName,
			TaskID:        taskID,
			TaskTitle:     before.Title,
			ActionURL:     transactionURL(s.cfg, tx.ID),
		}); err != nil {
			slog.Warn("Failed to notify task completion", "transaction_id", tx.ID, "task_id", taskID, "error", err)
		}
	}
	return svc, nil
}

// SetTaskDeadline sets a task's deadline. Only the agent may do so; the task's assignees are notified.
func (s *transactionService) SetTaskDeadline(ctx context.Context, serviceID, taskID, actingUserID string, deadline time.Time) (*models.TransactionService, error) {
	if deadline.IsZero() {
		return nil, validationErr("deadline is required")
	}
	deadline = deadline.UTC()

	svc, tx, before, err := s.mutateTask(ctx, serviceID, taskID, actingUserID,
		func(tx *models.Transaction) error {
			if tx.AgentID != actingUserID {
				return fmt.Errorf("only the agent may set deadlines on transaction %s: %w", tx.ID, ErrUnauthorized)
			}
			return nil
		},
		func(task *models.Task, _ time.Time) {
			task.Deadline = &deadline
		})
	if err != nil {
		return nil, err
	}

	var recipients []string
	for _, id := range AssigneeRecipients(before.Assignee, tx) {
		if id != actingUserID {
			recipients = append(recipients, id)
		}
	}
	if _, err := s.notifications.CreateNotification(ctx, models.NotificationTaskAssigned, NotificationData{
		Recipients:    recipients,
		TransactionID: tx.ID,
		ServiceName:   svc.DisplayName,
		TaskID:        taskID,
		TaskTitle:     before.Title,
		Deadline:      &deadline,
		ActionURL:     transactionURL(s.cfg, tx.ID),
		SendEmail:     true,
	}); err != nil {
		slog.Warn("Failed to notify task assignment", "transaction_id", tx.ID, "task_id", taskID, "error", err)
	}
	return svc, nil
}

// UpdateTransactionStatus closes an active transaction as completed or cancelled.
func (s *transactionService) UpdateTransactionStatus(ctx context.Context, transactionID, actingUserID string, status models.TransactionStatus) error {
	if status != models.TransactionStatusCompleted && status != models.TransactionStatusCancelled {
		return validationErr("invalid transaction status %q", status)
	}
	if _, err := s.FindTransactionByID(ctx, transactionID, actingUserID, false); err != nil {
		return err
	}
	ok, err := s.store.UpdateWhere(ctx, db.TransactionsCollection, transactionID,
		[]db.Filter{db.Where("status", db.OpEq, models.TransactionStatusActive)},
		db.Fields{"status": status, "updated_at": s.now()})
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", transactionID, err)
	}
	if !ok {
		return fmt.Errorf("transaction %s is no longer active: %w", transactionID, ErrInvalidState)
	}
	return nil
}

// AssigneeRecipients maps a task assignee to user ids of the transaction.
func AssigneeRecipients(a models.Assignee, tx *models.Transaction) []string {
	switch a {
	case models.AssigneeAgent:
		return []string{tx.AgentID}
	case models.AssigneeClient:
		return []string{tx.ClientID}
	case models.AssigneeBoth:
		return []string{tx.AgentID, tx.ClientID}
	}
	return nil
}

func transactionURL(cfg *config.Config, transactionID string) string {
	return fmt.Sprintf("%s/transactions/%s", cfg.AppBaseURL, transactionID)
}
