package handlers_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
)

// --- Mock User Service ---
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Register(ctx context.Context, email, name, password string, role models.Role) (*models.User, error) {
	args := m.Called(ctx, email, name, password, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByID(ctx context.Context, userID string) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserService) SetVerified(ctx context.Context, userID string, kind models.VerificationKind, verified bool) error {
	args := m.Called(ctx, userID, kind, verified)
	return args.Error(0)
}

// --- Mock Listing Service ---
type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) CreateListing(ctx context.Context, userID string, listingType models.ListingType, in services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, userID, listingType, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingType models.ListingType, listingID string) (*models.Listing, error) {
	args := m.Called(ctx, listingType, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingType models.ListingType, listingID, userID string, update services.ListingUpdate) (*models.Listing, error) {
	args := m.Called(ctx, listingType, listingID, userID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) SetListingStatus(ctx context.Context, listingType models.ListingType, listingID, userID string, status models.ListingStatus) error {
	args := m.Called(ctx, listingType, listingID, userID, status)
	return args.Error(0)
}

func (m *MockListingService) SearchListings(ctx context.Context, search services.ListingSearch) ([]models.Listing, *services.PageCursor, error) {
	args := m.Called(ctx, search)
	var listings []models.Listing
	if args.Get(0) != nil {
		listings = args.Get(0).([]models.Listing)
	}
	var cursor *services.PageCursor
	if args.Get(1) != nil {
		cursor = args.Get(1).(*services.PageCursor)
	}
	return listings, cursor, args.Error(2)
}

func (m *MockListingService) ListListingsByUser(ctx context.Context, listingType models.ListingType, userID string) ([]models.Listing, error) {
	args := m.Called(ctx, listingType, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Listing), args.Error(1)
}

// --- Mock Proposal Service ---
type MockProposalService struct {
	mock.Mock
}

func (m *MockProposalService) SubmitProposal(ctx context.Context, agentID string, in services.ProposalInput) (*models.Proposal, error) {
	args := m.Called(ctx, agentID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *MockProposalService) FindProposalByID(ctx context.Context, proposalID string) (*models.Proposal, error) {
	args := m.Called(ctx, proposalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Proposal), args.Error(1)
}

func (m *MockProposalService) ListProposalsForListing(ctx context.Context, listingType models.ListingType, listingID, actingUserID string) ([]models.Proposal, error) {
	args := m.Called(ctx, listingType, listingID, actingUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Proposal), args.Error(1)
}

func (m *MockProposalService) ListProposalsByAgent(ctx context.Context, agentID string) ([]models.Proposal, error) {
	args := m.Called(ctx, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Proposal), args.Error(1)
}

func (m *MockProposalService) AcceptProposal(ctx context.Context, proposalID, actingUserID string) (string, error) {
	args := m.Called(ctx, proposalID, actingUserID)
	return args.String(0), args.Error(1)
}

func (m *MockProposalService) RejectProposal(ctx context.Context, proposalID, actingUserID, reason string) error {
	args := m.Called(ctx, proposalID, actingUserID, reason)
	return args.Error(0)
}

// --- Mock Transaction Service ---
type MockTransactionService struct {
	mock.Mock
}

func (m *MockTransactionService) CreateTransaction(ctx context.Context, proposal *models.Proposal, clientID, agentID string) (string, error) {
	args := m.Called(ctx, proposal, clientID, agentID)
	return args.String(0), args.Error(1)
}

func (m *MockTransactionService) FindTransactionByID(ctx context.Context, transactionID, actingUserID string, isAdmin bool) (*models.Transaction, error) {
	args := m.Called(ctx, transactionID, actingUserID, isAdmin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

func (m *MockTransactionService) ListTransactionsForUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Transaction), args.Error(1)
}

func (m *MockTransactionService) ListServices(ctx context.Context, transactionID, actingUserID string, isAdmin bool) ([]models.TransactionService, error) {
	args := m.Called(ctx, transactionID, actingUserID, isAdmin)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TransactionService), args.Error(1)
}

func (m *MockTransactionService) UpdateTaskStatus(ctx context.Context, serviceID, taskID, actingUserID string, status models.TaskStatus) (*models.TransactionService, error) {
	args := m.Called(ctx, serviceID, taskID, actingUserID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionService), args.Error(1)
}

func (m *MockTransactionService) SetTaskDeadline(ctx context.Context, serviceID, taskID, actingUserID string, deadline time.Time) (*models.TransactionService, error) {
	args := m.Called(ctx, serviceID, taskID, actingUserID, deadline)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TransactionService), args.Error(1)
}

func (m *MockTransactionService) UpdateTransactionStatus(ctx context.Context, transactionID, actingUserID string, status models.TransactionStatus) error {
	args := m.Called(ctx, transactionID, actingUserID, status)
	return args.Error(0)
}

// --- Mock Notification Service ---
type MockNotificationService struct {
	mock.Mock
}

func (m *MockNotificationService) CreateNotification(ctx context.Context, t models.NotificationType, data services.NotificationData) ([]string, error) {
	args := m.Called(ctx, t, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockNotificationService) FindNotificationByID(ctx context.Context, notificationID string) (*models.Notification, error) {
	args := m.Called(ctx, notificationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Notification), args.Error(1)
}

func (m *MockNotificationService) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int, cursor *services.PageCursor) ([]models.Notification, error) {
	args := m.Called(ctx, userID, unreadOnly, limit, cursor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *MockNotificationService) MarkRead(ctx context.Context, notificationID, userID string) error {
	args := m.Called(ctx, notificationID, userID)
	return args.Error(0)
}

func (m *MockNotificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockNotificationService) SetEmailDispatcher(d services.EmailDispatcher) {
	m.Called(d)
}

// --- Mock Deadline Scanner ---
type MockDeadlineScanner struct {
	mock.Mock
}

func (m *MockDeadlineScanner) ScanTransaction(ctx context.Context, transactionID string) (int, error) {
	args := m.Called(ctx, transactionID)
	return args.Int(0), args.Error(1)
}

func (m *MockDeadlineScanner) ScanAllActive(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// --- Mock Deadline Queue ---
type MockDeadlineQueue struct {
	mock.Mock
}

func (m *MockDeadlineQueue) EnqueueDeadlineScan(ctx context.Context, transactionID string) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}
