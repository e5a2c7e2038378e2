package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"homeward/marketplace/internal/api/handlers"
	"homeward/marketplace/internal/auth"
	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
)

type apiHarness struct {
	cfg           *config.Config
	users         *MockUserService
	listings      *MockListingService
	proposals     *MockProposalService
	transactions  *MockTransactionService
	notifications *MockNotificationService
	deadlines     *MockDeadlineScanner
	router        *gin.Engine
}

func newAPIHarness(t *testing.T, queue handlers.DeadlineScanQueue) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &apiHarness{
		cfg:           config.Defaults(),
		users:         new(MockUserService),
		listings:      new(MockListingService),
		proposals:     new(MockProposalService),
		transactions:  new(MockTransactionService),
		notifications: new(MockNotificationService),
		deadlines:     new(MockDeadlineScanner),
	}
	handler := handlers.NewJsonApiHandler(h.cfg, handlers.Services{
		Users:         h.users,
		Listings:      h.listings,
		Proposals:     h.proposals,
		Transactions:  h.transactions,
		Notifications: h.notifications,
		Deadlines:     h.deadlines,
	}, queue)
	h.router = gin.New()
	h.router.POST("/v1/api", handler.HandleRequest)
	return h
}

func (h *apiHarness) token(t *testing.T, userID string, role models.Role, isAdmin bool) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, string(role), isAdmin, h.cfg.JwtSecret, time.Hour)
	require.NoError(t, err)
	return token
}

func (h *apiHarness) call(t *testing.T, token, method string, args ...interface{}) handlers.JsonApiResponse {
	t.Helper()
	payload := map[string]interface{}{"method": method}
	if args != nil {
		payload["arguments"] = args
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/api", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	h.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.JsonApiResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// decodeData re-decodes the generic Data field into out.
func decodeData(t *testing.T, resp handlers.JsonApiResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestJsonApi_Ping(t *testing.T) {
	h := newAPIHarness(t, nil)
	resp := h.call(t, "", "ping")
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Data)
}

func TestJsonApi_MalformedRequests(t *testing.T) {
	h := newAPIHarness(t, nil)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/api", bytes.NewBufferString("{"))
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid JSON request format")

	resp := h.call(t, "", "doesNotExist")
	assert.False(t, resp.Success)
	assert.Equal(t, "Unknown method: doesNotExist", resp.Error)
}

func TestJsonApi_AuthRequired(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp := h.call(t, "", "listMyTransactions")
	assert.False(t, resp.Success)
	assert.Equal(t, "Authorization header required", resp.Error)

	resp = h.call(t, "not-a-jwt", "listMyTransactions")
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid or expired token", resp.Error)

	h.transactions.AssertNotCalled(t, "ListTransactionsForUser", mock.Anything, mock.Anything)
}

func TestJsonApi_AdminRequired(t *testing.T) {
	h := newAPIHarness(t, nil)

	resp := h.call(t, h.token(t, "USERAAAAAA", models.RoleSeller, false), "listPendingVerifications", map[string]string{"kind": "agent"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Administrator privileges required", resp.Error)
}

func TestJsonApi_PublicMethodIgnoresBadToken(t *testing.T) {
	h := newAPIHarness(t, nil)
	resp := h.call(t, "stale-token", "ping")
	assert.True(t, resp.Success)
}

func TestJsonApi_Register(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.users.On("Register", mock.Anything, "sam@example.com", "Sam", "password1", models.RoleSeller).
		Return(&models.User{ID: "USERAAAAAA", Email: "sam@example.com", Role: models.RoleSeller}, nil)

	resp := h.call(t, "", "register", handlers.RegisterArgs{Email: "sam@example.com", Name: "Sam", Password: "password1", Role: models.RoleSeller})
	require.True(t, resp.Success, resp.Error)

	var authResp handlers.AuthResponse
	decodeData(t, resp, &authResp)
	assert.Equal(t, "USERAAAAAA", authResp.ID)
	assert.Equal(t, models.RoleSeller, authResp.Role)

	claims, err := auth.ValidateJWT(authResp.Token, h.cfg.JwtSecret)
	require.NoError(t, err)
	assert.Equal(t, "USERAAAAAA", claims.UserID)
	assert.Equal(t, "seller", claims.Role)
	h.users.AssertExpectations(t)
}

func TestJsonApi_RegisterDuplicateEmail(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.users.On("Register", mock.Anything, "sam@example.com", "Sam", "password1", models.RoleSeller).Return(nil, services.ErrEmailExists)

	resp := h.call(t, "", "register", handlers.RegisterArgs{Email: "sam@example.com", Name: "Sam", Password: "password1", Role: models.RoleSeller})
	assert.False(t, resp.Success)
	assert.Equal(t, services.ErrEmailExists.Error(), resp.Error)
}

func TestJsonApi_LoginWrongPassword(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.users.On("Authenticate", mock.Anything, "sam@example.com", "nope").Return(nil, services.ErrInvalidCredentials)

	resp := h.call(t, "", "login", handlers.LoginArgs{Email: "sam@example.com", Password: "nope"})
	assert.True(t, resp.Success)
	assert.Equal(t, false, resp.Data)
}

func TestJsonApi_MissingArguments(t *testing.T) {
	h := newAPIHarness(t, nil)
	resp := h.call(t, h.token(t, "USERAAAAAA", models.RoleSeller, false), "acceptProposal")
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "Missing 'arguments'")
}

func TestJsonApi_AcceptProposal(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.proposals.On("AcceptProposal", mock.Anything, "PROPAAAAAA", "USERAAAAAA").Return("TXAAAAAAAA", nil)

	resp := h.call(t, h.token(t, "USERAAAAAA", models.RoleSeller, false), "acceptProposal", handlers.ProposalArgs{ProposalID: "PROPAAAAAA"})
	require.True(t, resp.Success, resp.Error)

	var result handlers.AcceptProposalResult
	decodeData(t, resp, &result)
	assert.Equal(t, "TXAAAAAAAA", result.TransactionID)
	h.proposals.AssertExpectations(t)
}

func TestJsonApi_ServiceErrorMapping(t *testing.T) {
	h := newAPIHarness(t, nil)
	token := h.token(t, "USERAAAAAA", models.RoleSeller, false)

	h.proposals.On("AcceptProposal", mock.Anything, "PROPAAAAAA", "USERAAAAAA").
		Return("", fmt.Errorf("proposal PROPAAAAAA is rejected: %w", services.ErrInvalidState)).Once()
	resp := h.call(t, token, "acceptProposal", handlers.ProposalArgs{ProposalID: "PROPAAAAAA"})
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "is rejected")

	h.proposals.On("AcceptProposal", mock.Anything, "PROPBBBBBB", "USERAAAAAA").
		Return("", errors.New("mongo: connection refused")).Once()
	resp = h.call(t, token, "acceptProposal", handlers.ProposalArgs{ProposalID: "PROPBBBBBB"})
	assert.False(t, resp.Success)
	assert.Equal(t, "Failed to accept proposal", resp.Error)
}

func TestJsonApi_SetTaskDeadlineRequiresDeadline(t *testing.T) {
	h := newAPIHarness(t, nil)
	resp := h.call(t, h.token(t, "USERAAAAAA", models.RoleAgent, false), "setTaskDeadline", map[string]string{"service_id": "S", "task_id": "T"})
	assert.False(t, resp.Success)
	assert.Equal(t, "deadline is required", resp.Error)
	h.transactions.AssertNotCalled(t, "SetTaskDeadline", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJsonApi_ScanDeadlinesQueued(t *testing.T) {
	queue := new(MockDeadlineQueue)
	h := newAPIHarness(t, queue)
	h.transactions.On("FindTransactionByID", mock.Anything, "TXAAAAAAAA", "USERAAAAAA", false).Return(&models.Transaction{ID: "TXAAAAAAAA"}, nil)
	queue.On("EnqueueDeadlineScan", mock.Anything, "TXAAAAAAAA").Return(nil)

	resp := h.call(t, h.token(t, "USERAAAAAA", models.RoleAgent, false), "scanDeadlines", handlers.TransactionArgs{TransactionID: "TXAAAAAAAA"})
	require.True(t, resp.Success, resp.Error)

	var result handlers.DeadlineScanResult
	decodeData(t, resp, &result)
	assert.True(t, result.Queued)
	queue.AssertExpectations(t)
	h.deadlines.AssertNotCalled(t, "ScanTransaction", mock.Anything, mock.Anything)
}

func TestJsonApi_ScanDeadlinesInline(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.transactions.On("FindTransactionByID", mock.Anything, "TXAAAAAAAA", "USERAAAAAA", false).Return(&models.Transaction{ID: "TXAAAAAAAA"}, nil)
	h.deadlines.On("ScanTransaction", mock.Anything, "TXAAAAAAAA").Return(2, nil)

	resp := h.call(t, h.token(t, "USERAAAAAA", models.RoleAgent, false), "scanDeadlines", handlers.TransactionArgs{TransactionID: "TXAAAAAAAA"})
	require.True(t, resp.Success, resp.Error)

	var result handlers.DeadlineScanResult
	decodeData(t, resp, &result)
	assert.False(t, result.Queued)
	assert.Equal(t, 2, result.Notifications)
}

func TestJsonApi_ScanDeadlinesNonParticipant(t *testing.T) {
	queue := new(MockDeadlineQueue)
	h := newAPIHarness(t, queue)
	h.transactions.On("FindTransactionByID", mock.Anything, "TXAAAAAAAA", "USERZZZZZZ", false).
		Return(nil, fmt.Errorf("not a participant: %w", services.ErrUnauthorized))

	resp := h.call(t, h.token(t, "USERZZZZZZ", models.RoleBuyer, false), "scanDeadlines", handlers.TransactionArgs{TransactionID: "TXAAAAAAAA"})
	assert.False(t, resp.Success)
	queue.AssertNotCalled(t, "EnqueueDeadlineScan", mock.Anything, mock.Anything)
}

func TestJsonApi_MarkAllNotificationsRead(t *testing.T) {
	h := newAPIHarness(t, nil)
	h.notifications.On("MarkAllRead", mock.Anything, "USERAAAAAA").Return(3, nil)

	resp := h.call(t, h.token(t, "USERAAAAAA", models.RoleBuyer, false), "markAllNotificationsRead")
	require.True(t, resp.Success, resp.Error)

	var result map[string]int
	decodeData(t, resp, &result)
	assert.Equal(t, 3, result["updated"])
}
