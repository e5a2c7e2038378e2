package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/auth"
	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
)

// Context key type for AuthResult
type authContextKey string

const authResultKey authContextKey = "authResult"

// Helper to get AuthResult from context
func getAuthFromContext(ctx context.Context) (*AuthResult, bool) {
	val, ok := ctx.Value(authResultKey).(*AuthResult)
	return val, ok
}

// DeadlineScanQueue hands a deadline scan to the background worker.
type DeadlineScanQueue interface {
	EnqueueDeadlineScan(ctx context.Context, transactionID string) error
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// Services groups the domain services the JSON API dispatches to.
type Services struct {
	Users         services.IUserService
	Listings      services.IListingService
	Proposals     services.IProposalService
	Transactions  services.ITransactionService
	Messages      services.IMessageService
	Notifications services.INotificationService
	Verifications services.IVerificationService
	Templates     services.IEmailTemplateService
	Deadlines     services.IDeadlineScanner
}

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg                  *config.Config
	userService          services.IUserService
	listingService       services.IListingService
	proposalService      services.IProposalService
	transactionService   services.ITransactionService
	messageService       services.IMessageService
	notificationService  services.INotificationService
	verificationService  services.IVerificationService
	emailTemplateService services.IEmailTemplateService
	deadlineScanner      services.IDeadlineScanner
	deadlineQueue        DeadlineScanQueue // nil runs scans inline
	methods              map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(cfg *config.Config, svc Services, deadlineQueue DeadlineScanQueue) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:                  cfg,
		userService:          svc.Users,
		listingService:       svc.Listings,
		proposalService:      svc.Proposals,
		transactionService:   svc.Transactions,
		messageService:       svc.Messages,
		notificationService:  svc.Notifications,
		verificationService:  svc.Verifications,
		emailTemplateService: svc.Templates,
		deadlineScanner:      svc.Deadlines,
		deadlineQueue:        deadlineQueue,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":                       h.ping,
		"register":                   h.register,
		"login":                      h.login,
		"refreshToken":               h.refreshToken,
		"getMyProfile":               h.getMyProfile,
		"createListing":              h.createListing,
		"updateListing":              h.updateListing,
		"setListingStatus":           h.setListingStatus,
		"listMyListings":             h.listMyListings,
		"submitProposal":             h.submitProposal,
		"listListingProposals":       h.listListingProposals,
		"listMyProposals":            h.listMyProposals,
		"acceptProposal":             h.acceptProposal,
		"rejectProposal":             h.rejectProposal,
		"getTransaction":             h.getTransaction,
		"listMyTransactions":         h.listMyTransactions,
		"listTransactionServices":    h.listTransactionServices,
		"updateTaskStatus":           h.updateTaskStatus,
		"setTaskDeadline":            h.setTaskDeadline,
		"updateTransactionStatus":    h.updateTransactionStatus,
		"scanDeadlines":              h.scanDeadlines,
		"openChannel":                h.openChannel,
		"sendMessage":                h.sendMessage,
		"listMessages":               h.listMessages,
		"listChannels":               h.listChannels,
		"listNotifications":          h.listNotifications,
		"markNotificationRead":       h.markNotificationRead,
		"markAllNotificationsRead":   h.markAllNotificationsRead,
		"getVerificationUploadURL":   h.getVerificationUploadURL,
		"uploadVerificationDocument": h.uploadVerificationDocument,
		"submitVerification":         h.submitVerification,
		"getMyVerification":          h.getMyVerification,
		"listPendingVerifications":   h.listPendingVerifications,
		"reviewVerification":         h.reviewVerification,
		"getEmailTemplate":           h.getEmailTemplate,
		"saveEmailTemplate":          h.saveEmailTemplate,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, "Failed to read request body")
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, "Invalid JSON request format")
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, fmt.Sprintf("Unknown method: %s", req.Method))
		return
	}

	if authErr := h.checkAuthForMethod(c, req.Method); authErr != nil {
		h.sendErrorResponse(c, authErr.Message)
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr.Message)
		return
	}
	h.sendSuccessResponse(c, result)
}

// AuthResult holds optional authentication details
type AuthResult struct {
	UserID  string // empty for guests
	Role    models.Role
	IsAdmin bool
}

func (a *AuthResult) authenticated() bool {
	return a != nil && a.UserID != ""
}

// checkAuthForMethod checks if auth is needed and validates/extracts details if so.
// It stores the AuthResult in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	needsAuth := h.methodRequiresAuth(method)
	needsAdmin := h.methodRequiresAdmin(method)
	authRes := &AuthResult{}

	authHeader := c.GetHeader("Authorization")
	switch {
	case authHeader == "" && (needsAuth || needsAdmin):
		return NewApiError("Authorization header required")
	case authHeader != "":
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			if needsAuth || needsAdmin {
				return NewApiError("Authorization header format must be Bearer {token}")
			}
			break
		}
		claims, err := auth.ValidateJWT(parts[1], h.cfg.JwtSecret)
		if err != nil {
			if needsAuth || needsAdmin {
				slog.Debug("Token validation failed", "method", method, "error", err)
				return NewApiError("Invalid or expired token")
			}
			// Public methods proceed as guest.
			slog.Debug("Invalid optional auth token", "method", method, "error", err)
			break
		}
		if needsAdmin && !claims.IsAdmin {
			return NewApiError("Administrator privileges required")
		}
		authRes = &AuthResult{UserID: claims.UserID, Role: models.Role(claims.Role), IsAdmin: claims.IsAdmin}
	}

	ctx := context.WithValue(c.Request.Context(), authResultKey, authRes)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	switch method {
	case "ping", "register", "login":
		return false
	default:
		return true
	}
}

// methodRequiresAdmin checks if a given API method requires admin privileges.
func (h *JsonApiHandler) methodRequiresAdmin(method string) bool {
	switch method {
	case "listPendingVerifications",
		"reviewVerification",
		"getEmailTemplate",
		"saveEmailTemplate":
		return true
	default:
		return false
	}
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: true, Data: data})
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, message string) {
	c.JSON(http.StatusOK, JsonApiResponse{Success: false, Error: message})
}

// requireUser returns the authenticated caller. methodRequiresAuth already rejected guests, so a
// missing user here means the method table and the handler disagree.
func requireUser(c *gin.Context) (*AuthResult, *ApiError) {
	authInfo, ok := getAuthFromContext(c.Request.Context())
	if !ok || !authInfo.authenticated() {
		return nil, NewApiError("Authentication required")
	}
	return authInfo, nil
}

type ApiError struct {
	Message string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message}
}

// serviceError turns a service error into the message returned to the client. Domain errors carry
// their own message; anything else is logged and replaced by fallback.
func serviceError(err error, fallback string, attrs ...any) *ApiError {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrInvalidState),
		errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrEmailExists):
		return NewApiError(err.Error())
	}
	slog.Error(fallback, append(attrs, "error", err)...)
	return NewApiError(fallback)
}

// parseRequiredSingleArgFromArray decodes the first element of the 'arguments' array into targetVarPtr.
func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	var argArray []json.RawMessage
	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}
	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}

// parseOptionalSingleArgFromArray is parseRequiredSingleArgFromArray for methods whose argument
// may be omitted; targetVarPtr keeps its zero value then.
func (h *JsonApiHandler) parseOptionalSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	if len(rawArgPayload) == 0 || string(rawArgPayload) == "null" || string(rawArgPayload) == "[]" {
		return nil
	}
	return h.parseRequiredSingleArgFromArray(rawArgPayload, targetVarPtr)
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}
