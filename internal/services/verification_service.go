package services

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/storage"
)

//go:embed schemas/*.json
var verificationSchemaFS embed.FS

// UploadURL is a pre-signed URL the client PUTs a verification document to.
type UploadURL struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IVerificationService handles agent, buyer and seller verification submissions and their review.
type IVerificationService interface {
	GetUploadURL(ctx context.Context, userID string, kind models.VerificationKind, fileName, contentType string) (*UploadURL, error)
	UploadDocument(ctx context.Context, userID string, kind models.VerificationKind, fileName, contentType string, data []byte) (string, error)
	Submit(ctx context.Context, userID string, kind models.VerificationKind, data map[string]interface{}, documents []string) (*models.Verification, error)
	FindForUser(ctx context.Context, userID string, kind models.VerificationKind) ([]models.Verification, error)
	ListPending(ctx context.Context, kind models.VerificationKind) ([]models.Verification, error)
	Review(ctx context.Context, kind models.VerificationKind, verificationID, reviewerID string, approve bool, notes string) (*models.Verification, error)
}

type verificationService struct {
	store         db.Store
	cfg           *config.Config
	now           db.Clock
	objects       storage.IS3Storage
	users         IUserService
	notifications INotificationService
	schemas       map[models.VerificationKind]*jsonschema.Schema
}

// NewVerificationService creates a new VerificationService. objects may be nil when document
// uploads are not configured.
func NewVerificationService(store db.Store, cfg *config.Config, objects storage.IS3Storage, users IUserService, notifications INotificationService) (IVerificationService, error) {
	schemas, err := compileVerificationSchemas()
	if err != nil {
		return nil, err
	}
	return &verificationService{
		store:         store,
		cfg:           cfg,
		now:           db.UTCNow,
		objects:       objects,
		users:         users,
		notifications: notifications,
		schemas:       schemas,
	}, nil
}

func compileVerificationSchemas() (map[models.VerificationKind]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	kinds := []models.VerificationKind{models.VerificationKindAgent, models.VerificationKindBuyer, models.VerificationKindSeller}
	for _, kind := range kinds {
		name := schemaPath(kind)
		raw, err := verificationSchemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
		}
	}

	compiled := make(map[models.VerificationKind]*jsonschema.Schema, len(kinds))
	for _, kind := range kinds {
		schema, err := compiler.Compile(schemaPath(kind))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema for %s verification: %w", kind, err)
		}
		compiled[kind] = schema
	}
	return compiled, nil
}

func schemaPath(kind models.VerificationKind) string {
	return "schemas/" + string(kind) + ".json"
}

// VerificationCollection returns the collection holding verifications of kind.
func VerificationCollection(kind models.VerificationKind) string {
	switch kind {
	case models.VerificationKindAgent:
		return db.AgentVerificationsCollection
	case models.VerificationKindBuyer:
		return db.BuyerVerificationsCollection
	}
	return db.SellerVerificationsCollection
}

func documentPrefix(kind models.VerificationKind, userID string) string {
	return fmt.Sprintf("verifications/%s/%s/", kind, userID)
}

func (s *verificationService) checkUpload(kind models.VerificationKind, fileName, contentType string) error {
	if !kind.Valid() {
		return validationErr("invalid verification kind %q", kind)
	}
	if s.objects == nil {
		return fmt.Errorf("document storage is not configured")
	}
	if strings.TrimSpace(fileName) == "" {
		return validationErr("file name is required")
	}
	switch contentType {
	case "application/pdf", "image/jpeg", "image/png":
	default:
		return validationErr("unsupported content type %q", contentType)
	}
	return nil
}

// GetUploadURL returns a pre-signed URL for one verification document.
func (s *verificationService) GetUploadURL(ctx context.Context, userID string, kind models.VerificationKind, fileName, contentType string) (*UploadURL, error) {
	if err := s.checkUpload(kind, fileName, contentType); err != nil {
		return nil, err
	}
	url, key, err := s.objects.GeneratePresignedPutURL(ctx, documentPrefix(kind, userID), fileName, contentType)
	if err != nil {
		return nil, err
	}
	return &UploadURL{URL: url, Key: key, ExpiresAt: s.now().Add(s.cfg.UploadURLTTL)}, nil
}

// UploadDocument stores a document sent through the API and returns its key.
func (s *verificationService) UploadDocument(ctx context.Context, userID string, kind models.VerificationKind, fileName, contentType string, data []byte) (string, error) {
	if err := s.checkUpload(kind, fileName, contentType); err != nil {
		return "", err
	}
	return s.objects.PutObject(ctx, documentPrefix(kind, userID), fileName, contentType, data)
}

// validateData checks data against the kind's schema. data is round-tripped through JSON so
// numbers are validated the same way whether they came from a request body or Go code.
func (s *verificationService) validateData(kind models.VerificationKind, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return validationErr("data is not valid JSON: %v", err)
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return validationErr("data is not valid JSON: %v", err)
	}
	if err := s.schemas[kind].Validate(v); err != nil {
		return validationErr("%s verification data: %v", kind, err)
	}
	return nil
}

// Submit records a pending verification. A user may have one pending submission per kind.
func (s *verificationService) Submit(ctx context.Context, userID string, kind models.VerificationKind, data map[string]interface{}, documents []string) (*models.Verification, error) {
	if !kind.Valid() {
		return nil, validationErr("invalid verification kind %q", kind)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	if err := s.validateData(kind, data); err != nil {
		return nil, err
	}
	prefix := documentPrefix(kind, userID)
	for _, key := range documents {
		if !strings.HasPrefix(key, prefix) {
			return nil, validationErr("document %q does not belong to this verification", key)
		}
	}
	if kind == models.VerificationKindAgent && len(documents) == 0 {
		return nil, validationErr("agent verification requires a license document")
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if kind == models.VerificationKindAgent && user.Role != models.RoleAgent {
		return nil, fmt.Errorf("only agents can submit agent verification: %w", ErrUnauthorized)
	}

	var pending []models.Verification
	err = s.store.Query(ctx, VerificationCollection(kind), db.Query{
		Filters: []db.Filter{
			db.Where("user_id", db.OpEq, userID),
			db.Where("status", db.OpEq, models.VerificationStatusPending),
		},
		Limit: 1,
	}, &pending)
	if err != nil {
		return nil, fmt.Errorf("failed to check pending verifications: %w", err)
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("a %s verification is already pending review: %w", kind, ErrConflict)
	}

	if documents == nil {
		documents = []string{}
	}
	v := &models.Verification{
		UserID:      userID,
		Kind:        kind,
		Status:      models.VerificationStatusPending,
		Data:        data,
		Documents:   documents,
		SubmittedAt: s.now(),
	}
	id, err := s.store.Add(ctx, VerificationCollection(kind), v)
	if err != nil {
		return nil, fmt.Errorf("failed to save %s verification: %w", kind, err)
	}
	v.ID = id
	slog.Info("Verification submitted", "kind", kind, "verification_id", id, "user_id", userID)
	return v, nil
}

// FindForUser returns the user's verifications of kind, newest first.
func (s *verificationService) FindForUser(ctx context.Context, userID string, kind models.VerificationKind) ([]models.Verification, error) {
	if !kind.Valid() {
		return nil, validationErr("invalid verification kind %q", kind)
	}
	var out []models.Verification
	err := s.store.Query(ctx, VerificationCollection(kind), db.Query{
		Filters:    []db.Filter{db.Where("user_id", db.OpEq, userID)},
		OrderBy:    "submitted_at",
		Descending: true,
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s verifications for user %s: %w", kind, userID, err)
	}
	return out, nil
}

// ListPending returns pending verifications of kind, oldest first.
func (s *verificationService) ListPending(ctx context.Context, kind models.VerificationKind) ([]models.Verification, error) {
	if !kind.Valid() {
		return nil, validationErr("invalid verification kind %q", kind)
	}
	var out []models.Verification
	err := s.store.Query(ctx, VerificationCollection(kind), db.Query{
		Filters: []db.Filter{db.Where("status", db.OpEq, models.VerificationStatusPending)},
		OrderBy: "submitted_at",
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending %s verifications: %w", kind, err)
	}
	return out, nil
}

// Review approves or rejects a pending verification and updates the user's verified flag.
func (s *verificationService) Review(ctx context.Context, kind models.VerificationKind, verificationID, reviewerID string, approve bool, notes string) (*models.Verification, error) {
	if !kind.Valid() {
		return nil, validationErr("invalid verification kind %q", kind)
	}
	collection := VerificationCollection(kind)
	var v models.Verification
	if err := s.store.Get(ctx, collection, verificationID, &v); err != nil {
		return nil, notFound(err, "verification", verificationID)
	}

	status := models.VerificationStatusRejected
	if approve {
		status = models.VerificationStatusApproved
	}
	reviewedAt := s.now()
	ok, err := s.store.UpdateWhere(ctx, collection, verificationID,
		[]db.Filter{db.Where("status", db.OpEq, models.VerificationStatusPending)},
		db.Fields{
			"status":       status,
			"reviewer_id":  reviewerID,
			"review_notes": notes,
			"reviewed_at":  reviewedAt,
		})
	if err != nil {
		return nil, fmt.Errorf("failed to review verification %s: %w", verificationID, err)
	}
	if !ok {
		return nil, fmt.Errorf("verification %s is not pending: %w", verificationID, ErrInvalidState)
	}

	if err := s.users.SetVerified(ctx, v.UserID, kind, approve); err != nil {
		return nil, fmt.Errorf("failed to update user %s after review: %w", v.UserID, err)
	}

	notificationType := models.NotificationVerificationRejected
	if approve {
		notificationType = models.NotificationVerificationApproved
	}
	if _, err := s.notifications.CreateNotification(ctx, notificationType, NotificationData{
		Recipients: []string{v.UserID},
		Reason:     notes,
		DedupKey:   fmt.Sprintf("%s:%s", notificationType, verificationID),
		SendEmail:  true,
	}); err != nil {
		slog.Error("Failed to notify user about verification review", "verification_id", verificationID, "error", err)
	}

	v.Status = status
	v.ReviewerID = reviewerID
	v.ReviewNotes = notes
	v.ReviewedAt = &reviewedAt
	slog.Info("Verification reviewed", "kind", kind, "verification_id", verificationID, "status", status, "reviewer_id", reviewerID)
	return &v, nil
}
