package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/models"
)

const (
	// DefaultLocale is used when a template is requested without a locale.
	DefaultLocale = "en-US"
	// FallbackTemplateID names the template used for notification types without their own.
	FallbackTemplateID = "notification"
)

// Default email templates used as fallback when not found in database
var defaultEmailTemplates = map[string]models.EmailTemplate{
	FallbackTemplateID: {
		TemplateID: FallbackTemplateID,
		Locale:     DefaultLocale,
		Subject:    "{{.Title}}",
		Body:       "Hi {{.RecipientName}},\n\n{{.Message}}\n{{if .ActionURL}}\nOpen it here: {{.ActionURL}}\n{{end}}\n- The {{.AppName}} team",
	},
	string(models.NotificationProposalAccepted): {
		TemplateID: string(models.NotificationProposalAccepted),
		Locale:     DefaultLocale,
		Subject:    "Good news: {{.Title}}",
		Body:       "Hi {{.RecipientName}},\n\n{{.Message}}\n\nYour transaction workspace: {{.ActionURL}}\n\n- The {{.AppName}} team",
	},
	string(models.NotificationTaskOverdue): {
		TemplateID: string(models.NotificationTaskOverdue),
		Locale:     DefaultLocale,
		Subject:    "Action needed: {{.Title}}",
		Body:       "Hi {{.RecipientName}},\n\n{{.Message}}\n\nPlease review the task: {{.ActionURL}}\n\n- The {{.AppName}} team",
	},
}

// EmailTemplateData is what notification email templates are executed with.
type EmailTemplateData struct {
	AppName       string
	RecipientName string
	Title         string
	Message       string
	ActionURL     string
}

// IEmailTemplateService defines the interface for email template operations.
type IEmailTemplateService interface {
	GetTemplate(ctx context.Context, templateID, locale string) (*models.EmailTemplate, error)
	SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error
	Render(ctx context.Context, templateID, locale string, data EmailTemplateData) (subject, body string, err error)
}

// EmailTemplateService handles operations related to email templates
type EmailTemplateService struct {
	store db.Store
}

// NewEmailTemplateService creates a new instance of EmailTemplateService
func NewEmailTemplateService(store db.Store) *EmailTemplateService {
	return &EmailTemplateService{store: store}
}

func templateDocID(templateID, locale string) string {
	return templateID + ":" + locale
}

// GetTemplate retrieves an email template by ID and locale, falling back to the built-in template for the
// ID and then to the generic notification template.
func (s *EmailTemplateService) GetTemplate(ctx context.Context, templateID string, locale string) (*models.EmailTemplate, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	var tmpl models.EmailTemplate
	err := s.store.Get(ctx, db.EmailTemplatesCollection, templateDocID(templateID, locale), &tmpl)
	if err == nil {
		return &tmpl, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("error retrieving template: %w", err)
	}
	if def, ok := defaultEmailTemplates[templateID]; ok {
		return &def, nil
	}
	if templateID != FallbackTemplateID {
		return s.GetTemplate(ctx, FallbackTemplateID, locale)
	}
	def := defaultEmailTemplates[FallbackTemplateID]
	return &def, nil
}

// SaveTemplate validates and stores an email template, replacing any previous version for the same ID and locale.
func (s *EmailTemplateService) SaveTemplate(ctx context.Context, tmpl *models.EmailTemplate) error {
	tmpl.TemplateID = strings.TrimSpace(tmpl.TemplateID)
	if tmpl.TemplateID == "" {
		return validationErr("template_id is required")
	}
	if tmpl.Locale == "" {
		tmpl.Locale = DefaultLocale
	}
	for name, src := range map[string]string{"subject": tmpl.Subject, "body": tmpl.Body} {
		if _, err := template.New(name).Parse(src); err != nil {
			return validationErr("invalid %s template: %v", name, err)
		}
	}
	tmpl.ID = templateDocID(tmpl.TemplateID, tmpl.Locale)
	if err := s.store.Set(ctx, db.EmailTemplatesCollection, tmpl.ID, tmpl, false); err != nil {
		return fmt.Errorf("error saving template: %w", err)
	}
	return nil
}

// Render executes the subject and body of the template for templateID.
func (s *EmailTemplateService) Render(ctx context.Context, templateID, locale string, data EmailTemplateData) (string, string, error) {
	tmpl, err := s.GetTemplate(ctx, templateID, locale)
	if err != nil {
		return "", "", err
	}
	subject, err := execute("subject", tmpl.Subject, data)
	if err != nil {
		return "", "", err
	}
	body, err := execute("body", tmpl.Body, data)
	if err != nil {
		return "", "", err
	}
	return strings.TrimSpace(subject), body, nil
}

func execute(name, src string, data EmailTemplateData) (string, error) {
	t, err := template.New(name).Parse(src)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}
