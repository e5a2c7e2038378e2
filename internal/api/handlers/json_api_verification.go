package handlers

import (
	"encoding/json"
	"log/slog"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/models"
)

type UploadURLArgs struct {
	Kind        models.VerificationKind `json:"kind"`
	FileName    string                  `json:"file_name"`
	ContentType string                  `json:"content_type"`
}

func (h *JsonApiHandler) getVerificationUploadURL(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs UploadURLArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	upload, err := h.verificationService.GetUploadURL(c.Request.Context(), authInfo.UserID, reqArgs.Kind, reqArgs.FileName, reqArgs.ContentType)
	if err != nil {
		return nil, serviceError(err, "Failed to create upload URL", "user_id", authInfo.UserID)
	}
	return upload, nil
}

// UploadDocumentArgs carries the document inline; Content is base64 in JSON.
type UploadDocumentArgs struct {
	UploadURLArgs
	Content []byte `json:"content"`
}

func (h *JsonApiHandler) uploadVerificationDocument(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs UploadDocumentArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	key, err := h.verificationService.UploadDocument(c.Request.Context(), authInfo.UserID, reqArgs.Kind, reqArgs.FileName, reqArgs.ContentType, reqArgs.Content)
	if err != nil {
		return nil, serviceError(err, "Failed to upload document", "user_id", authInfo.UserID)
	}
	return gin.H{"key": key}, nil
}

type SubmitVerificationArgs struct {
	Kind      models.VerificationKind `json:"kind"`
	Data      map[string]interface{}  `json:"data"`
	Documents []string                `json:"documents"`
}

func (h *JsonApiHandler) submitVerification(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs SubmitVerificationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	v, err := h.verificationService.Submit(c.Request.Context(), authInfo.UserID, reqArgs.Kind, reqArgs.Data, reqArgs.Documents)
	if err != nil {
		return nil, serviceError(err, "Failed to submit verification", "user_id", authInfo.UserID, "kind", reqArgs.Kind)
	}
	slog.Info("Verification submitted", "verification_id", v.ID, "kind", v.Kind, "user_id", authInfo.UserID)
	return v, nil
}

type VerificationKindArgs struct {
	Kind models.VerificationKind `json:"kind"`
}

func (h *JsonApiHandler) getMyVerification(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs VerificationKindArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	vs, err := h.verificationService.FindForUser(c.Request.Context(), authInfo.UserID, reqArgs.Kind)
	if err != nil {
		return nil, serviceError(err, "Failed to load verifications", "user_id", authInfo.UserID)
	}
	return vs, nil
}

func (h *JsonApiHandler) listPendingVerifications(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs VerificationKindArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	vs, err := h.verificationService.ListPending(c.Request.Context(), reqArgs.Kind)
	if err != nil {
		return nil, serviceError(err, "Failed to list pending verifications", "kind", reqArgs.Kind)
	}
	return vs, nil
}

type ReviewVerificationArgs struct {
	Kind           models.VerificationKind `json:"kind"`
	VerificationID string                  `json:"verification_id"`
	Approve        bool                    `json:"approve"`
	Notes          string                  `json:"notes,omitempty"`
}

func (h *JsonApiHandler) reviewVerification(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs ReviewVerificationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	v, err := h.verificationService.Review(c.Request.Context(), reqArgs.Kind, reqArgs.VerificationID, authInfo.UserID, reqArgs.Approve, reqArgs.Notes)
	if err != nil {
		return nil, serviceError(err, "Failed to review verification", "verification_id", reqArgs.VerificationID)
	}
	slog.Info("Verification reviewed", "verification_id", v.ID, "approved", reqArgs.Approve, "reviewer_id", authInfo.UserID)
	return v, nil
}

type EmailTemplateArgs struct {
	TemplateID string `json:"template_id"`
	Locale     string `json:"locale,omitempty"`
}

func (h *JsonApiHandler) getEmailTemplate(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs EmailTemplateArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	tmpl, err := h.emailTemplateService.GetTemplate(c.Request.Context(), reqArgs.TemplateID, reqArgs.Locale)
	if err != nil {
		return nil, serviceError(err, "Failed to load email template", "template_id", reqArgs.TemplateID)
	}
	return tmpl, nil
}

func (h *JsonApiHandler) saveEmailTemplate(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs models.EmailTemplate
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if err := h.emailTemplateService.SaveTemplate(c.Request.Context(), &reqArgs); err != nil {
		return nil, serviceError(err, "Failed to save email template", "template_id", reqArgs.TemplateID)
	}
	return &reqArgs, nil
}
