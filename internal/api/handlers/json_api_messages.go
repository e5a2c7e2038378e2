package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/services"
)

type OpenChannelArgs struct {
	ProposalID string `json:"proposal_id"`
}

func (h *JsonApiHandler) openChannel(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs OpenChannelArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	channel, err := h.messageService.OpenChannel(c.Request.Context(), reqArgs.ProposalID, authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to open channel", "proposal_id", reqArgs.ProposalID)
	}
	return channel, nil
}

type SendMessageArgs struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

func (h *JsonApiHandler) sendMessage(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs SendMessageArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	msg, err := h.messageService.SendMessage(c.Request.Context(), reqArgs.ChannelID, authInfo.UserID, reqArgs.Text)
	if err != nil {
		return nil, serviceError(err, "Failed to send message", "channel_id", reqArgs.ChannelID)
	}
	return msg, nil
}

type ListMessagesArgs struct {
	ChannelID string     `json:"channel_id"`
	Limit     int        `json:"limit,omitempty"`
	Cursor    *services.PageCursor `json:"cursor,omitempty"`
}

func (h *JsonApiHandler) listMessages(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs ListMessagesArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	msgs, err := h.messageService.ListMessages(c.Request.Context(), reqArgs.ChannelID, authInfo.UserID, reqArgs.Limit, reqArgs.Cursor)
	if err != nil {
		return nil, serviceError(err, "Failed to list messages", "channel_id", reqArgs.ChannelID)
	}
	return msgs, nil
}

func (h *JsonApiHandler) listChannels(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	channels, err := h.messageService.ListChannels(c.Request.Context(), authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to list channels", "user_id", authInfo.UserID)
	}
	return channels, nil
}

type ListNotificationsArgs struct {
	UnreadOnly bool       `json:"unread_only,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Cursor     *services.PageCursor `json:"cursor,omitempty"`
}

func (h *JsonApiHandler) listNotifications(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs ListNotificationsArgs
	if apiErr := h.parseOptionalSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	notifications, err := h.notificationService.ListNotifications(c.Request.Context(), authInfo.UserID, reqArgs.UnreadOnly, reqArgs.Limit, reqArgs.Cursor)
	if err != nil {
		return nil, serviceError(err, "Failed to list notifications", "user_id", authInfo.UserID)
	}
	return notifications, nil
}

type NotificationArgs struct {
	NotificationID string `json:"notification_id"`
}

func (h *JsonApiHandler) markNotificationRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs NotificationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if err := h.notificationService.MarkRead(c.Request.Context(), reqArgs.NotificationID, authInfo.UserID); err != nil {
		return nil, serviceError(err, "Failed to mark notification read", "notification_id", reqArgs.NotificationID)
	}
	return nil, nil
}

func (h *JsonApiHandler) markAllNotificationsRead(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	changed, err := h.notificationService.MarkAllRead(c.Request.Context(), authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to mark notifications read", "user_id", authInfo.UserID)
	}
	return gin.H{"updated": changed}, nil
}
