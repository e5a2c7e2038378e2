package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/models"
)

const (
	maxMessageLength = 5000
	previewLength    = 100
)

// IMessageService manages the conversation channel of each proposal.
type IMessageService interface {
	OpenChannel(ctx context.Context, proposalID, actingUserID string) (*models.MessageChannel, error)
	SendMessage(ctx context.Context, channelID, senderID, text string) (*models.Message, error)
	ListMessages(ctx context.Context, channelID, actingUserID string, limit int, cursor *PageCursor) ([]models.Message, error)
	ListChannels(ctx context.Context, userID string) ([]models.MessageChannel, error)
}

type messageService struct {
	store         db.Store
	cfg           *config.Config
	now           db.Clock
	users         IUserService
	proposals     IProposalService
	notifications INotificationService
}

// NewMessageService creates a new MessageService.
func NewMessageService(store db.Store, cfg *config.Config, users IUserService, proposals IProposalService, notifications INotificationService) IMessageService {
	return &messageService{store: store, cfg: cfg, now: db.UTCNow, users: users, proposals: proposals, notifications: notifications}
}

// OpenChannel returns the channel between the proposal's agent and the listing owner, creating it on
// first use. The acting user must be one of the two.
func (s *messageService) OpenChannel(ctx context.Context, proposalID, actingUserID string) (*models.MessageChannel, error) {
	proposal, err := s.proposals.FindProposalByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	participants := []string{proposal.AgentID, proposal.ClientID}
	if actingUserID != proposal.AgentID && actingUserID != proposal.ClientID {
		return nil, fmt.Errorf("user %s is not part of proposal %s: %w", actingUserID, proposalID, ErrUnauthorized)
	}
	key := models.ParticipantsKey(participants)

	if existing, err := s.findChannel(ctx, key, proposalID); err != nil || existing != nil {
		return existing, err
	}

	info := make(map[string]models.ParticipantInfo, len(participants))
	for _, id := range participants {
		user, err := s.users.FindByID(ctx, id)
		if err != nil {
			slog.Warn("Could not load channel participant", "user_id", id, "error", err)
			continue
		}
		info[id] = models.ParticipantInfo{Name: user.Name, Role: user.Role}
	}

	channel := &models.MessageChannel{
		Participants:    participants,
		ParticipantsKey: key,
		ProposalID:      proposalID,
		ListingID:       proposal.ListingID,
		ListingType:     proposal.ListingType,
		ParticipantInfo: info,
		CreatedAt:       s.now(),
	}
	id, err := s.store.Add(ctx, db.MessageChannelsCollection, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel for proposal %s: %w", proposalID, err)
	}
	channel.ID = id
	return channel, nil
}

func (s *messageService) findChannel(ctx context.Context, key, proposalID string) (*models.MessageChannel, error) {
	var channels []models.MessageChannel
	if err := s.store.Query(ctx, db.MessageChannelsCollection, db.Query{
		Filters: []db.Filter{
			db.Where("participants_key", db.OpEq, key),
			db.Where("proposal_id", db.OpEq, proposalID),
		},
		OrderBy: "created_at",
		Limit:   1,
	}, &channels); err != nil {
		return nil, fmt.Errorf("failed to look up channel for proposal %s: %w", proposalID, err)
	}
	if len(channels) == 0 {
		return nil, nil
	}
	return &channels[0], nil
}

func (s *messageService) loadChannel(ctx context.Context, channelID, userID string) (*models.MessageChannel, error) {
	var channel models.MessageChannel
	if err := s.store.Get(ctx, db.MessageChannelsCollection, channelID, &channel); err != nil {
		return nil, notFound(err, "channel", channelID)
	}
	if !channel.HasParticipant(userID) {
		return nil, fmt.Errorf("user %s is not in channel %s: %w", userID, channelID, ErrUnauthorized)
	}
	return &channel, nil
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "…"
}

// SendMessage posts a message and notifies the other participants.
func (s *messageService) SendMessage(ctx context.Context, channelID, senderID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, validationErr("message text is required")
	}
	if utf8.RuneCountInString(text) > maxMessageLength {
		return nil, validationErr("message exceeds %d characters", maxMessageLength)
	}
	channel, err := s.loadChannel(ctx, channelID, senderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &models.Message{ChannelID: channelID, SenderID: senderID, Text: text, CreatedAt: now}
	id, err := s.store.Add(ctx, db.MessagesCollection, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to store message in channel %s: %w", channelID, err)
	}
	msg.ID = id

	if err := s.store.Set(ctx, db.MessageChannelsCollection, channelID, db.Fields{
		"last_message":    preview(text),
		"last_message_at": now,
	}, true); err != nil {
		return nil, fmt.Errorf("failed to update channel %s: %w", channelID, err)
	}

	var recipients []string
	for _, p := range channel.Participants {
		if p != senderID {
			recipients = append(recipients, p)
		}
	}
	if _, err := s.notifications.CreateNotification(ctx, models.NotificationNewMessage, NotificationData{
		Recipients: recipients,
		ProposalID: channel.ProposalID,
		ActorName:  channel.ParticipantInfo[senderID].Name,
		Preview:    preview(text),
		ActionURL:  fmt.Sprintf("%s/messages/%s", s.cfg.AppBaseURL, channelID),
	}); err != nil {
		slog.Warn("Failed to notify message recipients", "channel_id", channelID, "error", err)
	}
	return msg, nil
}

// ListMessages returns the channel's messages, newest first.
func (s *messageService) ListMessages(ctx context.Context, channelID, actingUserID string, limit int, cursor *PageCursor) ([]models.Message, error) {
	if _, err := s.loadChannel(ctx, channelID, actingUserID); err != nil {
		return nil, err
	}
	q := db.Query{
		Filters:    []db.Filter{db.Where("channel_id", db.OpEq, channelID)},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      pageSize(limit),
	}
	cursor.apply(&q)
	messages := []models.Message{}
	if err := s.store.Query(ctx, db.MessagesCollection, q, &messages); err != nil {
		return nil, fmt.Errorf("failed to list messages of channel %s: %w", channelID, err)
	}
	return messages, nil
}

// ListChannels returns the user's channels, most recently created first.
func (s *messageService) ListChannels(ctx context.Context, userID string) ([]models.MessageChannel, error) {
	channels := []models.MessageChannel{}
	if err := s.store.Query(ctx, db.MessageChannelsCollection, db.Query{
		Filters:    []db.Filter{db.Where("participants", db.OpContains, userID)},
		OrderBy:    "created_at",
		Descending: true,
	}, &channels); err != nil {
		return nil, fmt.Errorf("failed to list channels of user %s: %w", userID, err)
	}
	return channels, nil
}
