package models

import (
	"sort"
	"strings"
	"time"
)

type ParticipantInfo struct {
	Name string `bson:"name" json:"name"`
	Role Role   `bson:"role" json:"role"`
}

// MessageChannel is a conversation between the agent and client of a proposal.
type MessageChannel struct {
	ID              string                     `bson:"_id,omitempty" json:"id,omitempty"`
	Participants    []string                   `bson:"participants" json:"participants"`
	ParticipantsKey string                     `bson:"participants_key" json:"-"`
	ProposalID      string                     `bson:"proposal_id" json:"proposal_id"`
	ListingID       string                     `bson:"listing_id" json:"listing_id"`
	ListingType     ListingType                `bson:"listing_type" json:"listing_type"`
	ParticipantInfo map[string]ParticipantInfo `bson:"participant_info" json:"participant_info"`
	LastMessage     string                     `bson:"last_message,omitempty" json:"last_message,omitempty"`
	LastMessageAt   *time.Time                 `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
	CreatedAt       time.Time                  `bson:"created_at" json:"created_at"`
}

// ParticipantsKey returns a stable key for a set of participant ids.
func ParticipantsKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}

func (c *MessageChannel) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

type Message struct {
	ID        string    `bson:"_id,omitempty" json:"id,omitempty"`
	ChannelID string    `bson:"channel_id" json:"channel_id"`
	SenderID  string    `bson:"sender_id" json:"sender_id"`
	Text      string    `bson:"text" json:"text"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
