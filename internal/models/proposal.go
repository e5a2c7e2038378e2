package models

import (
	"time"
)

type ProposalStatus string

const (
	ProposalStatusActive  ProposalStatus = "active"
	ProposalStatusPending ProposalStatus = "pending"
	// ProposalStatusAccepted is capitalised in stored documents and must stay that way.
	ProposalStatusAccepted ProposalStatus = "Accepted"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// IsOpen reports whether the proposal still awaits a decision.
func (s ProposalStatus) IsOpen() bool {
	return s == ProposalStatusActive || s == ProposalStatusPending
}

type FeeStructure string

const (
	FeeStructurePercentage FeeStructure = "percentage"
	FeeStructureFlat       FeeStructure = "flat"
)

// Proposal is an agent's offer of services against a listing.
type Proposal struct {
	ID             string         `bson:"_id,omitempty" json:"id,omitempty"`
	ListingID      string         `bson:"listing_id" json:"listing_id"`
	ListingType    ListingType    `bson:"listing_type" json:"listing_type"`
	AgentID        string         `bson:"agent_id" json:"agent_id"`
	ClientID       string         `bson:"client_id" json:"client_id"` // Listing owner, denormalized
	Status         ProposalStatus `bson:"status" json:"status"`
	FeeStructure   FeeStructure   `bson:"fee_structure" json:"fee_structure"`
	CommissionRate float64        `bson:"commission_rate,omitempty" json:"commission_rate,omitempty"`
	FlatFee        float64        `bson:"flat_fee,omitempty" json:"flat_fee,omitempty"`
	Services       []string       `bson:"services" json:"services"`
	Message        string         `bson:"message" json:"message"`
	TransactionID  string         `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	AcceptedAt     *time.Time     `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	RejectedAt     *time.Time     `bson:"rejected_at,omitempty" json:"rejected_at,omitempty"`
	RejectedReason string         `bson:"rejected_reason,omitempty" json:"rejected_reason,omitempty"`
	CreatedAt      time.Time      `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`
}
