package models

import (
	"time"
)

// VerificationKind identifies which role a verification proves.
type VerificationKind string

const (
	VerificationKindAgent  VerificationKind = "agent"
	VerificationKindBuyer  VerificationKind = "buyer"
	VerificationKindSeller VerificationKind = "seller"
)

func (k VerificationKind) Valid() bool {
	switch k {
	case VerificationKindAgent, VerificationKindBuyer, VerificationKindSeller:
		return true
	}
	return false
}

// VerifiedField is the user document flag set when a verification of this kind is approved.
func (k VerificationKind) VerifiedField() string {
	return string(k) + "_verified"
}

type VerificationStatus string

const (
	VerificationStatusPending  VerificationStatus = "pending"
	VerificationStatusApproved VerificationStatus = "approved"
	VerificationStatusRejected VerificationStatus = "rejected"
)

// Verification is a user's submission proving a role, reviewed by an admin.
// Each kind is stored in its own collection.
type Verification struct {
	ID          string                 `bson:"_id,omitempty" json:"id,omitempty"`
	UserID      string                 `bson:"user_id" json:"user_id"`
	Kind        VerificationKind       `bson:"kind" json:"kind"`
	Status      VerificationStatus     `bson:"status" json:"status"`
	Data        map[string]interface{} `bson:"data" json:"data"` // Validated against the kind's JSON schema
	Documents   []string               `bson:"documents" json:"documents"` // Object storage keys
	ReviewerID  string                 `bson:"reviewer_id,omitempty" json:"reviewer_id,omitempty"`
	ReviewNotes string                 `bson:"review_notes,omitempty" json:"review_notes,omitempty"`
	SubmittedAt time.Time              `bson:"submitted_at" json:"submitted_at"`
	ReviewedAt  *time.Time             `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`
}
