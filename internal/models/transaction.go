package models

import (
	"time"
)

type TransactionStatus string

const (
	TransactionStatusActive    TransactionStatus = "active"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

type Timeline struct {
	ProposalAccepted time.Time `bson:"proposal_accepted" json:"proposal_accepted"`
	ExpectedClosing  time.Time `bson:"expected_closing" json:"expected_closing"`
}

// PropertyDetails is a snapshot of the listing taken when the transaction is created.
type PropertyDetails struct {
	Address string  `bson:"address" json:"address"`
	Price   float64 `bson:"price" json:"price"`
}

// Transaction is the workspace an agent and client share after a proposal is accepted.
type Transaction struct {
	ID              string            `bson:"_id,omitempty" json:"id,omitempty"`
	ProposalID      string            `bson:"proposal_id" json:"proposal_id"`
	ListingID       string            `bson:"listing_id" json:"listing_id"`
	ListingType     ListingType       `bson:"listing_type" json:"listing_type"`
	ClientID        string            `bson:"client_id" json:"client_id"`
	AgentID         string            `bson:"agent_id" json:"agent_id"`
	Status          TransactionStatus `bson:"status" json:"status"`
	FeeStructure    FeeStructure      `bson:"fee_structure" json:"fee_structure"`
	CommissionRate  float64           `bson:"commission_rate,omitempty" json:"commission_rate,omitempty"`
	FlatFee         float64           `bson:"flat_fee,omitempty" json:"flat_fee,omitempty"`
	Timeline        Timeline          `bson:"timeline" json:"timeline"`
	PropertyDetails PropertyDetails   `bson:"property_details" json:"property_details"`
	CreatedAt       time.Time         `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `bson:"updated_at" json:"updated_at"`
}

// IsParticipant reports whether userID is the transaction's client or agent.
func (t *Transaction) IsParticipant(userID string) bool {
	return userID != "" && (userID == t.ClientID || userID == t.AgentID)
}

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in-progress"
	TaskStatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

type Assignee string

const (
	AssigneeAgent  Assignee = "agent"
	AssigneeClient Assignee = "client"
	AssigneeBoth   Assignee = "both"
)

type Task struct {
	ID          string     `bson:"id" json:"id"`
	Title       string     `bson:"title" json:"title"`
	Description string     `bson:"description" json:"description"`
	Status      TaskStatus `bson:"status" json:"status"`
	Assignee    Assignee   `bson:"assignee" json:"assignee"`
	Deadline    *time.Time `bson:"deadline,omitempty" json:"deadline,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// TransactionService is one of the services from the accepted proposal, with its task checklist.
type TransactionService struct {
	ID            string     `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionID string     `bson:"transaction_id" json:"transaction_id"`
	Position      int        `bson:"position" json:"position"`
	ServiceName   string     `bson:"service_name" json:"service_name"`
	DisplayName   string     `bson:"display_name" json:"display_name"`
	Status        TaskStatus `bson:"status" json:"status"`
	Tasks         []Task     `bson:"tasks" json:"tasks"`
	StartedAt     *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt   *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	Version       int        `bson:"version" json:"-"` // Incremented on every task change
}

// FindTask returns the index of the task with the given id, or -1.
func (s *TransactionService) FindTask(taskID string) int {
	for i := range s.Tasks {
		if s.Tasks[i].ID == taskID {
			return i
		}
	}
	return -1
}
