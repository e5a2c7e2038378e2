package models

import (
	"time"
)

// Role is the marketplace role a user signed up with.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAgent  Role = "agent"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RoleSeller, RoleAgent:
		return true
	}
	return false
}

// User represents a user in the system.
type User struct {
	ID             string    `bson:"_id,omitempty" json:"id,omitempty"`
	Name           string    `bson:"name" json:"name"`
	Email          string    `bson:"email" json:"email"`
	PasswordHash   string    `bson:"password" json:"-"` // Store hash, not plaintext
	Role           Role      `bson:"role" json:"role"`
	IsAdmin        bool      `bson:"is_admin" json:"is_admin"`
	AgentVerified  bool      `bson:"agent_verified" json:"agent_verified"`
	BuyerVerified  bool      `bson:"buyer_verified" json:"buyer_verified"`
	SellerVerified bool      `bson:"seller_verified" json:"seller_verified"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
}

// PublicProfile is the subset of a User that other users may see.
type PublicProfile struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Role           Role   `json:"role"`
	AgentVerified  bool   `json:"agent_verified"`
	BuyerVerified  bool   `json:"buyer_verified"`
	SellerVerified bool   `json:"seller_verified"`
}

func (u *User) PublicProfile() PublicProfile {
	return PublicProfile{
		ID:             u.ID,
		Name:           u.Name,
		Role:           u.Role,
		AgentVerified:  u.AgentVerified,
		BuyerVerified:  u.BuyerVerified,
		SellerVerified: u.SellerVerified,
	}
}
