package models

import (
	"fmt"
	"strings"
	"time"
)

// ListingType distinguishes what a buyer wants from what a seller offers.
type ListingType string

const (
	ListingTypeBuyer  ListingType = "buyer"
	ListingTypeSeller ListingType = "seller"
)

func (t ListingType) Valid() bool {
	return t == ListingTypeBuyer || t == ListingTypeSeller
}

type ListingStatus string

const (
	ListingStatusActive   ListingStatus = "active"
	ListingStatusAccepted ListingStatus = "accepted"
	ListingStatusPaused   ListingStatus = "paused"
	ListingStatusInactive ListingStatus = "inactive"
)

// Address is the street address of a property offered by a seller.
type Address struct {
	Street string `bson:"street" json:"street"`
	City   string `bson:"city" json:"city"`
	State  string `bson:"state" json:"state"`
	Zip    string `bson:"zip" json:"zip"`
}

// Format renders the address as a single line, skipping empty parts.
func (a *Address) Format() string {
	if a == nil {
		return ""
	}
	var parts []string
	for _, p := range []string{a.Street, a.City, strings.TrimSpace(a.State + " " + a.Zip)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

type GeoPoint struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
}

func (g GeoPoint) Validate() error {
	if g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180 {
		return fmt.Errorf("coordinates out of range: %v,%v", g.Lat, g.Lng)
	}
	return nil
}

// Listing is either a seller's property or a buyer's search. Both variants share one document shape
// and are stored in separate collections.
type Listing struct {
	ID                 string        `bson:"_id,omitempty" json:"id,omitempty"`
	Type               ListingType   `bson:"type" json:"type"`
	UserID             string        `bson:"user_id" json:"user_id"`
	Status             ListingStatus `bson:"status" json:"status"`
	AcceptedProposalID string        `bson:"accepted_proposal_id" json:"accepted_proposal_id"`
	AcceptedAgentID    string        `bson:"accepted_agent_id,omitempty" json:"accepted_agent_id,omitempty"`
	AcceptedAt         *time.Time    `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
	Title              string        `bson:"title" json:"title"`
	Description        string        `bson:"description" json:"description"`

	// Seller fields
	Address      *Address `bson:"address,omitempty" json:"address,omitempty"`
	Price        float64  `bson:"price,omitempty" json:"price,omitempty"`
	PropertyType string   `bson:"property_type,omitempty" json:"property_type,omitempty"`
	Bedrooms     int      `bson:"bedrooms,omitempty" json:"bedrooms,omitempty"`
	Bathrooms    float64  `bson:"bathrooms,omitempty" json:"bathrooms,omitempty"`
	SquareFeet   int      `bson:"square_feet,omitempty" json:"square_feet,omitempty"`

	// Buyer fields
	Location  string  `bson:"location,omitempty" json:"location,omitempty"`
	BudgetMin float64 `bson:"budget_min,omitempty" json:"budget_min,omitempty"`
	BudgetMax float64 `bson:"budget_max,omitempty" json:"budget_max,omitempty"`
	Timeline  string  `bson:"timeline,omitempty" json:"timeline,omitempty"`

	Geo       *GeoPoint `bson:"geo,omitempty" json:"geo,omitempty"`
	Geohash   string    `bson:"geohash,omitempty" json:"geohash,omitempty"`
	City      string    `bson:"city,omitempty" json:"city,omitempty"` // Denormalized from Address for search
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}
