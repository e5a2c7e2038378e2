package services

import (
	"testing"

	"github.com/mmcloughlin/geohash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeward/marketplace/internal/models"
)

func TestCreateListing_Validation(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser("carol", models.RoleSeller)

	tests := []struct {
		name string
		typ  models.ListingType
		in   ListingInput
	}{
		{"missing title", models.ListingTypeSeller, ListingInput{Address: &models.Address{City: "X"}, Price: 1}},
		{"seller without city", models.ListingTypeSeller, ListingInput{Title: "t", Address: &models.Address{Street: "1 Main"}, Price: 1}},
		{"seller without price", models.ListingTypeSeller, ListingInput{Title: "t", Address: &models.Address{City: "X"}}},
		{"buyer without location", models.ListingTypeBuyer, ListingInput{Title: "t", BudgetMax: 10}},
		{"buyer inverted budget", models.ListingTypeBuyer, ListingInput{Title: "t", Location: "X", BudgetMin: 20, BudgetMax: 10}},
		{"bad coordinates", models.ListingTypeBuyer, ListingInput{Title: "t", Location: "X", BudgetMax: 10, Geo: &models.GeoPoint{Lat: 91}}},
		{"bad type", "renter", ListingInput{Title: "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.listings.CreateListing(f.ctx, owner, tt.typ, tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestCreateListing(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser("carol", models.RoleSeller)
	listing := f.addSellerListing(owner)

	assert.Equal(t, models.ListingStatusActive, listing.Status)
	assert.Equal(t, "Springfield", listing.City)
	assert.Equal(t, geohash.Encode(39.7817, -89.6501), listing.Geohash)
	assert.Empty(t, listing.AcceptedProposalID)

	found, err := f.listings.FindListingByID(f.ctx, models.ListingTypeSeller, listing.ID)
	require.NoError(t, err)
	assert.Equal(t, listing.Title, found.Title)
	assert.Equal(t, models.ListingTypeSeller, found.Type)

	_, err = f.listings.FindListingByID(f.ctx, models.ListingTypeBuyer, listing.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateListing(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(owner)

	price := 375000.0
	title := "  Sunny bungalow, new roof "
	updated, err := f.listings.UpdateListing(f.ctx, listing.Type, listing.ID, owner, ListingUpdate{Price: &price, Title: &title})
	require.NoError(t, err)
	assert.Equal(t, price, updated.Price)
	assert.Equal(t, "Sunny bungalow, new roof", updated.Title)
	assert.Equal(t, listing.Address.Street, updated.Address.Street)

	_, err = f.listings.UpdateListing(f.ctx, listing.Type, listing.ID, agent, ListingUpdate{Price: &price})
	assert.ErrorIs(t, err, ErrUnauthorized)

	negative := -1.0
	_, err = f.listings.UpdateListing(f.ctx, listing.Type, listing.ID, owner, ListingUpdate{Price: &negative})
	assert.ErrorIs(t, err, ErrValidation)

	p := f.submit(agent, listing, "paperwork")
	_, err = f.proposals.AcceptProposal(f.ctx, p.ID, owner)
	require.NoError(t, err)

	_, err = f.listings.UpdateListing(f.ctx, listing.Type, listing.ID, owner, ListingUpdate{Price: &price})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, f.listings.SetListingStatus(f.ctx, listing.Type, listing.ID, owner, models.ListingStatusActive), ErrInvalidState)
}

func TestSetListingStatus(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser("carol", models.RoleSeller)
	listing := f.addSellerListing(owner)

	assert.ErrorIs(t, f.listings.SetListingStatus(f.ctx, listing.Type, listing.ID, owner, models.ListingStatusAccepted), ErrValidation)
	require.NoError(t, f.listings.SetListingStatus(f.ctx, listing.Type, listing.ID, owner, models.ListingStatusPaused))
	assert.Equal(t, models.ListingStatusPaused, f.listing(listing).Status)
}

func TestSearchListings(t *testing.T) {
	f := newFixture(t)
	owner := f.addUser("carol", models.RoleSeller)

	mk := func(title, city string, price float64, geo *models.GeoPoint) *models.Listing {
		l, err := f.listings.CreateListing(f.ctx, owner, models.ListingTypeSeller, ListingInput{
			Title: title, Address: &models.Address{City: city}, Price: price, Geo: geo,
		})
		require.NoError(t, err)
		return l
	}
	downtown := &models.GeoPoint{Lat: 45.5152, Lng: -122.6784}
	nearby := &models.GeoPoint{Lat: 45.5160, Lng: -122.6790}
	far := &models.GeoPoint{Lat: 47.6062, Lng: -122.3321}

	a := mk("A", "Portland", 300000, downtown)
	b := mk("B", "Portland", 500000, nearby)
	c := mk("C", "Seattle", 700000, far)
	paused := mk("D", "Portland", 400000, downtown)
	require.NoError(t, f.listings.SetListingStatus(f.ctx, paused.Type, paused.ID, owner, models.ListingStatusPaused))

	t.Run("city and newest first", func(t *testing.T) {
		got, next, err := f.listings.SearchListings(f.ctx, ListingSearch{Type: models.ListingTypeSeller, City: "Portland"})
		require.NoError(t, err)
		assert.Nil(t, next)
		require.Len(t, got, 2)
		assert.Equal(t, b.ID, got[0].ID)
		assert.Equal(t, a.ID, got[1].ID)
	})

	t.Run("price range", func(t *testing.T) {
		min, max := 400000.0, 800000.0
		got, _, err := f.listings.SearchListings(f.ctx, ListingSearch{Type: models.ListingTypeSeller, MinPrice: &min, MaxPrice: &max})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, c.ID, got[0].ID)
		assert.Equal(t, b.ID, got[1].ID)
	})

	t.Run("near", func(t *testing.T) {
		got, _, err := f.listings.SearchListings(f.ctx, ListingSearch{Type: models.ListingTypeSeller, Near: downtown, Precision: 5})
		require.NoError(t, err)
		ids := []string{}
		for _, l := range got {
			ids = append(ids, l.ID)
		}
		assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	})

	t.Run("pagination", func(t *testing.T) {
		first, next, err := f.listings.SearchListings(f.ctx, ListingSearch{Type: models.ListingTypeSeller, Limit: 2})
		require.NoError(t, err)
		require.Len(t, first, 2)
		require.NotNil(t, next)

		second, next, err := f.listings.SearchListings(f.ctx, ListingSearch{Type: models.ListingTypeSeller, Limit: 2, Cursor: next})
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Nil(t, next)
		assert.Equal(t, a.ID, second[0].ID)
	})

	t.Run("by status", func(t *testing.T) {
		got, _, err := f.listings.SearchListings(f.ctx, ListingSearch{Type: models.ListingTypeSeller, Status: models.ListingStatusPaused})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, paused.ID, got[0].ID)
	})

	t.Run("invalid type", func(t *testing.T) {
		_, _, err := f.listings.SearchListings(f.ctx, ListingSearch{Type: "renter"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	mine, err := f.listings.ListListingsByUser(f.ctx, models.ListingTypeSeller, owner)
	require.NoError(t, err)
	assert.Len(t, mine, 4)
}
