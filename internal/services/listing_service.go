package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmcloughlin/geohash"

	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/models"
)

const defaultGeohashPrecision = 5

// ListingInput holds the user-editable fields of a listing. Seller and buyer fields are
// validated according to the listing type.
type ListingInput struct {
	Title        string           `json:"title"`
	Description  string           `json:"description"`
	Address      *models.Address  `json:"address,omitempty"`
	Price        float64          `json:"price,omitempty"`
	PropertyType string           `json:"property_type,omitempty"`
	Bedrooms     int              `json:"bedrooms,omitempty"`
	Bathrooms    float64          `json:"bathrooms,omitempty"`
	SquareFeet   int              `json:"square_feet,omitempty"`
	Location     string           `json:"location,omitempty"`
	BudgetMin    float64          `json:"budget_min,omitempty"`
	BudgetMax    float64          `json:"budget_max,omitempty"`
	Timeline     string           `json:"timeline,omitempty"`
	Geo          *models.GeoPoint `json:"geo,omitempty"`
}

// ListingUpdate is a partial ListingInput; nil fields are left unchanged.
type ListingUpdate struct {
	Title        *string          `json:"title,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Address      *models.Address  `json:"address,omitempty"`
	Price        *float64         `json:"price,omitempty"`
	PropertyType *string          `json:"property_type,omitempty"`
	Bedrooms     *int             `json:"bedrooms,omitempty"`
	Bathrooms    *float64         `json:"bathrooms,omitempty"`
	SquareFeet   *int             `json:"square_feet,omitempty"`
	Location     *string          `json:"location,omitempty"`
	BudgetMin    *float64         `json:"budget_min,omitempty"`
	BudgetMax    *float64         `json:"budget_max,omitempty"`
	Timeline     *string          `json:"timeline,omitempty"`
	Geo          *models.GeoPoint `json:"geo,omitempty"`
}

// ListingSearch describes a directory search. Price bounds apply to price for seller listings
// and to budget_max for buyer listings.
type ListingSearch struct {
	Type     models.ListingType   `json:"type"`
	Status   models.ListingStatus `json:"status,omitempty"`
	City     string               `json:"city,omitempty"`
	Location string               `json:"location,omitempty"`
	MinPrice *float64             `json:"min_price,omitempty"`
	MaxPrice *float64             `json:"max_price,omitempty"`
	Near     *models.GeoPoint     `json:"near,omitempty"`
	// Precision is the geohash prefix length used with Near; 5 (about 5km) by default.
	Precision int         `json:"precision,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	Cursor    *PageCursor `json:"cursor,omitempty"`
}

// IListingService defines the interface for listing-related operations.
type IListingService interface {
	CreateListing(ctx context.Context, userID string, listingType models.ListingType, in ListingInput) (*models.Listing, error)
	FindListingByID(ctx context.Context, listingType models.ListingType, listingID string) (*models.Listing, error)
	UpdateListing(ctx context.Context, listingType models.ListingType, listingID, userID string, update ListingUpdate) (*models.Listing, error)
	SetListingStatus(ctx context.Context, listingType models.ListingType, listingID, userID string, status models.ListingStatus) error
	SearchListings(ctx context.Context, search ListingSearch) ([]models.Listing, *PageCursor, error)
	ListListingsByUser(ctx context.Context, listingType models.ListingType, userID string) ([]models.Listing, error)
}

// ListingCollection returns the collection holding listings of the given type.
func ListingCollection(t models.ListingType) (string, error) {
	switch t {
	case models.ListingTypeBuyer:
		return db.BuyerListingsCollection, nil
	case models.ListingTypeSeller:
		return db.SellerListingsCollection, nil
	}
	return "", validationErr("invalid listing type %q", t)
}

// listingService implements IListingService.
type listingService struct {
	store db.Store
	cfg   *config.Config
	now   db.Clock
}

// NewListingService creates a new ListingService.
func NewListingService(store db.Store, cfg *config.Config) IListingService {
	return &listingService{store: store, cfg: cfg, now: db.UTCNow}
}

func validateListingInput(t models.ListingType, in ListingInput) error {
	if strings.TrimSpace(in.Title) == "" {
		return validationErr("title is required")
	}
	if in.Geo != nil {
		if err := in.Geo.Validate(); err != nil {
			return validationErr("%v", err)
		}
	}
	switch t {
	case models.ListingTypeSeller:
		if in.Address == nil || strings.TrimSpace(in.Address.City) == "" {
			return validationErr("seller listings need an address with a city")
		}
		if in.Price <= 0 {
			return validationErr("price must be positive")
		}
		if in.Bedrooms < 0 || in.Bathrooms < 0 || in.SquareFeet < 0 {
			return validationErr("property sizes cannot be negative")
		}
	case models.ListingTypeBuyer:
		if strings.TrimSpace(in.Location) == "" {
			return validationErr("buyer listings need a location")
		}
		if in.BudgetMin < 0 || in.BudgetMax <= 0 || in.BudgetMin > in.BudgetMax {
			return validationErr("invalid budget range")
		}
	default:
		return validationErr("invalid listing type %q", t)
	}
	return nil
}

func geohashOf(g *models.GeoPoint) string {
	if g == nil {
		return ""
	}
	return geohash.Encode(g.Lat, g.Lng)
}

// CreateListing validates and stores a new active listing.
func (s *listingService) CreateListing(ctx context.Context, userID string, listingType models.ListingType, in ListingInput) (*models.Listing, error) {
	if err := validateListingInput(listingType, in); err != nil {
		return nil, err
	}
	coll, _ := ListingCollection(listingType)

	now := s.now()
	listing := &models.Listing{
		Type:               listingType,
		UserID:             userID,
		Status:             models.ListingStatusActive,
		AcceptedProposalID: "",
		Title:              strings.TrimSpace(in.Title),
		Description:        in.Description,
		Geo:                in.Geo,
		Geohash:            geohashOf(in.Geo),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if listingType == models.ListingTypeSeller {
		listing.Address = in.Address
		listing.City = strings.TrimSpace(in.Address.City)
		listing.Price = in.Price
		listing.PropertyType = in.PropertyType
		listing.Bedrooms = in.Bedrooms
		listing.Bathrooms = in.Bathrooms
		listing.SquareFeet = in.SquareFeet
	} else {
		listing.Location = strings.TrimSpace(in.Location)
		listing.BudgetMin = in.BudgetMin
		listing.BudgetMax = in.BudgetMax
		listing.Timeline = in.Timeline
	}

	id, err := s.store.Add(ctx, coll, listing)
	if err != nil {
		return nil, fmt.Errorf("failed to insert new %s listing for user %s: %w", listingType, userID, err)
	}
	listing.ID = id
	slog.Info("Listing created", "listing_id", id, "type", listingType, "user_id", userID)
	return listing, nil
}

// FindListingByID finds a listing by its ID. It does NOT check ownership.
func (s *listingService) FindListingByID(ctx context.Context, listingType models.ListingType, listingID string) (*models.Listing, error) {
	coll, err := ListingCollection(listingType)
	if err != nil {
		return nil, err
	}
	var listing models.Listing
	if err := s.store.Get(ctx, coll, listingID, &listing); err != nil {
		return nil, notFound(err, "listing", listingID)
	}
	if listing.Type == "" {
		listing.Type = listingType
	}
	return &listing, nil
}

func (s *listingService) findOwned(ctx context.Context, listingType models.ListingType, listingID, userID string) (*models.Listing, error) {
	listing, err := s.FindListingByID(ctx, listingType, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != userID {
		return nil, fmt.Errorf("listing %s is not owned by user %s: %w", listingID, userID, ErrUnauthorized)
	}
	return listing, nil
}

// UpdateListing applies the non-nil fields of update. Accepted listings cannot be changed.
func (s *listingService) UpdateListing(ctx context.Context, listingType models.ListingType, listingID, userID string, update ListingUpdate) (*models.Listing, error) {
	listing, err := s.findOwned(ctx, listingType, listingID, userID)
	if err != nil {
		return nil, err
	}

	in := ListingInput{
		Title: listing.Title, Description: listing.Description, Address: listing.Address, Price: listing.Price,
		PropertyType: listing.PropertyType, Bedrooms: listing.Bedrooms, Bathrooms: listing.Bathrooms,
		SquareFeet: listing.SquareFeet, Location: listing.Location, BudgetMin: listing.BudgetMin,
		BudgetMax: listing.BudgetMax, Timeline: listing.Timeline, Geo: listing.Geo,
	}
	fields := db.Fields{}
	set := func(key string, value interface{}) { fields[key] = value }

	if update.Title != nil {
		in.Title = strings.TrimSpace(*update.Title)
		set("title", in.Title)
	}
	if update.Description != nil {
		in.Description = *update.Description
		set("description", in.Description)
	}
	if update.Geo != nil {
		in.Geo = update.Geo
		set("geo", update.Geo)
		set("geohash", geohashOf(update.Geo))
	}
	if listingType == models.ListingTypeSeller {
		if update.Address != nil {
			in.Address = update.Address
			set("address", update.Address)
			set("city", strings.TrimSpace(update.Address.City))
		}
		if update.Price != nil {
			in.Price = *update.Price
			set("price", in.Price)
		}
		if update.PropertyType != nil {
			in.PropertyType = *update.PropertyType
			set("property_type", in.PropertyType)
		}
		if update.Bedrooms != nil {
			in.Bedrooms = *update.Bedrooms
			set("bedrooms", in.Bedrooms)
		}
		if update.Bathrooms != nil {
			in.Bathrooms = *update.Bathrooms
			set("bathrooms", in.Bathrooms)
		}
		if update.SquareFeet != nil {
			in.SquareFeet = *update.SquareFeet
			set("square_feet", in.SquareFeet)
		}
	} else {
		if update.Location != nil {
			in.Location = strings.TrimSpace(*update.Location)
			set("location", in.Location)
		}
		if update.BudgetMin != nil {
			in.BudgetMin = *update.BudgetMin
			set("budget_min", in.BudgetMin)
		}
		if update.BudgetMax != nil {
			in.BudgetMax = *update.BudgetMax
			set("budget_max", in.BudgetMax)
		}
		if update.Timeline != nil {
			in.Timeline = *update.Timeline
			set("timeline", in.Timeline)
		}
	}
	if len(fields) == 0 {
		return listing, nil
	}
	if err := validateListingInput(listingType, in); err != nil {
		return nil, err
	}
	fields["updated_at"] = s.now()

	coll, _ := ListingCollection(listingType)
	ok, err := s.store.UpdateWhere(ctx, coll, listingID,
		[]db.Filter{db.Where("status", db.OpNe, models.ListingStatusAccepted)}, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to update listing %s: %w", listingID, err)
	}
	if !ok {
		return nil, fmt.Errorf("listing %s has an accepted proposal: %w", listingID, ErrInvalidState)
	}
	return s.FindListingByID(ctx, listingType, listingID)
}

// SetListingStatus moves a listing between active, paused and inactive.
func (s *listingService) SetListingStatus(ctx context.Context, listingType models.ListingType, listingID, userID string, status models.ListingStatus) error {
	switch status {
	case models.ListingStatusActive, models.ListingStatusPaused, models.ListingStatusInactive:
	default:
		return validationErr("status %q cannot be set directly", status)
	}
	if _, err := s.findOwned(ctx, listingType, listingID, userID); err != nil {
		return err
	}

	coll, _ := ListingCollection(listingType)
	ok, err := s.store.UpdateWhere(ctx, coll, listingID,
		[]db.Filter{db.Where("status", db.OpNe, models.ListingStatusAccepted)},
		db.Fields{"status": status, "updated_at": s.now()})
	if err != nil {
		return fmt.Errorf("failed to set status of listing %s: %w", listingID, err)
	}
	if !ok {
		return fmt.Errorf("listing %s has an accepted proposal: %w", listingID, ErrInvalidState)
	}
	return nil
}

// SearchListings returns listings matching search, newest first, and the cursor for the next page
// (nil when there are no more results).
func (s *listingService) SearchListings(ctx context.Context, search ListingSearch) ([]models.Listing, *PageCursor, error) {
	coll, err := ListingCollection(search.Type)
	if err != nil {
		return nil, nil, err
	}
	status := search.Status
	if status == "" {
		status = models.ListingStatusActive
	}

	q := db.Query{
		Filters:    []db.Filter{db.Where("status", db.OpEq, status)},
		OrderBy:    "created_at",
		Descending: true,
		Limit:      pageSize(search.Limit),
	}
	if search.City != "" {
		q.Filters = append(q.Filters, db.Where("city", db.OpEq, search.City))
	}
	if search.Location != "" {
		q.Filters = append(q.Filters, db.Where("location", db.OpEq, search.Location))
	}
	priceField := "price"
	if search.Type == models.ListingTypeBuyer {
		priceField = "budget_max"
	}
	if search.MinPrice != nil {
		q.Filters = append(q.Filters, db.Where(priceField, db.OpGte, *search.MinPrice))
	}
	if search.MaxPrice != nil {
		q.Filters = append(q.Filters, db.Where(priceField, db.OpLte, *search.MaxPrice))
	}
	if search.Near != nil {
		if err := search.Near.Validate(); err != nil {
			return nil, nil, validationErr("%v", err)
		}
		precision := search.Precision
		if precision <= 0 || precision > 12 {
			precision = defaultGeohashPrecision
		}
		prefix := geohash.EncodeWithPrecision(search.Near.Lat, search.Near.Lng, uint(precision))
		q.Filters = append(q.Filters,
			db.Where("geohash", db.OpGte, prefix),
			db.Where("geohash", db.OpLt, prefix+"~"))
	}
	search.Cursor.apply(&q)

	listings := []models.Listing{}
	if err := s.store.Query(ctx, coll, q, &listings); err != nil {
		return nil, nil, fmt.Errorf("failed to search %s listings: %w", search.Type, err)
	}

	var next *PageCursor
	if len(listings) == q.Limit {
		last := listings[len(listings)-1]
		next = CursorAfter(last.CreatedAt, last.ID)
	}
	return listings, next, nil
}

// ListListingsByUser returns all listings of a type owned by userID, newest first.
func (s *listingService) ListListingsByUser(ctx context.Context, listingType models.ListingType, userID string) ([]models.Listing, error) {
	coll, err := ListingCollection(listingType)
	if err != nil {
		return nil, err
	}
	listings := []models.Listing{}
	err = s.store.Query(ctx, coll, db.Query{
		Filters:    []db.Filter{db.Where("user_id", db.OpEq, userID)},
		OrderBy:    "created_at",
		Descending: true,
	}, &listings)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings for user %s: %w", userID, err)
	}
	return listings, nil
}
