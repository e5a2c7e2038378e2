package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
	"homeward/marketplace/internal/utils"
)

// RestListingHandler handles REST requests for listings.
type RestListingHandler struct {
	listingService services.IListingService
}

// NewRestListingHandler creates a new RestListingHandler.
func NewRestListingHandler(listingService services.IListingService) *RestListingHandler {
	return &RestListingHandler{listingService: listingService}
}

func parseListingType(c *gin.Context) (models.ListingType, bool) {
	t := models.ListingType(c.Param("type"))
	if !t.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Listing type must be buyer or seller"})
		return "", false
	}
	return t, true
}

func optionalFloat(c *gin.Context, key string) (*float64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + key})
		return nil, false
	}
	return &v, true
}

// SearchListings handles GET /v1/listing/:type/search
func (h *RestListingHandler) SearchListings(c *gin.Context) {
	listingType, ok := parseListingType(c)
	if !ok {
		return
	}

	search := services.ListingSearch{
		Type:     listingType,
		Status:   models.ListingStatus(c.Query("status")),
		City:     c.Query("city"),
		Location: c.Query("location"),
	}
	if search.MinPrice, ok = optionalFloat(c, "min_price"); !ok {
		return
	}
	if search.MaxPrice, ok = optionalFloat(c, "max_price"); !ok {
		return
	}

	lat, ok := optionalFloat(c, "lat")
	if !ok {
		return
	}
	lng, ok := optionalFloat(c, "lng")
	if !ok {
		return
	}
	if lat != nil && lng != nil {
		search.Near = &models.GeoPoint{Lat: *lat, Lng: *lng}
		search.Precision, _ = strconv.Atoi(c.Query("precision"))
	}

	search.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if raw := c.Query("cursor"); raw != "" {
		cursor, err := services.ParsePageCursor(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
			return
		}
		search.Cursor = cursor
	}

	listings, nextCursor, err := h.listingService.SearchListings(c.Request.Context(), search)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to search listings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":        listings,
		"next_cursor": nextCursor,
	})
}

// GetListingByID handles GET /v1/listing/:type/:id
func (h *RestListingHandler) GetListingByID(c *gin.Context) {
	listingType, ok := parseListingType(c)
	if !ok {
		return
	}
	listingID := c.Param("id")
	if !utils.IsValidID(listingID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid listing ID format"})
		return
	}

	listing, err := h.listingService.FindListingByID(c.Request.Context(), listingType, listingID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Listing not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve listing"})
		}
		return
	}
	c.JSON(http.StatusOK, listing)
}

// GetUserListings handles GET /v1/user/:id/listing?type=seller and returns the user's active listings.
func (h *RestListingHandler) GetUserListings(c *gin.Context) {
	userID := c.Param("id")
	if !utils.IsValidID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}
	listingType := models.ListingType(c.DefaultQuery("type", string(models.ListingTypeSeller)))
	if !listingType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Listing type must be buyer or seller"})
		return
	}

	listings, err := h.listingService.ListListingsByUser(c.Request.Context(), listingType, userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch listings"})
		return
	}

	active := make([]models.Listing, 0, len(listings))
	for _, l := range listings {
		if l.Status == models.ListingStatusActive {
			active = append(active, l)
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": active})
}
