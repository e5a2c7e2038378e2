package handlers

import (
	"encoding/json"
	"log/slog"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
)

type CreateListingArgs struct {
	Type models.ListingType `json:"type"`
	services.ListingInput
}

func (h *JsonApiHandler) createListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs CreateListingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	listing, err := h.listingService.CreateListing(c.Request.Context(), authInfo.UserID, reqArgs.Type, reqArgs.ListingInput)
	if err != nil {
		return nil, serviceError(err, "Failed to create listing", "user_id", authInfo.UserID)
	}
	slog.Info("Created listing", "listing_id", listing.ID, "type", listing.Type, "user_id", authInfo.UserID)
	return listing, nil
}

type UpdateListingArgs struct {
	Type      models.ListingType     `json:"type"`
	ListingID string                 `json:"listing_id"`
	Updates   services.ListingUpdate `json:"updates"`
}

func (h *JsonApiHandler) updateListing(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs UpdateListingArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	listing, err := h.listingService.UpdateListing(c.Request.Context(), reqArgs.Type, reqArgs.ListingID, authInfo.UserID, reqArgs.Updates)
	if err != nil {
		return nil, serviceError(err, "Failed to update listing", "listing_id", reqArgs.ListingID)
	}
	return listing, nil
}

type SetListingStatusArgs struct {
	Type      models.ListingType   `json:"type"`
	ListingID string               `json:"listing_id"`
	Status    models.ListingStatus `json:"status"`
}

func (h *JsonApiHandler) setListingStatus(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs SetListingStatusArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	err := h.listingService.SetListingStatus(c.Request.Context(), reqArgs.Type, reqArgs.ListingID, authInfo.UserID, reqArgs.Status)
	if err != nil {
		return nil, serviceError(err, "Failed to change listing status", "listing_id", reqArgs.ListingID)
	}
	return nil, nil
}

type ListingTypeArgs struct {
	Type models.ListingType `json:"type"`
}

func (h *JsonApiHandler) listMyListings(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs ListingTypeArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	listings, err := h.listingService.ListListingsByUser(c.Request.Context(), reqArgs.Type, authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to list listings", "user_id", authInfo.UserID)
	}
	return listings, nil
}
