package handlers

import (
	"encoding/json"
	"log/slog"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
)

func (h *JsonApiHandler) submitProposal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs services.ProposalInput
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	proposal, err := h.proposalService.SubmitProposal(c.Request.Context(), authInfo.UserID, reqArgs)
	if err != nil {
		return nil, serviceError(err, "Failed to submit proposal", "agent_id", authInfo.UserID, "listing_id", reqArgs.ListingID)
	}
	return proposal, nil
}

type ListingProposalsArgs struct {
	ListingType models.ListingType `json:"listing_type"`
	ListingID   string             `json:"listing_id"`
}

func (h *JsonApiHandler) listListingProposals(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs ListingProposalsArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	proposals, err := h.proposalService.ListProposalsForListing(c.Request.Context(), reqArgs.ListingType, reqArgs.ListingID, authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to list proposals", "listing_id", reqArgs.ListingID)
	}
	return proposals, nil
}

func (h *JsonApiHandler) listMyProposals(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	proposals, err := h.proposalService.ListProposalsByAgent(c.Request.Context(), authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to list proposals", "agent_id", authInfo.UserID)
	}
	return proposals, nil
}

type ProposalArgs struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason,omitempty"`
}

// AcceptProposalResult tells the client which transaction workspace to open.
type AcceptProposalResult struct {
	TransactionID string `json:"transaction_id"`
}

func (h *JsonApiHandler) acceptProposal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs ProposalArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	transactionID, err := h.proposalService.AcceptProposal(c.Request.Context(), reqArgs.ProposalID, authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to accept proposal", "proposal_id", reqArgs.ProposalID)
	}
	slog.Info("Proposal accepted", "proposal_id", reqArgs.ProposalID, "transaction_id", transactionID, "user_id", authInfo.UserID)
	return AcceptProposalResult{TransactionID: transactionID}, nil
}

func (h *JsonApiHandler) rejectProposal(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	var reqArgs ProposalArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	if err := h.proposalService.RejectProposal(c.Request.Context(), reqArgs.ProposalID, authInfo.UserID, reqArgs.Reason); err != nil {
		return nil, serviceError(err, "Failed to reject proposal", "proposal_id", reqArgs.ProposalID)
	}
	return nil, nil
}
