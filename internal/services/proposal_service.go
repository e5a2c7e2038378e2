package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/events"
	"homeward/marketplace/internal/models"
)

// RejectedByAcceptanceReason is recorded on proposals rejected because another one was accepted.
const RejectedByAcceptanceReason = "Another proposal was accepted"

// ProposalInput is what an agent submits against a listing.
type ProposalInput struct {
	ListingID      string              `json:"listing_id"`
	ListingType    models.ListingType  `json:"listing_type"`
	FeeStructure   models.FeeStructure `json:"fee_structure"`
	CommissionRate float64             `json:"commission_rate,omitempty"`
	FlatFee        float64             `json:"flat_fee,omitempty"`
	Services       []string            `json:"services"`
	Message        string              `json:"message"`
}

// IProposalService manages the proposal lifecycle, including acceptance.
type IProposalService interface {
	SubmitProposal(ctx context.Context, agentID string, in ProposalInput) (*models.Proposal, error)
	FindProposalByID(ctx context.Context, proposalID string) (*models.Proposal, error)
	ListProposalsForListing(ctx context.Context, listingType models.ListingType, listingID, actingUserID string) ([]models.Proposal, error)
	ListProposalsByAgent(ctx context.Context, agentID string) ([]models.Proposal, error)
	AcceptProposal(ctx context.Context, proposalID, actingUserID string) (string, error)
	RejectProposal(ctx context.Context, proposalID, actingUserID, reason string) error
}

type proposalService struct {
	store         db.Store
	cfg           *config.Config
	now           db.Clock
	users         IUserService
	listings      IListingService
	transactions  ITransactionService
	notifications INotificationService
	events        events.Publisher
}

// NewProposalService creates a new ProposalService.
func NewProposalService(store db.Store, cfg *config.Config, users IUserService, listings IListingService, transactions ITransactionService, notifications INotificationService, publisher events.Publisher) IProposalService {
	return &proposalService{
		store:         store,
		cfg:           cfg,
		now:           db.UTCNow,
		users:         users,
		listings:      listings,
		transactions:  transactions,
		notifications: notifications,
		events:        publisher,
	}
}

func validateProposalInput(in ProposalInput) error {
	if in.ListingID == "" {
		return validationErr("listing_id is required")
	}
	if !in.ListingType.Valid() {
		return validationErr("invalid listing type %q", in.ListingType)
	}
	switch in.FeeStructure {
	case models.FeeStructurePercentage:
		if in.CommissionRate <= 0 || in.CommissionRate > 100 {
			return validationErr("commission rate must be between 0 and 100")
		}
	case models.FeeStructureFlat:
		if in.FlatFee <= 0 {
			return validationErr("flat fee must be positive")
		}
	default:
		return validationErr("invalid fee structure %q", in.FeeStructure)
	}
	if len(in.Services) == 0 {
		return validationErr("at least one service is required")
	}
	for _, s := range in.Services {
		if strings.TrimSpace(s) == "" {
			return validationErr("service names cannot be empty")
		}
	}
	return nil
}

// SubmitProposal records an agent's proposal on an active listing and notifies the listing owner.
func (s *proposalService) SubmitProposal(ctx context.Context, agentID string, in ProposalInput) (*models.Proposal, error) {
	if err := validateProposalInput(in); err != nil {
		return nil, err
	}

	agent, err := s.users.FindByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Role != models.RoleAgent {
		return nil, fmt.Errorf("user %s is not an agent: %w", agentID, ErrUnauthorized)
	}
	if s.cfg.RequireAgentVerification && !agent.AgentVerified {
		return nil, fmt.Errorf("agent %s is not verified: %w", agentID, ErrUnauthorized)
	}

	listing, err := s.listings.FindListingByID(ctx, in.ListingType, in.ListingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID == agentID {
		return nil, validationErr("cannot propose on your own listing")
	}
	if listing.Status != models.ListingStatusActive {
		return nil, fmt.Errorf("listing %s is %s: %w", listing.ID, listing.Status, ErrInvalidState)
	}

	var open []models.Proposal
	if err := s.store.Query(ctx, db.ProposalsCollection, db.Query{
		Filters: []db.Filter{
			db.Where("listing_id", db.OpEq, in.ListingID),
			db.Where("agent_id", db.OpEq, agentID),
			db.Where("status", db.OpIn, []models.ProposalStatus{models.ProposalStatusActive, models.ProposalStatusPending}),
		},
		Limit: 1,
	}, &open); err != nil {
		return nil, fmt.Errorf("failed to check existing proposals: %w", err)
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("agent %s already has an open proposal on listing %s: %w", agentID, in.ListingID, ErrConflict)
	}

	now := s.now()
	proposal := &models.Proposal{
		ListingID:    in.ListingID,
		ListingType:  in.ListingType,
		AgentID:      agentID,
		ClientID:     listing.UserID,
		Status:       models.ProposalStatusActive,
		FeeStructure: in.FeeStructure,
		Services:     append([]string(nil), in.Services...),
		Message:      strings.TrimSpace(in.Message),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.FeeStructure == models.FeeStructurePercentage {
		proposal.CommissionRate = in.CommissionRate
	} else {
		proposal.FlatFee = in.FlatFee
	}

	id, err := s.store.Add(ctx, db.ProposalsCollection, proposal)
	if err != nil {
		return nil, fmt.Errorf("failed to insert proposal for listing %s: %w", in.ListingID, err)
	}
	proposal.ID = id

	if _, err := s.notifications.CreateNotification(ctx, models.NotificationProposalReceived, NotificationData{
		Recipients:   []string{listing.UserID},
		ProposalID:   id,
		ListingID:    listing.ID,
		ListingTitle: listing.Title,
		ActorName:    agent.Name,
		ActionURL:    fmt.Sprintf("%s/listings/%s/%s/proposals", s.cfg.AppBaseURL, listing.Type, listing.ID),
		SendEmail:    true,
	}); err != nil {
		slog.Warn("Failed to notify listing owner of proposal", "proposal_id", id, "error", err)
	}
	return proposal, nil
}

func (s *proposalService) FindProposalByID(ctx context.Context, proposalID string) (*models.Proposal, error) {
	var p models.Proposal
	if err := s.store.Get(ctx, db.ProposalsCollection, proposalID, &p); err != nil {
		return nil, notFound(err, "proposal", proposalID)
	}
	return &p, nil
}

// ListProposalsForListing returns the listing's proposals, newest first. Only the owner may list them.
func (s *proposalService) ListProposalsForListing(ctx context.Context, listingType models.ListingType, listingID, actingUserID string) ([]models.Proposal, error) {
	listing, err := s.listings.FindListingByID(ctx, listingType, listingID)
	if err != nil {
		return nil, err
	}
	if listing.UserID != actingUserID {
		return nil, fmt.Errorf("listing %s is not owned by user %s: %w", listingID, actingUserID, ErrUnauthorized)
	}
	proposals := []models.Proposal{}
	if err := s.store.Query(ctx, db.ProposalsCollection, db.Query{
		Filters: []db.Filter{
			db.Where("listing_id", db.OpEq, listingID),
			db.Where("listing_type", db.OpEq, listingType),
		},
		OrderBy:    "created_at",
		Descending: true,
	}, &proposals); err != nil {
		return nil, fmt.Errorf("failed to list proposals for listing %s: %w", listingID, err)
	}
	return proposals, nil
}

func (s *proposalService) ListProposalsByAgent(ctx context.Context, agentID string) ([]models.Proposal, error) {
	proposals := []models.Proposal{}
	if err := s.store.Query(ctx, db.ProposalsCollection, db.Query{
		Filters:    []db.Filter{db.Where("agent_id", db.OpEq, agentID)},
		OrderBy:    "created_at",
		Descending: true,
	}, &proposals); err != nil {
		return nil, fmt.Errorf("failed to list proposals of agent %s: %w", agentID, err)
	}
	return proposals, nil
}

// AcceptProposal accepts a proposal on behalf of the listing owner and returns the id of the
// transaction created for it.
//
// The proposal and the listing are claimed with conditional writes so that at most one proposal per
// listing ends up Accepted even under concurrent calls. Open sibling proposals are rejected, the
// transaction workspace is bootstrapped and the agent is notified. Every step tolerates having run
// before, so calling it again after a partial failure finishes the job and returns the same
// transaction.
func (s *proposalService) AcceptProposal(ctx context.Context, proposalID, actingUserID string) (string, error) {
	proposal, err := s.FindProposalByID(ctx, proposalID)
	if err != nil {
		return "", err
	}
	listing, err := s.listings.FindListingByID(ctx, proposal.ListingType, proposal.ListingID)
	if err != nil {
		return "", err
	}
	if listing.UserID != actingUserID {
		return "", fmt.Errorf("listing %s is not owned by user %s: %w", listing.ID, actingUserID, ErrUnauthorized)
	}
	if proposal.Status == models.ProposalStatusRejected {
		return "", fmt.Errorf("proposal %s was rejected: %w", proposalID, ErrInvalidState)
	}
	if listing.AcceptedProposalID != "" && listing.AcceptedProposalID != proposalID {
		if proposal.Status == models.ProposalStatusAccepted {
			s.rollBack(ctx, proposal, listing)
		}
		return "", fmt.Errorf("listing %s already accepted proposal %s: %w", listing.ID, listing.AcceptedProposalID, ErrConflict)
	}

	now := s.now()
	if proposal.Status != models.ProposalStatusAccepted {
		ok, err := s.store.UpdateWhere(ctx, db.ProposalsCollection, proposalID,
			[]db.Filter{db.Where("status", db.OpIn, supersedable)},
			db.Fields{"status": models.ProposalStatusAccepted, "accepted_at": now, "updated_at": now})
		if err != nil {
			return "", fmt.Errorf("failed to accept proposal %s: %w", proposalID, err)
		}
		if !ok {
			return "", fmt.Errorf("proposal %s is no longer open: %w", proposalID, ErrInvalidState)
		}
		proposal.Status = models.ProposalStatusAccepted
		proposal.AcceptedAt = &now
	}

	coll, _ := ListingCollection(proposal.ListingType)
	claimed, err := s.store.UpdateWhere(ctx, coll, listing.ID,
		[]db.Filter{db.Where("accepted_proposal_id", db.OpIn, []string{"", proposalID})},
		db.Fields{
			"status":               models.ListingStatusAccepted,
			"accepted_proposal_id": proposalID,
			"accepted_agent_id":    proposal.AgentID,
			"accepted_at":          now,
			"updated_at":           now,
		})
	if err != nil {
		return "", fmt.Errorf("failed to mark listing %s accepted: %w", listing.ID, err)
	}
	if !claimed {
		s.rollBack(ctx, proposal, listing)
		return "", fmt.Errorf("listing %s was accepted for another proposal: %w", listing.ID, ErrConflict)
	}

	if err := s.rejectSiblings(ctx, proposal, listing); err != nil {
		return "", err
	}

	txID, err := s.transactions.CreateTransaction(ctx, proposal, listing.UserID, proposal.AgentID)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction for proposal %s: %w", proposalID, err)
	}

	if _, err := s.notifications.CreateNotification(ctx, models.NotificationProposalAccepted, NotificationData{
		Recipients:    []string{proposal.AgentID},
		ProposalID:    proposalID,
		ListingID:     listing.ID,
		ListingTitle:  listing.Title,
		TransactionID: txID,
		ActionURL:     transactionURL(s.cfg, txID),
		DedupKey:      "proposal_accepted:" + proposalID,
		SendEmail:     true,
	}); err != nil {
		return "", fmt.Errorf("failed to notify agent of accepted proposal %s: %w", proposalID, err)
	}

	s.publish(ctx, events.New(events.ProposalAccepted, map[string]interface{}{
		"proposal_id":    proposalID,
		"listing_id":     listing.ID,
		"listing_type":   string(listing.Type),
		"agent_id":       proposal.AgentID,
		"client_id":      listing.UserID,
		"transaction_id": txID,
	}))
	slog.Info("Proposal accepted", "proposal_id", proposalID, "listing_id", listing.ID, "transaction_id", txID)
	return txID, nil
}

var (
	openStatuses     = []models.ProposalStatus{models.ProposalStatusActive, models.ProposalStatusPending}
	supersedable     = []models.ProposalStatus{models.ProposalStatusActive, models.ProposalStatusPending, models.ProposalStatusAccepted}
	acceptedStatuses = []models.ProposalStatus{models.ProposalStatusAccepted}
)

// rejectSiblings rejects every other proposal on the listing concurrently. That includes proposals left
// Accepted by an acceptance that failed before claiming the listing. Rejected proposals are left untouched.
func (s *proposalService) rejectSiblings(ctx context.Context, accepted *models.Proposal, listing *models.Listing) error {
	var siblings []models.Proposal
	if err := s.store.Query(ctx, db.ProposalsCollection, db.Query{
		Filters: []db.Filter{
			db.Where("listing_id", db.OpEq, accepted.ListingID),
			db.Where("listing_type", db.OpEq, accepted.ListingType),
			db.Where("status", db.OpIn, supersedable),
		},
	}, &siblings); err != nil {
		return fmt.Errorf("failed to list competing proposals for listing %s: %w", listing.ID, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, sibling := range siblings {
		if sibling.ID == accepted.ID {
			continue
		}
		sibling := sibling
		g.Go(func() error {
			return s.reject(gctx, &sibling, listing, RejectedByAcceptanceReason, supersedable)
		})
	}
	return g.Wait()
}

// rollBack rejects a proposal that was marked Accepted but lost the listing to another proposal.
func (s *proposalService) rollBack(ctx context.Context, p *models.Proposal, listing *models.Listing) {
	if err := s.reject(ctx, p, listing, RejectedByAcceptanceReason, acceptedStatuses); err != nil {
		slog.Error("Failed to roll back proposal that lost the listing", "proposal_id", p.ID, "listing_id", listing.ID, "error", err)
	}
}

// reject conditionally moves a proposal whose status is one of from to rejected and notifies its agent.
func (s *proposalService) reject(ctx context.Context, p *models.Proposal, listing *models.Listing, reason string, from []models.ProposalStatus) error {
	now := s.now()
	ok, err := s.store.UpdateWhere(ctx, db.ProposalsCollection, p.ID,
		[]db.Filter{db.Where("status", db.OpIn, from)},
		db.Fields{"status": models.ProposalStatusRejected, "rejected_reason": reason, "rejected_at": now, "updated_at": now})
	if err != nil {
		return fmt.Errorf("failed to reject proposal %s: %w", p.ID, err)
	}
	if !ok {
		return nil
	}

	if _, err := s.notifications.CreateNotification(ctx, models.NotificationProposalRejected, NotificationData{
		Recipients:   []string{p.AgentID},
		ProposalID:   p.ID,
		ListingID:    listing.ID,
		ListingTitle: listing.Title,
		Reason:       reason,
		DedupKey:     "proposal_rejected:" + p.ID,
		SendEmail:    true,
	}); err != nil {
		return fmt.Errorf("failed to notify agent of rejected proposal %s: %w", p.ID, err)
	}
	s.publish(ctx, events.New(events.ProposalRejected, map[string]interface{}{
		"proposal_id": p.ID,
		"listing_id":  listing.ID,
		"agent_id":    p.AgentID,
		"reason":      reason,
	}))
	return nil
}

// RejectProposal lets the listing owner decline an open proposal.
func (s *proposalService) RejectProposal(ctx context.Context, proposalID, actingUserID, reason string) error {
	proposal, err := s.FindProposalByID(ctx, proposalID)
	if err != nil {
		return err
	}
	listing, err := s.listings.FindListingByID(ctx, proposal.ListingType, proposal.ListingID)
	if err != nil {
		return err
	}
	if listing.UserID != actingUserID {
		return fmt.Errorf("listing %s is not owned by user %s: %w", listing.ID, actingUserID, ErrUnauthorized)
	}
	if !proposal.Status.IsOpen() {
		return fmt.Errorf("proposal %s is %s: %w", proposalID, proposal.Status, ErrInvalidState)
	}

	before := proposal.Status
	if err := s.reject(ctx, proposal, listing, strings.TrimSpace(reason), openStatuses); err != nil {
		return err
	}
	current, err := s.FindProposalByID(ctx, proposalID)
	if err != nil {
		return err
	}
	if current.Status != models.ProposalStatusRejected {
		return fmt.Errorf("proposal %s changed from %s to %s: %w", proposalID, before, current.Status, ErrInvalidState)
	}
	return nil
}

func (s *proposalService) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		slog.Warn("Failed to publish event", "type", e.Type, "error", err)
	}
}
