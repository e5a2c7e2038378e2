package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/events"
	"homeward/marketplace/internal/models"
)

func TestSubmitProposal(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(client)

	p := f.submit(agent, listing, "market_analysis")
	assert.Equal(t, models.ProposalStatusActive, p.Status)
	assert.Equal(t, client, p.ClientID)
	assert.Equal(t, 2.5, p.CommissionRate)
	assert.Zero(t, p.FlatFee)

	received := f.notificationsFor(client, models.NotificationProposalReceived)
	require.Len(t, received, 1)
	assert.Contains(t, received[0].Message, "alice")
	assert.Equal(t, 1, f.emails.count())

	t.Run("second open proposal from same agent conflicts", func(t *testing.T) {
		_, err := f.proposals.SubmitProposal(f.ctx, agent, ProposalInput{
			ListingID: listing.ID, ListingType: listing.Type,
			FeeStructure: models.FeeStructureFlat, FlatFee: 5000, Services: []string{"paperwork"},
		})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("non-agent is refused", func(t *testing.T) {
		buyer := f.addUser("bob", models.RoleBuyer)
		_, err := f.proposals.SubmitProposal(f.ctx, buyer, ProposalInput{
			ListingID: listing.ID, ListingType: listing.Type,
			FeeStructure: models.FeeStructureFlat, FlatFee: 5000, Services: []string{"paperwork"},
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("invalid input", func(t *testing.T) {
		_, err := f.proposals.SubmitProposal(f.ctx, agent, ProposalInput{
			ListingID: listing.ID, ListingType: listing.Type,
			FeeStructure: models.FeeStructurePercentage, CommissionRate: 120, Services: []string{"paperwork"},
		})
		assert.ErrorIs(t, err, ErrValidation)

		_, err = f.proposals.SubmitProposal(f.ctx, agent, ProposalInput{
			ListingID: listing.ID, ListingType: listing.Type,
			FeeStructure: models.FeeStructureFlat, FlatFee: 100,
		})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("unverified agent refused when verification is required", func(t *testing.T) {
		f.cfg.RequireAgentVerification = true
		defer func() { f.cfg.RequireAgentVerification = false }()
		other := f.addUser("dave", models.RoleAgent)
		_, err := f.proposals.SubmitProposal(f.ctx, other, ProposalInput{
			ListingID: listing.ID, ListingType: listing.Type,
			FeeStructure: models.FeeStructureFlat, FlatFee: 100, Services: []string{"paperwork"},
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestSubmitProposal_ListingNotActive(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(client)
	require.NoError(t, f.listings.SetListingStatus(f.ctx, listing.Type, listing.ID, client, models.ListingStatusPaused))

	_, err := f.proposals.SubmitProposal(f.ctx, agent, ProposalInput{
		ListingID: listing.ID, ListingType: listing.Type,
		FeeStructure: models.FeeStructureFlat, FlatFee: 100, Services: []string{"paperwork"},
	})
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAcceptProposal_BootstrapsTransaction(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(client)
	p1 := f.submit(agent, listing, "property_showings", "market_analysis")

	txID, err := f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	accepted := f.proposal(p1.ID)
	assert.Equal(t, models.ProposalStatusAccepted, accepted.Status)
	assert.Equal(t, txID, accepted.TransactionID)
	assert.NotNil(t, accepted.AcceptedAt)

	l := f.listing(listing)
	assert.Equal(t, models.ListingStatusAccepted, l.Status)
	assert.Equal(t, p1.ID, l.AcceptedProposalID)
	assert.Equal(t, agent, l.AcceptedAgentID)

	tx, err := f.transactions.FindTransactionByID(f.ctx, txID, client, false)
	require.NoError(t, err)
	assert.Equal(t, p1.ID, tx.ProposalID)
	assert.Equal(t, models.TransactionStatusActive, tx.Status)
	assert.Equal(t, "12 Elm St, Springfield, IL 62701", tx.PropertyDetails.Address)
	assert.Equal(t, 350000.0, tx.PropertyDetails.Price)
	assert.Equal(t, tx.Timeline.ProposalAccepted.AddDate(0, 0, 30), tx.Timeline.ExpectedClosing)

	services := f.servicesOf(txID)
	require.Len(t, services, 2)
	assert.Equal(t, "property_showings", services[0].ServiceName)
	assert.Equal(t, "Property Showings", services[0].DisplayName)
	assert.Equal(t, "market_analysis", services[1].ServiceName)
	for _, svc := range services {
		assert.NotEmpty(t, svc.Tasks)
		assert.Equal(t, models.TaskStatusPending, svc.Status)
	}

	assert.Len(t, f.notificationsFor(agent, models.NotificationProposalAccepted), 1)
	assert.Len(t, f.events.ofType(events.ProposalAccepted), 1)
	assert.Len(t, f.events.ofType(events.TransactionCreated), 1)
}

func TestAcceptProposal_RejectsOpenSiblingsOnly(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	a1 := f.addUser("alice", models.RoleAgent)
	a2 := f.addUser("bruno", models.RoleAgent)
	a3 := f.addUser("chen", models.RoleAgent)
	listing := f.addSellerListing(client)

	p1 := f.submit(a1, listing, "paperwork")
	p2 := f.submit(a2, listing, "paperwork")
	p3 := f.submit(a3, listing, "paperwork")
	require.NoError(t, f.proposals.RejectProposal(f.ctx, p3.ID, client, "Fee too high"))
	p3Before := f.proposal(p3.ID)

	_, err := f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	require.NoError(t, err)

	p2After := f.proposal(p2.ID)
	assert.Equal(t, models.ProposalStatusRejected, p2After.Status)
	assert.Equal(t, RejectedByAcceptanceReason, p2After.RejectedReason)
	assert.Len(t, f.notificationsFor(a2, models.NotificationProposalRejected), 1)

	p3After := f.proposal(p3.ID)
	assert.Equal(t, models.ProposalStatusRejected, p3After.Status)
	assert.Equal(t, "Fee too high", p3After.RejectedReason)
	assert.Equal(t, p3Before.UpdatedAt, p3After.UpdatedAt)
	assert.Len(t, f.notificationsFor(a3, models.NotificationProposalRejected), 1)
}

func TestAcceptProposal_Idempotent(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(client)
	p1 := f.submit(agent, listing, "negotiation", "paperwork")

	first, err := f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	require.NoError(t, err)
	second, err := f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.servicesOf(first), 2)
	assert.Len(t, f.notificationsFor(agent, models.NotificationProposalAccepted), 1)
	assert.Len(t, f.events.ofType(events.TransactionCreated), 1)

	var txs []models.Transaction
	require.NoError(t, f.store.Query(f.ctx, db.TransactionsCollection, db.Query{}, &txs))
	assert.Len(t, txs, 1)
}

func TestAcceptProposal_Refusals(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	a1 := f.addUser("alice", models.RoleAgent)
	a2 := f.addUser("bruno", models.RoleAgent)
	listing := f.addSellerListing(client)
	p1 := f.submit(a1, listing, "paperwork")
	p2 := f.submit(a2, listing, "paperwork")

	_, err := f.proposals.AcceptProposal(f.ctx, p1.ID, a2)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.proposals.AcceptProposal(f.ctx, "NOPE", client)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	require.NoError(t, err)

	// p2 was rejected as a sibling and can no longer be accepted.
	_, err = f.proposals.AcceptProposal(f.ctx, p2.ID, client)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, models.ProposalStatusRejected, f.proposal(p2.ID).Status)
	assert.Equal(t, p1.ID, f.listing(listing).AcceptedProposalID)
}

func TestAcceptProposal_ListingHeldByAnother(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	a1 := f.addUser("alice", models.RoleAgent)
	a2 := f.addUser("bruno", models.RoleAgent)
	listing := f.addSellerListing(client)
	p1 := f.submit(a1, listing, "paperwork")
	p2 := f.submit(a2, listing, "paperwork")

	// Simulate a competing acceptance that has claimed the listing but not yet rejected p2.
	coll, _ := ListingCollection(listing.Type)
	require.NoError(t, f.store.Set(f.ctx, coll, listing.ID, db.Fields{
		"status":               models.ListingStatusAccepted,
		"accepted_proposal_id": p1.ID,
	}, true))

	_, err := f.proposals.AcceptProposal(f.ctx, p2.ID, client)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.ProposalStatusActive, f.proposal(p2.ID).Status)
}

func TestAcceptProposal_Concurrent(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	listing := f.addSellerListing(client)

	var proposals []*models.Proposal
	for _, name := range []string{"alice", "bruno", "chen", "dana"} {
		proposals = append(proposals, f.submit(f.addUser(name, models.RoleAgent), listing, "paperwork"))
	}

	var wg sync.WaitGroup
	results := make([]error, len(proposals))
	txIDs := make([]string, len(proposals))
	for i, p := range proposals {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			txIDs[i], results[i] = f.proposals.AcceptProposal(f.ctx, id, client)
		}(i, p.ID)
	}
	wg.Wait()

	winners := 0
	winner := ""
	for i, err := range results {
		if err == nil {
			winners++
			winner = proposals[i].ID
			assert.NotEmpty(t, txIDs[i])
			continue
		}
		assert.True(t, errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidState), "unexpected error: %v", err)
	}
	require.Equal(t, 1, winners)

	accepted := 0
	for _, p := range proposals {
		stored := f.proposal(p.ID)
		if stored.Status == models.ProposalStatusAccepted {
			accepted++
			assert.Equal(t, winner, p.ID)
		} else {
			assert.Equal(t, models.ProposalStatusRejected, stored.Status)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, winner, f.listing(listing).AcceptedProposalID)

	var txs []models.Transaction
	require.NoError(t, f.store.Query(f.ctx, db.TransactionsCollection, db.Query{}, &txs))
	assert.Len(t, txs, 1)
}

func TestRejectProposal(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(client)
	p := f.submit(agent, listing, "paperwork")

	assert.ErrorIs(t, f.proposals.RejectProposal(f.ctx, p.ID, agent, "no"), ErrUnauthorized)
	require.NoError(t, f.proposals.RejectProposal(f.ctx, p.ID, client, "  Found someone else  "))

	stored := f.proposal(p.ID)
	assert.Equal(t, models.ProposalStatusRejected, stored.Status)
	assert.Equal(t, "Found someone else", stored.RejectedReason)
	assert.Len(t, f.events.ofType(events.ProposalRejected), 1)

	assert.ErrorIs(t, f.proposals.RejectProposal(f.ctx, p.ID, client, "again"), ErrInvalidState)
}

func TestListProposals(t *testing.T) {
	f := newFixture(t)
	client := f.addUser("carol", models.RoleSeller)
	a1 := f.addUser("alice", models.RoleAgent)
	a2 := f.addUser("bruno", models.RoleAgent)
	listing := f.addSellerListing(client)
	p1 := f.submit(a1, listing, "paperwork")
	p2 := f.submit(a2, listing, "paperwork")

	list, err := f.proposals.ListProposalsForListing(f.ctx, listing.Type, listing.ID, client)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, p2.ID, list[0].ID)
	assert.Equal(t, p1.ID, list[1].ID)

	_, err = f.proposals.ListProposalsForListing(f.ctx, listing.Type, listing.ID, a1)
	assert.ErrorIs(t, err, ErrUnauthorized)

	mine, err := f.proposals.ListProposalsByAgent(f.ctx, a1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, p1.ID, mine[0].ID)
}

func TestAcceptProposal_SameProposalTwiceConcurrently(t *testing.T) {
	f := newFixtureWithStore(t, func(s db.Store) db.Store {
		return &faultyStore{Store: s, getDelay: map[string]time.Duration{db.TransactionsCollection: 50 * time.Millisecond}}
	})
	client := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(client)
	p := f.submit(agent, listing, "negotiation", "paperwork")

	var wg sync.WaitGroup
	txIDs := make([]string, 2)
	errs := make([]error, 2)
	for i := range txIDs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txIDs[i], errs[i] = f.proposals.AcceptProposal(f.ctx, p.ID, client)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, txIDs[0], txIDs[1])
	assert.Equal(t, txIDs[0], f.proposal(p.ID).TransactionID)

	var txs []models.Transaction
	require.NoError(t, f.store.Query(f.ctx, db.TransactionsCollection, db.Query{}, &txs))
	require.Len(t, txs, 1)
	assert.Equal(t, txIDs[0], txs[0].ID)
	assert.Len(t, f.servicesOf(txIDs[0]), 2)
	assert.Len(t, f.events.ofType(events.TransactionCreated), 1)
	assert.Len(t, f.notificationsFor(agent, models.NotificationProposalAccepted), 1)
}

func TestAcceptProposal_ResumesAfterListingWriteFailure(t *testing.T) {
	faulty := &faultyStore{failUpdates: map[string]int{db.SellerListingsCollection: 1}}
	f := newFixtureWithStore(t, func(s db.Store) db.Store {
		faulty.Store = s
		return faulty
	})
	client := f.addUser("carol", models.RoleSeller)
	agent := f.addUser("alice", models.RoleAgent)
	listing := f.addSellerListing(client)
	p := f.submit(agent, listing, "paperwork")

	_, err := f.proposals.AcceptProposal(f.ctx, p.ID, client)
	var remote *db.RemoteCallError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, models.ProposalStatusAccepted, f.proposal(p.ID).Status)
	assert.Empty(t, f.listing(listing).AcceptedProposalID)

	txID, err := f.proposals.AcceptProposal(f.ctx, p.ID, client)
	require.NoError(t, err)
	assert.Equal(t, p.ID, f.listing(listing).AcceptedProposalID)
	assert.Equal(t, txID, f.proposal(p.ID).TransactionID)
	assert.Len(t, f.servicesOf(txID), 1)
}

func TestAcceptProposal_StrandedAcceptanceIsRejectedByWinner(t *testing.T) {
	faulty := &faultyStore{failUpdates: map[string]int{db.SellerListingsCollection: 1}}
	f := newFixtureWithStore(t, func(s db.Store) db.Store {
		faulty.Store = s
		return faulty
	})
	client := f.addUser("carol", models.RoleSeller)
	a1 := f.addUser("alice", models.RoleAgent)
	a2 := f.addUser("bruno", models.RoleAgent)
	listing := f.addSellerListing(client)
	p1 := f.submit(a1, listing, "paperwork")
	p2 := f.submit(a2, listing, "paperwork")

	_, err := f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	require.Error(t, err)
	require.Equal(t, models.ProposalStatusAccepted, f.proposal(p1.ID).Status)

	_, err = f.proposals.AcceptProposal(f.ctx, p2.ID, client)
	require.NoError(t, err)

	assert.Equal(t, models.ProposalStatusAccepted, f.proposal(p2.ID).Status)
	stranded := f.proposal(p1.ID)
	assert.Equal(t, models.ProposalStatusRejected, stranded.Status)
	assert.Equal(t, RejectedByAcceptanceReason, stranded.RejectedReason)
	assert.Equal(t, p2.ID, f.listing(listing).AcceptedProposalID)
	assert.Len(t, f.notificationsFor(a1, models.NotificationProposalRejected), 1)

	_, err = f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, models.ProposalStatusRejected, f.proposal(p1.ID).Status)
}

func TestAcceptProposal_StrandedAcceptanceRolledBackOnRetry(t *testing.T) {
	faulty := &faultyStore{failUpdates: map[string]int{db.SellerListingsCollection: 1}}
	f := newFixtureWithStore(t, func(s db.Store) db.Store {
		faulty.Store = s
		return faulty
	})
	client := f.addUser("carol", models.RoleSeller)
	a1 := f.addUser("alice", models.RoleAgent)
	a2 := f.addUser("bruno", models.RoleAgent)
	listing := f.addSellerListing(client)
	p1 := f.submit(a1, listing, "paperwork")
	p2 := f.submit(a2, listing, "paperwork")

	_, err := f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	require.Error(t, err)

	// A competing acceptance has claimed the listing but not yet swept its siblings.
	coll, _ := ListingCollection(listing.Type)
	require.NoError(t, f.store.Set(f.ctx, coll, listing.ID, db.Fields{
		"status":               models.ListingStatusAccepted,
		"accepted_proposal_id": p2.ID,
	}, true))

	_, err = f.proposals.AcceptProposal(f.ctx, p1.ID, client)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.ProposalStatusRejected, f.proposal(p1.ID).Status)
	assert.Len(t, f.notificationsFor(a1, models.NotificationProposalRejected), 1)
	rejected := f.events.ofType(events.ProposalRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, p1.ID, rejected[0].Data["proposal_id"])
}
