package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"homeward/marketplace/internal/catalog"
	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/db"
	"homeward/marketplace/internal/events"
	"homeward/marketplace/internal/models"
)

// stepClock returns a strictly increasing time, one second per call, so ordering by timestamp
// is deterministic.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) ofType(t string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type recordingEmails struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (r *recordingEmails) EnqueueNotificationEmail(ctx context.Context, n *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, *n)
	return nil
}

func (r *recordingEmails) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type fixture struct {
	t             *testing.T
	ctx           context.Context
	store         *db.MemoryStore
	cfg           *config.Config
	clock         *stepClock
	events        *recordingPublisher
	emails        *recordingEmails
	users         IUserService
	listings      IListingService
	notifications INotificationService
	transactions  ITransactionService
	proposals     IProposalService
	messages      IMessageService
	scanner       IDeadlineScanner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore wires the services to wrap(memory store) so tests can inject latency or failures.
// f.store stays the underlying memory store for direct inspection.
func newFixtureWithStore(t *testing.T, wrap func(db.Store) db.Store) *fixture {
	t.Helper()
	clock := newStepClock()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  db.NewMemoryStore(clock.Now),
		cfg:    config.Defaults(),
		clock:  clock,
		events: &recordingPublisher{},
		emails: &recordingEmails{},
	}

	var store db.Store = f.store
	if wrap != nil {
		store = wrap(f.store)
	}

	users := NewUserService(store, f.cfg).(*userService)
	users.now = clock.Now
	listings := NewListingService(store, f.cfg).(*listingService)
	listings.now = clock.Now
	notifications := NewNotificationService(store).(*notificationService)
	notifications.now = clock.Now
	notifications.SetEmailDispatcher(f.emails)
	transactions := NewTransactionService(store, f.cfg, catalog.Default(), listings, notifications, f.events).(*transactionService)
	transactions.now = clock.Now
	proposals := NewProposalService(store, f.cfg, users, listings, transactions, notifications, f.events).(*proposalService)
	proposals.now = clock.Now
	messages := NewMessageService(store, f.cfg, users, proposals, notifications).(*messageService)
	messages.now = clock.Now
	scanner := NewDeadlineScanner(store, f.cfg, notifications).(*deadlineScanner)
	scanner.now = clock.Now

	f.users, f.listings, f.notifications = users, listings, notifications
	f.transactions, f.proposals, f.messages, f.scanner = transactions, proposals, messages, scanner
	return f
}

// addUser stores a user directly, skipping password hashing.
func (f *fixture) addUser(name string, role models.Role) string {
	f.t.Helper()
	id, err := f.store.Add(f.ctx, db.UsersCollection, &models.User{
		Name:  name,
		Email: name + "@example.com",
		Role:  role,
	})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) addSellerListing(ownerID string) *models.Listing {
	f.t.Helper()
	listing, err := f.listings.CreateListing(f.ctx, ownerID, models.ListingTypeSeller, ListingInput{
		Title:   "Sunny bungalow",
		Address: &models.Address{Street: "12 Elm St", City: "Springfield", State: "IL", Zip: "62701"},
		Price:   350000,
		Geo:     &models.GeoPoint{Lat: 39.7817, Lng: -89.6501},
	})
	require.NoError(f.t, err)
	return listing
}

func (f *fixture) submit(agentID string, listing *models.Listing, services ...string) *models.Proposal {
	f.t.Helper()
	p, err := f.proposals.SubmitProposal(f.ctx, agentID, ProposalInput{
		ListingID:      listing.ID,
		ListingType:    listing.Type,
		FeeStructure:   models.FeeStructurePercentage,
		CommissionRate: 2.5,
		Services:       services,
		Message:        "Happy to help",
	})
	require.NoError(f.t, err)
	return p
}

func (f *fixture) proposal(id string) models.Proposal {
	f.t.Helper()
	var p models.Proposal
	require.NoError(f.t, f.store.Get(f.ctx, db.ProposalsCollection, id, &p))
	return p
}

func (f *fixture) listing(l *models.Listing) models.Listing {
	f.t.Helper()
	coll, err := ListingCollection(l.Type)
	require.NoError(f.t, err)
	var out models.Listing
	require.NoError(f.t, f.store.Get(f.ctx, coll, l.ID, &out))
	return out
}

func (f *fixture) notificationsFor(userID string, t models.NotificationType) []models.Notification {
	f.t.Helper()
	var out []models.Notification
	require.NoError(f.t, f.store.Query(f.ctx, db.NotificationsCollection, db.Query{
		Filters: []db.Filter{db.Where("user_id", db.OpEq, userID), db.Where("type", db.OpEq, t)},
	}, &out))
	return out
}

func (f *fixture) servicesOf(txID string) []models.TransactionService {
	f.t.Helper()
	var out []models.TransactionService
	require.NoError(f.t, f.store.Query(f.ctx, db.TransactionServicesCollection, db.Query{
		Filters: []db.Filter{db.Where("transaction_id", db.OpEq, txID)},
		OrderBy: "position",
	}, &out))
	return out
}

// faultyStore delays or fails selected calls of the wrapped store.
type faultyStore struct {
	db.Store
	getDelay map[string]time.Duration

	mu          sync.Mutex
	failUpdates map[string]int
}

func (s *faultyStore) Get(ctx context.Context, collection, id string, out interface{}) error {
	if d := s.getDelay[collection]; d > 0 {
		time.Sleep(d)
	}
	return s.Store.Get(ctx, collection, id, out)
}

func (s *faultyStore) UpdateWhere(ctx context.Context, collection, id string, conditions []db.Filter, fields db.Fields) (bool, error) {
	s.mu.Lock()
	fail := s.failUpdates[collection] > 0
	if fail {
		s.failUpdates[collection]--
	}
	s.mu.Unlock()
	if fail {
		return false, &db.RemoteCallError{Op: "update", Collection: collection, Err: errors.New("connection reset by peer")}
	}
	return s.Store.UpdateWhere(ctx, collection, id, conditions, fields)
}
