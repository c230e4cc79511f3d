package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/barterhub/internal/cache"
	"github.com/geocoder89/barterhub/internal/catalog"
	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/trade"
	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/geocoder89/barterhub/internal/identity"
	"github.com/geocoder89/barterhub/internal/jobs"
	"github.com/geocoder89/barterhub/internal/realtime"
	"github.com/geocoder89/barterhub/internal/repo/memory"
	"github.com/geocoder89/barterhub/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]realtime.Event
}

func (p *recordingPublisher) Publish(userID string, ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]realtime.Event)
	}
	p.events[userID] = append(p.events[userID], ev)
}

func (p *recordingPublisher) last(userID string) (realtime.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	evs := p.events[userID]
	if len(evs) == 0 {
		return realtime.Event{}, false
	}
	return evs[len(evs)-1], true
}

type fixture struct {
	svc     *Service
	catalog *catalog.Service
	store   *memory.Store
	pub     *recordingPublisher
	ann     user.User
	bob     user.User
	cat     user.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith lets a test wrap the item store the catalog reads through.
func newFixtureWith(t *testing.T, wrap func(catalog.ItemStore) catalog.ItemStore) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	users, err := identity.NewService(store.Users(), 16, nil)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}

	register := func(name string) user.User {
		u, err := users.Register(ctx, user.SignUpRequest{Username: name, Email: name + "@example.com", Password: "secret1"})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
		return u
	}

	images, err := storage.NewDiskStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}

	var items catalog.ItemStore = store.Items()
	if wrap != nil {
		items = wrap(items)
	}

	cat := catalog.NewService(catalog.Deps{
		Items:  items,
		Users:  users,
		Images: images,
		Feed:   cache.New(time.Minute),
		Outbox: store.Jobs(),
	})

	pub := &recordingPublisher{}
	svc := NewService(Deps{
		Trades:   store.Trades(),
		Catalog:  cat,
		Users:    users,
		Realtime: pub,
	})

	return &fixture{
		svc:     svc,
		catalog: cat,
		store:   store,
		pub:     pub,
		ann:     register("ann"),
		bob:     register("bob"),
		cat:     register("cat"),
	}
}

func (f *fixture) seed(t *testing.T, ownerID, title string) item.Item {
	t.Helper()
	it := item.New(ownerID, item.Fields{Title: title, Size: "M", Condition: "good", Preferences: "anything"}, "/uploads/"+title+".jpg")
	if err := f.store.Items().Create(context.Background(), it); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return it
}

func TestJacketForBoots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jacket := f.seed(t, f.ann.ID, "Jacket")
	boots := f.seed(t, f.bob.ID, "Boots")

	// warm the feed so acceptance has to invalidate it
	if feed, _ := f.catalog.ListItems(ctx, f.cat.ID); len(feed) != 2 {
		t.Fatalf("expected both items in the feed, got %d", len(feed))
	}

	proposed, err := f.svc.Propose(ctx, f.ann.ID, trade.ProposeRequest{
		ProposedTo:    f.bob.ID,
		ProposedItem:  jacket.ID,
		RequestedItem: boots.ID,
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if proposed.Status != trade.StatusPending {
		t.Fatalf("expected pending, got %s", proposed.Status)
	}
	if ev, ok := f.pub.last(f.bob.ID); !ok || ev.Type != jobs.EventTradeProposed {
		t.Fatalf("recipient should be told about the proposal, got %+v", ev)
	}

	views, err := f.svc.ListForUser(ctx, f.bob.ID)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected one trade for bob, got %d", len(views))
	}
	v := views[0]
	if v.Proposer.Username != "ann" || v.Recipient.Username != "bob" {
		t.Fatalf("participants not hydrated: %+v %+v", v.Proposer, v.Recipient)
	}
	if v.OfferedItem == nil || v.OfferedItem.Title != "Jacket" || v.RequestedItem == nil || v.RequestedItem.Title != "Boots" {
		t.Fatalf("items not hydrated: %+v", v)
	}

	accepted, err := f.svc.Accept(ctx, proposed.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != trade.StatusAccepted {
		t.Fatalf("expected accepted, got %s", accepted.Status)
	}

	for _, id := range []string{jacket.ID, boots.ID} {
		if _, err := f.catalog.GetItem(ctx, id); !errors.Is(err, item.ErrNotFound) {
			t.Fatalf("item %s should be consumed, got %v", id, err)
		}
	}
	if _, err := f.svc.Accept(ctx, proposed.ID, f.bob.ID); !errors.Is(err, trade.ErrNotFound) {
		t.Fatalf("settled trade should be gone, got %v", err)
	}
	if feed, _ := f.catalog.ListItems(ctx, f.cat.ID); len(feed) != 0 {
		t.Fatalf("feed should be invalidated after accept, got %d items", len(feed))
	}
	if ev, ok := f.pub.last(f.ann.ID); !ok || ev.Type != jobs.EventTradeAccepted {
		t.Fatalf("proposer should be told about the acceptance, got %+v", ev)
	}

	var cleanups, notifications int
	for _, j := range f.store.Jobs().Pending() {
		switch jobs.JobType(j.Type) {
		case jobs.JobImageCleanup:
			cleanups++
		case jobs.JobTradeNotification:
			notifications++
		}
	}
	if cleanups != 2 || notifications != 2 {
		t.Fatalf("expected 2 cleanups and 2 notifications, got %d and %d", cleanups, notifications)
	}
}

type hookedItems struct {
	catalog.ItemStore
	once  sync.Once
	after func()
}

func (h *hookedItems) ListAll(ctx context.Context) ([]item.Item, error) {
	all, err := h.ItemStore.ListAll(ctx)
	if h.after != nil {
		h.once.Do(h.after)
	}
	return all, err
}

func TestAccept_DuringFeedReadDropsConsumedItems(t *testing.T) {
	hooked := &hookedItems{}
	f := newFixtureWith(t, func(inner catalog.ItemStore) catalog.ItemStore {
		hooked.ItemStore = inner
		return hooked
	})
	ctx := context.Background()

	jacket := f.seed(t, f.ann.ID, "Jacket")
	boots := f.seed(t, f.bob.ID, "Boots")

	proposed, err := f.svc.Propose(ctx, f.ann.ID, trade.ProposeRequest{
		ProposedTo:    f.bob.ID,
		ProposedItem:  jacket.ID,
		RequestedItem: boots.ID,
	})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	// the accept lands after the feed snapshot was taken but before it is cached
	hooked.after = func() {
		if _, err := f.svc.Accept(ctx, proposed.ID, f.bob.ID); err != nil {
			t.Errorf("Accept: %v", err)
		}
	}
	_, _ = f.catalog.ListItems(ctx, f.cat.ID)

	feed, err := f.catalog.ListItems(ctx, f.cat.ID)
	if err != nil {
		t.Fatalf("ListItems: %v", err)
	}
	if len(feed) != 0 {
		t.Fatalf("consumed items still in the feed: %+v", feed)
	}
}

func TestPropose_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	annItem := f.seed(t, f.ann.ID, "Jacket")
	annOther := f.seed(t, f.ann.ID, "Scarf")
	bobItem := f.seed(t, f.bob.ID, "Boots")

	tests := []struct {
		name string
		req  trade.ProposeRequest
		want error
	}{
		{"self trade", trade.ProposeRequest{ProposedTo: f.ann.ID, ProposedItem: annItem.ID, RequestedItem: annOther.ID}, trade.ErrValidation},
		{"same item", trade.ProposeRequest{ProposedTo: f.bob.ID, ProposedItem: annItem.ID, RequestedItem: annItem.ID}, trade.ErrValidation},
		{"malformed id", trade.ProposeRequest{ProposedTo: "bob", ProposedItem: annItem.ID, RequestedItem: bobItem.ID}, trade.ErrValidation},
		{"offering someone else's item", trade.ProposeRequest{ProposedTo: f.cat.ID, ProposedItem: bobItem.ID, RequestedItem: annItem.ID}, trade.ErrForbidden},
		{"requested item not owned by recipient", trade.ProposeRequest{ProposedTo: f.cat.ID, ProposedItem: annItem.ID, RequestedItem: bobItem.ID}, trade.ErrValidation},
		{"unknown item", trade.ProposeRequest{ProposedTo: f.bob.ID, ProposedItem: annItem.ID, RequestedItem: "7b0b4f5e-7f0e-4a57-9d53-0d5c2f4a9c11"}, item.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Propose(ctx, f.ann.ID, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if ts, _ := f.store.Trades().ListForUser(ctx, f.ann.ID); len(ts) != 0 {
		t.Fatalf("rejected proposals must not be stored, got %d", len(ts))
	}
}

func TestAcceptAndReject_OnlyRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jacket := f.seed(t, f.ann.ID, "Jacket")
	boots := f.seed(t, f.bob.ID, "Boots")

	tr, err := f.svc.Propose(ctx, f.ann.ID, trade.ProposeRequest{ProposedTo: f.bob.ID, ProposedItem: jacket.ID, RequestedItem: boots.ID})
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	for _, actor := range []string{f.ann.ID, f.cat.ID} {
		if _, err := f.svc.Accept(ctx, tr.ID, actor); !errors.Is(err, trade.ErrForbidden) {
			t.Fatalf("accept by %s: expected ErrForbidden, got %v", actor, err)
		}
		if _, err := f.svc.Reject(ctx, tr.ID, actor); !errors.Is(err, trade.ErrForbidden) {
			t.Fatalf("reject by %s: expected ErrForbidden, got %v", actor, err)
		}
	}

	if _, err := f.catalog.GetItem(ctx, jacket.ID); err != nil {
		t.Fatalf("items must survive forbidden attempts: %v", err)
	}
}

func TestReject_KeepsItemsAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jacket := f.seed(t, f.ann.ID, "Jacket")
	boots := f.seed(t, f.bob.ID, "Boots")

	tr, _ := f.svc.Propose(ctx, f.ann.ID, trade.ProposeRequest{ProposedTo: f.bob.ID, ProposedItem: jacket.ID, RequestedItem: boots.ID})

	rejected, err := f.svc.Reject(ctx, tr.ID, f.bob.ID)
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != trade.StatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}

	if _, err := f.svc.Reject(ctx, tr.ID, f.bob.ID); !errors.Is(err, trade.ErrInvalidState) {
		t.Fatalf("second reject: expected ErrInvalidState, got %v", err)
	}
	if _, err := f.svc.Accept(ctx, tr.ID, f.bob.ID); !errors.Is(err, trade.ErrInvalidState) {
		t.Fatalf("accept after reject: expected ErrInvalidState, got %v", err)
	}

	for _, id := range []string{jacket.ID, boots.ID} {
		if _, err := f.catalog.GetItem(ctx, id); err != nil {
			t.Fatalf("item %s should survive a rejection: %v", id, err)
		}
	}

	views, _ := f.svc.ListForUser(ctx, f.ann.ID)
	if len(views) != 1 || views[0].Status != trade.StatusRejected {
		t.Fatalf("rejected trade should stay visible, got %+v", views)
	}
}

func TestAccept_StaleTradeAfterItemTraded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	jacket := f.seed(t, f.ann.ID, "Jacket")
	boots := f.seed(t, f.bob.ID, "Boots")
	hat := f.seed(t, f.cat.ID, "Hat")

	// ann offers the jacket twice
	first, _ := f.svc.Propose(ctx, f.ann.ID, trade.ProposeRequest{ProposedTo: f.bob.ID, ProposedItem: jacket.ID, RequestedItem: boots.ID})
	second, _ := f.svc.Propose(ctx, f.ann.ID, trade.ProposeRequest{ProposedTo: f.cat.ID, ProposedItem: jacket.ID, RequestedItem: hat.ID})

	if _, err := f.svc.Accept(ctx, first.ID, f.bob.ID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := f.svc.Accept(ctx, second.ID, f.cat.ID); !errors.Is(err, trade.ErrItemUnavailable) {
		t.Fatalf("expected ErrItemUnavailable, got %v", err)
	}
	if _, err := f.catalog.GetItem(ctx, hat.ID); err != nil {
		t.Fatalf("hat must survive the failed accept: %v", err)
	}

	views, err := f.svc.ListForUser(ctx, f.cat.ID)
	if err != nil {
		t.Fatalf("ListForUser: %v", err)
	}
	if len(views) != 1 || views[0].OfferedItem != nil || views[0].RequestedItem == nil {
		t.Fatalf("consumed offered item should hydrate as nil, got %+v", views)
	}
}
