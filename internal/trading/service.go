package trading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/geocoder89/barterhub/internal/actorctx"
	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/domain/trade"
	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/geocoder89/barterhub/internal/jobs"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/geocoder89/barterhub/internal/realtime"
	"github.com/geocoder89/barterhub/internal/utils"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type TradeStore interface {
	Create(ctx context.Context, t trade.Trade, followUps ...job.CreateRequest) error
	GetByID(ctx context.Context, id string) (trade.Trade, error)
	ListForUser(ctx context.Context, userID string) ([]trade.Trade, error)
	Reject(ctx context.Context, id string, followUps ...job.CreateRequest) (trade.Trade, error)
	Accept(ctx context.Context, id string, followUps func(trade.Settlement) ([]job.CreateRequest, error)) (trade.Settlement, error)
}

// Catalog is the slice of the item catalog trades depend on.
type Catalog interface {
	GetItem(ctx context.Context, id string) (item.Item, error)
	GetItems(ctx context.Context, ids []string) (map[string]item.Item, error)
	InvalidateFeed(ctx context.Context)
}

type UserLookup interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]user.User, error)
}

type Deps struct {
	Trades  TradeStore
	Catalog Catalog
	Users   UserLookup
	// optional
	Realtime realtime.Publisher
	Prom     *observability.Prom
	Logger   *slog.Logger
}

type Service struct {
	trades   TradeStore
	catalog  Catalog
	users    UserLookup
	realtime realtime.Publisher
	prom     *observability.Prom
	log      *slog.Logger
}

func NewService(d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		trades:   d.Trades,
		catalog:  d.Catalog,
		users:    d.Users,
		realtime: d.Realtime,
		prom:     d.Prom,
		log:      log,
	}
}

// Propose creates a pending trade of proposer's offered item for another user's requested item.
func (s *Service) Propose(ctx context.Context, proposerID string, req trade.ProposeRequest) (_ trade.Trade, err error) {
	ctx, span := observability.StartSpan(ctx, "trading.propose", attribute.String("user.id", proposerID))
	defer func() { observability.EndSpan(span, err) }()

	if !utils.IsUUID(req.ProposedTo) || !utils.IsUUID(req.ProposedItem) || !utils.IsUUID(req.RequestedItem) {
		return trade.Trade{}, fmt.Errorf("%w: malformed id", trade.ErrValidation)
	}
	if req.ProposedTo == proposerID {
		return trade.Trade{}, fmt.Errorf("%w: cannot trade with yourself", trade.ErrValidation)
	}
	if req.ProposedItem == req.RequestedItem {
		return trade.Trade{}, fmt.Errorf("%w: offered and requested item are the same", trade.ErrValidation)
	}

	offered, err := s.catalog.GetItem(ctx, req.ProposedItem)
	if err != nil {
		return trade.Trade{}, fmt.Errorf("offered item: %w", err)
	}
	requested, err := s.catalog.GetItem(ctx, req.RequestedItem)
	if err != nil {
		return trade.Trade{}, fmt.Errorf("requested item: %w", err)
	}

	if offered.OwnerID != proposerID {
		return trade.Trade{}, fmt.Errorf("%w: offered item is not yours", trade.ErrForbidden)
	}
	if requested.OwnerID != req.ProposedTo {
		return trade.Trade{}, fmt.Errorf("%w: requested item is not owned by the recipient", trade.ErrValidation)
	}

	t := trade.New(proposerID, req)

	notify, err := s.notification(ctx, t, jobs.EventTradeProposed)
	if err != nil {
		return trade.Trade{}, err
	}

	if err := s.trades.Create(ctx, t, notify); err != nil {
		return trade.Trade{}, err
	}

	s.recordTransition(trade.StatusPending)
	s.publish(t, jobs.EventTradeProposed, t.RecipientID)

	return t, nil
}

// authorize loads the trade and checks the actor is the recipient and the trade is still open.
func (s *Service) authorize(ctx context.Context, tradeID, actorID string) (trade.Trade, error) {
	t, err := s.trades.GetByID(ctx, tradeID)
	if err != nil {
		return trade.Trade{}, err
	}
	if t.RecipientID != actorID {
		return trade.Trade{}, trade.ErrForbidden
	}
	if t.Status != trade.StatusPending {
		return trade.Trade{}, fmt.Errorf("%w: trade is %s", trade.ErrInvalidState, t.Status)
	}
	return t, nil
}

// Accept settles the trade: both items are consumed and the trade is removed, atomically.
func (s *Service) Accept(ctx context.Context, tradeID, actorID string) (_ trade.Trade, err error) {
	ctx, span := observability.StartSpan(ctx, "trading.accept", attribute.String("trade.id", tradeID))
	defer func() { observability.EndSpan(span, err) }()

	if _, err := s.authorize(ctx, tradeID, actorID); err != nil {
		return trade.Trade{}, err
	}

	settled, err := s.trades.Accept(ctx, tradeID, func(st trade.Settlement) ([]job.CreateRequest, error) {
		var reqs []job.CreateRequest
		for _, it := range []item.Item{st.OfferedItem, st.RequestedItem} {
			if it.ImageURL == "" {
				continue
			}
			req, err := jobs.NewImageCleanup(jobs.ImageCleanupPayload{
				ItemID:   it.ID,
				ImageURL: it.ImageURL,
				TradeID:  st.Trade.ID,
			})
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, req)
		}

		notify, err := s.notification(ctx, st.Trade, jobs.EventTradeAccepted)
		if err != nil {
			return nil, err
		}
		return append(reqs, notify), nil
	})
	if err != nil {
		return trade.Trade{}, err
	}

	s.catalog.InvalidateFeed(ctx)
	s.recordTransition(trade.StatusAccepted)
	s.publish(settled.Trade, jobs.EventTradeAccepted, settled.Trade.ProposerID, settled.Trade.RecipientID)

	s.log.InfoContext(ctx, "trade accepted",
		"trade_id", settled.Trade.ID,
		"offered_item_id", settled.OfferedItem.ID,
		"requested_item_id", settled.RequestedItem.ID,
	)

	return settled.Trade, nil
}

// Reject closes the trade without touching either item. The record is kept.
func (s *Service) Reject(ctx context.Context, tradeID, actorID string) (_ trade.Trade, err error) {
	ctx, span := observability.StartSpan(ctx, "trading.reject", attribute.String("trade.id", tradeID))
	defer func() { observability.EndSpan(span, err) }()

	t, err := s.authorize(ctx, tradeID, actorID)
	if err != nil {
		return trade.Trade{}, err
	}

	rejected := t
	if err := rejected.Transition(trade.StatusRejected); err != nil {
		return trade.Trade{}, err
	}
	notify, err := s.notification(ctx, rejected, jobs.EventTradeRejected)
	if err != nil {
		return trade.Trade{}, err
	}

	rejected, err = s.trades.Reject(ctx, tradeID, notify)
	if err != nil {
		return trade.Trade{}, err
	}

	s.recordTransition(trade.StatusRejected)
	s.publish(rejected, jobs.EventTradeRejected, rejected.ProposerID)

	return rejected, nil
}

// ListForUser returns the user's trades hydrated with participants and items.
// Items that were consumed or deleted since the proposal come back nil.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]trade.View, error) {
	ts, err := s.trades.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]trade.View, 0, len(ts))
	if len(ts) == 0 {
		return views, nil
	}

	userIDs := make([]string, 0, len(ts)*2)
	itemIDs := make([]string, 0, len(ts)*2)
	for _, t := range ts {
		userIDs = append(userIDs, t.ProposerID, t.RecipientID)
		itemIDs = append(itemIDs, t.ItemIDs()...)
	}

	var (
		users map[string]user.User
		items map[string]item.Item
	)

	// participants and items come from different stores
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var e error
		users, e = s.users.FindByIDs(gctx, userIDs)
		return e
	})
	g.Go(func() error {
		var e error
		items, e = s.catalog.GetItems(gctx, itemIDs)
		return e
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, t := range ts {
		v := trade.View{
			Trade:     t,
			Proposer:  participant(users, t.ProposerID),
			Recipient: participant(users, t.RecipientID),
		}
		if it, ok := items[t.OfferedItemID]; ok {
			v.OfferedItem = &it
		}
		if it, ok := items[t.RequestedItemID]; ok {
			v.RequestedItem = &it
		}
		views = append(views, v)
	}
	return views, nil
}

func participant(users map[string]user.User, id string) user.Summary {
	if u, ok := users[id]; ok {
		return user.Summary{ID: u.ID, Username: u.Username}
	}
	return user.Summary{ID: id}
}

func (s *Service) notification(ctx context.Context, t trade.Trade, event string) (job.CreateRequest, error) {
	return jobs.NewTradeNotification(jobs.TradeNotificationPayload{
		TradeID:     t.ID,
		Event:       event,
		ProposerID:  t.ProposerID,
		RecipientID: t.RecipientID,
		OccurredAt:  time.Now().UTC(),
		RequestID:   actorctx.RequestIDFrom(ctx),
	})
}

func (s *Service) recordTransition(to trade.Status) {
	s.prom.TradeTransition(string(to))
}

func (s *Service) publish(t trade.Trade, event string, userIDs ...string) {
	if s.realtime == nil {
		return
	}
	ev := realtime.Event{
		Type:        event,
		TradeID:     t.ID,
		Status:      string(t.Status),
		ProposerID:  t.ProposerID,
		RecipientID: t.RecipientID,
		OccurredAt:  time.Now().UTC(),
	}
	for _, id := range userIDs {
		s.realtime.Publish(id, ev)
	}
}
