package memory

import (
	"context"

	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/domain/trade"
)

type TradesRepo struct {
	s *Store
}

func (r *TradesRepo) Create(_ context.Context, t trade.Trade, followUps ...job.CreateRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.trades[t.ID] = t
	for _, req := range followUps {
		r.s.insertJobLocked(req)
	}
	return nil
}

func (r *TradesRepo) GetByID(_ context.Context, id string) (trade.Trade, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.trades[id]
	if !ok {
		return trade.Trade{}, trade.ErrNotFound
	}
	return t, nil
}

func (r *TradesRepo) ListForUser(_ context.Context, userID string) ([]trade.Trade, error) {
	r.s.mu.RLock()
	out := make([]trade.Trade, 0)
	for _, t := range r.s.trades {
		if t.Involves(userID) {
			out = append(out, t)
		}
	}
	r.s.mu.RUnlock()

	sortTradesNewestFirst(out)
	return out, nil
}

func (r *TradesRepo) Reject(_ context.Context, id string, followUps ...job.CreateRequest) (trade.Trade, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.trades[id]
	if !ok {
		return trade.Trade{}, trade.ErrNotFound
	}
	if err := t.Transition(trade.StatusRejected); err != nil {
		return trade.Trade{}, err
	}

	r.s.trades[id] = t
	for _, req := range followUps {
		r.s.insertJobLocked(req)
	}
	return t, nil
}

// Accept mirrors the Postgres transaction: every check runs before the first write.
func (r *TradesRepo) Accept(
	_ context.Context,
	id string,
	followUps func(trade.Settlement) ([]job.CreateRequest, error),
) (trade.Settlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.trades[id]
	if !ok {
		return trade.Settlement{}, trade.ErrNotFound
	}
	if err := t.Transition(trade.StatusAccepted); err != nil {
		return trade.Settlement{}, err
	}

	offered, okOffered := r.s.items[t.OfferedItemID]
	requested, okRequested := r.s.items[t.RequestedItemID]
	if !okOffered || !okRequested {
		return trade.Settlement{}, trade.ErrItemUnavailable
	}
	if err := t.VerifyItems(offered, requested); err != nil {
		return trade.Settlement{}, err
	}

	s := trade.Settlement{Trade: t, OfferedItem: offered, RequestedItem: requested}

	var reqs []job.CreateRequest
	if followUps != nil {
		var err error
		if reqs, err = followUps(s); err != nil {
			return trade.Settlement{}, err
		}
	}

	delete(r.s.items, offered.ID)
	delete(r.s.items, requested.ID)
	delete(r.s.trades, t.ID)
	for _, req := range reqs {
		r.s.insertJobLocked(req)
	}

	return s, nil
}
