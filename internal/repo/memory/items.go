package memory

import (
	"context"

	"github.com/geocoder89/barterhub/internal/domain/item"
)

type ItemsRepo struct {
	s *Store
}

func (r *ItemsRepo) Create(_ context.Context, it item.Item) error {
	r.s.mu.Lock()
	r.s.items[it.ID] = it
	r.s.mu.Unlock()
	return nil
}

func (r *ItemsRepo) GetByID(_ context.Context, id string) (item.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	it, ok := r.s.items[id]
	if !ok {
		return item.Item{}, item.ErrNotFound
	}
	return it, nil
}

func (r *ItemsRepo) GetByIDs(_ context.Context, ids []string) ([]item.Item, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]item.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := r.s.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *ItemsRepo) ListAll(_ context.Context) ([]item.Item, error) {
	r.s.mu.RLock()
	out := make([]item.Item, 0, len(r.s.items))
	for _, it := range r.s.items {
		out = append(out, it)
	}
	r.s.mu.RUnlock()

	sortItemsNewestFirst(out)
	return out, nil
}

func (r *ItemsRepo) ListByOwner(_ context.Context, ownerID string) ([]item.Item, error) {
	r.s.mu.RLock()
	out := make([]item.Item, 0)
	for _, it := range r.s.items {
		if it.OwnerID == ownerID {
			out = append(out, it)
		}
	}
	r.s.mu.RUnlock()

	sortItemsNewestFirst(out)
	return out, nil
}

func (r *ItemsRepo) Update(_ context.Context, it item.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.items[it.ID]; !ok {
		return item.ErrNotFound
	}
	r.s.items[it.ID] = it
	return nil
}

func (r *ItemsRepo) Delete(_ context.Context, id string) (item.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[id]
	if !ok {
		return item.Item{}, item.ErrNotFound
	}
	delete(r.s.items, id)
	return it, nil
}

func (r *ItemsRepo) Ping(context.Context) error { return nil }
