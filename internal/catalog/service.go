package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/geocoder89/barterhub/internal/cache"
	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/domain/user"
	"github.com/geocoder89/barterhub/internal/imaging"
	"github.com/geocoder89/barterhub/internal/jobs"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/geocoder89/barterhub/internal/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	feedCacheKey = "items:feed:v1"
	feedGenKey   = "items:feed:gen"
)

type ItemStore interface {
	Create(ctx context.Context, it item.Item) error
	GetByID(ctx context.Context, id string) (item.Item, error)
	GetByIDs(ctx context.Context, ids []string) ([]item.Item, error)
	ListAll(ctx context.Context) ([]item.Item, error)
	ListByOwner(ctx context.Context, ownerID string) ([]item.Item, error)
	Update(ctx context.Context, it item.Item) error
	Delete(ctx context.Context, id string) (item.Item, error)
}

type UserLookup interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]user.User, error)
}

type Outbox interface {
	Enqueue(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

type Deps struct {
	Items  ItemStore
	Users  UserLookup
	Images storage.ImageStore
	// Feed caches the full listing; nil disables caching.
	Feed cache.Store
	// Outbox receives image cleanup jobs; without it images are removed inline.
	Outbox         Outbox
	MaxUploadBytes int64
	Prom           *observability.Prom
	Logger         *slog.Logger
}

type Service struct {
	items     ItemStore
	users     UserLookup
	images    storage.ImageStore
	feed      cache.Store
	outbox    Outbox
	maxUpload int64
	prom      *observability.Prom
	validate  *validator.Validate
	log       *slog.Logger
}

func NewService(d Deps) *Service {
	v := validator.New()
	v.SetTagName("binding")

	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		items:     d.Items,
		users:     d.Users,
		images:    d.Images,
		feed:      d.Feed,
		outbox:    d.Outbox,
		maxUpload: d.MaxUploadBytes,
		prom:      d.Prom,
		validate:  v,
		log:       log,
	}
}

func trimFields(f item.Fields) item.Fields {
	return item.Fields{
		Title:       strings.TrimSpace(f.Title),
		Size:        strings.TrimSpace(f.Size),
		Condition:   strings.TrimSpace(f.Condition),
		Preferences: strings.TrimSpace(f.Preferences),
	}
}

// storeImage processes the upload and returns the stored reference.
func (s *Service) storeImage(ctx context.Context, img *item.Image) (string, error) {
	res, err := imaging.Process(img.Body, s.maxUpload)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupported) || errors.Is(err, imaging.ErrTooLarge) {
			return "", fmt.Errorf("%w: %v", item.ErrBadImage, err)
		}
		return "", err
	}

	ref, err := s.images.Save(ctx, uuid.NewString()+".jpg", res.Data)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return ref, nil
}

// releaseImage schedules removal of an image no item points at anymore.
func (s *Service) releaseImage(ctx context.Context, it item.Item) {
	if it.ImageURL == "" {
		return
	}

	if s.outbox != nil {
		req, err := jobs.NewImageCleanup(jobs.ImageCleanupPayload{ItemID: it.ID, ImageURL: it.ImageURL})
		if err == nil {
			if _, err = s.outbox.Enqueue(ctx, req); err == nil {
				return
			}
		}
		s.log.Warn("image cleanup enqueue failed, deleting inline", "item_id", it.ID, "err", err)
	}

	if err := s.images.Delete(ctx, it.ImageURL); err != nil {
		s.log.Warn("image delete failed", "item_id", it.ID, "image", it.ImageURL, "err", err)
	}
}

func (s *Service) CreateItem(ctx context.Context, ownerID string, f item.Fields, img *item.Image) (item.Item, error) {
	f = trimFields(f)
	if err := s.validate.Struct(f); err != nil {
		return item.Item{}, fmt.Errorf("%w: %v", item.ErrValidation, err)
	}
	if img == nil || img.Body == nil {
		return item.Item{}, fmt.Errorf("%w: image is required", item.ErrValidation)
	}

	ref, err := s.storeImage(ctx, img)
	if err != nil {
		return item.Item{}, err
	}

	it := item.New(ownerID, f, ref)

	if err := s.items.Create(ctx, it); err != nil {
		// the row never existed, so nothing else can reference the file
		if delErr := s.images.Delete(ctx, ref); delErr != nil {
			s.log.Warn("orphaned image after failed insert", "image", ref, "err", delErr)
		}
		return item.Item{}, err
	}

	s.InvalidateFeed(ctx)

	hydrated, err := s.hydrate(ctx, []item.Item{it})
	if err != nil {
		return it, nil
	}
	return hydrated[0], nil
}

// ListItems is the browse feed: every item the viewer does not own, newest first.
func (s *Service) ListItems(ctx context.Context, viewerID string) ([]item.Item, error) {
	all, err := s.loadFeed(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]item.Item, 0, len(all))
	for _, it := range all {
		if it.OwnerID != viewerID {
			out = append(out, it)
		}
	}
	return out, nil
}

func feedKey(gen int64) string {
	return feedCacheKey + ":" + strconv.FormatInt(gen, 10)
}

// loadFeed reads the listing through the cache. The snapshot is stored under
// the generation seen before ListAll, so an invalidation racing with the
// read leaves it unreachable instead of serving consumed items.
func (s *Service) loadFeed(ctx context.Context) ([]item.Item, error) {
	key := ""
	if s.feed != nil {
		gen, err := s.feed.Generation(ctx, feedGenKey)
		if err != nil {
			s.prom.FeedCacheResult("error")
			s.log.Warn("feed cache generation read failed", "err", err)
		} else {
			key = feedKey(gen)
			if cached, ok := s.cachedFeed(ctx, key); ok {
				return cached, nil
			}
		}
	}

	all, err := s.items.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	all, err = s.hydrate(ctx, all)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if raw, err := json.Marshal(all); err == nil {
			if err := s.feed.Set(ctx, key, raw); err != nil {
				s.log.Warn("feed cache write failed", "err", err)
			}
		}
	}
	return all, nil
}

func (s *Service) cachedFeed(ctx context.Context, key string) ([]item.Item, bool) {
	raw, ok, err := s.feed.Get(ctx, key)
	switch {
	case err != nil:
		s.prom.FeedCacheResult("error")
		s.log.Warn("feed cache read failed", "err", err)
		return nil, false
	case !ok:
		s.prom.FeedCacheResult("miss")
		return nil, false
	}

	var cached []item.Item
	if err := json.Unmarshal(raw, &cached); err != nil {
		s.prom.FeedCacheResult("error")
		return nil, false
	}
	s.prom.FeedCacheResult("hit")
	return cached, true
}

// InvalidateFeed moves readers to a fresh generation after any catalog change.
func (s *Service) InvalidateFeed(ctx context.Context) {
	if s.feed == nil {
		return
	}
	if _, err := s.feed.Bump(ctx, feedGenKey); err != nil {
		s.log.Warn("feed cache invalidate failed", "err", err)
	}
}

func (s *Service) ListOwnedItems(ctx context.Context, ownerID string) ([]item.Item, error) {
	owned, err := s.items.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, owned)
}

func (s *Service) GetItem(ctx context.Context, id string) (item.Item, error) {
	it, err := s.items.GetByID(ctx, id)
	if err != nil {
		return item.Item{}, err
	}

	hydrated, err := s.hydrate(ctx, []item.Item{it})
	if err != nil {
		return item.Item{}, err
	}
	return hydrated[0], nil
}

// GetItems returns the items that still exist, keyed by id. Used to hydrate trades.
func (s *Service) GetItems(ctx context.Context, ids []string) (map[string]item.Item, error) {
	found, err := s.items.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	found, err = s.hydrate(ctx, found)
	if err != nil {
		return nil, err
	}

	out := make(map[string]item.Item, len(found))
	for _, it := range found {
		out[it.ID] = it
	}
	return out, nil
}

func (s *Service) UpdateItem(ctx context.Context, actor item.Actor, id string, patch item.Patch, img *item.Image) (item.Item, error) {
	current, err := s.items.GetByID(ctx, id)
	if err != nil {
		return item.Item{}, err
	}
	if !actor.CanModify(current) {
		return item.Item{}, item.ErrForbidden
	}

	patch = trimPatch(patch)
	if err := s.validate.Struct(patch); err != nil {
		return item.Item{}, fmt.Errorf("%w: %v", item.ErrValidation, err)
	}

	var newRef string
	if img != nil && img.Body != nil {
		if newRef, err = s.storeImage(ctx, img); err != nil {
			return item.Item{}, err
		}
		patch.ImageURL = &newRef
	}

	if patch.IsEmpty() {
		return s.GetItem(ctx, id)
	}

	updated := current
	patch.Apply(&updated)
	updated.UpdatedAt = time.Now().UTC()

	if err := s.items.Update(ctx, updated); err != nil {
		if newRef != "" {
			if delErr := s.images.Delete(ctx, newRef); delErr != nil {
				s.log.Warn("orphaned image after failed update", "item_id", id, "image", newRef, "err", delErr)
			}
		}
		return item.Item{}, err
	}

	if newRef != "" && current.ImageURL != newRef {
		s.releaseImage(ctx, current)
	}
	s.InvalidateFeed(ctx)

	hydrated, err := s.hydrate(ctx, []item.Item{updated})
	if err != nil {
		return updated, nil
	}
	return hydrated[0], nil
}

func trimPatch(p item.Patch) item.Patch {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	return item.Patch{
		Title:       trim(p.Title),
		Size:        trim(p.Size),
		Condition:   trim(p.Condition),
		Preferences: trim(p.Preferences),
		ImageURL:    p.ImageURL,
	}
}

func (s *Service) DeleteItem(ctx context.Context, actor item.Actor, id string) error {
	current, err := s.items.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanModify(current) {
		return item.ErrForbidden
	}

	deleted, err := s.items.Delete(ctx, id)
	if err != nil {
		return err
	}

	s.releaseImage(ctx, deleted)
	s.InvalidateFeed(ctx)
	return nil
}

// hydrate attaches owner summaries; owners that no longer exist are left nil.
func (s *Service) hydrate(ctx context.Context, items []item.Item) ([]item.Item, error) {
	if len(items) == 0 || s.users == nil {
		return items, nil
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.OwnerID)
	}

	owners, err := s.users.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]item.Item, len(items))
	for i, it := range items {
		if u, ok := owners[it.OwnerID]; ok {
			sum := u.Summary()
			it.Owner = &sum
		}
		out[i] = it
	}
	return out, nil
}
