package memory

import (
	"sort"
	"sync"

	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/domain/trade"
	"github.com/geocoder89/barterhub/internal/domain/user"
)

// Store keeps every table in process memory behind one lock, so multi-row
// operations such as accepting a trade are atomic without a database.
type Store struct {
	mu sync.RWMutex

	users   map[string]user.User
	byEmail map[string]string
	items   map[string]item.Item
	trades  map[string]trade.Trade
	jobs    map[string]job.Job
	jobKeys map[string]string
}

func NewStore() *Store {
	return &Store{
		users:   make(map[string]user.User),
		byEmail: make(map[string]string),
		items:   make(map[string]item.Item),
		trades:  make(map[string]trade.Trade),
		jobs:    make(map[string]job.Job),
		jobKeys: make(map[string]string),
	}
}

func (s *Store) Users() *UsersRepo   { return &UsersRepo{s: s} }
func (s *Store) Items() *ItemsRepo   { return &ItemsRepo{s: s} }
func (s *Store) Trades() *TradesRepo { return &TradesRepo{s: s} }
func (s *Store) Jobs() *JobsRepo     { return &JobsRepo{s: s} }

func sortItemsNewestFirst(items []item.Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
}

func sortTradesNewestFirst(trades []trade.Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].CreatedAt.Equal(trades[j].CreatedAt) {
			return trades[i].CreatedAt.After(trades[j].CreatedAt)
		}
		return trades[i].ID > trades[j].ID
	})
}
