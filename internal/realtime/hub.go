package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Event is pushed to a connected user when one of their trades changes.
type Event struct {
	Type        string    `json:"type"`
	TradeID     string    `json:"tradeId"`
	Status      string    `json:"status"`
	ProposerID  string    `json:"proposerId"`
	RecipientID string    `json:"recipientId"`
	OccurredAt  time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(userID string, ev Event)
}

type delivery struct {
	userID string
	msg    []byte
}

// Hub tracks live connections per user. All map access happens on the Run goroutine.
type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	done       chan struct{}
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = make(map[string]map[*Client]struct{})
			return

		case c := <-h.register:
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}

		case c := <-h.unregister:
			h.remove(c)

		case d := <-h.deliver:
			for c := range h.clients[d.userID] {
				select {
				case c.send <- d.msg:
				default:
					// slow consumer, drop it rather than block everyone else
					h.log.Warn("realtime client dropped", "user_id", c.userID)
					h.remove(c)
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
}

// Publish never blocks the caller; events for a full queue are dropped.
func (h *Hub) Publish(userID string, ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("realtime marshal failed", "err", err)
		return
	}

	select {
	case h.deliver <- delivery{userID: userID, msg: msg}:
	default:
		h.log.Warn("realtime queue full, event dropped", "user_id", userID, "trade_id", ev.TradeID)
	}
}
