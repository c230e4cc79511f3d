package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/domain/trade"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TradesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
	jobs *JobsRepo
}

func NewTradesRepo(pool *pgxpool.Pool, prom *observability.Prom, jobs *JobsRepo) *TradesRepo {
	return &TradesRepo{pool: pool, prom: prom, jobs: jobs}
}

func (r *TradesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const tradeColumns = `id, proposer_id, recipient_id, offered_item_id, requested_item_id, status, created_at, updated_at`

func scanTrade(row pgx.Row) (trade.Trade, error) {
	var t trade.Trade
	var status string
	err := row.Scan(
		&t.ID, &t.ProposerID, &t.RecipientID, &t.OfferedItemID, &t.RequestedItemID,
		&status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return trade.Trade{}, err
	}
	t.Status = trade.Status(status)
	if !t.Status.IsValid() {
		return trade.Trade{}, fmt.Errorf("trade %s: unknown status %q", t.ID, status)
	}
	return t, nil
}

func (r *TradesRepo) enqueueTx(ctx context.Context, tx pgx.Tx, reqs []job.CreateRequest) error {
	for _, req := range reqs {
		if _, err := r.jobs.CreateTx(ctx, tx, req); err != nil {
			return fmt.Errorf("enqueue %s: %w", req.Type, err)
		}
	}
	return nil
}

// Create stores a pending trade together with its follow-up jobs.
func (r *TradesRepo) Create(ctx context.Context, t trade.Trade, followUps ...job.CreateRequest) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = r.observe("trades.create", func() error {
		_, e := tx.Exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, t.ID, t.ProposerID, t.RecipientID, t.OfferedItemID, t.RequestedItemID, string(t.Status), t.CreatedAt, t.UpdatedAt)
		return e
	})
	if err != nil {
		return err
	}

	if err = r.enqueueTx(ctx, tx, followUps); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *TradesRepo) GetByID(ctx context.Context, id string) (trade.Trade, error) {
	var t trade.Trade

	err := r.observe("trades.get_by_id", func() error {
		var e error
		t, e = scanTrade(r.pool.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return trade.Trade{}, trade.ErrNotFound
		}
		return trade.Trade{}, err
	}
	return t, nil
}

// ListForUser returns trades where the user is either party, newest first.
func (r *TradesRepo) ListForUser(ctx context.Context, userID string) ([]trade.Trade, error) {
	out := make([]trade.Trade, 0)

	err := r.observe("trades.list_for_user", func() error {
		rows, err := r.pool.Query(ctx, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE proposer_id = $1 OR recipient_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTrade(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})

	return out, err
}

// Reject moves a pending trade to rejected. The record is kept.
func (r *TradesRepo) Reject(ctx context.Context, id string, followUps ...job.CreateRequest) (t trade.Trade, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return trade.Trade{}, err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = r.observe("trades.reject", func() error {
		var e error
		t, e = scanTrade(tx.QueryRow(ctx, `
		UPDATE trades
		SET status = 'rejected',
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+tradeColumns, id))
		return e
	})

	if errors.Is(err, pgx.ErrNoRows) {
		// either missing or already resolved
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return trade.Trade{}, getErr
		}
		return trade.Trade{}, trade.ErrInvalidState
	}
	if isInvalidID(err) {
		return trade.Trade{}, trade.ErrNotFound
	}
	if err != nil {
		return trade.Trade{}, err
	}

	if err = r.enqueueTx(ctx, tx, followUps); err != nil {
		return trade.Trade{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return trade.Trade{}, err
	}
	return t, nil
}

// Accept settles a pending trade in one transaction: both items and the trade row
// are deleted and the follow-up jobs built from the settlement are enqueued.
func (r *TradesRepo) Accept(
	ctx context.Context,
	id string,
	followUps func(trade.Settlement) ([]job.CreateRequest, error),
) (s trade.Settlement, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return trade.Settlement{}, err
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// 1) lock the trade row
	var t trade.Trade
	err = r.observe("trades.accept.lock_trade", func() error {
		var e error
		t, e = scanTrade(tx.QueryRow(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id))
		return e
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return trade.Settlement{}, trade.ErrNotFound
		}
		return trade.Settlement{}, err
	}

	if err = t.Transition(trade.StatusAccepted); err != nil {
		return trade.Settlement{}, err
	}

	// 2) lock both items in a stable order so crossing accepts cannot deadlock
	ids := t.ItemIDs()
	sort.Strings(ids)

	locked := make(map[string]item.Item, 2)
	err = r.observe("trades.accept.lock_items", func() error {
		rows, e := tx.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`, ids)
		if e != nil {
			return e
		}
		items, e := collectItems(rows)
		if e != nil {
			return e
		}
		for _, it := range items {
			locked[it.ID] = it
		}
		return nil
	})
	if err != nil {
		return trade.Settlement{}, err
	}

	offered, okOffered := locked[t.OfferedItemID]
	requested, okRequested := locked[t.RequestedItemID]
	if !okOffered || !okRequested {
		return trade.Settlement{}, trade.ErrItemUnavailable
	}
	if err = t.VerifyItems(offered, requested); err != nil {
		return trade.Settlement{}, err
	}

	// 3) consume both items and the trade
	err = r.observe("trades.accept.consume", func() error {
		if _, e := tx.Exec(ctx, `DELETE FROM items WHERE id = ANY($1::uuid[])`, ids); e != nil {
			return e
		}
		_, e := tx.Exec(ctx, `DELETE FROM trades WHERE id = $1`, t.ID)
		return e
	})
	if err != nil {
		return trade.Settlement{}, err
	}

	s = trade.Settlement{Trade: t, OfferedItem: offered, RequestedItem: requested}

	if followUps != nil {
		reqs, buildErr := followUps(s)
		if buildErr != nil {
			return trade.Settlement{}, buildErr
		}
		if err = r.enqueueTx(ctx, tx, reqs); err != nil {
			return trade.Settlement{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return trade.Settlement{}, err
	}
	return s, nil
}
