package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/barterhub/internal/domain/item"
	"github.com/geocoder89/barterhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ItemsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewItemsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ItemsRepo {
	return &ItemsRepo{pool: pool, prom: prom}
}

func (r *ItemsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

const itemColumns = `id, title, size, condition, preferences, image_url, owner_id, created_at, updated_at`

func scanItem(row pgx.Row) (item.Item, error) {
	var it item.Item
	err := row.Scan(
		&it.ID, &it.Title, &it.Size, &it.Condition, &it.Preferences,
		&it.ImageURL, &it.OwnerID, &it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}

func collectItems(rows pgx.Rows) ([]item.Item, error) {
	defer rows.Close()

	out := make([]item.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *ItemsRepo) Create(ctx context.Context, it item.Item) error {
	return r.observe("items.create", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, it.ID, it.Title, it.Size, it.Condition, it.Preferences, it.ImageURL, it.OwnerID, it.CreatedAt, it.UpdatedAt)
		return err
	})
}

func (r *ItemsRepo) GetByID(ctx context.Context, id string) (item.Item, error) {
	var it item.Item

	err := r.observe("items.get_by_id", func() error {
		var e error
		it, e = scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return item.Item{}, item.ErrNotFound
		}
		return item.Item{}, err
	}
	return it, nil
}

func (r *ItemsRepo) GetByIDs(ctx context.Context, ids []string) ([]item.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var out []item.Item

	err := r.observe("items.get_by_ids", func() error {
		rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ANY($1::uuid[])`, ids)
		if err != nil {
			return err
		}
		out, err = collectItems(rows)
		return err
	})

	return out, err
}

// ListAll returns every listing, newest first.
func (r *ItemsRepo) ListAll(ctx context.Context) ([]item.Item, error) {
	var out []item.Item

	err := r.observe("items.list_all", func() error {
		rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id DESC`)
		if err != nil {
			return err
		}
		out, err = collectItems(rows)
		return err
	})

	return out, err
}

func (r *ItemsRepo) ListByOwner(ctx context.Context, ownerID string) ([]item.Item, error) {
	var out []item.Item

	err := r.observe("items.list_by_owner", func() error {
		rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`, ownerID)
		if err != nil {
			return err
		}
		out, err = collectItems(rows)
		return err
	})

	return out, err
}

// Update writes every mutable column; concurrent edits are last-write-wins.
func (r *ItemsRepo) Update(ctx context.Context, it item.Item) error {
	var tag pgconn.CommandTag

	err := r.observe("items.update", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
		UPDATE items
		SET title = $2,
		    size = $3,
		    condition = $4,
		    preferences = $5,
		    image_url = $6,
		    updated_at = $7
		WHERE id = $1
	`, it.ID, it.Title, it.Size, it.Condition, it.Preferences, it.ImageURL, it.UpdatedAt)
		return e
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return item.ErrNotFound
	}
	return nil
}

// Delete removes the item and returns the row as it was.
func (r *ItemsRepo) Delete(ctx context.Context, id string) (item.Item, error) {
	var it item.Item

	err := r.observe("items.delete", func() error {
		var e error
		it, e = scanItem(r.pool.QueryRow(ctx, `DELETE FROM items WHERE id = $1 RETURNING `+itemColumns, id))
		return e
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return item.Item{}, item.ErrNotFound
		}
		return item.Item{}, err
	}
	return it, nil
}

// Ping is used by the readiness probe.
func (r *ItemsRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
