package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"freecanvas/internal/model"
	"freecanvas/internal/repository"
)

const uniqueViolation = "23505"

const itemColumns = `id, kind, x, y, width, height, content, checklist, image_ref, color, rotation, created_at, updated_at`

// CanvasItemPostgres is a PostgreSQL implementation of repository.CanvasItemRepository.
// It uses database/sql with parameterized queries and contains no business logic.
// Checklist entries are stored as a JSONB array.
type CanvasItemPostgres struct {
	db *sql.DB
}

// NewCanvasItemPostgres creates a new CanvasItemPostgres repository.
func NewCanvasItemPostgres(db *sql.DB) *CanvasItemPostgres {
	return &CanvasItemPostgres{db: db}
}

var _ repository.CanvasItemRepository = (*CanvasItemPostgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*model.CanvasItem, error) {
	var (
		it        model.CanvasItem
		kind      string
		checklist []byte
	)
	if err := row.Scan(
		&it.ID,
		&kind,
		&it.X,
		&it.Y,
		&it.Width,
		&it.Height,
		&it.Content,
		&checklist,
		&it.ImageRef,
		&it.Color,
		&it.Rotation,
		&it.CreatedAt,
		&it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	it.Kind = model.Kind(kind)
	if len(checklist) > 0 {
		if err := json.Unmarshal(checklist, &it.Checklist); err != nil {
			return nil, fmt.Errorf("decode checklist of %s: %w", it.ID, err)
		}
	}
	return &it, nil
}

func checklistParam(it *model.CanvasItem) (any, error) {
	if it.Kind != model.KindChecklist {
		return nil, nil
	}
	entries := it.Checklist
	if entries == nil {
		entries = []model.ChecklistEntry{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode checklist: %w", err)
	}
	return string(b), nil
}

// List returns items in creation order using LIMIT/OFFSET pagination and a total count.
func (r *CanvasItemPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.CanvasItem], error) {
	const qCount = `SELECT COUNT(*) FROM canvas_items`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	var (
		rows *sql.Rows
		err  error
	)
	if pq.Limit > 0 {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM canvas_items ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`,
			pq.Limit, pq.Offset)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM canvas_items ORDER BY created_at ASC, id ASC`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.CanvasItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.CanvasItem]{
		Items: items,
		Total: total,
	}, nil
}

// FindByID fetches a single item by its ID.
func (r *CanvasItemPostgres) FindByID(ctx context.Context, id string) (*model.CanvasItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM canvas_items WHERE id = $1`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return it, err
}

// Create inserts a new item row and returns the stored record.
func (r *CanvasItemPostgres) Create(ctx context.Context, item *model.CanvasItem) (*model.CanvasItem, error) {
	checklist, err := checklistParam(item)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO canvas_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+itemColumns,
		item.ID,
		string(item.Kind),
		item.X,
		item.Y,
		item.Width,
		item.Height,
		item.Content,
		checklist,
		item.ImageRef,
		item.Color,
		item.Rotation,
		item.CreatedAt,
		item.UpdatedAt,
	)
	out, err := scanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrDuplicate
		}
		return nil, err
	}
	return out, nil
}

// Update reads the row FOR UPDATE, applies mutate and writes every mutable column back.
func (r *CanvasItemPostgres) Update(ctx context.Context, id string, mutate func(*model.CanvasItem) error) (*model.CanvasItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM canvas_items WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := mutate(current); err != nil {
		return nil, err
	}
	checklist, err := checklistParam(current)
	if err != nil {
		return nil, err
	}

	out, err := scanItem(tx.QueryRowContext(ctx, `
		UPDATE canvas_items
		SET x = $2, y = $3, width = $4, height = $5, content = $6, checklist = $7,
		    image_ref = $8, color = $9, rotation = $10, updated_at = $11
		WHERE id = $1
		RETURNING `+itemColumns,
		id,
		current.X,
		current.Y,
		current.Width,
		current.Height,
		current.Content,
		checklist,
		current.ImageRef,
		current.Color,
		current.Rotation,
		current.UpdatedAt,
	))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an item by ID and returns the removed row.
func (r *CanvasItemPostgres) Delete(ctx context.Context, id string) (*model.CanvasItem, error) {
	row := r.db.QueryRowContext(ctx, `DELETE FROM canvas_items WHERE id = $1 RETURNING `+itemColumns, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	return it, err
}
