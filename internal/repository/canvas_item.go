package repository

import (
	"context"
	"errors"

	"freecanvas/internal/model"
)

var (
	// ErrNotFound is returned when no row matches the lookup.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert collides with a unique key.
	ErrDuplicate = errors.New("record already exists")
)

// CanvasItemRepository defines data access for canvas items using SQL queries only.
// No business logic here; strictly persistence operations.
type CanvasItemRepository interface {
	// List returns items ordered by creation time, oldest first. A zero Limit returns every row.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.CanvasItem], error)

	// FindByID returns an item by its ID or ErrNotFound.
	FindByID(ctx context.Context, id string) (*model.CanvasItem, error)

	// Create inserts a new item and returns the stored row. ErrDuplicate if the id is taken.
	Create(ctx context.Context, item *model.CanvasItem) (*model.CanvasItem, error)

	// Update locks the row, lets mutate change it and writes it back in one transaction.
	// mutate returning an error aborts the transaction with that error.
	Update(ctx context.Context, id string, mutate func(*model.CanvasItem) error) (*model.CanvasItem, error)

	// Delete removes an item and returns the deleted row, or ErrNotFound.
	Delete(ctx context.Context, id string) (*model.CanvasItem, error)
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
