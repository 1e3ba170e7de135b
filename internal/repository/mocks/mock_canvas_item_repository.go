package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"freecanvas/internal/model"
	"freecanvas/internal/repository"
)

type MockCanvasItemRepository struct {
	mock.Mock
}

func (m *MockCanvasItemRepository) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.CanvasItem], error) {
	args := m.Called(ctx, pq)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.CanvasItem]), args.Error(1)
}

func (m *MockCanvasItemRepository) FindByID(ctx context.Context, id string) (*model.CanvasItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanvasItem), args.Error(1)
}

func (m *MockCanvasItemRepository) Create(ctx context.Context, item *model.CanvasItem) (*model.CanvasItem, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanvasItem), args.Error(1)
}

// Update runs mutate against the item given as the third return value, if any, so tests
// can observe what the service changes.
func (m *MockCanvasItemRepository) Update(ctx context.Context, id string, mutate func(*model.CanvasItem) error) (*model.CanvasItem, error) {
	args := m.Called(ctx, id, mutate)
	if len(args) > 2 {
		if current, ok := args.Get(2).(*model.CanvasItem); ok && current != nil {
			cp := current.Clone()
			if err := mutate(&cp); err != nil {
				return nil, err
			}
			return &cp, nil
		}
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanvasItem), args.Error(1)
}

func (m *MockCanvasItemRepository) Delete(ctx context.Context, id string) (*model.CanvasItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanvasItem), args.Error(1)
}
