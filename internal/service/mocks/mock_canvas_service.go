package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"freecanvas/internal/model"
	"freecanvas/internal/service"
)

type MockCanvasService struct {
	mock.Mock
}

func (m *MockCanvasService) List(ctx context.Context, limit, offset int) (*service.ItemListResult, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ItemListResult), args.Error(1)
}

func (m *MockCanvasService) Get(ctx context.Context, id string) (*model.CanvasItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanvasItem), args.Error(1)
}

func (m *MockCanvasService) Create(ctx context.Context, item model.CanvasItem) (*model.CanvasItem, error) {
	args := m.Called(ctx, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanvasItem), args.Error(1)
}

func (m *MockCanvasService) Update(ctx context.Context, id string, patch model.Patch) (*model.CanvasItem, error) {
	args := m.Called(ctx, id, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanvasItem), args.Error(1)
}

func (m *MockCanvasService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCanvasService) UploadImage(ctx context.Context, r io.Reader, originalFilename, contentType string, size int64) (*service.ImageUpload, error) {
	args := m.Called(ctx, r, originalFilename, contentType, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ImageUpload), args.Error(1)
}

func (m *MockCanvasService) ImageURL(ctx context.Context, ref string) (string, error) {
	args := m.Called(ctx, ref)
	return args.String(0), args.Error(1)
}
