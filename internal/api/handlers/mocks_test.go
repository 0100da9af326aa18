package handlers_test

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/services"
	"eventmarket/server/internal/storage"
	"eventmarket/server/internal/utils"
)

// --- Mocks ---

type MockListingService struct {
	mock.Mock
}

func (m *MockListingService) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockListingService) CreateListing(ctx context.Context, in services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) FindListingByID(ctx context.Context, listingID utils.SixID) (*models.Listing, error) {
	args := m.Called(ctx, listingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) UpdateListing(ctx context.Context, listingID utils.SixID, in services.ListingInput) (*models.Listing, error) {
	args := m.Called(ctx, listingID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Listing), args.Error(1)
}

func (m *MockListingService) PublishListing(ctx context.Context, listingID utils.SixID) error {
	return m.Called(ctx, listingID).Error(0)
}

func (m *MockListingService) HideListing(ctx context.Context, listingID utils.SixID) error {
	return m.Called(ctx, listingID).Error(0)
}

func (m *MockListingService) AddImageToListing(ctx context.Context, listingID utils.SixID, imageKey string) error {
	return m.Called(ctx, listingID, imageKey).Error(0)
}

func (m *MockListingService) DeleteListing(ctx context.Context, listingID utils.SixID) error {
	return m.Called(ctx, listingID).Error(0)
}

func (m *MockListingService) ListListings(ctx context.Context) []*models.Listing {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*models.Listing)
}

func (m *MockListingService) FindListingsByUserID(ctx context.Context, userID utils.SixID) []*models.Listing {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*models.Listing)
}

func (m *MockListingService) SearchListings(ctx context.Context, q services.SearchQuery) []*models.Listing {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*models.Listing)
}

type MockS3Storage struct {
	mock.Mock
}

func (m *MockS3Storage) GeneratePresignedPutURL(ctx context.Context, key, contentType string) (string, error) {
	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockS3Storage) GetObject(ctx context.Context, key string) (*storage.Object, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.Object), args.Error(1)
}

func (m *MockS3Storage) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	return m.Called(ctx, key, body, contentType).Error(0)
}

type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}

// taskOfType matches an enqueued task by its type name.
func taskOfType(typename string) interface{} {
	return mock.MatchedBy(func(task *asynq.Task) bool { return task.Type() == typename })
}
