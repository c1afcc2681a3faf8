package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tessellate-ai/querymesh/internal/domain"
)

// MockSearchClient is a mock implementation of SimilaritySearchClient
type MockSearchClient struct {
	mock.Mock
}

func (m *MockSearchClient) Search(ctx context.Context, partition *domain.Partition, embedding []float32, limit int) ([]*RetrievedChunk, error) {
	args := m.Called(ctx, partition, embedding, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*RetrievedChunk), args.Error(1)
}

// MockHealthReporter is a mock implementation of PartitionHealthReporter
type MockHealthReporter struct {
	mock.Mock
}

func (m *MockHealthReporter) RecordSearchFailure(ctx context.Context, key domain.PartitionKey, threshold int) error {
	args := m.Called(ctx, key, threshold)
	return args.Error(0)
}

func (m *MockHealthReporter) RecordSearchSuccess(ctx context.Context, key domain.PartitionKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func fastFanoutConfig() FanoutConfig {
	cfg := DefaultFanoutConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.PartitionTimeout = 100 * time.Millisecond
	return cfg
}

func partitionHit(id string, key domain.PartitionKey, score float32) *RetrievedChunk {
	return &RetrievedChunk{
		ChunkID:    id,
		DocumentID: "doc-" + id,
		Content:    "content " + id,
		Score:      score,
		Partition:  key,
	}
}

func TestFanoutCoordinator_Dispatch(t *testing.T) {
	ctx := context.Background()
	embedding := []float32{0.1, 0.2}

	t.Run("merges hits from all partitions", func(t *testing.T) {
		mockSearch := new(MockSearchClient)
		mockHealth := new(MockHealthReporter)
		coordinator := NewFanoutCoordinatorWithConfig(mockSearch, mockHealth, fastFanoutConfig())

		private := activePartition(domain.PartitionKindPrivate, "user-1", "tenant-1")
		global := activePartition(domain.PartitionKindGlobal, "tenant-1", "tenant-1")

		mockSearch.On("Search", mock.Anything, private, embedding, mock.Anything).
			Return([]*RetrievedChunk{partitionHit("c1", private.Key, 0.9)}, nil)
		mockSearch.On("Search", mock.Anything, global, embedding, mock.Anything).
			Return([]*RetrievedChunk{partitionHit("c2", global.Key, 0.8)}, nil)
		mockHealth.On("RecordSearchSuccess", mock.Anything, private.Key).Return(nil)
		mockHealth.On("RecordSearchSuccess", mock.Anything, global.Key).Return(nil)

		result, err := coordinator.Dispatch(ctx, []*domain.Partition{private, global}, embedding)

		require.NoError(t, err)
		assert.Len(t, result.Hits, 2)
		assert.Len(t, result.PartitionsQueried, 2)
		assert.Empty(t, result.PartitionErrors)
		mockHealth.AssertExpectations(t)
	})

	t.Run("partial failure keeps surviving partitions", func(t *testing.T) {
		mockSearch := new(MockSearchClient)
		mockHealth := new(MockHealthReporter)
		coordinator := NewFanoutCoordinatorWithConfig(mockSearch, mockHealth, fastFanoutConfig())

		private := activePartition(domain.PartitionKindPrivate, "user-1", "tenant-1")
		global := activePartition(domain.PartitionKindGlobal, "tenant-1", "tenant-1")

		mockSearch.On("Search", mock.Anything, private, embedding, mock.Anything).
			Return([]*RetrievedChunk{partitionHit("c1", private.Key, 0.9)}, nil)
		mockSearch.On("Search", mock.Anything, global, embedding, mock.Anything).
			Return(nil, errors.New("index unreachable"))
		mockHealth.On("RecordSearchSuccess", mock.Anything, private.Key).Return(nil)
		mockHealth.On("RecordSearchFailure", mock.Anything, global.Key, DefaultDegradedThreshold).Return(nil)

		result, err := coordinator.Dispatch(ctx, []*domain.Partition{private, global}, embedding)

		require.NoError(t, err)
		assert.Len(t, result.Hits, 1)
		assert.Equal(t, []string{private.Key.String()}, result.PartitionsQueried)
		require.Len(t, result.PartitionErrors, 1)
		assert.Equal(t, global.Key.String(), result.PartitionErrors[0].Partition)
		assert.Contains(t, result.PartitionErrors[0].Reason, "index unreachable")
	})

	t.Run("total failure returns retrieval unavailable", func(t *testing.T) {
		mockSearch := new(MockSearchClient)
		mockHealth := new(MockHealthReporter)
		coordinator := NewFanoutCoordinatorWithConfig(mockSearch, mockHealth, fastFanoutConfig())

		private := activePartition(domain.PartitionKindPrivate, "user-1", "tenant-1")

		mockSearch.On("Search", mock.Anything, private, embedding, mock.Anything).
			Return(nil, errors.New("index unreachable"))
		mockHealth.On("RecordSearchFailure", mock.Anything, private.Key, DefaultDegradedThreshold).Return(nil)

		_, err := coordinator.Dispatch(ctx, []*domain.Partition{private}, embedding)

		require.Error(t, err)
		var domainErr *domain.DomainError
		require.ErrorAs(t, err, &domainErr)
		assert.Equal(t, domain.ErrCodeRetrievalUnavailable, domainErr.Code)
	})

	t.Run("leg is retried once before failing", func(t *testing.T) {
		mockSearch := new(MockSearchClient)
		mockHealth := new(MockHealthReporter)
		coordinator := NewFanoutCoordinatorWithConfig(mockSearch, mockHealth, fastFanoutConfig())

		private := activePartition(domain.PartitionKindPrivate, "user-1", "tenant-1")

		mockSearch.On("Search", mock.Anything, private, embedding, mock.Anything).
			Return(nil, errors.New("transient")).Once()
		mockSearch.On("Search", mock.Anything, private, embedding, mock.Anything).
			Return([]*RetrievedChunk{partitionHit("c1", private.Key, 0.9)}, nil).Once()
		mockHealth.On("RecordSearchSuccess", mock.Anything, private.Key).Return(nil)

		result, err := coordinator.Dispatch(ctx, []*domain.Partition{private}, embedding)

		require.NoError(t, err)
		assert.Len(t, result.Hits, 1)
		mockSearch.AssertNumberOfCalls(t, "Search", 2)
	})

	t.Run("empty partition set is rejected", func(t *testing.T) {
		coordinator := NewFanoutCoordinator(new(MockSearchClient), new(MockHealthReporter))

		_, err := coordinator.Dispatch(ctx, nil, embedding)

		assert.ErrorIs(t, err, domain.ErrNoAccessiblePartitions)
	})

	t.Run("cancellation stops new dispatches", func(t *testing.T) {
		mockHealth := new(MockHealthReporter)
		var calls atomic.Int32

		cancelled, cancel := context.WithCancel(ctx)
		blocking := &blockingSearchClient{calls: &calls, release: cancel}

		cfg := fastFanoutConfig()
		cfg.Concurrency = 1
		coordinator := NewFanoutCoordinatorWithConfig(blocking, mockHealth, cfg)

		partitions := []*domain.Partition{
			activePartition(domain.PartitionKindPrivate, "user-1", "tenant-1"),
			activePartition(domain.PartitionKindProject, "proj-a", "tenant-1"),
			activePartition(domain.PartitionKindGlobal, "tenant-1", "tenant-1"),
		}

		_, err := coordinator.Dispatch(cancelled, partitions, embedding)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		// The first leg cancels the context, so the remaining legs are
		// never dispatched.
		assert.LessOrEqual(t, calls.Load(), int32(2))
	})

	t.Run("health reporter errors do not fail the leg", func(t *testing.T) {
		mockSearch := new(MockSearchClient)
		mockHealth := new(MockHealthReporter)
		coordinator := NewFanoutCoordinatorWithConfig(mockSearch, mockHealth, fastFanoutConfig())

		private := activePartition(domain.PartitionKindPrivate, "user-1", "tenant-1")

		mockSearch.On("Search", mock.Anything, private, embedding, mock.Anything).
			Return([]*RetrievedChunk{partitionHit("c1", private.Key, 0.9)}, nil)
		mockHealth.On("RecordSearchSuccess", mock.Anything, private.Key).Return(errors.New("db busy"))

		result, err := coordinator.Dispatch(ctx, []*domain.Partition{private}, embedding)

		require.NoError(t, err)
		assert.Len(t, result.Hits, 1)
	})
}

func TestNewFanoutCoordinatorWithConfig_FillsDefaults(t *testing.T) {
	// Server wiring sets only concurrency, timeout, and limit; the
	// remaining knobs must come from the defaults.
	coordinator := NewFanoutCoordinatorWithConfig(new(MockSearchClient), new(MockHealthReporter), FanoutConfig{
		Concurrency:       4,
		PartitionTimeout:  2 * time.Second,
		PerPartitionLimit: 20,
	})

	assert.Equal(t, DefaultRetryBackoff, coordinator.cfg.RetryBackoff)
	assert.Equal(t, DefaultDegradedThreshold, coordinator.cfg.DegradedThreshold)

	coordinator = NewFanoutCoordinatorWithConfig(new(MockSearchClient), new(MockHealthReporter), FanoutConfig{})

	assert.Equal(t, DefaultFanoutConcurrency, coordinator.cfg.Concurrency)
	assert.Equal(t, DefaultPartitionTimeout, coordinator.cfg.PartitionTimeout)
	assert.Equal(t, DefaultRetryBackoff, coordinator.cfg.RetryBackoff)
	assert.Equal(t, 20, coordinator.cfg.PerPartitionLimit)
}

// blockingSearchClient cancels the shared context on its first call and
// counts invocations.
type blockingSearchClient struct {
	calls   *atomic.Int32
	release context.CancelFunc
}

func (c *blockingSearchClient) Search(ctx context.Context, partition *domain.Partition, embedding []float32, limit int) ([]*RetrievedChunk, error) {
	c.calls.Add(1)
	c.release()
	<-ctx.Done()
	return nil, ctx.Err()
}
