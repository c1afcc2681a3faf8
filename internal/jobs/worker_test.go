package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tessellate-ai/querymesh/internal/domain"
)

type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockPartitionLister struct {
	mock.Mock
}

func (m *MockPartitionLister) ListActive(ctx context.Context) ([]*domain.Partition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Partition), args.Error(1)
}

func (m *MockPartitionLister) RecordHealthCheck(ctx context.Context, key domain.PartitionKey, health domain.PartitionHealth, at time.Time) error {
	args := m.Called(ctx, key, health, at)
	return args.Error(0)
}

func (m *MockPartitionLister) RefreshCounts(ctx context.Context, key domain.PartitionKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

type MockIndexProber struct {
	mock.Mock
}

func (m *MockIndexProber) Probe(ctx context.Context, key domain.PartitionKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(250 * time.Millisecond)

	// Stop worker
	worker.Stop()
	wg.Wait()

	// Verify ProcessJobs was called at least once
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	// Cancel context
	cancel()
	wg.Wait()

	// Verify ProcessJobs was called
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

func healthyPartition(kind domain.PartitionKind, ownerID string) *domain.Partition {
	return &domain.Partition{
		Key:      domain.PartitionKey{Kind: kind, OwnerID: ownerID},
		TenantID: "tenant-1",
		Name:     string(kind) + ":" + ownerID,
		IsActive: true,
		Health:   domain.PartitionHealthHealthy,
	}
}

func TestHealthWorker_NoPartitions(t *testing.T) {
	mockLister := new(MockPartitionLister)
	mockProber := new(MockIndexProber)

	mockLister.On("ListActive", mock.Anything).Return([]*domain.Partition{}, nil)

	worker := NewHealthWorker(mockLister, mockProber)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockLister.AssertExpectations(t)
	mockProber.AssertNotCalled(t, "Probe", mock.Anything, mock.Anything)
}

func TestHealthWorker_ProbeSuccess(t *testing.T) {
	mockLister := new(MockPartitionLister)
	mockProber := new(MockIndexProber)

	partition := healthyPartition(domain.PartitionKindProject, "proj-a")
	key := partition.Key

	mockLister.On("ListActive", mock.Anything).Return([]*domain.Partition{partition}, nil)
	mockProber.On("Probe", mock.Anything, key).Return(nil)
	mockLister.On("RecordHealthCheck", mock.Anything, key, domain.PartitionHealthHealthy, mock.Anything).Return(nil)
	mockLister.On("RefreshCounts", mock.Anything, key).Return(nil)

	worker := NewHealthWorker(mockLister, mockProber)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockLister.AssertExpectations(t)
	mockProber.AssertExpectations(t)
}

func TestHealthWorker_ProbeFailure(t *testing.T) {
	mockLister := new(MockPartitionLister)
	mockProber := new(MockIndexProber)

	partition := healthyPartition(domain.PartitionKindGlobal, "tenant-1")
	key := partition.Key

	mockLister.On("ListActive", mock.Anything).Return([]*domain.Partition{partition}, nil)
	mockProber.On("Probe", mock.Anything, key).Return(errors.New("connection refused"))
	mockLister.On("RecordHealthCheck", mock.Anything, key, domain.PartitionHealthUnhealthy, mock.Anything).Return(nil)

	worker := NewHealthWorker(mockLister, mockProber)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockLister.AssertExpectations(t)
	mockProber.AssertExpectations(t)
	mockLister.AssertNotCalled(t, "RefreshCounts", mock.Anything, mock.Anything)
}

func TestHealthWorker_UnhealthyRecoversOnProbe(t *testing.T) {
	mockLister := new(MockPartitionLister)
	mockProber := new(MockIndexProber)

	partition := healthyPartition(domain.PartitionKindPrivate, "user-1")
	partition.Health = domain.PartitionHealthUnhealthy
	key := partition.Key

	mockLister.On("ListActive", mock.Anything).Return([]*domain.Partition{partition}, nil)
	mockProber.On("Probe", mock.Anything, key).Return(nil)
	mockLister.On("RecordHealthCheck", mock.Anything, key, domain.PartitionHealthHealthy, mock.Anything).Return(nil)
	mockLister.On("RefreshCounts", mock.Anything, key).Return(nil)

	worker := NewHealthWorker(mockLister, mockProber)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockLister.AssertExpectations(t)
	mockProber.AssertExpectations(t)
}

func TestHealthWorker_DegradedStaysDegraded(t *testing.T) {
	mockLister := new(MockPartitionLister)
	mockProber := new(MockIndexProber)

	partition := healthyPartition(domain.PartitionKindProject, "proj-b")
	partition.Health = domain.PartitionHealthDegraded
	key := partition.Key

	mockLister.On("ListActive", mock.Anything).Return([]*domain.Partition{partition}, nil)
	mockProber.On("Probe", mock.Anything, key).Return(nil)
	mockLister.On("RecordHealthCheck", mock.Anything, key, domain.PartitionHealthDegraded, mock.Anything).Return(nil)
	mockLister.On("RefreshCounts", mock.Anything, key).Return(nil)

	worker := NewHealthWorker(mockLister, mockProber)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockLister.AssertExpectations(t)
	mockProber.AssertExpectations(t)
}

func TestHealthWorker_ListFailure(t *testing.T) {
	mockLister := new(MockPartitionLister)
	mockProber := new(MockIndexProber)

	mockLister.On("ListActive", mock.Anything).Return(nil, errors.New("db down"))

	worker := NewHealthWorker(mockLister, mockProber)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	mockLister.AssertExpectations(t)
}
