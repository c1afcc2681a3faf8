package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tessellate-ai/querymesh/internal/api"
	"github.com/tessellate-ai/querymesh/internal/api/middleware"
	"github.com/tessellate-ai/querymesh/internal/domain"
	"github.com/tessellate-ai/querymesh/internal/service"
)

type RegistryService interface {
	CreatePartition(ctx context.Context, input service.CreatePartitionInput) (*domain.Partition, error)
	GetPartition(ctx context.Context, key domain.PartitionKey) (*domain.Partition, error)
	ListPartitions(ctx context.Context, tenantID string) ([]*domain.Partition, error)
	DeactivatePartition(ctx context.Context, tenantID string, key domain.PartitionKey) error
}

type PartitionHandler struct {
	svc RegistryService
}

func NewPartitionHandler(svc RegistryService) *PartitionHandler {
	return &PartitionHandler{svc: svc}
}

type CreatePartitionRequest struct {
	Kind                string  `json:"kind"`
	OwnerID             string  `json:"owner_id"`
	Name                string  `json:"name,omitempty"`
	EmbeddingModel      string  `json:"embedding_model,omitempty"`
	ChunkSize           int     `json:"chunk_size,omitempty"`
	ChunkOverlap        int     `json:"chunk_overlap,omitempty"`
	SimilarityThreshold float32 `json:"similarity_threshold,omitempty"`
}

type PartitionResponse struct {
	Kind                string  `json:"kind"`
	OwnerID             string  `json:"owner_id"`
	Name                string  `json:"name"`
	IsActive            bool    `json:"is_active"`
	Health              string  `json:"health"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	EmbeddingModel      string  `json:"embedding_model"`
	ChunkSize           int     `json:"chunk_size"`
	ChunkOverlap        int     `json:"chunk_overlap"`
	SimilarityThreshold float32 `json:"similarity_threshold"`
	IndexName           string  `json:"index_name"`
	DocumentCount       int64   `json:"document_count"`
	ChunkCount          int64   `json:"chunk_count"`
	LastHealthCheck     string  `json:"last_health_check,omitempty"`
	CreatedAt           string  `json:"created_at"`
}

func partitionToResponse(p *domain.Partition) *PartitionResponse {
	resp := &PartitionResponse{
		Kind:                string(p.Key.Kind),
		OwnerID:             p.Key.OwnerID,
		Name:                p.Name,
		IsActive:            p.IsActive,
		Health:              string(p.Health),
		ConsecutiveFailures: p.ConsecutiveFailures,
		EmbeddingModel:      p.EmbeddingModel,
		ChunkSize:           p.ChunkSize,
		ChunkOverlap:        p.ChunkOverlap,
		SimilarityThreshold: p.SimilarityThreshold,
		IndexName:           p.IndexName,
		DocumentCount:       p.DocumentCount,
		ChunkCount:          p.ChunkCount,
		CreatedAt:           p.CreatedAt.Format("2006-01-02T15:04:05Z"),
	}
	if p.LastHealthCheck != nil {
		resp.LastHealthCheck = p.LastHealthCheck.Format("2006-01-02T15:04:05Z")
	}
	return resp
}

func (h *PartitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreatePartitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Kind == "" {
		api.Error(w, http.StatusBadRequest, "kind is required")
		return
	}
	if req.OwnerID == "" {
		api.Error(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	partition, err := h.svc.CreatePartition(r.Context(), service.CreatePartitionInput{
		Kind:                domain.PartitionKind(req.Kind),
		OwnerID:             req.OwnerID,
		TenantID:            identity.TenantID,
		Name:                req.Name,
		EmbeddingModel:      req.EmbeddingModel,
		ChunkSize:           req.ChunkSize,
		ChunkOverlap:        req.ChunkOverlap,
		SimilarityThreshold: req.SimilarityThreshold,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, partitionToResponse(partition))
}

func (h *PartitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	key := domain.PartitionKey{
		Kind:    domain.PartitionKind(chi.URLParam(r, "kind")),
		OwnerID: chi.URLParam(r, "ownerID"),
	}

	partition, err := h.svc.GetPartition(r.Context(), key)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if partition.TenantID != identity.TenantID {
		api.HandleError(w, domain.ErrPartitionNotFound)
		return
	}

	api.Success(w, http.StatusOK, partitionToResponse(partition))
}

func (h *PartitionHandler) List(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	partitions, err := h.svc.ListPartitions(r.Context(), identity.TenantID)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	resp := make([]*PartitionResponse, 0, len(partitions))
	for _, p := range partitions {
		resp = append(resp, partitionToResponse(p))
	}

	api.Success(w, http.StatusOK, resp)
}

func (h *PartitionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	key := domain.PartitionKey{
		Kind:    domain.PartitionKind(chi.URLParam(r, "kind")),
		OwnerID: chi.URLParam(r, "ownerID"),
	}

	if err := h.svc.DeactivatePartition(r.Context(), identity.TenantID, key); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
