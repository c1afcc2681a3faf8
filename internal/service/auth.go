package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/tessellate-ai/querymesh/internal/domain"
)

const apiKeyPrefix = "qm_"

// APIKeyRepository persists issued credentials
type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByID(ctx context.Context, id string) (*domain.APIKey, error)
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// AuthService issues and validates API keys. Each key binds a tenant, a
// user, and the user's project memberships, which scope resolution relies
// on for project-partition access checks.
type AuthService struct {
	keyRepo APIKeyRepository
	uuidGen UUIDGenerator
}

func NewAuthService(keyRepo APIKeyRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		keyRepo: keyRepo,
		uuidGen: uuidGen,
	}
}

// CreateAPIKeyInput represents the input for issuing an API key
type CreateAPIKeyInput struct {
	TenantID           string
	UserID             string
	Name               string
	ProjectMemberships []string
}

// CreateAPIKey issues a new key and returns the plaintext token. Only the
// hash is stored; the token is shown exactly once.
func (s *AuthService) CreateAPIKey(ctx context.Context, input CreateAPIKeyInput) (string, *domain.APIKey, error) {
	if input.TenantID == "" {
		return "", nil, domain.NewDomainError(domain.ErrCodeValidation, "tenant ID is required")
	}
	if input.UserID == "" {
		return "", nil, domain.NewDomainError(domain.ErrCodeValidation, "user ID is required")
	}
	if input.Name == "" {
		return "", nil, domain.NewDomainError(domain.ErrCodeValidation, "API key name is required")
	}

	token, err := generateAPIToken()
	if err != nil {
		return "", nil, domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}

	key := &domain.APIKey{
		ID:                 s.uuidGen.NewString(),
		TenantID:           input.TenantID,
		UserID:             input.UserID,
		Name:               input.Name,
		KeyHash:            hashToken(token),
		ProjectMemberships: input.ProjectMemberships,
		CreatedAt:          time.Now().UTC(),
		RevokedAt:          nil,
	}

	if err := domain.ValidateAPIKey(key); err != nil {
		return "", nil, err
	}

	if err := s.keyRepo.Create(ctx, key); err != nil {
		return "", nil, err
	}

	return token, key, nil
}

// ValidateAPIKey resolves a bearer token to the identity it authenticates
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (*domain.Identity, error) {
	if !IsValidAPIToken(token) {
		return nil, domain.ErrInvalidAPIKey
	}

	key, err := s.keyRepo.GetByHash(ctx, hashToken(token))
	if err != nil {
		if err == domain.ErrAPIKeyNotFound {
			return nil, domain.ErrInvalidAPIKey
		}
		return nil, err
	}

	if key.IsRevoked() {
		return nil, domain.ErrAPIKeyRevoked
	}

	return key.Identity(), nil
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key ID is required")
	}

	return s.keyRepo.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, tenantID string) ([]*domain.APIKey, error) {
	if tenantID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "tenant ID is required")
	}

	return s.keyRepo.ListByTenant(ctx, tenantID)
}

func generateAPIToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func IsValidAPIToken(token string) bool {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return false
	}
	hexPart := token[len(apiKeyPrefix):]
	if len(hexPart) != 64 {
		return false
	}
	for _, c := range hexPart {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
