package domain

import (
	"fmt"
	"time"
)

// Identity is the authenticated caller of a request: the tenant it belongs
// to, the acting user, and the projects that user is a member of.
type Identity struct {
	TenantID           string
	UserID             string
	ProjectMemberships []string
}

// APIKey represents an issued bearer credential
type APIKey struct {
	ID                 string
	TenantID           string
	UserID             string
	Name               string
	KeyHash            string // Never store plaintext keys
	ProjectMemberships []string
	CreatedAt          time.Time
	RevokedAt          *time.Time
}

// IsRevoked checks if the API key has been revoked
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Identity returns the caller identity the key authenticates
func (k *APIKey) Identity() *Identity {
	return &Identity{
		TenantID:           k.TenantID,
		UserID:             k.UserID,
		ProjectMemberships: k.ProjectMemberships,
	}
}

// ValidateAPIKey validates an APIKey instance
func ValidateAPIKey(k *APIKey) error {
	if k == nil {
		return fmt.Errorf("api key cannot be nil")
	}
	if k.ID == "" {
		return NewDomainError(ErrCodeValidation, "api key ID is required")
	}
	if k.TenantID == "" {
		return NewDomainError(ErrCodeValidation, "api key tenant ID is required")
	}
	if k.UserID == "" {
		return NewDomainError(ErrCodeValidation, "api key user ID is required")
	}
	if k.Name == "" {
		return NewDomainError(ErrCodeValidation, "api key name is required")
	}
	if k.KeyHash == "" {
		return NewDomainError(ErrCodeValidation, "api key hash is required")
	}
	return nil
}
