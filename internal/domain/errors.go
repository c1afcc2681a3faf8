package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeAlreadyExists          = "ALREADY_EXISTS"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeInternalError          = "INTERNAL_ERROR"
	ErrCodeInvalidOperation       = "INVALID_OPERATION"
	ErrCodeScopeDenied            = "SCOPE_DENIED"
	ErrCodeNoAccessiblePartitions = "NO_ACCESSIBLE_PARTITIONS"
	ErrCodeEmbeddingUnavailable   = "EMBEDDING_UNAVAILABLE"
	ErrCodeRetrievalUnavailable   = "RETRIEVAL_UNAVAILABLE"
)

// Validation errors
var (
	ErrInvalidQueryScope    = NewDomainError(ErrCodeValidation, "invalid query scope")
	ErrInvalidQueryStatus   = NewDomainError(ErrCodeValidation, "invalid query status")
	ErrInvalidPartitionKind = NewDomainError(ErrCodeValidation, "invalid partition kind")
	ErrInvalidRating        = NewDomainError(ErrCodeValidation, "rating must be between 1 and 5")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Not found errors
var (
	ErrQueryNotFound        = NewDomainError(ErrCodeNotFound, "query not found")
	ErrAPIKeyNotFound       = NewDomainError(ErrCodeNotFound, "api key not found")
	ErrPartitionNotFound    = NewDomainError(ErrCodeNotFound, "partition not found")
	ErrConversationNotFound = NewDomainError(ErrCodeNotFound, "conversation not found")
	ErrCitationNotFound     = NewDomainError(ErrCodeNotFound, "citation not found")
)

// Already exists errors
var (
	ErrPartitionAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "partition already exists")
)

// Authorization errors
var (
	ErrScopeDenied   = NewDomainError(ErrCodeScopeDenied, "requested scope target is not accessible to the requester")
	ErrInvalidAPIKey = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrAPIKeyRevoked = NewDomainError(ErrCodeUnauthorized, "api key has been revoked")
)

// Retrieval errors
var (
	ErrNoAccessiblePartitions = NewDomainError(ErrCodeNoAccessiblePartitions, "no accessible partitions for requested scope")
	ErrEmbeddingUnavailable   = NewDomainError(ErrCodeEmbeddingUnavailable, "embedding backend unavailable")
	ErrRetrievalUnavailable   = NewDomainError(ErrCodeRetrievalUnavailable, "all partitions failed during retrieval")
)

// Operation errors
var (
	ErrQueryTerminal         = NewDomainError(ErrCodeInvalidOperation, "query is in a terminal state")
	ErrConversationArchived  = NewDomainError(ErrCodeInvalidOperation, "conversation is archived")
	ErrCannotDeletePartition = NewDomainError(ErrCodeInvalidOperation, "cannot delete partition, use deactivation instead")
	ErrQueryNotCancellable   = NewDomainError(ErrCodeInvalidOperation, "query already reached a terminal state")
)
