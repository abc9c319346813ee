package repositories

import "fmt"

// CatalogErrorCode enumerates failure reasons for database and container management.
type CatalogErrorCode string

const (
	// CatalogErrorInvalidInput indicates the caller supplied invalid identifiers or throughput.
	CatalogErrorInvalidInput CatalogErrorCode = "catalog_invalid_input"
	// CatalogErrorPartitionKeyMismatch indicates a container already exists with another partition key path.
	CatalogErrorPartitionKeyMismatch CatalogErrorCode = "catalog_partition_key_mismatch"
)

// CatalogError wraps catalog-specific failures with machine readable codes.
type CatalogError struct {
	Op      string
	Code    CatalogErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CatalogError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CatalogError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCatalogError constructs a typed catalog error.
func NewCatalogError(op string, code CatalogErrorCode, message string) *CatalogError {
	if message == "" {
		message = string(code)
	}
	return &CatalogError{Op: op, Code: code, Message: message}
}
