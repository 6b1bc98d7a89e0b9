package service

import (
	"errors"
	"fmt"
	"strings"

	"restaurant-order-service/internal/dto"
	"restaurant-order-service/internal/repository"
)

// Business errors, mapped to HTTP statuses by the controller.
var (
	ErrValidation          = errors.New("validation failed")
	ErrAllocationExhausted = errors.New("order number allocation exhausted")
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrPersistenceFailed   = errors.New("persistence failed")
	ErrNotFound            = errors.New("not found")
)

// ValidationError carries one entry per failed field constraint.
type ValidationError struct {
	Fields []dto.FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalidField(field, message string) *ValidationError {
	return &ValidationError{Fields: []dto.FieldError{{Field: field, Message: message}}}
}

// storageErr keeps driver errors out of the returned chain: only the
// taxonomy sentinel is wrapped, the cause is rendered as text.
func storageErr(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, repository.ErrUnavailable):
		return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrPersistenceFailed, err)
	}
}
