package repository

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrUnavailable  = errors.New("storage unavailable")
	ErrDuplicateKey = errors.New("duplicate key")
)

// Unique indexes on the orders collection/table.
const (
	IndexOrderNumber    = "orderNumber"
	IndexIdempotencyKey = "idempotencyKey"
)

// DuplicateKeyError reports which unique index rejected a write.
type DuplicateKeyError struct {
	Index string
	Err   error
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key on %s: %v", e.Index, e.Err)
}

func (e *DuplicateKeyError) Is(target error) bool { return target == ErrDuplicateKey }

func (e *DuplicateKeyError) Unwrap() error { return e.Err }

// DuplicateIndex returns the index name carried by a duplicate key error.
func DuplicateIndex(err error) (string, bool) {
	var dup *DuplicateKeyError
	if errors.As(err, &dup) {
		return dup.Index, true
	}
	return "", false
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
