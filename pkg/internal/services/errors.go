package services

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicate          = errors.New("already answered")
	ErrDeadline           = errors.New("survey deadline has passed")
	ErrImport             = errors.New("import failed")
	ErrPersistence        = errors.New("persistence failed")
	ErrInsufficientPoints = errors.New("insufficient points")
)

// ValidationError carries every user-correctable problem found in one input.
type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Error() string {
	return strings.Join(v.Problems, "\n")
}

func (v *ValidationError) add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) orNil() error {
	if len(v.Problems) == 0 {
		return nil
	}
	return v
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

type ImportError struct {
	Reason string
}

func (v *ImportError) Error() string {
	return fmt.Sprintf("%v: %s", ErrImport, v.Reason)
}

func (v *ImportError) Unwrap() error {
	return ErrImport
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}
