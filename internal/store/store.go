package store

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get* methods when no record matches.
var ErrNotFound = errors.New("record not found")

// GenNewID returns a new time-ordered row id.
func GenNewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
