package board

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a board id is absent from the store.
var ErrNotFound = errors.New("board not found")

// Meta is the small per-board metadata kept alongside each snapshot.
type Meta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ValidateID rejects ids that are empty or could escape the store directory.
// Board ids are client-generated opaque strings, so they are checked at every
// store entry point rather than trusted.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("board id is empty")
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("board id %q contains path elements", id)
	}
	return nil
}
