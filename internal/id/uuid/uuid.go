// Package uuid generates time-ordered session identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements crawler.IDGenerator with UUIDv7 strings, so session
// IDs sort by creation time in logs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
