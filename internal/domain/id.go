package domain

import "github.com/google/uuid"

// NewID generates a UUIDv7 string. Session ids and statement handles both use it,
// so identifiers sort roughly by creation time.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidID reports whether s parses as a UUID.
func ValidID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
