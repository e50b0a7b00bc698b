package utils

import (
	"github.com/google/uuid"
)

// GenerateConnectionID returns a unique identifier for a relay connection.
func GenerateConnectionID() string {
	return "conn_" + uuid.NewString()
}
