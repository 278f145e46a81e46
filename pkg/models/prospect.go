package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var prospectNamespace = uuid.MustParse("8f0b7a4e-2c61-4d5b-9a43-6e1f0c7d2b19")

// Prospect is a recipient that flows send to.
type Prospect struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"        validate:"required"`
	Name       string    `json:"name"              validate:"required"`
	Email      string    `json:"email,omitempty"   validate:"omitempty,email"`
	Phone      string    `json:"phone,omitempty"`
	Amount     *float64  `json:"amount,omitempty"`
	ImportID   string    `json:"import_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProspectID derives the stable prospect id for an external identifier,
// so re-importing the same row always yields the same id.
func ProspectID(identifier string) string {
	return uuid.NewSHA1(prospectNamespace, []byte(strings.ToLower(strings.TrimSpace(identifier)))).String()
}
