package tx

import (
	"github.com/google/uuid"
)

// LabelGenerator names anonymous entities so they appear in Report.Tempids.
type LabelGenerator interface {
	Generate() string
}

// UUIDv7Labels generates time-sortable UUIDv7 labels.
//
// Thread-safety: UUIDv7Labels is stateless and safe for concurrent use.
type UUIDv7Labels struct{}

// Generate returns a new hyphenated UUIDv7.
//
// Panics if UUID generation fails.
func (UUIDv7Labels) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
