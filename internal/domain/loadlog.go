package domain

import (
	"time"

	"github.com/google/uuid"
)

// LoadLogEntry records one rejected or failed record from a load run, with
// enough detail to replay it against the dimension table.
type LoadLogEntry struct {
	ID           int64     `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	BusinessKey  string    `json:"business_key,omitempty"`
	RowNumber    *int      `json:"row_number,omitempty"`
	Transition   string    `json:"transition,omitempty"`
	ErrorMessage string    `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
}
