package hit

import (
	"time"

	"github.com/google/uuid"
)

// Hit is one admitted request in the durable hit log.
type Hit struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	SourceKey string    `json:"source_key" db:"source_key"`
	Method    string    `json:"method" db:"method"`
	Path      string    `json:"path" db:"path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
