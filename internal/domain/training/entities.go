package training

import (
	"time"

	"github.com/google/uuid"
)

// RecordStatus tracks vectorization progress of a training record.
type RecordStatus string

const (
	StatusWaiting    RecordStatus = "waiting"
	StatusProcessing RecordStatus = "processing"
	StatusDone       RecordStatus = "done"
	StatusFailed     RecordStatus = "failed"
)

// Valid reports whether s is one of the known lifecycle states.
func (s RecordStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Pair is a submitted question/answer training pair.
type Pair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Record is a training pair plus its vectorization lifecycle.
// Only the worker pool mutates Status and Attempts after creation.
type Record struct {
	ID        uuid.UUID    `json:"id"`
	UserID    int64        `json:"userId"`
	ModelID   uuid.UUID    `json:"modelId"`
	Question  string       `json:"question"`
	Answer    string       `json:"answer"`
	Status    RecordStatus `json:"status"`
	Attempts  int          `json:"attempts"`
	LastError *string      `json:"lastError,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// VectorEntry is the searchable embedding derived from a done record.
// Exactly one live entry exists per record; upserts are keyed by RecordID.
type VectorEntry struct {
	RecordID uuid.UUID
	ModelID  uuid.UUID
	Vector   []float32
	Payload  Pair
}

// Match is a retrieval hit ranked by similarity.
type Match struct {
	RecordID uuid.UUID `json:"recordId"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	Score    float64   `json:"score"`
}

// RecordFilter restricts record listings.
type RecordFilter struct {
	Statuses []RecordStatus
	Limit    int
	Offset   int
}
