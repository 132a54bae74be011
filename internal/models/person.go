package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is a stable enrolled identity.
type Person struct {
	ID         uuid.UUID
	ExternalID string
	FirstName  string
	LastName   string
	Group      string
	CreatedAt  time.Time
}

// ReferenceEmbedding is a single enrolled face sample.
type ReferenceEmbedding struct {
	ID        uuid.UUID
	PersonID  uuid.UUID
	ImageKey  string
	Embedding []float32
	CreatedAt time.Time
}

// EmbeddingDimension is the fixed embedding length D, per the data model.
const EmbeddingDimension = 512
