package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/models"
)

// RegisterStudentRequest is the body of POST /v1/students/register.
type RegisterStudentRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	FirstName  string `json:"first_name" binding:"required"`
	LastName   string `json:"last_name" binding:"required"`
	Group      string `json:"group"`
}

// StudentResponse is the JSON shape for a person in every students endpoint.
type StudentResponse struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"external_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Group      string    `json:"group,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewStudentResponse(p *models.Person) StudentResponse {
	return StudentResponse{
		ID:         p.ID,
		ExternalID: p.ExternalID,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		Group:      p.Group,
		CreatedAt:  p.CreatedAt,
	}
}

func NewStudentResponses(people []models.Person) []StudentResponse {
	out := make([]StudentResponse, len(people))
	for i := range people {
		out[i] = NewStudentResponse(&people[i])
	}
	return out
}

// UploadImagesResponse is the body of POST /v1/students/{external_id}/upload-images.
type UploadImagesResponse struct {
	Successful      int            `json:"successful"`
	SkipCounts      map[string]int `json:"skip_counts,omitempty"`
	NewReferenceIDs []uuid.UUID    `json:"new_reference_ids,omitempty"`
}
