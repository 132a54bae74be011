package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/attendance/facepresence/internal/models"
)

// CheckInRequest is the body of POST /v1/attendance/check-in.
type CheckInRequest struct {
	ImageBase64 string `json:"image_base64" binding:"required"`
	CameraID    *uuid.UUID `json:"camera_id,omitempty"`
}

// CheckInStatus is the outer status in a CheckInResponse.
type CheckInStatus string

const (
	CheckInSuccess       CheckInStatus = "success"
	CheckInAlreadyAttend CheckInStatus = "already_attended"
	CheckInNoMatch       CheckInStatus = "no_match"
	CheckInNoFace        CheckInStatus = "no_face"
	CheckInError         CheckInStatus = "error"
)

// CheckInResponse is the body of POST /v1/attendance/check-in, per spec.md §6.
type CheckInResponse struct {
	Status       CheckInStatus `json:"status"`
	Person       *StudentResponse `json:"person,omitempty"`
	Confidence   *float32      `json:"confidence,omitempty"`
	CheckInTime  *time.Time    `json:"check_in_time,omitempty"`
	AttendanceID *uuid.UUID    `json:"attendance_id,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// AttendanceRecordResponse is one row of GET /v1/attendance/today and
// GET /v1/attendance/student/{external_id}.
type AttendanceRecordResponse struct {
	ID          uuid.UUID `json:"id"`
	PersonID    uuid.UUID `json:"person_id"`
	Day         string    `json:"day"`
	CheckInTime time.Time `json:"check_in_time"`
	Confidence  float32   `json:"confidence"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
}

func NewAttendanceRecordResponse(r models.AttendanceRecord, snapshotURL string) AttendanceRecordResponse {
	return AttendanceRecordResponse{
		ID:          r.ID,
		PersonID:    r.PersonID,
		Day:         r.Day,
		CheckInTime: r.CheckInTime,
		Confidence:  r.Confidence,
		SnapshotURL: snapshotURL,
	}
}

// DailyStatResponse is one bucket of GET /v1/attendance/statistics.
type DailyStatResponse struct {
	Day            string `json:"day"`
	CheckIns       int    `json:"check_ins"`
	DistinctPeople int    `json:"distinct_people"`
}

func NewDailyStatResponses(stats []models.DailyStat) []DailyStatResponse {
	out := make([]DailyStatResponse, len(stats))
	for i, s := range stats {
		out[i] = DailyStatResponse{Day: s.Day, CheckIns: s.CheckIns, DistinctPeople: s.DistinctPeople}
	}
	return out
}
