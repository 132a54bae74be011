package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is a single daily check-in. Rows are never mutated.
type AttendanceRecord struct {
	ID          uuid.UUID
	PersonID    uuid.UUID
	Day         string // calendar day, "2006-01-02", in the service time zone
	CheckInTime time.Time
	Confidence  float32
	SnapshotKey string
}

// AttendanceOutcome is one of the three dispositions the attendance gate (C6) returns.
type AttendanceOutcome string

const (
	AttendanceCreated    AttendanceOutcome = "created"
	AttendanceAlready    AttendanceOutcome = "already"
	AttendanceSuppressed AttendanceOutcome = "suppressed"
)

// DailyStat is one bucket of the attendance statistics endpoint.
type DailyStat struct {
	Day            string
	CheckIns       int
	DistinctPeople int
}
