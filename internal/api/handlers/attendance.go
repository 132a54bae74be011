package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attendance/facepresence/internal/attendance"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/recognize"
	"github.com/attendance/facepresence/internal/storage"
	"github.com/attendance/facepresence/pkg/dto"
)

// AttendanceHandler implements /v1/attendance, grounded on
// original_source/attendance.py's endpoint shapes.
type AttendanceHandler struct {
	db         *storage.PostgresStore
	minio      *storage.MinIOStore
	recognizer *recognize.Engine
	gate       *attendance.Gate
}

func NewAttendanceHandler(db *storage.PostgresStore, minio *storage.MinIOStore, recognizer *recognize.Engine, gate *attendance.Gate) *AttendanceHandler {
	return &AttendanceHandler{db: db, minio: minio, recognizer: recognizer, gate: gate}
}

// CheckIn handles POST /v1/attendance/check-in: a single off-camera
// recognition attempt against a base64 JPEG, per spec.md §6.
func (h *AttendanceHandler) CheckIn(c *gin.Context) {
	var req dto.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frame, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.CheckInResponse{Status: dto.CheckInError, Error: "invalid base64 image"})
		return
	}

	ctx := c.Request.Context()
	matches, facesDetected, err := h.recognizer.Recognize(ctx, "check-in", frame)
	if err != nil {
		c.JSON(http.StatusOK, dto.CheckInResponse{Status: dto.CheckInError, Error: err.Error()})
		return
	}
	if facesDetected == 0 {
		c.JSON(http.StatusOK, dto.CheckInResponse{Status: dto.CheckInNoFace})
		return
	}
	if len(matches) == 0 {
		c.JSON(http.StatusOK, dto.CheckInResponse{Status: dto.CheckInNoMatch})
		return
	}

	best := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence > best.Confidence {
			best = m
		}
	}

	person, err := h.db.GetPerson(ctx, best.PersonID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.CheckInResponse{Status: dto.CheckInError, Error: err.Error()})
		return
	}

	now := time.Now()
	outcome, rec, err := h.gate.Record(ctx, person.ID, person.ExternalID, best.Confidence, now, frame)
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.CheckInResponse{Status: dto.CheckInError, Error: err.Error()})
		return
	}

	studentResp := dto.NewStudentResponse(person)
	confidence := best.Confidence

	switch outcome {
	case models.AttendanceCreated:
		c.JSON(http.StatusOK, dto.CheckInResponse{
			Status:       dto.CheckInSuccess,
			Person:       &studentResp,
			Confidence:   &confidence,
			CheckInTime:  &rec.CheckInTime,
			AttendanceID: &rec.ID,
		})
	case models.AttendanceAlready:
		day := h.gate.CalendarDay(now)
		resp := dto.CheckInResponse{Status: dto.CheckInAlreadyAttend, Person: &studentResp, Confidence: &confidence}
		if existing, err := h.gate.ForPerson(ctx, person.ID, day, day); err == nil && len(existing) > 0 {
			resp.CheckInTime = &existing[0].CheckInTime
			resp.AttendanceID = &existing[0].ID
		}
		c.JSON(http.StatusOK, resp)
	default: // suppressed
		c.JSON(http.StatusOK, dto.CheckInResponse{Status: dto.CheckInNoMatch})
	}
}

func (h *AttendanceHandler) Today(c *gin.Context) {
	day := h.gate.CalendarDay(time.Now())
	records, err := h.gate.ForDay(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.toResponses(records))
}

func (h *AttendanceHandler) ForStudent(c *gin.Context) {
	externalID := c.Param("external_id")
	person, err := h.db.GetPersonByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	from := c.DefaultQuery("date_from", "0000-01-01")
	to := c.DefaultQuery("date_to", "9999-12-31")

	records, err := h.gate.ForPerson(c.Request.Context(), person.ID, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.toResponses(records))
}

func (h *AttendanceHandler) Statistics(c *gin.Context) {
	from := c.DefaultQuery("date_from", "0000-01-01")
	to := c.DefaultQuery("date_to", "9999-12-31")

	stats, err := h.gate.Statistics(c.Request.Context(), from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.NewDailyStatResponses(stats))
}

func (h *AttendanceHandler) toResponses(records []models.AttendanceRecord) []dto.AttendanceRecordResponse {
	out := make([]dto.AttendanceRecordResponse, len(records))
	for i, r := range records {
		out[i] = dto.NewAttendanceRecordResponse(r, "")
	}
	return out
}
