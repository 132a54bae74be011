package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/attendance/facepresence/internal/enroll"
	"github.com/attendance/facepresence/internal/models"
	"github.com/attendance/facepresence/internal/storage"
	"github.com/attendance/facepresence/pkg/dto"
)

// StudentHandler implements the /v1/students endpoints (Person lifecycle
// and enrollment), grounded on the teacher's persons.go handler shape.
type StudentHandler struct {
	db    *storage.PostgresStore
	enrol *enroll.Coordinator
}

func NewStudentHandler(db *storage.PostgresStore, enrol *enroll.Coordinator) *StudentHandler {
	return &StudentHandler{db: db, enrol: enrol}
}

func (h *StudentHandler) Register(c *gin.Context) {
	var req dto.RegisterStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.db.GetPersonByExternalID(c.Request.Context(), req.ExternalID); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "external_id already registered"})
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	person, err := h.db.CreatePerson(c.Request.Context(), req.ExternalID, req.FirstName, req.LastName, req.Group)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, dto.NewStudentResponse(person))
}

func (h *StudentHandler) List(c *gin.Context) {
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 {
		limit = 50
	}

	people, err := h.db.ListPersons(c.Request.Context(), skip, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.NewStudentResponses(people))
}

func (h *StudentHandler) Get(c *gin.Context) {
	person, err := h.lookup(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, dto.NewStudentResponse(person))
}

func (h *StudentHandler) Delete(c *gin.Context) {
	person, err := h.lookup(c)
	if err != nil {
		return
	}

	if _, err := h.enrol.RemovePerson(c.Request.Context(), person.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadImages handles POST /v1/students/{external_id}/upload-images: a
// multipart form with one or more "images" file parts.
func (h *StudentHandler) UploadImages(c *gin.Context) {
	person, err := h.lookup(c)
	if err != nil {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form"})
		return
	}

	files := form.File["images"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no images provided"})
		return
	}

	raws := make([][]byte, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "open uploaded file: " + err.Error()})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "read uploaded file: " + err.Error()})
			return
		}
		raws = append(raws, data)
	}

	summary, err := h.enrol.Enroll(c.Request.Context(), person, raws)
	if err != nil {
		if errors.Is(err, enroll.ErrTooManyImages) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	skipCounts := make(map[string]int, len(summary.SkipCounts))
	for reason, n := range summary.SkipCounts {
		skipCounts[string(reason)] = n
	}

	c.JSON(http.StatusOK, dto.UploadImagesResponse{
		Successful:      summary.Successful,
		SkipCounts:      skipCounts,
		NewReferenceIDs: summary.NewReferenceIDs,
	})
}

func (h *StudentHandler) lookup(c *gin.Context) (*models.Person, error) {
	externalID := c.Param("external_id")
	person, err := h.db.GetPersonByExternalID(c.Request.Context(), externalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, err
	}
	return person, nil
}
