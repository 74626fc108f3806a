package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dkessler/classpulse/internal/api/middleware"
	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/repository"
	"github.com/dkessler/classpulse/internal/storage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RecordingHandler handles recording session endpoints.
type RecordingHandler struct {
	recordings *repository.RecordingRepository
	jobs       *repository.AIJobRepository
	queueRepo  *repository.QueueRepository
	queueSvc   *queue.Service
	store      storage.ObjectStorage
}

// NewRecordingHandler creates a new recording handler.
// Parameters:
//   - recordings: session store.
//   - jobs: AI job slot store.
//   - queueRepo: queue item store.
//   - queueSvc: queue service used to enqueue processing.
//   - store: audio object storage.
// Returns:
//   - *RecordingHandler: initialized handler.
func NewRecordingHandler(recordings *repository.RecordingRepository, jobs *repository.AIJobRepository, queueRepo *repository.QueueRepository, queueSvc *queue.Service, store storage.ObjectStorage) *RecordingHandler {
	return &RecordingHandler{
		recordings: recordings,
		jobs:       jobs,
		queueRepo:  queueRepo,
		queueSvc:   queueSvc,
		store:      store,
	}
}

// Upload handles POST /api/v1/recordings: stores the audio, creates the
// session, and enqueues transcription.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *RecordingHandler) Upload(c *gin.Context) {
	userID := middleware.UserID(c)

	file, header, err := c.Request.FormFile("audio")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Audio file is required: " + err.Error(),
		})
		return
	}
	defer file.Close()

	displayName := c.PostForm("display_name")
	if displayName == "" {
		displayName = header.Filename
	}
	durationSeconds, _ := strconv.Atoi(c.PostForm("duration_seconds"))
	priority := domain.Priority(c.PostForm("priority"))
	if priority == "" {
		priority = domain.PriorityNormal
	}

	session := &domain.RecordingSession{
		UserID:          userID,
		DisplayName:     displayName,
		DurationSeconds: durationSeconds,
		Status:          domain.SessionStatusPending,
		ProcessingStage: domain.StagePending,
	}
	if err := h.recordings.Create(c.Request.Context(), session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create session: " + err.Error(),
		})
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	key := storage.AudioKey(userID, session.ID, ext)
	contentType := header.Header.Get("Content-Type")
	if err := h.store.Upload(c.Request.Context(), key, file, header.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store audio: " + err.Error(),
		})
		return
	}

	session.AudioURL = h.store.GetURL(key)
	if err := h.recordings.Update(c.Request.Context(), session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update session: " + err.Error(),
		})
		return
	}

	item, _, err := h.queueSvc.EnqueueTranscription(c.Request.Context(), queue.TranscriptionJob{
		SessionID: session.ID,
		UserID:    userID,
		AudioURL:  session.AudioURL,
		AudioKey:  key,
	}, priority)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue processing: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session":  session,
		"queue_id": item.ID,
	})
}

// List handles GET /api/v1/recordings.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *RecordingHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	limit, offset := pagination(c)

	sessions, err := h.recordings.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list sessions: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

// Get handles GET /api/v1/recordings/:id, returning the session with its AI
// jobs and queue items.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *RecordingHandler) Get(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}

	jobs, err := h.jobs.GetBySession(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load jobs: " + err.Error(),
		})
		return
	}
	items, err := h.queueRepo.GetBySession(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load queue items: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"jobs":    jobs,
		"queue":   items,
	})
}

// Retry handles POST /api/v1/recordings/:id/retry, re-enqueueing processing
// for a failed session.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *RecordingHandler) Retry(c *gin.Context) {
	session, ok := h.ownedSession(c)
	if !ok {
		return
	}
	if session.Status != domain.SessionStatusFailed {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Only failed sessions can be retried",
		})
		return
	}

	session, err := h.recordings.ResetForRetry(c.Request.Context(), session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to reset session: " + err.Error(),
		})
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(session.AudioURL), ".")
	item, _, err := h.queueSvc.EnqueueTranscription(c.Request.Context(), queue.TranscriptionJob{
		SessionID: session.ID,
		UserID:    session.UserID,
		AudioURL:  session.AudioURL,
		AudioKey:  storage.AudioKey(session.UserID, session.ID, ext),
	}, domain.PriorityHigh)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue processing: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"queue_id": item.ID,
	})
}

// ownedSession loads the :id session and enforces ownership. Missing and
// foreign sessions both read as 404.
func (h *RecordingHandler) ownedSession(c *gin.Context) (*domain.RecordingSession, bool) {
	session, err := h.recordings.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load session: " + err.Error(),
			})
		}
		return nil, false
	}
	if session.UserID != middleware.UserID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	return session, true
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
