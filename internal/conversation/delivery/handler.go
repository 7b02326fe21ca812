package delivery

import (
	"errors"
	"net/http"
	"strconv"

	"outreach-backend/internal/conversation/domain"
	"outreach-backend/internal/conversation/usecase"

	"github.com/gin-gonic/gin"
)

type ConversationHandler struct {
	service *usecase.Service
}

func NewConversationHandler(service *usecase.Service) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// ListThreads handles GET /api/conversations?status=&limit=&offset=
func (h *ConversationHandler) ListThreads(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	status := domain.ThreadStatus(c.Query("status"))
	switch status {
	case "", domain.ThreadActive, domain.ThreadReplied, domain.ThreadArchived:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	threads, total, err := h.service.ListThreads(c.GetString("userID"), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"threads": threads,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *ConversationHandler) GetThread(c *gin.Context) {
	thread, err := h.service.GetThread(c.GetString("userID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *ConversationHandler) ListMessages(c *gin.Context) {
	msgs, err := h.service.ListMessages(c.GetString("userID"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *ConversationHandler) ArchiveThread(c *gin.Context) {
	if err := h.service.ArchiveThread(c.GetString("userID"), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "thread archived"})
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrThreadNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
