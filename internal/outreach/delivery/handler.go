package delivery

import (
	"errors"
	"net/http"

	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/internal/outreach/domain"
	"outreach-backend/internal/outreach/usecase"

	"github.com/gin-gonic/gin"
)

type OutreachHandler struct {
	sender *usecase.Sender
}

func NewOutreachHandler(sender *usecase.Sender) *OutreachHandler {
	return &OutreachHandler{sender: sender}
}

type sendRequest struct {
	Recipient     string `json:"recipient" binding:"required"`
	Subject       string `json:"subject" binding:"required"`
	Body          string `json:"body" binding:"required"`
	RecruiterName string `json:"recruiter_name"`
	CompanyName   string `json:"company_name"`
}

// Send handles POST /api/outreach/send
func (h *OutreachHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.sender.Send(c.Request.Context(), &domain.SendRequest{
		UserID:        c.GetString("userID"),
		Recipient:     req.Recipient,
		Subject:       req.Subject,
		Body:          req.Body,
		RecruiterName: req.RecruiterName,
		CompanyName:   req.CompanyName,
	})
	if err != nil {
		respondSendError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func respondSendError(c *gin.Context, err error) {
	var (
		cooldownErr *domain.CooldownError
		limitErr    *domain.DailyLimitError
	)
	switch {
	case errors.As(err, &cooldownErr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":          err.Error(),
			"days_remaining": cooldownErr.DaysRemaining,
			"blocked_until":  cooldownErr.BlockedUntil,
		})
	case errors.As(err, &limitErr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      err.Error(),
			"limit":      limitErr.Limit,
			"sent_today": limitErr.SentToday,
		})
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, mailboxdomain.ErrNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "connect a mailbox before sending"})
	case errors.Is(err, mailboxdomain.ErrTokenRefresh):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "mailbox authorization expired, please reconnect"})
	case errors.Is(err, mailboxdomain.ErrProviderNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "mail provider is not configured"})
	case errors.Is(err, domain.ErrProvider):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send email"})
	}
}
