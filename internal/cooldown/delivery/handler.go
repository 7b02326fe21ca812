package delivery

import (
	"net/http"
	"time"

	"outreach-backend/internal/cooldown/domain"
	"outreach-backend/internal/cooldown/usecase"
	"outreach-backend/pkg/mailaddr"

	"github.com/gin-gonic/gin"
)

type CooldownHandler struct {
	ledger *usecase.Ledger
}

func NewCooldownHandler(ledger *usecase.Ledger) *CooldownHandler {
	return &CooldownHandler{ledger: ledger}
}

type cooldownResponse struct {
	RecruiterEmail string    `json:"recruiter_email"`
	BlockedUntil   time.Time `json:"blocked_until"`
	DaysRemaining  int       `json:"days_remaining"`
	EmailCount     int       `json:"email_count"`
}

// ListActive returns the caller's active cooldowns
func (h *CooldownHandler) ListActive(c *gin.Context) {
	cooldowns, err := h.ledger.ListActive(c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load cooldowns"})
		return
	}

	now := time.Now()
	out := make([]cooldownResponse, 0, len(cooldowns))
	for _, cd := range cooldowns {
		out = append(out, cooldownResponse{
			RecruiterEmail: cd.RecruiterEmail,
			BlockedUntil:   cd.BlockedUntil,
			DaysRemaining:  domain.DaysRemaining(cd.BlockedUntil, now),
			EmailCount:     cd.EmailCount,
		})
	}
	c.JSON(http.StatusOK, gin.H{"cooldowns": out})
}

// Check pre-checks a recipient before composing
func (h *CooldownHandler) Check(c *gin.Context) {
	recipient, _, err := mailaddr.Parse(c.Query("recipient"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipient must be a valid email address"})
		return
	}

	decision, err := h.ledger.Check(c.GetString("userID"), recipient)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to check cooldown"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recipient": recipient,
		"decision":  decision,
	})
}
