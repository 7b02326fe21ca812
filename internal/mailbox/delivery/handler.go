package delivery

import (
	"errors"
	"net/http"

	mailboxdomain "outreach-backend/internal/mailbox/domain"
	"outreach-backend/internal/mailbox/usecase"

	"github.com/gin-gonic/gin"
)

type MailboxHandler struct {
	accounts *usecase.AccountService
}

func NewMailboxHandler(accounts *usecase.AccountService) *MailboxHandler {
	return &MailboxHandler{accounts: accounts}
}

// WatchMailbox starts Gmail push notifications for the caller's inbox
func (h *MailboxHandler) WatchMailbox(c *gin.Context) {
	historyID, err := h.accounts.Watch(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		switch {
		case errors.Is(err, mailboxdomain.ErrNotConnected):
			c.JSON(http.StatusConflict, gin.H{"error": "no mailbox connected"})
		case errors.Is(err, mailboxdomain.ErrUnsupportedProvider):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, mailboxdomain.ErrTokenRefresh):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "mailbox authorization expired, please reconnect"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "watching inbox", "history_id": historyID})
}

// Status reports whether the caller has a connected mailbox
func (h *MailboxHandler) Status(c *gin.Context) {
	account, err := h.accounts.AccountForUser(c.GetString("userID"))
	if err != nil {
		if errors.Is(err, mailboxdomain.ErrNotConnected) {
			c.JSON(http.StatusOK, gin.H{"connected": false})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"connected": true, "email": account.Email, "provider": account.Provider})
}
