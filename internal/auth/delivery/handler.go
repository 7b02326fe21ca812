package delivery

import (
	"net/http"

	authdomain "outreach-backend/internal/auth/domain"
	"outreach-backend/internal/auth/repository"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	fcmRepo repository.FCMTokenRepository
}

func NewAuthHandler(fcmRepo repository.FCMTokenRepository) *AuthHandler {
	return &AuthHandler{fcmRepo: fcmRepo}
}

type registerFCMTokenRequest struct {
	Token      string `json:"token" binding:"required"`
	DeviceInfo string `json:"device_info"`
}

// Me returns the authenticated user
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := c.Get("user")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	u := user.(*authdomain.User)
	c.JSON(http.StatusOK, gin.H{
		"user":              u,
		"mailbox_connected": u.HasMailbox(),
	})
}

// RegisterFCMToken stores a device token for availability push notifications
func (h *AuthHandler) RegisterFCMToken(c *gin.Context) {
	var req registerFCMTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.fcmRepo.SaveToken(c.GetString("userID"), req.Token, req.DeviceInfo); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token registered"})
}

// UnregisterFCMToken removes a device token owned by the caller
func (h *AuthHandler) UnregisterFCMToken(c *gin.Context) {
	if err := h.fcmRepo.DeleteUserToken(c.GetString("userID"), c.Param("token")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unregister token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "token unregistered"})
}
