package delivery

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"outreach-backend/internal/tracking/domain"
	"outreach-backend/internal/tracking/usecase"
	"outreach-backend/pkg/logger"
	"outreach-backend/pkg/mailcompose"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const signatureHeader = "X-Webhook-Signature"

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingHandler struct {
	tracker        *usecase.Tracker
	publicBaseURL  string
	trackingSecret string
	webhookSecret  string
}

func NewTrackingHandler(tracker *usecase.Tracker, publicBaseURL, trackingSecret, webhookSecret string) *TrackingHandler {
	return &TrackingHandler{
		tracker:        tracker,
		publicBaseURL:  publicBaseURL,
		trackingSecret: trackingSecret,
		webhookSecret:  webhookSecret,
	}
}

// Track serves the open pixel and click redirects. Recipients' mail clients
// only ever see a GIF or a redirect, whatever happened internally. Click
// targets whose signature does not match are not followed.
func (h *TrackingHandler) Track(c *gin.Context) {
	token := c.Query("id")
	ctx := c.Request.Context()

	if c.Query("event") == "click" {
		target := c.Query("url")
		c.Header("Cache-Control", "no-store")
		if !mailcompose.VerifyTarget(h.trackingSecret, token, target, c.Query("sig")) {
			logger.Warn("rejected unsigned click target", zap.String("tracking_token", token))
			c.Redirect(http.StatusFound, h.fallbackURL())
			return
		}
		if token != "" {
			if _, err := h.tracker.RecordClick(ctx, token, target); err != nil && !usecase.IsNotFound(err) {
				logger.Warn("failed to record click", zap.String("tracking_token", token), zap.Error(err))
			}
		}
		c.Redirect(http.StatusFound, h.safeRedirect(target))
		return
	}

	if token != "" {
		if _, err := h.tracker.RecordOpen(ctx, token); err != nil && !usecase.IsNotFound(err) {
			logger.Warn("failed to record open", zap.String("tracking_token", token), zap.Error(err))
		}
	}
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	c.Header("Pragma", "no-cache")
	c.Data(http.StatusOK, "image/gif", pixelGIF)
}

func (h *TrackingHandler) safeRedirect(target string) string {
	u, err := url.Parse(target)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return u.String()
	}
	return h.fallbackURL()
}

func (h *TrackingHandler) fallbackURL() string {
	if h.publicBaseURL != "" {
		return h.publicBaseURL
	}
	return "/"
}

type webhookPayload struct {
	Type string `json:"type"`
	Data struct {
		TrackingID string `json:"tracking_id"`
		EmailID    string `json:"email_id"`
		Click      *struct {
			Link string `json:"link"`
		} `json:"click"`
	} `json:"data"`
}

// Webhook applies provider delivery events. Anything past the signature
// check is answered with 200 so senders do not retry on our failures.
func (h *TrackingHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"received": false})
		return
	}
	if h.webhookSecret != "" && !validSignature(body, c.GetHeader(signatureHeader), h.webhookSecret) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Warn("ignoring malformed tracking webhook", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
		return
	}

	eventType, err := domain.ParseWebhookEventType(payload.Type)
	if err != nil {
		logger.Debug("ignoring tracking webhook event", zap.String("type", payload.Type))
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
		return
	}

	ev := domain.Event{
		Type:              eventType,
		Token:             payload.Data.TrackingID,
		ProviderMessageID: payload.Data.EmailID,
		Source:            domain.SourceWebhook,
	}
	if payload.Data.Click != nil {
		ev.URL = payload.Data.Click.Link
	}

	rec, err := h.tracker.Apply(c.Request.Context(), ev)
	if err != nil {
		if !errors.Is(err, domain.ErrRecordNotFound) {
			logger.Error("failed to apply tracking webhook",
				zap.String("type", payload.Type),
				zap.String("tracking_id", ev.Token),
				zap.String("email_id", ev.ProviderMessageID),
				zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"received": true, "applied": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "applied": true, "status": rec.Status})
}

func validSignature(body []byte, header, secret string) bool {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Stats returns tracking counts and rates for the caller
func (h *TrackingHandler) Stats(c *gin.Context) {
	stats, err := h.tracker.Stats(c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *TrackingHandler) GetRecord(c *gin.Context) {
	rec, err := h.tracker.Get(c.GetString("userID"), c.Param("token"))
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tracking record not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
